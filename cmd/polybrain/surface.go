package main

import (
	"context"
	"fmt"
	"sync"

	"polybrain/internal/widget"
)

// printingSurface is the simulate command's widget surface: it records like
// the in-memory surface and echoes element-level changes.
type printingSurface struct {
	widget.RecordingSurface
	mu sync.Mutex
	n  int
}

func newPrintingSurface() *printingSurface { return &printingSurface{} }

func (p *printingSurface) inc() {
	p.mu.Lock()
	p.n++
	p.mu.Unlock()
}

func (p *printingSurface) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.n
}

func (p *printingSurface) Create(ctx context.Context, className, iconURL string) error {
	p.inc()
	fmt.Printf("  widget   create .%s icon=%s\n", className, iconURL)
	return p.RecordingSurface.Create(ctx, className, iconURL)
}

func (p *printingSurface) Remove(ctx context.Context) error {
	p.inc()
	fmt.Println("  widget   remove")
	return p.RecordingSurface.Remove(ctx)
}

func (p *printingSurface) SetDisabled(ctx context.Context, disabled bool) error {
	p.inc()
	fmt.Printf("  widget   disabled=%t\n", disabled)
	return p.RecordingSurface.SetDisabled(ctx, disabled)
}

func (p *printingSurface) SetScale(ctx context.Context, scale float64) error {
	p.inc()
	return p.RecordingSurface.SetScale(ctx, scale)
}

func (p *printingSurface) SetIcon(ctx context.Context, iconURL string, scale float64) error {
	p.inc()
	return p.RecordingSurface.SetIcon(ctx, iconURL, scale)
}
