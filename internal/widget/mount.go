// Package widget owns the lifetime of the single widget element on the page.
package widget

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"polybrain/internal/domain"
)

// DefaultClassName is the stable class the host page can style.
const DefaultClassName = "polybrain-assistant"

// Config configures a Mount.
type Config struct {
	Surface   domain.WidgetSurface
	ClassName string
	IdleIcon  string // icon URL shown when the widget is created
	Logger    *slog.Logger
}

// Mount creates and destroys the widget element. At most one element exists
// at a time. Surface calls are serialized so the icon machine and the
// controller can share it; state reads never wait behind a surface call.
type Mount struct {
	surface   domain.WidgetSurface
	className string
	idleIcon  string
	logger    *slog.Logger

	io chan struct{} // one slot, held across a surface call

	mu          sync.Mutex
	mounted     bool
	interactive bool
}

func New(cfg Config) *Mount {
	if cfg.ClassName == "" {
		cfg.ClassName = DefaultClassName
	}
	return &Mount{
		surface:   cfg.Surface,
		className: cfg.ClassName,
		idleIcon:  cfg.IdleIcon,
		logger:    cfg.Logger,
		io:        make(chan struct{}, 1),
	}
}

func (m *Mount) acquire(ctx context.Context) error {
	select {
	case m.io <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("widget busy: %w", ctx.Err())
	}
}

func (m *Mount) release() { <-m.io }

func (m *Mount) flags() (mounted, interactive bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mounted, m.interactive
}

func (m *Mount) setFlags(mounted, interactive bool) {
	m.mu.Lock()
	m.mounted, m.interactive = mounted, interactive
	m.mu.Unlock()
}

// Mount creates the element with its icon child. Mounting twice is a no-op.
func (m *Mount) Mount(ctx context.Context) error {
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()

	if mounted, _ := m.flags(); mounted {
		return nil
	}
	if err := m.surface.Create(ctx, m.className, m.idleIcon); err != nil {
		return fmt.Errorf("create widget: %w", err)
	}
	m.setFlags(true, true)
	m.logger.Info("widget mounted", "class", m.className)
	return nil
}

// Unmount removes the element and its listeners. Unmounting twice is a no-op.
// When the removal fails the widget still counts as mounted, so a later
// Unmount retries it.
func (m *Mount) Unmount(ctx context.Context) error {
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()

	mounted, interactive := m.flags()
	if !mounted {
		return nil
	}
	// Stop accepting clicks while the element is on its way out.
	m.setFlags(true, false)
	if err := m.surface.Remove(ctx); err != nil {
		m.setFlags(true, interactive)
		m.logger.Warn("widget element left on page", "err", err)
		return fmt.Errorf("remove widget: %w", err)
	}
	m.setFlags(false, false)
	m.logger.Info("widget unmounted")
	return nil
}

// SetInteractive enables or disables clicks without hiding the widget.
func (m *Mount) SetInteractive(ctx context.Context, on bool) error {
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()

	mounted, interactive := m.flags()
	if !mounted || interactive == on {
		return nil
	}
	if err := m.surface.SetDisabled(ctx, !on); err != nil {
		return fmt.Errorf("set interactive=%v: %w", on, err)
	}
	m.setFlags(true, on)
	return nil
}

// SetScale resizes the icon. It is a no-op while unmounted.
func (m *Mount) SetScale(ctx context.Context, scale float64) error {
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()

	if !m.Mounted() {
		return nil
	}
	return m.surface.SetScale(ctx, scale)
}

// SetIcon swaps the icon asset and sets its scale. It is a no-op while unmounted.
func (m *Mount) SetIcon(ctx context.Context, iconURL string, scale float64) error {
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()

	if !m.Mounted() {
		return nil
	}
	return m.surface.SetIcon(ctx, iconURL, scale)
}

// AcceptsClicks reports whether a click should start an activation.
func (m *Mount) AcceptsClicks() bool {
	mounted, interactive := m.flags()
	return mounted && interactive
}

func (m *Mount) Mounted() bool {
	mounted, _ := m.flags()
	return mounted
}

func (m *Mount) Interactive() bool {
	_, interactive := m.flags()
	return interactive
}
