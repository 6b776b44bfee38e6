// Package icon animates the widget icon between its logical states.
//
// Every change runs the same protocol: shrink the icon to zero, wait for the
// settle delay, then swap the asset and grow it to the target scale.
// Requests are queued and run strictly one after another.
package icon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"polybrain/internal/domain"
)

// DefaultSettleDelay is the pause between shrinking and swapping the icon.
const DefaultSettleDelay = 300 * time.Millisecond

// DefaultRenderTimeout bounds a single renderer call.
const DefaultRenderTimeout = 2 * time.Second

// ErrInvalidState is returned for a target that is not an IconState.
var ErrInvalidState = errors.New("invalid icon state")

// Renderer applies icon changes to the page.
type Renderer interface {
	SetScale(ctx context.Context, scale float64) error
	SetIcon(ctx context.Context, iconURL string, scale float64) error
}

// Config configures a Machine.
type Config struct {
	Renderer      Renderer
	Assets        Assets
	SettleDelay   time.Duration
	RenderTimeout time.Duration
	// OnIdle runs whenever the machine enters IDLE, including on Reset.
	// It is never called with the machine's lock held.
	OnIdle func()
	// OnTransition runs after each completed swap.
	OnTransition func(from, to domain.IconState)
	Logger       *slog.Logger
}

// Machine is the serialized icon state machine. Only the Run goroutine talks
// to the renderer, so a slow render never blocks Request, Reset or State.
type Machine struct {
	renderer      Renderer
	assets        Assets
	settle        time.Duration
	renderTimeout time.Duration
	onIdle        func()
	onTransition  func(from, to domain.IconState)
	logger        *slog.Logger

	wake chan struct{}

	mu         sync.Mutex
	state      domain.IconState
	queue      []domain.IconState
	gen        uint64 // bumped by Reset; stale jobs compare against it
	repaint    bool   // Reset happened and the IDLE asset is not drawn yet
	busy       bool
	cancelWait context.CancelFunc // cancels the job in flight
}

type job struct {
	ctx     context.Context
	gen     uint64
	target  domain.IconState
	repaint bool
}

func New(cfg Config) *Machine {
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.RenderTimeout <= 0 {
		cfg.RenderTimeout = DefaultRenderTimeout
	}
	if cfg.Assets == nil {
		cfg.Assets = DefaultAssets("")
	}
	if cfg.OnIdle == nil {
		cfg.OnIdle = func() {}
	}
	if cfg.OnTransition == nil {
		cfg.OnTransition = func(domain.IconState, domain.IconState) {}
	}
	return &Machine{
		renderer:      cfg.Renderer,
		assets:        cfg.Assets,
		settle:        cfg.SettleDelay,
		renderTimeout: cfg.RenderTimeout,
		onIdle:        cfg.OnIdle,
		onTransition:  cfg.OnTransition,
		logger:        cfg.Logger,
		wake:          make(chan struct{}, 1),
		state:         domain.IconIdle,
	}
}

// Request queues a transition to target and returns immediately.
func (m *Machine) Request(target domain.IconState) error {
	if !target.Valid() {
		m.logger.Error("rejected icon transition", "target", string(target), "err", ErrInvalidState)
		return fmt.Errorf("%w: %q", ErrInvalidState, target)
	}

	m.mu.Lock()
	m.queue = append(m.queue, target)
	m.mu.Unlock()

	m.signal()
	return nil
}

// Reset drops every queued request, cancels the job in flight and puts the
// icon back to IDLE at once. The IDLE asset is drawn by the worker after the
// cancelled job has returned. Used when a session ends.
func (m *Machine) Reset() {
	m.mu.Lock()
	m.gen++
	dropped := len(m.queue)
	m.queue = nil
	if m.cancelWait != nil {
		m.cancelWait()
		m.cancelWait = nil
	}
	from := m.state
	m.state = domain.IconIdle
	m.repaint = true
	m.mu.Unlock()

	m.signal()
	m.logger.Debug("icon reset", "from", string(from), "dropped", dropped)
	m.onIdle()
}

// State returns the current icon state.
func (m *Machine) State() domain.IconState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Pending returns the number of queued requests, including the one in flight.
func (m *Machine) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.queue)
	if m.busy {
		n++
	}
	return n
}

// Run processes queued transitions until ctx is done.
func (m *Machine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.wake:
		}
		for {
			j, ok := m.next(ctx)
			if !ok {
				break
			}
			if j.repaint {
				m.drawIdle(j)
			} else {
				m.transition(j)
			}
		}
	}
}

func (m *Machine) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// next pops the following job. A pending repaint goes first.
func (m *Machine) next(ctx context.Context) (job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancelWait != nil {
		m.cancelWait()
		m.cancelWait = nil
	}
	j := job{gen: m.gen}
	switch {
	case m.repaint:
		m.repaint = false
		j.repaint = true
	case len(m.queue) > 0:
		j.target = m.queue[0]
		m.queue = m.queue[1:]
	default:
		m.busy = false
		return job{}, false
	}
	m.busy = true
	j.ctx, m.cancelWait = context.WithCancel(ctx)
	return j, true
}

func (m *Machine) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen
}

func (m *Machine) render(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, m.renderTimeout)
	defer cancel()
	return fn(ctx)
}

func (m *Machine) drawIdle(j job) {
	if !m.current(j.gen) {
		return
	}
	err := m.render(j.ctx, func(ctx context.Context) error {
		return m.renderer.SetIcon(ctx, m.assets.URL(domain.IconIdle), domain.IconIdle.Scale())
	})
	if err != nil {
		m.logger.Warn("reset icon failed", "err", err)
	}
}

func (m *Machine) transition(j job) {
	m.mu.Lock()
	if j.gen != m.gen {
		m.mu.Unlock()
		return
	}
	from := m.state
	m.mu.Unlock()

	if j.target == from {
		m.logger.Debug("icon already in state", "state", string(from))
		if from == domain.IconIdle {
			m.onIdle()
		}
		return
	}

	err := m.render(j.ctx, func(ctx context.Context) error {
		return m.renderer.SetScale(ctx, 0)
	})
	if err != nil {
		m.logger.Warn("shrink icon failed", "err", err)
	}

	timer := time.NewTimer(m.settle)
	defer timer.Stop()
	select {
	case <-j.ctx.Done():
		return
	case <-timer.C:
	}

	if !m.current(j.gen) {
		return
	}
	err = m.render(j.ctx, func(ctx context.Context) error {
		return m.renderer.SetIcon(ctx, m.assets.URL(j.target), j.target.Scale())
	})
	if err != nil {
		m.logger.Warn("swap icon failed", "target", string(j.target), "err", err)
	}

	m.mu.Lock()
	if j.gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.state = j.target
	m.mu.Unlock()

	if j.target == domain.IconIdle {
		m.onIdle()
	}
	m.logger.Debug("icon transition", "from", string(from), "to", string(j.target))
	m.onTransition(from, j.target)
}
