package icon

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"polybrain/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const settle = 20 * time.Millisecond

type renderOp struct {
	kind  string // "scale" | "icon"
	icon  string
	scale float64
	at    time.Time
}

type fakeRenderer struct {
	mu  sync.Mutex
	ops []renderOp
}

func (r *fakeRenderer) SetScale(_ context.Context, scale float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, renderOp{kind: "scale", scale: scale, at: time.Now()})
	return nil
}

func (r *fakeRenderer) SetIcon(_ context.Context, icon string, scale float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, renderOp{kind: "icon", icon: icon, scale: scale, at: time.Now()})
	return nil
}

func (r *fakeRenderer) snapshot() []renderOp {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]renderOp(nil), r.ops...)
}

type harness struct {
	m       *Machine
	r       *fakeRenderer
	idles   atomic.Int32
	mu      sync.Mutex
	history []domain.IconState
	cancel  context.CancelFunc
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{r: &fakeRenderer{}}
	h.m = New(Config{
		Renderer:    h.r,
		Assets:      DefaultAssets("/img"),
		SettleDelay: settle,
		OnIdle:      func() { h.idles.Add(1) },
		OnTransition: func(_, to domain.IconState) {
			h.mu.Lock()
			h.history = append(h.history, to)
			h.mu.Unlock()
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go h.m.Run(ctx)
	t.Cleanup(cancel)
	return h
}

func (h *harness) transitions() []domain.IconState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.IconState(nil), h.history...)
}

func TestMachine_SingleTransition(t *testing.T) {
	h := newHarness(t)
	start := time.Now()

	require.NoError(t, h.m.Request(domain.IconListening))
	require.Eventually(t, func() bool { return h.m.State() == domain.IconListening }, time.Second, time.Millisecond)

	ops := h.r.snapshot()
	require.Len(t, ops, 2)
	assert.Equal(t, renderOp{kind: "scale", scale: 0}, renderOp{kind: ops[0].kind, scale: ops[0].scale})
	assert.Equal(t, "icon", ops[1].kind)
	assert.Equal(t, "/img/mic-fill.svg", ops[1].icon)
	assert.Equal(t, 0.5, ops[1].scale)
	assert.GreaterOrEqual(t, ops[1].at.Sub(start), settle)
	assert.Equal(t, int32(0), h.idles.Load())
}

func TestMachine_TargetScales(t *testing.T) {
	assert.Equal(t, 1.0, domain.IconIdle.Scale())
	assert.Equal(t, 1.0, domain.IconLoading.Scale())
	assert.Equal(t, 0.5, domain.IconListening.Scale())
	assert.Equal(t, 0.5, domain.IconSpeaking.Scale())
}

func TestMachine_TransitionsAreSerialized(t *testing.T) {
	h := newHarness(t)

	seq := []domain.IconState{
		domain.IconListening, domain.IconIdle, domain.IconLoading,
		domain.IconIdle, domain.IconSpeaking, domain.IconIdle,
	}
	for _, s := range seq {
		require.NoError(t, h.m.Request(s))
	}

	require.Eventually(t, func() bool { return len(h.transitions()) == len(seq) }, 2*time.Second, time.Millisecond)
	assert.Equal(t, seq, h.transitions())
	assert.Equal(t, domain.IconIdle, h.m.State())
	assert.Equal(t, 0, h.m.Pending())

	ops := h.r.snapshot()
	require.Len(t, ops, 2*len(seq))
	for i := 0; i < len(ops); i += 2 {
		shrink, swap := ops[i], ops[i+1]
		assert.Equal(t, "scale", shrink.kind, "op %d", i)
		assert.Equal(t, 0.0, shrink.scale)
		assert.Equal(t, "icon", swap.kind, "op %d", i+1)
		assert.GreaterOrEqual(t, swap.at.Sub(shrink.at), settle, "swap must wait for the settle delay")
		if i+2 < len(ops) {
			assert.False(t, ops[i+2].at.Before(swap.at), "next shrink must not start before the swap")
		}
	}
	assert.Equal(t, int32(3), h.idles.Load())
}

func TestMachine_InvalidStateRejected(t *testing.T) {
	h := newHarness(t)

	err := h.m.Request(domain.IconState("BLINKING"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidState))

	time.Sleep(3 * settle)
	assert.Equal(t, domain.IconIdle, h.m.State())
	assert.Empty(t, h.r.snapshot())
	assert.Equal(t, 0, h.m.Pending())
}

func TestMachine_RedundantRequestIsSkipped(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.m.Request(domain.IconLoading))
	require.Eventually(t, func() bool { return h.m.State() == domain.IconLoading }, time.Second, time.Millisecond)
	require.NoError(t, h.m.Request(domain.IconLoading))
	time.Sleep(3 * settle)
	assert.Len(t, h.r.snapshot(), 2)
	assert.Equal(t, []domain.IconState{domain.IconLoading}, h.transitions())
}

func TestMachine_RedundantIdleStillRunsIdleHook(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.m.Request(domain.IconIdle))
	require.Eventually(t, func() bool { return h.idles.Load() == 1 }, time.Second, time.Millisecond)
	assert.Empty(t, h.r.snapshot(), "no animation for a state already shown")
	assert.Empty(t, h.transitions())
}

func TestMachine_ResetDropsQueueAndStaleTimer(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.m.Request(domain.IconListening))
	require.NoError(t, h.m.Request(domain.IconSpeaking))
	require.NoError(t, h.m.Request(domain.IconLoading))

	// Let the first shrink start, then reset during its settle wait.
	require.Eventually(t, func() bool { return len(h.r.snapshot()) >= 1 }, time.Second, time.Millisecond)
	h.m.Reset()

	assert.Equal(t, domain.IconIdle, h.m.State())
	assert.Equal(t, int32(1), h.idles.Load())

	time.Sleep(5 * settle)
	assert.Equal(t, domain.IconIdle, h.m.State(), "stale timer must not move the icon")
	assert.Empty(t, h.transitions())

	ops := h.r.snapshot()
	require.Len(t, ops, 2)
	assert.Equal(t, "scale", ops[0].kind)
	assert.Equal(t, "icon", ops[1].kind)
	assert.Equal(t, "/img/logo-nobackground.png", ops[1].icon)
	assert.Equal(t, 1.0, ops[1].scale)
}

func TestMachine_UsableAfterReset(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.m.Request(domain.IconSpeaking))
	h.m.Reset()

	require.NoError(t, h.m.Request(domain.IconLoading))
	require.Eventually(t, func() bool { return h.m.State() == domain.IconLoading }, time.Second, time.Millisecond)
	assert.Equal(t, []domain.IconState{domain.IconLoading}, h.transitions())
}

// stuckRenderer blocks in SetScale until released, ignoring its context.
type stuckRenderer struct {
	fakeRenderer
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (r *stuckRenderer) SetScale(ctx context.Context, scale float64) error {
	r.once.Do(func() { close(r.entered) })
	<-r.release
	return r.fakeRenderer.SetScale(ctx, scale)
}

func returnsWithin(t *testing.T, name string, d time.Duration, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatalf("%s did not return while the renderer was stuck", name)
	}
}

func TestMachine_StuckRendererDoesNotBlockCallers(t *testing.T) {
	r := &stuckRenderer{entered: make(chan struct{}), release: make(chan struct{})}
	var idles atomic.Int32
	m := New(Config{
		Renderer:    r,
		Assets:      DefaultAssets("/img"),
		SettleDelay: settle,
		OnIdle:      func() { idles.Add(1) },
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	require.NoError(t, m.Request(domain.IconListening))
	select {
	case <-r.entered:
	case <-time.After(time.Second):
		t.Fatal("renderer never called")
	}

	returnsWithin(t, "Request", time.Second, func() { _ = m.Request(domain.IconSpeaking) })
	returnsWithin(t, "State", time.Second, func() { _ = m.State() })
	returnsWithin(t, "Reset", time.Second, m.Reset)
	assert.Equal(t, domain.IconIdle, m.State())
	assert.Equal(t, int32(1), idles.Load())

	close(r.release)
	require.Eventually(t, func() bool {
		ops := r.snapshot()
		return len(ops) == 2 && ops[1].icon == "/img/logo-nobackground.png"
	}, time.Second, time.Millisecond)
	assert.Equal(t, domain.IconIdle, m.State(), "the stuck transition must not land after the reset")
}

// slowRenderer honours its context and never finishes on its own.
type slowRenderer struct{ fakeRenderer }

func (r *slowRenderer) SetScale(ctx context.Context, _ float64) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestMachine_RenderTimeoutBoundsEachCall(t *testing.T) {
	r := &slowRenderer{}
	m := New(Config{
		Renderer:      r,
		Assets:        DefaultAssets("/img"),
		SettleDelay:   settle,
		RenderTimeout: 30 * time.Millisecond,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	require.NoError(t, m.Request(domain.IconLoading))
	require.Eventually(t, func() bool { return m.State() == domain.IconLoading }, time.Second, time.Millisecond)
	ops := r.snapshot()
	require.Len(t, ops, 1)
	assert.Equal(t, "/img/loading.svg", ops[0].icon)
}

func TestAssets_URL(t *testing.T) {
	a := DefaultAssets("chrome-extension://abc/images")
	assert.Equal(t, "chrome-extension://abc/images/mic-fill.svg", a.URL(domain.IconListening))
	assert.Equal(t, "chrome-extension://abc/images/logo-nobackground.png", a.URL(domain.IconState("?")))
	assert.Equal(t, "loading.svg", DefaultAssets("").URL(domain.IconLoading))
}
