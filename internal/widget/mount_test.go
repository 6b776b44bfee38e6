package widget

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMount() (*Mount, *RecordingSurface) {
	s := &RecordingSurface{}
	m := New(Config{
		Surface:  s,
		IdleIcon: "logo.png",
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return m, s
}

func TestMount_Idempotent(t *testing.T) {
	m, s := newTestMount()
	ctx := context.Background()

	require.NoError(t, m.Mount(ctx))
	require.NoError(t, m.Mount(ctx))
	require.NoError(t, m.Mount(ctx))

	creates := 0
	for _, op := range s.Ops() {
		if op.Name == "create" {
			creates++
		}
	}
	assert.Equal(t, 1, creates)
	assert.True(t, m.Mounted())
	assert.True(t, m.AcceptsClicks())

	exists, disabled, icon, scale := s.Snapshot()
	assert.True(t, exists)
	assert.False(t, disabled)
	assert.Equal(t, "logo.png", icon)
	assert.Equal(t, 1.0, scale)
}

func TestMount_UnmountReleases(t *testing.T) {
	m, s := newTestMount()
	ctx := context.Background()

	require.NoError(t, m.Unmount(ctx)) // not mounted yet
	assert.Empty(t, s.Ops())

	require.NoError(t, m.Mount(ctx))
	require.NoError(t, m.Unmount(ctx))
	require.NoError(t, m.Unmount(ctx))

	exists, _, _, _ := s.Snapshot()
	assert.False(t, exists)
	assert.False(t, m.AcceptsClicks())
	assert.Len(t, s.Ops(), 2)
}

func TestMount_SetInteractive(t *testing.T) {
	m, s := newTestMount()
	ctx := context.Background()
	require.NoError(t, m.Mount(ctx))

	require.NoError(t, m.SetInteractive(ctx, false))
	_, disabled, _, _ := s.Snapshot()
	assert.True(t, disabled, "widget stays visible but disabled")
	assert.True(t, m.Mounted())
	assert.False(t, m.AcceptsClicks())

	require.NoError(t, m.SetInteractive(ctx, true))
	_, disabled, _, _ = s.Snapshot()
	assert.False(t, disabled)
	assert.True(t, m.AcceptsClicks())
}

func TestMount_IconCallsIgnoredWhileUnmounted(t *testing.T) {
	m, s := newTestMount()
	ctx := context.Background()

	require.NoError(t, m.SetScale(ctx, 0))
	require.NoError(t, m.SetIcon(ctx, "mic.svg", 0.5))
	require.NoError(t, m.SetInteractive(ctx, false))
	assert.Empty(t, s.Ops())
}

func TestMount_CreateFailureLeavesUnmounted(t *testing.T) {
	m, s := newTestMount()
	s.FailWith(errors.New("no body element"))

	err := m.Mount(context.Background())
	require.Error(t, err)
	assert.False(t, m.Mounted())

	s.FailWith(nil)
	require.NoError(t, m.Mount(context.Background()))
	assert.True(t, m.Mounted())
}

func TestMount_FailedRemoveStaysMounted(t *testing.T) {
	m, s := newTestMount()
	ctx := context.Background()
	require.NoError(t, m.Mount(ctx))

	s.FailWith(errors.New("target closed"))
	require.Error(t, m.Unmount(ctx))
	assert.True(t, m.Mounted(), "element is still on the page")
	assert.True(t, m.AcceptsClicks())

	s.FailWith(nil)
	require.NoError(t, m.Unmount(ctx))
	assert.False(t, m.Mounted())
	exists, _, _, _ := s.Snapshot()
	assert.False(t, exists)
}

// blockingSurface holds SetScale until released.
type blockingSurface struct {
	RecordingSurface
	entered chan struct{}
	release chan struct{}
}

func (s *blockingSurface) SetScale(ctx context.Context, scale float64) error {
	close(s.entered)
	<-s.release
	return s.RecordingSurface.SetScale(ctx, scale)
}

func TestMount_ReadsDoNotWaitForSurface(t *testing.T) {
	s := &blockingSurface{entered: make(chan struct{}), release: make(chan struct{})}
	m := New(Config{
		Surface: s,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, m.Mount(context.Background()))

	go func() { _ = m.SetScale(context.Background(), 0) }()
	<-s.entered

	done := make(chan bool)
	go func() { done <- m.AcceptsClicks() && m.Mounted() && m.Interactive() }()
	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("state reads blocked behind a surface call")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := m.SetInteractive(ctx, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(s.release)
	require.NoError(t, m.SetInteractive(context.Background(), false))
	assert.False(t, m.AcceptsClicks())
}
