package journal

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"polybrain/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "journal.db"),
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_RecordAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Record(ctx, domain.Activation{
		ID: "a1", DocumentID: "doc1", SessionID: "s1",
		StartedAt: base, EndedAt: base.Add(10 * time.Second),
		Outcome: domain.OutcomeCompleted, Messages: 6, Transitions: 6,
	}))
	require.NoError(t, s.Record(ctx, domain.Activation{
		ID: "a2", DocumentID: "doc2",
		StartedAt: base.Add(time.Minute), EndedAt: base.Add(time.Minute + time.Second),
		Outcome: domain.OutcomeCreationFailed, Detail: "HTTP 500",
	}))

	all, err := s.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a2", all[0].ID, "newest first")
	assert.Equal(t, domain.OutcomeCreationFailed, all[0].Outcome)
	assert.Equal(t, "HTTP 500", all[0].Detail)
	assert.Equal(t, "", all[0].SessionID)

	assert.Equal(t, "s1", all[1].SessionID)
	assert.Equal(t, 6, all[1].Transitions)
	assert.Equal(t, 10*time.Second, all[1].Duration())

	byDoc, err := s.ListByDocument(ctx, "doc1", 0)
	require.NoError(t, err)
	require.Len(t, byDoc, 1)
	assert.Equal(t, "a1", byDoc[0].ID)
}

func TestSQLiteStore_RecordIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := domain.Activation{ID: "a1", DocumentID: "d", StartedAt: time.Now(), Outcome: domain.OutcomeCompleted}

	require.NoError(t, s.Record(ctx, a))
	a.Outcome = domain.OutcomeChannelError
	require.NoError(t, s.Record(ctx, a))

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, domain.OutcomeCompleted, all[0].Outcome)
}

func TestSQLiteStore_RejectsMissingID(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.Record(context.Background(), domain.Activation{DocumentID: "d"}))
}

func TestSQLiteStore_Prune(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Record(ctx, domain.Activation{ID: "old", DocumentID: "d", StartedAt: now.Add(-48 * time.Hour), Outcome: domain.OutcomeCompleted}))
	require.NoError(t, s.Record(ctx, domain.Activation{ID: "new", DocumentID: "d", StartedAt: now, Outcome: domain.OutcomeCompleted}))

	n, err := s.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "new", all[0].ID)
}
