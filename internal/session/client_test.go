package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"polybrain/internal/domain"
	"polybrain/internal/mockserver"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const doc = "0123456789abcdef01234567"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMock(t *testing.T, script []mockserver.Step, hold bool) (*mockserver.Server, *httptest.Server) {
	t.Helper()
	srv := mockserver.New(mockserver.Config{
		Script: script,
		Hold:   hold,
		NewID:  func() string { return "s1" },
		Logger: testLogger(),
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func newTestClient(t *testing.T, apiBase string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		APIBase:      apiBase,
		Timeout:      2 * time.Second,
		Retries:      1,
		RetryBackoff: 10 * time.Millisecond,
		EndOnClose:   true,
		Logger:       testLogger(),
	})
	require.NoError(t, err)
	return c
}

type recorder struct {
	mu     sync.Mutex
	frames []string
	closes []CloseEvent
}

func (r *recorder) handler() Handler {
	return Handler{
		OnMessage: func(data []byte) {
			r.mu.Lock()
			r.frames = append(r.frames, string(data))
			r.mu.Unlock()
		},
		OnClose: func(ev CloseEvent) {
			r.mu.Lock()
			r.closes = append(r.closes, ev)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) snapshot() ([]string, []CloseEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.frames...), append([]CloseEvent(nil), r.closes...)
}

func TestNewClient_DerivesWSBase(t *testing.T) {
	c, err := NewClient(Config{APIBase: "https://api.example.com:8443/", Logger: testLogger()})
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com:8443", c.APIBase())
	assert.Equal(t, "wss://api.example.com:8443", c.WSBase())

	_, err = NewClient(Config{APIBase: "ftp://x", Logger: testLogger()})
	assert.Error(t, err)
	_, err = NewClient(Config{APIBase: "http://x", WSBase: "http://y", Logger: testLogger()})
	assert.Error(t, err)
}

func TestCreateSession_SendsBeginAndDeliversFrames(t *testing.T) {
	script := []mockserver.Step{
		{Message: domain.StatusMessage(domain.MessageMicrophone, true)},
		{Message: domain.StatusMessage(domain.MessageMicrophone, false)},
	}
	srv, ts := newMock(t, script, false)
	c := newTestClient(t, ts.URL)
	rec := &recorder{}

	sess, err := c.CreateSession(context.Background(), doc, rec.handler())
	require.NoError(t, err)
	assert.Equal(t, "s1", sess.ID)
	assert.Equal(t, doc, sess.DocumentID)

	select {
	case <-sess.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("channel did not close after script")
	}

	frames, closes := rec.snapshot()
	require.Len(t, frames, 2)
	assert.JSONEq(t, `{"messageType":"MICROPHONE","body":{"STATUS":"ON"}}`, frames[0])
	assert.JSONEq(t, `{"messageType":"MICROPHONE","body":{"STATUS":"OFF"}}`, frames[1])

	require.Len(t, closes, 1)
	assert.False(t, closes[0].Abnormal)
	assert.False(t, closes[0].Local)
	assert.Equal(t, Closed, sess.State())

	assert.Equal(t, []domain.InboundMessage{domain.BeginMessage()}, srv.Received("s1"), "BEGIN is sent exactly once")
}

func TestCreateSession_HTTPError(t *testing.T) {
	srv, ts := newMock(t, []mockserver.Step{}, false)
	srv.FailCreate(http.StatusBadRequest, false)
	c := newTestClient(t, ts.URL)

	sess, err := c.CreateSession(context.Background(), doc, Handler{})
	require.Error(t, err)
	assert.Nil(t, sess)
	assert.True(t, errors.Is(err, ErrSessionCreate))
}

func TestCreateSession_MissingSessionID(t *testing.T) {
	srv, ts := newMock(t, []mockserver.Step{}, false)
	srv.FailCreate(0, true)
	c := newTestClient(t, ts.URL)

	_, err := c.CreateSession(context.Background(), doc, Handler{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSessionCreate))
	assert.Nil(t, srv.Received("s1"), "no channel may be opened")
}

func TestCreateSession_MalformedBody(t *testing.T) {
	var wsHits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/session/create/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"session_id": 42}`))
	})
	mux.HandleFunc("/ws/", func(w http.ResponseWriter, r *http.Request) { wsHits.Add(1) })
	ts := httptest.NewServer(mux)
	defer ts.Close()

	_, err := newTestClient(t, ts.URL).CreateSession(context.Background(), doc, Handler{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSessionCreate))
	assert.Equal(t, int32(0), wsHits.Load())
}

func TestCreateSession_RetriesOnceOnServerError(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	_, err := newTestClient(t, ts.URL).CreateSession(context.Background(), doc, Handler{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSessionCreate))
	assert.Equal(t, int32(2), hits.Load(), "one attempt plus one retry")
}

func TestCreateSession_Timeout(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	c, err := NewClient(Config{APIBase: ts.URL, Timeout: 50 * time.Millisecond, Logger: testLogger()})
	require.NoError(t, err)

	start := time.Now()
	_, err = c.CreateSession(context.Background(), doc, Handler{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSessionCreate))
	assert.Less(t, time.Since(start), time.Second)
}

func TestOpen_RefusesEmptySessionID(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1")
	_, err := c.open(context.Background(), doc, "", Handler{})
	assert.ErrorIs(t, err, ErrEmptySessionID)
}

func TestSession_LocalCloseIsIdempotent(t *testing.T) {
	srv, ts := newMock(t, []mockserver.Step{}, true)
	c := newTestClient(t, ts.URL)
	rec := &recorder{}

	sess, err := c.CreateSession(context.Background(), doc, rec.handler())
	require.NoError(t, err)
	assert.Equal(t, Open, sess.State())

	require.NoError(t, sess.Close())
	assert.NoError(t, sess.Close())

	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not exit")
	}
	_, closes := rec.snapshot()
	require.Len(t, closes, 1)
	assert.True(t, closes[0].Local)
	assert.False(t, closes[0].Abnormal)

	require.Eventually(t, func() bool { return len(srv.Ended()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "s1", srv.Ended()[0])
	assert.Error(t, sess.Send(domain.BeginMessage()))
}

func TestSession_AbruptDropIsAbnormal(t *testing.T) {
	srv, ts := newMock(t, []mockserver.Step{}, true)
	c := newTestClient(t, ts.URL)
	rec := &recorder{}

	sess, err := c.CreateSession(context.Background(), doc, rec.handler())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(srv.Received("s1")) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.True(t, srv.Drop("s1"))

	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not exit")
	}
	_, closes := rec.snapshot()
	require.Len(t, closes, 1)
	assert.True(t, closes[0].Abnormal)
	assert.Error(t, closes[0].Err)
}

func TestHealth(t *testing.T) {
	_, ts := newMock(t, []mockserver.Step{}, false)
	assert.NoError(t, newTestClient(t, ts.URL).Health(context.Background()))

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":"DEAD"}`))
	}))
	defer bad.Close()
	assert.Error(t, newTestClient(t, bad.URL).Health(context.Background()))
}
