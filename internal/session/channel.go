package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"polybrain/internal/domain"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// ChannelState is the lifecycle of a session channel.
type ChannelState int32

const (
	Connecting ChannelState = iota
	Open
	Closed // terminal
)

func (s ChannelState) String() string {
	switch s {
	case Connecting:
		return "CONNECTING"
	case Open:
		return "OPEN"
	default:
		return "CLOSED"
	}
}

// CloseEvent reports how a channel ended.
type CloseEvent struct {
	SessionID string
	Code      int  // WebSocket close code, 0 when the transport dropped
	Local     bool // closed by Session.Close
	Abnormal  bool
	Err       error
}

// Handler receives channel traffic. OnMessage is called from the read loop
// in arrival order and must not block for long. OnClose is called once.
type Handler struct {
	OnMessage func(data []byte)
	OnClose   func(CloseEvent)
}

// Session is one assistant session and its channel.
type Session struct {
	ID         string
	DocumentID string

	client    *Client
	conn      *websocket.Conn
	state     atomic.Int32
	closing   atomic.Bool
	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func (c *Client) open(ctx context.Context, documentID, sessionID string, h Handler) (*Session, error) {
	if sessionID == "" {
		return nil, ErrEmptySessionID
	}
	s := &Session{
		ID:         sessionID,
		DocumentID: documentID,
		client:     c,
		done:       make(chan struct{}),
	}
	s.state.Store(int32(Connecting))

	wsURL := c.wsBase + "/ws/" + url.PathEscape(sessionID)
	conn, _, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		s.state.Store(int32(Closed))
		c.endAsync(sessionID)
		return nil, fmt.Errorf("%w: dial %s: %w", ErrChannelOpen, wsURL, err)
	}
	s.conn = conn
	s.state.Store(int32(Open))
	c.logger.Info("channel open", "session_id", sessionID, "url", wsURL)

	if err := s.Send(domain.BeginMessage()); err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: send BEGIN: %w", ErrChannelOpen, err)
	}

	go s.readLoop(h)
	return s, nil
}

// Send writes one message to the channel.
func (s *Session) Send(msg domain.InboundMessage) error {
	if s.State() != Open {
		return fmt.Errorf("send on %s channel", s.State())
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// State returns the channel state.
func (s *Session) State() ChannelState {
	return ChannelState(s.state.Load())
}

// Done is closed when the read loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close shuts the channel. It is safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		if s.conn == nil {
			return
		}
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = s.conn.Close()
		s.state.Store(int32(Closed))
		s.client.endAsync(s.ID)
	})
	return err
}

func (s *Session) readLoop(h Handler) {
	defer close(s.done)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.state.Store(int32(Closed))
			s.conn.Close()
			ev := s.closeEvent(err)
			if ev.Abnormal {
				s.client.logger.Warn("channel closed abnormally", "session_id", s.ID, "code", ev.Code, "err", err)
			} else {
				s.client.logger.Info("channel closed", "session_id", s.ID, "code", ev.Code, "local", ev.Local)
			}
			if h.OnClose != nil {
				h.OnClose(ev)
			}
			return
		}
		if h.OnMessage != nil {
			h.OnMessage(data)
		}
	}
}

func (s *Session) closeEvent(err error) CloseEvent {
	ev := CloseEvent{SessionID: s.ID, Local: s.closing.Load()}
	var ce *websocket.CloseError
	switch {
	case errors.As(err, &ce):
		ev.Code = ce.Code
		ev.Abnormal = ce.Code != websocket.CloseNormalClosure && ce.Code != websocket.CloseGoingAway
	case ev.Local:
	default:
		ev.Abnormal = true
	}
	if ev.Abnormal {
		ev.Err = err
	}
	return ev
}
