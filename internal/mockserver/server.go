// Package mockserver is a local stand-in for the assistant service. It
// speaks the same HTTP and WebSocket protocol and plays a fixed script of
// status messages after each BEGIN.
package mockserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"polybrain/internal/domain"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Step is one scripted server frame. Raw, when set, is sent verbatim.
type Step struct {
	Message domain.InboundMessage
	Raw     string
	Delay   time.Duration // wait before sending
}

// DefaultScript mirrors one full assistant turn: listen, think, answer.
func DefaultScript(delay time.Duration) []Step {
	return []Step{
		{Message: domain.StatusMessage(domain.MessageMicrophone, true), Delay: delay},
		{Message: domain.StatusMessage(domain.MessageMicrophone, false), Delay: delay},
		{Message: domain.StatusMessage(domain.MessageLoading, true), Delay: delay},
		{Message: domain.StatusMessage(domain.MessageLoading, false), Delay: delay},
		{Message: domain.StatusMessage(domain.MessageSpeaking, true), Delay: delay},
		{Message: domain.StatusMessage(domain.MessageSpeaking, false), Delay: delay},
	}
}

// Config configures the mock service.
type Config struct {
	Addr   string // listen address for Start, e.g. ":8000"
	Script []Step
	// Hold keeps the channel open after the script instead of closing it.
	Hold bool
	// NewID generates session ids; uuid when nil.
	NewID  func() string
	Logger *slog.Logger
}

// Server is the mock assistant service.
type Server struct {
	addr   string
	script []Step
	hold   bool
	newID  func() string
	logger *slog.Logger
	server *http.Server

	mu        sync.Mutex
	sessions  map[string]*session // session id -> session
	byDoc     map[string]string   // document id -> live session id
	ended     []string
	createErr int // when non-zero, /session/create answers with this status
	omitID    bool
}

type session struct {
	id         string
	documentID string
	received   []domain.InboundMessage
	conn       *websocket.Conn
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the widget connects from the CAD tool origin
	},
}

func New(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8000"
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return uuid.NewString() }
	}
	if cfg.Script == nil {
		cfg.Script = DefaultScript(time.Second)
	}
	return &Server{
		addr:     cfg.Addr,
		script:   cfg.Script,
		hold:     cfg.Hold,
		newID:    cfg.NewID,
		logger:   cfg.Logger,
		sessions: make(map[string]*session),
		byDoc:    make(map[string]string),
	}
}

// Handler returns the HTTP routes of the service.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /session/create/{documentID}", s.handleCreate)
	mux.HandleFunc("GET /session/end/{sessionID}", s.handleEnd)
	mux.HandleFunc("GET /ws/{sessionID}", s.handleChannel)
	return mux
}

// Start serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("mock assistant service starting", "addr", s.addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.closeAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// FailCreate makes /session/create answer with status (0 restores normal
// behaviour). With omitID the answer is 200 without a session_id.
func (s *Server) FailCreate(status int, omitID bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createErr = status
	s.omitID = omitID
}

// Received returns the frames the client sent on a session's channel.
func (s *Server) Received(sessionID string) []domain.InboundMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		return append([]domain.InboundMessage(nil), sess.received...)
	}
	return nil
}

// Ended returns the ids passed to /session/end, in call order.
func (s *Server) Ended() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ended...)
}

// SessionFor returns the live session id of a document.
func (s *Server) SessionFor(documentID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byDoc[documentID]
	return id, ok
}

// Drop kills the transport of a session without a close handshake.
func (s *Server) Drop(sessionID string) bool {
	s.mu.Lock()
	var conn *websocket.Conn
	if sess, ok := s.sessions[sessionID]; ok {
		conn = sess.conn
	}
	s.mu.Unlock()
	if conn == nil {
		return false
	}
	conn.UnderlyingConn().Close()
	return true
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "ALIVE"})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	documentID := r.PathValue("documentID")

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.createErr != 0 {
		writeJSON(w, s.createErr, map[string]string{"detail": "session creation disabled"})
		return
	}
	if s.omitID {
		writeJSON(w, http.StatusOK, map[string]string{})
		return
	}

	// One live session per document, as the real service does.
	id, ok := s.byDoc[documentID]
	if !ok {
		id = s.newID()
		s.sessions[id] = &session{id: id, documentID: documentID}
		s.byDoc[documentID] = id
		s.logger.Info("created new session", "session_id", id, "document", documentID)
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id})
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("sessionID")

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": fmt.Sprintf("no session with id %s exists", id)})
		return
	}
	if s.byDoc[sess.documentID] == id {
		delete(s.byDoc, sess.documentID)
	}
	s.ended = append(s.ended, id)
	s.logger.Info("closed session", "session_id", id)
	writeJSON(w, http.StatusOK, map[string]string{"message": "deleted session " + id})
}

func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("sessionID")

	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	s.mu.Lock()
	sess.conn = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if sess.conn == conn {
			sess.conn = nil
		}
		s.mu.Unlock()
	}()
	s.logger.Info("incoming ws connection", "session_id", id)

	if !s.awaitBegin(conn, sess) {
		return
	}

	// Keep recording client frames while the script plays.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, ok := s.readFrame(conn, sess); !ok {
				return
			}
		}
	}()

	for _, step := range s.script {
		select {
		case <-readDone:
			return
		case <-time.After(step.Delay):
		}
		data := []byte(step.Raw)
		if step.Raw == "" {
			data, _ = json.Marshal(step.Message)
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			s.logger.Debug("websocket write failed", "err", err)
			return
		}
	}

	if s.hold {
		<-readDone
		return
	}
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "interaction complete"),
		time.Now().Add(time.Second))
	select {
	case <-readDone:
	case <-time.After(time.Second):
	}
}

func (s *Server) awaitBegin(conn *websocket.Conn, sess *session) bool {
	for {
		msg, ok := s.readFrame(conn, sess)
		if !ok {
			return false
		}
		if msg.MessageType == domain.MessageBegin {
			s.logger.Info("beginning client interaction", "session_id", sess.id)
			return true
		}
		s.logger.Warn("waiting for BEGIN, got other message", "type", string(msg.MessageType))
	}
}

func (s *Server) readFrame(conn *websocket.Conn, sess *session) (domain.InboundMessage, bool) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
			s.logger.Warn("websocket read error", "err", err)
		}
		return domain.InboundMessage{}, false
	}
	var msg domain.InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Warn("invalid websocket message", "err", err)
		return msg, true
	}
	s.mu.Lock()
	sess.received = append(sess.received, msg)
	s.mu.Unlock()
	return msg, true
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.conn != nil {
			sess.conn.Close()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
