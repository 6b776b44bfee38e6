// Package controller owns the assistant widget state and runs the single
// event loop that ties presence, the widget, the session channel and the
// icon machine together.
package controller

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"polybrain/internal/bus"
	"polybrain/internal/dispatch"
	"polybrain/internal/domain"
	"polybrain/internal/icon"
	"polybrain/internal/presence"
	"polybrain/internal/session"
	"polybrain/internal/widget"

	"github.com/google/uuid"
)

const (
	eventBuffer    = 64
	surfaceTimeout = 2 * time.Second
)

// SessionOpener creates a session and its channel for a document.
type SessionOpener interface {
	CreateSession(ctx context.Context, documentID string, h session.Handler) (*session.Session, error)
}

// Config wires a Controller.
type Config struct {
	Navigation  domain.NavigationNotifier
	Clicks      domain.ClickSource
	Surface     domain.WidgetSurface
	Sessions    SessionOpener
	Journal     domain.ActivationStore // optional
	Events      *bus.EventBus          // optional
	Hosts       []string               // document hosts; empty accepts any
	ClassName   string
	Assets      icon.Assets
	SettleDelay time.Duration
	Logger      *slog.Logger
}

// widgetState is everything the controller owns. Only the loop goroutine
// touches it.
type widgetState struct {
	documentID string
	activation *activation
}

// Status is a point-in-time view of the controller.
type Status struct {
	DocumentID   string
	ActivationID string // "" when no activation is running
	SessionID    string // "" until the session is open
	Mounted      bool
	Interactive  bool
	Icon         domain.IconState
}

type activation struct {
	id        string
	document  string
	startedAt time.Time
	session   *session.Session
	cancel    context.CancelFunc
	messages  int
}

// Controller is the assistant session controller.
type Controller struct {
	nav        domain.NavigationNotifier
	clicks     domain.ClickSource
	sessions   SessionOpener
	journal    domain.ActivationStore
	events     *bus.EventBus
	logger     *slog.Logger
	detector   *presence.Detector
	widget     *widget.Mount
	icons      *icon.Machine
	dispatcher *dispatch.Dispatcher

	inbox       chan any
	state       widgetState
	transitions atomic.Int64 // icon transitions of the current activation
}

func New(cfg Config) *Controller {
	if cfg.Assets == nil {
		cfg.Assets = icon.DefaultAssets("")
	}
	if cfg.Events == nil {
		cfg.Events = bus.NewEventBus(0, cfg.Logger)
	}

	c := &Controller{
		nav:      cfg.Navigation,
		clicks:   cfg.Clicks,
		sessions: cfg.Sessions,
		journal:  cfg.Journal,
		events:   cfg.Events,
		logger:   cfg.Logger,
		detector: presence.NewDetector(cfg.Hosts, cfg.Logger),
		inbox:    make(chan any, eventBuffer),
	}
	c.widget = widget.New(widget.Config{
		Surface:   cfg.Surface,
		ClassName: cfg.ClassName,
		IdleIcon:  cfg.Assets.URL(domain.IconIdle),
		Logger:    cfg.Logger,
	})
	c.icons = icon.New(icon.Config{
		Renderer:      c.widget,
		Assets:        cfg.Assets,
		SettleDelay:   cfg.SettleDelay,
		RenderTimeout: surfaceTimeout,
		OnIdle:        c.onIdle,
		OnTransition:  c.onTransition,
		Logger:        cfg.Logger,
	})
	c.dispatcher = dispatch.New(c.icons, cfg.Logger)
	return c
}

// Widget exposes the widget mount, mainly for inspection.
func (c *Controller) Widget() *widget.Mount { return c.widget }

// Icons exposes the icon machine, mainly for inspection.
func (c *Controller) Icons() *icon.Machine { return c.icons }

// Events returns the controller's event bus.
func (c *Controller) Events() *bus.EventBus { return c.events }

// loop events
type (
	sessionReady struct {
		activationID string
		session      *session.Session
		err          error
	}
	frameReceived struct {
		activationID string
		data         []byte
	}
	channelClosed struct {
		activationID string
		event        session.CloseEvent
	}
	statusReq struct{ reply chan Status }
)

// Run processes events until ctx is done, then ends any activation and
// removes the widget.
func (c *Controller) Run(ctx context.Context) error {
	iconCtx, cancelIcons := context.WithCancel(ctx)
	defer cancelIcons()
	go c.icons.Run(iconCtx)

	var urls <-chan string
	if c.nav != nil {
		urls = c.nav.URLs()
	}
	var clicks <-chan struct{}
	if c.clicks != nil {
		clicks = c.clicks.Clicks()
	}

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		case u, ok := <-urls:
			if !ok {
				urls = nil
				continue
			}
			c.handleNavigation(ctx, u)
		case _, ok := <-clicks:
			if !ok {
				clicks = nil
				continue
			}
			c.handleClick(ctx)
		case ev := <-c.inbox:
			c.handle(ctx, ev)
		}
	}
}

// Status reads the controller state on the loop. It blocks until the loop
// has handled the events queued before it.
func (c *Controller) Status(ctx context.Context) (Status, error) {
	reply := make(chan Status, 1)
	if !c.post(ctx, statusReq{reply: reply}) {
		return Status{}, ctx.Err()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

func (c *Controller) post(ctx context.Context, ev any) bool {
	select {
	case c.inbox <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Controller) handle(ctx context.Context, ev any) {
	switch e := ev.(type) {
	case sessionReady:
		c.handleSessionReady(ctx, e)
	case frameReceived:
		c.handleFrame(e)
	case channelClosed:
		c.handleChannelClosed(ctx, e)
	case statusReq:
		s := Status{
			DocumentID:  c.state.documentID,
			Mounted:     c.widget.Mounted(),
			Interactive: c.widget.AcceptsClicks(),
			Icon:        c.icons.State(),
		}
		if a := c.state.activation; a != nil {
			s.ActivationID = a.id
			if a.session != nil {
				s.SessionID = a.session.ID
			}
		}
		e.reply <- s
	}
}

func (c *Controller) handleNavigation(ctx context.Context, rawURL string) {
	v := c.detector.Observe(rawURL)
	c.state.documentID = v.DocumentID

	switch v.Change {
	case presence.Mount:
		if err := c.surfaceCall(ctx, c.widget.Mount); err != nil {
			// The element may not be creatable yet; the next notification retries.
			c.logger.Warn("mount widget failed", "err", err)
			c.detector.Forget()
			return
		}
		c.emit(bus.EventWidgetMounted, map[string]any{"document": v.DocumentID})
	case presence.Unmount:
		c.endActivation(ctx, domain.OutcomeNavigatedAway, "left document page")
		if err := c.surfaceCall(ctx, c.widget.Unmount); err != nil {
			c.logger.Warn("unmount widget failed", "err", err)
		}
		c.emit(bus.EventWidgetUnmounted, map[string]any{"document": v.Previous})
	case presence.Switch:
		c.endActivation(ctx, domain.OutcomeNavigatedAway, "switched to document "+v.DocumentID)
	}
}

func (c *Controller) handleClick(ctx context.Context) {
	if !c.widget.AcceptsClicks() {
		c.logger.Debug("click ignored while widget is not interactive")
		return
	}
	doc := c.state.documentID
	if doc == "" {
		return
	}
	if c.state.activation != nil {
		c.endActivation(ctx, domain.OutcomeSuperseded, "clicked again")
	}

	disable := func(ctx context.Context) error { return c.widget.SetInteractive(ctx, false) }
	if err := c.surfaceCall(ctx, disable); err != nil {
		c.logger.Warn("disable widget failed", "err", err)
	}

	actCtx, cancel := context.WithCancel(ctx)
	act := &activation{
		id:        uuid.NewString(),
		document:  doc,
		startedAt: time.Now(),
		cancel:    cancel,
	}
	c.state.activation = act
	c.transitions.Store(0)
	c.logger.Info("assistant activated", "activation", act.id, "document", doc)
	c.emit(bus.EventActivationStarted, map[string]any{"activation": act.id, "document": doc})

	handler := session.Handler{
		OnMessage: func(data []byte) {
			c.post(actCtx, frameReceived{activationID: act.id, data: data})
		},
		OnClose: func(ev session.CloseEvent) {
			c.post(ctx, channelClosed{activationID: act.id, event: ev})
		},
	}
	go func() {
		sess, err := c.sessions.CreateSession(actCtx, doc, handler)
		if !c.post(ctx, sessionReady{activationID: act.id, session: sess, err: err}) && sess != nil {
			sess.Close()
		}
	}()
}

func (c *Controller) current(id string) *activation {
	if a := c.state.activation; a != nil && a.id == id {
		return a
	}
	return nil
}

func (c *Controller) handleSessionReady(ctx context.Context, e sessionReady) {
	act := c.current(e.activationID)
	if act == nil {
		if e.session != nil {
			c.logger.Debug("discarding session of a finished activation", "session_id", e.session.ID)
			e.session.Close()
		}
		return
	}
	if e.err != nil {
		c.logger.Error("session creation failed", "document", act.document, "err", e.err)
		c.emit(bus.EventSessionFailed, map[string]any{"activation": act.id, "err": e.err.Error()})
		c.finish(ctx, act, domain.OutcomeCreationFailed, e.err.Error())
		return
	}
	act.session = e.session
	c.emit(bus.EventSessionOpened, map[string]any{"activation": act.id, "session_id": e.session.ID})
}

func (c *Controller) handleFrame(e frameReceived) {
	act := c.current(e.activationID)
	if act == nil {
		return
	}
	act.messages++
	if _, err := c.dispatcher.Dispatch(e.data); err != nil {
		reason := "illegal"
		if errors.Is(err, dispatch.ErrMalformedMessage) {
			reason = "malformed"
		}
		c.emit(bus.EventMessageDropped, map[string]any{"activation": act.id, "reason": reason})
	}
}

func (c *Controller) handleChannelClosed(ctx context.Context, e channelClosed) {
	act := c.current(e.activationID)
	if act == nil {
		return
	}
	c.emit(bus.EventChannelClosed, map[string]any{
		"activation": act.id,
		"session_id": e.event.SessionID,
		"abnormal":   e.event.Abnormal,
		"code":       e.event.Code,
	})
	if e.event.Abnormal {
		detail := "abnormal close"
		if e.event.Err != nil {
			detail = e.event.Err.Error()
		}
		c.finish(ctx, act, domain.OutcomeChannelError, detail)
		return
	}
	c.finish(ctx, act, domain.OutcomeCompleted, "")
}

// endActivation finishes the current activation, if any.
func (c *Controller) endActivation(ctx context.Context, outcome domain.Outcome, detail string) {
	if act := c.state.activation; act != nil {
		c.finish(ctx, act, outcome, detail)
	}
}

// finish tears an activation down and forces IDLE + interactive. Queued
// icon transitions of the activation are discarded.
func (c *Controller) finish(ctx context.Context, act *activation, outcome domain.Outcome, detail string) {
	act.cancel()
	if act.session != nil {
		act.session.Close()
	}
	c.icons.Reset()
	c.state.activation = nil

	rec := domain.Activation{
		ID:          act.id,
		DocumentID:  act.document,
		StartedAt:   act.startedAt,
		EndedAt:     time.Now(),
		Outcome:     outcome,
		Detail:      detail,
		Messages:    act.messages,
		Transitions: int(c.transitions.Load()),
	}
	if act.session != nil {
		rec.SessionID = act.session.ID
	}
	c.logger.Info("activation finished", "activation", act.id, "outcome", string(outcome), "duration", rec.Duration())
	c.emit(bus.EventActivationFinished, map[string]any{
		"activation": act.id,
		"outcome":    string(outcome),
		"duration":   rec.Duration(),
	})

	if c.journal != nil {
		recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), surfaceTimeout)
		defer cancel()
		if err := c.journal.Record(recordCtx, rec); err != nil {
			c.logger.Warn("journal record failed", "err", err)
		}
	}
}

func (c *Controller) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), surfaceTimeout)
	defer cancel()
	c.endActivation(ctx, domain.OutcomeShutdown, "")
	if c.widget.Mounted() {
		if err := c.widget.Unmount(ctx); err != nil {
			c.logger.Debug("unmount on shutdown failed", "err", err)
		}
		c.emit(bus.EventWidgetUnmounted, nil)
	}
}

// surfaceCall runs a widget operation from the loop with a bounded wait.
func (c *Controller) surfaceCall(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, surfaceTimeout)
	defer cancel()
	return fn(ctx)
}

func (c *Controller) onIdle() {
	ctx, cancel := context.WithTimeout(context.Background(), surfaceTimeout)
	defer cancel()
	if err := c.widget.SetInteractive(ctx, true); err != nil {
		c.logger.Warn("enable widget failed", "err", err)
	}
}

func (c *Controller) onTransition(from, to domain.IconState) {
	c.transitions.Add(1)
	c.emit(bus.EventIconTransition, map[string]any{"from": string(from), "to": string(to)})
}

func (c *Controller) emit(eventType string, payload map[string]any) {
	c.events.Emit(bus.Event{Type: eventType, Source: "controller", Payload: payload})
}
