// Package bus is an in-process publish/subscribe channel for controller
// lifecycle events. The metrics collector and the activation journal
// listen on it.
package bus

import (
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// Event is one lifecycle event.
type Event struct {
	Type      string         // e.g. "widget.mounted", "icon.transition"
	Source    string         // originating component
	Payload   map[string]any // event-specific data
	Timestamp time.Time
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// EventBus dispatches events synchronously to handlers registered per type
// or for "*". A handler that panics is logged and skipped.
type EventBus struct {
	mu         sync.RWMutex
	handlers   map[string][]namedHandler
	nextID     int
	history    []Event
	maxHistory int
	logger     *slog.Logger
}

type namedHandler struct {
	ID      string
	Handler EventHandler
}

// NewEventBus creates a bus that keeps the last maxHistory events.
func NewEventBus(maxHistory int, logger *slog.Logger) *EventBus {
	if maxHistory <= 0 {
		maxHistory = 256
	}
	return &EventBus{
		handlers:   make(map[string][]namedHandler),
		maxHistory: maxHistory,
		logger:     logger,
	}
}

// On registers a handler and returns its id for Off.
func (eb *EventBus) On(eventType string, handler EventHandler) string {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	id := eventType + "-" + strconv.Itoa(eb.nextID)
	eb.handlers[eventType] = append(eb.handlers[eventType], namedHandler{ID: id, Handler: handler})
	return id
}

// Off removes a handler by id.
func (eb *EventBus) Off(eventType, handlerID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	handlers := eb.handlers[eventType]
	for i, h := range handlers {
		if h.ID == handlerID {
			eb.handlers[eventType] = append(handlers[:i:i], handlers[i+1:]...)
			return
		}
	}
}

// Emit delivers event to the matching handlers in registration order.
func (eb *EventBus) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.Lock()
	if len(eb.history) >= eb.maxHistory {
		eb.history = eb.history[1:]
	}
	eb.history = append(eb.history, event)
	handlers := make([]namedHandler, 0, len(eb.handlers[event.Type])+len(eb.handlers["*"]))
	handlers = append(handlers, eb.handlers[event.Type]...)
	handlers = append(handlers, eb.handlers["*"]...)
	eb.mu.Unlock()

	for _, h := range handlers {
		eb.call(h, event)
	}
}

func (eb *EventBus) call(nh namedHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error("event handler panic", "event", event.Type, "handler", nh.ID, "panic", r)
		}
	}()
	nh.Handler(event)
}

// Replay returns past events of eventType ("*" for all) since the given time.
func (eb *EventBus) Replay(eventType string, since time.Time) []Event {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	var result []Event
	for _, e := range eb.history {
		if e.Timestamp.Before(since) {
			continue
		}
		if eventType == "*" || e.Type == eventType {
			result = append(result, e)
		}
	}
	return result
}

// Well-known event types.
const (
	EventWidgetMounted      = "widget.mounted"
	EventWidgetUnmounted    = "widget.unmounted"
	EventActivationStarted  = "activation.started"
	EventActivationFinished = "activation.finished"
	EventSessionOpened      = "session.opened"
	EventSessionFailed      = "session.failed"
	EventChannelClosed      = "channel.closed"
	EventMessageDropped     = "message.dropped"
	EventIconTransition     = "icon.transition"
)
