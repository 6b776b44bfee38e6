// Package dispatch turns inbound channel frames into icon state requests.
package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"polybrain/internal/domain"
)

var (
	// ErrMalformedMessage is returned for frames that are not a message envelope.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrIllegalData is returned for well-formed frames with an unknown type or status.
	ErrIllegalData = errors.New("illegal data")
)

// Requester accepts icon state requests without blocking.
type Requester interface {
	Request(target domain.IconState) error
}

// Dispatcher routes frames to a Requester.
type Dispatcher struct {
	icons  Requester
	logger *slog.Logger
}

func New(icons Requester, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{icons: icons, logger: logger}
}

// Dispatch parses one frame and hands the resulting request to the icon
// queue. Bad frames are logged and dropped; the error is returned only so
// callers can count them.
func (d *Dispatcher) Dispatch(frame []byte) (domain.IconState, error) {
	msg, err := Parse(frame)
	if err != nil {
		d.logger.Warn("dropped unparsable message", "err", err, "frame", truncate(frame, 200))
		return "", err
	}
	if msg.MessageType == domain.MessageBegin {
		d.logger.Debug("ignored BEGIN from server")
		return "", nil
	}

	target, err := Route(msg)
	if err != nil {
		d.logger.Warn("illegal data", "type", string(msg.MessageType), "status", string(msg.Body.Status), "err", err)
		return "", err
	}
	if err := d.icons.Request(target); err != nil {
		return "", err
	}
	return target, nil
}

// Parse decodes a frame into an InboundMessage.
func Parse(frame []byte) (domain.InboundMessage, error) {
	var msg domain.InboundMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		return msg, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	if msg.MessageType == "" {
		return msg, fmt.Errorf("%w: missing messageType", ErrMalformedMessage)
	}
	return msg, nil
}

// Route maps a status message to the icon state it asks for.
func Route(msg domain.InboundMessage) (domain.IconState, error) {
	var on domain.IconState
	switch msg.MessageType {
	case domain.MessageMicrophone:
		on = domain.IconListening
	case domain.MessageSpeaking:
		on = domain.IconSpeaking
	case domain.MessageLoading:
		on = domain.IconLoading
	default:
		return "", fmt.Errorf("%w: unknown messageType %q", ErrIllegalData, msg.MessageType)
	}

	switch msg.Body.Status {
	case domain.StatusOn:
		return on, nil
	case domain.StatusOff:
		return domain.IconIdle, nil
	default:
		return "", fmt.Errorf("%w: STATUS %q for %s", ErrIllegalData, msg.Body.Status, msg.MessageType)
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
