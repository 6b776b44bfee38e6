package widget

import (
	"context"
	"sync"
)

// Op is one recorded surface call.
type Op struct {
	Name  string
	Icon  string
	Scale float64
	Flag  bool
}

// RecordingSurface is an in-memory WidgetSurface that records every call.
// It backs the tests of the packages driving a widget, and the headless
// simulate command.
type RecordingSurface struct {
	mu       sync.Mutex
	ops      []Op
	exists   bool
	disabled bool
	icon     string
	scale    float64
	err      error
}

// FailWith makes every following call return err (nil clears it).
func (s *RecordingSurface) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *RecordingSurface) record(op Op) error {
	s.ops = append(s.ops, op)
	return s.err
}

func (s *RecordingSurface) Create(_ context.Context, className, iconURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(Op{Name: "create", Icon: iconURL, Scale: 1}); err != nil {
		return err
	}
	s.exists, s.disabled, s.icon, s.scale = true, false, iconURL, 1
	return nil
}

func (s *RecordingSurface) Remove(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(Op{Name: "remove"}); err != nil {
		return err
	}
	s.exists = false
	return nil
}

func (s *RecordingSurface) SetDisabled(_ context.Context, disabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(Op{Name: "disabled", Flag: disabled}); err != nil {
		return err
	}
	s.disabled = disabled
	return nil
}

func (s *RecordingSurface) SetScale(_ context.Context, scale float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(Op{Name: "scale", Scale: scale}); err != nil {
		return err
	}
	s.scale = scale
	return nil
}

func (s *RecordingSurface) SetIcon(_ context.Context, iconURL string, scale float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(Op{Name: "icon", Icon: iconURL, Scale: scale}); err != nil {
		return err
	}
	s.icon, s.scale = iconURL, scale
	return nil
}

// Ops returns a copy of the recorded calls.
func (s *RecordingSurface) Ops() []Op {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Op(nil), s.ops...)
}

// Snapshot returns the current visible state of the element.
func (s *RecordingSurface) Snapshot() (exists, disabled bool, icon string, scale float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exists, s.disabled, s.icon, s.scale
}
