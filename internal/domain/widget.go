package domain

import "context"

// IconState is the logical state of the widget icon.
type IconState string

const (
	IconIdle      IconState = "IDLE"
	IconListening IconState = "LISTENING"
	IconSpeaking  IconState = "SPEAKING"
	IconLoading   IconState = "LOADING"
)

// Valid reports whether s is one of the four icon states.
func (s IconState) Valid() bool {
	switch s {
	case IconIdle, IconListening, IconSpeaking, IconLoading:
		return true
	}
	return false
}

// Scale returns the resting scale of the icon in state s.
func (s IconState) Scale() float64 {
	switch s {
	case IconListening, IconSpeaking:
		return 0.5
	default:
		return 1
	}
}

// WidgetSurface is the host-page side of the widget: one clickable element
// holding one icon image. Implementations talk to the DOM.
type WidgetSurface interface {
	Create(ctx context.Context, className, iconURL string) error
	Remove(ctx context.Context) error
	SetDisabled(ctx context.Context, disabled bool) error
	SetScale(ctx context.Context, scale float64) error
	SetIcon(ctx context.Context, iconURL string, scale float64) error
}

// NavigationNotifier delivers the page URL every time it may have changed,
// including in-page (history API) navigations. Repeated values are allowed.
type NavigationNotifier interface {
	URLs() <-chan string
}

// ClickSource delivers clicks on the mounted widget element.
type ClickSource interface {
	Clicks() <-chan struct{}
}
