package metrics

import (
	"fmt"
	"time"

	"polybrain/internal/bus"
)

// WidgetMetrics are the controller's metrics, fed from the event bus.
type WidgetMetrics struct {
	c *Collector

	Mounted            *Gauge
	ActivationsStarted *Counter
	SessionFailures    *Counter
	ChannelAbnormal    *Counter
	MessagesDropped    *Counter
	ActivationSeconds  *Histogram
}

func NewWidgetMetrics(c *Collector) *WidgetMetrics {
	return &WidgetMetrics{
		c:                  c,
		Mounted:            c.Gauge("polybrain_widget_mounted", "1 while the widget is on the page", ""),
		ActivationsStarted: c.Counter("polybrain_activations_total", "Assistant activations started", ""),
		SessionFailures:    c.Counter("polybrain_session_failures_total", "Session creation failures", ""),
		ChannelAbnormal:    c.Counter("polybrain_channel_abnormal_closes_total", "Channels closed abnormally", ""),
		MessagesDropped:    c.Counter("polybrain_messages_dropped_total", "Inbound messages dropped as malformed or illegal", ""),
		ActivationSeconds: c.Histogram("polybrain_activation_duration_seconds", "Activation wall time", "",
			[]float64{1, 5, 15, 30, 60, 120, 300}),
	}
}

// Transitions returns the counter for transitions into state.
func (m *WidgetMetrics) Transitions(state string) *Counter {
	return m.c.Counter("polybrain_icon_transitions_total", "Completed icon transitions", fmt.Sprintf(`to="%s"`, state))
}

// Attach subscribes the metrics to eb.
func (m *WidgetMetrics) Attach(eb *bus.EventBus) {
	eb.On(bus.EventWidgetMounted, func(bus.Event) { m.Mounted.Set(1) })
	eb.On(bus.EventWidgetUnmounted, func(bus.Event) { m.Mounted.Set(0) })
	eb.On(bus.EventActivationStarted, func(bus.Event) { m.ActivationsStarted.Inc() })
	eb.On(bus.EventSessionFailed, func(bus.Event) { m.SessionFailures.Inc() })
	eb.On(bus.EventMessageDropped, func(bus.Event) { m.MessagesDropped.Inc() })
	eb.On(bus.EventChannelClosed, func(e bus.Event) {
		if abnormal, _ := e.Payload["abnormal"].(bool); abnormal {
			m.ChannelAbnormal.Inc()
		}
	})
	eb.On(bus.EventIconTransition, func(e bus.Event) {
		if to, ok := e.Payload["to"].(string); ok {
			m.Transitions(to).Inc()
		}
	})
	eb.On(bus.EventActivationFinished, func(e bus.Event) {
		if d, ok := e.Payload["duration"].(time.Duration); ok {
			m.ActivationSeconds.Observe(d.Seconds())
		}
	})
}
