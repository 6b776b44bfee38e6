package metrics

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"polybrain/internal/bus"

	"github.com/stretchr/testify/assert"
)

func TestCollector_RenderFormat(t *testing.T) {
	c := NewCollector()
	c.Counter("x_total", "xs", "").Inc()
	c.Counter("x_total", "xs", "").Inc()
	c.Gauge("y", "ys", `k="v"`).Set(7)
	h := c.Histogram("z_seconds", "zs", "", []float64{1, 10})
	h.Observe(0.5)
	h.Observe(5)
	h.Observe(50)

	out := c.Render()
	assert.Contains(t, out, "# TYPE x_total counter\nx_total 2\n")
	assert.Contains(t, out, `y{k="v"} 7`)
	assert.Contains(t, out, `z_seconds_bucket{le="1"} 1`)
	assert.Contains(t, out, `z_seconds_bucket{le="10"} 2`)
	assert.Contains(t, out, `z_seconds_bucket{le="+Inf"} 3`)
	assert.Contains(t, out, "z_seconds_count 3")
	assert.Equal(t, 1, strings.Count(out, "# HELP x_total"))
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector()
	rec := httptest.NewRecorder()
	c.Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, rec.Body.String(), "polybrain_uptime_seconds")
}

func TestWidgetMetrics_FromBus(t *testing.T) {
	eb := bus.NewEventBus(0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	m := NewWidgetMetrics(NewCollector())
	m.Attach(eb)

	eb.Emit(bus.Event{Type: bus.EventWidgetMounted})
	eb.Emit(bus.Event{Type: bus.EventActivationStarted})
	eb.Emit(bus.Event{Type: bus.EventIconTransition, Payload: map[string]any{"from": "IDLE", "to": "LISTENING"}})
	eb.Emit(bus.Event{Type: bus.EventMessageDropped})
	eb.Emit(bus.Event{Type: bus.EventChannelClosed, Payload: map[string]any{"abnormal": true}})
	eb.Emit(bus.Event{Type: bus.EventChannelClosed, Payload: map[string]any{"abnormal": false}})
	eb.Emit(bus.Event{Type: bus.EventActivationFinished, Payload: map[string]any{"duration": 3 * time.Second}})

	assert.Equal(t, int64(1), m.Mounted.Value())
	assert.Equal(t, int64(1), m.ActivationsStarted.Value())
	assert.Equal(t, int64(1), m.Transitions("LISTENING").Value())
	assert.Equal(t, int64(1), m.MessagesDropped.Value())
	assert.Equal(t, int64(1), m.ChannelAbnormal.Value())
	assert.Equal(t, int64(1), m.ActivationSeconds.Count())

	eb.Emit(bus.Event{Type: bus.EventWidgetUnmounted})
	assert.Equal(t, int64(0), m.Mounted.Value())
}
