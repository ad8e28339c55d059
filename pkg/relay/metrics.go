package relay

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts relay turns. The zero value is not usable; build with
// NewMetrics.
type Metrics struct {
	turns    *prometheus.CounterVec
	frames   *prometheus.CounterVec
	active   prometheus.Gauge
	duration prometheus.Histogram
}

// NewMetrics creates the relay collectors and registers them with reg when
// reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatrelay_turns_total",
			Help: "Relay turns by outcome.",
		}, []string{"outcome"}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatrelay_frames_total",
			Help: "Event-stream frames written by kind.",
		}, []string{"kind"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chatrelay_active_streams",
			Help: "Streams currently being relayed.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chatrelay_turn_duration_seconds",
			Help:    "Time from first provider pull to the done frame.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.turns, m.frames, m.active, m.duration)
	}
	return m
}

func (m *Metrics) streamStarted() {
	if m == nil {
		return
	}
	m.active.Inc()
}

func (m *Metrics) streamFinished(o Outcome, started time.Time) {
	if m == nil {
		return
	}
	m.active.Dec()
	m.turns.WithLabelValues(o.String()).Inc()
	m.duration.Observe(time.Since(started).Seconds())
}

func (m *Metrics) frame(kind string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(kind).Inc()
}
