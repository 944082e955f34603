package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"time"
)

// Collector holds the rig's Prometheus instruments. A nil *Collector is valid and records nothing.
type Collector struct {
	Dispatches     *prometheus.CounterVec
	Duration       *prometheus.HistogramVec
	MotionWarnings prometheus.Counter
	Lines          *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		Dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "benchtop",
			Name:      "dispatches_total",
			Help:      "Dispatched commands by command, wait policy and outcome.",
		}, []string{"command", "policy", "outcome"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "benchtop",
			Name:      "dispatch_duration_seconds",
			Help:      "Time from send to completion by wait policy.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"policy"}),
		MotionWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "benchtop",
			Name:      "motion_warnings_total",
			Help:      "Motion or homing commands sent to the controller.",
		}),
		Lines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "benchtop",
			Name:      "response_lines_total",
			Help:      "Response lines consumed by waiters by kind.",
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(c.Dispatches, c.Duration, c.MotionWarnings, c.Lines)
	}
	return c
}

func (c *Collector) ObserveDispatch(command, policy, outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.Dispatches.WithLabelValues(command, policy, outcome).Inc()
	c.Duration.WithLabelValues(policy).Observe(elapsed.Seconds())
}

func (c *Collector) MotionWarning() {
	if c == nil {
		return
	}
	c.MotionWarnings.Inc()
}

// Line counts a consumed response line; kind is "noise" or "response".
func (c *Collector) Line(kind string) {
	if c == nil {
		return
	}
	c.Lines.WithLabelValues(kind).Inc()
}
