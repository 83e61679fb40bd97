package safebrowsing

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder is the telemetry sink the Update Engine and Lookup Pipeline
// report to. The default implementation is Prometheus-backed; callers
// that don't want metrics may pass a NopRecorder.
type Recorder interface {
	IncUpdate(list, outcome string)
	ObserveUpdateDuration(list string, d time.Duration)
	IncLookup(matched bool)
	IncFullHashRequest(outcome string)
}

// promRecorder is the default Recorder, registered under a configurable
// namespace so multiple Clients in one process don't collide.
type promRecorder struct {
	updates          *prometheus.CounterVec
	updateDuration   *prometheus.HistogramVec
	lookups          *prometheus.CounterVec
	fullHashRequests *prometheus.CounterVec
}

// NewPromRecorder builds and registers a Recorder against reg under
// namespace. Pass prometheus.DefaultRegisterer for the global registry.
func NewPromRecorder(reg prometheus.Registerer, namespace string) Recorder {
	r := &promRecorder{
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_total",
			Help:      "Update Engine poll outcomes per list.",
		}, []string{"list", "outcome"}),
		updateDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "update_duration_seconds",
			Help:      "Wall-clock duration of a full list update cycle.",
		}, []string{"list"}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookups_total",
			Help:      "Lookup Pipeline invocations, by whether any list matched.",
		}, []string{"matched"}),
		fullHashRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "full_hash_requests_total",
			Help:      "Remote full-hash resolution requests, by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(r.updates, r.updateDuration, r.lookups, r.fullHashRequests)
	return r
}

func (r *promRecorder) IncUpdate(list, outcome string) {
	r.updates.WithLabelValues(list, outcome).Inc()
}

func (r *promRecorder) ObserveUpdateDuration(list string, d time.Duration) {
	r.updateDuration.WithLabelValues(list).Observe(d.Seconds())
}

func (r *promRecorder) IncLookup(matched bool) {
	label := "false"
	if matched {
		label = "true"
	}
	r.lookups.WithLabelValues(label).Inc()
}

func (r *promRecorder) IncFullHashRequest(outcome string) {
	r.fullHashRequests.WithLabelValues(outcome).Inc()
}

// NopRecorder discards every observation.
type NopRecorder struct{}

func (NopRecorder) IncUpdate(string, string)                  {}
func (NopRecorder) ObserveUpdateDuration(string, time.Duration) {}
func (NopRecorder) IncLookup(bool)                            {}
func (NopRecorder) IncFullHashRequest(string)                 {}
