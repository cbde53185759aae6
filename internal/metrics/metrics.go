package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	ResultSuccess  = "success"
	ResultFailure  = "failure"
	ResultInvalid  = "invalid"
	ResultConflict = "conflict"
)

// Metrics records inventory activity. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	logins         *prometheus.CounterVec
	mutations      *prometheus.CounterVec
	refreshFailure prometheus.Counter
	remoteDuration *prometheus.HistogramVec
}

// New registers the inventory metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return &Metrics{}
	}
	logins := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tileinv_logins_total",
		Help: "Login attempts by result.",
	}, []string{"result"})
	mutations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tileinv_mutations_total",
		Help: "Tile mutations by operation and result.",
	}, []string{"op", "result"})
	refreshFailure := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tileinv_refresh_failures_total",
		Help: "Failed full reads of the tile table.",
	})
	remoteDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tileinv_remote_duration_seconds",
		Help:    "Duration of table client calls in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
	reg.MustRegister(logins, mutations, refreshFailure, remoteDuration)
	return &Metrics{
		logins:         logins,
		mutations:      mutations,
		refreshFailure: refreshFailure,
		remoteDuration: remoteDuration,
	}
}

func (m *Metrics) IncLogin(ok bool) {
	if m == nil || m.logins == nil {
		return
	}
	result := ResultSuccess
	if !ok {
		result = ResultFailure
	}
	m.logins.WithLabelValues(result).Inc()
}

// IncMutation counts one add, remove or update attempt.
func (m *Metrics) IncMutation(op, result string) {
	if m == nil || m.mutations == nil {
		return
	}
	m.mutations.WithLabelValues(normalizeLabel(op), normalizeLabel(result)).Inc()
}

func (m *Metrics) IncRefreshFailure() {
	if m == nil || m.refreshFailure == nil {
		return
	}
	m.refreshFailure.Inc()
}

// ObserveRemote records how long one table client call took.
func (m *Metrics) ObserveRemote(op string, d time.Duration) {
	if m == nil || m.remoteDuration == nil {
		return
	}
	m.remoteDuration.WithLabelValues(normalizeLabel(op)).Observe(d.Seconds())
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
