package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Zone metrics
	ZonesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "warden_zones_total",
			Help: "Total number of zones by server and desired state",
		},
		[]string{"server", "state"},
	)

	ZonesDiverged = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_zones_diverged",
			Help: "Number of zones whose applied state differs from desired",
		},
	)

	// Transport metrics
	RconRoundtripsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_rcon_roundtrips_total",
			Help: "Total number of RCON request/response roundtrips by outcome",
		},
		[]string{"server", "outcome"},
	)

	RconReconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_rcon_reconnects_total",
			Help: "Total number of RCON session reconnects",
		},
		[]string{"server"},
	)

	// Reconciliation metrics
	ReconcileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warden_reconcile_duration_seconds",
			Help:    "Reconciliation cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconcileCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_reconcile_cycles_total",
			Help: "Total number of reconciliation cycles",
		},
	)

	CommandFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_command_failures_total",
			Help: "Total number of failed RCON configuration commands",
		},
		[]string{"server"},
	)

	// Monitoring pass metrics
	PassDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warden_pass_duration_seconds",
			Help:    "Monitoring pass duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"server"},
	)

	LockDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_lock_denials_total",
			Help: "Total number of monitoring passes skipped because the lock was held",
		},
		[]string{"server"},
	)

	// Watchdog metrics
	HealthAlertsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_health_alerts_active",
			Help: "Number of zones currently flagged as stuck by the watchdog",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(ZonesTotal)
	prometheus.MustRegister(ZonesDiverged)
	prometheus.MustRegister(RconRoundtripsTotal)
	prometheus.MustRegister(RconReconnectsTotal)
	prometheus.MustRegister(ReconcileDuration)
	prometheus.MustRegister(ReconcileCyclesTotal)
	prometheus.MustRegister(CommandFailuresTotal)
	prometheus.MustRegister(PassDuration)
	prometheus.MustRegister(LockDenialsTotal)
	prometheus.MustRegister(HealthAlertsActive)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures a duration for histogram observation
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time on a histogram
func (t *Timer) ObserveDuration(h prometheus.Histogram) {
	h.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time on a labeled histogram
func (t *Timer) ObserveDurationVec(h *prometheus.HistogramVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}
