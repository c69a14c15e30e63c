package migrator

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors the migrator updates. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Migrations   *prometheus.CounterVec
	Steps        *prometheus.CounterVec
	StepDuration *prometheus.HistogramVec
	InProgress   prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg when reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Migrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storeferry",
			Name:      "migrations_total",
			Help:      "Migration requests by outcome",
		}, []string{"outcome"}),
		Steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storeferry",
			Name:      "steps_total",
			Help:      "Applied migration steps by status",
		}, []string{"status"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "storeferry",
			Name:      "step_duration_seconds",
			Help:      "Duration of a single migration step",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"source", "destination"}),
		InProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "storeferry",
			Name:      "migrations_in_progress",
			Help:      "Migrations currently holding a store lock",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Migrations, m.Steps, m.StepDuration, m.InProgress)
	}
	return m
}

// outcomeLabel maps a pipeline result to the migrations_total label.
func outcomeLabel(res *Result, err error) string {
	switch {
	case err == nil && res != nil && res.Created:
		return "created"
	case err == nil && res != nil && !res.Migrated:
		return "up_to_date"
	case err == nil:
		return "migrated"
	case errors.Is(err, ErrCatalogMalformed):
		return "catalog_malformed"
	case errors.Is(err, ErrStoreUnreadable):
		return "store_unreadable"
	case errors.Is(err, ErrVersionUnresolvable):
		return "version_unresolvable"
	case errors.Is(err, ErrNoPathFound):
		return "no_path_found"
	case errors.Is(err, ErrStepFailed):
		return "step_failed"
	case errors.Is(err, ErrSwapFailed):
		return "swap_failed"
	case errors.Is(err, ErrCanceled):
		return "canceled"
	case errors.Is(err, ErrMigrationInProgress):
		return "in_progress"
	default:
		return "error"
	}
}

func (m *Metrics) observeOutcome(res *Result, err error) {
	if m == nil {
		return
	}
	m.Migrations.WithLabelValues(outcomeLabel(res, err)).Inc()
}

func (m *Metrics) observeStep(step MigrationStep, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "failed"
	}
	m.Steps.WithLabelValues(status).Inc()
	m.StepDuration.WithLabelValues(step.Source.Name, step.Destination.Name).Observe(d.Seconds())
}

func (m *Metrics) inProgress(delta float64) {
	if m == nil {
		return
	}
	m.InProgress.Add(delta)
}
