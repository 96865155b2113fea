package service

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ObservationHooks captures optional callbacks for arbitrary operations.
type ObservationHooks struct {
	OnStart    func(ctx context.Context, meta map[string]string)
	OnComplete func(ctx context.Context, meta map[string]string, err error, duration time.Duration)
}

// NoopObservationHooks provides a safe default.
var NoopObservationHooks = ObservationHooks{}

// StartObservation triggers OnStart and returns a completion callback for OnComplete.
func StartObservation(ctx context.Context, hooks ObservationHooks, meta map[string]string) func(error) {
	if hooks.OnStart != nil {
		hooks.OnStart(ctx, meta)
	}
	start := time.Now()
	return func(err error) {
		if hooks.OnComplete != nil {
			hooks.OnComplete(ctx, meta, err, time.Since(start))
		}
	}
}

// NewMetricsHooks builds ObservationHooks that record every operation's
// outcome and duration as Prometheus series under wavs_<subsystem>_*,
// keyed by meta["operation"]. Registered against reg so multiple
// subsystems (trigger, submission, aggregator, engine) can share one
// registry without colliding on metric names.
func NewMetricsHooks(reg prometheus.Registerer, subsystem string) ObservationHooks {
	total := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wavs",
		Subsystem: subsystem,
		Name:      "operations_total",
		Help:      "Operations handled by this subsystem, by operation and outcome.",
	}, []string{"operation", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "wavs",
		Subsystem: subsystem,
		Name:      "operation_duration_seconds",
		Help:      "Operation duration in seconds, by operation.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
	reg.MustRegister(total, duration)

	return ObservationHooks{
		OnComplete: func(_ context.Context, meta map[string]string, err error, d time.Duration) {
			op := meta["operation"]
			outcome := "ok"
			if err != nil {
				outcome = "error"
			}
			total.WithLabelValues(op, outcome).Inc()
			duration.WithLabelValues(op).Observe(d.Seconds())
		},
	}
}
