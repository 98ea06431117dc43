package otel

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	initMetricsOnce    sync.Once
	taskOpsCounter     metric.Int64Counter
	lockAcquired       metric.Int64Counter
	lockConflicts      metric.Int64Counter
	transitionsCounter metric.Int64Counter
	mentionsCounter    metric.Int64Counter
	pollDuration       metric.Float64Histogram
)

// InitMetrics creates the meter instruments. Safe to call multiple times; only runs once.
// Call after InitMeterProvider.
func InitMetrics(ctx context.Context) error {
	var err error
	initMetricsOnce.Do(func() {
		m := Meter()
		taskOpsCounter, err = m.Int64Counter("taskhive_task_operations_total", metric.WithDescription("Total task operations (create, next, delete, etc.)"))
		if err != nil {
			return
		}
		lockAcquired, err = m.Int64Counter("taskhive_lock_acquisitions_total", metric.WithDescription("Total successful task lock acquisitions"))
		if err != nil {
			return
		}
		lockConflicts, err = m.Int64Counter("taskhive_lock_conflicts_total", metric.WithDescription("Total task lock attempts rejected with a conflict"))
		if err != nil {
			return
		}
		transitionsCounter, err = m.Int64Counter("taskhive_transitions_total", metric.WithDescription("Total status transitions by outcome"))
		if err != nil {
			return
		}
		mentionsCounter, err = m.Int64Counter("taskhive_mentions_recorded_total", metric.WithDescription("Total mention rows recorded"))
		if err != nil {
			return
		}
		pollDuration, err = m.Float64Histogram("taskhive_poll_duration_seconds", metric.WithDescription("Change poll duration in seconds"))
		if err != nil {
			return
		}
	})
	return err
}

// RecordTaskOp records a task operation (create, next, delete, etc.).
func RecordTaskOp(ctx context.Context, op, status string) {
	if taskOpsCounter == nil {
		return
	}
	taskOpsCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		AttrStatus.String(status),
	))
}

// RecordLock records one lock attempt outcome.
func RecordLock(ctx context.Context, acquired bool) {
	if acquired {
		if lockAcquired != nil {
			lockAcquired.Add(ctx, 1)
		}
		return
	}
	if lockConflicts != nil {
		lockConflicts.Add(ctx, 1)
	}
}

// RecordTransition records a transition attempt by edge and outcome
// ("accepted" or "rejected").
func RecordTransition(ctx context.Context, from, to, outcome string) {
	if transitionsCounter == nil {
		return
	}
	transitionsCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
		attribute.String("outcome", outcome),
	))
}

// RecordMentions records n mention rows written for a source type.
func RecordMentions(ctx context.Context, sourceType string, n int) {
	if mentionsCounter == nil || n == 0 {
		return
	}
	mentionsCounter.Add(ctx, int64(n), metric.WithAttributes(attribute.String("source_type", sourceType)))
}

// RecordPoll records a change poll duration.
func RecordPoll(ctx context.Context, duration time.Duration) {
	if pollDuration != nil {
		pollDuration.Record(ctx, duration.Seconds())
	}
}

// TaskCountFunc returns task counts by status. Used for the taskhive_tasks_total gauge.
type TaskCountFunc func() map[string]int64

// InitMetricsWithTaskCount creates instruments and optionally registers a callback for task gauges.
// Call after InitMeterProvider. If taskCount is nil, task gauges are not reported.
func InitMetricsWithTaskCount(ctx context.Context, taskCount TaskCountFunc) error {
	if err := InitMetrics(ctx); err != nil {
		return err
	}
	if taskCount == nil {
		return nil
	}
	m := Meter()
	tasksGauge, err := m.Float64ObservableGauge("taskhive_tasks_total", metric.WithDescription("Number of tasks by status"))
	if err != nil {
		return err
	}
	_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		for status, n := range taskCount() {
			o.ObserveFloat64(tasksGauge, float64(n), metric.WithAttributes(AttrStatus.String(status)))
		}
		return nil
	}, tasksGauge)
	return err
}
