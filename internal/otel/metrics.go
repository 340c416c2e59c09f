package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the bridge's metric instruments.
type Metrics struct {
	JobsTotal      metric.Int64Counter
	JobDuration    metric.Float64Histogram
	SlackEvents    metric.Int64Counter
	QueueSubmitted metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.JobsTotal, err = meter.Int64Counter("bridge.jobs",
		metric.WithDescription("Jobs processed, by terminal status"),
	)
	if err != nil {
		return nil, err
	}

	m.JobDuration, err = meter.Float64Histogram("bridge.job.duration",
		metric.WithDescription("Agent job duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.SlackEvents, err = meter.Int64Counter("bridge.slack.events",
		metric.WithDescription("Slack events received, by kind"),
	)
	if err != nil {
		return nil, err
	}

	m.QueueSubmitted, err = meter.Int64Counter("bridge.queue.submitted",
		metric.WithDescription("Jobs submitted to the queue"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordJob bumps the job counter for status and, for completed jobs,
// records the duration.
func (m *Metrics) RecordJob(ctx context.Context, status string, d time.Duration) {
	m.JobsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	if d > 0 {
		m.JobDuration.Record(ctx, d.Seconds())
	}
}

// RecordSlackEvent bumps the inbound event counter for kind ("dm",
// "app_mention", "dropped").
func (m *Metrics) RecordSlackEvent(ctx context.Context, kind string) {
	m.SlackEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
