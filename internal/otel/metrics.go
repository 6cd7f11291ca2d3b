package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the archivist instruments.
type Metrics struct {
	ArchiveOpDuration metric.Float64Histogram
	ArchiveOps        metric.Int64Counter
	RemoteCallErrors  metric.Int64Counter
	ScanDrift         metric.Int64Counter
	AnalyzeDuration   metric.Float64Histogram
	AnalyzeFindings   metric.Int64Counter
	RequestDuration   metric.Float64Histogram
	RateLimitRejects  metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.ArchiveOpDuration, err = meter.Float64Histogram("archivist.archive.duration",
		metric.WithDescription("Archive lifecycle operation duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.ArchiveOps, err = meter.Int64Counter("archivist.archive.ops",
		metric.WithDescription("Archive lifecycle operations by op and outcome"),
	); err != nil {
		return nil, err
	}
	if m.RemoteCallErrors, err = meter.Int64Counter("archivist.remote.errors",
		metric.WithDescription("Failed chat platform calls"),
	); err != nil {
		return nil, err
	}
	if m.ScanDrift, err = meter.Int64Counter("archivist.scan.drift",
		metric.WithDescription("Archives found on only one side during a scan"),
	); err != nil {
		return nil, err
	}
	if m.AnalyzeDuration, err = meter.Float64Histogram("archivist.analyze.duration",
		metric.WithDescription("Script analysis duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.AnalyzeFindings, err = meter.Int64Counter("archivist.analyze.findings",
		metric.WithDescription("Findings produced by the analyzer by category"),
	); err != nil {
		return nil, err
	}
	if m.RequestDuration, err = meter.Float64Histogram("archivist.request.duration",
		metric.WithDescription("Gateway request duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.RateLimitRejects, err = meter.Int64Counter("archivist.ratelimit.rejects",
		metric.WithDescription("Requests rejected by rate limiter"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordArchiveOp records one lifecycle operation. Safe on a nil receiver.
func (m *Metrics) RecordArchiveOp(ctx context.Context, op, outcome string, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(AttrOperation.String(op), AttrOutcome.String(outcome))
	m.ArchiveOps.Add(ctx, 1, attrs)
	m.ArchiveOpDuration.Record(ctx, seconds, attrs)
}

// RecordRemoteError counts a failed platform call. Safe on a nil receiver.
func (m *Metrics) RecordRemoteError(ctx context.Context, op string) {
	if m == nil {
		return
	}
	m.RemoteCallErrors.Add(ctx, 1, metric.WithAttributes(AttrOperation.String(op)))
}

// RecordDrift counts archives present on only one side. Safe on a nil receiver.
func (m *Metrics) RecordDrift(ctx context.Context, side string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.ScanDrift.Add(ctx, int64(n), metric.WithAttributes(attribute.String("archivist.scan.side", side)))
}

// RecordAnalysis records one analyzer run. Safe on a nil receiver.
func (m *Metrics) RecordAnalysis(ctx context.Context, seconds float64, counts map[string]int) {
	if m == nil {
		return
	}
	m.AnalyzeDuration.Record(ctx, seconds)
	for category, n := range counts {
		if n > 0 {
			m.AnalyzeFindings.Add(ctx, int64(n), metric.WithAttributes(AttrFindingCategory.String(category)))
		}
	}
}
