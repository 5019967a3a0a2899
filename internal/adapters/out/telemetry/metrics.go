package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/bnema/odoobackup/internal/boundaries/out"
	"github.com/bnema/odoobackup/internal/domain"
)

var _ out.BackupMetrics = (*Metrics)(nil)

// Metrics holds the backup engine instruments.
type Metrics struct {
	Cycles          metric.Int64Counter
	CycleDuration   metric.Float64Histogram
	Evicted         metric.Int64Counter
	DeleteFailures  metric.Int64Counter
	Uploads         metric.Int64Counter
	UploadedBytes   metric.Int64Counter
	SyncObjects     metric.Int64Counter
	Restores        metric.Int64Counter
	RestoreDuration metric.Float64Histogram
}

// NewMetrics creates instruments on the global meter provider. They are
// noop until a provider is installed.
func NewMetrics() (*Metrics, error) {
	return NewMetricsFromMeter(otel.Meter("odoobackup"))
}

// NewMetricsFromMeter creates instruments on meter.
func NewMetricsFromMeter(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.Cycles, err = meter.Int64Counter("odoobackup.cycles",
		metric.WithDescription("Backup cycles by result")); err != nil {
		return nil, err
	}
	if m.CycleDuration, err = meter.Float64Histogram("odoobackup.cycle.duration",
		metric.WithDescription("Backup cycle duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 10, 30, 60, 300, 900, 1800, 3600)); err != nil {
		return nil, err
	}
	if m.Evicted, err = meter.Int64Counter("odoobackup.retention.evicted",
		metric.WithDescription("Artifacts evicted by retention")); err != nil {
		return nil, err
	}
	if m.DeleteFailures, err = meter.Int64Counter("odoobackup.retention.delete_failures",
		metric.WithDescription("Failed deletes of evicted artifacts by location")); err != nil {
		return nil, err
	}
	if m.Uploads, err = meter.Int64Counter("odoobackup.remote.uploads",
		metric.WithDescription("Artifact uploads by result")); err != nil {
		return nil, err
	}
	if m.UploadedBytes, err = meter.Int64Counter("odoobackup.remote.uploaded",
		metric.WithDescription("Bytes uploaded to the remote store"),
		metric.WithUnit("By")); err != nil {
		return nil, err
	}
	if m.SyncObjects, err = meter.Int64Counter("odoobackup.sync.objects",
		metric.WithDescription("Remote objects reconciled by outcome")); err != nil {
		return nil, err
	}
	if m.Restores, err = meter.Int64Counter("odoobackup.restores",
		metric.WithDescription("Restores by final state")); err != nil {
		return nil, err
	}
	if m.RestoreDuration, err = meter.Float64Histogram("odoobackup.restore.duration",
		metric.WithDescription("Restore duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(10, 60, 300, 900, 1800, 3600)); err != nil {
		return nil, err
	}

	return m, nil
}

func result(err error) attribute.KeyValue {
	if err != nil {
		return attribute.String("result", "error")
	}
	return attribute.String("result", "ok")
}

// CycleFinished records one produce-and-retain cycle.
func (m *Metrics) CycleFinished(ctx context.Context, err error, d time.Duration) {
	attrs := metric.WithAttributes(result(err))
	m.Cycles.Add(ctx, 1, attrs)
	m.CycleDuration.Record(ctx, d.Seconds(), attrs)
}

// ArtifactsEvicted records artifacts dropped by retention.
func (m *Metrics) ArtifactsEvicted(ctx context.Context, n int) {
	if n > 0 {
		m.Evicted.Add(ctx, int64(n))
	}
}

// RetentionDeleteFailed records a failed delete; location is "local" or "remote".
func (m *Metrics) RetentionDeleteFailed(ctx context.Context, location string) {
	m.DeleteFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("location", location)))
}

// UploadFinished records one upload attempt.
func (m *Metrics) UploadFinished(ctx context.Context, err error, bytes int64) {
	m.Uploads.Add(ctx, 1, metric.WithAttributes(result(err)))
	if err == nil && bytes > 0 {
		m.UploadedBytes.Add(ctx, bytes)
	}
}

// SyncObject records the outcome for one remote object.
func (m *Metrics) SyncObject(ctx context.Context, outcome domain.SyncOutcome) {
	m.SyncObjects.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))
}

// RestoreFinished records a restore by final state.
func (m *Metrics) RestoreFinished(ctx context.Context, state domain.RestoreState, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("state", string(state)))
	m.Restores.Add(ctx, 1, attrs)
	m.RestoreDuration.Record(ctx, d.Seconds(), attrs)
}
