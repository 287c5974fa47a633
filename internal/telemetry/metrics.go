// Package telemetry provides OpenTelemetry metrics for sync operations.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/promptops/skillsync/internal/syncer"

// SyncMetrics records sync operation metrics. A nil *SyncMetrics is valid
// and records nothing.
type SyncMetrics struct {
	fetchOutcomes metric.Int64Counter
	syncDuration  metric.Float64Histogram
}

// NewSyncMetrics creates sync metrics on the given meter. A nil meter uses
// the global meter provider.
func NewSyncMetrics(meter metric.Meter) (*SyncMetrics, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}

	fetchOutcomes, err := meter.Int64Counter(
		"skillsync.fetch.outcomes",
		metric.WithDescription("Count of artifact fetch outcomes by source and outcome"),
	)
	if err != nil {
		return nil, err
	}

	syncDuration, err := meter.Float64Histogram(
		"skillsync.sync.duration",
		metric.WithDescription("Duration of per-source sync passes"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		fetchOutcomes: fetchOutcomes,
		syncDuration:  syncDuration,
	}, nil
}

// RecordFetchOutcome records one artifact fetch outcome.
func (m *SyncMetrics) RecordFetchOutcome(ctx context.Context, sourceID, outcome string) {
	if m == nil {
		return
	}
	m.fetchOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", sourceID),
		attribute.String("outcome", outcome),
	))
}

// RecordSyncDuration records the duration of one per-source sync pass.
func (m *SyncMetrics) RecordSyncDuration(ctx context.Context, sourceID string, d time.Duration, status string) {
	if m == nil {
		return
	}
	m.syncDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("source", sourceID),
		attribute.String("status", status),
	))
}
