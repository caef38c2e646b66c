// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package metrics is the shared observability surface every pipeline
// component records into: the named counters and timers from spec §4.6,
// built once as an explicit recorder struct rather than ad hoc
// otel.Meter(...) calls scattered through the codebase, matching the
// teacher's queue/kafka/metrics.go pattern.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "profilesync"

// ErrorType classifies a failure for the error.type attribute on metrics and
// logs. It extends the teacher's single catch-all errorType helper
// (queue/kafka/slog.go) with the taxonomy spec §7 actually distinguishes.
type ErrorType string

const (
	ErrorTypeDecode            ErrorType = "decode_error"
	ErrorTypeTransientStore    ErrorType = "transient_store_error"
	ErrorTypeVersionConflict   ErrorType = "version_conflict"
	ErrorTypeLockFailed        ErrorType = "lock_failed"
	ErrorTypePermanent         ErrorType = "permanent_error"
)

// Recorder holds every OTel instrument named in spec §4.6.
type Recorder struct {
	immediateSuccess       metric.Int64Counter
	immediateFallback      metric.Int64Counter
	immediateFallbackFailed metric.Int64Counter
	immediateDuration      metric.Float64Histogram

	batchSuccess  metric.Int64Counter
	batchFailure  metric.Int64Counter
	batchDuration metric.Float64Histogram

	routerRoutedImmediate metric.Int64Counter
	routerRoutedBatch     metric.Int64Counter
	routerMalformed       metric.Int64Counter

	docApplied metric.Int64Counter
	docStale   metric.Int64Counter
	docFailed  metric.Int64Counter

	versionSuccess    metric.Int64Counter
	versionConflict   metric.Int64Counter
	versionLockFailed metric.Int64Counter
}

// New constructs a [Recorder] using instruments registered against provider.
func New(provider metric.MeterProvider) (*Recorder, error) {
	meter := provider.Meter(meterName)

	var r Recorder
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&r.immediateSuccess, "immediate.sync.success", "Immediate events successfully applied"},
		{&r.immediateFallback, "immediate.sync.fallback", "Immediate events demoted to batch after retry exhaustion"},
		{&r.immediateFallbackFailed, "immediate.sync.fallback_failed", "Demotion publishes that themselves failed"},
		{&r.batchSuccess, "batch.sync.success", "Batch events successfully applied"},
		{&r.batchFailure, "batch.sync.failure", "Batch events that failed to apply"},
		{&r.routerRoutedImmediate, "router.routed.immediate", "Records routed to the immediate egress"},
		{&r.routerRoutedBatch, "router.routed.batch", "Records routed to the batch egress"},
		{&r.routerMalformed, "router.malformed", "Records that failed to decode and were routed to batch as a recovery default"},
		{&r.docApplied, "doc.update.applied", "Document updates applied"},
		{&r.docStale, "doc.update.stale", "Document updates superseded by a later version"},
		{&r.docFailed, "doc.update.failed", "Document updates that failed with an infrastructure error"},
		{&r.versionSuccess, "version.update.success", "Fast-path version updates applied"},
		{&r.versionConflict, "version.update.conflict", "Fast-path CAS version conflicts"},
		{&r.versionLockFailed, "version.lock.failed", "Fast-path lock acquisition failures"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit("{event}"))
		if err != nil {
			return nil, err
		}
	}

	r.immediateDuration, err = meter.Float64Histogram(
		"immediate.sync.duration",
		metric.WithDescription("Immediate consumer end-to-end apply duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	r.batchDuration, err = meter.Float64Histogram(
		"batch.sync.duration",
		metric.WithDescription("Batch consumer per-record apply duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &r, nil
}

func (r *Recorder) ImmediateSuccess(ctx context.Context)       { r.immediateSuccess.Add(ctx, 1) }
func (r *Recorder) ImmediateFallback(ctx context.Context)      { r.immediateFallback.Add(ctx, 1) }
func (r *Recorder) ImmediateFallbackFailed(ctx context.Context) {
	r.immediateFallbackFailed.Add(ctx, 1)
}

func (r *Recorder) ImmediateDuration(ctx context.Context, seconds float64) {
	r.immediateDuration.Record(ctx, seconds)
}

func (r *Recorder) BatchSuccess(ctx context.Context) { r.batchSuccess.Add(ctx, 1) }
func (r *Recorder) BatchFailure(ctx context.Context, errType ErrorType) {
	r.batchFailure.Add(ctx, 1, metric.WithAttributes(attribute.String("error.type", string(errType))))
}
func (r *Recorder) BatchDuration(ctx context.Context, seconds float64) {
	r.batchDuration.Record(ctx, seconds)
}

func (r *Recorder) RouterRoutedImmediate(ctx context.Context) { r.routerRoutedImmediate.Add(ctx, 1) }
func (r *Recorder) RouterRoutedBatch(ctx context.Context)     { r.routerRoutedBatch.Add(ctx, 1) }
func (r *Recorder) RouterMalformed(ctx context.Context)       { r.routerMalformed.Add(ctx, 1) }

func (r *Recorder) DocApplied(ctx context.Context) { r.docApplied.Add(ctx, 1) }
func (r *Recorder) DocStale(ctx context.Context)   { r.docStale.Add(ctx, 1) }
func (r *Recorder) DocFailed(ctx context.Context, errType ErrorType) {
	r.docFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("error.type", string(errType))))
}

func (r *Recorder) VersionSuccess(ctx context.Context)  { r.versionSuccess.Add(ctx, 1) }
func (r *Recorder) VersionConflict(ctx context.Context) { r.versionConflict.Add(ctx, 1) }
func (r *Recorder) VersionLockFailed(ctx context.Context) {
	r.versionLockFailed.Add(ctx, 1)
}
