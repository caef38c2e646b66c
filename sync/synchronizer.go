// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package sync composes the Version Manager and Document Updater into the
// single business-logic processor every consumer drives, and supplies the
// Event Router, Immediate Consumer, and Batch Consumer as independent
// queue.Processor[kafka.Message] implementations over that shared apply
// path (spec §4.2–§4.5).
package sync

import (
	"context"
	"log/slog"
	"time"

	"profilesync"
	"profilesync/document"
	"profilesync/event"
	"profilesync/metrics"
	"profilesync/version"
)

// fastPathUpdater is the subset of [version.Manager] the Synchronizer
// depends on, narrowed to an interface so it can be faked in tests without
// a live Valkey instance.
type fastPathUpdater interface {
	SafeUpdate(ctx context.Context, userID string, updates map[string]event.Value, source string, lockTimeout time.Duration) (version.Result, error)
}

// Synchronizer applies a decoded event to both the document store and the
// fast-path store. The two stores are independent authorities with eventual
// reconciliation (SPEC_FULL.md's resolution of spec §9's second Open
// Question): the fast-path update is best-effort and never gates the
// document outcome returned to the caller.
type Synchronizer struct {
	log         *slog.Logger
	docs        document.Store
	versions    fastPathUpdater
	metrics     *metrics.Recorder
	lockTimeout time.Duration
}

// NewSynchronizer builds a [Synchronizer] over docs and versions.
func NewSynchronizer(docs document.Store, versions *version.Manager, m *metrics.Recorder, lockTimeout time.Duration) *Synchronizer {
	if lockTimeout <= 0 {
		lockTimeout = 200 * time.Millisecond
	}
	s := &Synchronizer{
		log:         profilesync.Logger("profilesync/sync"),
		docs:        docs,
		metrics:     m,
		lockTimeout: lockTimeout,
	}
	if versions != nil {
		s.versions = versions
	}
	return s
}

// Apply applies e to the document store and records the matching §4.6
// counter. It also mirrors the update to the fast-path store, logging (but
// never failing on) a fast-path/document disagreement.
func (s *Synchronizer) Apply(ctx context.Context, e event.Event) document.ApplyOutcome {
	outcome := s.docs.Apply(ctx, e)

	switch {
	case outcome.IsApplied():
		s.metrics.DocApplied(ctx)
	case outcome.IsStale():
		s.metrics.DocStale(ctx)
	default:
		s.metrics.DocFailed(ctx, metrics.ErrorTypeTransientStore)
	}

	s.mirrorFastPath(ctx, e)

	return outcome
}

func (s *Synchronizer) mirrorFastPath(ctx context.Context, e event.Event) {
	if s.versions == nil {
		return
	}

	updates := flattenPartitions(e)
	result, err := s.versions.SafeUpdate(ctx, e.UserID, updates, "sync.Synchronizer", s.lockTimeout)
	switch {
	case err != nil:
		s.log.WarnContext(ctx, "fast-path update failed", slog.String("user_id", e.UserID), slog.Any("error", err))
	case result == version.ResultLockFailed:
		s.metrics.VersionLockFailed(ctx)
	case result == version.ResultSuccess:
		s.metrics.VersionSuccess(ctx)
	}
}

// flattenPartitions merges the six named partition maps into one field map
// for the fast-path store, prefixing each key with its partition so fields
// with the same name in different partitions never collide.
func flattenPartitions(e event.Event) map[string]event.Value {
	names := [...]string{
		"static_profile", "dynamic_profile", "computed_metrics",
		"behavioral_data", "social_media", "extended_properties",
	}
	out := map[string]event.Value{}
	for i, fields := range e.Partitions {
		for k, v := range fields {
			out[names[i]+"."+k] = v
		}
	}
	return out
}
