// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package sync

import (
	"context"
	"fmt"
	"time"

	"profilesync/event"
	"profilesync/metrics"
	"profilesync/queue/kafka"
)

// DeadLetterSink persists permanently-failed batch records for later
// operator replay (SPEC_FULL.md's resolution of spec §9's third Open
// Question). It does not change the counted batch.sync.failure outcome or
// the offset commit — it is a durable side channel only.
type DeadLetterSink interface {
	Put(ctx context.Context, key string, data []byte) error
}

// BatchProcessor implements the Batch Consumer (spec §4.3): apply each
// record through the Synchronizer with per-record error isolation and no
// retry loop. Failures are counted and, if a dead-letter sink is
// configured, archived; they never abort sibling records in the same
// batch, because the kafka runtime's at-least-once orchestrator already
// processes every record in a fetch before acknowledging it as a whole.
type BatchProcessor struct {
	sync       *Synchronizer
	deadLetter DeadLetterSink
	metrics    *metrics.Recorder
}

// NewBatchProcessor builds a [BatchProcessor]. deadLetter may be nil, in
// which case permanently-failed records are counted but not archived.
func NewBatchProcessor(s *Synchronizer, deadLetter DeadLetterSink, m *metrics.Recorder) *BatchProcessor {
	return &BatchProcessor{sync: s, deadLetter: deadLetter, metrics: m}
}

// Process implements queue.Processor[kafka.Message].
func (p *BatchProcessor) Process(ctx context.Context, msg kafka.Message) error {
	start := time.Now()

	e, err := event.Unmarshal(msg.Value)
	if err != nil {
		p.metrics.BatchFailure(ctx, metrics.ErrorTypeDecode)
		return fmt.Errorf("sync: batch consumer failed to decode event: %w", err)
	}

	outcome := p.sync.Apply(ctx, e)
	p.metrics.BatchDuration(ctx, time.Since(start).Seconds())

	if !outcome.IsFailed() {
		p.metrics.BatchSuccess(ctx)
		return nil
	}

	p.metrics.BatchFailure(ctx, metrics.ErrorTypePermanent)

	if p.deadLetter != nil {
		key := fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
		if derr := p.deadLetter.Put(ctx, key, msg.Value); derr != nil {
			return fmt.Errorf("sync: failed to archive dead letter %s: %w", key, derr)
		}
	}

	return outcome.Err()
}
