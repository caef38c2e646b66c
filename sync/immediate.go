// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"profilesync/event"
	"profilesync/metrics"
	"profilesync/queue/kafka"
)

// ImmediateProcessor implements the Immediate Consumer (spec §4.2): process
// one record at a time, retry the Synchronizer up to Retries times with
// exponential backoff, and demote to the batch egress on exhaustion rather
// than dropping the event.
type ImmediateProcessor struct {
	sync       *Synchronizer
	producer   Producer
	batchTopic string

	retries       int
	backoff       time.Duration
	backoffFactor float64

	metrics *metrics.Recorder
}

// NewImmediateProcessor builds an [ImmediateProcessor]. retries/backoff/
// backoffFactor default to spec §4.2's N=3, 1s, factor 2 when zero-valued.
func NewImmediateProcessor(s *Synchronizer, producer Producer, batchTopic string, retries int, backoff time.Duration, backoffFactor float64, m *metrics.Recorder) *ImmediateProcessor {
	if retries <= 0 {
		retries = 3
	}
	if backoff <= 0 {
		backoff = time.Second
	}
	if backoffFactor <= 0 {
		backoffFactor = 2
	}
	return &ImmediateProcessor{
		sync:          s,
		producer:      producer,
		batchTopic:    batchTopic,
		retries:       retries,
		backoff:       backoff,
		backoffFactor: backoffFactor,
		metrics:       m,
	}
}

// Process implements queue.Processor[kafka.Message].
func (p *ImmediateProcessor) Process(ctx context.Context, msg kafka.Message) error {
	start := time.Now()

	e, err := event.Unmarshal(msg.Value)
	if err != nil {
		return fmt.Errorf("sync: immediate consumer failed to decode event: %w", err)
	}

	outcome := p.sync.Apply(ctx, e)
	backoff := p.backoff
	for attempt := 1; outcome.IsFailed() && attempt < p.retries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = time.Duration(float64(backoff) * p.backoffFactor)

		outcome = p.sync.Apply(ctx, e)
	}

	p.metrics.ImmediateDuration(ctx, time.Since(start).Seconds())

	if !outcome.IsFailed() {
		p.metrics.ImmediateSuccess(ctx)
		return nil
	}

	return p.demote(ctx, e)
}

// demote publishes e unchanged except priority=BATCH to the batch egress,
// per spec §4.2. A failed demotion publish must NOT be swallowed: the
// caller must not commit the original record's offset so it is redelivered.
func (p *ImmediateProcessor) demote(ctx context.Context, e event.Event) error {
	demoted := e.Demote()
	rec := &kgo.Record{
		Topic: p.batchTopic,
		Key:   []byte(demoted.UserID),
		Value: event.Marshal(demoted),
	}

	res := p.producer.ProduceSync(ctx, rec)
	if err := res.FirstErr(); err != nil {
		p.metrics.ImmediateFallbackFailed(ctx)
		return fmt.Errorf("sync: failed to demote event %s/%d after retry exhaustion: %w: %w", e.UserID, e.Version, kafka.ErrDoNotCommit, err)
	}

	p.metrics.ImmediateFallback(ctx)
	return nil
}
