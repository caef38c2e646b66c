// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package sync

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	"profilesync/event"
	"profilesync/metrics"
	"profilesync/queue/kafka"
)

// Producer is the subset of *kgo.Client the sync package's forwarding
// processors depend on.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Router implements the Event Router (spec §4.1) as a
// queue.Processor[kafka.Message]: it decodes just enough of the record to
// read priority and forwards the byte-identical key/value to the matching
// egress topic. Malformed records route to the batch egress as a recovery
// default.
type Router struct {
	producer       Producer
	immediateTopic string
	batchTopic     string
	metrics        *metrics.Recorder
}

// NewRouter builds a [Router] that forwards onto immediateTopic/batchTopic
// via producer.
func NewRouter(producer Producer, immediateTopic, batchTopic string, m *metrics.Recorder) *Router {
	return &Router{
		producer:       producer,
		immediateTopic: immediateTopic,
		batchTopic:     batchTopic,
		metrics:        m,
	}
}

// Process implements queue.Processor[kafka.Message].
func (r *Router) Process(ctx context.Context, msg kafka.Message) error {
	_, priority, err := event.PeekPriority(msg.Value)
	malformed := err != nil

	topic := r.batchTopic
	if !malformed && priority == event.PriorityImmediate {
		topic = r.immediateTopic
	}

	rec := &kgo.Record{
		Topic:   topic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: toKgoHeaders(msg.Headers),
	}

	res := r.producer.ProduceSync(ctx, rec)
	if err := res.FirstErr(); err != nil {
		return fmt.Errorf("sync: router failed to forward record to %q: %w", topic, err)
	}

	switch {
	case malformed:
		r.metrics.RouterMalformed(ctx)
	case priority == event.PriorityImmediate:
		r.metrics.RouterRoutedImmediate(ctx)
	default:
		r.metrics.RouterRoutedBatch(ctx)
	}

	return nil
}

func toKgoHeaders(hdrs []kafka.Header) []kgo.RecordHeader {
	if len(hdrs) == 0 {
		return nil
	}
	out := make([]kgo.RecordHeader, len(hdrs))
	for i, h := range hdrs {
		out[i] = kgo.RecordHeader{Key: h.Key, Value: h.Value}
	}
	return out
}
