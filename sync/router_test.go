// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package sync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"profilesync/event"
	"profilesync/queue/kafka"
)

type fakeProducer struct {
	records []*kgo.Record
	err     error
}

func (f *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	f.records = append(f.records, rs...)
	results := make(kgo.ProduceResults, len(rs))
	for i, r := range rs {
		results[i] = kgo.ProduceResult{Record: r, Err: f.err}
	}
	return results
}

func TestRouterForwardsImmediateToImmediateTopic(t *testing.T) {
	e := event.Event{UserID: "u1", Priority: event.PriorityImmediate}
	data := event.Marshal(e)

	p := &fakeProducer{}
	r := NewRouter(p, "immediate-sync-events", "batch-sync-events", testMetrics(t))

	err := r.Process(context.Background(), kafka.Message{Key: []byte("u1"), Value: data})
	require.NoError(t, err)

	require.Len(t, p.records, 1)
	assert.Equal(t, "immediate-sync-events", p.records[0].Topic)
	assert.Equal(t, data, p.records[0].Value)
	assert.Equal(t, []byte("u1"), p.records[0].Key)
}

func TestRouterForwardsBatchToBatchTopic(t *testing.T) {
	e := event.Event{UserID: "u2", Priority: event.PriorityBatch}
	data := event.Marshal(e)

	p := &fakeProducer{}
	r := NewRouter(p, "immediate-sync-events", "batch-sync-events", testMetrics(t))

	err := r.Process(context.Background(), kafka.Message{Key: []byte("u2"), Value: data})
	require.NoError(t, err)

	require.Len(t, p.records, 1)
	assert.Equal(t, "batch-sync-events", p.records[0].Topic)
}

func TestRouterRoutesMalformedRecordsToBatch(t *testing.T) {
	p := &fakeProducer{}
	r := NewRouter(p, "immediate-sync-events", "batch-sync-events", testMetrics(t))

	garbage := []byte{0xFF}
	err := r.Process(context.Background(), kafka.Message{Key: []byte("u3"), Value: garbage})
	require.NoError(t, err)

	require.Len(t, p.records, 1)
	assert.Equal(t, "batch-sync-events", p.records[0].Topic)
	assert.Equal(t, garbage, p.records[0].Value)
}

func TestRouterPropagatesProduceFailure(t *testing.T) {
	p := &fakeProducer{err: assertErr("broker down")}
	r := NewRouter(p, "immediate-sync-events", "batch-sync-events", testMetrics(t))

	e := event.Event{UserID: "u1", Priority: event.PriorityImmediate}
	err := r.Process(context.Background(), kafka.Message{Value: event.Marshal(e)})
	assert.Error(t, err)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
