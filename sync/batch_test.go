// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"profilesync/document"
	"profilesync/event"
	"profilesync/queue/kafka"
	"profilesync/version"
)

type fakeDeadLetterSink struct {
	puts map[string][]byte
}

func (f *fakeDeadLetterSink) Put(_ context.Context, key string, data []byte) error {
	if f.puts == nil {
		f.puts = map[string][]byte{}
	}
	f.puts[key] = data
	return nil
}

func TestBatchProcessorSuccessDoesNotArchive(t *testing.T) {
	docs := &fakeDocStore{outcome: document.Applied()}
	dl := &fakeDeadLetterSink{}
	s := NewSynchronizer(docs, (*version.Manager)(nil), testMetrics(t), time.Second)
	p := NewBatchProcessor(s, dl, testMetrics(t))

	e := event.Event{UserID: "u1", Version: 1, Priority: event.PriorityBatch}
	err := p.Process(context.Background(), kafka.Message{Value: event.Marshal(e), Topic: "batch-sync-events", Partition: 0, Offset: 5})

	require.NoError(t, err)
	assert.Empty(t, dl.puts)
}

func TestBatchProcessorStaleIsNotAFailure(t *testing.T) {
	docs := &fakeDocStore{outcome: document.Stale()}
	dl := &fakeDeadLetterSink{}
	s := NewSynchronizer(docs, (*version.Manager)(nil), testMetrics(t), time.Second)
	p := NewBatchProcessor(s, dl, testMetrics(t))

	e := event.Event{UserID: "u7", Version: 3, Priority: event.PriorityBatch}
	err := p.Process(context.Background(), kafka.Message{Value: event.Marshal(e), Topic: "batch-sync-events"})

	require.NoError(t, err)
	assert.Empty(t, dl.puts)
}

func TestBatchProcessorFailureArchivesToDeadLetter(t *testing.T) {
	docs := &alwaysFailDocStore{}
	dl := &fakeDeadLetterSink{}
	s := NewSynchronizer(docs, (*version.Manager)(nil), testMetrics(t), time.Second)
	p := NewBatchProcessor(s, dl, testMetrics(t))

	e := event.Event{UserID: "u9", Version: 1, Priority: event.PriorityBatch}
	data := event.Marshal(e)
	err := p.Process(context.Background(), kafka.Message{Value: data, Topic: "batch-sync-events", Partition: 2, Offset: 17})

	assert.Error(t, err)
	require.Contains(t, dl.puts, "batch-sync-events/2/17")
	assert.Equal(t, data, dl.puts["batch-sync-events/2/17"])
}

func TestBatchProcessorMalformedRecordCountsDecodeFailure(t *testing.T) {
	docs := &fakeDocStore{outcome: document.Applied()}
	s := NewSynchronizer(docs, (*version.Manager)(nil), testMetrics(t), time.Second)
	p := NewBatchProcessor(s, nil, testMetrics(t))

	err := p.Process(context.Background(), kafka.Message{Value: []byte{0xFF}})
	assert.Error(t, err)
	assert.Empty(t, docs.applied)
}
