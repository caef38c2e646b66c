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

type flakyDocStore struct {
	failuresBeforeSuccess int
	calls                 int
}

func (f *flakyDocStore) Apply(_ context.Context, _ event.Event) document.ApplyOutcome {
	f.calls++
	if f.calls <= f.failuresBeforeSuccess {
		return document.Failed(assertErr("transient"))
	}
	return document.Applied()
}

type alwaysFailDocStore struct{ calls int }

func (f *alwaysFailDocStore) Apply(_ context.Context, _ event.Event) document.ApplyOutcome {
	f.calls++
	return document.Failed(assertErr("permanent"))
}

func TestImmediateProcessorSucceedsWithoutRetry(t *testing.T) {
	docs := &flakyDocStore{}
	s := NewSynchronizer(docs, (*version.Manager)(nil), testMetrics(t), time.Second)
	p := NewImmediateProcessor(s, &fakeProducer{}, "batch-sync-events", 3, time.Millisecond, 2, testMetrics(t))

	e := event.Event{UserID: "u1", Version: 1, Priority: event.PriorityImmediate}
	err := p.Process(context.Background(), kafka.Message{Value: event.Marshal(e)})

	require.NoError(t, err)
	assert.Equal(t, 1, docs.calls)
}

func TestImmediateProcessorRetriesThenSucceeds(t *testing.T) {
	docs := &flakyDocStore{failuresBeforeSuccess: 2}
	s := NewSynchronizer(docs, (*version.Manager)(nil), testMetrics(t), time.Second)
	p := NewImmediateProcessor(s, &fakeProducer{}, "batch-sync-events", 3, time.Millisecond, 2, testMetrics(t))

	e := event.Event{UserID: "u1", Version: 1, Priority: event.PriorityImmediate}
	err := p.Process(context.Background(), kafka.Message{Value: event.Marshal(e)})

	require.NoError(t, err)
	assert.Equal(t, 3, docs.calls)
}

func TestImmediateProcessorDemotesAfterRetryExhaustion(t *testing.T) {
	docs := &alwaysFailDocStore{}
	prod := &fakeProducer{}
	s := NewSynchronizer(docs, (*version.Manager)(nil), testMetrics(t), time.Second)
	p := NewImmediateProcessor(s, prod, "batch-sync-events", 3, time.Millisecond, 2, testMetrics(t))

	e := event.Event{UserID: "user-42", Version: 10, Priority: event.PriorityImmediate}
	err := p.Process(context.Background(), kafka.Message{Value: event.Marshal(e)})

	require.NoError(t, err)
	assert.Equal(t, 3, docs.calls) // retries bounds the total attempt count

	require.Len(t, prod.records, 1)
	demoted, derr := event.Unmarshal(prod.records[0].Value)
	require.NoError(t, derr)
	assert.Equal(t, event.PriorityBatch, demoted.Priority)
	assert.Equal(t, e.UserID, demoted.UserID)
	assert.Equal(t, e.Version, demoted.Version)
}

func TestImmediateProcessorDemotionPublishFailureIsNotSwallowed(t *testing.T) {
	docs := &alwaysFailDocStore{}
	prod := &fakeProducer{err: assertErr("broker down")}
	s := NewSynchronizer(docs, (*version.Manager)(nil), testMetrics(t), time.Second)
	p := NewImmediateProcessor(s, prod, "batch-sync-events", 1, time.Millisecond, 2, testMetrics(t))

	e := event.Event{UserID: "u1", Version: 1, Priority: event.PriorityImmediate}
	err := p.Process(context.Background(), kafka.Message{Value: event.Marshal(e)})

	require.ErrorIs(t, err, kafka.ErrDoNotCommit, "a failed demotion publish must withhold the commit so the record is redelivered")
}

func TestImmediateProcessorRejectsMalformedRecord(t *testing.T) {
	docs := &flakyDocStore{}
	s := NewSynchronizer(docs, (*version.Manager)(nil), testMetrics(t), time.Second)
	p := NewImmediateProcessor(s, &fakeProducer{}, "batch-sync-events", 3, time.Millisecond, 2, testMetrics(t))

	err := p.Process(context.Background(), kafka.Message{Value: []byte{0xFF}})
	assert.Error(t, err)
	assert.Equal(t, 0, docs.calls)
}
