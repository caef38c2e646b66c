// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package event defines the Profile Sync Event wire record and its binary
// codec. There is no protobuf/Avro generator available in this environment,
// so the wire format is a hand-rolled compact binary encoding built on
// encoding/binary varints and length-prefixed byte strings, the same
// low-level style franz-go's own pkg/kmsg uses to encode Kafka protocol
// messages without a generator.
package event

import "time"

// Priority is the latency class of an [Event].
type Priority uint8

const (
	PriorityImmediate Priority = iota
	PriorityBatch
)

func (p Priority) String() string {
	switch p {
	case PriorityImmediate:
		return "IMMEDIATE"
	case PriorityBatch:
		return "BATCH"
	default:
		return "UNKNOWN"
	}
}

// SyncType selects whether an event's partition maps replace or merge.
type SyncType uint8

const (
	SyncTypeIncremental SyncType = iota
	SyncTypeFull
)

func (s SyncType) String() string {
	switch s {
	case SyncTypeIncremental:
		return "INCREMENTAL_SYNC"
	case SyncTypeFull:
		return "FULL_SYNC"
	default:
		return "UNKNOWN"
	}
}

// Partition names the six named field-update maps carried by every event.
type Partition uint8

const (
	PartitionStaticProfile Partition = iota
	PartitionDynamicProfile
	PartitionComputedMetrics
	PartitionBehavioralData
	PartitionSocialMedia
	PartitionExtendedProperties

	numPartitions = int(PartitionExtendedProperties) + 1
)

// Metadata holds the two optional informational timestamps an event may carry.
type Metadata struct {
	RegistrationDate *time.Time
	LastActiveAt     *time.Time
}

// Event is the Profile Sync Event wire record described in spec §3.
type Event struct {
	UserID   string
	Priority Priority
	SyncType SyncType
	// Version is the monotonic, producer-supplied per-user version.
	Version uint64
	// Timestamp is the producer's event-time clock; informational only.
	Timestamp time.Time

	StatusUpdate string
	HasStatus    bool

	// Partitions holds one field-update map per named [Partition]; a nil
	// map means the partition was absent from the wire record.
	Partitions [numPartitions]map[string]Value

	TagsToAdd    []string
	TagsToRemove []string

	Metadata *Metadata
}

// Partition returns the field-update map for p, or nil if absent.
func (e *Event) Partition(p Partition) map[string]Value {
	return e.Partitions[p]
}

// SetPartition installs the field-update map for p.
func (e *Event) SetPartition(p Partition, fields map[string]Value) {
	e.Partitions[p] = fields
}

// Demote returns a copy of e with Priority forced to BATCH, as produced by
// the Immediate Consumer after exhausting its retry budget (spec §4.2).
// Key and all other fields are byte-identical to the original.
func (e Event) Demote() Event {
	e.Priority = PriorityBatch
	return e
}
