// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package document

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"profilesync/event"
)

func TestBuildApplyQueryIncrementalMergesPartitions(t *testing.T) {
	e := event.Event{
		UserID:   "user-123",
		SyncType: event.SyncTypeIncremental,
		Version:  5,
	}
	e.SetPartition(event.PartitionStaticProfile, map[string]event.Value{
		"email": event.String("a@b.c"),
	})

	query, args, err := buildApplyQuery(e)
	require.NoError(t, err)

	assert.Contains(t, query, "static_profile = user_profiles.static_profile || EXCLUDED.static_profile")
	assert.Contains(t, query, "WHERE user_profiles.data_version = EXCLUDED.data_version - 1")
	assert.NotContains(t, query, "static_profile = EXCLUDED.static_profile,\n")

	require.GreaterOrEqual(t, len(args), 2)
	assert.Equal(t, "user-123", args[0])
	assert.Equal(t, uint64(5), args[1])
}

func TestBuildApplyQueryFullSyncReplacesPartitions(t *testing.T) {
	e := event.Event{
		UserID:   "user-123",
		SyncType: event.SyncTypeFull,
		Version:  5,
	}

	query, _, err := buildApplyQuery(e)
	require.NoError(t, err)

	assert.Contains(t, query, "static_profile = EXCLUDED.static_profile,")
	assert.Contains(t, query, "WHERE user_profiles.data_version < EXCLUDED.data_version")
	assert.False(t, strings.Contains(query, "static_profile = user_profiles.static_profile ||"))
}

func TestBuildApplyQueryEncodesAbsentPartitionsAsEmptyObject(t *testing.T) {
	e := event.Event{UserID: "u", Version: 1}

	_, args, err := buildApplyQuery(e)
	require.NoError(t, err)

	// args[2] is the first partition column (static_profile).
	assert.Equal(t, "{}", args[2])
}

func TestValueToJSONRecursesThroughNestedMap(t *testing.T) {
	v := event.Map(map[string]event.Value{
		"inner": event.Int64(7),
	})

	got := valueToJSON(v)
	m, ok := got.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, int64(7), m["inner"])
}
