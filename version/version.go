// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package version implements the Version Manager (spec §4.5): the
// Redis-class fast path that holds the latest-known per-user profile
// snapshot, guarded by a per-user distributed lock for safe_update and a
// lock-free compare-and-swap for atomic_update.
package version

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valkey-io/valkey-go"

	"profilesync/concurrent"
	"profilesync/event"
)

// Result is the outcome of [Manager.SafeUpdate].
type Result uint8

const (
	ResultSuccess Result = iota
	ResultLockFailed
	ResultException
)

// CASResult is the outcome of [Manager.AtomicUpdate].
type CASResult uint8

const (
	CASSuccess CASResult = iota
	CASVersionConflict
	CASException
)

// state is the structured record stored under profile:user:<user_id>,
// matching spec §6's "{ fields, version, last_updated_by, last_updated_at }".
type state struct {
	Fields        map[string]any `json:"fields"`
	Version       uint64         `json:"version"`
	LastUpdatedBy string         `json:"last_updated_by"`
	LastUpdatedAt time.Time      `json:"last_updated_at"`
}

// Manager is the fast-path key/value store client. Lua script SHAs are
// memoized per-process in the teacher's concurrent.Cache, falling back to
// EVAL on a NOSCRIPT response.
type Manager struct {
	client  valkey.Client
	scripts *concurrent.Cache[string, string]
}

// NewManager wraps client with the Version Manager's operations.
func NewManager(client valkey.Client) *Manager {
	return &Manager{
		client:  client,
		scripts: concurrent.NewCache[string, string](),
	}
}

func profileKey(userID string) string { return "profile:user:" + userID }
func lockKey(userID string) string    { return "lock:profile:" + userID }

// SafeUpdate acquires the per-user lock, merges updates into the stored
// field map, bumps version by 1 (initial version is 1 when absent), writes
// back, and releases the lock. Lock acquisition is time-bounded: on
// contention it returns LOCK_FAILED without blocking the caller.
func (m *Manager) SafeUpdate(ctx context.Context, userID string, updates map[string]event.Value, source string, lockTimeout time.Duration) (Result, error) {
	token := uuid.NewString()

	acquired, err := m.acquireLock(ctx, userID, token, lockTimeout)
	if err != nil {
		return ResultException, err
	}
	if !acquired {
		return ResultLockFailed, nil
	}
	defer m.releaseLock(ctx, userID, token)

	raw, err := m.client.Do(ctx, m.client.B().Get().Key(profileKey(userID)).Build()).ToString()
	var st state
	if err != nil {
		if !valkey.IsValkeyNil(err) {
			return ResultException, err
		}
		st = state{Fields: map[string]any{}, Version: 0}
	} else {
		if err := json.Unmarshal([]byte(raw), &st); err != nil {
			return ResultException, fmt.Errorf("version: decoding stored state: %w", err)
		}
	}

	if st.Fields == nil {
		st.Fields = map[string]any{}
	}
	for k, v := range updates {
		st.Fields[k] = valueToAny(v)
	}
	if st.Version == 0 {
		st.Version = 1
	} else {
		st.Version++
	}
	st.LastUpdatedBy = source
	st.LastUpdatedAt = time.Now().UTC()

	encoded, err := json.Marshal(st)
	if err != nil {
		return ResultException, err
	}

	err = m.client.Do(ctx, m.client.B().Set().Key(profileKey(userID)).Value(string(encoded)).Build()).Error()
	if err != nil {
		return ResultException, err
	}
	return ResultSuccess, nil
}

// AtomicUpdate performs a server-side compare-and-swap against
// expectedVersion without taking the lock. On mismatch it returns
// VERSION_CONFLICT along with the version actually observed.
func (m *Manager) AtomicUpdate(ctx context.Context, userID string, updates map[string]event.Value, expectedVersion uint64, source string) (CASResult, uint64, error) {
	updatesJSON, err := json.Marshal(valueMapToAny(updates))
	if err != nil {
		return CASException, 0, err
	}

	resp, err := m.evalScript(ctx, casScript, []string{profileKey(userID)}, []string{
		fmt.Sprintf("%d", expectedVersion),
		string(updatesJSON),
		source,
		time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return CASException, 0, err
	}

	arr, err := resp.ToArray()
	if err != nil || len(arr) != 2 {
		return CASException, 0, fmt.Errorf("version: unexpected CAS script reply")
	}
	ok, err := arr[0].ToInt64()
	if err != nil {
		return CASException, 0, err
	}
	observed, err := arr[1].ToInt64()
	if err != nil {
		return CASException, 0, err
	}
	if ok == 0 {
		return CASVersionConflict, uint64(observed), nil
	}
	return CASSuccess, uint64(observed), nil
}

// CurrentVersion returns the user's fast-path version, or 0 when absent.
// 0 matches casScript's own treatment of a missing profile key (see
// scripts.go) so a caller can read CurrentVersion and pass it straight
// through as AtomicUpdate's expectedVersion for a brand-new user without
// triggering a spurious VERSION_CONFLICT. SafeUpdate's "initial version is
// 1" convention only describes the version a first write produces, not the
// version an absent user currently has.
func (m *Manager) CurrentVersion(ctx context.Context, userID string) (uint64, error) {
	raw, err := m.client.Do(ctx, m.client.B().Get().Key(profileKey(userID)).Build()).ToString()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return 0, nil
		}
		return 0, err
	}
	var st state
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return 0, err
	}
	return st.Version, nil
}

// Exists reports whether a fast-path record is present for userID.
func (m *Manager) Exists(ctx context.Context, userID string) (bool, error) {
	n, err := m.client.Do(ctx, m.client.B().Exists().Key(profileKey(userID)).Build()).ToInt64()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Delete removes the fast-path record under the per-user lock. reason is
// informational, logged by the caller.
func (m *Manager) Delete(ctx context.Context, userID string, reason string) (bool, error) {
	token := uuid.NewString()
	acquired, err := m.acquireLock(ctx, userID, token, 2*time.Second)
	if err != nil {
		return false, err
	}
	if !acquired {
		return false, nil
	}
	defer m.releaseLock(ctx, userID, token)

	n, err := m.client.Do(ctx, m.client.B().Del().Key(profileKey(userID)).Build()).ToInt64()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (m *Manager) acquireLock(ctx context.Context, userID, token string, ttl time.Duration) (bool, error) {
	err := m.client.Do(ctx, m.client.B().Set().Key(lockKey(userID)).Value(token).Nx().Px(ttl).Build()).Error()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// releaseLock runs the compare-and-delete script so a caller can never
// release a lock it doesn't hold (spec §9's "lock holder identity" note).
// It is best-effort: if the lock already expired, the delete is a no-op.
func (m *Manager) releaseLock(ctx context.Context, userID, token string) {
	_, _ = m.evalScript(ctx, releaseScript, []string{lockKey(userID)}, []string{token})
}

func (m *Manager) evalScript(ctx context.Context, script string, keys, args []string) (valkey.ValkeyResult, error) {
	sha, err := m.scripts.GetOr(script, func() (string, error) {
		return m.client.Do(ctx, m.client.B().ScriptLoad().Script(script).Build()).ToString()
	})
	if err != nil {
		return valkey.ValkeyResult{}, err
	}

	cmd := m.client.B().Evalsha().Sha1(sha).Numkeys(int64(len(keys))).Key(keys...).Arg(args...).Build()
	resp := m.client.Do(ctx, cmd)
	if err := resp.Error(); err != nil && isNoScript(err) {
		cmd = m.client.B().Eval().Script(script).Numkeys(int64(len(keys))).Key(keys...).Arg(args...).Build()
		resp = m.client.Do(ctx, cmd)
	}
	if err := resp.Error(); err != nil {
		return valkey.ValkeyResult{}, err
	}
	return resp, nil
}

func isNoScript(err error) bool {
	return strings.Contains(err.Error(), "NOSCRIPT")
}

func valueToAny(v event.Value) any {
	switch v.Kind() {
	case event.KindString:
		s, _ := v.AsString()
		return s
	case event.KindInt64:
		i, _ := v.AsInt64()
		return i
	case event.KindFloat64:
		f, _ := v.AsFloat64()
		return f
	case event.KindBool:
		b, _ := v.AsBool()
		return b
	case event.KindBytes:
		b, _ := v.AsBytes()
		return b
	case event.KindMap:
		m, _ := v.AsMap()
		return valueMapToAny(m)
	default:
		return nil
	}
}

func valueMapToAny(m map[string]event.Value) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = valueToAny(v)
	}
	return out
}
