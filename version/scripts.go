// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package version

// releaseScript performs a compare-and-delete lock release: it only
// removes the lock if the caller's token still owns it, so a caller whose
// TTL already elapsed can never release the next holder's lock (spec §9's
// "lock holder identity" note, KEYS[1]=lock key, ARGV[1]=token).
const releaseScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`

// casScript performs atomic_update's compare-and-swap against the stored
// version field. KEYS[1]=profile key, ARGV[1]=expected version,
// ARGV[2]=JSON-encoded field updates, ARGV[3]=source, ARGV[4]=timestamp.
// Returns {1, new_version} on success or {0, observed_version} on conflict.
const casScript = `
local raw = redis.call('GET', KEYS[1])
local state
if raw then
	state = cjson.decode(raw)
else
	state = { fields = {}, version = 0 }
end

local expected = tonumber(ARGV[1])
if state.version ~= expected then
	return { 0, state.version }
end

local updates = cjson.decode(ARGV[2])
for k, v in pairs(updates) do
	state.fields[k] = v
end
state.version = state.version + 1
state.last_updated_by = ARGV[3]
state.last_updated_at = ARGV[4]

redis.call('SET', KEYS[1], cjson.encode(state))
return { 1, state.version }
`
