// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package document

import (
	"encoding/json"
	"fmt"
	"strings"

	"profilesync/event"
)

var partitionColumns = [...]string{
	"static_profile",
	"dynamic_profile",
	"computed_metrics",
	"behavioral_data",
	"social_media",
	"extended_properties",
}

// buildApplyQuery renders the upsert-with-condition statement for e (spec
// §4.4): an INSERT ... ON CONFLICT (user_id) DO UPDATE ... WHERE that
// creates the document when absent, updates it when the optimistic filter
// matches, and is a no-op (zero rows affected) when a concurrent writer has
// already advanced data_version past e.Version.
func buildApplyQuery(e event.Event) (string, []any, error) {
	args := make([]any, 0, len(partitionColumns)+6)
	args = append(args, e.UserID, e.Version)

	partitionJSON := make([]string, len(partitionColumns))
	for i := range partitionColumns {
		fields := e.Partitions[i]
		b, err := json.Marshal(valueMapToJSON(fields))
		if err != nil {
			return "", nil, fmt.Errorf("document: encoding partition %q: %w", partitionColumns[i], err)
		}
		partitionJSON[i] = string(b)
		args = append(args, partitionJSON[i])
	}

	args = append(args, e.TagsToAdd, e.TagsToRemove)

	var status any
	if e.HasStatus {
		status = e.StatusUpdate
	} else {
		status = "ACTIVE"
	}
	args = append(args, status)

	var b strings.Builder
	b.WriteString("INSERT INTO user_profiles (user_id, data_version, updated_at, ")
	b.WriteString(strings.Join(partitionColumns[:], ", "))
	b.WriteString(", tags, status) VALUES ($1, $2, now(), ")
	for i := range partitionColumns {
		fmt.Fprintf(&b, "$%d::jsonb, ", i+3)
	}
	fmt.Fprintf(&b, "(SELECT ARRAY(SELECT DISTINCT t FROM unnest($%d::text[]) AS t WHERE t <> ALL($%d::text[]))), $%d)\n",
		len(partitionColumns)+3, len(partitionColumns)+4, len(partitionColumns)+5)

	b.WriteString("ON CONFLICT (user_id) DO UPDATE SET\n")
	b.WriteString("  data_version = EXCLUDED.data_version,\n")
	b.WriteString("  updated_at = now(),\n")
	for i, col := range partitionColumns {
		if e.SyncType == event.SyncTypeFull {
			fmt.Fprintf(&b, "  %s = EXCLUDED.%s,\n", col, col)
		} else {
			fmt.Fprintf(&b, "  %s = user_profiles.%s || EXCLUDED.%s,\n", col, col, col)
		}
	}
	fmt.Fprintf(&b,
		"  tags = (SELECT COALESCE(ARRAY(SELECT DISTINCT t FROM unnest(COALESCE(user_profiles.tags, '{}') || $%d::text[]) AS t WHERE t <> ALL($%d::text[])), '{}')),\n",
		len(partitionColumns)+3, len(partitionColumns)+4)
	fmt.Fprintf(&b, "  status = $%d\n", len(partitionColumns)+5)

	if e.SyncType == event.SyncTypeFull {
		b.WriteString("WHERE user_profiles.data_version < EXCLUDED.data_version")
	} else {
		b.WriteString("WHERE user_profiles.data_version = EXCLUDED.data_version - 1")
	}

	return b.String(), args, nil
}

func valueMapToJSON(fields map[string]event.Value) map[string]any {
	if fields == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = valueToJSON(v)
	}
	return out
}

func valueToJSON(v event.Value) any {
	switch v.Kind() {
	case event.KindNull:
		return nil
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
		raw, _ := v.AsBytes()
		return raw
	case event.KindMap:
		m, _ := v.AsMap()
		return valueMapToJSON(m)
	default:
		return nil
	}
}
