// Package snapshot converts tracked records into flat, JSON-safe field maps
// and computes field-level diffs between two such maps. Both operations are
// pure and never fail: audit logging must not be blocked by a record that is
// awkward to serialize.
package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"transtrack/internal/audit/models"
)

// Recorder is the capability a tracked entity must expose for serialization:
// its full field set as a flat column-name to value mapping. Implemented
// explicitly per entity type rather than via reflection so new fields are a
// conscious change.
type Recorder interface {
	Snapshot() map[string]any
}

// Serialize renders a record's current state as a storage-ready snapshot.
// Temporal values become RFC 3339 strings, nested structures are deep-copied
// through a JSON round trip, and anything that still resists serialization
// is stringified rather than dropped.
func Serialize(rec Recorder) models.Snapshot {
	fields := rec.Snapshot()
	out := make(models.Snapshot, len(fields))
	for name, value := range fields {
		out[name] = normalize(value)
	}
	return out
}

func normalize(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case time.Time:
		return v.Format(time.RFC3339Nano)
	case *time.Time:
		if v == nil {
			return nil
		}
		return v.Format(time.RFC3339Nano)
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		return v
	case []byte:
		return string(v)
	default:
		// Nested maps, slices, and structs: round-trip through JSON to
		// strip non-serializable types and break aliasing with the live
		// record.
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		var clean any
		if err := json.Unmarshal(raw, &clean); err != nil {
			return fmt.Sprintf("%v", v)
		}
		return clean
	}
}

// Diff returns the sorted names of fields present in new that are either
// absent from old or hold a different value.
//
// Fields present only in old are deliberately not reported; callers that
// need removals surfaced should use DiffStrict. Values are compared after
// JSON normalization so an int written to storage and read back as a float
// still compares equal.
func Diff(old, new models.Snapshot) []string {
	changed := make([]string, 0, len(new))
	for key, newValue := range new {
		oldValue, ok := old[key]
		if !ok || !equalValues(oldValue, newValue) {
			changed = append(changed, key)
		}
	}
	sort.Strings(changed)
	return changed
}

/// DiffStrict is the opt-in symmetric variant: it also reports fields that
// exist in old but were removed from new.
func DiffStrict(old, new models.Snapshot) []string {
	changed := Diff(old, new)
	for key := range old {
		if _, ok := new[key]; !ok {
			changed = append(changed, key)
		}
	}
	sort.Strings(changed)
	return changed
}

func equalValues(a, b any) bool {
	rawA, errA := json.Marshal(a)
	rawB, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
	}
	return bytes.Equal(rawA, rawB)
}
