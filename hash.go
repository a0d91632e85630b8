package conductor

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// StimulusHash computes a deterministic fingerprint from an activity type,
// bookmark name, structured payload, and optional correlation id. The same
// logical inputs always produce the same digest, regardless of process, node,
// or time, which is what allows a stimulus built by an external caller to
// find the bookmark created by a suspended activity.
//
// Canonicalization rules, fixed by contract:
//   - object keys are sorted bytewise ascending
//   - keys and string values are case-sensitive
//   - all numbers are coerced to float64 and rendered with
//     strconv.FormatFloat(f, 'g', -1, 64), so 1, int64(1) and 1.0 hash equally
//   - arrays preserve element order
//   - no insignificant whitespace
//
// The payload is round-tripped through encoding/json before canonicalization
// so payloads built independently with different Go types still match.
func StimulusHash(activityType, bookmarkName string, payload map[string]any, correlationID string) (string, error) {
	canonical, err := canonicalizePayload(payload)
	if err != nil {
		return "", fmt.Errorf("canonicalize payload: %w", err)
	}

	var b strings.Builder
	b.WriteString(activityType)
	b.WriteByte(0)
	b.WriteString(bookmarkName)
	b.WriteByte(0)
	b.WriteString(correlationID)
	b.WriteByte(0)
	b.WriteString(canonical)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:]), nil
}

// canonicalizePayload produces the canonical string form of a payload. A nil
// or empty payload canonicalizes to "null" so that "no payload" is itself a
// stable value.
func canonicalizePayload(payload map[string]any) (string, error) {
	if len(payload) == 0 {
		return "null", nil
	}
	normalized, err := normalizeValue(payload)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	writeCanonical(&b, normalized)
	return b.String(), nil
}

// normalizeValue round-trips a value through JSON so that maps become
// map[string]any, slices become []any, and every number becomes float64.
func normalizeValue(value any) (any, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("payload is not JSON-serializable: %w", err)
	}
	var normalized any
	if err := json.Unmarshal(data, &normalized); err != nil {
		return nil, fmt.Errorf("failed to normalize payload: %w", err)
	}
	return normalized, nil
}

// writeCanonical writes the canonical encoding of a normalized value. Only
// the types produced by encoding/json unmarshaling into any are handled.
func writeCanonical(b *strings.Builder, value any) {
	switch v := value.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		if v {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case float64:
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	case string:
		// json.Marshal of a string is deterministic and handles escaping
		encoded, _ := json.Marshal(v)
		b.Write(encoded)
	case []any:
		b.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, item)
		}
		b.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, key := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			encoded, _ := json.Marshal(key)
			b.Write(encoded)
			b.WriteByte(':')
			writeCanonical(b, v[key])
		}
		b.WriteByte('}')
	}
}
