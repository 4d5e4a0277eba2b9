package audit

import (
	"bytes"
	"encoding/json"

	"github.com/smallbiznis/admin-guard/internal/domain"
)

// Diff computes a shallow field-level change map. It returns nil when
// either side is absent or nothing changed.
func Diff(before, after map[string]any) map[string]domain.Change {
	if before == nil || after == nil {
		return nil
	}
	changes := make(map[string]domain.Change)
	for k, old := range before {
		nv, ok := after[k]
		if !ok || !equal(old, nv) {
			changes[k] = domain.Change{Old: old, New: nv}
		}
	}
	for k, nv := range after {
		if _, ok := before[k]; !ok {
			changes[k] = domain.Change{Old: nil, New: nv}
		}
	}
	if len(changes) == 0 {
		return nil
	}
	return changes
}

// equal compares canonical JSON encodings. encoding/json sorts map keys.
func equal(a, b any) bool {
	ra, errA := json.Marshal(a)
	rb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ra, rb)
}
