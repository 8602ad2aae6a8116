package store

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// boolToInt converts a boolean into 0/1 for integer-backed flags.
func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullableTime(ts *time.Time) any {
	if ts == nil {
		return nil
	}
	return ts.UTC()
}

// NormalizePermissions trims, drops empties and duplicates, and sorts, so the
// stored set round-trips independent of input order.
func NormalizePermissions(in []string) []string {
	set := make(map[string]struct{}, len(in))
	for _, raw := range in {
		p := strings.TrimSpace(raw)
		if p == "" {
			continue
		}
		set[p] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func permissionsToJSON(perms []string) string {
	b, err := json.Marshal(NormalizePermissions(perms))
	if err != nil {
		return "[]"
	}
	return string(b)
}

func permissionsFromJSON(raw string) []string {
	var perms []string
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	if err := json.Unmarshal([]byte(raw), &perms); err != nil {
		return []string{}
	}
	return NormalizePermissions(perms)
}

func cloneTime(ts *time.Time) *time.Time {
	if ts == nil {
		return nil
	}
	v := *ts
	return &v
}
