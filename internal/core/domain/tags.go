package domain

import "strings"

const MaxTags = 10

// NormalizeTags lowercases and trims every tag, drops empties and duplicates keeping the first
// occurrence, and truncates to limit entries when limit > 0.
func NormalizeTags(limit int, sources ...[]string) []string {
	out := make([]string, 0, MaxTags)
	seen := make(map[string]struct{})
	for _, source := range sources {
		for _, raw := range source {
			tag := strings.ToLower(strings.TrimSpace(raw))
			if tag == "" {
				continue
			}
			if _, ok := seen[tag]; ok {
				continue
			}
			seen[tag] = struct{}{}
			out = append(out, tag)
			if limit > 0 && len(out) == limit {
				return out
			}
		}
	}
	return out
}
