package pipeline

import (
	"slices"
)

// SanitizeIndices drops out-of-range entries, deduplicates and sorts the
// result. The returned slice always indexes safely into a sequence of n
// candidates.
func SanitizeIndices(ids []int, n int) []int {
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if id < 0 || id >= n {
			continue
		}
		out = append(out, id)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// SanitizeNullableIndices is SanitizeIndices for structured outputs that may
// contain null entries.
func SanitizeNullableIndices(ids []*int, n int) []int {
	flat := make([]int, 0, len(ids))
	for _, id := range ids {
		if id != nil {
			flat = append(flat, *id)
		}
	}
	return SanitizeIndices(flat, n)
}
