package market

import (
	"sort"
)

// MergeSorted returns a copy of events ordered newest first by timestamp,
// then by chain position (block, log index) when the source recorded it.
// The sort is stable. Events without a chain position that share a second
// keep their input order, so which of them wins is an artifact of the
// listed/bought/canceled concatenation order.
func MergeSorted(events []TokenEvent) []TokenEvent {
	out := make([]TokenEvent, len(events))
	copy(out, events)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Timestamp != b.Timestamp {
			return a.Timestamp > b.Timestamp
		}
		if a.BlockNumber != b.BlockNumber {
			return a.BlockNumber > b.BlockNumber
		}
		return a.LogIndex > b.LogIndex
	})
	return out
}

// Dedup keeps the first occurrence of every (collection, token) key.
// Fed with MergeSorted output this is the most recent event per token.
func Dedup(events []TokenEvent) []TokenEvent {
	seen := make(map[TokenKey]struct{}, len(events))
	out := make([]TokenEvent, 0, len(events))
	for _, ev := range events {
		k := ev.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, ev)
	}
	return out
}

// LatestPerToken collapses an unordered event history into current state.
func LatestPerToken(events []TokenEvent) []TokenEvent {
	return Dedup(MergeSorted(events))
}
