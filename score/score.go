// Package score keeps the cumulative per-player win/play/fastest-time
// ledger. Entries merge instead of replace, and merging commutes, so
// concurrent scorers converge no matter the order their updates land in.
package score

// Entry is one player's totals. FastestMs is nil until the player has won
// at least once, then tracks the minimum winning duration.
type Entry struct {
	Wins      int    `json:"wins"`
	Plays     int    `json:"plays"`
	FastestMs *int64 `json:"fastestMs"`
}

// Win returns the delta for a round won in the given duration.
func Win(durationMs int64) Entry {
	return Entry{Wins: 1, Plays: 1, FastestMs: &durationMs}
}

// Loss returns the delta for a round played and lost.
func Loss() Entry {
	return Entry{Plays: 1}
}

// Merge folds a delta into an entry: counts add, and the fastest time keeps
// the minimum of whichever sides have one. Commutative and associative over
// any sequence of deltas.
func Merge(entry, delta Entry) Entry {
	out := Entry{
		Wins:      entry.Wins + delta.Wins,
		Plays:     entry.Plays + delta.Plays,
		FastestMs: entry.FastestMs,
	}

	switch {
	case delta.FastestMs == nil:
	case out.FastestMs == nil || *delta.FastestMs < *out.FastestMs:
		ms := *delta.FastestMs
		out.FastestMs = &ms
	}

	return out
}
