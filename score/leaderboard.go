package score

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
)

// Row is one ranked leaderboard line.
type Row struct {
	PlayerID  string
	Name      string
	Wins      int
	Plays     int
	WinRate   float64 // percentage
	FastestMs *int64
}

// Rank flattens a board into rows sorted by wins, then win rate, then
// fastest time. names maps player IDs to display names; unknown players
// rank as "Unknown".
func Rank(board Board, names map[string]string) []Row {
	rows := make([]Row, 0, len(board.Totals))
	for playerID, entry := range board.Totals {
		name, ok := names[playerID]
		if !ok {
			name = "Unknown"
		}

		row := Row{
			PlayerID:  playerID,
			Name:      name,
			Wins:      entry.Wins,
			Plays:     entry.Plays,
			FastestMs: entry.FastestMs,
		}
		if entry.Plays > 0 {
			row.WinRate = float64(entry.Wins) / float64(entry.Plays) * 100
		}
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Wins != b.Wins {
			return a.Wins > b.Wins
		}
		if a.WinRate != b.WinRate {
			return a.WinRate > b.WinRate
		}
		switch {
		case a.FastestMs != nil && b.FastestMs != nil && *a.FastestMs != *b.FastestMs:
			return *a.FastestMs < *b.FastestMs
		case a.FastestMs != nil && b.FastestMs == nil:
			return true
		case a.FastestMs == nil && b.FastestMs != nil:
			return false
		}
		return a.Name < b.Name
	})

	return rows
}

// WriteCSV renders ranked rows as a CSV export.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)

	if err := cw.Write([]string{"name", "wins", "plays", "winRate", "fastestMs"}); err != nil {
		return err
	}
	for _, row := range rows {
		fastest := "N/A"
		if row.FastestMs != nil {
			fastest = fmt.Sprintf("%d", *row.FastestMs)
		}
		record := []string{
			row.Name,
			fmt.Sprintf("%d", row.Wins),
			fmt.Sprintf("%d", row.Plays),
			fmt.Sprintf("%.1f", row.WinRate),
			fastest,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
