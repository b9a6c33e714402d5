package score

import (
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/dtravis2010/revealarena/store"
)

func ms(v int64) *int64 {
	return &v
}

func TestWinAndLossDeltas(t *testing.T) {
	win := Win(500)
	if win.Wins != 1 || win.Plays != 1 || win.FastestMs == nil || *win.FastestMs != 500 {
		t.Fatalf("unexpected win delta: %+v", win)
	}

	loss := Loss()
	if loss.Wins != 0 || loss.Plays != 1 || loss.FastestMs != nil {
		t.Fatalf("unexpected loss delta: %+v", loss)
	}
}

func TestMergeCommutes(t *testing.T) {
	a := Entry{Wins: 1, Plays: 1, FastestMs: ms(500)}
	b := Entry{Plays: 1}

	for name, got := range map[string]Entry{
		"a then b": Merge(a, b),
		"b then a": Merge(b, a),
	} {
		if got.Wins != 1 || got.Plays != 2 {
			t.Fatalf("%s: unexpected counts: %+v", name, got)
		}
		if got.FastestMs == nil || *got.FastestMs != 500 {
			t.Fatalf("%s: expected fastest 500, got %+v", name, got.FastestMs)
		}
	}
}

func TestMergeKeepsMinimumFastest(t *testing.T) {
	got := Merge(Entry{Wins: 1, Plays: 1, FastestMs: ms(900)}, Win(300))
	if got.FastestMs == nil || *got.FastestMs != 300 {
		t.Fatalf("expected fastest 300, got %+v", got.FastestMs)
	}

	got = Merge(got, Win(800))
	if *got.FastestMs != 300 {
		t.Fatalf("expected slower win to keep fastest 300, got %d", *got.FastestMs)
	}
}

func TestLedgerApplyAccrues(t *testing.T) {
	st := store.NewMemory()
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_000_000))
	ledger := NewLedger(st, clock)

	if err := ledger.Apply("party", "winner", Win(1500)); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := ledger.Apply("party", "loser", Loss()); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := ledger.Apply("party", "winner", Loss()); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	board, err := ledger.Read("party")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	winner := board.Totals["winner"]
	if winner.Wins != 1 || winner.Plays != 2 {
		t.Fatalf("unexpected winner totals: %+v", winner)
	}
	if winner.FastestMs == nil || *winner.FastestMs != 1500 {
		t.Fatalf("expected fastest 1500, got %+v", winner.FastestMs)
	}
	if loser := board.Totals["loser"]; loser.Plays != 1 || loser.Wins != 0 {
		t.Fatalf("unexpected loser totals: %+v", loser)
	}
	if board.UpdatedAt != 1_000_000 {
		t.Fatalf("expected clock timestamp, got %d", board.UpdatedAt)
	}
}

func TestLedgerReadMissingBoardIsEmpty(t *testing.T) {
	ledger := NewLedger(store.NewMemory(), clockwork.NewFakeClock())

	board, err := ledger.Read("nothing")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if board.EventID != "nothing" || len(board.Totals) != 0 {
		t.Fatalf("expected empty board, got %+v", board)
	}
}

func TestLedgerClear(t *testing.T) {
	st := store.NewMemory()
	ledger := NewLedger(st, clockwork.NewFakeClock())

	if err := ledger.Apply("party", "p1", Win(100)); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := ledger.Clear("party"); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	board, _ := ledger.Read("party")
	if len(board.Totals) != 0 {
		t.Fatalf("expected cleared board, got %+v", board.Totals)
	}
}

func TestRankOrdering(t *testing.T) {
	board := Board{
		EventID: "party",
		Totals: map[string]Entry{
			"slow-winner": {Wins: 2, Plays: 4, FastestMs: ms(900)},
			"fast-winner": {Wins: 2, Plays: 4, FastestMs: ms(200)},
			"top":         {Wins: 3, Plays: 5, FastestMs: ms(700)},
			"never-won":   {Plays: 3},
			"efficient":   {Wins: 2, Plays: 2, FastestMs: ms(400)},
		},
	}
	names := map[string]string{
		"slow-winner": "Slow",
		"fast-winner": "Fast",
		"top":         "Top",
		"never-won":   "Never",
		"efficient":   "Efficient",
	}

	rows := Rank(board, names)

	got := make([]string, len(rows))
	for i, r := range rows {
		got[i] = r.Name
	}
	want := []string{"Top", "Efficient", "Fast", "Slow", "Never"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rank %d: expected %s, got %s (full order %v)", i, want[i], got[i], got)
		}
	}
}

func TestRankUnknownPlayers(t *testing.T) {
	board := Board{Totals: map[string]Entry{"ghost": {Wins: 1, Plays: 1, FastestMs: ms(100)}}}

	rows := Rank(board, nil)
	if len(rows) != 1 || rows[0].Name != "Unknown" {
		t.Fatalf("expected Unknown fallback, got %+v", rows)
	}
}

func TestWriteCSV(t *testing.T) {
	rows := []Row{
		{Name: "Ada", Wins: 2, Plays: 3, WinRate: 66.666, FastestMs: ms(1500)},
		{Name: "Linus", Wins: 0, Plays: 2},
	}

	var sb strings.Builder
	if err := WriteCSV(&sb, rows); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	want := "name,wins,plays,winRate,fastestMs\n" +
		"Ada,2,3,66.7,1500\n" +
		"Linus,0,2,0.0,N/A\n"
	if sb.String() != want {
		t.Fatalf("unexpected CSV:\n got %q\nwant %q", sb.String(), want)
	}
}
