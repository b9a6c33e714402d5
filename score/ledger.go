package score

import (
	"encoding/json"

	"github.com/jonboulle/clockwork"

	"github.com/dtravis2010/revealarena/store"
)

// BoardPath returns the store path of an event's scoreboard document.
func BoardPath(eventID string) string {
	return "scoreboards/" + eventID
}

// Board is the stored scoreboard document for one event.
type Board struct {
	EventID   string           `json:"eventId"`
	Totals    map[string]Entry `json:"totals"`
	UpdatedAt int64            `json:"updatedAt"`
}

// Ledger applies score deltas to stored scoreboards. Every update runs as a
// read-modify-write transaction, never a blind overwrite, so a winner and a
// loser update racing on the same document both land.
type Ledger struct {
	st    store.Store
	clock clockwork.Clock
}

func NewLedger(st store.Store, clock clockwork.Clock) *Ledger {
	return &Ledger{st: st, clock: clock}
}

// Apply merges delta into the player's entry on the event scoreboard,
// creating board and entry lazily on first update.
func (l *Ledger) Apply(eventID, playerID string, delta Entry) error {
	return l.st.RunTransaction(BoardPath(eventID), func(current []byte) ([]byte, error) {
		board := Board{EventID: eventID}
		if current != nil {
			if err := json.Unmarshal(current, &board); err != nil {
				// A mangled board is treated as empty rather than
				// poisoning every future update.
				board = Board{EventID: eventID}
			}
		}
		if board.Totals == nil {
			board.Totals = make(map[string]Entry)
		}

		board.Totals[playerID] = Merge(board.Totals[playerID], delta)
		board.UpdatedAt = l.clock.Now().UnixMilli()

		return json.Marshal(board)
	})
}

// Read returns the event's scoreboard, empty when none exists yet.
func (l *Ledger) Read(eventID string) (Board, error) {
	board := Board{EventID: eventID, Totals: map[string]Entry{}}

	doc, err := l.st.Read(BoardPath(eventID))
	if err != nil {
		return board, err
	}
	if doc == nil {
		return board, nil
	}
	if err := json.Unmarshal(doc, &board); err != nil {
		return Board{EventID: eventID, Totals: map[string]Entry{}}, nil
	}
	if board.Totals == nil {
		board.Totals = map[string]Entry{}
	}
	return board, nil
}

// Clear wipes the event's totals.
func (l *Ledger) Clear(eventID string) error {
	board := Board{
		EventID:   eventID,
		Totals:    map[string]Entry{},
		UpdatedAt: l.clock.Now().UnixMilli(),
	}
	doc, err := json.Marshal(board)
	if err != nil {
		return err
	}
	return l.st.Write(BoardPath(eventID), doc)
}

// Subscribe watches the event's scoreboard. ok is false while no usable
// document exists.
func (l *Ledger) Subscribe(eventID string, fn func(board Board, ok bool)) store.CancelFunc {
	return l.st.Subscribe(BoardPath(eventID), func(doc []byte) {
		if doc == nil {
			fn(Board{}, false)
			return
		}
		var board Board
		if err := json.Unmarshal(doc, &board); err != nil {
			fn(Board{}, false)
			return
		}
		fn(board, true)
	})
}
