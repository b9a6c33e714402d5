package duel

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/dtravis2010/revealarena/score"
	"github.com/dtravis2010/revealarena/store"
)

// lobbyPath is bumped after every user mutation so watchers on any server
// instance know to re-pull the roster.
const lobbyPath = "lobby/state"

// Engine owns every authoritative duel mutation: the user registry, round
// lifecycle, guess feed, and score accrual. Adjudication never happens on a
// client; clients only append guesses.
type Engine struct {
	st      store.Store
	ledger  *score.Ledger
	clock   clockwork.Clock
	eventID string
}

func NewEngine(st store.Store, ledger *score.Ledger, clock clockwork.Clock, eventID string) *Engine {
	return &Engine{st: st, ledger: ledger, clock: clock, eventID: eventID}
}

// EventID returns the scoreboard event this engine accrues into.
func (e *Engine) EventID() string {
	return e.eventID
}

// Ledger exposes the score ledger for scoreboard views and exports.
func (e *Engine) Ledger() *score.Ledger {
	return e.ledger
}

// RegisterUser adds a lobby member, available by default.
func (e *Engine) RegisterUser(displayName string, isHost bool) (User, error) {
	user := User{
		ID:          uuid.NewString(),
		DisplayName: displayName,
		Status:      StatusAvailable,
		IsHost:      isHost,
		CreatedAt:   e.clock.Now().UnixMilli(),
	}

	doc, err := json.Marshal(user)
	if err != nil {
		return User{}, err
	}
	if err := e.st.Write(userPath(user.ID), doc); err != nil {
		return User{}, err
	}

	e.touchLobby()
	return user, nil
}

// UserByID returns a lobby member, ok=false when unknown.
func (e *Engine) UserByID(id string) (User, bool, error) {
	doc, err := e.st.Read(userPath(id))
	if err != nil || doc == nil {
		return User{}, false, err
	}

	var user User
	if err := json.Unmarshal(doc, &user); err != nil {
		return User{}, false, nil
	}
	return user, true, nil
}

// Users returns the roster in join order.
func (e *Engine) Users() ([]User, error) {
	docs, err := e.st.Query("users", store.Query{OrderBy: "createdAt"})
	if err != nil {
		return nil, err
	}

	users := make([]User, 0, len(docs))
	for _, doc := range docs {
		var user User
		if err := json.Unmarshal(doc, &user); err != nil {
			continue
		}
		users = append(users, user)
	}
	return users, nil
}

// AvailableUsers returns the matchable subset of the roster.
func (e *Engine) AvailableUsers() ([]User, error) {
	users, err := e.Users()
	if err != nil {
		return nil, err
	}

	available := users[:0]
	for _, u := range users {
		if u.Status == StatusAvailable {
			available = append(available, u)
		}
	}
	return available, nil
}

// SetUserStatus flips a member between available and in_match.
func (e *Engine) SetUserStatus(id string, status UserStatus) error {
	partial, err := json.Marshal(map[string]UserStatus{"status": status})
	if err != nil {
		return err
	}
	if err := e.st.WriteMerge(userPath(id), partial); err != nil {
		return err
	}

	e.touchLobby()
	return nil
}

// WatchLobby fires fn on every roster change (and once immediately).
func (e *Engine) WatchLobby(fn func()) store.CancelFunc {
	return e.st.Subscribe(lobbyPath, func([]byte) { fn() })
}

func (e *Engine) touchLobby() {
	partial, err := json.Marshal(map[string]int64{"updatedAt": e.clock.Now().UnixMilli()})
	if err != nil {
		return
	}
	// Best effort; a missed bump only delays the next roster refresh.
	_ = e.st.WriteMerge(lobbyPath, partial)
}

// CreateRound starts a duel between two players. Host capability is checked
// against the registry, both players are marked in_match, and the round is
// written active with its start time set.
func (e *Engine) CreateRound(hostID, imageURL, answer string, players [2]string) (Round, error) {
	host, ok, err := e.UserByID(hostID)
	if err != nil {
		return Round{}, err
	}
	if !ok || !host.IsHost {
		return Round{}, ErrNotHost
	}
	if imageURL == "" || strings.TrimSpace(answer) == "" || players[0] == "" || players[1] == "" || players[0] == players[1] {
		return Round{}, ErrBadRound
	}

	for _, playerID := range players {
		if err := e.SetUserStatus(playerID, StatusInMatch); err != nil {
			return Round{}, err
		}
	}

	round := Round{
		ID:        uuid.NewString(),
		Status:    RoundActive,
		ImageURL:  imageURL,
		Answer:    answer,
		PlayerIDs: players,
		StartedAt: e.clock.Now().UnixMilli(),
		CreatedBy: hostID,
	}

	doc, err := json.Marshal(round)
	if err != nil {
		return Round{}, err
	}
	if err := e.st.Write(roundPath(round.ID), doc); err != nil {
		return Round{}, err
	}

	return round, nil
}

// Round returns one duel round.
func (e *Engine) Round(roundID string) (Round, error) {
	doc, err := e.st.Read(roundPath(roundID))
	if err != nil {
		return Round{}, err
	}
	if doc == nil {
		return Round{}, ErrRoundMissing
	}

	var round Round
	if err := json.Unmarshal(doc, &round); err != nil {
		return Round{}, fmt.Errorf("round %s: %w", roundID, err)
	}
	return round, nil
}

// ActiveRound returns the most recently started active round, ok=false when
// no duel is running.
func (e *Engine) ActiveRound() (Round, bool, error) {
	docs, err := e.st.Query("duels", store.Query{
		Where:      map[string]any{"status": string(RoundActive)},
		OrderBy:    "startedAt",
		Descending: true,
		Limit:      1,
	})
	if err != nil || len(docs) == 0 {
		return Round{}, false, err
	}

	var round Round
	if err := json.Unmarshal(docs[0], &round); err != nil {
		return Round{}, false, nil
	}
	return round, true, nil
}

// WatchRound fires fn with a decoded snapshot on every change to the round
// document, including the guess-count bumps that follow each appended guess.
func (e *Engine) WatchRound(roundID string, fn func(round Round, ok bool)) store.CancelFunc {
	return e.st.Subscribe(roundPath(roundID), func(doc []byte) {
		if doc == nil {
			fn(Round{}, false)
			return
		}
		var round Round
		if err := json.Unmarshal(doc, &round); err != nil {
			fn(Round{}, false)
			return
		}
		fn(round, true)
	})
}

// SubmitGuess appends a guess to an active round. Whatever correctness the
// client claims is discarded; the resolver decides.
func (e *Engine) SubmitGuess(roundID, playerID, playerName, text string) (Guess, error) {
	round, err := e.Round(roundID)
	if err != nil {
		return Guess{}, err
	}
	if round.Status != RoundActive {
		return Guess{}, ErrRoundEnded
	}
	if !round.HasPlayer(playerID) {
		return Guess{}, ErrNotParticipant
	}
	if strings.TrimSpace(text) == "" {
		return Guess{}, ErrEmptyGuess
	}

	guess := Guess{
		ID:         uuid.NewString(),
		RoundID:    roundID,
		PlayerID:   playerID,
		PlayerName: playerName,
		Text:       text,
		Timestamp:  e.clock.Now().UnixMilli(),
	}

	doc, err := json.Marshal(guess)
	if err != nil {
		return Guess{}, err
	}
	if err := e.st.Write(guessPath(roundID, guess.ID), doc); err != nil {
		return Guess{}, err
	}

	// Bump the round's guess count so watchers re-pull the feed. Skipped
	// if the round ended while the guess was in flight.
	err = e.st.RunTransaction(roundPath(roundID), func(current []byte) ([]byte, error) {
		var r Round
		if current == nil || json.Unmarshal(current, &r) != nil || r.Status != RoundActive {
			return nil, store.ErrAborted
		}
		r.GuessCount++
		return json.Marshal(r)
	})
	if err != nil {
		return Guess{}, err
	}

	return guess, nil
}

// Guesses returns a round's guesses in arrival order.
func (e *Engine) Guesses(roundID string) ([]Guess, error) {
	docs, err := e.st.Query(guessCollection(roundID), store.Query{OrderBy: "timestamp"})
	if err != nil {
		return nil, err
	}

	guesses := make([]Guess, 0, len(docs))
	for _, doc := range docs {
		var g Guess
		if err := json.Unmarshal(doc, &g); err != nil {
			continue
		}
		guesses = append(guesses, g)
	}
	return guesses, nil
}

// ResolveFirstCorrect scans guesses in arrival order and ends the round on
// the first one matching the answer that has not already been flagged
// correct. Safe to call repeatedly with redelivered feeds: ending the round
// is guarded by a status check inside the same transaction, so a duplicate
// delivery is a no-op and the winner never changes.
func (e *Engine) ResolveFirstCorrect(round Round, guesses []Guess) (*Guess, error) {
	if round.Status != RoundActive {
		return nil, nil
	}

	for _, g := range guesses {
		if g.IsCorrect || !MatchAnswer(g.Text, round.Answer) {
			continue
		}

		err := e.endRound(round.ID, g.PlayerID)
		if err == ErrRoundEnded {
			// Someone else already ended it; harmless duplicate.
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		flag, err := json.Marshal(map[string]bool{"isCorrect": true})
		if err == nil {
			_ = e.st.WriteMerge(guessPath(round.ID, g.ID), flag)
		}
		winner := g
		winner.IsCorrect = true
		return &winner, nil
	}

	return nil, nil
}

// Resolve re-reads the round and its feed, then applies ResolveFirstCorrect.
// Round watchers call this on every snapshot.
func (e *Engine) Resolve(roundID string) (*Guess, error) {
	round, err := e.Round(roundID)
	if err != nil {
		return nil, err
	}
	if round.Status != RoundActive {
		return nil, nil
	}

	guesses, err := e.Guesses(roundID)
	if err != nil {
		return nil, err
	}
	return e.ResolveFirstCorrect(round, guesses)
}

// HostOverride ends the round with the given winner regardless of the guess
// feed. Same postconditions as a resolved correct guess.
func (e *Engine) HostOverride(hostID, roundID, winnerID string) error {
	host, ok, err := e.UserByID(hostID)
	if err != nil {
		return err
	}
	if !ok || !host.IsHost {
		return ErrNotHost
	}

	round, err := e.Round(roundID)
	if err != nil {
		return err
	}
	if !round.HasPlayer(winnerID) {
		return ErrNotParticipant
	}

	return e.endRound(roundID, winnerID)
}

// CancelRound ends an active round with no winner and no score accrual;
// both players return to the lobby.
func (e *Engine) CancelRound(roundID string) error {
	return e.endRound(roundID, "")
}

// endRound transitions active -> ended exactly once. The status check and
// the terminal write share one transaction, so concurrent enders cannot both
// commit; only the committer updates the ledger and releases the players.
func (e *Engine) endRound(roundID, winnerID string) error {
	var ended Round

	err := e.st.RunTransaction(roundPath(roundID), func(current []byte) ([]byte, error) {
		if current == nil {
			return nil, ErrRoundMissing
		}
		var r Round
		if err := json.Unmarshal(current, &r); err != nil {
			return nil, err
		}
		if r.Status != RoundActive {
			return nil, ErrRoundEnded
		}

		now := e.clock.Now().UnixMilli()
		r.Status = RoundEnded
		r.EndedAt = &now
		if winnerID != "" && r.WinnerID == nil {
			r.WinnerID = &winnerID
		}

		ended = r
		return json.Marshal(r)
	})
	if err != nil {
		return err
	}

	if ended.WinnerID != nil {
		duration := *ended.EndedAt - ended.StartedAt
		if err := e.ledger.Apply(e.eventID, *ended.WinnerID, score.Win(duration)); err != nil {
			return err
		}
		if loserID := ended.Opponent(*ended.WinnerID); loserID != "" {
			if err := e.ledger.Apply(e.eventID, loserID, score.Loss()); err != nil {
				return err
			}
		}
	}

	for _, playerID := range ended.PlayerIDs {
		if err := e.SetUserStatus(playerID, StatusAvailable); err != nil {
			return err
		}
	}

	return nil
}
