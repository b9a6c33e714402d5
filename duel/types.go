// Package duel implements the image-guess duel: a lobby of players, a host
// who matches two of them against an image with a secret answer, and a
// first-correct-guess-wins round feeding the score ledger.
package duel

import "errors"

var (
	ErrNotHost        = errors.New("duel: caller is not the host")
	ErrNotParticipant = errors.New("duel: player is not in this round")
	ErrRoundEnded     = errors.New("duel: round is no longer active")
	ErrRoundMissing   = errors.New("duel: no such round")
	ErrEmptyGuess     = errors.New("duel: guess text is empty")
	ErrBadRound       = errors.New("duel: round needs an image, an answer, and two players")
)

// UserStatus tracks lobby availability.
type UserStatus string

const (
	StatusAvailable UserStatus = "available"
	StatusInMatch   UserStatus = "in_match"
)

// RoundStatus is the duel round lifecycle state. Pending exists on the wire
// for compatibility but rounds are created active.
type RoundStatus string

const (
	RoundPending RoundStatus = "pending"
	RoundActive  RoundStatus = "active"
	RoundEnded   RoundStatus = "ended"
)

// User is a lobby member.
type User struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"displayName"`
	Status      UserStatus `json:"status"`
	IsHost      bool       `json:"isHost"`
	CreatedAt   int64      `json:"createdAt"`
}

// Round is one duel. Answer is authoritative and only ever shown to the
// host's view. WinnerID is set exactly once; GuessCount bumps on every
// appended guess so round watchers know to re-pull the feed.
type Round struct {
	ID         string      `json:"id"`
	Status     RoundStatus `json:"status"`
	ImageURL   string      `json:"imageUrl"`
	Answer     string      `json:"answer"`
	PlayerIDs  [2]string   `json:"playerIds"`
	WinnerID   *string     `json:"winnerId"`
	StartedAt  int64       `json:"startedAt"`
	EndedAt    *int64      `json:"endedAt"`
	CreatedBy  string      `json:"createdBy"`
	GuessCount int         `json:"guessCount"`
}

// HasPlayer reports whether the given player is one of the two duelists.
func (r Round) HasPlayer(playerID string) bool {
	return r.PlayerIDs[0] == playerID || r.PlayerIDs[1] == playerID
}

// Opponent returns the other duelist's ID, or "" for a non-participant.
func (r Round) Opponent(playerID string) string {
	switch playerID {
	case r.PlayerIDs[0]:
		return r.PlayerIDs[1]
	case r.PlayerIDs[1]:
		return r.PlayerIDs[0]
	}
	return ""
}

// Guess is one append-only guess. IsCorrect is never taken from the writer;
// it is false until the resolver flags the winning guess.
type Guess struct {
	ID         string `json:"id"`
	RoundID    string `json:"roundId"`
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	Text       string `json:"text"`
	Timestamp  int64  `json:"timestamp"`
	IsCorrect  bool   `json:"isCorrect"`
}

// Store paths.
func userPath(id string) string  { return "users/" + id }
func roundPath(id string) string { return "duels/" + id }

func guessCollection(roundID string) string { return "guesses/" + roundID }
func guessPath(roundID, id string) string   { return guessCollection(roundID) + "/" + id }
