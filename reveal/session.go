// Package reveal implements the reveal-race round: an image hidden behind an
// N×N tile grid, a draining point pot, two teams racing to buzz, and a host
// adjudicating answers. Transitions never mutate in place; each returns a
// fresh snapshot, so publishing and diffing stay trivial.
package reveal

import "errors"

// Transition errors. The hub layer treats all of these as "ignore the call",
// never as session-fatal.
var (
	ErrNotAllowed    = errors.New("reveal: caller lacks the required capability")
	ErrBadState      = errors.New("reveal: transition not valid in current status")
	ErrNoImage       = errors.New("reveal: round needs an image")
	ErrGridTooSmall  = errors.New("reveal: grid must be at least 4x4")
	ErrBadTeam       = errors.New("reveal: no such team")
	ErrAlreadyBuzzed = errors.New("reveal: a team has already buzzed")
	ErrAllRevealed   = errors.New("reveal: every tile is already revealed")
	ErrAutoRevealOff = errors.New("reveal: auto-reveal is not enabled")
)

// Status is the round lifecycle state.
type Status string

const (
	StatusSetup   Status = "setup"
	StatusPlaying Status = "playing"
	StatusBuzzed  Status = "buzzed"
	StatusSolved  Status = "solved"
)

// Role is the capability a caller presents with each mutating call. The
// engine rejects calls lacking the required capability instead of trusting
// the UI to hide buttons.
type Role int

const (
	RoleSpectator Role = iota
	RolePlayer
	RoleHost
)

func (r Role) String() string {
	switch r {
	case RoleHost:
		return "host"
	case RolePlayer:
		return "player"
	default:
		return "spectator"
	}
}

// TeamID identifies one of the two teams; zero means none.
type TeamID int

const (
	NoTeam  TeamID = 0
	TeamOne TeamID = 1
	TeamTwo TeamID = 2
)

// Pot scoring parameters.
const (
	StartingPot = 1000
	MinPot      = 100
	TickPenalty = 5

	MinGridSize = 4
)

// DifficultyGrid maps the difficulty presets to grid sizes.
var DifficultyGrid = map[string]int{
	"easy":   4,
	"medium": 6,
	"hard":   10,
}

// Team is one side of the race. Score is cumulative across rounds and only
// changes on a correct adjudication.
type Team struct {
	ID                 TeamID   `json:"id"`
	Name               string   `json:"name"`
	Score              int      `json:"score"`
	Participants       []string `json:"participants"`
	CurrentPlayerIndex int      `json:"currentPlayerIndex"`
}

// CurrentPlayer returns the participant whose turn it is, or "" when the
// team has no roster.
func (t Team) CurrentPlayer() string {
	if len(t.Participants) == 0 {
		return ""
	}
	return t.Participants[t.CurrentPlayerIndex%len(t.Participants)]
}

func (t Team) clone() Team {
	t.Participants = append([]string(nil), t.Participants...)
	return t
}

// TeamConfig carries the optional team setup supplied when starting a round.
// An empty name keeps the team's previous one.
type TeamConfig struct {
	Name    string   `json:"name"`
	Players []string `json:"players"`
}

// Session is the canonical shape of one reveal-race round plus the
// cumulative team scores that survive between rounds.
type Session struct {
	Image         string
	GridSize      int
	Revealed      TileSet
	AutoRevealing bool
	Pot           int
	Status        Status
	Teams         [2]Team
	BuzzedBy      TeamID
}

// NewSession returns the pre-round state: medium grid, full pot, default
// team names, nothing revealed.
func NewSession() Session {
	return Session{
		GridSize: DifficultyGrid["medium"],
		Revealed: NewTileSet(),
		Pot:      StartingPot,
		Status:   StatusSetup,
		Teams: [2]Team{
			{ID: TeamOne, Name: "Team One", Participants: []string{}},
			{ID: TeamTwo, Name: "Team Two", Participants: []string{}},
		},
	}
}

// TotalTiles returns the tile count of the current grid.
func (s Session) TotalTiles() int {
	return s.GridSize * s.GridSize
}

// Team returns the team with the given ID.
func (s Session) Team(id TeamID) (Team, error) {
	if id != TeamOne && id != TeamTwo {
		return Team{}, ErrBadTeam
	}
	return s.Teams[id-1], nil
}

func (s Session) clone() Session {
	s.Revealed = s.Revealed.Clone()
	s.Teams[0] = s.Teams[0].clone()
	s.Teams[1] = s.Teams[1].clone()
	return s
}
