package reveal

import "math/rand"

// Start begins a new round from setup. Round-local state resets (empty
// reveal set, full pot, no buzz); cumulative team scores carry over, and
// teams keep their previous names unless the config supplies new ones.
func (s Session) Start(role Role, image string, gridSize int, teams [2]TeamConfig) (Session, error) {
	if role != RoleHost {
		return s, ErrNotAllowed
	}
	if s.Status != StatusSetup {
		return s, ErrBadState
	}
	if image == "" {
		return s, ErrNoImage
	}
	if gridSize < MinGridSize {
		return s, ErrGridTooSmall
	}

	next := s.clone()
	next.Image = image
	next.GridSize = gridSize
	next.Revealed = NewTileSet()
	next.AutoRevealing = false
	next.Pot = StartingPot
	next.Status = StatusPlaying
	next.BuzzedBy = NoTeam

	for i := range next.Teams {
		if teams[i].Name != "" {
			next.Teams[i].Name = teams[i].Name
		}
		next.Teams[i].Participants = append([]string(nil), teams[i].Players...)
		next.Teams[i].CurrentPlayerIndex = 0
	}

	return next, nil
}

// Tick reveals one uniformly random unrevealed tile and drains the pot by
// TickPenalty, floored at MinPot. When every tile is already revealed it
// returns ErrAllRevealed unchanged so the caller can halt its timer; the
// round stays playing.
func (s Session) Tick(role Role, rng *rand.Rand) (Session, error) {
	if role != RoleHost {
		return s, ErrNotAllowed
	}
	if s.Status != StatusPlaying {
		return s, ErrBadState
	}
	if !s.AutoRevealing {
		return s, ErrAutoRevealOff
	}

	unrevealed := s.Revealed.Unrevealed(s.TotalTiles())
	if len(unrevealed) == 0 {
		return s, ErrAllRevealed
	}

	next := s.clone()
	next.Revealed.Add(unrevealed[rng.Intn(len(unrevealed))])
	next.Pot = max(MinPot, next.Pot-TickPenalty)

	return next, nil
}

// ToggleAutoReveal flips the auto-reveal flag while playing.
func (s Session) ToggleAutoReveal(role Role) (Session, error) {
	if role != RoleHost {
		return s, ErrNotAllowed
	}
	if s.Status != StatusPlaying {
		return s, ErrBadState
	}

	next := s.clone()
	next.AutoRevealing = !next.AutoRevealing
	return next, nil
}

// Buzz freezes the round for the given team's answer. The hub serializes
// buzzes, so the first to land wins; a buzz arriving while already buzzed is
// rejected with ErrAlreadyBuzzed.
func (s Session) Buzz(role Role, team TeamID) (Session, error) {
	if role < RolePlayer {
		return s, ErrNotAllowed
	}
	if team != TeamOne && team != TeamTwo {
		return s, ErrBadTeam
	}
	if s.Status == StatusBuzzed {
		return s, ErrAlreadyBuzzed
	}
	if s.Status != StatusPlaying {
		return s, ErrBadState
	}

	next := s.clone()
	next.Status = StatusBuzzed
	next.BuzzedBy = team
	next.AutoRevealing = false
	return next, nil
}

// Adjudicate settles a buzz. Correct: the buzzing team banks the frozen pot,
// its turn rotates to the next participant, every tile is revealed, and the
// round is solved. Incorrect: the buzz clears, auto-reveal resumes, and the
// round returns to playing with no extra pot penalty.
func (s Session) Adjudicate(role Role, correct bool) (Session, error) {
	if role != RoleHost {
		return s, ErrNotAllowed
	}
	if s.Status != StatusBuzzed || s.BuzzedBy == NoTeam {
		return s, ErrBadState
	}

	next := s.clone()

	if !correct {
		next.Status = StatusPlaying
		next.BuzzedBy = NoTeam
		next.AutoRevealing = true
		return next, nil
	}

	team := &next.Teams[next.BuzzedBy-1]
	team.Score += next.Pot
	if n := len(team.Participants); n > 0 {
		team.CurrentPlayerIndex = (team.CurrentPlayerIndex + 1) % n
	}

	for i := 0; i < next.TotalTiles(); i++ {
		next.Revealed.Add(i)
	}
	next.Status = StatusSolved
	next.BuzzedBy = NoTeam

	return next, nil
}

// Reset returns to setup from any state. Only round-local state clears;
// team names and cumulative scores persist for the next round.
func (s Session) Reset(role Role) (Session, error) {
	if role != RoleHost {
		return s, ErrNotAllowed
	}

	next := s.clone()
	next.Status = StatusSetup
	next.Image = ""
	next.BuzzedBy = NoTeam
	next.AutoRevealing = false
	return next, nil
}
