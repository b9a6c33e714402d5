package reveal

import (
	"math/rand"
	"testing"
)

func startedSession(t *testing.T, gridSize int) Session {
	t.Helper()

	s, err := NewSession().Start(RoleHost, "https://img.example/cat.png", gridSize, [2]TeamConfig{
		{Name: "Red", Players: []string{"ada", "grace"}},
		{Name: "Blue", Players: []string{"linus"}},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return s
}

func TestStartResetsRoundState(t *testing.T) {
	s := startedSession(t, 6)

	if s.Status != StatusPlaying {
		t.Fatalf("expected playing, got %s", s.Status)
	}
	if s.Pot != StartingPot {
		t.Fatalf("expected full pot, got %d", s.Pot)
	}
	if s.Revealed.Len() != 0 {
		t.Fatalf("expected no revealed tiles, got %d", s.Revealed.Len())
	}
	if s.AutoRevealing {
		t.Fatal("expected auto-reveal off at round start")
	}
	if s.Teams[0].Name != "Red" || s.Teams[1].Name != "Blue" {
		t.Fatalf("expected configured team names, got %q and %q", s.Teams[0].Name, s.Teams[1].Name)
	}
	if s.Teams[0].CurrentPlayer() != "ada" {
		t.Fatalf("expected first participant up, got %q", s.Teams[0].CurrentPlayer())
	}
}

func TestStartValidation(t *testing.T) {
	base := NewSession()

	if _, err := base.Start(RolePlayer, "img", 6, [2]TeamConfig{}); err != ErrNotAllowed {
		t.Fatalf("expected ErrNotAllowed for player, got %v", err)
	}
	if _, err := base.Start(RoleHost, "", 6, [2]TeamConfig{}); err != ErrNoImage {
		t.Fatalf("expected ErrNoImage, got %v", err)
	}
	if _, err := base.Start(RoleHost, "img", 3, [2]TeamConfig{}); err != ErrGridTooSmall {
		t.Fatalf("expected ErrGridTooSmall, got %v", err)
	}

	playing := startedSession(t, 6)
	if _, err := playing.Start(RoleHost, "img", 6, [2]TeamConfig{}); err != ErrBadState {
		t.Fatalf("expected ErrBadState when already playing, got %v", err)
	}
}

func TestStartKeepsTeamNamesWhenConfigEmpty(t *testing.T) {
	s := startedSession(t, 6)
	s, err := s.Reset(RoleHost)
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}

	s, err = s.Start(RoleHost, "img2", 4, [2]TeamConfig{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.Teams[0].Name != "Red" || s.Teams[1].Name != "Blue" {
		t.Fatalf("expected names to persist, got %q and %q", s.Teams[0].Name, s.Teams[1].Name)
	}
}

func TestTickRevealsUniqueTilesAndDrainsPot(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	s := startedSession(t, 6)
	s, err := s.ToggleAutoReveal(RoleHost)
	if err != nil {
		t.Fatalf("ToggleAutoReveal: %v", err)
	}

	for i := 0; i < 10; i++ {
		s, err = s.Tick(RoleHost, rng)
		if err != nil {
			t.Fatalf("Tick %d: %v", i, err)
		}
	}

	if s.Revealed.Len() != 10 {
		t.Fatalf("expected 10 unique revealed tiles, got %d", s.Revealed.Len())
	}
	if s.Pot != StartingPot-10*TickPenalty {
		t.Fatalf("expected pot %d, got %d", StartingPot-10*TickPenalty, s.Pot)
	}
	for _, idx := range s.Revealed.Indices() {
		if idx < 0 || idx >= s.TotalTiles() {
			t.Fatalf("revealed tile %d out of range", idx)
		}
	}
}

func TestTickPotNeverDropsBelowFloor(t *testing.T) {
	rng := rand.New(rand.NewSource(2))

	s := startedSession(t, 14)
	s, _ = s.ToggleAutoReveal(RoleHost)

	var err error
	for i := 0; i < 190; i++ {
		s, err = s.Tick(RoleHost, rng)
		if err != nil {
			t.Fatalf("Tick %d: %v", i, err)
		}
		if s.Pot < MinPot {
			t.Fatalf("pot %d fell below floor after tick %d", s.Pot, i)
		}
	}
	if s.Pot != MinPot {
		t.Fatalf("expected pot at floor, got %d", s.Pot)
	}
}

func TestTickExhaustedGridHaltsWithoutChange(t *testing.T) {
	rng := rand.New(rand.NewSource(3))

	s := startedSession(t, 4)
	s, _ = s.ToggleAutoReveal(RoleHost)

	var err error
	for i := 0; i < s.TotalTiles(); i++ {
		s, err = s.Tick(RoleHost, rng)
		if err != nil {
			t.Fatalf("Tick %d: %v", i, err)
		}
	}

	before := s
	s, err = s.Tick(RoleHost, rng)
	if err != ErrAllRevealed {
		t.Fatalf("expected ErrAllRevealed, got %v", err)
	}
	if s.Status != before.Status || s.Pot != before.Pot {
		t.Fatal("expected session unchanged on exhausted tick")
	}
}

func TestTickRequiresAutoReveal(t *testing.T) {
	rng := rand.New(rand.NewSource(4))

	s := startedSession(t, 6)
	if _, err := s.Tick(RoleHost, rng); err != ErrAutoRevealOff {
		t.Fatalf("expected ErrAutoRevealOff, got %v", err)
	}
}

func TestBuzzFreezesRound(t *testing.T) {
	s := startedSession(t, 6)
	s, _ = s.ToggleAutoReveal(RoleHost)

	s, err := s.Buzz(RolePlayer, TeamTwo)
	if err != nil {
		t.Fatalf("Buzz: %v", err)
	}
	if s.Status != StatusBuzzed || s.BuzzedBy != TeamTwo {
		t.Fatalf("expected buzzed by team two, got %s / %d", s.Status, s.BuzzedBy)
	}
	if s.AutoRevealing {
		t.Fatal("expected auto-reveal halted on buzz")
	}

	if _, err := s.Buzz(RolePlayer, TeamOne); err != ErrAlreadyBuzzed {
		t.Fatalf("expected ErrAlreadyBuzzed, got %v", err)
	}
}

func TestBuzzValidation(t *testing.T) {
	s := startedSession(t, 6)

	if _, err := s.Buzz(RoleSpectator, TeamOne); err != ErrNotAllowed {
		t.Fatalf("expected ErrNotAllowed for spectator, got %v", err)
	}
	if _, err := s.Buzz(RolePlayer, TeamID(7)); err != ErrBadTeam {
		t.Fatalf("expected ErrBadTeam, got %v", err)
	}
	if _, err := NewSession().Buzz(RolePlayer, TeamOne); err != ErrBadState {
		t.Fatalf("expected ErrBadState during setup, got %v", err)
	}
}

func TestAdjudicateCorrectAwardsFrozenPot(t *testing.T) {
	rng := rand.New(rand.NewSource(5))

	s := startedSession(t, 6)
	s, _ = s.ToggleAutoReveal(RoleHost)
	for i := 0; i < 4; i++ {
		s, _ = s.Tick(RoleHost, rng)
	}
	frozen := s.Pot

	s, _ = s.Buzz(RolePlayer, TeamOne)
	s, err := s.Adjudicate(RoleHost, true)
	if err != nil {
		t.Fatalf("Adjudicate: %v", err)
	}

	if s.Status != StatusSolved {
		t.Fatalf("expected solved, got %s", s.Status)
	}
	if s.Teams[0].Score != frozen {
		t.Fatalf("expected score %d, got %d", frozen, s.Teams[0].Score)
	}
	if s.Revealed.Len() != s.TotalTiles() {
		t.Fatalf("expected full reveal, got %d of %d", s.Revealed.Len(), s.TotalTiles())
	}
	if s.BuzzedBy != NoTeam {
		t.Fatal("expected buzz cleared once solved")
	}
	if s.Teams[0].CurrentPlayer() != "grace" {
		t.Fatalf("expected turn rotation, got %q", s.Teams[0].CurrentPlayer())
	}
}

func TestAdjudicateIncorrectResumesPlay(t *testing.T) {
	s := startedSession(t, 6)
	s, _ = s.Buzz(RolePlayer, TeamTwo)

	s, err := s.Adjudicate(RoleHost, false)
	if err != nil {
		t.Fatalf("Adjudicate: %v", err)
	}

	if s.Status != StatusPlaying {
		t.Fatalf("expected playing, got %s", s.Status)
	}
	if s.BuzzedBy != NoTeam {
		t.Fatal("expected buzz cleared")
	}
	if !s.AutoRevealing {
		t.Fatal("expected auto-reveal resumed")
	}
	if s.Teams[1].Score != 0 {
		t.Fatalf("expected no score change, got %d", s.Teams[1].Score)
	}
}

func TestAdjudicateValidation(t *testing.T) {
	s := startedSession(t, 6)

	if _, err := s.Adjudicate(RoleHost, true); err != ErrBadState {
		t.Fatalf("expected ErrBadState without a buzz, got %v", err)
	}

	s, _ = s.Buzz(RolePlayer, TeamOne)
	if _, err := s.Adjudicate(RolePlayer, true); err != ErrNotAllowed {
		t.Fatalf("expected ErrNotAllowed for player, got %v", err)
	}
}

func TestResetKeepsCumulativeScores(t *testing.T) {
	s := startedSession(t, 6)
	s, _ = s.Buzz(RolePlayer, TeamOne)
	s, _ = s.Adjudicate(RoleHost, true)
	banked := s.Teams[0].Score

	s, err := s.Reset(RoleHost)
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}

	if s.Status != StatusSetup {
		t.Fatalf("expected setup, got %s", s.Status)
	}
	if s.Image != "" {
		t.Fatal("expected image cleared")
	}
	if s.Teams[0].Score != banked {
		t.Fatalf("expected score %d to persist, got %d", banked, s.Teams[0].Score)
	}

	if _, err := s.Reset(RolePlayer); err != ErrNotAllowed {
		t.Fatalf("expected ErrNotAllowed for player, got %v", err)
	}
}
