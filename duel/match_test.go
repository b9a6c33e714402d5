package duel

import (
	"math/rand"
	"testing"
)

func roster(ids ...string) []User {
	users := make([]User, len(ids))
	for i, id := range ids {
		users[i] = User{ID: id, DisplayName: id, Status: StatusAvailable}
	}
	return users
}

func TestSelectPairNeedsTwoPlayers(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	m := NewMatchmaker()

	if _, _, ok := m.SelectPair(nil, rng); ok {
		t.Fatal("expected no pair from an empty pool")
	}
	if _, _, ok := m.SelectPair(roster("solo"), rng); ok {
		t.Fatal("expected no pair from a single player")
	}
}

func TestSelectPairReturnsDistinctPlayers(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	m := NewMatchmaker()

	first, second, ok := m.SelectPair(roster("a", "b"), rng)
	if !ok {
		t.Fatal("expected a pair")
	}
	if first.ID == second.ID {
		t.Fatalf("expected distinct players, got %s twice", first.ID)
	}
	if m.RecentCount() != 2 {
		t.Fatalf("expected both players marked recent, got %d", m.RecentCount())
	}
}

func TestSelectPairPrefersFreshPlayers(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	m := NewMatchmaker()
	available := roster("a", "b", "c", "d")

	first, second, ok := m.SelectPair(available, rng)
	if !ok {
		t.Fatal("expected first pair")
	}
	played := map[string]bool{first.ID: true, second.ID: true}

	third, fourth, ok := m.SelectPair(available, rng)
	if !ok {
		t.Fatal("expected second pair")
	}
	if played[third.ID] || played[fourth.ID] {
		t.Fatalf("expected fresh players, got %s and %s after %s and %s",
			third.ID, fourth.ID, first.ID, second.ID)
	}
}

func TestSelectPairRecencyNeverStarves(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	m := NewMatchmaker()
	available := roster("a", "b", "c")

	for i := 0; i < 10; i++ {
		_, _, ok := m.SelectPair(available, rng)
		if !ok {
			t.Fatalf("round %d: expected a pair despite recency filter", i)
		}
		if m.RecentCount() > len(available) {
			t.Fatalf("round %d: recency set outgrew the pool: %d", i, m.RecentCount())
		}
	}
}
