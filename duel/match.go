package duel

import "math/rand"

// Matchmaker picks duel pairs, preferring players who have not played
// recently so everyone rotates through.
type Matchmaker struct {
	recent map[string]struct{}
}

func NewMatchmaker() *Matchmaker {
	return &Matchmaker{recent: make(map[string]struct{})}
}

// SelectPair picks two players uniformly at random from the available pool,
// skipping recently matched players while at least two fresh ones remain.
// Once the recency set would cover the whole pool it collapses to just the
// chosen pair, so the filter never starves rotation. Returns false when
// fewer than two players are available.
func (m *Matchmaker) SelectPair(available []User, rng *rand.Rand) (User, User, bool) {
	fresh := make([]User, 0, len(available))
	for _, u := range available {
		if _, matched := m.recent[u.ID]; !matched {
			fresh = append(fresh, u)
		}
	}

	pool := fresh
	if len(pool) < 2 {
		pool = available
	}
	if len(pool) < 2 {
		return User{}, User{}, false
	}

	shuffled := append([]User(nil), pool...)
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	first, second := shuffled[0], shuffled[1]

	m.recent[first.ID] = struct{}{}
	m.recent[second.ID] = struct{}{}
	if len(m.recent) >= len(available) {
		m.recent = map[string]struct{}{
			first.ID:  {},
			second.ID: {},
		}
	}

	return first, second, true
}

// RecentCount reports how many players are currently held back by the
// recency filter.
func (m *Matchmaker) RecentCount() int {
	return len(m.recent)
}
