package store

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
)

type document struct {
	data []byte
	seq  uint64 // write order, used as the stable sort key
}

type subscriber struct {
	id int
	fn func(doc []byte)
}

// Memory is an in-process Store. It is the default backend and the one unit
// tests run against.
type Memory struct {
	mu      sync.RWMutex
	docs    map[string]document
	subs    map[string][]subscriber
	nextSeq uint64
	nextSub int
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		docs: make(map[string]document),
		subs: make(map[string][]subscriber),
	}
}

func (m *Memory) Write(path string, doc []byte) error {
	cp := append([]byte(nil), doc...)

	m.mu.Lock()
	m.nextSeq++
	seq := m.nextSeq
	if prev, ok := m.docs[path]; ok {
		seq = prev.seq
	}
	m.docs[path] = document{data: cp, seq: seq}
	targets := m.subscribersLocked(path)
	m.mu.Unlock()

	notify(targets, cp)
	return nil
}

func (m *Memory) WriteMerge(path string, partial []byte) error {
	return m.RunTransaction(path, func(current []byte) ([]byte, error) {
		return shallowMerge(current, partial)
	})
}

func (m *Memory) Read(path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[path]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), doc.data...), nil
}

func (m *Memory) Subscribe(path string, onSnapshot func(doc []byte)) CancelFunc {
	m.mu.Lock()
	m.nextSub++
	id := m.nextSub
	m.subs[path] = append(m.subs[path], subscriber{id: id, fn: onSnapshot})
	var current []byte
	if doc, ok := m.docs[path]; ok {
		current = append([]byte(nil), doc.data...)
	}
	m.mu.Unlock()

	// Initial snapshot, nil when the document does not exist yet.
	onSnapshot(current)

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		subs := m.subs[path]
		for i, s := range subs {
			if s.id == id {
				m.subs[path] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		if len(m.subs[path]) == 0 {
			delete(m.subs, path)
		}
	}
}

func (m *Memory) Query(collection string, q Query) ([][]byte, error) {
	prefix := strings.TrimSuffix(collection, "/") + "/"

	type hit struct {
		doc document
		val any
	}

	m.mu.RLock()
	hits := make([]hit, 0)
	for path, doc := range m.docs {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		// Direct children only, not nested collections.
		if strings.Contains(strings.TrimPrefix(path, prefix), "/") {
			continue
		}

		var fields map[string]any
		if err := json.Unmarshal(doc.data, &fields); err != nil {
			continue
		}
		if !matchesWhere(fields, q.Where) {
			continue
		}
		hits = append(hits, hit{doc: doc, val: fields[q.OrderBy]})
	}
	m.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool {
		if q.OrderBy != "" {
			if c := compareValues(hits[i].val, hits[j].val); c != 0 {
				if q.Descending {
					return c > 0
				}
				return c < 0
			}
		}
		return hits[i].doc.seq < hits[j].doc.seq
	})

	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}

	out := make([][]byte, len(hits))
	for i, h := range hits {
		out[i] = append([]byte(nil), h.doc.data...)
	}
	return out, nil
}

func (m *Memory) RunTransaction(path string, update func(current []byte) ([]byte, error)) error {
	m.mu.Lock()

	var current []byte
	doc, exists := m.docs[path]
	if exists {
		current = append([]byte(nil), doc.data...)
	}

	next, err := update(current)
	if err != nil {
		m.mu.Unlock()
		if err == ErrAborted {
			return nil
		}
		return err
	}

	seq := doc.seq
	if !exists {
		m.nextSeq++
		seq = m.nextSeq
	}
	m.docs[path] = document{data: next, seq: seq}
	targets := m.subscribersLocked(path)
	m.mu.Unlock()

	notify(targets, next)
	return nil
}

func (m *Memory) subscribersLocked(path string) []subscriber {
	return append([]subscriber(nil), m.subs[path]...)
}

func notify(targets []subscriber, doc []byte) {
	for _, s := range targets {
		s.fn(append([]byte(nil), doc...))
	}
}

// shallowMerge overlays the top-level fields of partial onto current.
func shallowMerge(current, partial []byte) ([]byte, error) {
	merged := make(map[string]any)
	if current != nil {
		if err := json.Unmarshal(current, &merged); err != nil {
			return nil, fmt.Errorf("merge target: %w", err)
		}
	}

	var overlay map[string]any
	if err := json.Unmarshal(partial, &overlay); err != nil {
		return nil, fmt.Errorf("merge partial: %w", err)
	}
	for k, v := range overlay {
		merged[k] = v
	}

	return json.Marshal(merged)
}

func matchesWhere(fields, where map[string]any) bool {
	for k, want := range where {
		got, ok := fields[k]
		if !ok {
			return false
		}
		if !reflect.DeepEqual(normalize(got), normalize(want)) {
			return false
		}
	}
	return true
}

// normalize round-trips a value through JSON so ints and float64s compare
// equal regardless of which side decoded them.
func normalize(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

func compareValues(a, b any) int {
	av, aok := normalize(a).(float64)
	bv, bok := normalize(b).(float64)
	if aok && bok {
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	}

	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs)
	}

	return 0
}
