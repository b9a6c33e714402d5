package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func mustWrite(t *testing.T, m *Memory, path, doc string) {
	t.Helper()

	if err := m.Write(path, []byte(doc)); err != nil {
		t.Fatalf("Write(%q): %v", path, err)
	}
}

func TestSubscribeDeliversInitialSnapshot(t *testing.T) {
	m := NewMemory()

	var got [][]byte
	cancel := m.Subscribe("rooms/abc", func(doc []byte) {
		got = append(got, doc)
	})
	defer cancel()

	if len(got) != 1 || got[0] != nil {
		t.Fatalf("expected one nil initial snapshot, got %v", got)
	}

	mustWrite(t, m, "rooms/abc", `{"n":1}`)

	if len(got) != 2 || !bytes.Equal(got[1], []byte(`{"n":1}`)) {
		t.Fatalf("expected write snapshot, got %v", got)
	}
}

func TestSubscribeCancelStopsDelivery(t *testing.T) {
	m := NewMemory()
	mustWrite(t, m, "rooms/abc", `{"n":1}`)

	calls := 0
	cancel := m.Subscribe("rooms/abc", func([]byte) { calls++ })

	if calls != 1 {
		t.Fatalf("expected initial snapshot, got %d calls", calls)
	}

	cancel()
	mustWrite(t, m, "rooms/abc", `{"n":2}`)

	if calls != 1 {
		t.Fatalf("expected no delivery after cancel, got %d calls", calls)
	}
}

func TestReadMissingReturnsNil(t *testing.T) {
	m := NewMemory()

	doc, err := m.Read("rooms/nope")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if doc != nil {
		t.Fatalf("expected nil for missing doc, got %q", doc)
	}
}

func TestWriteMergeOverlaysTopLevelFields(t *testing.T) {
	m := NewMemory()
	mustWrite(t, m, "users/u1", `{"name":"Ada","status":"available"}`)

	if err := m.WriteMerge("users/u1", []byte(`{"status":"in_match"}`)); err != nil {
		t.Fatalf("WriteMerge: %v", err)
	}

	doc, err := m.Read("users/u1")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(doc, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if fields["name"] != "Ada" || fields["status"] != "in_match" {
		t.Fatalf("unexpected merge result: %v", fields)
	}
}

func TestWriteMergeCreatesMissingDocument(t *testing.T) {
	m := NewMemory()

	if err := m.WriteMerge("lobby/state", []byte(`{"updatedAt":5}`)); err != nil {
		t.Fatalf("WriteMerge: %v", err)
	}

	doc, _ := m.Read("lobby/state")
	if doc == nil {
		t.Fatal("expected document to exist after merge")
	}
}

func TestQueryFiltersOrdersAndLimits(t *testing.T) {
	m := NewMemory()
	mustWrite(t, m, "duels/a", `{"status":"ended","startedAt":10}`)
	mustWrite(t, m, "duels/b", `{"status":"active","startedAt":30}`)
	mustWrite(t, m, "duels/c", `{"status":"active","startedAt":20}`)
	// Nested documents are not direct children and must not match.
	mustWrite(t, m, "duels/b/guesses/g1", `{"status":"active","startedAt":99}`)

	docs, err := m.Query("duels", Query{
		Where:      map[string]any{"status": "active"},
		OrderBy:    "startedAt",
		Descending: true,
		Limit:      1,
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 doc, got %d", len(docs))
	}
	if !bytes.Contains(docs[0], []byte(`"startedAt":30`)) {
		t.Fatalf("expected most recent active duel, got %s", docs[0])
	}
}

func TestQueryBreaksTiesByWriteOrder(t *testing.T) {
	m := NewMemory()
	mustWrite(t, m, "guesses/r/g1", `{"timestamp":100,"text":"first"}`)
	mustWrite(t, m, "guesses/r/g2", `{"timestamp":100,"text":"second"}`)

	docs, err := m.Query("guesses/r", Query{OrderBy: "timestamp"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 docs, got %d", len(docs))
	}
	if !bytes.Contains(docs[0], []byte("first")) || !bytes.Contains(docs[1], []byte("second")) {
		t.Fatalf("expected write order on equal timestamps, got %s then %s", docs[0], docs[1])
	}
}

func TestRunTransactionReadModifyWrite(t *testing.T) {
	m := NewMemory()
	mustWrite(t, m, "counters/c", `{"n":1}`)

	err := m.RunTransaction("counters/c", func(current []byte) ([]byte, error) {
		var doc map[string]int
		if err := json.Unmarshal(current, &doc); err != nil {
			return nil, err
		}
		doc["n"]++
		return json.Marshal(doc)
	})
	if err != nil {
		t.Fatalf("RunTransaction: %v", err)
	}

	doc, _ := m.Read("counters/c")
	if !bytes.Equal(doc, []byte(`{"n":2}`)) {
		t.Fatalf("expected incremented doc, got %s", doc)
	}
}

func TestRunTransactionAbortLeavesDocumentUntouched(t *testing.T) {
	m := NewMemory()
	mustWrite(t, m, "counters/c", `{"n":1}`)

	err := m.RunTransaction("counters/c", func([]byte) ([]byte, error) {
		return nil, ErrAborted
	})
	if err != nil {
		t.Fatalf("expected aborted transaction to report nil, got %v", err)
	}

	doc, _ := m.Read("counters/c")
	if !bytes.Equal(doc, []byte(`{"n":1}`)) {
		t.Fatalf("expected original doc, got %s", doc)
	}
}

func TestRunTransactionPropagatesUpdateError(t *testing.T) {
	m := NewMemory()

	boom := errors.New("boom")
	err := m.RunTransaction("counters/c", func([]byte) ([]byte, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected update error, got %v", err)
	}
}
