package main

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/dtravis2010/revealarena/store"
)

func TestReapedRoomReleasesClientPumps(t *testing.T) {
	cfg := &Config{revealInterval: time.Second}
	st := store.NewMemory()

	hub := newRevealHub("ROOM01", st, clockwork.NewFakeClock())
	go hub.run(cfg, st)

	client := &wsClient{
		send:     make(chan any, 8),
		playerID: "player-1",
	}
	hub.register <- client

	if info, ok := (<-client.send).(SessionInfoMessage); !ok || !info.IsHost {
		t.Fatalf("expected first connection to become host, got %+v", info)
	}
	if _, ok := (<-client.send).(SessionStateMessage); !ok {
		t.Fatal("expected initial session state on connect")
	}

	hub.closeAll()

	// The pump's shutdown path must still complete with the hub loop gone.
	released := make(chan struct{})
	go func() {
		hub.dispatch(revealAction{client: client, msg: RevealClientMessage{Type: "reset"}})
		hub.unregister(client)
		close(released)
	}()

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("client pump blocked after room teardown")
	}
}

func TestRoomIDsAreUniqueAndWellFormed(t *testing.T) {
	rm := newRevealManager(0)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id := rm.newRoomID()
		if len(id) != 6 {
			t.Fatalf("expected 6-char room ID, got %q", id)
		}
		if seen[id] {
			t.Fatalf("duplicate room ID %q", id)
		}
		seen[id] = true
	}
}
