package reveal

import (
	"bytes"
	"encoding/json"

	"github.com/dtravis2010/revealarena/store"
)

// RoomPath returns the store path a room's session document lives at.
func RoomPath(roomID string) string {
	return "rooms/" + roomID
}

// sessionDoc is the wire shape of a Session. The reveal set rides as an
// ordered list (TileSet handles the conversion both ways) and the buzzing
// team as a nullable number, matching the room documents spectators decode.
type sessionDoc struct {
	Image           string  `json:"image"`
	GridSize        int     `json:"gridSize"`
	RevealedTiles   TileSet `json:"revealedTiles"`
	IsAutoRevealing bool    `json:"isAutoRevealing"`
	Score           int     `json:"score"`
	GameStatus      Status  `json:"gameStatus"`
	Teams           [2]Team `json:"teams"`
	BuzzedByTeam    *TeamID `json:"buzzedByTeam"`
}

// EncodeDoc serializes a session snapshot to its store document.
func EncodeDoc(s Session) ([]byte, error) {
	doc := sessionDoc{
		Image:           s.Image,
		GridSize:        s.GridSize,
		RevealedTiles:   s.Revealed,
		IsAutoRevealing: s.AutoRevealing,
		Score:           s.Pot,
		GameStatus:      s.Status,
		Teams:           s.Teams,
	}
	if s.BuzzedBy != NoTeam {
		buzzed := s.BuzzedBy
		doc.BuzzedByTeam = &buzzed
	}
	return json.Marshal(doc)
}

// DecodeDoc parses a store document back into a session. Absent or
// malformed documents report ok=false; watchers treat that as "no data",
// which is normal during room setup.
func DecodeDoc(data []byte) (Session, bool) {
	if len(data) == 0 {
		return Session{}, false
	}

	var doc sessionDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return Session{}, false
	}
	if doc.GameStatus == "" || doc.GridSize < MinGridSize {
		return Session{}, false
	}

	s := Session{
		Image:         doc.Image,
		GridSize:      doc.GridSize,
		Revealed:      doc.RevealedTiles,
		AutoRevealing: doc.IsAutoRevealing,
		Pot:           doc.Score,
		Status:        doc.GameStatus,
		Teams:         doc.Teams,
	}
	if s.Revealed == nil {
		s.Revealed = NewTileSet()
	}
	if doc.BuzzedByTeam != nil {
		s.BuzzedBy = *doc.BuzzedByTeam
	}
	return s, true
}

// Publisher pushes authoritative session snapshots into the store, one
// write per mutation. Publishing an unchanged snapshot is suppressed so
// retried handlers do not double-write.
type Publisher struct {
	st   store.Store
	path string
	last []byte
}

func NewPublisher(st store.Store, roomID string) *Publisher {
	return &Publisher{st: st, path: RoomPath(roomID)}
}

func (p *Publisher) Publish(s Session) error {
	doc, err := EncodeDoc(s)
	if err != nil {
		return err
	}
	if bytes.Equal(doc, p.last) {
		return nil
	}
	if err := p.st.Write(p.path, doc); err != nil {
		return err
	}
	p.last = doc
	return nil
}

// Watch subscribes to a room's session document, decoding each snapshot.
// The callback may fire zero or many times, including immediately; ok is
// false while the room has no usable document yet.
func Watch(st store.Store, roomID string, fn func(s Session, ok bool)) store.CancelFunc {
	return st.Subscribe(RoomPath(roomID), func(doc []byte) {
		s, ok := DecodeDoc(doc)
		fn(s, ok)
	})
}
