// Reveal Arena: Reveal Race
//
// The host hides an image behind an N×N tile grid. Tiles auto-reveal once
// per interval, draining the round pot; two teams race to buzz and the host
// adjudicates the answer. Spectators join read-only, claim a team slot
// locally, and buzz for it.
//
// Features:
// - WebSockets per room ID: /reveal/:roomid and /reveal/:roomid/ws
// - First connection to a room becomes the host (authoritative writer)
// - All round mutations flow host-side through the lifecycle engine; every
//   snapshot is published to the shared store, and every client view is
//   derived from the store subscription
// - Auto-reveal ticking runs only on the authoritative side and is cancelled
//   whenever the round leaves the revealing state or the room is torn down
// - Spectator join via /reveal?room=ID or the room URL; team claims are
//   client-local and never persisted
// - Rooms auto-reaped after a configurable idle timeout
// - Random 6-char room IDs via crypto/rand, with server-side collision check
// - In-browser QR button to share the current room, backed by go-qrcode

package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log"
	mathrand "math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"

	"github.com/dtravis2010/revealarena/reveal"
	"github.com/dtravis2010/revealarena/store"
)

// Messages coming from clients
type RevealClientMessage struct {
	Type       string               `json:"type"`                 // "start_round", "toggle_reveal", "buzz", "adjudicate", "reset"
	Image      string               `json:"image,omitempty"`      // start_round
	GridSize   int                  `json:"grid_size,omitempty"`  // start_round
	Difficulty string               `json:"difficulty,omitempty"` // start_round, used when grid_size is absent
	Teams      [2]reveal.TeamConfig `json:"teams,omitempty"`      // start_round
	Team       int                  `json:"team,omitempty"`       // buzz
	Correct    *bool                `json:"correct,omitempty"`    // adjudicate
}

// SessionInfoMessage is sent immediately on connect so the client knows its
// role and room.
type SessionInfoMessage struct {
	Type   string `json:"type"` // "session_info"
	Room   string `json:"room"`
	IsHost bool   `json:"is_host"`
}

// SessionStateMessage carries the full session snapshot, in the same shape
// the store document has.
type SessionStateMessage struct {
	Type    string          `json:"type"` // "session_state"
	Session json.RawMessage `json:"session"`
}

// NoticeMessage is for generic per-client notifications.
type NoticeMessage struct {
	Type    string `json:"type"` // "notice"
	Message string `json:"message"`
}

type wsClient struct {
	conn     *websocket.Conn
	send     chan any
	playerID string
}

type revealAction struct {
	client *wsClient
	msg    RevealClientMessage
}

type revealHub struct {
	id      string
	clients map[*wsClient]bool

	register chan *wsClient
	unreg    chan *wsClient
	actions  chan revealAction
	done     chan struct{}

	mu sync.RWMutex

	createdAt    time.Time
	lastActive   time.Time
	hostPlayerID string // cookie/playerID of the authoritative writer

	session reveal.Session
	pub     *reveal.Publisher
	clock   clockwork.Clock
	rng     *mathrand.Rand
	ticker  clockwork.Ticker
}

func newRevealHub(roomID string, st store.Store, clock clockwork.Clock) *revealHub {
	now := time.Now()
	return &revealHub{
		id:         roomID,
		clients:    make(map[*wsClient]bool),
		register:   make(chan *wsClient),
		unreg:      make(chan *wsClient),
		actions:    make(chan revealAction),
		done:       make(chan struct{}),
		createdAt:  now,
		lastActive: now,
		session:    reveal.NewSession(),
		pub:        reveal.NewPublisher(st, roomID),
		clock:      clock,
		rng:        mathrand.New(mathrand.NewSource(now.UnixNano())),
	}
}

func (h *revealHub) run(cfg *Config, st store.Store) {
	// Views derive from the store subscription, not from hub memory; this
	// is the same feed a spectator on another instance would consume.
	cancel := reveal.Watch(st, h.id, func(s reveal.Session, ok bool) {
		if !ok {
			return
		}
		h.broadcastSession(s)
	})

	defer func() {
		cancel()
		h.stopTicker()
	}()

	for {
		select {
		case <-h.done:
			return

		case c := <-h.register:
			h.mu.Lock()
			h.lastActive = time.Now()

			// First connection becomes the host
			if h.hostPlayerID == "" {
				h.hostPlayerID = c.playerID
			}
			isHost := h.hostPlayerID == c.playerID

			h.clients[c] = true
			h.mu.Unlock()

			c.send <- SessionInfoMessage{
				Type:   "session_info",
				Room:   h.id,
				IsHost: isHost,
			}
			if doc, err := reveal.EncodeDoc(h.session); err == nil {
				c.send <- SessionStateMessage{Type: "session_state", Session: doc}
			}

		case c := <-h.unreg:
			h.mu.Lock()
			h.lastActive = time.Now()

			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case a := <-h.actions:
			h.handleAction(cfg, a)

		case <-h.tickChan():
			h.handleTick(cfg)
		}
	}
}

func (h *revealHub) role(c *wsClient) reveal.Role {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if c.playerID != "" && c.playerID == h.hostPlayerID {
		return reveal.RoleHost
	}
	return reveal.RolePlayer
}

// handleAction applies one authoritative transition and publishes the new
// snapshot. Invalid calls are ignored rather than allowed to corrupt state.
func (h *revealHub) handleAction(cfg *Config, a revealAction) {
	h.mu.Lock()
	h.lastActive = time.Now()
	h.mu.Unlock()

	role := h.role(a.client)
	msg := a.msg

	var (
		next reveal.Session
		err  error
	)

	switch msg.Type {
	case "start_round":
		gridSize := msg.GridSize
		if gridSize == 0 {
			gridSize = reveal.DifficultyGrid[msg.Difficulty]
		}
		next, err = h.session.Start(role, msg.Image, gridSize, msg.Teams)

	case "toggle_reveal":
		next, err = h.session.ToggleAutoReveal(role)

	case "buzz":
		next, err = h.session.Buzz(role, reveal.TeamID(msg.Team))

	case "adjudicate":
		next, err = h.session.Adjudicate(role, msg.Correct != nil && *msg.Correct)

	case "reset":
		next, err = h.session.Reset(role)

	default:
		return
	}

	if err != nil {
		logf(cfg, "GAMES: Rejected %q from %s in %s: %v", msg.Type, role, h.id, err)
		h.notify(a.client, "That action is not available right now.")
		return
	}

	h.session = next
	h.syncTicker(cfg)

	if err := h.pub.Publish(h.session); err != nil {
		logf(cfg, "GAMES: Sync failed for %s: %v", h.id, err)
		h.notify(a.client, "Sync failed. Please try again.")
	}
}

// handleTick reveals one tile on behalf of the auto-reveal timer.
func (h *revealHub) handleTick(cfg *Config) {
	next, err := h.session.Tick(reveal.RoleHost, h.rng)
	if err != nil {
		// Fully revealed or no longer revealing; halt the timer and
		// leave the round as it is.
		h.stopTicker()
		return
	}

	h.session = next
	if err := h.pub.Publish(h.session); err != nil {
		logf(cfg, "GAMES: Sync failed for %s: %v", h.id, err)
	}
}

// syncTicker keeps the auto-reveal timer aligned with the session: running
// only while the round is playing with auto-reveal enabled.
func (h *revealHub) syncTicker(cfg *Config) {
	shouldTick := h.session.Status == reveal.StatusPlaying && h.session.AutoRevealing

	switch {
	case shouldTick && h.ticker == nil:
		h.ticker = h.clock.NewTicker(cfg.revealInterval)
	case !shouldTick && h.ticker != nil:
		h.stopTicker()
	}
}

func (h *revealHub) stopTicker() {
	if h.ticker != nil {
		h.ticker.Stop()
		h.ticker = nil
	}
}

func (h *revealHub) tickChan() <-chan time.Time {
	if h.ticker == nil {
		return nil
	}
	return h.ticker.Chan()
}

func (h *revealHub) broadcastSession(s reveal.Session) {
	doc, err := reveal.EncodeDoc(s)
	if err != nil {
		return
	}
	msg := SessionStateMessage{Type: "session_state", Session: doc}

	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
			delete(h.clients, client)
			close(client.send)
		}
	}
}

func (h *revealHub) notify(c *wsClient, text string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	select {
	case c.send <- NoticeMessage{Type: "notice", Message: text}:
	default:
		delete(h.clients, c)
		close(c.send)
	}
}

// dispatch hands an action to the hub loop. Dropped once the room has been
// torn down, so client pumps never block on a loop that has exited.
func (h *revealHub) dispatch(a revealAction) {
	select {
	case h.actions <- a:
	case <-h.done:
	}
}

func (h *revealHub) unregister(c *wsClient) {
	select {
	case h.unreg <- c:
	case <-h.done:
	}
}

// closeAll disconnects all clients and stops the room (used by reaper).
func (h *revealHub) closeAll() {
	close(h.done)

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		close(c.send)
		if c.conn != nil {
			_ = c.conn.Close()
		}
		delete(h.clients, c)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const playerCookieName = "revealarena_id"

func getOrSetPlayerID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(playerCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		log.Println("rand.Read error:", err)
		return ""
	}
	id := hex.EncodeToString(buf)

	http.SetCookie(w, &http.Cookie{
		Name:     playerCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

// revealManager holds a set of hubs keyed by room ID, so each
// /reveal/:roomid is its own isolated session.
type revealManager struct {
	mu          sync.Mutex
	hubs        map[string]*revealHub
	idleTimeout time.Duration
}

func newRevealManager(idleTimeout time.Duration) *revealManager {
	rm := &revealManager{
		hubs:        make(map[string]*revealHub),
		idleTimeout: idleTimeout,
	}
	if idleTimeout > 0 {
		go rm.reaperLoop()
	}
	return rm
}

func (rm *revealManager) getHub(cfg *Config, st store.Store, clock clockwork.Clock, roomID string) *revealHub {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if hub, ok := rm.hubs[roomID]; ok {
		return hub
	}

	hub := newRevealHub(roomID, st, clock)
	rm.hubs[roomID] = hub
	go hub.run(cfg, st)
	return hub
}

// newRoomID generates a crypto-random room ID and ensures it doesn't
// collide with existing rooms.
func (rm *revealManager) newRoomID() string {
	const letters = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	for {
		buf := make([]byte, 6)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, 6)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		id := string(out)

		rm.mu.Lock()
		_, exists := rm.hubs[id]
		rm.mu.Unlock()

		if !exists {
			return id
		}
	}
}

// reaperLoop periodically removes hubs that have been idle longer than
// idleTimeout.
func (rm *revealManager) reaperLoop() {
	ticker := time.NewTicker(rm.idleTimeout / 2)
	for range ticker.C {
		cutoff := time.Now().Add(-rm.idleTimeout)

		rm.mu.Lock()
		for id, hub := range rm.hubs {
			hub.mu.RLock()
			last := hub.lastActive
			hub.mu.RUnlock()

			if last.Before(cutoff) {
				delete(rm.hubs, id)
				go hub.closeAll()
			}
		}
		rm.mu.Unlock()
	}
}

// WebSocket handler that picks the hub based on :roomid
func serveRevealWS(cfg *Config, rm *revealManager, st store.Store, clock clockwork.Clock) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		roomID := ps.ByName("roomid")
		if roomID == "" {
			http.Error(w, "missing room id", http.StatusBadRequest)
			return
		}

		playerID := getOrSetPlayerID(w, r)
		if playerID == "" {
			http.Error(w, "unable to assign player id", http.StatusInternalServerError)
			return
		}

		hub := rm.getHub(cfg, st, clock, roomID)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &wsClient{
			conn:     conn,
			send:     make(chan any, 8),
			playerID: playerID,
		}

		select {
		case hub.register <- client:
		case <-hub.done:
			_ = conn.Close()
			return
		}

		go client.writePump()
		client.readRevealPump(hub)
	}
}

func (c *wsClient) readRevealPump(h *revealHub) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()

	for {
		var msg RevealClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "start_round", "toggle_reveal", "buzz", "adjudicate", "reset":
			h.dispatch(revealAction{
				client: c,
				msg:    msg,
			})
		default:
			// ignore unknown types
		}
	}
}

func (c *wsClient) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// QR handler: generates a PNG QR code for the current room URL using
// go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at .../qr; strip the trailing "/qr" to get the share URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

func serveRevealRoom(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(cfg, w)

		_ = getOrSetPlayerID(w, r)

		roomID := ps.ByName("roomid")
		w.Write([]byte(newPage("Reveal Race — "+roomID, "Room "+roomID)))
	}
}

// redirectRevealRoom handles GET /reveal: spectators arriving with a
// ?room=ID query parameter go to that room, everyone else gets a fresh
// random room.
func redirectRevealRoom(cfg *Config, path string, rm *revealManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		roomID := r.URL.Query().Get("room")
		if roomID == "" {
			roomID = rm.newRoomID()
			logf(cfg, "GAMES: Created room %s/%s", path, roomID)
		}
		http.Redirect(w, r, cfg.prefix+path+"/"+roomID, http.StatusTemporaryRedirect)
	}
}

// registerRevealGame sets up routes so that:
//   - $path                  → redirects to a new or requested room
//   - $path/:roomid          → HTML client
//   - $path/:roomid/ws       → WebSocket for that room
//   - $path/:roomid/qr       → PNG QR code for that room URL
func registerRevealGame(cfg *Config, path string, mux *httprouter.Router, st store.Store, clock clockwork.Clock) {
	rm := newRevealManager(cfg.sessionTimeout)

	mux.GET(cfg.prefix+path, redirectRevealRoom(cfg, path, rm))

	mux.GET(cfg.prefix+path+"/:roomid", serveRevealRoom(cfg))

	mux.GET(cfg.prefix+path+"/:roomid/ws", serveRevealWS(cfg, rm, st, clock))

	mux.GET(cfg.prefix+path+"/:roomid/qr", qrHandler)
}
