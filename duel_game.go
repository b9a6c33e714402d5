// Reveal Arena: Image Duel
//
// A lobby of players, a host, and one duel at a time: the host (or the
// matchmaker) picks two available players, shows them an image with a secret
// answer, and the first correct guess wins the round. Wins, plays, and
// fastest times accrue on a per-event scoreboard.
//
// Features:
// - Single shared lobby over WebSockets: /duel and /duel/ws
// - First connection becomes the host; hostship is checked server-side on
//   every privileged call, never inferred from the client
// - Random pair selection with a recency filter so everyone rotates through
// - All adjudication is server-side: guesses are append-only, the resolver
//   picks the first correct one, and ending a round is transactional and
//   idempotent
// - The answer never leaves the server except to the host's view
// - Host override and round cancel for stuck duels
// - CSV scoreboard export at /duel/scoreboard.csv

package main

import (
	"log"
	mathrand "math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/julienschmidt/httprouter"

	"github.com/dtravis2010/revealarena/duel"
	"github.com/dtravis2010/revealarena/score"
	"github.com/dtravis2010/revealarena/store"
)

// Messages coming from clients
type DuelClientMessage struct {
	Type     string    `json:"type"`                // "join", "set_available", "start_match", "create_round", "guess", "host_override", "cancel_round"
	Name     string    `json:"name,omitempty"`      // join
	ImageURL string    `json:"image_url,omitempty"` // create_round
	Answer   string    `json:"answer,omitempty"`    // create_round
	Players  [2]string `json:"players,omitempty"`   // create_round
	Text     string    `json:"text,omitempty"`      // guess
	WinnerID string    `json:"winner_id,omitempty"` // host_override
}

// DuelInfoMessage is sent on connect.
type DuelInfoMessage struct {
	Type   string `json:"type"` // "duel_info"
	IsHost bool   `json:"is_host"`
}

// JoinedMessage confirms lobby registration back to the joining client.
type JoinedMessage struct {
	Type string    `json:"type"` // "joined"
	User duel.User `json:"user"`
}

// LobbyMessage carries the full roster.
type LobbyMessage struct {
	Type  string      `json:"type"` // "lobby"
	Users []duel.User `json:"users"`
}

// MatchSelectedMessage proposes a pair to the host, who then fills in the
// image and answer to actually start the round.
type MatchSelectedMessage struct {
	Type    string       `json:"type"` // "match_selected"
	Players [2]duel.User `json:"players"`
}

// RoundView is the client-facing shape of a round. The answer only rides
// along on the host's copy.
type RoundView struct {
	ID         string           `json:"id"`
	Status     duel.RoundStatus `json:"status"`
	ImageURL   string           `json:"imageUrl"`
	Answer     string           `json:"answer,omitempty"`
	PlayerIDs  [2]string        `json:"playerIds"`
	WinnerID   *string          `json:"winnerId"`
	StartedAt  int64            `json:"startedAt"`
	EndedAt    *int64           `json:"endedAt"`
	GuessCount int              `json:"guessCount"`
}

// RoundMessage carries the current round state plus the full guess feed.
type RoundMessage struct {
	Type    string       `json:"type"` // "round"
	Round   RoundView    `json:"round"`
	Guesses []duel.Guess `json:"guesses"`
}

// WinnerMessage announces the resolved winning guess.
type WinnerMessage struct {
	Type  string     `json:"type"` // "winner"
	Guess duel.Guess `json:"guess"`
}

type duelAction struct {
	client *wsClient
	msg    DuelClientMessage
}

type duelHub struct {
	clients map[*wsClient]bool

	register chan *wsClient
	unreg    chan *wsClient
	actions  chan duelAction
	done     chan struct{}

	mu sync.RWMutex

	hostPlayerID string
	// Browser identity (cookie) to lobby user ID; survives reconnects.
	userIDs map[string]string

	engine      *duel.Engine
	matchmaker  *duel.Matchmaker
	rng         *mathrand.Rand
	roundID     string
	cancelRound store.CancelFunc
}

func newDuelHub(engine *duel.Engine) *duelHub {
	return &duelHub{
		clients:    make(map[*wsClient]bool),
		register:   make(chan *wsClient),
		unreg:      make(chan *wsClient),
		actions:    make(chan duelAction),
		done:       make(chan struct{}),
		userIDs:    make(map[string]string),
		engine:     engine,
		matchmaker: duel.NewMatchmaker(),
		rng:        mathrand.New(mathrand.NewSource(time.Now().UnixNano())),
	}
}

func (h *duelHub) run(cfg *Config) {
	cancelLobby := h.engine.WatchLobby(func() {
		h.broadcastLobby(cfg)
	})

	defer func() {
		cancelLobby()
		h.stopRoundWatch()
	}()

	for {
		select {
		case <-h.done:
			return

		case c := <-h.register:
			h.mu.Lock()
			if h.hostPlayerID == "" {
				h.hostPlayerID = c.playerID
			}
			isHost := h.hostPlayerID == c.playerID
			h.clients[c] = true
			h.mu.Unlock()

			c.send <- DuelInfoMessage{Type: "duel_info", IsHost: isHost}

			// Late joiners catch up on the running duel, if any.
			if round, ok, err := h.engine.ActiveRound(); err == nil && ok {
				guesses, _ := h.engine.Guesses(round.ID)
				c.send <- RoundMessage{
					Type:    "round",
					Round:   h.roundView(round, isHost),
					Guesses: guesses,
				}
			}

		case c := <-h.unreg:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case a := <-h.actions:
			h.handleAction(cfg, a)
		}
	}
}

func (h *duelHub) isHost(c *wsClient) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return c.playerID != "" && c.playerID == h.hostPlayerID
}

// userID returns the lobby identity the client joined as, "" before joining.
func (h *duelHub) userID(c *wsClient) string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.userIDs[c.playerID]
}

func (h *duelHub) handleAction(cfg *Config, a duelAction) {
	msg := a.msg

	switch msg.Type {
	case "join":
		h.handleJoin(cfg, a.client, msg.Name)

	case "set_available":
		userID := h.userID(a.client)
		if userID == "" {
			return
		}
		if err := h.engine.SetUserStatus(userID, duel.StatusAvailable); err != nil {
			logf(cfg, "GAMES: Duel status update failed: %v", err)
		}

	case "start_match":
		h.handleStartMatch(cfg, a.client)

	case "create_round":
		h.handleCreateRound(cfg, a.client, msg)

	case "guess":
		h.handleGuess(cfg, a.client, msg.Text)

	case "host_override":
		hostID := h.userID(a.client)
		roundID := h.currentRoundID()
		if hostID == "" || roundID == "" {
			return
		}
		if err := h.engine.HostOverride(hostID, roundID, msg.WinnerID); err != nil {
			logf(cfg, "GAMES: Duel override rejected: %v", err)
			h.notifyDuel(a.client, "Override rejected.")
		}

	case "cancel_round":
		if !h.isHost(a.client) {
			return
		}
		roundID := h.currentRoundID()
		if roundID == "" {
			return
		}
		if err := h.engine.CancelRound(roundID); err != nil && err != duel.ErrRoundEnded {
			logf(cfg, "GAMES: Duel cancel failed: %v", err)
		}
	}
}

func (h *duelHub) handleJoin(cfg *Config, c *wsClient, name string) {
	if name == "" {
		h.notifyDuel(c, "Pick a name first.")
		return
	}

	// Re-joining with the same browser keeps the same lobby identity.
	if existing := h.userID(c); existing != "" {
		if user, ok, err := h.engine.UserByID(existing); err == nil && ok {
			h.sendTo(c, JoinedMessage{Type: "joined", User: user})
			return
		}
	}

	user, err := h.engine.RegisterUser(name, h.isHost(c))
	if err != nil {
		logf(cfg, "GAMES: Duel join failed: %v", err)
		h.notifyDuel(c, "Join failed. Please try again.")
		return
	}

	h.mu.Lock()
	h.userIDs[c.playerID] = user.ID
	h.mu.Unlock()

	logf(cfg, "GAMES: %s joined the duel lobby as %q", user.ID, name)
	h.sendTo(c, JoinedMessage{Type: "joined", User: user})
}

// handleStartMatch proposes a random pair to the host. The round itself is
// only created once the host supplies an image and answer.
func (h *duelHub) handleStartMatch(cfg *Config, c *wsClient) {
	if !h.isHost(c) {
		return
	}

	available, err := h.engine.AvailableUsers()
	if err != nil {
		logf(cfg, "GAMES: Duel roster read failed: %v", err)
		return
	}

	first, second, ok := h.matchmaker.SelectPair(available, h.rng)
	if !ok {
		h.notifyDuel(c, "Need at least two available players.")
		return
	}

	h.sendTo(c, MatchSelectedMessage{
		Type:    "match_selected",
		Players: [2]duel.User{first, second},
	})
}

func (h *duelHub) handleCreateRound(cfg *Config, c *wsClient, msg DuelClientMessage) {
	hostID := h.userID(c)
	if hostID == "" {
		return
	}

	round, err := h.engine.CreateRound(hostID, msg.ImageURL, msg.Answer, msg.Players)
	if err != nil {
		logf(cfg, "GAMES: Duel round rejected: %v", err)
		h.notifyDuel(c, "Round rejected. Check the image, answer, and players.")
		return
	}

	logf(cfg, "GAMES: Duel round %s started (%s vs %s)", round.ID, round.PlayerIDs[0], round.PlayerIDs[1])
	h.watchRound(cfg, round.ID)
}

func (h *duelHub) handleGuess(cfg *Config, c *wsClient, text string) {
	playerID := h.userID(c)
	roundID := h.currentRoundID()
	if playerID == "" || roundID == "" {
		return
	}

	playerName := ""
	if user, ok, err := h.engine.UserByID(playerID); err == nil && ok {
		playerName = user.DisplayName
	}

	_, err := h.engine.SubmitGuess(roundID, playerID, playerName, text)
	switch err {
	case nil:
	case duel.ErrRoundEnded:
		h.notifyDuel(c, "Too late, the round is over.")
	case duel.ErrNotParticipant:
		h.notifyDuel(c, "Only the two duelists can guess.")
	case duel.ErrEmptyGuess:
		h.notifyDuel(c, "Empty guesses don't count.")
	default:
		logf(cfg, "GAMES: Duel guess failed: %v", err)
		h.notifyDuel(c, "Guess failed. Please try again.")
	}
}

// watchRound subscribes to the round document. Every snapshot re-pulls the
// guess feed, runs the resolver, and re-broadcasts; the transactional round
// end makes repeat resolution harmless.
func (h *duelHub) watchRound(cfg *Config, roundID string) {
	h.stopRoundWatch()

	cancel := h.engine.WatchRound(roundID, func(round duel.Round, ok bool) {
		if !ok {
			return
		}

		if round.Status == duel.RoundActive {
			if winner, err := h.engine.Resolve(round.ID); err != nil {
				logf(cfg, "GAMES: Duel resolve failed: %v", err)
			} else if winner != nil {
				logf(cfg, "GAMES: Duel round %s won by %s", round.ID, winner.PlayerID)
				h.broadcast(WinnerMessage{Type: "winner", Guess: *winner})
				return // the terminal write re-fires this watcher
			}
		}

		guesses, err := h.engine.Guesses(round.ID)
		if err != nil {
			logf(cfg, "GAMES: Duel feed read failed: %v", err)
			return
		}
		h.broadcastRound(round, guesses)
	})

	h.mu.Lock()
	h.roundID = roundID
	h.cancelRound = cancel
	h.mu.Unlock()
}

func (h *duelHub) stopRoundWatch() {
	h.mu.Lock()
	cancel := h.cancelRound
	h.roundID = ""
	h.cancelRound = nil
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (h *duelHub) currentRoundID() string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.roundID
}

func (h *duelHub) roundView(round duel.Round, withAnswer bool) RoundView {
	view := RoundView{
		ID:         round.ID,
		Status:     round.Status,
		ImageURL:   round.ImageURL,
		PlayerIDs:  round.PlayerIDs,
		WinnerID:   round.WinnerID,
		StartedAt:  round.StartedAt,
		EndedAt:    round.EndedAt,
		GuessCount: round.GuessCount,
	}
	if withAnswer {
		view.Answer = round.Answer
	}
	return view
}

func (h *duelHub) broadcastLobby(cfg *Config) {
	users, err := h.engine.Users()
	if err != nil {
		logf(cfg, "GAMES: Duel roster read failed: %v", err)
		return
	}
	h.broadcast(LobbyMessage{Type: "lobby", Users: users})
}

func (h *duelHub) broadcastRound(round duel.Round, guesses []duel.Guess) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		isHost := client.playerID == h.hostPlayerID
		msg := RoundMessage{
			Type:    "round",
			Round:   h.roundView(round, isHost),
			Guesses: guesses,
		}
		select {
		case client.send <- msg:
		default:
			delete(h.clients, client)
			close(client.send)
		}
	}
}

func (h *duelHub) broadcast(msg any) {
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

func (h *duelHub) sendTo(c *wsClient, msg any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	select {
	case c.send <- msg:
	default:
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *duelHub) notifyDuel(c *wsClient, text string) {
	h.sendTo(c, NoticeMessage{Type: "notice", Message: text})
}

func serveDuelWS(cfg *Config, hub *duelHub) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		playerID := getOrSetPlayerID(w, r)
		if playerID == "" {
			http.Error(w, "unable to assign player id", http.StatusInternalServerError)
			return
		}

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

		hub.register <- client

		go client.writePump()
		client.readDuelPump(hub)
	}
}

func (c *wsClient) readDuelPump(h *duelHub) {
	defer func() {
		h.unreg <- c
		_ = c.conn.Close()
	}()

	for {
		var msg DuelClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "join", "set_available", "start_match", "create_round", "guess", "host_override", "cancel_round":
			h.actions <- duelAction{
				client: c,
				msg:    msg,
			}
		default:
			// ignore unknown types
		}
	}
}

func serveDuelPage(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(cfg, w)

		_ = getOrSetPlayerID(w, r)

		w.Write([]byte(newPage("Image Duel", "Image Duel")))
	}
}

// serveScoreboardCSV exports the event leaderboard, ranked by wins, win rate,
// then fastest time.
func serveScoreboardCSV(cfg *Config, engine *duel.Engine) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		board, err := engine.Ledger().Read(engine.EventID())
		if err != nil {
			http.Error(w, "scoreboard unavailable", http.StatusInternalServerError)
			return
		}

		names := make(map[string]string)
		if users, err := engine.Users(); err == nil {
			for _, u := range users {
				names[u.ID] = u.DisplayName
			}
		}

		rows := score.Rank(board, names)

		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="scoreboard.csv"`)
		if err := score.WriteCSV(w, rows); err != nil {
			logf(cfg, "GAMES: Scoreboard export failed: %v", err)
			return
		}

		logf(cfg, "SERVE: Scoreboard (%d rows) to %s in %s",
			len(rows),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

// registerDuelGame sets up routes so that:
//   - $path                 → HTML client
//   - $path/ws              → WebSocket for the shared lobby
//   - $path/qr              → PNG QR code for the lobby URL
//   - $path/scoreboard.csv  → leaderboard export
func registerDuelGame(cfg *Config, path string, mux *httprouter.Router, st store.Store, clock clockwork.Clock) {
	ledger := score.NewLedger(st, clock)
	engine := duel.NewEngine(st, ledger, clock, cfg.eventID)

	hub := newDuelHub(engine)
	go hub.run(cfg)

	mux.GET(cfg.prefix+path, serveDuelPage(cfg))

	mux.GET(cfg.prefix+path+"/ws", serveDuelWS(cfg, hub))

	mux.GET(cfg.prefix+path+"/qr", qrHandler)

	mux.GET(cfg.prefix+path+"/scoreboard.csv", serveScoreboardCSV(cfg, engine))
}
