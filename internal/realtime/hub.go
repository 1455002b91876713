// Package realtime streams protocol events to WebSocket subscribers.
//
// The Hub is an events.Sink: the protocol's event bus publishes every
// emitted event to it and the hub fans it out to connected clients whose
// subscription matches. A client connecting with ?after=<seq> first
// receives the matching events it missed from the bus backlog.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"github.com/solace-fi/coverage/internal/events"
	"github.com/solace-fi/coverage/internal/metrics"
)

const (
	// MaxClients is the maximum number of concurrent WebSocket connections.
	MaxClients = 10000
	// MaxReplay caps the backlog sent to a reconnecting client.
	MaxReplay = 200

	sendBuffer = 256
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
)

// normalCloseCodes are WebSocket close codes that indicate an expected disconnect.
var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // wallets and bots
		}
		return origin == "http://"+r.Host || origin == "https://"+r.Host
	},
}

// accountFields are the event fields an account filter matches against.
var accountFields = []string{"policyholder", "claimant", "from", "to", "account", "receiver"}

// Subscription filters the events a client receives. An empty subscription
// receives nothing; AllEvents overrides every other filter.
type Subscription struct {
	AllEvents bool     `json:"allEvents"`
	Names     []string `json:"names"`    // event names, e.g. "PolicyCreated"
	Sources   []string `json:"sources"`  // emitting component addresses
	Accounts  []string `json:"accounts"` // addresses appearing in event fields
}

// Matches reports whether e passes the subscription's filters.
func (s Subscription) Matches(e events.Event) bool {
	if s.AllEvents {
		return true
	}
	if len(s.Names) == 0 && len(s.Sources) == 0 && len(s.Accounts) == 0 {
		return false
	}
	if len(s.Names) > 0 && !containsFold(s.Names, e.Name) {
		return false
	}
	if len(s.Sources) > 0 && !containsFold(s.Sources, e.Source.Hex()) {
		return false
	}
	if len(s.Accounts) > 0 {
		for _, f := range accountFields {
			if addr, ok := e.Fields[f].(common.Address); ok && containsFold(s.Accounts, addr.Hex()) {
				return true
			}
		}
		return false
	}
	return true
}

// Backlog is the event log a reconnecting client catches up from.
type Backlog interface {
	Since(after uint64, name string, limit int) []events.Event
}

// Client is one WebSocket subscriber.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu  sync.RWMutex
	sub Subscription

	// after is the replay cursor requested at connect; lastSeq is touched
	// only by the hub loop.
	after   uint64
	replay  bool
	lastSeq uint64
}

func (c *Client) subscription() Subscription {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sub
}

// Stats is a snapshot of hub activity.
type Stats struct {
	ConnectedClients int   `json:"connectedClients"`
	PeakClients      int64 `json:"peakClients"`
	TotalClients     int64 `json:"totalClients"`
	TotalEvents      int64 `json:"totalEvents"`
	DroppedEvents    int64 `json:"droppedEvents"`
	EvictedClients   int64 `json:"evictedClients"`
	ReplayedEvents   int64 `json:"replayedEvents"`
}

// Hub fans protocol events out to WebSocket clients.
type Hub struct {
	clients    map[*Client]struct{}
	broadcast  chan events.Event
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	logger     *slog.Logger
	done       chan struct{} // closed when Run exits
	maxClients int

	backlogMu sync.RWMutex
	backlog   Backlog

	totalEvents  atomic.Int64
	dropped      atomic.Int64
	totalClients atomic.Int64
	peakClients  atomic.Int64
	evicted      atomic.Int64
	replayed     atomic.Int64
}

// NewHub creates a hub. Call Run to start delivering events.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan events.Event, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		done:       make(chan struct{}),
		maxClients: MaxClients,
	}
}

// SetBacklog sets the log clients replay from when they pass ?after=.
func (h *Hub) SetBacklog(b Backlog) {
	h.backlogMu.Lock()
	h.backlog = b
	h.backlogMu.Unlock()
}

// Run delivers events until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send) // writePump sends CloseMessage on closed channel
				delete(h.clients, client)
			}
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(0)
			h.logger.Info("realtime hub stopped")
			return

		case client := <-h.register:
			h.catchUp(client)
			h.mu.Lock()
			h.clients[client] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.totalClients.Add(1)
			if int64(n) > h.peakClients.Load() {
				h.peakClients.Store(int64(n))
			}
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Debug("client connected", "total", n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Debug("client disconnected", "total", n)

		case event := <-h.broadcast:
			h.deliver(event)
		}
	}
}

// catchUp queues the backlog a client asked for. Events already replayed
// are skipped later by the client's lastSeq.
func (h *Hub) catchUp(c *Client) {
	if !c.replay {
		return
	}
	h.backlogMu.RLock()
	b := h.backlog
	h.backlogMu.RUnlock()
	c.lastSeq = c.after
	if b == nil {
		return
	}

	sub := c.subscription()
	for _, e := range b.Since(c.after, "", MaxReplay) {
		c.lastSeq = e.Seq
		if !sub.Matches(e) {
			continue
		}
		payload, err := json.Marshal(e)
		if err != nil {
			continue
		}
		select {
		case c.send <- payload:
			h.replayed.Add(1)
		default:
			return
		}
	}
}

func (h *Hub) deliver(event events.Event) {
	h.totalEvents.Add(1)
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Warn("failed to encode event", "event", event.Name, "error", err)
		return
	}

	var slow []*Client
	h.mu.RLock()
	for client := range h.clients {
		if event.Seq != 0 && event.Seq <= client.lastSeq {
			continue
		}
		if !client.subscription().Matches(event) {
			continue
		}
		select {
		case client.send <- payload:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	if len(slow) == 0 {
		return
	}
	h.mu.Lock()
	for _, client := range slow {
		if _, ok := h.clients[client]; ok {
			close(client.send)
			delete(h.clients, client)
			h.evicted.Add(1)
		}
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.ActiveWebSocketClients.Set(float64(n))
	h.logger.Warn("evicted slow websocket clients", "count", len(slow))
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// Publish queues an event for broadcast. It never blocks; when the queue is
// full the event is dropped and counted.
func (h *Hub) Publish(event events.Event) {
	select {
	case h.broadcast <- event:
	default:
		h.dropped.Add(1)
		h.logger.Warn("broadcast channel full, dropping event", "event", event.Name, "seq", event.Seq)
	}
}

// Stats returns a snapshot of hub activity.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()

	return Stats{
		ConnectedClients: n,
		PeakClients:      h.peakClients.Load(),
		TotalClients:     h.totalClients.Load(),
		TotalEvents:      h.totalEvents.Load(),
		DroppedEvents:    h.dropped.Load(),
		EvictedClients:   h.evicted.Load(),
		ReplayedEvents:   h.replayed.Load(),
	}
}

// HandleWebSocket upgrades HTTP to WebSocket. The optional query parameters
// name, source, and account seed the initial subscription; without any of
// them the client receives every event. after=<seq> replays missed events.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	if n >= h.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	after, replay, err := afterFromQuery(r)
	if err != nil {
		http.Error(w, "after must be an event sequence number", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		sub:    subscriptionFromQuery(r),
		after:  after,
		replay: replay,
	}

	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func subscriptionFromQuery(r *http.Request) Subscription {
	q := r.URL.Query()
	sub := Subscription{
		Names:    q["name"],
		Sources:  q["source"],
		Accounts: q["account"],
	}
	if len(sub.Names) == 0 && len(sub.Sources) == 0 && len(sub.Accounts) == 0 {
		sub.AllEvents = true
	}
	return sub
}

func afterFromQuery(r *http.Request) (uint64, bool, error) {
	v := r.URL.Query().Get("after")
	if v == "" {
		return 0, false, nil
	}
	after, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return after, true, nil
}

// readPump applies subscription updates and keeps the read deadline fresh.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(64 * 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}

		var sub Subscription
		if err := json.Unmarshal(message, &sub); err != nil {
			c.hub.logger.Debug("ignoring malformed subscription", "error", err)
			continue
		}
		c.mu.Lock()
		c.sub = sub
		c.mu.Unlock()
	}
}

// writePump drains the send queue and pings idle connections.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Warn("websocket write error", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.logger.Debug("websocket ping failed", "error", err)
				return
			}
		}
	}
}
