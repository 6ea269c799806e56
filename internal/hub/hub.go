package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/MrChampion2020/etokserver/internal/config"
	pkglog "github.com/MrChampion2020/etokserver/pkg/log"
)

// PresenceWriter persists the durable online flag of a user.
type PresenceWriter interface {
	SetOnline(ctx context.Context, userID string, at time.Time) error
	SetOffline(ctx context.Context, userID string, at time.Time) error
}

// PresenceEventProducer publishes presence transitions to the event stream.
type PresenceEventProducer interface {
	ProducePresenceChanged(ctx context.Context, userID string, online bool, at time.Time) error
}

// StatusListener is told when a user gains its first or loses its last
// connection. Calls happen outside any registry lock and must not block.
type StatusListener interface {
	HandleUserOnline(userID string)
	HandleUserOffline(userID string)
}

// NodeTracker records which nodes of the cluster hold a user's connections.
type NodeTracker interface {
	Join(ctx context.Context, userID, nodeID string) error
	Leave(ctx context.Context, userID, nodeID string) (int, error)
	Nodes(ctx context.Context, userID string) ([]string, error)
}

// Options carries the optional collaborators of a Hub. Nodes and NodeID
// are set together in multi-node mode.
type Options struct {
	Presence     PresenceWriter
	Events       PresenceEventProducer
	Nodes        NodeTracker
	NodeID       string
	WriteTimeout time.Duration
}

type changeKind int

const (
	changeJoin changeKind = iota
	changeLeave
	changeVisibility
)

// presenceChange is one queued presence transition, kept in the order it
// happened.
type presenceChange struct {
	userID string
	kind   changeKind
	online bool
	hidden bool
	at     time.Time
}

// userEntry holds one user's live connections. Each entry has its own
// lock; an entry marked removed is no longer reachable from the map.
type userEntry struct {
	mu      sync.Mutex
	clients map[*Client]struct{}
	hidden  bool
	removed bool
}

// Presence is a point-in-time view of one user on this node.
type Presence struct {
	UserID      string `json:"userId"`
	Connected   bool   `json:"connected"`
	Visible     bool   `json:"visible"`
	Connections int    `json:"connections"`
}

// Online is what other users get to see.
func (p Presence) Online() bool {
	return p.Connected && p.Visible
}

// Hub is the connection registry: user ID -> live connections.
type Hub struct {
	users     sync.Map // userID -> *userEntry
	config    config.WebSocketConfig
	presence  PresenceWriter
	events    PresenceEventProducer
	nodes     NodeTracker
	nodeID    string
	timeout   time.Duration
	changes   chan presenceChange
	bridge    *Bridge
	listeners []StatusListener
	lmu       sync.RWMutex
}

// NewHub creates a new Hub.
func NewHub(cfg config.WebSocketConfig, opts Options) *Hub {
	timeout := opts.WriteTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Hub{
		config:   cfg,
		presence: opts.Presence,
		events:   opts.Events,
		nodes:    opts.Nodes,
		nodeID:   opts.NodeID,
		timeout:  timeout,
		changes:  make(chan presenceChange, 1024),
	}
}

// AddStatusListener subscribes l to online/offline transitions.
func (h *Hub) AddStatusListener(l StatusListener) {
	h.lmu.Lock()
	h.listeners = append(h.listeners, l)
	h.lmu.Unlock()
}

// SetBridge enables cross-node fan-out.
func (h *Hub) SetBridge(b *Bridge) {
	h.bridge = b
}

// Run drains the presence queue until ctx is done. Writes are sequential,
// so one user's transitions reach the store in the order they happened.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ch := <-h.changes:
			h.persist(ch)
		}
	}
}

func (h *Hub) persist(ch presenceChange) {
	l := pkglog.L()
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	switch ch.kind {
	case changeJoin:
		if h.nodes != nil {
			if err := h.nodes.Join(ctx, ch.userID, h.nodeID); err != nil {
				l.Error().Err(err).Str(pkglog.FieldUserID, ch.userID).Str(pkglog.FieldNodeID, h.nodeID).Msg("failed to record node")
			}
		}
	case changeLeave:
		if h.nodes != nil {
			remaining, err := h.nodes.Leave(ctx, ch.userID, h.nodeID)
			if err != nil {
				l.Error().Err(err).Str(pkglog.FieldUserID, ch.userID).Str(pkglog.FieldNodeID, h.nodeID).Msg("failed to release node")
			} else if remaining > 0 {
				l.Debug().Str(pkglog.FieldUserID, ch.userID).Int("nodes", remaining).Msg("user still connected on other nodes")
				return
			}
		}
		if ch.hidden {
			// The flag went offline when the user hid.
			return
		}
	}

	if h.presence != nil {
		var err error
		if ch.online {
			err = h.presence.SetOnline(ctx, ch.userID, ch.at)
		} else {
			err = h.presence.SetOffline(ctx, ch.userID, ch.at)
		}
		if err != nil {
			l.Error().Err(err).Str(pkglog.FieldUserID, ch.userID).Bool("online", ch.online).Msg("failed to persist presence")
		}
	}

	if h.events != nil {
		if err := h.events.ProducePresenceChanged(ctx, ch.userID, ch.online, ch.at); err != nil {
			l.Warn().Err(err).Str(pkglog.FieldUserID, ch.userID).Msg("failed to produce presence event")
		}
	}
}

// enqueuePresence must be called with the user's entry locked.
func (h *Hub) enqueuePresence(ch presenceChange) {
	ch.at = time.Now().UTC()
	select {
	case h.changes <- ch:
	default:
		l := pkglog.L()
		l.Warn().Str(pkglog.FieldUserID, ch.userID).Bool("online", ch.online).Msg("presence queue full, durable flag not updated")
	}
}

// Register adds a client to its user's connection set. Registering the
// same client twice is a no-op.
func (h *Hub) Register(client *Client) {
	for {
		v, _ := h.users.LoadOrStore(client.UserID, &userEntry{clients: make(map[*Client]struct{})})
		e := v.(*userEntry)

		e.mu.Lock()
		if e.removed {
			// Lost a race with the last Unregister; retry on a fresh entry.
			e.mu.Unlock()
			continue
		}
		if _, ok := e.clients[client]; ok {
			e.mu.Unlock()
			return
		}
		first := len(e.clients) == 0
		e.clients[client] = struct{}{}
		if first {
			h.enqueuePresence(presenceChange{userID: client.UserID, kind: changeJoin, online: true})
		}
		e.mu.Unlock()

		l := pkglog.L()
		l.Info().Str(pkglog.FieldUserID, client.UserID).Str(pkglog.FieldConnID, client.ID).Bool("first", first).Msg("client registered")

		if first {
			h.notify(client.UserID, true)
		}
		return
	}
}

// Unregister removes a client and closes its outbound queue. When it was
// the user's last connection the user goes offline.
func (h *Hub) Unregister(client *Client) {
	defer client.close()

	v, ok := h.users.Load(client.UserID)
	if !ok {
		return
	}
	e := v.(*userEntry)

	e.mu.Lock()
	if _, ok := e.clients[client]; !ok {
		e.mu.Unlock()
		return
	}
	delete(e.clients, client)
	last := len(e.clients) == 0
	if last {
		e.removed = true
		h.users.CompareAndDelete(client.UserID, e)
		h.enqueuePresence(presenceChange{userID: client.UserID, kind: changeLeave, hidden: e.hidden})
	}
	e.mu.Unlock()

	l := pkglog.L()
	l.Info().Str(pkglog.FieldUserID, client.UserID).Str(pkglog.FieldConnID, client.ID).Bool("last", last).Msg("client unregistered")

	if last {
		h.notify(client.UserID, false)
	}
}

func (h *Hub) notify(userID string, online bool) {
	h.lmu.RLock()
	defer h.lmu.RUnlock()
	for _, listener := range h.listeners {
		if online {
			listener.HandleUserOnline(userID)
		} else {
			listener.HandleUserOffline(userID)
		}
	}
}

// IsOnline reports whether userID has at least one live connection on
// this node.
func (h *Hub) IsOnline(userID string) bool {
	return h.Presence(userID).Connected
}

// Reachable reports whether userID has a live connection on this node or,
// in multi-node mode, on any other node.
func (h *Hub) Reachable(ctx context.Context, userID string) bool {
	if h.IsOnline(userID) {
		return true
	}
	if h.nodes == nil {
		return false
	}

	nodes, err := h.nodes.Nodes(ctx, userID)
	if err != nil {
		l := pkglog.Ctx(ctx)
		l.Warn().Err(err).Str(pkglog.FieldUserID, userID).Msg("failed to look up user nodes")
		return false
	}
	for _, n := range nodes {
		// This node's own entry may still be queued for removal.
		if n != h.nodeID {
			return true
		}
	}
	return false
}

// Presence returns the local presence of userID.
func (h *Hub) Presence(userID string) Presence {
	p := Presence{UserID: userID}
	v, ok := h.users.Load(userID)
	if !ok {
		return p
	}
	e := v.(*userEntry)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return p
	}
	p.Connections = len(e.clients)
	p.Connected = p.Connections > 0
	p.Visible = !e.hidden
	return p
}

// SetVisible toggles whether a connected user appears online. It does not
// touch the connection set. It reports false when the user has no live
// connection or the flag did not change.
func (h *Hub) SetVisible(userID string, visible bool) bool {
	v, ok := h.users.Load(userID)
	if !ok {
		return false
	}
	e := v.(*userEntry)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed || len(e.clients) == 0 || e.hidden == !visible {
		return false
	}
	e.hidden = !visible
	h.enqueuePresence(presenceChange{userID: userID, kind: changeVisibility, online: visible})
	return true
}

// Send delivers event to every connection of userID. A user without
// connections is not an error: the event is dropped.
func (h *Hub) Send(ctx context.Context, userID string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if n := h.deliverLocal(userID, data); n == 0 {
		l := pkglog.Ctx(ctx)
		l.Debug().Str(pkglog.FieldUserID, userID).Msg("recipient has no local connection, delivery skipped")
	}

	if h.bridge != nil {
		if err := h.bridge.publish(ctx, userID, data); err != nil {
			l := pkglog.Ctx(ctx)
			l.Warn().Err(err).Str(pkglog.FieldUserID, userID).Msg("cross-node fan-out failed")
		}
	}
	return nil
}

// deliverLocal enqueues data on each local connection of userID and
// returns how many accepted it. Connections whose buffer is full are
// dropped so one stalled socket cannot hold up the others.
func (h *Hub) deliverLocal(userID string, data []byte) int {
	v, ok := h.users.Load(userID)
	if !ok {
		return 0
	}
	e := v.(*userEntry)

	var stalled []*Client
	delivered := 0

	e.mu.Lock()
	for c := range e.clients {
		if c.enqueue(data) {
			delivered++
		} else {
			stalled = append(stalled, c)
		}
	}
	e.mu.Unlock()

	for _, c := range stalled {
		l := pkglog.L()
		l.Warn().Str(pkglog.FieldUserID, userID).Str(pkglog.FieldConnID, c.ID).Msg("send buffer full, dropping connection")
		go h.Unregister(c)
	}
	return delivered
}

// Stats is a snapshot for health reporting.
type Stats struct {
	Users       int `json:"users"`
	Connections int `json:"connections"`
}

// Stats counts users and connections on this node.
func (h *Hub) Stats() Stats {
	var s Stats
	h.users.Range(func(_, v interface{}) bool {
		e := v.(*userEntry)
		e.mu.Lock()
		if !e.removed && len(e.clients) > 0 {
			s.Users++
			s.Connections += len(e.clients)
		}
		e.mu.Unlock()
		return true
	})
	return s
}
