package handlers

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"homerobot/log"
	"homerobot/services"
	"homerobot/transport"
)

// Client - one websocket connection in a room
type Client struct {
	Conn   *websocket.Conn
	Room   string
	PeerID string
}

// leave asks the hub to drop a connection. done is closed once the hub no
// longer touches conn; the handler must not return before that.
type leave struct {
	conn *websocket.Conn
	done chan struct{}
}

type relayFrame struct {
	from *websocket.Conn
	room string
	data []byte
}

// RelayHub forwards binary frames between the peers of a room.
//
// All writes to client connections happen on the hub goroutine, so a
// connection never sees concurrent writers.
type RelayHub struct {
	clients    map[*websocket.Conn]*Client
	broadcast  chan relayFrame
	register   chan *Client
	unregister chan leave
	quit       chan struct{}
	mutex      sync.RWMutex

	registry    *PeerRegistry
	journal     *services.Journal // nil when no database is configured
	peerTimeout time.Duration
	logger      *zap.Logger
}

func NewRelayHub(registry *PeerRegistry, journal *services.Journal, peerTimeout time.Duration) *RelayHub {
	return &RelayHub{
		clients:     make(map[*websocket.Conn]*Client),
		broadcast:   make(chan relayFrame, 256),
		register:    make(chan *Client),
		unregister:  make(chan leave),
		quit:        make(chan struct{}),
		registry:    registry,
		journal:     journal,
		peerTimeout: peerTimeout,
		logger:      log.Named("relay"),
	}
}

// Start runs the hub until ctx is done.
func (h *RelayHub) Start(ctx context.Context) {
	cleanup := time.NewTicker(h.cleanupPeriod())
	defer cleanup.Stop()
	defer close(h.quit)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client.Conn] = client
			h.mutex.Unlock()
			h.registry.Register(client.PeerID, client.Room)
			h.logger.Info("client registered",
				zap.String("room", client.Room), zap.String("peer", client.PeerID),
				zap.String("addr", client.Conn.RemoteAddr().String()))
			h.pushPeers(client.Room)

		case l := <-h.unregister:
			h.remove(l.conn)
			close(l.done)

		case f := <-h.broadcast:
			h.forward(f)

		case <-cleanup.C:
			if n := h.registry.CleanupOffline(h.peerTimeout); n > 0 {
				h.logger.Info("offline peers removed", zap.Int("count", n))
			}
		}
	}
}

func (h *RelayHub) cleanupPeriod() time.Duration {
	if h.peerTimeout <= 0 {
		return time.Minute
	}
	return h.peerTimeout / 2
}

func (h *RelayHub) remove(conn *websocket.Conn) {
	h.mutex.Lock()
	client, ok := h.clients[conn]
	if ok {
		delete(h.clients, conn)
	}
	stillConnected := ok && h.connectedLocked(client.Room, client.PeerID)
	h.mutex.Unlock()
	if !ok {
		return
	}

	_ = conn.Close()
	if !stillConnected {
		h.registry.Remove(client.PeerID)
	}
	h.logger.Info("client unregistered", zap.String("room", client.Room), zap.String("peer", client.PeerID))
	h.pushPeers(client.Room)
}

// connectedLocked reports whether another connection uses peerID. Callers hold mutex.
func (h *RelayHub) connectedLocked(room, peerID string) bool {
	for _, c := range h.clients {
		if c.Room == room && c.PeerID == peerID {
			return true
		}
	}
	return false
}

func (h *RelayHub) forward(f relayFrame) {
	var failed []*websocket.Conn
	h.mutex.RLock()
	for conn, client := range h.clients {
		if conn == f.from || client.Room != f.room {
			continue
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, f.data); err != nil {
			h.logger.Warn("forward failed", zap.String("peer", client.PeerID), zap.Error(err))
			failed = append(failed, conn)
		}
	}
	h.mutex.RUnlock()

	for _, conn := range failed {
		h.remove(conn)
	}
}

// pushPeers sends the room's member list to every member.
func (h *RelayHub) pushPeers(room string) {
	peers := h.RoomPeers(room)
	frame, err := json.Marshal(transport.PeersFrame{Type: "peers", Peers: peers})
	if err != nil {
		return
	}

	h.mutex.RLock()
	defer h.mutex.RUnlock()
	for conn, client := range h.clients {
		if client.Room != room {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			h.logger.Warn("peer list push failed", zap.String("peer", client.PeerID), zap.Error(err))
		}
	}
}

func (h *RelayHub) closeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for conn := range h.clients {
		_ = conn.Close()
		delete(h.clients, conn)
	}
}

// RoomPeers returns the sorted distinct peer ids connected to room.
func (h *RelayHub) RoomPeers(room string) []string {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	peers := make([]string, 0, len(h.clients))
	for _, c := range h.clients {
		if c.Room == room {
			peers = append(peers, c.PeerID)
		}
	}
	peers = lo.Uniq(peers)
	slices.Sort(peers)
	return peers
}

// GetClientCount returns the number of connections per room.
func (h *RelayHub) GetClientCount() map[string]int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	count := map[string]int{}
	for _, c := range h.clients {
		count[c.Room]++
	}
	return count
}

// HandleWebSocket serves /ws/:room?peer=<id>. A peer without an id gets a random one.
func (h *RelayHub) HandleWebSocket(c *websocket.Conn) {
	client := &Client{
		Conn:   c,
		Room:   c.Params("room"),
		PeerID: c.Query("peer"),
	}
	if client.PeerID == "" {
		client.PeerID = uuid.NewString()
	}

	select {
	case h.register <- client:
	case <-h.quit:
		return
	}
	defer func() {
		l := leave{conn: c, done: make(chan struct{})}
		select {
		case h.unregister <- l:
			<-l.done
		case <-h.quit:
		}
	}()

	for {
		kind, data, err := c.ReadMessage()
		if err != nil {
			h.logger.Debug("read ended", zap.String("peer", client.PeerID), zap.Error(err))
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}

		h.registry.Observe(client.PeerID, client.Room, data)
		if h.journal != nil {
			h.journal.RecordFrame(client.Room, client.PeerID, data)
		}
		select {
		case h.broadcast <- relayFrame{from: c, room: client.Room, data: data}:
		case <-h.quit:
			return
		}
	}
}
