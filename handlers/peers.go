package handlers

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"homerobot/models"
)

// PeerInfo - what the relay knows about a connected peer
type PeerInfo struct {
	ID             string       `json:"id"`
	Room           string       `json:"room"`
	RegisteredAt   time.Time    `json:"registered_at"`
	LastUpdate     time.Time    `json:"last_update"`
	Position       *models.Vec3 `json:"position,omitempty"` // last broadcast pose, if any
	HasLocalized   bool         `json:"has_localized"`
	CurrentMapID   *string      `json:"current_map_id,omitempty"`
	RobotConnected bool         `json:"robot_connected"`
}

// PeerRegistry - peers seen by the relay, keyed by peer id
type PeerRegistry struct {
	mu       sync.RWMutex
	peers    map[string]*PeerInfo
	lastPing map[string]time.Time
	now      func() time.Time
}

func NewPeerRegistry() *PeerRegistry {
	return &PeerRegistry{
		peers:    make(map[string]*PeerInfo),
		lastPing: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Register adds a peer, or refreshes it when the id is already known.
func (r *PeerRegistry) Register(peerID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if info, ok := r.peers[peerID]; ok {
		info.Room = room
		info.LastUpdate = now
		r.lastPing[peerID] = now
		return
	}
	r.peers[peerID] = &PeerInfo{
		ID:           peerID,
		Room:         room,
		RegisteredAt: now,
		LastUpdate:   now,
	}
	r.lastPing[peerID] = now
}

// Observe refreshes a peer from a frame it sent, registering it again if it
// was cleaned up. Pose broadcasts also update the stored position and
// localization; any other frame only counts as a ping.
func (r *PeerRegistry) Observe(peerID, room string, frame []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	info, ok := r.peers[peerID]
	if !ok {
		info = &PeerInfo{ID: peerID, Room: room, RegisteredAt: now}
		r.peers[peerID] = info
	}
	info.LastUpdate = now
	r.lastPing[peerID] = now

	if models.IsMapBlob(frame) {
		return
	}
	msg, err := models.Decode(frame)
	if err != nil {
		return
	}
	if loc, ok := msg.(models.UpdateLocation); ok {
		pos := loc.Position
		info.Position = &pos
		info.HasLocalized = loc.HasLocalized
		info.CurrentMapID = loc.CurrentMapID
		info.RobotConnected = loc.RobotConnected
	}
}

func (r *PeerRegistry) Get(peerID string) (PeerInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.peers[peerID]
	if !ok {
		return PeerInfo{}, false
	}
	return *info, true
}

// All returns a copy of every peer, ordered by room and id.
func (r *PeerRegistry) All() []PeerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]PeerInfo, 0, len(r.peers))
	for _, info := range r.peers {
		out = append(out, *info)
	}
	slices.SortFunc(out, func(a, b PeerInfo) int {
		return cmp.Or(cmp.Compare(a.Room, b.Room), cmp.Compare(a.ID, b.ID))
	})
	return out
}

func (r *PeerRegistry) Remove(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, peerID)
	delete(r.lastPing, peerID)
}

// IsAlive reports whether the peer was heard from within timeout.
func (r *PeerRegistry) IsAlive(peerID string, timeout time.Duration) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	last, ok := r.lastPing[peerID]
	if !ok {
		return false
	}
	return r.now().Sub(last) < timeout
}

// CleanupOffline removes peers silent for longer than timeout and returns how
// many were removed.
func (r *PeerRegistry) CleanupOffline(timeout time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for id, last := range r.lastPing {
		if now.Sub(last) > timeout {
			delete(r.peers, id)
			delete(r.lastPing, id)
			removed++
		}
	}
	return removed
}

func (r *PeerRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}
