package services

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"homerobot/models"
)

var ErrNotSynced = errors.New("peers not synced")

const DefaultSyncFreshness = 2 * time.Second

// LocalizationSource reports whether this device has localized and against which map.
type LocalizationSource interface {
	Localization() (hasLocalized bool, mapID *string)
}

// SyncGate - decides whether both peers share a localized map right now.
// The answer is derived from the last peer update on every call, never stored.
type SyncGate struct {
	freshness time.Duration
	now       func() time.Time
	local     LocalizationSource

	mu       sync.RWMutex
	lastAt   time.Time
	lastPeer *models.UpdateLocation
}

type SyncGateOption func(*SyncGate)

func WithFreshness(d time.Duration) SyncGateOption {
	return func(g *SyncGate) { g.freshness = d }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) SyncGateOption {
	return func(g *SyncGate) { g.now = now }
}

func NewSyncGate(local LocalizationSource, opts ...SyncGateOption) *SyncGate {
	g := &SyncGate{
		freshness: DefaultSyncFreshness,
		now:       time.Now,
		local:     local,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RecordPeerUpdate stores msg with the local receive time, replacing any earlier one.
func (g *SyncGate) RecordPeerUpdate(msg models.UpdateLocation) {
	at := g.now()
	g.mu.Lock()
	g.lastAt = at
	g.lastPeer = &msg
	g.mu.Unlock()
}

// LastPeerUpdate returns the stored peer message and its age.
func (g *SyncGate) LastPeerUpdate() (models.UpdateLocation, time.Duration, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.lastPeer == nil {
		return models.UpdateLocation{}, 0, false
	}
	return *g.lastPeer, g.now().Sub(g.lastAt), true
}

func (g *SyncGate) IsSynced() bool {
	return g.Check() == nil
}

// Check returns nil when synced, otherwise ErrNotSynced wrapped with the reason.
func (g *SyncGate) Check() error {
	peer, age, ok := g.LastPeerUpdate()
	if !ok {
		return fmt.Errorf("%w: no update from peer", ErrNotSynced)
	}
	if age >= g.freshness {
		return fmt.Errorf("%w: last peer update %s ago", ErrNotSynced, age.Round(time.Millisecond))
	}
	if !peer.HasLocalized {
		return fmt.Errorf("%w: peer has not localized", ErrNotSynced)
	}

	localized, mapID := g.local.Localization()
	if !localized {
		return fmt.Errorf("%w: this device has not localized", ErrNotSynced)
	}
	if mapID == nil || peer.CurrentMapID == nil {
		return fmt.Errorf("%w: no shared map loaded", ErrNotSynced)
	}
	if *mapID != *peer.CurrentMapID {
		return fmt.Errorf("%w: map %q differs from peer map %q", ErrNotSynced, *mapID, *peer.CurrentMapID)
	}
	return nil
}
