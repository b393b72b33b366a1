// Package transport moves opaque frames between the controller and the robot.
//
// Every Channel offers two delivery modes. BestEffort frames may be lost,
// reordered or duplicated and are used for the periodic pose stream. Reliable
// frames arrive in order or the sender gets an error; they carry waypoints,
// status signals and map blobs. Sending while no peer is connected is a no-op
// that returns nil.
package transport

import (
	"errors"
	"slices"
	"sync"
)

type Reliability int

const (
	BestEffort Reliability = iota
	Reliable
)

func (r Reliability) String() string {
	if r == Reliable {
		return "reliable"
	}
	return "best_effort"
}

var (
	// ErrNoPeers is returned by callers that require a peer, e.g. a map transfer.
	ErrNoPeers          = errors.New("no peers connected")
	ErrTransportFailure = errors.New("transport failure")
	ErrClosed           = errors.New("channel closed")
)

// ReceiveFunc is called for each inbound frame. from is the sender's peer id
// when the transport knows it. Implementations call it from their own goroutine.
type ReceiveFunc func(from string, data []byte)

// PeersFunc is called with the full peer list whenever membership changes.
type PeersFunc func(peers []string)

type Channel interface {
	Send(data []byte, r Reliability) error
	OnReceive(fn ReceiveFunc)
	OnPeersChanged(fn PeersFunc)
	Peers() []string
	Close() error
}

// observers holds the callbacks registered on a channel.
type observers struct {
	mu        sync.RWMutex
	onReceive ReceiveFunc
	onPeers   PeersFunc
}

func (o *observers) OnReceive(fn ReceiveFunc) {
	o.mu.Lock()
	o.onReceive = fn
	o.mu.Unlock()
}

func (o *observers) OnPeersChanged(fn PeersFunc) {
	o.mu.Lock()
	o.onPeers = fn
	o.mu.Unlock()
}

func (o *observers) deliver(from string, data []byte) {
	o.mu.RLock()
	fn := o.onReceive
	o.mu.RUnlock()
	if fn != nil {
		fn(from, data)
	}
}

func (o *observers) peersChanged(peers []string) {
	o.mu.RLock()
	fn := o.onPeers
	o.mu.RUnlock()
	if fn != nil {
		fn(slices.Clone(peers))
	}
}
