package transport

import (
	"slices"
	"sync"
)

const memoryInboxSize = 256

type frame struct {
	from string
	data []byte
}

// MemoryChannel is one end of an in-process link. Best-effort frames are
// dropped when the receiver's inbox is full; reliable frames wait for room.
type MemoryChannel struct {
	observers
	id    string
	inbox chan frame
	done  chan struct{}

	mu     sync.RWMutex
	peer   *MemoryChannel
	closed bool
	once   sync.Once
}

// NewMemoryPair returns two connected channels named a and b.
func NewMemoryPair(a, b string) (*MemoryChannel, *MemoryChannel) {
	ca, cb := newMemoryChannel(a), newMemoryChannel(b)
	ca.peer, cb.peer = cb, ca
	return ca, cb
}

func newMemoryChannel(id string) *MemoryChannel {
	c := &MemoryChannel{
		id:    id,
		inbox: make(chan frame, memoryInboxSize),
		done:  make(chan struct{}),
	}
	go c.dispatch()
	return c
}

func (c *MemoryChannel) dispatch() {
	for {
		select {
		case <-c.done:
			return
		case f := <-c.inbox:
			c.deliver(f.from, f.data)
		}
	}
}

func (c *MemoryChannel) ID() string { return c.id }

func (c *MemoryChannel) Send(data []byte, r Reliability) error {
	c.mu.RLock()
	closed, peer := c.closed, c.peer
	c.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if peer == nil {
		return nil
	}

	f := frame{from: c.id, data: slices.Clone(data)}
	if r == BestEffort {
		select {
		case peer.inbox <- f:
		default:
		}
		return nil
	}
	select {
	case peer.inbox <- f:
		return nil
	case <-peer.done:
		return ErrTransportFailure
	case <-c.done:
		return ErrClosed
	}
}

func (c *MemoryChannel) Peers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.peer == nil {
		return nil
	}
	return []string{c.peer.id}
}

// Disconnect unlinks both ends and reports the empty peer list on each side.
func (c *MemoryChannel) Disconnect() {
	c.mu.Lock()
	peer := c.peer
	c.peer = nil
	c.mu.Unlock()
	if peer == nil {
		return
	}

	peer.mu.Lock()
	if peer.peer == c {
		peer.peer = nil
	}
	peer.mu.Unlock()

	c.peersChanged(nil)
	peer.peersChanged(nil)
}

// Connect links two channels that are currently unlinked.
func (c *MemoryChannel) Connect(other *MemoryChannel) {
	c.mu.Lock()
	c.peer = other
	c.mu.Unlock()
	other.mu.Lock()
	other.peer = c
	other.mu.Unlock()

	c.peersChanged([]string{other.id})
	other.peersChanged([]string{c.id})
}

func (c *MemoryChannel) Close() error {
	c.once.Do(func() {
		c.Disconnect()
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
	})
	return nil
}
