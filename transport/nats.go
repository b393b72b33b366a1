package transport

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"homerobot/log"
)

const (
	peerIDHeader      = "Peer-Id"
	presenceInterval  = time.Second
	presenceTTL       = 3 * time.Second
	defaultAckTimeout = 5 * time.Second
)

// presence tracks peers by their last heartbeat.
type presence struct {
	ttl  time.Duration
	now  func() time.Time
	seen map[string]time.Time
}

func newPresence(ttl time.Duration, now func() time.Time) *presence {
	return &presence{ttl: ttl, now: now, seen: map[string]time.Time{}}
}

// touch records a heartbeat and reports whether id is new.
func (p *presence) touch(id string) bool {
	_, known := p.seen[id]
	p.seen[id] = p.now()
	return !known
}

func (p *presence) remove(id string) bool {
	_, known := p.seen[id]
	delete(p.seen, id)
	return known
}

// expire drops peers whose last heartbeat is older than the ttl.
func (p *presence) expire() bool {
	changed := false
	now := p.now()
	for id, at := range p.seen {
		if now.Sub(at) > p.ttl {
			delete(p.seen, id)
			changed = true
		}
	}
	return changed
}

func (p *presence) list() []string {
	return slices.Sorted(maps.Keys(p.seen))
}

type NatsConfig struct {
	URL        string
	Room       string
	PeerID     string
	AckTimeout time.Duration
}

// NatsChannel exchanges frames over NATS subjects below homerobot.<room>.
// Best-effort frames are plain publishes, reliable frames are requests that
// each peer acknowledges. Peers announce themselves with heartbeats.
type NatsChannel struct {
	observers
	cfg  NatsConfig
	conn *nats.Conn
	own  bool
	l    *zap.Logger

	subs   []*nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	presence *presence
}

type NatsOption func(*NatsChannel)

func WithNatsLogger(l *zap.Logger) NatsOption {
	return func(c *NatsChannel) { c.l = l }
}

// WithNatsConn uses an existing connection which Close leaves open.
func WithNatsConn(nc *nats.Conn) NatsOption {
	return func(c *NatsChannel) { c.conn = nc }
}

func (c *NatsChannel) subject(parts ...string) string {
	s := "homerobot." + c.cfg.Room
	for _, p := range parts {
		s += "." + p
	}
	return s
}

func NewNatsChannel(ctx context.Context, cfg NatsConfig, opts ...NatsOption) (*NatsChannel, error) {
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = defaultAckTimeout
	}
	c := &NatsChannel{
		cfg:      cfg,
		l:        log.Named("nats-channel"),
		presence: newPresence(presenceTTL, time.Now),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.conn == nil {
		nc, err := nats.Connect(cfg.URL,
			nats.Name("homerobot-"+cfg.PeerID),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		c.conn, c.own = nc, true
	}

	handlers := map[string]nats.MsgHandler{
		c.subject("data"):                 c.onData,
		c.subject("reliable", cfg.PeerID): c.onReliable,
		c.subject("presence"):             c.onPresence,
		c.subject("leave"):                c.onLeave,
	}
	for subj, h := range handlers {
		sub, err := c.conn.Subscribe(subj, h)
		if err != nil {
			c.unsubscribe()
			if c.own {
				c.conn.Close()
			}
			return nil, fmt.Errorf("subscribe %s: %w", subj, err)
		}
		c.subs = append(c.subs, sub)
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.heartbeat()
	return c, nil
}

func (c *NatsChannel) newMsg(subject string, data []byte) *nats.Msg {
	msg := nats.NewMsg(subject)
	msg.Header.Set(peerIDHeader, c.cfg.PeerID)
	msg.Data = data
	return msg
}

func (c *NatsChannel) heartbeat() {
	defer c.wg.Done()
	ticker := time.NewTicker(presenceInterval)
	defer ticker.Stop()

	c.announce()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.announce()
			c.mu.Lock()
			changed := c.presence.expire()
			peers := c.presence.list()
			c.mu.Unlock()
			if changed {
				c.peersChanged(peers)
			}
		}
	}
}

func (c *NatsChannel) announce() {
	if err := c.conn.PublishMsg(c.newMsg(c.subject("presence"), nil)); err != nil {
		c.l.Debug("presence publish failed", zap.Error(err))
	}
}

func (c *NatsChannel) sender(msg *nats.Msg) string {
	if msg.Header == nil {
		return ""
	}
	return msg.Header.Get(peerIDHeader)
}

func (c *NatsChannel) onPresence(msg *nats.Msg) {
	from := c.sender(msg)
	if from == "" || from == c.cfg.PeerID {
		return
	}
	c.mu.Lock()
	added := c.presence.touch(from)
	peers := c.presence.list()
	c.mu.Unlock()
	if added {
		c.l.Info("peer joined", zap.String("peer", from))
		c.peersChanged(peers)
	}
}

func (c *NatsChannel) onLeave(msg *nats.Msg) {
	from := c.sender(msg)
	if from == c.cfg.PeerID {
		return
	}
	c.mu.Lock()
	removed := c.presence.remove(from)
	peers := c.presence.list()
	c.mu.Unlock()
	if removed {
		c.l.Info("peer left", zap.String("peer", from))
		c.peersChanged(peers)
	}
}

func (c *NatsChannel) onData(msg *nats.Msg) {
	from := c.sender(msg)
	if from == c.cfg.PeerID {
		return
	}
	c.deliver(from, msg.Data)
}

func (c *NatsChannel) onReliable(msg *nats.Msg) {
	c.deliver(c.sender(msg), msg.Data)
	if err := msg.Respond(nil); err != nil {
		c.l.Warn("ack failed", zap.Error(err))
	}
}

func (c *NatsChannel) Peers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.presence.list()
}

func (c *NatsChannel) Send(data []byte, r Reliability) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	peers := c.Peers()
	if len(peers) == 0 {
		return nil
	}

	if r == BestEffort {
		if err := c.conn.PublishMsg(c.newMsg(c.subject("data"), data)); err != nil {
			c.l.Debug("publish failed", zap.Error(err))
		}
		return nil
	}

	for _, p := range peers {
		if _, err := c.conn.RequestMsg(c.newMsg(c.subject("reliable", p), data), c.cfg.AckTimeout); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrTransportFailure, p, err)
		}
	}
	return nil
}

func (c *NatsChannel) unsubscribe() {
	for _, s := range c.subs {
		_ = s.Unsubscribe()
	}
	c.subs = nil
}

func (c *NatsChannel) Close() error {
	if c.ctx.Err() != nil {
		return nil
	}
	c.cancel()
	c.wg.Wait()
	_ = c.conn.PublishMsg(c.newMsg(c.subject("leave"), nil))
	c.unsubscribe()
	if c.own {
		return c.conn.Drain()
	}
	return c.conn.Flush()
}
