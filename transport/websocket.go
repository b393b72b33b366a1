package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"homerobot/log"
)

const (
	wsOutboxSize   = 64
	wsWriteTimeout = 5 * time.Second
	wsPingPeriod   = 20 * time.Second
)

// PeersFrame is the text frame the relay pushes on membership changes.
type PeersFrame struct {
	Type  string   `json:"type"` // always "peers"
	Peers []string `json:"peers"`
}

type outFrame struct {
	data []byte
	done chan error // nil for best-effort frames
}

type WebSocketConfig struct {
	RelayURL       string
	Room           string
	PeerID         string
	ReconnectDelay time.Duration
	SendTimeout    time.Duration
}

// WebSocketChannel relays frames through the relay server. It reconnects
// until closed; while disconnected it reports no peers.
type WebSocketChannel struct {
	observers
	cfg    WebSocketConfig
	url    string
	dialer *websocket.Dialer
	l      *zap.Logger

	outbox chan outFrame
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.RWMutex
	peers []string
}

type WebSocketOption func(*WebSocketChannel)

func WithWebSocketLogger(l *zap.Logger) WebSocketOption {
	return func(c *WebSocketChannel) { c.l = l }
}

func WithDialer(d *websocket.Dialer) WebSocketOption {
	return func(c *WebSocketChannel) { c.dialer = d }
}

// RelayWebSocketURL builds ws(s)://host/ws/<room>?peer=<id> from the relay base URL.
func RelayWebSocketURL(base, room, peerID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("relay url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("relay url: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/" + url.PathEscape(room)
	u.RawQuery = url.Values{"peer": {peerID}}.Encode()
	return u.String(), nil
}

// DialWebSocket starts the connection loop and returns immediately.
func DialWebSocket(ctx context.Context, cfg WebSocketConfig, opts ...WebSocketOption) (*WebSocketChannel, error) {
	u, err := RelayWebSocketURL(cfg.RelayURL, cfg.Room, cfg.PeerID)
	if err != nil {
		return nil, err
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	c := &WebSocketChannel{
		cfg:    cfg,
		url:    u,
		dialer: websocket.DefaultDialer,
		l:      log.Named("ws-channel"),
		outbox: make(chan outFrame, wsOutboxSize),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go c.run()
	return c, nil
}

func (c *WebSocketChannel) run() {
	defer c.wg.Done()
	for {
		conn, _, err := c.dialer.DialContext(c.ctx, c.url, nil)
		if err == nil {
			c.l.Info("connected to relay", zap.String("url", c.url))
			c.serve(conn)
			c.setPeers(nil)
		} else if c.ctx.Err() == nil {
			c.l.Warn("relay dial failed", zap.String("url", c.url), zap.Error(err))
		}

		select {
		case <-c.ctx.Done():
			return
		case <-time.After(c.cfg.ReconnectDelay):
		}
	}
}

// serve pumps one connection until it fails or the channel is closed.
func (c *WebSocketChannel) serve(conn *websocket.Conn) {
	stop := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop(conn, stop)
	}()
	defer func() {
		close(stop)
		<-writerDone
		_ = conn.Close()
	}()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil {
				c.l.Warn("relay connection lost", zap.Error(err))
			}
			return
		}
		switch kind {
		case websocket.BinaryMessage:
			c.deliver("", data)
		case websocket.TextMessage:
			var pf PeersFrame
			if err := json.Unmarshal(data, &pf); err != nil || pf.Type != "peers" {
				c.l.Debug("ignoring relay text frame", zap.ByteString("frame", data))
				continue
			}
			c.setPeers(slices.DeleteFunc(pf.Peers, func(p string) bool { return p == c.cfg.PeerID }))
		}
	}
}

func (c *WebSocketChannel) writeLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-stop:
			return
		case <-c.ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				_ = conn.Close()
				return
			}
		case f := <-c.outbox:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			err := conn.WriteMessage(websocket.BinaryMessage, f.data)
			if f.done != nil {
				if err != nil {
					err = fmt.Errorf("%w: %v", ErrTransportFailure, err)
				}
				f.done <- err
			}
			if err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

func (c *WebSocketChannel) setPeers(peers []string) {
	c.mu.Lock()
	changed := !slices.Equal(c.peers, peers)
	c.peers = peers
	c.mu.Unlock()
	if changed {
		c.peersChanged(peers)
	}
}

func (c *WebSocketChannel) Peers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.peers)
}

func (c *WebSocketChannel) Send(data []byte, r Reliability) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	if len(c.Peers()) == 0 {
		return nil
	}

	f := outFrame{data: slices.Clone(data)}
	if r == BestEffort {
		select {
		case c.outbox <- f:
		default:
			c.l.Debug("outbox full, dropping best-effort frame")
		}
		return nil
	}

	f.done = make(chan error, 1)
	timeout := time.NewTimer(c.cfg.SendTimeout)
	defer timeout.Stop()
	select {
	case c.outbox <- f:
	case <-c.ctx.Done():
		return ErrClosed
	case <-timeout.C:
		return fmt.Errorf("%w: outbox full", ErrTransportFailure)
	}
	select {
	case err := <-f.done:
		return err
	case <-c.ctx.Done():
		return ErrClosed
	case <-timeout.C:
		return fmt.Errorf("%w: send timed out", ErrTransportFailure)
	}
}

func (c *WebSocketChannel) Close() error {
	c.cancel()
	c.wg.Wait()
	return nil
}
