package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"homerobot/log"
)

const (
	poseLabel = "pose" // unordered, no retransmits
	bulkLabel = "bulk" // ordered, reliable, fragmented

	bulkChunkSize = 16 * 1024
	bulkMaxSize   = 64 << 20

	chunkMore  byte = 1
	chunkFinal byte = 0
)

type PeerRole int

const (
	RoleOfferer PeerRole = iota
	RoleAnswerer
)

type PeerConfig struct {
	RelayURL     string
	Room         string
	PeerID       string
	ICEServers   []string
	Role         PeerRole
	PollInterval time.Duration
}

// PeerChannel is a direct WebRTC link to one peer. Best-effort frames go over
// an unordered data channel without retransmits, reliable frames over an
// ordered one. SDP is exchanged through the relay's mailbox.
type PeerChannel struct {
	observers
	cfg    PeerConfig
	pc     *webrtc.PeerConnection
	signal *SignalClient
	l      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	pose     *webrtc.DataChannel
	bulk     *webrtc.DataChannel
	remote   string
	peers    []string
	assembly []byte
	sendMu   sync.Mutex // keeps fragments of one frame contiguous
}

type PeerOption func(*PeerChannel)

func WithPeerLogger(l *zap.Logger) PeerOption {
	return func(c *PeerChannel) { c.l = l }
}

// NewPeerChannel sets up the peer connection and negotiates in the background.
func NewPeerChannel(ctx context.Context, cfg PeerConfig, opts ...PeerOption) (*PeerChannel, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	c := &PeerChannel{
		cfg:    cfg,
		signal: NewSignalClient(cfg.RelayURL, cfg.Room),
		l:      log.Named("peer-channel"),
	}
	for _, opt := range opts {
		opt(c)
	}

	servers := []webrtc.ICEServer{}
	if len(cfg.ICEServers) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: cfg.ICEServers})
	}
	api := webrtc.NewAPI(webrtc.WithSettingEngine(webrtc.SettingEngine{}))
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	c.pc = pc

	pc.OnConnectionStateChange(c.onConnectionState)
	if cfg.Role == RoleOfferer {
		if err := c.createDataChannels(); err != nil {
			_ = pc.Close()
			return nil, err
		}
	} else {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			c.l.Info("received data channel", zap.String("label", dc.Label()))
			c.attach(dc)
		})
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.negotiate(); err != nil && c.ctx.Err() == nil {
			c.l.Error("negotiation failed", zap.Error(err))
		}
	}()
	return c, nil
}

func (c *PeerChannel) createDataChannels() error {
	unordered := false
	ordered := true
	var noRetransmits uint16

	pose, err := c.pc.CreateDataChannel(poseLabel, &webrtc.DataChannelInit{
		Ordered:        &unordered,
		MaxRetransmits: &noRetransmits,
	})
	if err != nil {
		return fmt.Errorf("create %s channel: %w", poseLabel, err)
	}
	bulk, err := c.pc.CreateDataChannel(bulkLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return fmt.Errorf("create %s channel: %w", bulkLabel, err)
	}
	c.attach(pose)
	c.attach(bulk)
	return nil
}

func (c *PeerChannel) attach(dc *webrtc.DataChannel) {
	c.mu.Lock()
	switch dc.Label() {
	case poseLabel:
		c.pose = dc
	case bulkLabel:
		c.bulk = dc
	default:
		c.mu.Unlock()
		c.l.Warn("unexpected data channel", zap.String("label", dc.Label()))
		return
	}
	c.mu.Unlock()

	dc.OnOpen(func() {
		c.l.Info("data channel opened", zap.String("label", dc.Label()))
	})
	dc.OnError(func(err error) {
		c.l.Warn("data channel error", zap.String("label", dc.Label()), zap.Error(err))
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if dc.Label() == poseLabel {
			c.deliver(c.remotePeer(), msg.Data)
			return
		}
		if data, ok := c.reassemble(msg.Data); ok {
			c.deliver(c.remotePeer(), data)
		}
	})
}

// reassemble collects bulk fragments; ok is true when a frame is complete.
func (c *PeerChannel) reassemble(chunk []byte) (data []byte, ok bool) {
	if len(chunk) == 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.assembly)+len(chunk)-1 > bulkMaxSize {
		c.l.Warn("dropping oversized bulk frame")
		c.assembly = nil
		return nil, false
	}
	c.assembly = append(c.assembly, chunk[1:]...)
	if chunk[0] == chunkMore {
		return nil, false
	}
	data, c.assembly = c.assembly, nil
	return data, true
}

// fragment splits data into bulk chunks, each prefixed with a continuation flag.
func fragment(data []byte, size int) [][]byte {
	var out [][]byte
	for {
		n := min(size, len(data))
		flag := chunkFinal
		if n < len(data) {
			flag = chunkMore
		}
		chunk := make([]byte, 0, n+1)
		chunk = append(chunk, flag)
		chunk = append(chunk, data[:n]...)
		out = append(out, chunk)
		data = data[n:]
		if flag == chunkFinal {
			return out
		}
	}
}

func (c *PeerChannel) negotiate() error {
	if c.cfg.Role == RoleOfferer {
		offer, err := c.pc.CreateOffer(nil)
		if err != nil {
			return fmt.Errorf("create offer: %w", err)
		}
		if err := c.setLocal(offer); err != nil {
			return err
		}
		if err := c.publish("offer"); err != nil {
			return err
		}
		answer, err := c.signal.Wait(c.ctx, "answer", c.cfg.PeerID, c.cfg.PollInterval, c.logSignalErr)
		if err != nil {
			return err
		}
		return c.setRemote(answer)
	}

	offer, err := c.signal.Wait(c.ctx, "offer", c.cfg.PeerID, c.cfg.PollInterval, c.logSignalErr)
	if err != nil {
		return err
	}
	if err := c.setRemote(offer); err != nil {
		return err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := c.setLocal(answer); err != nil {
		return err
	}
	return c.publish("answer")
}

func (c *PeerChannel) logSignalErr(err error) {
	c.l.Debug("signaling poll failed", zap.Error(err))
}

// setLocal applies desc and waits for ICE gathering so the published SDP is complete.
func (c *PeerChannel) setLocal(desc webrtc.SessionDescription) error {
	gathered := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(desc); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gathered:
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
}

func (c *PeerChannel) publish(kind string) error {
	sdp, err := json.Marshal(c.pc.LocalDescription())
	if err != nil {
		return err
	}
	return c.signal.Put(c.ctx, kind, SignalDescription{Peer: c.cfg.PeerID, SDP: sdp})
}

func (c *PeerChannel) setRemote(d *SignalDescription) error {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(d.SDP, &desc); err != nil {
		return fmt.Errorf("decode remote description: %w", err)
	}
	c.mu.Lock()
	c.remote = d.Peer
	c.mu.Unlock()
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	c.l.Info("remote description applied", zap.String("peer", d.Peer))
	return nil
}

func (c *PeerChannel) onConnectionState(state webrtc.PeerConnectionState) {
	c.l.Info("peer connection state changed", zap.String("state", state.String()))

	c.mu.Lock()
	var peers []string
	if state == webrtc.PeerConnectionStateConnected && c.remote != "" {
		peers = []string{c.remote}
	}
	changed := !slices.Equal(c.peers, peers)
	c.peers = peers
	c.mu.Unlock()

	if changed {
		c.peersChanged(peers)
	}
}

func (c *PeerChannel) remotePeer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.remote
}

func (c *PeerChannel) Peers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.peers)
}

func (c *PeerChannel) Send(data []byte, r Reliability) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	c.mu.RLock()
	dc := c.pose
	if r == Reliable {
		dc = c.bulk
	}
	connected := len(c.peers) > 0
	c.mu.RUnlock()

	if !connected {
		return nil
	}
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		if r == Reliable {
			return fmt.Errorf("%w: reliable channel not open", ErrTransportFailure)
		}
		return nil
	}

	if r == BestEffort {
		// losing a pose frame is fine
		_ = dc.Send(data)
		return nil
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	for _, chunk := range fragment(data, bulkChunkSize) {
		if err := dc.Send(chunk); err != nil {
			return fmt.Errorf("%w: %v", ErrTransportFailure, err)
		}
	}
	return nil
}

func (c *PeerChannel) Close() error {
	c.cancel()
	c.wg.Wait()
	err := c.pc.Close()
	if errors.Is(err, webrtc.ErrConnectionClosed) {
		return nil
	}
	return err
}
