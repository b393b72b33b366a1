package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"homerobot/log"
	"homerobot/models"
)

// PoseSource supplies the pose of the device the controller runs on.
type PoseSource interface {
	LocalizationSource
	// Pose returns the latest pose, ok is false until one is known.
	Pose() (pose models.Pose, ok bool)
}

// PoseStore - latest-value pose store shared between a feed and its readers
type PoseStore struct {
	mu        sync.RWMutex
	pose      models.Pose
	has       bool
	localized bool
	mapID     *string
	updated   time.Time
	seq       uint64
	maxAge    time.Duration
	now       func() time.Time
}

type PoseStoreOption func(*PoseStore)

// WithPoseMaxAge makes Pose report no pose once the last update is older
// than d, so a silent tracker stops the robot instead of freezing its pose.
func WithPoseMaxAge(d time.Duration) PoseStoreOption {
	return func(s *PoseStore) { s.maxAge = d }
}

func NewPoseStore(opts ...PoseStoreOption) *PoseStore {
	s := &PoseStore{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Update replaces the stored pose. Once localized the flag stays set.
func (s *PoseStore) Update(pose models.Pose, localized bool, mapID *string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pose = pose
	s.has = true
	s.localized = s.localized || localized
	s.mapID = mapID
	s.updated = s.now()
	s.seq++
}

func (s *PoseStore) Pose() (models.Pose, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.has {
		return models.Pose{}, false
	}
	if s.maxAge > 0 && s.now().Sub(s.updated) > s.maxAge {
		return s.pose, false
	}
	return s.pose, true
}

func (s *PoseStore) Localization() (bool, *string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.localized, s.mapID
}

// Snapshot returns the pose with its receive time and sequence number.
func (s *PoseStore) Snapshot() (models.Pose, time.Time, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pose, s.updated, s.seq
}

const maxPoseDatagram = 4096

// PoseFeed listens on UDP for UpdateLocation envelopes from the local AR
// tracker and writes them into a PoseStore. Other message types and
// undecodable datagrams are dropped.
type PoseFeed struct {
	conn   *net.UDPConn
	store  *PoseStore
	logger *zap.Logger
}

func ListenPoseFeed(addr string, store *PoseStore) (*PoseFeed, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &PoseFeed{
		conn:   conn,
		store:  store,
		logger: log.Named("pose-feed").With(zap.String("addr", conn.LocalAddr().String())),
	}, nil
}

func (f *PoseFeed) Addr() net.Addr {
	return f.conn.LocalAddr()
}

// Run reads datagrams until ctx is done or the socket fails.
func (f *PoseFeed) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = f.conn.Close() })
	defer stop()

	buf := make([]byte, maxPoseDatagram)
	for {
		n, _, err := f.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		f.handle(buf[:n])
	}
}

func (f *PoseFeed) handle(data []byte) {
	msg, err := models.Decode(data)
	if err != nil {
		f.logger.Warn("dropping pose datagram", zap.Error(err))
		return
	}
	loc, ok := msg.(models.UpdateLocation)
	if !ok {
		f.logger.Debug("ignoring message", zap.Stringer("type", msg.Type()))
		return
	}
	f.store.Update(models.Pose{Position: loc.Position, Transform: loc.Transform}, loc.HasLocalized, loc.CurrentMapID)
}

func (f *PoseFeed) Close() error {
	return f.conn.Close()
}
