package services

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"homerobot/algorithms"
	"homerobot/log"
	"homerobot/models"
	"homerobot/transport"
)

const (
	DefaultBroadcastInterval = time.Second / 15
	DefaultWaypointSpacing   = 150 * time.Millisecond

	maxMarkerID = 100000
)

// PeerStatus - what this device knows about the other one
type PeerStatus struct {
	Peers      []string               `json:"peers"`
	Synced     bool                   `json:"synced"`
	Reason     string                 `json:"reason,omitempty"`
	LastUpdate *models.UpdateLocation `json:"last_update,omitempty"`
	Age        time.Duration          `json:"age"`
}

// Session - one device's side of the robot link.
//
// A robot-side session owns a motor and a drive controller; a controller-side
// session only places waypoints and relays manual drive. Both broadcast their
// pose and keep the marker board in step with the peer.
type Session struct {
	ch         transport.Channel
	pose       PoseSource
	motor      MotorSink
	bridge     bool
	queue      *WaypointQueue
	controller *DriveController
	gate       *SyncGate
	board      *MarkerBoard
	logger     *zap.Logger

	broadcastInterval time.Duration
	spacing           time.Duration
	retention         int
	gateOpts          []SyncGateOption
	controllerOpts    []ControllerOption
	view              MarkerView

	onMissionCompleted func()
	onMap              func(blob []byte)
	onPeers            func(peers []string)
	onFault            func(err error)

	mu      sync.Mutex
	pending []models.Waypoint
	rng     *rand.Rand
}

type SessionOption func(*Session)

// WithLocalRobot makes this the robot side: waypoints are driven with motor.
func WithLocalRobot(motor MotorSink, opts ...ControllerOption) SessionOption {
	return func(s *Session) {
		s.motor = motor
		s.controllerOpts = append(s.controllerOpts, opts...)
	}
}

// WithMotorBridge makes this a robot that only executes DriveMotor commands.
// The waypoint loop runs on the peer, which drives through a RemoteMotor.
// The motor is stopped whenever the peer goes away.
func WithMotorBridge(motor MotorSink) SessionOption {
	return func(s *Session) {
		s.motor = motor
		s.bridge = true
	}
}

func WithBroadcastInterval(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.broadcastInterval = d
		}
	}
}

func WithWaypointSpacing(d time.Duration) SessionOption {
	return func(s *Session) { s.spacing = d }
}

func WithMarkerView(v MarkerView, retention int) SessionOption {
	return func(s *Session) {
		s.view = v
		s.retention = retention
	}
}

func WithSyncGateOptions(opts ...SyncGateOption) SessionOption {
	return func(s *Session) { s.gateOpts = append(s.gateOpts, opts...) }
}

func WithSessionLogger(l *zap.Logger) SessionOption {
	return func(s *Session) { s.logger = l }
}

// WithRand sets the source of marker ids, for tests.
func WithRand(r *rand.Rand) SessionOption {
	return func(s *Session) { s.rng = r }
}

// OnMissionCompleted is called when the waypoint loop runs out of work, on
// whichever side runs it.
func OnMissionCompleted(fn func()) SessionOption {
	return func(s *Session) { s.onMissionCompleted = fn }
}

// OnMap receives map blobs sent by the peer.
func OnMap(fn func(blob []byte)) SessionOption {
	return func(s *Session) { s.onMap = fn }
}

func OnPeers(fn func(peers []string)) SessionOption {
	return func(s *Session) { s.onPeers = fn }
}

// OnControllerFault is called when the local drive controller halts.
func OnControllerFault(fn func(err error)) SessionOption {
	return func(s *Session) { s.onFault = fn }
}

func NewSession(ch transport.Channel, pose PoseSource, opts ...SessionOption) *Session {
	s := &Session{
		ch:                ch,
		pose:              pose,
		queue:             NewWaypointQueue(),
		logger:            log.Named("session"),
		broadcastInterval: DefaultBroadcastInterval,
		spacing:           DefaultWaypointSpacing,
		rng:               rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.gate = NewSyncGate(pose, s.gateOpts...)
	s.board = NewMarkerBoard(s.view, s.retention)
	if s.motor != nil && !s.bridge {
		copts := append([]ControllerOption{
			OnAchieved(s.achieved),
			OnFinished(s.missionFinished),
			OnFault(s.controllerFault),
		}, s.controllerOpts...)
		s.controller = NewDriveController(s.queue, pose, s.motor, copts...)
	}
	return s
}

// Run broadcasts the local pose and dispatches inbound frames until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	s.ch.OnReceive(s.handleFrame)
	s.ch.OnPeersChanged(func(peers []string) {
		s.logger.Info("peers changed", zap.Strings("peers", peers))
		if s.bridge && len(peers) == 0 {
			if err := s.motor.Stop(); err != nil {
				s.logger.Warn("motor stop failed", zap.Error(err))
			}
		}
		if s.onPeers != nil {
			s.onPeers(peers)
		}
	})
	if s.controller != nil {
		s.controller.Start(ctx)
	}

	ticker := time.NewTicker(s.broadcastInterval)
	defer ticker.Stop()

	s.logger.Info("session started",
		zap.Bool("robot", s.controller != nil), zap.Bool("bridge", s.bridge),
		zap.Duration("broadcast_interval", s.broadcastInterval))
	for {
		select {
		case <-ctx.Done():
			if s.controller != nil {
				s.controller.Wait()
			}
			if s.motor != nil {
				_ = s.motor.Stop()
			}
			s.logger.Info("session stopped")
			return nil
		case <-ticker.C:
			s.broadcastPose()
		}
	}
}

func (s *Session) broadcastPose() {
	pose, ok := s.pose.Pose()
	if !ok {
		return
	}
	localized, mapID := s.pose.Localization()
	msg := models.UpdateLocation{
		Position:       pose.Position,
		Transform:      pose.Transform,
		RobotConnected: s.motor != nil && s.motor.Connected(),
		CurrentMapID:   mapID,
		HasLocalized:   localized,
	}
	if err := s.send(msg, transport.BestEffort); err != nil {
		s.logger.Debug("pose broadcast failed", zap.Error(err))
	}
}

func (s *Session) send(m models.Message, r transport.Reliability) error {
	data, err := models.Encode(m)
	if err != nil {
		return err
	}
	return s.ch.Send(data, r)
}

func (s *Session) handleFrame(from string, data []byte) {
	if blob, ok := models.DecodeMapBlob(data); ok {
		s.logger.Info("map received", zap.String("from", from), zap.Int("bytes", len(blob)))
		if s.onMap != nil {
			s.onMap(blob)
		}
		return
	}

	msg, err := models.Decode(data)
	if err != nil {
		s.logger.Warn("dropping inbound frame", zap.String("from", from), zap.Error(err))
		return
	}

	switch m := msg.(type) {
	case models.UpdateLocation:
		s.gate.RecordPeerUpdate(m)
	case models.DriveMotor:
		s.manualMotor(m)
	case models.WaypointAdd:
		w := models.Waypoint{MarkerID: m.MarkerID, Position: m.Position}
		s.board.Add(w)
		if s.controller != nil {
			s.controller.Enqueue(w)
		}
		s.logger.Info("waypoint received", zap.Int("marker_id", m.MarkerID))
	case models.WaypointAchieved:
		if !s.board.Complete(m.MarkerID) {
			s.logger.Debug("achieved marker not on board", zap.Int("marker_id", m.MarkerID))
		}
	case models.StatusMessage:
		s.handleStatus(m.Kind)
	}
}

// manualMotor applies a peer's DriveMotor unless waypoints are being driven.
func (s *Session) manualMotor(m models.DriveMotor) {
	if s.motor == nil {
		return
	}
	if s.controller != nil && s.controller.Driving() {
		s.logger.Debug("ignoring manual drive while following waypoints")
		return
	}
	if err := s.motor.Drive(m.LeftPower, m.RightPower); err != nil {
		s.logger.Warn("manual drive failed", zap.Error(err))
	}
}

func (s *Session) handleStatus(kind models.StatusKind) {
	s.logger.Info("status received", zap.Stringer("status", kind))
	switch kind {
	case models.StatusEmergencyStop:
		s.stopLocal()
	case models.StatusResetMission:
		s.resetLocal()
	case models.StatusMissionCompleted:
		if s.onMissionCompleted != nil {
			s.onMissionCompleted()
		}
	}
}

func (s *Session) stopLocal() {
	switch {
	case s.controller != nil:
		s.controller.EmergencyStop()
	case s.motor != nil:
		_ = s.motor.Stop()
	}
}

func (s *Session) resetLocal() {
	if s.controller != nil {
		s.controller.ResetMission()
	}
	s.board.Reset()
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
}

// controller callbacks

func (s *Session) achieved(w models.Waypoint) {
	s.board.Complete(w.MarkerID)
	if err := s.send(models.WaypointAchieved{MarkerID: w.MarkerID}, transport.Reliable); err != nil {
		s.logger.Warn("waypoint achieved not sent", zap.Int("marker_id", w.MarkerID), zap.Error(err))
	}
}

func (s *Session) missionFinished() {
	if s.onMissionCompleted != nil {
		s.onMissionCompleted()
	}
	if err := s.send(models.StatusMessage{Kind: models.StatusMissionCompleted}, transport.Reliable); err != nil {
		s.logger.Warn("mission completed not sent", zap.Error(err))
	}
}

func (s *Session) controllerFault(err error) {
	if s.onFault != nil {
		s.onFault(err)
	}
}

// PlaceWaypoint accepts a locally tapped position. It is rejected with
// ErrNotSynced unless both devices share a localized map.
func (s *Session) PlaceWaypoint(position models.Vec3) (models.Waypoint, error) {
	if err := s.gate.Check(); err != nil {
		return models.Waypoint{}, err
	}

	s.mu.Lock()
	id := s.rng.IntN(maxMarkerID)
	s.mu.Unlock()

	return s.addPending(models.Waypoint{MarkerID: id, Position: position}), nil
}

// AddWaypoint places a waypoint with a caller-chosen marker id, as read from
// a mission file. Like PlaceWaypoint it requires sync.
func (s *Session) AddWaypoint(w models.Waypoint) (models.Waypoint, error) {
	if err := s.gate.Check(); err != nil {
		return models.Waypoint{}, err
	}
	return s.addPending(w), nil
}

func (s *Session) addPending(w models.Waypoint) models.Waypoint {
	w = s.board.Add(w)
	s.mu.Lock()
	s.pending = append(s.pending, w)
	s.mu.Unlock()
	return w
}

func (s *Session) PendingWaypoints() []models.Waypoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Waypoint(nil), s.pending...)
}

// SendPendingWaypoints sends every placed waypoint to the peer, spaced so the
// receiver sees them in order, and drives them locally on the robot side.
// Waypoints not sent because of an error or ctx stay pending.
func (s *Session) SendPendingWaypoints(ctx context.Context) (int, error) {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	for i, w := range batch {
		if i > 0 && s.spacing > 0 {
			select {
			case <-ctx.Done():
				s.requeue(batch[i:])
				return i, ctx.Err()
			case <-time.After(s.spacing):
			}
		}
		if err := s.send(models.WaypointAdd{MarkerID: w.MarkerID, Position: w.Position}, transport.Reliable); err != nil {
			s.requeue(batch[i:])
			return i, fmt.Errorf("send waypoint %d: %w", w.MarkerID, err)
		}
		if s.controller != nil {
			s.controller.Enqueue(w)
		}
	}
	return len(batch), nil
}

func (s *Session) requeue(ws []models.Waypoint) {
	s.mu.Lock()
	s.pending = append(append([]models.Waypoint(nil), ws...), s.pending...)
	s.mu.Unlock()
}

// ManualDrive sends a touch-drive command to the robot.
func (s *Session) ManualDrive(steering, power float64) error {
	left, right := algorithms.ManualMix(steering, power)
	return s.send(models.DriveMotor{LeftPower: left, RightPower: right}, transport.BestEffort)
}

// EmergencyStop halts both sides. The robot stays stopped until ResumeDriving.
func (s *Session) EmergencyStop() error {
	s.stopLocal()
	return s.send(models.StatusMessage{Kind: models.StatusEmergencyStop}, transport.Reliable)
}

// ResetMission clears waypoints and markers on both sides.
func (s *Session) ResetMission() error {
	s.resetLocal()
	return s.send(models.StatusMessage{Kind: models.StatusResetMission}, transport.Reliable)
}

// ResumeDriving clears a stopped controller and continues with queued waypoints.
func (s *Session) ResumeDriving() {
	if s.controller != nil {
		s.controller.Reset()
	}
}

// SendMap transfers a map blob. Unlike the pose stream it fails without a peer.
func (s *Session) SendMap(blob []byte) error {
	if len(s.ch.Peers()) == 0 {
		return transport.ErrNoPeers
	}
	if err := s.ch.Send(models.EncodeMapBlob(blob), transport.Reliable); err != nil {
		return fmt.Errorf("send map: %w", err)
	}
	s.logger.Info("map sent", zap.Int("bytes", len(blob)))
	return nil
}

func (s *Session) PeerStatus() PeerStatus {
	st := PeerStatus{Peers: s.ch.Peers()}
	if last, age, ok := s.gate.LastPeerUpdate(); ok {
		st.LastUpdate = &last
		st.Age = age
	}
	err := s.gate.Check()
	st.Synced = err == nil
	if err != nil {
		st.Reason = err.Error()
	}
	return st
}

func (s *Session) Synced() bool {
	return s.gate.IsSynced()
}

func (s *Session) Markers() []models.Waypoint {
	return s.board.Visible()
}

// Controller returns the drive controller, nil on the controller side.
func (s *Session) Controller() *DriveController {
	return s.controller
}

