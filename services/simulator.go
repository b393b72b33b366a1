package services

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"homerobot/log"
	"homerobot/models"
)

type SimulatorConfig struct {
	MaxWheelSpeed float64       // m/s at power 1
	TrackWidth    float64       // distance between the wheels (m)
	MapID         string        // reported as the localized map
	Step          time.Duration // integration step of Run
	Start         models.Vec3
	Yaw           float64 // initial heading in radians, 0 faces +Z
}

func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		MaxWheelSpeed: 0.5,
		TrackWidth:    0.2,
		MapID:         "sim-map",
		Step:          20 * time.Millisecond,
	}
}

// Simulator - kinematic differential-drive robot.
//
// It is both the motor sink and the pose source of a simulated robot, so a
// controller can drive it in closed loop without hardware.
type Simulator struct {
	cfg    SimulatorConfig
	logger *zap.Logger

	mu          sync.RWMutex
	position    models.Vec3
	yaw         float64
	left, right float64
	connected   bool
	distance    float64 // odometer
}

func NewSimulator(cfg SimulatorConfig) *Simulator {
	if cfg.Step <= 0 {
		cfg.Step = DefaultSimulatorConfig().Step
	}
	if cfg.TrackWidth <= 0 {
		cfg.TrackWidth = DefaultSimulatorConfig().TrackWidth
	}
	return &Simulator{
		cfg:       cfg,
		logger:    log.Named("simulator"),
		position:  cfg.Start,
		yaw:       cfg.Yaw,
		connected: true,
	}
}

// Run integrates the motion every step until ctx is done.
func (s *Simulator) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Step)
	defer ticker.Stop()

	s.logger.Info("simulator started", zap.Duration("step", s.cfg.Step))
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("simulator stopped")
			return
		case now := <-ticker.C:
			s.Advance(now.Sub(last))
			last = now
		}
	}
}

// Advance moves the robot by dt with the current wheel powers.
func (s *Simulator) Advance(dt time.Duration) {
	sec := dt.Seconds()
	if sec <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	vl := s.left * s.cfg.MaxWheelSpeed
	vr := s.right * s.cfg.MaxWheelSpeed
	v := (vl + vr) / 2
	omega := (vr - vl) / s.cfg.TrackWidth

	// midpoint heading keeps arcs accurate for coarse steps
	mid := s.yaw + omega*sec/2
	s.position.X += float32(v * sec * math.Sin(mid))
	s.position.Z += float32(v * sec * math.Cos(mid))
	s.yaw = math.Remainder(s.yaw+omega*sec, 2*math.Pi)
	s.distance += math.Abs(v * sec)
}

func (s *Simulator) Drive(left, right float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return ErrRobotLinkLost
	}
	s.left, s.right = float64(left), float64(right)
	return nil
}

func (s *Simulator) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.left, s.right = 0, 0
	return nil
}

func (s *Simulator) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// SetConnected simulates the robot link dropping or coming back.
func (s *Simulator) SetConnected(connected bool) {
	s.mu.Lock()
	s.connected = connected
	s.mu.Unlock()
}

func (s *Simulator) Pose() (models.Pose, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.Pose{Position: s.position, Transform: yawTransform(s.yaw, s.position)}, true
}

func (s *Simulator) Localization() (bool, *string) {
	return true, models.MapID(s.cfg.MapID)
}

// Teleport places the robot, e.g. at the start of a test.
func (s *Simulator) Teleport(position models.Vec3, yaw float64) {
	s.mu.Lock()
	s.position, s.yaw = position, yaw
	s.mu.Unlock()
}

// GetStatus - current state snapshot
func (s *Simulator) GetStatus() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{
		"position":  s.position,
		"yaw":       s.yaw,
		"left":      s.left,
		"right":     s.right,
		"connected": s.connected,
		"odometer":  s.distance,
	}
}

// yawTransform is a rotation about +Y followed by a translation.
func yawTransform(yaw float64, pos models.Vec3) models.Mat4 {
	sin, cos := float32(math.Sin(yaw)), float32(math.Cos(yaw))
	return models.Mat4{
		cos, 0, -sin, 0,
		0, 1, 0, 0,
		sin, 0, cos, 0,
		pos.X, pos.Y, pos.Z, 1,
	}
}
