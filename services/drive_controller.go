package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"homerobot/algorithms"
	"homerobot/log"
	"homerobot/models"
)

var (
	ErrRobotLinkLost = errors.New("robot link lost")
	ErrMotorRejected = errors.New("motor rejected command")
)

const DefaultControlInterval = time.Second / 15

// ControllerStatus - snapshot of the drive controller
type ControllerStatus struct {
	State   models.DriveState `json:"state"`
	Target  *models.Waypoint  `json:"target,omitempty"`
	Pending int               `json:"pending"`
	Fault   string            `json:"fault,omitempty"`
}

// DriveController - follows queued waypoints with the pose source and motor sink.
//
// Each drive run is a goroutine owning the smoothing state; it lives while the
// queue has work. Runs are numbered, and a run whose number is no longer
// current (halted or superseded) must not touch the controller state.
type DriveController struct {
	params   algorithms.DriveParams
	interval time.Duration
	queue    *WaypointQueue
	pose     PoseSource
	motor    MotorSink
	logger   *zap.Logger

	onAchieved func(models.Waypoint)
	onFinished func()
	onFault    func(error)

	mu      sync.Mutex
	parent  context.Context
	started bool
	state   models.DriveState
	current *models.Waypoint
	fault   error
	gen     uint64
	cancel  context.CancelFunc
	done    chan struct{}
}

type ControllerOption func(*DriveController)

func WithDriveParams(p algorithms.DriveParams) ControllerOption {
	return func(c *DriveController) { c.params = p }
}

func WithControlInterval(d time.Duration) ControllerOption {
	return func(c *DriveController) {
		if d > 0 {
			c.interval = d
		}
	}
}

func WithControllerLogger(l *zap.Logger) ControllerOption {
	return func(c *DriveController) { c.logger = l }
}

// OnAchieved is called from the drive goroutine once per reached waypoint.
// Callbacks must not call back into the controller's halting methods.
func OnAchieved(fn func(models.Waypoint)) ControllerOption {
	return func(c *DriveController) { c.onAchieved = fn }
}

// OnFinished is called when the queue drains and the controller goes idle.
func OnFinished(fn func()) ControllerOption {
	return func(c *DriveController) { c.onFinished = fn }
}

// OnFault is called with ErrRobotLinkLost or ErrMotorRejected when driving halts.
func OnFault(fn func(error)) ControllerOption {
	return func(c *DriveController) { c.onFault = fn }
}

func NewDriveController(queue *WaypointQueue, pose PoseSource, motor MotorSink, opts ...ControllerOption) *DriveController {
	c := &DriveController{
		params:   algorithms.DefaultDriveParams(),
		interval: DefaultControlInterval,
		queue:    queue,
		pose:     pose,
		motor:    motor,
		logger:   log.Named("drive"),
		parent:   context.Background(),
		state:    models.DriveStateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start binds the controller to ctx and begins driving any queued waypoints.
// Runs end, and the motors stop, when ctx is done.
func (c *DriveController) Start(ctx context.Context) {
	c.mu.Lock()
	c.parent = ctx
	c.started = true
	c.mu.Unlock()

	if c.queue.Wake() {
		c.launch()
	}
}

// Enqueue adds a waypoint and wakes the controller when it is idle.
func (c *DriveController) Enqueue(w models.Waypoint) {
	if c.queue.Enqueue(w) {
		c.launch()
	}
}

func (c *DriveController) launch() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started || c.state == models.DriveStateStopped || c.parent.Err() != nil {
		c.queue.SetIdle()
		return
	}

	if c.cancel != nil {
		// the previous run is past its last dequeue and about to exit
		c.cancel()
	}
	c.gen++
	ctx, cancel := context.WithCancel(c.parent)
	done := make(chan struct{})
	c.cancel, c.done = cancel, done
	c.state = models.DriveStateDriving
	go c.run(ctx, c.gen, done)
}

func (c *DriveController) run(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)

	lp := &runState{smoother: algorithms.NewSmoother(c.params.Smoothing)}
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		target, ok := c.queue.NextOrIdle()
		if !ok {
			c.finished(gen)
			return
		}
		if !c.setCurrent(gen, target) {
			return
		}
		c.logger.Info("driving to waypoint",
			zap.Int("marker_id", target.MarkerID), zap.Any("position", target.Position))

		if !c.driveTo(ctx, gen, target, lp, ticker) {
			return
		}
	}
}

// driveTo ticks until target is reached. It returns false when the run must end.
func (c *DriveController) driveTo(ctx context.Context, gen uint64, target models.Waypoint,
	lp *runState, ticker *time.Ticker,
) bool {
	for {
		if ctx.Err() != nil {
			c.cancelled(gen, target)
			return false
		}

		arrived, err := c.tick(target, lp)
		if err != nil {
			c.faulted(gen, target, err)
			return false
		}
		if arrived {
			c.logger.Info("waypoint achieved", zap.Int("marker_id", target.MarkerID))
			if c.onAchieved != nil {
				c.onAchieved(target)
			}
			return true
		}

		select {
		case <-ctx.Done():
			c.cancelled(gen, target)
			return false
		case <-ticker.C:
		}
	}
}

// runState is the per-run state of the control loop.
type runState struct {
	smoother *algorithms.Smoother
	holding  bool // zero power sent while the pose is missing
}

// tick runs the control law once. No motor command is sent on arrival. When
// the pose goes missing the wheels get zero power once and the loop waits.
func (c *DriveController) tick(target models.Waypoint, lp *runState) (arrived bool, err error) {
	if !c.motor.Connected() {
		return false, ErrRobotLinkLost
	}
	pose, ok := c.pose.Pose()
	if !ok {
		if lp.holding {
			return false, nil
		}
		lp.holding = true
		lp.smoother.Reset()
		c.logger.Warn("no pose, holding still", zap.Int("marker_id", target.MarkerID))
		return false, c.drive(0, 0)
	}
	lp.holding = false

	s := algorithms.Steer(c.params, pose, target.Position)
	if s.Arrived {
		return true, nil
	}

	left, right := lp.smoother.Step(s.Left, s.Right)
	c.logger.Debug("control output",
		zap.Float64("distance", s.Distance),
		zap.Float64("angle", s.AngleDeg),
		zap.Bool("pivot", s.Pivot),
		zap.Float32("left", left),
		zap.Float32("right", right))

	return false, c.drive(left, right)
}

func (c *DriveController) drive(left, right float32) error {
	if err := c.motor.Drive(left, right); err != nil {
		if errors.Is(err, ErrRobotLinkLost) {
			return err
		}
		// a failed write that dropped the link is a link loss, not a rejection
		if !c.motor.Connected() {
			return fmt.Errorf("%w: %v", ErrRobotLinkLost, err)
		}
		return fmt.Errorf("%w: %v", ErrMotorRejected, err)
	}
	return nil
}

func (c *DriveController) setCurrent(gen uint64, target models.Waypoint) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	c.current = &target
	return true
}

func (c *DriveController) finished(gen uint64) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.state = models.DriveStateIdle
	c.current = nil
	c.cancel, c.done = nil, nil
	c.stopMotor()
	c.mu.Unlock()

	c.logger.Info("waypoint queue drained")
	if c.onFinished != nil {
		c.onFinished()
	}
}

// cancelled handles the end of the owning context. The target stays queued.
func (c *DriveController) cancelled(gen uint64, target models.Waypoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	c.queue.PushFront(target)
	c.queue.SetIdle()
	c.state = models.DriveStateIdle
	c.current = nil
	c.cancel, c.done = nil, nil
	c.stopMotor()
}

// faulted moves to Stopped. The interrupted target goes back to the head of
// the queue and is retried after Reset.
func (c *DriveController) faulted(gen uint64, target models.Waypoint, err error) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.queue.PushFront(target)
	c.queue.SetIdle()
	c.state = models.DriveStateStopped
	c.current = nil
	c.fault = err
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	_ = c.motor.Drive(0, 0)
	c.stopMotor()
	c.logger.Error("drive halted", zap.Int("marker_id", target.MarkerID), zap.Error(err))
	if c.onFault != nil {
		c.onFault(err)
	}
}

func (c *DriveController) stopMotor() {
	if err := c.motor.Stop(); err != nil {
		c.logger.Warn("motor stop failed", zap.Error(err))
	}
}

// halt ends the current run, clears the queue and enters state.
func (c *DriveController) halt(state models.DriveState, reason string) int {
	c.mu.Lock()
	c.gen++
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.state = state
	c.current = nil
	if state == models.DriveStateStopped {
		c.fault = errors.New(reason)
	}
	cleared := c.queue.Clear()
	c.queue.SetIdle()
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	c.stopMotor()
	c.logger.Info("drive halted", zap.String("reason", reason), zap.Int("cleared", cleared))
	return cleared
}

// EmergencyStop stops the motors, drops all pending waypoints and stays
// Stopped until Reset.
func (c *DriveController) EmergencyStop() int {
	return c.halt(models.DriveStateStopped, "emergency stop")
}

// ResetMission stops the motors, drops all pending waypoints and goes Idle.
func (c *DriveController) ResetMission() int {
	return c.halt(models.DriveStateIdle, "mission reset")
}

// Reset leaves Stopped and resumes any waypoints still queued.
func (c *DriveController) Reset() {
	c.mu.Lock()
	if c.state == models.DriveStateStopped {
		c.state = models.DriveStateIdle
		c.fault = nil
	}
	c.mu.Unlock()

	if c.queue.Wake() {
		c.launch()
	}
}

// Wait blocks until the current run, if any, has exited.
func (c *DriveController) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (c *DriveController) State() models.DriveState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Driving reports whether a run is steering the motors.
func (c *DriveController) Driving() bool {
	return c.State() == models.DriveStateDriving
}

func (c *DriveController) Status() ControllerStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := ControllerStatus{State: c.state, Pending: c.queue.PendingCount()}
	if c.current != nil {
		t := *c.current
		st.Target = &t
	}
	if c.fault != nil {
		st.Fault = c.fault.Error()
	}
	return st
}
