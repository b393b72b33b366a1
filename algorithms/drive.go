package algorithms

import (
	"math"

	"github.com/samber/lo"

	"homerobot/models"
)

// DriveParams - tuning of the waypoint follower. Distances in meters, angles in degrees.
type DriveParams struct {
	ArrivalThreshold float64 `mapstructure:"arrival-threshold"`
	MaxTurnAngle     float64 `mapstructure:"max-turn-angle"` // pivot strictly above this
	TurnPower        float64 `mapstructure:"turn-power"`
	BaseSpeed        float64 `mapstructure:"base-speed"`
	SpeedGain        float64 `mapstructure:"speed-gain"`
	SpeedDistanceCap float64 `mapstructure:"speed-distance-cap"`
	InnerFrac        float64 `mapstructure:"inner-frac"`
	TurnExponent     float64 `mapstructure:"turn-exponent"`
	Smoothing        float64 `mapstructure:"smoothing"`
}

func DefaultDriveParams() DriveParams {
	return DriveParams{
		ArrivalThreshold: 0.15,
		MaxTurnAngle:     50,
		TurnPower:        0.62,
		BaseSpeed:        0.6,
		SpeedGain:        0.2,
		SpeedDistanceCap: 2.0,
		InnerFrac:        0.1,
		TurnExponent:     0.4,
		Smoothing:        0.2,
	}
}

type Steering struct {
	Distance  float64
	AngleDeg  float64
	TurnRight bool
	Arrived   bool
	Pivot     bool
	Left      float64 // raw target power, before smoothing
	Right     float64
}

// Steer computes one tick of the control law for pose driving to target.
// Only the horizontal plane is considered.
func Steer(p DriveParams, pose models.Pose, target models.Vec3) Steering {
	dest := target.WithY(pose.Position.Y).Sub(pose.Position)
	heading := pose.Heading()

	s := Steering{
		Distance:  dest.Length(),
		AngleDeg:  heading.AngleTo(dest) * 180 / math.Pi,
		TurnRight: heading.Cross(dest).Y < 0,
	}
	if s.Distance < p.ArrivalThreshold {
		s.Arrived = true
		return s
	}
	s.Left, s.Right, s.Pivot = p.Powers(s.Distance, s.AngleDeg, s.TurnRight)
	return s
}

// Powers maps distance and heading error to raw wheel powers.
func (p DriveParams) Powers(distance, angleDeg float64, turnRight bool) (left, right float64, pivot bool) {
	speed := p.BaseSpeed + p.SpeedGain*math.Min(distance, p.SpeedDistanceCap)

	if angleDeg > p.MaxTurnAngle {
		if turnRight {
			return p.TurnPower, -p.TurnPower, true
		}
		return -p.TurnPower, p.TurnPower, true
	}

	turnFactor := 1 - math.Pow(angleDeg/p.MaxTurnAngle, p.TurnExponent)
	inner := p.InnerFrac + (speed-p.InnerFrac)*turnFactor
	if turnRight {
		return speed, inner, false
	}
	return inner, speed, false
}

// Smoother - one-pole low pass on both wheels, persisted across ticks
type Smoother struct {
	Factor      float64
	left, right float64
}

func NewSmoother(factor float64) *Smoother {
	return &Smoother{Factor: factor}
}

// Step moves the smoothed powers towards the targets and returns them clamped to [-1, 1].
func (s *Smoother) Step(left, right float64) (float32, float32) {
	s.left -= (s.left - left) * s.Factor
	s.right -= (s.right - right) * s.Factor
	return ClampPower(s.left), ClampPower(s.right)
}

func (s *Smoother) Value() (float64, float64) {
	return s.left, s.right
}

func (s *Smoother) Reset() {
	s.left, s.right = 0, 0
}

func ClampPower(v float64) float32 {
	return float32(lo.Clamp(v, -1, 1))
}
