package algorithms

// ManualMix converts a steering value in [-1, 1] (negative = left) and a power
// in [-1, 1] into wheel powers. Full deflection spins the inner wheel backwards.
func ManualMix(steering, power float64) (left, right float32) {
	l, r := 1.0, 1.0
	if steering >= 0 {
		r = 1 - 2*steering
	} else {
		l = 1 + 2*steering
	}
	return ClampPower(l * power), ClampPower(r * power)
}
