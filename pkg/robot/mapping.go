package robot

import (
	"math"

	"github.com/gwillem/rtdecycle/pkg/motion"
)

// Mapping scales waypoint values to normalized joint positions. Motor i is
// driven by Scale[i] * waypoint[i] + Offset[i].
type Mapping struct {
	Scale  [motion.Dims]float64 `json:"scale"`
	Offset [motion.Dims]float64 `json:"offset"`
}

// DefaultMapping maps one meter to full joint range and π radians to full
// range for the rotation axes.
func DefaultMapping() Mapping {
	return Mapping{
		Scale: [motion.Dims]float64{100, 100, 100, 100 / math.Pi, 100 / math.Pi, 100 / math.Pi},
	}
}

// IsZero reports whether the mapping was never set.
func (m Mapping) IsZero() bool {
	return m == Mapping{}
}

// Joints converts a waypoint to normalized joint targets in [-100, 100].
func (m Mapping) Joints(w motion.Waypoint) map[MotorName]float64 {
	joints := make(map[MotorName]float64, motion.Dims)
	for i, name := range AllMotors() {
		joints[name] = clampNorm(m.Scale[i]*w[i] + m.Offset[i])
	}
	return joints
}

// Waypoint converts normalized joint positions back to waypoint values.
// Motors with a zero scale or no reading report 0.
func (m Mapping) Waypoint(joints map[MotorName]float64) motion.Waypoint {
	var w motion.Waypoint
	for i, name := range AllMotors() {
		norm, ok := joints[name]
		if !ok || m.Scale[i] == 0 {
			continue
		}
		w[i] = (norm - m.Offset[i]) / m.Scale[i]
	}
	return w
}

func clampNorm(v float64) float64 {
	return max(-100, min(100, v))
}
