package robot

import (
	"math"
	"testing"

	"github.com/gwillem/rtdecycle/pkg/motion"
)

func TestMapping_Joints(t *testing.T) {
	m := DefaultMapping()

	joints := m.Joints(motion.Waypoint{0.3, -0.15, 2, math.Pi / 2, 0, -math.Pi})

	expected := map[MotorName]float64{
		ShoulderPan:  30,
		ShoulderLift: -15,
		ElbowFlex:    100, // clamped
		WristFlex:    50,
		WristRoll:    0,
		Gripper:      -100,
	}
	for name, want := range expected {
		if math.Abs(joints[name]-want) > 1e-9 {
			t.Errorf("joint %s = %f, want %f", name, joints[name], want)
		}
	}
}

func TestMapping_RoundTrip(t *testing.T) {
	m := Mapping{
		Scale:  [motion.Dims]float64{100, 100, 100, 10, 10, 10},
		Offset: [motion.Dims]float64{0, 0, -20, 0, 5, 0},
	}
	w := motion.Waypoint{0.3, -0.15, 0.4, 1, -2, 3}

	back := m.Waypoint(m.Joints(w))
	for i := range w {
		if math.Abs(back[i]-w[i]) > 1e-9 {
			t.Errorf("value %d: got %f, want %f", i, back[i], w[i])
		}
	}
}

func TestMapping_ZeroScale(t *testing.T) {
	m := Mapping{Scale: [motion.Dims]float64{100}}
	w := m.Waypoint(map[MotorName]float64{ShoulderPan: 50, Gripper: 20})
	if w != (motion.Waypoint{0.5}) {
		t.Errorf("Waypoint() = %v, want [0.5 0 0 0 0 0]", w)
	}
	if !(Mapping{}).IsZero() || m.IsZero() {
		t.Error("IsZero() mismatch")
	}
}
