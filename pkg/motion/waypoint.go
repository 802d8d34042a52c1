// Package motion holds the two-waypoint handshake sequencer and the values
// exchanged with the arm controller on every poll cycle.
package motion

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/golang/geo/r3"
)

// Dims is the number of values in a waypoint, setpoint or wrench.
const Dims = 6

// ErrWaypoint is returned when waypoint text cannot be parsed.
var ErrWaypoint = errors.New("invalid waypoint")

// Waypoint is a Cartesian target: x, y, z position followed by the rx, ry, rz
// rotation vector, in the controller's units.
type Waypoint [Dims]float64

// Wrench is a force/torque reading: Fx, Fy, Fz followed by Frx, Fry, Frz.
type Wrench [Dims]float64

// Setpoint is the register the controller reads its next target from.
type Setpoint [Dims]float64

// ParseWaypoint parses six numbers separated by whitespace and/or commas.
// Surrounding brackets or parentheses are ignored so that a pose printed as
// a list can be pasted back in.
func ParseWaypoint(text string) (Waypoint, error) {
	var w Waypoint

	trimmed := strings.TrimSpace(text)
	trimmed = strings.TrimLeft(trimmed, "[(")
	trimmed = strings.TrimRight(trimmed, "])")

	fields := strings.FieldsFunc(trimmed, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
	if len(fields) != Dims {
		return w, fmt.Errorf("%w: expected %d values, got %d", ErrWaypoint, Dims, len(fields))
	}

	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return w, fmt.Errorf("%w: value %d %q is not a number", ErrWaypoint, i+1, f)
		}
		w[i] = v
	}

	if err := w.Validate(); err != nil {
		return Waypoint{}, err
	}
	return w, nil
}

// Validate rejects NaN and infinite values.
func (w Waypoint) Validate() error {
	for i, v := range w {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: value %d is not finite", ErrWaypoint, i+1)
		}
	}
	return nil
}

// String formats the waypoint so that ParseWaypoint reads it back exactly.
func (w Waypoint) String() string {
	parts := make([]string, Dims)
	for i, v := range w {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, " ")
}

// Position returns the translational part.
func (w Waypoint) Position() r3.Vector {
	return r3.Vector{X: w[0], Y: w[1], Z: w[2]}
}

// Rotation returns the rotation vector part.
func (w Waypoint) Rotation() r3.Vector {
	return r3.Vector{X: w[3], Y: w[4], Z: w[5]}
}

// Force returns the linear force part.
func (f Wrench) Force() r3.Vector {
	return r3.Vector{X: f[0], Y: f[1], Z: f[2]}
}

// Torque returns the torque part.
func (f Wrench) Torque() r3.Vector {
	return r3.Vector{X: f[3], Y: f[4], Z: f[5]}
}
