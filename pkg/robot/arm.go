package robot

import (
	"context"
	"fmt"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"

	"github.com/gwillem/rtdecycle/pkg/motion"
)

// Arm is the SO-101 bench arm. It moves to waypoints through a Mapping.
type Arm struct {
	bus         *feetech.Bus
	group       *feetech.ServoGroup
	calibration Calibration
	mapping     Mapping
}

// NewArm opens the servo bus. A zero mapping is replaced by DefaultMapping.
func NewArm(cfg BenchConfig) (*Arm, error) {
	if !cfg.IsCalibrated() {
		return nil, fmt.Errorf("bench arm on %s is not calibrated, run setup first", cfg.Port)
	}
	mapping := cfg.Mapping
	if mapping.IsZero() {
		mapping = DefaultMapping()
	}
	cal := cfg.Calibration

	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     cfg.Port,
		BaudRate: 1_000_000,
		Protocol: feetech.ProtocolSTS,
		Timeout:  100 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("open bus: %w", err)
	}

	ids := cal.MotorIDs()
	group := feetech.NewServoGroupByIDs(bus, ids...)

	return &Arm{
		bus:         bus,
		group:       group,
		calibration: cal,
		mapping:     mapping,
	}, nil
}

// Close closes the arm's bus connection.
func (a *Arm) Close() error {
	return a.bus.Close()
}

// Enable enables torque on all servos.
func (a *Arm) Enable(ctx context.Context) error {
	return a.group.EnableAll(ctx)
}

// Disable disables torque on all servos.
func (a *Arm) Disable(ctx context.Context) error {
	return a.group.DisableAll(ctx)
}

// ReadPositions reads current positions from all motors.
// Returns normalized positions in the range [-100, 100].
func (a *Arm) ReadPositions(ctx context.Context) (map[MotorName]float64, error) {
	rawPositions, err := a.group.Positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("read positions: %w", err)
	}

	// Normalize each position
	positions := make(map[MotorName]float64, len(rawPositions))
	for id, raw := range rawPositions {
		name, cal, ok := a.calibration.ByID(id)
		if !ok {
			continue
		}
		positions[name] = cal.Normalize(raw)
	}

	return positions, nil
}

// WritePositions writes target positions to all motors.
// Takes normalized positions in the range [-100, 100].
func (a *Arm) WritePositions(ctx context.Context, positions map[MotorName]float64) error {
	rawPositions := make(feetech.PositionMap, len(positions))
	for name, norm := range positions {
		cal, ok := a.calibration[name]
		if !ok {
			continue
		}
		rawPositions[cal.ID] = cal.Denormalize(norm)
	}

	if err := a.group.SetPositions(ctx, rawPositions); err != nil {
		return fmt.Errorf("write positions: %w", err)
	}

	return nil
}

// Pose reads the joints and maps them to waypoint space.
func (a *Arm) Pose(ctx context.Context) (motion.Waypoint, error) {
	joints, err := a.ReadPositions(ctx)
	if err != nil {
		return motion.Waypoint{}, err
	}
	return a.mapping.Waypoint(joints), nil
}

// MoveTo commands all joints towards w and returns without waiting.
func (a *Arm) MoveTo(ctx context.Context, w motion.Waypoint) error {
	return a.WritePositions(ctx, a.mapping.Joints(w))
}
