// Package bench emulates the controller side of the move handshake so that
// a run can be exercised without the real cell, either against the SO-101
// bench arm or against a pure simulation.
package bench

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/gwillem/rtdecycle/pkg/logging"
	"github.com/gwillem/rtdecycle/pkg/motion"
)

// FlagMoving is reported while a move is executing.
const FlagMoving int32 = 2

const (
	DefaultTolerance      = 1e-3
	DefaultWatchdogCycles = 25
)

// ErrClosed is returned by sends after Disconnect.
var ErrClosed = errors.New("bench controller disconnected")

// Actuator moves to waypoints and reports where it is.
type Actuator interface {
	MoveTo(ctx context.Context, w motion.Waypoint) error
	Pose(ctx context.Context) (motion.Waypoint, error)
}

type phase int

const (
	phaseReady phase = iota
	phaseMoving
	phaseDone
)

func (p phase) flag() int32 {
	switch p {
	case phaseMoving:
		return FlagMoving
	case phaseDone:
		return motion.FlagFinished
	default:
		return motion.FlagReady
	}
}

// Emulator runs the controller program: it reports ready, starts a move
// when a setpoint arrives together with a raised watchdog, reports finished
// once the actuator is within tolerance, and re-arms when the watchdog
// drops. It stops streaming if the watchdog is not written for too many
// cycles.
type Emulator struct {
	act   Actuator
	log   logrus.FieldLogger
	clock clock.Clock

	period         time.Duration
	tolerance      float64
	watchdogCycles int
	payload        float64

	mu       sync.Mutex
	phase    phase
	pending  *motion.Setpoint
	target   motion.Waypoint
	missed   int
	stopped  bool
	paused   bool
	closed   bool
	lastTick time.Time
}

// Option configures an Emulator.
type Option func(*Emulator)

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Emulator) { e.log = l }
}

// WithClock replaces the wall clock used for pacing.
func WithClock(c clock.Clock) Option {
	return func(e *Emulator) { e.clock = c }
}

// WithFrequency paces Receive to hz updates per second. Zero disables pacing.
func WithFrequency(hz float64) Option {
	return func(e *Emulator) {
		if hz > 0 {
			e.period = time.Duration(float64(time.Second) / hz)
		} else {
			e.period = 0
		}
	}
}

// WithTolerance sets the per-axis distance at which a move counts as done.
func WithTolerance(tol float64) Option {
	return func(e *Emulator) { e.tolerance = tol }
}

// WithWatchdogCycles sets how many state updates may pass without a
// watchdog write before streaming stops. Zero disables the check.
func WithWatchdogCycles(n int) Option {
	return func(e *Emulator) { e.watchdogCycles = n }
}

// WithPayload sets the simulated tool mass in kg, reported as a vertical force.
func WithPayload(kg float64) Option {
	return func(e *Emulator) { e.payload = kg }
}

// NewEmulator creates an emulator in the ready phase.
func NewEmulator(act Actuator, opts ...Option) *Emulator {
	e := &Emulator{
		act:            act,
		log:            logging.Discard(),
		clock:          clock.New(),
		tolerance:      DefaultTolerance,
		watchdogCycles: DefaultWatchdogCycles,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Receive produces the next state update. It returns nil, nil once
// the emulator stopped or was disconnected.
func (e *Emulator) Receive(ctx context.Context) (*motion.Snapshot, error) {
	e.pace()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed || e.stopped || e.paused {
		return nil, nil
	}

	e.missed++
	if e.watchdogCycles > 0 && e.missed > e.watchdogCycles {
		e.stopped = true
		e.log.WithField("cycles", e.missed-1).Error("Watchdog expired, stopping program")
		return nil, nil
	}

	pose, err := e.act.Pose(ctx)
	if err != nil {
		return nil, err
	}

	if e.phase == phaseMoving && within(pose, e.target, e.tolerance) {
		e.phase = phaseDone
		e.log.WithField("pose", pose.String()).Debug("Move finished")
	}

	return &motion.Snapshot{
		Flag:    e.phase.flag(),
		TargetQ: e.target,
		Pose:    pose,
		Force:   e.wrench(),
	}, nil
}

// SendSetpoint stores the target for the next move.
func (e *Emulator) SendSetpoint(ctx context.Context, sp motion.Setpoint) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.pending = &sp
	return nil
}

// SendWatchdog feeds the watchdog and advances the handshake.
func (e *Emulator) SendWatchdog(ctx context.Context, v int32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.missed = 0

	switch {
	case e.phase == phaseReady && v == 1 && e.pending != nil:
		e.target = motion.Waypoint(*e.pending)
		e.pending = nil
		if err := e.act.MoveTo(ctx, e.target); err != nil {
			return err
		}
		e.phase = phaseMoving
		e.log.WithField("target", e.target.String()).Debug("Move started")
	case e.phase == phaseDone && v == 0:
		e.phase = phaseReady
	}
	return nil
}

// Pause stops the program. Receive reports the link as lost afterwards.
func (e *Emulator) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.paused && !e.closed {
		e.paused = true
		e.log.Debug("Program paused")
	}
	return nil
}

// Disconnect closes the actuator if it holds a connection.
func (e *Emulator) Disconnect() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if c, ok := e.act.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Stopped reports whether the watchdog safety stop fired.
func (e *Emulator) Stopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}

func (e *Emulator) pace() {
	if e.period <= 0 {
		return
	}
	now := e.clock.Now()
	if !e.lastTick.IsZero() {
		if wait := e.lastTick.Add(e.period).Sub(now); wait > 0 {
			e.clock.Sleep(wait)
			now = now.Add(wait)
		}
	}
	e.lastTick = now
}

func (e *Emulator) wrench() motion.Wrench {
	return motion.Wrench{2: -e.payload * 9.81}
}

func within(a, b motion.Waypoint, tol float64) bool {
	for i := range a {
		if math.Abs(a[i]-b[i]) > tol {
			return false
		}
	}
	return true
}
