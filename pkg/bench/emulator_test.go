package bench

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/rtdecycle/pkg/cycle"
	"github.com/gwillem/rtdecycle/pkg/motion"
)

var _ cycle.Channel = (*Emulator)(nil)

var (
	home  = motion.Waypoint{}
	wpA   = motion.Waypoint{0.05, 0, 0.02, 0, 0, 0}
	wpB   = motion.Waypoint{-0.03, 0.04, 0, 0, 0, 0.1}
	ctxBg = context.Background()
)

func TestSim_MovesLinearly(t *testing.T) {
	s := NewSim(home, 0.5)
	require.NoError(t, s.MoveTo(ctxBg, motion.Waypoint{1, -1, 0.2}))

	p, _ := s.Pose(ctxBg)
	assert.Equal(t, motion.Waypoint{0.5, -0.5, 0.2}, p)
	p, _ = s.Pose(ctxBg)
	assert.Equal(t, motion.Waypoint{1, -1, 0.2}, p)
	p, _ = s.Pose(ctxBg)
	assert.Equal(t, motion.Waypoint{1, -1, 0.2}, p)
}

func receive(t *testing.T, e *Emulator) *motion.Snapshot {
	t.Helper()
	snap, err := e.Receive(ctxBg)
	require.NoError(t, err)
	require.NotNil(t, snap)
	return snap
}

func TestEmulator_Handshake(t *testing.T) {
	e := NewEmulator(NewSim(home, 1), WithPayload(2))
	target := motion.Waypoint{2}

	assert.Equal(t, motion.FlagReady, receive(t, e).Flag)

	// A raised watchdog without a setpoint does not start a move.
	require.NoError(t, e.SendWatchdog(ctxBg, 1))
	assert.Equal(t, motion.FlagReady, receive(t, e).Flag)

	require.NoError(t, e.SendSetpoint(ctxBg, motion.Setpoint(target)))
	require.NoError(t, e.SendWatchdog(ctxBg, 1))

	snap := receive(t, e)
	assert.Equal(t, FlagMoving, snap.Flag)
	assert.Equal(t, motion.Waypoint{1}, snap.Pose)

	require.NoError(t, e.SendWatchdog(ctxBg, 1))
	snap = receive(t, e)
	assert.Equal(t, motion.FlagFinished, snap.Flag)
	assert.Equal(t, target, snap.Pose)
	assert.InDelta(t, -19.62, snap.Force[2], 1e-9)

	// Finished stays latched until the watchdog drops.
	require.NoError(t, e.SendWatchdog(ctxBg, 1))
	assert.Equal(t, motion.FlagFinished, receive(t, e).Flag)

	require.NoError(t, e.SendWatchdog(ctxBg, 0))
	assert.Equal(t, motion.FlagReady, receive(t, e).Flag)
}

func TestEmulator_WatchdogExpiry(t *testing.T) {
	e := NewEmulator(NewSim(home, 1), WithWatchdogCycles(3))

	for range 3 {
		receive(t, e)
	}
	snap, err := e.Receive(ctxBg)
	require.NoError(t, err)
	assert.Nil(t, snap)
	assert.True(t, e.Stopped())

	// Stays down even if the watchdog comes back.
	require.NoError(t, e.SendWatchdog(ctxBg, 1))
	snap, _ = e.Receive(ctxBg)
	assert.Nil(t, snap)
}

func TestEmulator_PauseAndDisconnect(t *testing.T) {
	act := &closingSim{Sim: NewSim(home, 1)}
	e := NewEmulator(act)

	require.NoError(t, e.Pause())
	require.NoError(t, e.Pause())
	snap, err := e.Receive(ctxBg)
	require.NoError(t, err)
	assert.Nil(t, snap)

	require.NoError(t, e.Disconnect())
	require.NoError(t, e.Disconnect())
	assert.Equal(t, 1, act.closed)
	assert.ErrorIs(t, e.SendWatchdog(ctxBg, 0), ErrClosed)
	assert.ErrorIs(t, e.SendSetpoint(ctxBg, motion.Setpoint{}), ErrClosed)
}

type sleepClock struct {
	clock.Clock
	now   time.Time
	slept []time.Duration
}

func (c *sleepClock) Now() time.Time { return c.now }

func (c *sleepClock) Sleep(d time.Duration) {
	c.slept = append(c.slept, d)
	c.now = c.now.Add(d)
}

func TestEmulator_Pacing(t *testing.T) {
	clk := &sleepClock{Clock: clock.NewMock(), now: time.Unix(1000, 0)}
	e := NewEmulator(NewSim(home, 1), WithClock(clk), WithFrequency(10), WithWatchdogCycles(0))

	receive(t, e)
	receive(t, e)
	clk.now = clk.now.Add(30 * time.Millisecond)
	receive(t, e)
	clk.now = clk.now.Add(time.Second)
	receive(t, e)

	assert.Equal(t, []time.Duration{100 * time.Millisecond, 70 * time.Millisecond}, clk.slept)
}

type closingSim struct {
	*Sim
	closed int
}

func (c *closingSim) Close() error {
	c.closed++
	return nil
}

type brokenActuator struct{ err error }

func (b brokenActuator) MoveTo(context.Context, motion.Waypoint) error { return b.err }

func (b brokenActuator) Pose(context.Context) (motion.Waypoint, error) {
	return motion.Waypoint{}, b.err
}

func TestRun_AgainstSim(t *testing.T) {
	act := &closingSim{Sim: NewSim(home, 0.01)}
	e := NewEmulator(act, WithPayload(1.5), WithTolerance(1e-9))

	cfg, err := cycle.Configure(wpA, wpB, 3, cycle.WithSettleDelay(0))
	require.NoError(t, err)

	res := cycle.NewRunner(e, cfg).Run(ctxBg)

	require.Equal(t, cycle.ReasonCompleted, res.Reason, "err: %v", res.Err)
	require.Len(t, res.Samples, 6)
	for i, s := range res.Samples {
		want := wpA
		if i%2 == 1 {
			want = wpB
		}
		assert.InDeltaSlice(t, want[:], s.Pose[:], 1e-9, "sample %d", i)
		assert.InDelta(t, -1.5*9.81, s.Force[2], 1e-9)
	}
	assert.Equal(t, 3.0, res.Repetitions)
	assert.Less(t, res.MaxLandingError, 1e-6)
	assert.Equal(t, 1, act.closed)
}

func TestRun_ActuatorFailure(t *testing.T) {
	boom := errors.New("servo 3 not responding")
	e := NewEmulator(brokenActuator{err: boom})

	cfg, err := cycle.Configure(wpA, wpB, 1)
	require.NoError(t, err)

	res := cycle.NewRunner(e, cfg).Run(ctxBg)

	assert.Equal(t, cycle.ReasonChannelLost, res.Reason)
	assert.ErrorIs(t, res.Err, boom)
	assert.Empty(t, res.Samples)
}
