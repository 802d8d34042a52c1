package cycle

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/rtdecycle/pkg/motion"
)

var (
	wpA = motion.Waypoint{0, 0, 0, 0, 0, 0}
	wpB = motion.Waypoint{1, 0, 0, 0, 0, 1}
)

type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(d time.Duration) {
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
}

// scriptChannel replays snapshots and records every call in order.
// Running past the end of the script reports a lost link.
type scriptChannel struct {
	script []*motion.Snapshot
	pos    int
	clock  *fakeClock

	ops       []string
	setpoints []motion.Setpoint
	watchdogs []int32

	recvErr     error
	setpointErr error
	pauseErr    error
	panicAt     int // 1-based receive index, 0 disables

	onReceive func(n int)

	paused, disconnected int
}

func (c *scriptChannel) Receive(ctx context.Context) (*motion.Snapshot, error) {
	c.ops = append(c.ops, "recv")
	if c.clock != nil {
		c.clock.now = c.clock.now.Add(8 * time.Millisecond)
	}
	if c.recvErr != nil {
		return nil, c.recvErr
	}
	if c.pos >= len(c.script) {
		return nil, nil
	}
	snap := c.script[c.pos]
	c.pos++
	if c.panicAt == c.pos {
		panic("socket exploded")
	}
	if c.onReceive != nil {
		c.onReceive(c.pos)
	}
	return snap, nil
}

func (c *scriptChannel) SendSetpoint(ctx context.Context, sp motion.Setpoint) error {
	c.ops = append(c.ops, "setp")
	if c.setpointErr != nil {
		return c.setpointErr
	}
	c.setpoints = append(c.setpoints, sp)
	return nil
}

func (c *scriptChannel) SendWatchdog(ctx context.Context, v int32) error {
	c.ops = append(c.ops, fmt.Sprintf("wd%d", v))
	c.watchdogs = append(c.watchdogs, v)
	return nil
}

func (c *scriptChannel) Pause() error {
	c.paused++
	return c.pauseErr
}

func (c *scriptChannel) Disconnect() error {
	c.disconnected++
	return nil
}

func ready() *motion.Snapshot { return &motion.Snapshot{Flag: motion.FlagReady} }

func finished(pose motion.Waypoint, force motion.Wrench) *motion.Snapshot {
	return &motion.Snapshot{Flag: motion.FlagFinished, Pose: pose, Force: force}
}

// legs builds a script that completes n legs, alternating A and B.
func legs(n int) []*motion.Snapshot {
	var s []*motion.Snapshot
	for i := 0; i < n; i++ {
		pose := wpA
		if i%2 == 1 {
			pose = wpB
		}
		s = append(s, ready(), ready(), finished(pose, motion.Wrench{float64(i)}))
	}
	return s
}

func newTestRunner(t *testing.T, ch *scriptChannel, reps int) (*Runner, *fakeClock) {
	t.Helper()
	cfg, err := Configure(wpA, wpB, reps)
	require.NoError(t, err)

	clk := newFakeClock()
	ch.clock = clk
	return NewRunner(ch, cfg, WithClock(clk)), clk
}

func TestRunner_TwoLegScenario(t *testing.T) {
	ch := &scriptChannel{script: []*motion.Snapshot{
		ready(),
		finished(wpA, motion.Wrench{}),
		ready(),
		finished(wpB, motion.Wrench{1, 1, 1, 1, 1, 1}),
	}}
	r, clk := newTestRunner(t, ch, 1)

	res := r.Run(context.Background())

	require.Equal(t, ReasonCompleted, res.Reason)
	require.NoError(t, res.Err)
	require.Len(t, res.Samples, 2)
	assert.Equal(t, wpB, res.Samples[1].Pose)
	assert.Equal(t, motion.Wrench{1, 1, 1, 1, 1, 1}, res.Samples[1].Force)
	assert.Equal(t, 1.0, res.Repetitions)
	assert.Equal(t, 0.0, res.MaxLandingError)

	assert.Equal(t, []motion.Setpoint{motion.Setpoint(wpA), motion.Setpoint(wpB)}, ch.setpoints)
	assert.Equal(t, []string{
		"recv", "setp", "wd1",
		"recv", "wd0",
		"recv", "setp", "wd1",
		"recv", "wd0",
	}, ch.ops)

	// Settle only between legs, not after the last one.
	assert.Equal(t, []time.Duration{DefaultSettleDelay}, clk.sleeps)
	assert.Equal(t, 1, ch.paused)
	assert.Equal(t, 1, ch.disconnected)
}

func TestRunner_CompletesAllRepetitions(t *testing.T) {
	for _, reps := range []int{1, 2, 5} {
		t.Run(fmt.Sprint(reps), func(t *testing.T) {
			ch := &scriptChannel{script: legs(2*reps + 4)}
			r, _ := newTestRunner(t, ch, reps)

			res := r.Run(context.Background())

			require.Equal(t, ReasonCompleted, res.Reason)
			require.Len(t, res.Samples, 2*reps)
			assert.Equal(t, float64(reps), res.Repetitions)

			for i := 1; i < len(res.Samples); i++ {
				assert.GreaterOrEqual(t, res.Samples[i].Elapsed, res.Samples[i-1].Elapsed)
			}
			for i, sp := range ch.setpoints {
				want := motion.Setpoint(wpA)
				if i%2 == 1 {
					want = motion.Setpoint(wpB)
				}
				assert.Equal(t, want, sp, "setpoint %d", i)
			}
			// Script leftovers are not consumed.
			assert.Equal(t, 6*reps, ch.pos)
		})
	}
}

func TestRunner_WatchdogEveryCycle(t *testing.T) {
	ch := &scriptChannel{script: []*motion.Snapshot{
		finished(wpA, motion.Wrench{}), // no edge before the first move
		ready(),                        // -> A
		ready(),
		{Flag: 5},
		finished(wpA, motion.Wrench{}), // leg 1 done
		finished(wpA, motion.Wrench{}),
		ready(), // -> B
		finished(wpB, motion.Wrench{}), // leg 2 done
	}}
	r, _ := newTestRunner(t, ch, 1)

	res := r.Run(context.Background())

	require.Equal(t, ReasonCompleted, res.Reason)
	assert.Equal(t, []int32{0, 1, 1, 1, 0, 0, 1, 0}, ch.watchdogs)
	assert.Len(t, ch.setpoints, 2)
}

func TestRunner_ChannelLost(t *testing.T) {
	ch := &scriptChannel{script: []*motion.Snapshot{
		ready(),
		finished(wpA, motion.Wrench{2}),
		ready(),
		// link drops here
	}}
	r, _ := newTestRunner(t, ch, 3)

	res := r.Run(context.Background())

	assert.Equal(t, ReasonChannelLost, res.Reason)
	assert.ErrorIs(t, res.Err, ErrChannel)
	assert.ErrorIs(t, res.Err, ErrLinkLost)
	require.Len(t, res.Samples, 1)
	assert.Equal(t, motion.Wrench{2}, res.Samples[0].Force)
	assert.Equal(t, 0.5, res.Repetitions)
	assert.Equal(t, 1, ch.paused)
	assert.Equal(t, 1, ch.disconnected)
}

func TestRunner_ReceiveError(t *testing.T) {
	boom := errors.New("connection reset by peer")
	ch := &scriptChannel{recvErr: boom}
	r, _ := newTestRunner(t, ch, 1)

	res := r.Run(context.Background())

	assert.Equal(t, ReasonChannelLost, res.Reason)
	assert.ErrorIs(t, res.Err, ErrChannel)
	assert.ErrorIs(t, res.Err, boom)
	assert.Empty(t, res.Samples)
	assert.Equal(t, 1, ch.disconnected)
}

func TestRunner_SendFailureStopsBeforeWatchdog(t *testing.T) {
	ch := &scriptChannel{script: legs(4), setpointErr: errors.New("broken pipe")}
	r, _ := newTestRunner(t, ch, 1)

	res := r.Run(context.Background())

	assert.Equal(t, ReasonChannelLost, res.Reason)
	assert.ErrorIs(t, res.Err, ErrChannel)
	assert.Equal(t, []string{"recv", "setp"}, ch.ops)
	assert.Equal(t, 1, ch.paused)
}

func TestRunner_PanicIsContained(t *testing.T) {
	ch := &scriptChannel{script: legs(4), panicAt: 4}
	r, _ := newTestRunner(t, ch, 2)

	var res Result
	require.NotPanics(t, func() { res = r.Run(context.Background()) })

	assert.Equal(t, ReasonChannelLost, res.Reason)
	assert.ErrorIs(t, res.Err, ErrChannel)
	assert.Len(t, res.Samples, 1)
	assert.Equal(t, 1, ch.paused)
	assert.Equal(t, 1, ch.disconnected)
}

func TestRunner_CancelBetweenCycles(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := &scriptChannel{script: legs(6)}
	// Cancel while the cycle that finishes the first leg is in flight.
	ch.onReceive = func(n int) {
		if n == 3 {
			cancel()
		}
	}
	r, _ := newTestRunner(t, ch, 3)

	res := r.Run(ctx)

	assert.Equal(t, ReasonCancelled, res.Reason)
	assert.ErrorIs(t, res.Err, context.Canceled)
	require.Len(t, res.Samples, 1)
	// The in-flight cycle still sent its watchdog.
	assert.Equal(t, "wd0", ch.ops[len(ch.ops)-1])
	assert.Equal(t, 3, ch.pos)
	assert.Equal(t, 1, ch.paused)
	assert.Equal(t, 1, ch.disconnected)
}

func TestRunner_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ch := &scriptChannel{script: legs(2)}
	r, _ := newTestRunner(t, ch, 1)

	res := r.Run(ctx)

	assert.Equal(t, ReasonCancelled, res.Reason)
	assert.Empty(t, ch.ops)
	assert.Equal(t, 1, ch.disconnected)
}

func TestRunner_ConfigError(t *testing.T) {
	ch := &scriptChannel{script: legs(2)}
	r := NewRunner(ch, &Config{A: wpA, B: wpB})

	res := r.Run(context.Background())

	assert.Equal(t, ReasonConfigError, res.Reason)
	assert.ErrorIs(t, res.Err, ErrConfig)
	assert.Empty(t, ch.ops)
	assert.Equal(t, 1, ch.paused)
	assert.Equal(t, 1, ch.disconnected)
}

func TestRunner_ReleaseError(t *testing.T) {
	ch := &scriptChannel{script: legs(2), pauseErr: errors.New("pause rejected")}
	r, _ := newTestRunner(t, ch, 1)

	res := r.Run(context.Background())

	assert.Equal(t, ReasonCompleted, res.Reason)
	assert.NoError(t, res.Err)
	assert.ErrorContains(t, res.ReleaseErr, "pause rejected")
	assert.Equal(t, 1, ch.disconnected)
}

func TestRunner_LandingError(t *testing.T) {
	off := motion.Waypoint{1, 0.3, 0.4, 0, 0, 1}
	ch := &scriptChannel{script: []*motion.Snapshot{
		ready(), finished(wpA, motion.Wrench{}),
		ready(), finished(off, motion.Wrench{}),
	}}
	r, _ := newTestRunner(t, ch, 1)

	res := r.Run(context.Background())

	require.Equal(t, ReasonCompleted, res.Reason)
	assert.InDelta(t, 0.5, res.MaxLandingError, 1e-12)
}

func TestRunner_Progress(t *testing.T) {
	ch := &scriptChannel{script: legs(2)}
	r, _ := newTestRunner(t, ch, 1)

	res := r.Run(context.Background())
	require.Equal(t, ReasonCompleted, res.Reason)

	var got []Progress
	for len(r.Progress()) > 0 {
		got = append(got, <-r.Progress())
	}

	require.Len(t, got, 5)
	assert.Equal(t, motion.EventSetpointChanged, got[0].Event)
	assert.Equal(t, motion.TargetA, got[0].Target)
	assert.Equal(t, motion.EventMoveFinished, got[1].Event)
	require.NotNil(t, got[1].Sample)
	assert.Equal(t, 0.5, got[1].Repetitions)
	assert.Equal(t, motion.TargetB, got[2].Target)
	assert.True(t, got[4].Done)
	assert.Equal(t, ReasonCompleted, got[4].Reason)
	assert.Equal(t, 1.0, got[4].Repetitions)
}

func TestRunner_RunTwice(t *testing.T) {
	ch := &scriptChannel{script: legs(4)}
	r, _ := newTestRunner(t, ch, 1)

	first := r.Run(context.Background())
	second := r.Run(context.Background())

	assert.Equal(t, ReasonCompleted, first.Reason)
	assert.Equal(t, ReasonCompleted, second.Reason)
	// Telemetry is scoped to one run.
	assert.Len(t, second.Samples, 2)
}
