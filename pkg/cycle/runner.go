package cycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/gwillem/rtdecycle/pkg/logging"
	"github.com/gwillem/rtdecycle/pkg/motion"
	"github.com/gwillem/rtdecycle/pkg/telemetry"
)

// Result is what a run produced and why it stopped.
type Result struct {
	Samples     []telemetry.Sample
	Repetitions float64 // completed, in half steps
	Reason      Reason
	Err         error // nil only for ReasonCompleted

	// MaxLandingError is the largest distance between a commanded waypoint
	// position and the pose reported when the move finished.
	MaxLandingError float64
	// ReleaseErr is set when pausing or disconnecting the channel failed.
	ReleaseErr error
}

// Progress is published after every setpoint change, finished move and at
// the end of the run.
type Progress struct {
	Event       motion.Event
	Target      motion.Target
	Sample      *telemetry.Sample // set for finished moves
	Repetitions float64
	Done        bool
	Reason      Reason
	Err         error
}

// Runner drives the sequencer against a channel for one configuration.
type Runner struct {
	ch    Channel
	cfg   *Config
	log   logrus.FieldLogger
	clock Clock

	mu         sync.Mutex
	running    bool
	progressCh chan Progress
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger. The default discards output.
func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Runner) { r.log = l }
}

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(r *Runner) { r.clock = c }
}

// NewRunner creates a runner that takes ownership of ch for the duration of Run.
func NewRunner(ch Channel, cfg *Config, opts ...Option) *Runner {
	r := &Runner{
		ch:         ch,
		cfg:        cfg,
		log:        logging.Discard(),
		clock:      clock.New(),
		progressCh: make(chan Progress, 16),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Progress returns a channel that receives run updates. Old updates are
// dropped when the consumer falls behind.
func (r *Runner) Progress() <-chan Progress {
	return r.progressCh
}

// Config returns the run configuration.
func (r *Runner) Config() *Config {
	return r.cfg
}

// Run executes the repetitions. Cancelling ctx stops the run between poll
// cycles. The channel is paused and disconnected on every return path.
func (r *Runner) Run(ctx context.Context) (res Result) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return Result{Reason: ReasonConfigError, Err: fmt.Errorf("%w: runner already running", ErrConfig)}
	}
	r.running = true
	r.mu.Unlock()

	var seq *motion.Sequencer
	rec := telemetry.NewRecorder()

	defer func() {
		if p := recover(); p != nil {
			r.log.WithField("panic", p).Error("Channel failed unexpectedly")
			res.Reason = ReasonChannelLost
			res.Err = fmt.Errorf("%w: panic: %v", ErrChannel, p)
		}

		res.ReleaseErr = r.release()
		res.Samples = rec.Drain()
		if seq != nil {
			res.Repetitions = seq.Repetitions()
		}
		r.finish(res)
	}()

	if err := r.cfg.Validate(); err != nil {
		r.log.WithError(err).Error("Refusing to start run")
		return Result{Reason: ReasonConfigError, Err: err}
	}

	seq = motion.NewSequencer(r.cfg.A, r.cfg.B)
	target := float64(r.cfg.Repetitions)
	start := r.clock.Now()
	var maxLanding float64

	// In-flight channel calls are never preempted by cancellation.
	callCtx := context.WithoutCancel(ctx)

	r.log.WithFields(logrus.Fields{
		"a":           r.cfg.A.String(),
		"b":           r.cfg.B.String(),
		"repetitions": r.cfg.Repetitions,
	}).Info("Run started")

	for seq.Repetitions() < target {
		if err := ctx.Err(); err != nil {
			r.log.WithField("repetitions", seq.Repetitions()).Warn("Run cancelled")
			return Result{Reason: ReasonCancelled, Err: err, MaxLandingError: maxLanding}
		}

		st, err := r.step(callCtx, seq, rec, start)
		if err != nil {
			r.log.WithError(err).WithField("samples", rec.Len()).Error("Run aborted")
			return Result{Reason: ReasonChannelLost, Err: err, MaxLandingError: maxLanding}
		}

		if st.Event != motion.EventMoveFinished {
			continue
		}
		landing := st.Pose.Position().Distance(seq.CurrentWaypoint().Position())
		if landing > maxLanding {
			maxLanding = landing
		}
		if seq.Repetitions() < target {
			r.clock.Sleep(r.cfg.SettleDelay)
		}
	}

	r.log.WithFields(logrus.Fields{
		"repetitions": seq.Repetitions(),
		"samples":     rec.Len(),
		"elapsed":     r.clock.Now().Sub(start).Round(time.Millisecond),
	}).Info("Run completed")

	return Result{Reason: ReasonCompleted, MaxLandingError: maxLanding}
}

// step performs one poll cycle: receive, advance the sequencer, then send
// the setpoint (if it changed) strictly before the watchdog.
func (r *Runner) step(ctx context.Context, seq *motion.Sequencer, rec *telemetry.Recorder, start time.Time) (motion.Step, error) {
	snap, err := r.ch.Receive(ctx)
	if err != nil {
		return motion.Step{}, fmt.Errorf("%w: receive: %w", ErrChannel, err)
	}
	if snap == nil {
		return motion.Step{}, fmt.Errorf("%w: %w", ErrChannel, ErrLinkLost)
	}

	st := seq.Step(snap)

	switch st.Event {
	case motion.EventSetpointChanged:
		if err := r.ch.SendSetpoint(ctx, st.Setpoint); err != nil {
			return st, fmt.Errorf("%w: send setpoint: %w", ErrChannel, err)
		}
		r.log.WithFields(logrus.Fields{
			"target":   st.Target,
			"setpoint": motion.Waypoint(st.Setpoint).String(),
		}).Info("New setpoint")
		r.publish(Progress{Event: st.Event, Target: st.Target, Repetitions: seq.Repetitions()})

	case motion.EventMoveFinished:
		sample := rec.Record(r.clock.Now().Sub(start).Seconds(), st.Pose, st.Force)
		r.log.WithFields(logrus.Fields{
			"target":      st.Target,
			"joints":      fmt.Sprintf("%.4f", snap.TargetQ),
			"elapsed":     fmt.Sprintf("%.4fs", sample.Elapsed),
			"repetitions": seq.Repetitions(),
		}).Info("Move finished")
		r.publish(Progress{Event: st.Event, Target: st.Target, Sample: &sample, Repetitions: seq.Repetitions()})
	}

	if err := r.ch.SendWatchdog(ctx, st.Watchdog); err != nil {
		return st, fmt.Errorf("%w: send watchdog: %w", ErrChannel, err)
	}
	return st, nil
}

// release pauses and disconnects the channel, collecting both failures.
func (r *Runner) release() error {
	err := multierr.Combine(r.ch.Pause(), r.ch.Disconnect())
	if err != nil {
		r.log.WithError(err).Warn("Failed to release controller channel")
	}
	return err
}

func (r *Runner) finish(res Result) {
	r.publish(Progress{
		Repetitions: res.Repetitions,
		Done:        true,
		Reason:      res.Reason,
		Err:         res.Err,
	})

	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
}

func (r *Runner) publish(p Progress) {
	select {
	case r.progressCh <- p:
	default:
		// Drop oldest update if channel full, replace with new
		select {
		case <-r.progressCh:
		default:
		}
		select {
		case r.progressCh <- p:
		default:
		}
	}
}
