// Package cycle runs the two-waypoint repetition loop against a controller
// channel and collects the telemetry captured at the end of every move.
package cycle

import (
	"context"
	"time"

	"github.com/gwillem/rtdecycle/pkg/motion"
)

// Channel is the periodic poll/command link to the arm controller.
type Channel interface {
	// Receive waits for the next state update. A nil snapshot with a nil
	// error means the controller stopped sending.
	Receive(ctx context.Context) (*motion.Snapshot, error)
	SendSetpoint(ctx context.Context, sp motion.Setpoint) error
	SendWatchdog(ctx context.Context, v int32) error
	// Pause and Disconnect must be safe to call repeatedly.
	Pause() error
	Disconnect() error
}

// Clock is the part of a clock the runner needs.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}
