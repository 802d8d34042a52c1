// Package telemetry buffers the pose/force samples captured at the end of
// each move and converts them to tabular and columnar form.
package telemetry

import (
	"sync"

	"github.com/gwillem/rtdecycle/pkg/motion"
)

// Sample is the state captured when a move finished.
type Sample struct {
	Elapsed float64 // seconds since run start
	Pose    motion.Waypoint
	Force   motion.Wrench
}

// Recorder is an append-only sample buffer for one run.
type Recorder struct {
	mu      sync.RWMutex
	samples []Sample
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Record appends one sample and returns it.
func (r *Recorder) Record(elapsed float64, pose motion.Waypoint, force motion.Wrench) Sample {
	s := Sample{Elapsed: elapsed, Pose: pose, Force: force}

	r.mu.Lock()
	r.samples = append(r.samples, s)
	r.mu.Unlock()

	return s
}

// Drain returns a copy of all samples in capture order. It does not reset
// the buffer, so repeated calls return the same sequence.
func (r *Recorder) Drain() []Sample {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Sample, len(r.samples))
	copy(out, r.samples)
	return out
}

// Len returns the number of recorded samples.
func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.samples)
}
