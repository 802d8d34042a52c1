package bench

import (
	"context"
	"math"
	"sync"

	"github.com/gwillem/rtdecycle/pkg/motion"
)

// DefaultSimStep is how far each axis of a Sim advances per pose read.
const DefaultSimStep = 0.01

// Sim is an actuator that moves linearly towards its goal by a fixed step
// per axis every time its pose is read.
type Sim struct {
	mu   sync.Mutex
	pose motion.Waypoint
	goal motion.Waypoint
	step float64
}

// NewSim creates a simulated actuator resting at start.
func NewSim(start motion.Waypoint, step float64) *Sim {
	if step <= 0 {
		step = DefaultSimStep
	}
	return &Sim{pose: start, goal: start, step: step}
}

func (s *Sim) MoveTo(ctx context.Context, w motion.Waypoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.goal = w
	return nil
}

func (s *Sim) Pose(ctx context.Context) (motion.Waypoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.pose {
		d := s.goal[i] - s.pose[i]
		if math.Abs(d) <= s.step {
			s.pose[i] = s.goal[i]
		} else {
			s.pose[i] += math.Copysign(s.step, d)
		}
	}
	return s.pose, nil
}
