package motion

// Target identifies which waypoint is currently loaded in the setpoint register.
type Target int

const (
	TargetNone Target = iota
	TargetA
	TargetB
)

func (t Target) String() string {
	switch t {
	case TargetA:
		return "A"
	case TargetB:
		return "B"
	default:
		return "none"
	}
}

// Event is the side effect a Step asks the caller to perform.
type Event int

const (
	// EventNone means only the watchdog has to be forwarded.
	EventNone Event = iota
	// EventSetpointChanged means the setpoint register must be sent before the watchdog.
	EventSetpointChanged
	// EventMoveFinished means a leg completed and Pose/Force should be captured.
	EventMoveFinished
)

func (e Event) String() string {
	switch e {
	case EventSetpointChanged:
		return "setpoint changed"
	case EventMoveFinished:
		return "move finished"
	default:
		return "none"
	}
}

// Step is the outcome of feeding one snapshot to the Sequencer.
type Step struct {
	Event    Event
	Target   Target   // target loaded after this step
	Setpoint Setpoint // register contents after this step
	Watchdog int32    // value to send this cycle

	// Set for EventMoveFinished only.
	Pose  Waypoint
	Force Wrench
}

// Sequencer is the move handshake state machine. It alternates between two
// waypoints, starting with A, and counts completed legs.
type Sequencer struct {
	a, b Waypoint

	current       Target
	moveCompleted bool
	setpoint      Setpoint
	watchdog      int32
	legs          int
}

// NewSequencer creates a sequencer that has not issued any setpoint yet.
func NewSequencer(a, b Waypoint) *Sequencer {
	return &Sequencer{
		a:             a,
		b:             b,
		moveCompleted: true,
	}
}

// Step advances the state machine with one snapshot.
func (s *Sequencer) Step(snap *Snapshot) Step {
	switch {
	case s.moveCompleted && snap.Flag == FlagReady:
		s.moveCompleted = false
		s.current = s.next()
		s.setpoint = Setpoint(s.waypoint(s.current))
		s.watchdog = 1
		return s.step(EventSetpointChanged)

	case !s.moveCompleted && snap.Flag == FlagFinished:
		s.moveCompleted = true
		s.watchdog = 0
		s.legs++
		st := s.step(EventMoveFinished)
		st.Pose = snap.Pose
		st.Force = snap.Force
		return st
	}

	return s.step(EventNone)
}

func (s *Sequencer) step(ev Event) Step {
	return Step{
		Event:    ev,
		Target:   s.current,
		Setpoint: s.setpoint,
		Watchdog: s.watchdog,
	}
}

// next picks the other waypoint; the first move always goes to A.
func (s *Sequencer) next() Target {
	if s.current == TargetA {
		return TargetB
	}
	return TargetA
}

func (s *Sequencer) waypoint(t Target) Waypoint {
	if t == TargetB {
		return s.b
	}
	return s.a
}

// Current returns the waypoint loaded in the setpoint register.
func (s *Sequencer) Current() Target { return s.current }

// CurrentWaypoint returns the values of the loaded waypoint.
func (s *Sequencer) CurrentWaypoint() Waypoint { return s.waypoint(s.current) }

// Setpoint returns the setpoint register contents.
func (s *Sequencer) Setpoint() Setpoint { return s.setpoint }

// Watchdog returns the watchdog value to send this cycle.
func (s *Sequencer) Watchdog() int32 { return s.watchdog }

// MoveCompleted reports whether no move is in progress.
func (s *Sequencer) MoveCompleted() bool { return s.moveCompleted }

// Legs returns the number of completed moves.
func (s *Sequencer) Legs() int { return s.legs }

// Repetitions returns completed repetitions; each leg counts as half.
func (s *Sequencer) Repetitions() float64 { return float64(s.legs) / 2 }
