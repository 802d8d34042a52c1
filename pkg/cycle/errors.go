package cycle

import "errors"

var (
	// ErrConfig marks invalid waypoints or repetition counts.
	ErrConfig = errors.New("invalid run configuration")
	// ErrChannel marks a lost or failing controller link.
	ErrChannel = errors.New("controller channel failure")
	// ErrLinkLost is returned when the channel stops delivering state.
	ErrLinkLost = errors.New("controller stopped delivering state")
)

// Reason tells why a run ended.
type Reason int

const (
	ReasonCompleted Reason = iota
	ReasonChannelLost
	ReasonCancelled
	ReasonConfigError
)

func (r Reason) String() string {
	switch r {
	case ReasonCompleted:
		return "completed"
	case ReasonChannelLost:
		return "channel lost"
	case ReasonCancelled:
		return "cancelled"
	case ReasonConfigError:
		return "config error"
	default:
		return "unknown"
	}
}
