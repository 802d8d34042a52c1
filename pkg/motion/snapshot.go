package motion

// Values of the controller's handshake register.
const (
	// FlagFinished is reported once the arm has reached the commanded setpoint.
	FlagFinished int32 = 0
	// FlagReady is reported while the controller waits for a new setpoint.
	FlagReady int32 = 1
)

// Snapshot is one poll cycle of controller-reported state.
// Any Flag value other than FlagReady or FlagFinished is treated as no edge.
type Snapshot struct {
	Flag    int32
	TargetQ [Dims]float64 // joint targets
	Pose    Waypoint      // actual TCP pose
	Force   Wrench        // actual TCP force/torque
}
