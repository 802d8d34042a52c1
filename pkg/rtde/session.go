package rtde

import (
	"context"
	"io"
	"net"
	"slices"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/gwillem/rtdecycle/pkg/motion"
)

// DefaultHost is the controller address the cell is usually wired to.
const DefaultHost = "192.168.189.129"

// ErrClosed is returned when the controller closed the connection.
var ErrClosed = errors.New("controller closed the connection")

// SessionConfig holds connection parameters for OpenSession.
type SessionConfig struct {
	Host      string
	Port      int
	Frequency float64
	Recipes   RecipeSet // DefaultRecipes when nil
	Timeout   time.Duration
}

// Session is a started RTDE connection set up for the two-waypoint cycle:
// state outputs plus the setpoint and watchdog inputs.
type Session struct {
	client   *Client
	log      logrus.FieldLogger
	version  ControllerVersion
	state    *Recipe
	setp     *Recipe
	watchdog *Recipe
	setpoint motion.Setpoint
}

// OpenSession connects, negotiates and starts synchronization.
func OpenSession(ctx context.Context, cfg SessionConfig, log logrus.FieldLogger) (*Session, error) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Frequency == 0 {
		cfg.Frequency = DefaultFrequency
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	client, err := Dial(ctx, cfg.Host, cfg.Port, WithLogger(log), WithTimeout(cfg.Timeout))
	if err != nil {
		return nil, err
	}
	s, err := NewSession(ctx, client, cfg.Recipes, cfg.Frequency, log)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

// NewSession performs the setup handshake on an open client.
func NewSession(ctx context.Context, client *Client, recipes RecipeSet, frequency float64, log logrus.FieldLogger) (*Session, error) {
	if recipes == nil {
		recipes = DefaultRecipes()
	}
	stateSpec, err := recipes.Get(RecipeState)
	if err != nil {
		return nil, err
	}
	setpSpec, err := recipes.Get(RecipeSetpoint)
	if err != nil {
		return nil, err
	}
	wdSpec, err := recipes.Get(RecipeWatchdog)
	if err != nil {
		return nil, err
	}
	if err := checkInputs(setpSpec, wdSpec); err != nil {
		return nil, err
	}
	if err := checkState(stateSpec); err != nil {
		return nil, err
	}

	s := &Session{client: client, log: log}

	if err := client.NegotiateProtocol(ctx); err != nil {
		return nil, err
	}
	if s.version, err = client.ControllerVersion(ctx); err != nil {
		return nil, err
	}
	log.WithField("version", s.version).Info("Connected to controller")

	if s.state, err = client.SetupOutputs(ctx, stateSpec, frequency); err != nil {
		return nil, err
	}
	if s.setp, err = client.SetupInputs(ctx, setpSpec); err != nil {
		return nil, err
	}
	if s.watchdog, err = client.SetupInputs(ctx, wdSpec); err != nil {
		return nil, err
	}
	if err := client.Start(ctx); err != nil {
		return nil, errors.Wrap(err, "start synchronization")
	}

	log.WithField("frequency", frequency).Debug("Synchronization started")
	return s, nil
}

func checkInputs(setp, wd RecipeSpec) error {
	if len(setp.Names) != motion.Dims {
		return errors.Errorf("setpoint recipe needs %d fields, has %d", motion.Dims, len(setp.Names))
	}
	for i, t := range setp.Types {
		if t != TypeDouble {
			return errors.Errorf("setpoint field %s must be %s", setp.Names[i], TypeDouble)
		}
	}
	if len(wd.Names) != 1 || (len(wd.Types) == 1 && wd.Types[0] != TypeInt32) {
		return errors.Errorf("watchdog recipe needs exactly one %s field", TypeInt32)
	}
	return nil
}

func checkState(spec RecipeSpec) error {
	required := []struct {
		name string
		typ  FieldType
	}{
		{FieldHandshake, TypeInt32},
		{FieldActualTCPPose, TypeVector6D},
		{FieldActualForce, TypeVector6D},
	}
	for _, r := range required {
		i := slices.Index(spec.Names, r.name)
		if i < 0 {
			return errors.Errorf("state recipe is missing %s", r.name)
		}
		if i < len(spec.Types) && spec.Types[i] != r.typ {
			return errors.Errorf("state field %s must be %s", r.name, r.typ)
		}
	}
	return nil
}

// Version returns the controller version reported during setup.
func (s *Session) Version() ControllerVersion {
	return s.version
}

// Setpoint returns the last setpoint sent. It is zero until the first send.
func (s *Session) Setpoint() motion.Setpoint {
	return s.setpoint
}

// Receive reads the newest state package. It returns nil, nil once the
// controller has closed the connection.
func (s *Session) Receive(ctx context.Context) (*motion.Snapshot, error) {
	vals, err := s.client.Receive(ctx)
	if err != nil {
		if isClosed(err) {
			s.log.WithError(err).Debug("Controller connection closed")
			return nil, nil
		}
		return nil, err
	}
	return snapshot(vals)
}

func snapshot(vals Values) (*motion.Snapshot, error) {
	var snap motion.Snapshot
	var err error

	if snap.Flag, err = vals.Int32(FieldHandshake); err != nil {
		return nil, err
	}
	pose, err := vals.Vector6(FieldActualTCPPose)
	if err != nil {
		return nil, err
	}
	force, err := vals.Vector6(FieldActualForce)
	if err != nil {
		return nil, err
	}
	snap.Pose = motion.Waypoint(pose)
	snap.Force = motion.Wrench(force)
	if q, err := vals.Vector6(FieldTargetQ); err == nil {
		snap.TargetQ = q
	}
	return &snap, nil
}

// SendSetpoint writes the six setpoint registers.
func (s *Session) SendSetpoint(ctx context.Context, sp motion.Setpoint) error {
	vals := make(Values, motion.Dims)
	for i, name := range s.setp.Names {
		vals[name] = sp[i]
	}
	if err := s.client.Send(ctx, s.setp.ID, vals); err != nil {
		return errors.Wrap(err, "send setpoint")
	}
	s.setpoint = sp
	return nil
}

// SendWatchdog writes the watchdog register.
func (s *Session) SendWatchdog(ctx context.Context, v int32) error {
	err := s.client.Send(ctx, s.watchdog.ID, Values{s.watchdog.Names[0]: v})
	return errors.Wrap(err, "send watchdog")
}

// ReadPose drains n state packages and returns the TCP pose of the last
// one, so that the pose is fresh rather than a stale buffered value.
func (s *Session) ReadPose(ctx context.Context, n int) (motion.Waypoint, error) {
	var snap *motion.Snapshot
	for i := 0; i < max(n, 1); i++ {
		var err error
		if snap, err = s.Receive(ctx); err != nil {
			return motion.Waypoint{}, err
		}
		if snap == nil {
			return motion.Waypoint{}, ErrClosed
		}
	}
	return snap.Pose, nil
}

// Pause stops synchronization. It does nothing once paused or closed.
func (s *Session) Pause() error {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()
	return errors.Wrap(s.client.Pause(ctx), "pause synchronization")
}

// Disconnect closes the connection.
func (s *Session) Disconnect() error {
	return s.client.Close()
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed)
}
