package rtde

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultTimeout bounds every read and write on the connection.
const DefaultTimeout = 5 * time.Second

// ErrNotStarted is returned by Receive before synchronization was started.
var ErrNotStarted = errors.New("rtde synchronization not started")

// ControllerVersion is the controller software version.
type ControllerVersion struct {
	Major, Minor, Bugfix, Build uint32
}

func (v ControllerVersion) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", v.Major, v.Minor, v.Bugfix, v.Build)
}

// Client is a single RTDE connection. Calls must not be made concurrently,
// except Close.
type Client struct {
	conn    net.Conn
	r       *bufio.Reader
	log     logrus.FieldLogger
	timeout time.Duration

	output  *Recipe
	inputs  map[uint8]*Recipe
	started bool

	closeOnce sync.Once
	closeErr  error
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the logger used for controller text messages.
func WithLogger(l logrus.FieldLogger) ClientOption {
	return func(c *Client) { c.log = l }
}

// WithTimeout sets the I/O timeout. Zero disables it.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// Dial connects to the controller's RTDE port.
func Dial(ctx context.Context, host string, port int, opts ...ClientOption) (*Client, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "connect to %s", addr)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return NewClient(conn, opts...), nil
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn, opts ...ClientOption) *Client {
	c := &Client{
		conn:    conn,
		r:       bufio.NewReader(conn),
		log:     logrus.StandardLogger(),
		timeout: DefaultTimeout,
		inputs:  make(map[uint8]*Recipe),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NegotiateProtocol requests protocol version 2.
func (c *Client) NegotiateProtocol(ctx context.Context) error {
	payload := binary.BigEndian.AppendUint16(nil, ProtocolVersion)
	reply, err := c.request(ctx, CmdRequestProtocolVersion, payload)
	if err != nil {
		return err
	}
	if len(reply) != 1 || reply[0] == 0 {
		return errors.Wrapf(ErrProtocol, "controller refused protocol version %d", ProtocolVersion)
	}
	return nil
}

// ControllerVersion queries the controller software version.
func (c *Client) ControllerVersion(ctx context.Context) (ControllerVersion, error) {
	reply, err := c.request(ctx, CmdGetControllerVersion, nil)
	if err != nil {
		return ControllerVersion{}, err
	}
	if len(reply) != 16 {
		return ControllerVersion{}, errors.Wrapf(ErrProtocol, "controller version reply has %d bytes", len(reply))
	}
	be := binary.BigEndian
	return ControllerVersion{
		Major:  be.Uint32(reply[0:]),
		Minor:  be.Uint32(reply[4:]),
		Bugfix: be.Uint32(reply[8:]),
		Build:  be.Uint32(reply[12:]),
	}, nil
}

// SetupOutputs registers the variables the controller streams at frequency Hz.
func (c *Client) SetupOutputs(ctx context.Context, spec RecipeSpec, frequency float64) (*Recipe, error) {
	payload := binary.BigEndian.AppendUint64(nil, math.Float64bits(frequency))
	payload = append(payload, strings.Join(spec.Names, ",")...)

	rec, err := c.setup(ctx, CmdSetupOutputs, payload, spec)
	if err != nil {
		return nil, errors.Wrap(err, "setup outputs")
	}
	c.output = rec
	return rec, nil
}

// SetupInputs registers variables that will be written with Send.
func (c *Client) SetupInputs(ctx context.Context, spec RecipeSpec) (*Recipe, error) {
	rec, err := c.setup(ctx, CmdSetupInputs, []byte(strings.Join(spec.Names, ",")), spec)
	if err != nil {
		return nil, errors.Wrap(err, "setup inputs")
	}
	c.inputs[rec.ID] = rec
	return rec, nil
}

func (c *Client) setup(ctx context.Context, cmd Command, payload []byte, spec RecipeSpec) (*Recipe, error) {
	reply, err := c.request(ctx, cmd, payload)
	if err != nil {
		return nil, err
	}
	if len(reply) < 1 {
		return nil, errors.Wrap(ErrProtocol, "empty setup reply")
	}

	rec := &Recipe{ID: reply[0], Names: spec.Names, Types: parseTypes(string(reply[1:]))}
	for i, t := range rec.Types {
		if t == typeNotFound || t == typeInUse {
			name := "?"
			if i < len(spec.Names) {
				name = spec.Names[i]
			}
			return nil, errors.Wrapf(ErrSetup, "%s: %s", name, t)
		}
	}
	if len(rec.Types) != len(spec.Names) {
		return nil, errors.Wrapf(ErrSetup, "requested %d variables, controller returned %d types", len(spec.Names), len(rec.Types))
	}
	if len(spec.Types) > 0 && joinTypes(spec.Types) != joinTypes(rec.Types) {
		return nil, errors.Wrapf(ErrSetup, "types %s do not match requested %s", joinTypes(rec.Types), joinTypes(spec.Types))
	}
	return rec, nil
}

// Start begins data synchronization.
func (c *Client) Start(ctx context.Context) error {
	if err := c.control(ctx, CmdStart); err != nil {
		return err
	}
	c.started = true
	return nil
}

// Pause stops data synchronization. Pausing a client that was never
// started is a no-op.
func (c *Client) Pause(ctx context.Context) error {
	if !c.started {
		return nil
	}
	if err := c.control(ctx, CmdPause); err != nil {
		return err
	}
	c.started = false
	return nil
}

// Started reports whether synchronization is running.
func (c *Client) Started() bool {
	return c.started
}

func (c *Client) control(ctx context.Context, cmd Command) error {
	reply, err := c.request(ctx, cmd, nil)
	if err != nil {
		return err
	}
	if len(reply) != 1 || reply[0] == 0 {
		return errors.Wrapf(ErrProtocol, "controller refused %s", cmd)
	}
	return nil
}

// Receive returns the newest output data package. Older packages that are
// already buffered are skipped.
func (c *Client) Receive(ctx context.Context) (Values, error) {
	if c.output == nil || !c.started {
		return nil, ErrNotStarted
	}

	var latest []byte
	for {
		if latest != nil && !c.packetBuffered() {
			return c.output.Decode(latest)
		}
		cmd, payload, err := c.read(ctx)
		if err != nil {
			return nil, err
		}
		switch cmd {
		case CmdDataPackage:
			latest = payload
		case CmdTextMessage:
			c.logText(payload)
		default:
			c.log.WithField("command", cmd).Debug("Skipping unexpected RTDE packet")
		}
	}
}

// Send writes one input data package for a recipe set up with SetupInputs.
func (c *Client) Send(ctx context.Context, id uint8, vals Values) error {
	rec, ok := c.inputs[id]
	if !ok {
		return errors.Errorf("input recipe %d not set up", id)
	}
	payload, err := rec.Encode(vals)
	if err != nil {
		return err
	}
	return c.write(ctx, CmdDataPackage, payload)
}

// Close closes the connection. It is safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
		c.started = false
	})
	return c.closeErr
}

// request writes a command and waits for the reply of the same type.
func (c *Client) request(ctx context.Context, cmd Command, payload []byte) ([]byte, error) {
	if err := c.write(ctx, cmd, payload); err != nil {
		return nil, err
	}
	for {
		got, reply, err := c.read(ctx)
		if err != nil {
			return nil, err
		}
		switch got {
		case cmd:
			return reply, nil
		case CmdTextMessage:
			c.logText(reply)
		default:
			c.log.WithFields(logrus.Fields{
				"waiting_for": cmd,
				"command":     got,
			}).Debug("Skipping RTDE packet")
		}
	}
}

func (c *Client) write(ctx context.Context, cmd Command, payload []byte) error {
	if err := c.conn.SetWriteDeadline(c.deadline(ctx)); err != nil {
		return errors.Wrap(err, "set write deadline")
	}
	if err := writePacket(c.conn, cmd, payload); err != nil {
		return errors.Wrapf(err, "send %s", cmd)
	}
	return nil
}

func (c *Client) read(ctx context.Context) (Command, []byte, error) {
	if err := c.conn.SetReadDeadline(c.deadline(ctx)); err != nil {
		return 0, nil, errors.Wrap(err, "set read deadline")
	}
	cmd, payload, err := readPacket(c.r)
	if err != nil {
		return 0, nil, errors.Wrap(err, "receive packet")
	}
	return cmd, payload, nil
}

// deadline picks the earlier of the context deadline and the I/O timeout.
func (c *Client) deadline(ctx context.Context) time.Time {
	var d time.Time
	if c.timeout > 0 {
		d = time.Now().Add(c.timeout)
	}
	if cd, ok := ctx.Deadline(); ok && (d.IsZero() || cd.Before(d)) {
		d = cd
	}
	return d
}

// packetBuffered reports whether a complete packet is already buffered.
func (c *Client) packetBuffered() bool {
	n := c.r.Buffered()
	if n < headerSize {
		return false
	}
	hdr, err := c.r.Peek(headerSize)
	if err != nil {
		return false
	}
	return n >= int(binary.BigEndian.Uint16(hdr))
}

// TextMessage is a message pushed by the controller.
type TextMessage struct {
	Message string
	Source  string
	Level   uint8
}

const (
	levelException = iota
	levelError
	levelWarning
	levelInfo
)

func parseTextMessage(b []byte) (TextMessage, error) {
	var m TextMessage
	next := func() (string, bool) {
		if len(b) < 1 || len(b) < 1+int(b[0]) {
			return "", false
		}
		n := int(b[0])
		s := string(b[1 : 1+n])
		b = b[1+n:]
		return s, true
	}

	var ok bool
	if m.Message, ok = next(); !ok {
		return m, errors.Wrap(ErrProtocol, "truncated text message")
	}
	if m.Source, ok = next(); !ok {
		return m, errors.Wrap(ErrProtocol, "truncated text message source")
	}
	if len(b) < 1 {
		return m, errors.Wrap(ErrProtocol, "text message without level")
	}
	m.Level = b[0]
	return m, nil
}

func (c *Client) logText(payload []byte) {
	m, err := parseTextMessage(payload)
	if err != nil {
		c.log.WithError(err).Warn("Malformed controller message")
		return
	}
	entry := c.log.WithField("source", m.Source)
	switch m.Level {
	case levelException, levelError:
		entry.Error(m.Message)
	case levelWarning:
		entry.Warn(m.Message)
	default:
		entry.Info(m.Message)
	}
}
