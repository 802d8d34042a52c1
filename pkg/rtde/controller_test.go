package rtde

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gwillem/rtdecycle/pkg/motion"
)

// fakeController plays the controller side of an RTDE connection. It streams
// one state package after start and one after every watchdog write.
type fakeController struct {
	ln     net.Listener
	states []stateRow
	// closeWhenDone drops the connection once the script is exhausted.
	closeWhenDone bool
	busy          map[string]bool

	mu        sync.Mutex
	setpoints []motion.Setpoint
	watchdogs []int32
	paused    bool
	err       error
	done      chan struct{}
}

type stateRow struct {
	flag  int32
	q     [6]float64
	pose  motion.Waypoint
	force motion.Wrench
}

var controllerTypes = map[string]FieldType{
	FieldTargetQ:       TypeVector6D,
	FieldActualTCPPose: TypeVector6D,
	FieldActualForce:   TypeVector6D,
	FieldHandshake:     TypeInt32,
	FieldWatchdog:      TypeInt32,
	"actual_q":         TypeVector6D,
}

func init() {
	for i := range 6 {
		controllerTypes[SetpointField(i)] = TypeDouble
	}
}

func startController(t *testing.T, states ...stateRow) *fakeController {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	fc := &fakeController{ln: ln, states: states, done: make(chan struct{})}
	t.Cleanup(func() { _ = ln.Close() })
	return fc
}

func (fc *fakeController) port() int {
	return fc.ln.Addr().(*net.TCPAddr).Port
}

func (fc *fakeController) serve() {
	go func() {
		defer close(fc.done)
		conn, err := fc.ln.Accept()
		if err != nil {
			fc.fail(err)
			return
		}
		defer conn.Close()
		if err := fc.handle(conn); err != nil && err != io.EOF {
			fc.fail(err)
		}
	}()
}

func (fc *fakeController) wait(t *testing.T) {
	t.Helper()
	<-fc.done
	fc.mu.Lock()
	defer fc.mu.Unlock()
	require.NoError(t, fc.err)
}

func (fc *fakeController) fail(err error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.err == nil {
		fc.err = err
	}
}

func (fc *fakeController) handle(conn net.Conn) error {
	var (
		output  *Recipe
		inputs  = map[uint8]*Recipe{}
		nextID  = uint8(1)
		next    int
		started bool
	)

	sendState := func() error {
		if next >= len(fc.states) {
			if fc.closeWhenDone {
				return conn.Close()
			}
			return nil
		}
		row := fc.states[next]
		next++
		vals := Values{}
		for _, name := range output.Names {
			switch name {
			case FieldHandshake:
				vals[name] = row.flag
			case FieldTargetQ:
				vals[name] = row.q
			case FieldActualTCPPose:
				vals[name] = [6]float64(row.pose)
			case FieldActualForce:
				vals[name] = [6]float64(row.force)
			default:
				vals[name] = [6]float64{}
			}
		}
		payload, err := output.Encode(vals)
		if err != nil {
			return err
		}
		return writePacket(conn, CmdDataPackage, payload)
	}

	setup := func(names []string) *Recipe {
		rec := &Recipe{ID: nextID, Names: names}
		nextID++
		for _, n := range names {
			t, ok := controllerTypes[n]
			switch {
			case fc.busy[n]:
				t = typeInUse
			case !ok:
				t = typeNotFound
			}
			rec.Types = append(rec.Types, t)
		}
		return rec
	}

	for {
		cmd, payload, err := readPacket(conn)
		if err != nil {
			if fc.closeWhenDone && next >= len(fc.states) {
				return nil
			}
			return err
		}

		switch cmd {
		case CmdRequestProtocolVersion:
			if binary.BigEndian.Uint16(payload) != ProtocolVersion {
				err = writePacket(conn, cmd, []byte{0})
				break
			}
			err = writePacket(conn, cmd, []byte{1})

		case CmdGetControllerVersion:
			var b []byte
			for _, v := range []uint32{5, 11, 6, 1234} {
				b = binary.BigEndian.AppendUint32(b, v)
			}
			err = writePacket(conn, cmd, b)

		case CmdSetupOutputs:
			freq := math.Float64frombits(binary.BigEndian.Uint64(payload))
			if freq <= 0 {
				err = writePacket(conn, cmd, []byte{0})
				break
			}
			output = setup(strings.Split(string(payload[8:]), ","))
			if err = writeText(conn, "recipe accepted", "RTDE", levelInfo); err != nil {
				break
			}
			err = writePacket(conn, cmd, append([]byte{output.ID}, joinTypes(output.Types)...))

		case CmdSetupInputs:
			rec := setup(strings.Split(string(payload), ","))
			inputs[rec.ID] = rec
			err = writePacket(conn, cmd, append([]byte{rec.ID}, joinTypes(rec.Types)...))

		case CmdStart:
			started = true
			if err = writePacket(conn, cmd, []byte{1}); err == nil {
				err = sendState()
			}

		case CmdPause:
			started = false
			fc.mu.Lock()
			fc.paused = true
			fc.mu.Unlock()
			err = writePacket(conn, cmd, []byte{1})

		case CmdDataPackage:
			rec, ok := inputs[payload[0]]
			if !ok {
				return fmt.Errorf("data package for unknown recipe %d", payload[0])
			}
			vals, derr := rec.Decode(payload)
			if derr != nil {
				return derr
			}
			if _, isWD := vals[FieldWatchdog]; isWD {
				fc.mu.Lock()
				fc.watchdogs = append(fc.watchdogs, vals[FieldWatchdog].(int32))
				fc.mu.Unlock()
				if started {
					err = sendState()
				}
				break
			}
			var sp motion.Setpoint
			for i := range sp {
				sp[i] = vals[SetpointField(i)].(float64)
			}
			fc.mu.Lock()
			fc.setpoints = append(fc.setpoints, sp)
			fc.mu.Unlock()
		}
		if err != nil {
			if fc.closeWhenDone && next >= len(fc.states) {
				return nil
			}
			return err
		}
	}
}

func writeText(w io.Writer, msg, source string, level uint8) error {
	b := []byte{byte(len(msg))}
	b = append(b, msg...)
	b = append(b, byte(len(source)))
	b = append(b, source...)
	b = append(b, level)
	return writePacket(w, CmdTextMessage, b)
}
