// Package rtde speaks the Universal Robots Real-Time Data Exchange protocol
// (version 2) over TCP: recipe setup, synchronization control and the
// periodic exchange of data packages.
package rtde

import (
	"encoding/binary"
	"io"
	"math"
	"strings"

	"github.com/pkg/errors"
)

const (
	ProtocolVersion  = 2
	DefaultPort      = 30004
	DefaultFrequency = 125.0

	headerSize = 3
	maxPacket  = math.MaxUint16
)

// Command is the packet type byte following the size field.
type Command byte

const (
	CmdRequestProtocolVersion Command = 'V'
	CmdGetControllerVersion   Command = 'v'
	CmdTextMessage            Command = 'M'
	CmdDataPackage            Command = 'U'
	CmdSetupOutputs           Command = 'O'
	CmdSetupInputs            Command = 'I'
	CmdStart                  Command = 'S'
	CmdPause                  Command = 'P'
)

func (c Command) String() string {
	switch c {
	case CmdRequestProtocolVersion:
		return "request protocol version"
	case CmdGetControllerVersion:
		return "get controller version"
	case CmdTextMessage:
		return "text message"
	case CmdDataPackage:
		return "data package"
	case CmdSetupOutputs:
		return "setup outputs"
	case CmdSetupInputs:
		return "setup inputs"
	case CmdStart:
		return "start"
	case CmdPause:
		return "pause"
	default:
		return "command " + string(rune(c))
	}
}

var (
	ErrProtocol = errors.New("rtde protocol error")
	ErrSetup    = errors.New("rtde recipe setup rejected")
	ErrType     = errors.New("rtde value type mismatch")
)

// FieldType is a data type name as used in recipes and setup replies.
type FieldType string

const (
	TypeBool          FieldType = "BOOL"
	TypeUint8         FieldType = "UINT8"
	TypeUint32        FieldType = "UINT32"
	TypeUint64        FieldType = "UINT64"
	TypeInt32         FieldType = "INT32"
	TypeDouble        FieldType = "DOUBLE"
	TypeVector3D      FieldType = "VECTOR3D"
	TypeVector6D      FieldType = "VECTOR6D"
	TypeVector6Int32  FieldType = "VECTOR6INT32"
	TypeVector6Uint32 FieldType = "VECTOR6UINT32"

	// Returned by the controller in place of a type.
	typeNotFound FieldType = "NOT_FOUND"
	typeInUse    FieldType = "IN_USE"
)

// Size is the encoded size in bytes, or 0 for unknown types.
func (t FieldType) Size() int {
	switch t {
	case TypeBool, TypeUint8:
		return 1
	case TypeUint32, TypeInt32:
		return 4
	case TypeUint64, TypeDouble:
		return 8
	case TypeVector3D, TypeVector6Int32, TypeVector6Uint32:
		return 24
	case TypeVector6D:
		return 48
	default:
		return 0
	}
}

func writePacket(w io.Writer, cmd Command, payload []byte) error {
	size := headerSize + len(payload)
	if size > maxPacket {
		return errors.Wrapf(ErrProtocol, "%s packet of %d bytes too large", cmd, size)
	}
	buf := make([]byte, 0, size)
	buf = binary.BigEndian.AppendUint16(buf, uint16(size))
	buf = append(buf, byte(cmd))
	buf = append(buf, payload...)
	_, err := w.Write(buf)
	return err
}

func readPacket(r io.Reader) (Command, []byte, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	size := int(binary.BigEndian.Uint16(hdr[:2]))
	if size < headerSize {
		return 0, nil, errors.Wrapf(ErrProtocol, "packet size %d shorter than header", size)
	}
	payload := make([]byte, size-headerSize)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return 0, nil, err
	}
	return Command(hdr[2]), payload, nil
}

func appendValue(buf []byte, t FieldType, v any) ([]byte, error) {
	be := binary.BigEndian
	switch t {
	case TypeBool:
		b, ok := v.(bool)
		if !ok {
			break
		}
		if b {
			return append(buf, 1), nil
		}
		return append(buf, 0), nil
	case TypeUint8:
		if n, ok := v.(uint8); ok {
			return append(buf, n), nil
		}
	case TypeUint32:
		if n, ok := v.(uint32); ok {
			return be.AppendUint32(buf, n), nil
		}
	case TypeUint64:
		if n, ok := v.(uint64); ok {
			return be.AppendUint64(buf, n), nil
		}
	case TypeInt32:
		if n, ok := v.(int32); ok {
			return be.AppendUint32(buf, uint32(n)), nil
		}
	case TypeDouble:
		if f, ok := v.(float64); ok {
			return be.AppendUint64(buf, math.Float64bits(f)), nil
		}
	case TypeVector3D:
		if vec, ok := v.([3]float64); ok {
			for _, f := range vec {
				buf = be.AppendUint64(buf, math.Float64bits(f))
			}
			return buf, nil
		}
	case TypeVector6D:
		if vec, ok := v.([6]float64); ok {
			for _, f := range vec {
				buf = be.AppendUint64(buf, math.Float64bits(f))
			}
			return buf, nil
		}
	case TypeVector6Int32:
		if vec, ok := v.([6]int32); ok {
			for _, n := range vec {
				buf = be.AppendUint32(buf, uint32(n))
			}
			return buf, nil
		}
	case TypeVector6Uint32:
		if vec, ok := v.([6]uint32); ok {
			for _, n := range vec {
				buf = be.AppendUint32(buf, n)
			}
			return buf, nil
		}
	default:
		return nil, errors.Wrapf(ErrType, "unknown type %q", t)
	}
	return nil, errors.Wrapf(ErrType, "%T cannot be encoded as %s", v, t)
}

// decodeValue reads one value of type t from the start of b.
func decodeValue(b []byte, t FieldType) (any, error) {
	size := t.Size()
	if size == 0 {
		return nil, errors.Wrapf(ErrType, "unknown type %q", t)
	}
	if len(b) < size {
		return nil, errors.Wrapf(ErrProtocol, "%s needs %d bytes, %d left", t, size, len(b))
	}

	be := binary.BigEndian
	switch t {
	case TypeBool:
		return b[0] != 0, nil
	case TypeUint8:
		return b[0], nil
	case TypeUint32:
		return be.Uint32(b), nil
	case TypeUint64:
		return be.Uint64(b), nil
	case TypeInt32:
		return int32(be.Uint32(b)), nil
	case TypeDouble:
		return math.Float64frombits(be.Uint64(b)), nil
	case TypeVector3D:
		var v [3]float64
		for i := range v {
			v[i] = math.Float64frombits(be.Uint64(b[8*i:]))
		}
		return v, nil
	case TypeVector6D:
		var v [6]float64
		for i := range v {
			v[i] = math.Float64frombits(be.Uint64(b[8*i:]))
		}
		return v, nil
	case TypeVector6Int32:
		var v [6]int32
		for i := range v {
			v[i] = int32(be.Uint32(b[4*i:]))
		}
		return v, nil
	default: // TypeVector6Uint32
		var v [6]uint32
		for i := range v {
			v[i] = be.Uint32(b[4*i:])
		}
		return v, nil
	}
}

func parseTypes(s string) []FieldType {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	types := make([]FieldType, len(parts))
	for i, p := range parts {
		types[i] = FieldType(p)
	}
	return types
}

func joinTypes(types []FieldType) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, ",")
}
