package proto

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/netstack/tcpip/header"
	"github.com/pkg/errors"
)

// 0        1        2                 4                                 8
// +--------+--------+-----------------+---------------------------------+
// |   op   | status |    checksum     |             length              |
// +--------+--------+-----------------+---------------------------------+
// |                        payload (length bytes)                       |
// +---------------------------------------------------------------------+

const (
	FrameHeaderLen = 8
	MaxPayloadLen  = 1 << 24
)

type Op uint8

const (
	OpOpen Op = iota + 1 // sent by the server once, right after accept
	OpRead
	OpWrite
	OpInterrupt
	OpStat
)

func (op Op) String() string {
	switch op {
	case OpOpen:
		return "OPEN"
	case OpRead:
		return "READ"
	case OpWrite:
		return "WRITE"
	case OpInterrupt:
		return "INTERRUPT"
	case OpStat:
		return "STAT"
	}
	return fmt.Sprintf("Op(%d)", uint8(op))
}

type Status uint8

const (
	StatusOK Status = iota
	StatusInterrupted
	StatusIOFault
	StatusPermissionDenied
	StatusOutOfMemory
	StatusClosed
	StatusShutdown
	StatusBadRequest
)

var ErrFrameTooLarge = errors.New("frame payload too large")

type Frame struct {
	Op       Op
	Status   Status
	Checksum uint16
	Payload  []byte
}

// Creates a frame with its checksum filled in
func NewFrame(op Op, status Status, payload []byte) *Frame {
	return &Frame{
		Op:       op,
		Status:   status,
		Checksum: ComputeChecksum(op, status, payload),
		Payload:  payload,
	}
}

func NewReadRequest(max uint32) *Frame {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, max)
	return NewFrame(OpRead, StatusOK, payload)
}

func NewWriteResponse(status Status, accepted uint32) *Frame {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, accepted)
	return NewFrame(OpWrite, status, payload)
}

const (
	BindingChannel uint8 = 0
	BindingRoot    uint8 = 1
)

// OPEN payload: identity u32 | binding u8 | capacity u32
func NewOpenResponse(status Status, identity uint32, binding uint8, capacity uint32) *Frame {
	payload := make([]byte, 9)
	binary.BigEndian.PutUint32(payload[0:4], identity)
	payload[4] = binding
	binary.BigEndian.PutUint32(payload[5:9], capacity)
	return NewFrame(OpOpen, status, payload)
}

func (f *Frame) OpenInfo() (identity uint32, binding uint8, capacity uint32, err error) {
	if f.Op != OpOpen || len(f.Payload) != 9 {
		return 0, 0, 0, errors.Errorf("malformed %v frame with %d byte payload", f.Op, len(f.Payload))
	}
	return binary.BigEndian.Uint32(f.Payload[0:4]), f.Payload[4], binary.BigEndian.Uint32(f.Payload[5:9]), nil
}

// Uint32 decodes the 4-byte payload carried by READ requests and WRITE responses.
func (f *Frame) Uint32() (uint32, error) {
	if len(f.Payload) != 4 {
		return 0, errors.Errorf("%v frame: expected 4-byte payload, got %d", f.Op, len(f.Payload))
	}
	return binary.BigEndian.Uint32(f.Payload), nil
}

// The internet checksum over op, status and payload, inverted so that the
// sender can store it directly.
func ComputeChecksum(op Op, status Status, payload []byte) uint16 {
	sum := header.Checksum([]byte{byte(op), byte(status)}, 0)
	sum = header.Checksum(payload, sum)
	return sum ^ 0xffff
}

func (f *Frame) Valid() bool {
	return ComputeChecksum(f.Op, f.Status, f.Payload) == f.Checksum
}

func (f *Frame) Marshal() ([]byte, error) {
	if len(f.Payload) > MaxPayloadLen {
		return nil, errors.Wrapf(ErrFrameTooLarge, "%d bytes", len(f.Payload))
	}
	b := make([]byte, FrameHeaderLen+len(f.Payload))
	b[0] = byte(f.Op)
	b[1] = byte(f.Status)
	binary.BigEndian.PutUint16(b[2:4], f.Checksum)
	binary.BigEndian.PutUint32(b[4:8], uint32(len(f.Payload)))
	copy(b[FrameHeaderLen:], f.Payload)
	return b, nil
}

func WriteFrame(w io.Writer, f *Frame) error {
	b, err := f.Marshal()
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// ReadFrame reads one frame. The checksum is not verified here, callers use Valid.
func ReadFrame(r io.Reader) (*Frame, error) {
	var hdr [FrameHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(hdr[4:8])
	if length > MaxPayloadLen {
		return nil, errors.Wrapf(ErrFrameTooLarge, "%d bytes", length)
	}
	f := &Frame{
		Op:       Op(hdr[0]),
		Status:   Status(hdr[1]),
		Checksum: binary.BigEndian.Uint16(hdr[2:4]),
		Payload:  make([]byte, length),
	}
	if _, err := io.ReadFull(r, f.Payload); err != nil {
		return nil, errors.Wrapf(err, "reading %v payload", f.Op)
	}
	return f, nil
}
