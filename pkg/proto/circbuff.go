package proto

import (
	"github.com/pkg/errors"
)

var (
	ErrNotPowerOfTwo  = errors.New("capacity must be a nonzero power of 2")
	ErrBufferOverflow = errors.New("write overflow")
)

// ------|================|--------------------|
//     tail             head               capacity
// tail is the next byte to read, head the next byte to write. One slot always
// stays free, so head == tail means empty and the buffer holds capacity-1 bytes at most.

// CircBuff is not safe for concurrent use. The owner serializes access.
type CircBuff struct {
	buff     []byte
	capacity uint32
	mask     uint32
	head     uint32
	tail     uint32
}

func IsPowerOfTwo(n uint32) bool {
	return n != 0 && n&(n-1) == 0
}

func NewCircBuff(capacity uint32) (*CircBuff, error) {
	if !IsPowerOfTwo(capacity) {
		return nil, errors.Wrapf(ErrNotPowerOfTwo, "capacity %d", capacity)
	}
	return &CircBuff{
		buff:     make([]byte, capacity),
		capacity: capacity,
		mask:     capacity - 1,
	}, nil
}

// Number of unread bytes
func (cb *CircBuff) Occupancy() uint32 {
	return (cb.head - cb.tail) & cb.mask
}

// Number of bytes that can be written before the buffer is full
func (cb *CircBuff) FreeSpace() uint32 {
	return (cb.tail - cb.head - 1) & cb.mask
}

func (cb *CircBuff) Capacity() uint32 {
	return cb.capacity
}

func (cb *CircBuff) IsEmpty() bool {
	return cb.head == cb.tail
}

func (cb *CircBuff) Head() uint32 {
	return cb.head
}

func (cb *CircBuff) Tail() uint32 {
	return cb.tail
}

// Write copies all of buf into the buffer or nothing at all.
// The caller must make sure len(buf) <= FreeSpace().
func (cb *CircBuff) Write(buf []byte) (uint32, error) {
	if len(buf) > int(cb.FreeSpace()) {
		return 0, errors.Wrapf(ErrBufferOverflow, "%d bytes requested, %d free", len(buf), cb.FreeSpace())
	}
	n := uint32(len(buf))

	// 1. from head to the end of the storage
	toEnd := min(n, cb.capacity-cb.head)
	copy(cb.buff[cb.head:], buf[:toEnd])

	// 2. the rest wraps to the start
	copy(cb.buff, buf[toEnd:])

	cb.head = (cb.head + n) & cb.mask
	return n, nil
}

// Read removes up to max bytes in FIFO order and returns them in a new slice.
func (cb *CircBuff) Read(max uint32) []byte {
	n := min(max, cb.Occupancy())
	if n == 0 {
		return nil
	}
	buf := make([]byte, n)
	cb.copyOut(buf, n)
	cb.tail = (cb.tail + n) & cb.mask
	return buf
}

// ReadInto removes up to len(buf) bytes into buf.
func (cb *CircBuff) ReadInto(buf []byte) uint32 {
	n := cb.Occupancy()
	if uint64(len(buf)) < uint64(n) {
		n = uint32(len(buf))
	}
	cb.copyOut(buf, n)
	cb.tail = (cb.tail + n) & cb.mask
	return n
}

// Bytes returns a copy of the unread bytes without consuming them.
func (cb *CircBuff) Bytes() []byte {
	n := cb.Occupancy()
	if n == 0 {
		return nil
	}
	buf := make([]byte, n)
	cb.copyOut(buf, n)
	return buf
}

func (cb *CircBuff) copyOut(buf []byte, n uint32) {
	toEnd := min(n, cb.capacity-cb.tail)
	copy(buf, cb.buff[cb.tail:cb.tail+toEnd])
	copy(buf[toEnd:n], cb.buff[:n-toEnd])
}
