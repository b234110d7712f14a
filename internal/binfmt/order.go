package binfmt

import (
	"encoding/binary"
	"math/bits"
	"unsafe"
)

// Order is the byte order a product declares for its multi-byte scalars.
type Order int

const (
	BigEndian Order = iota
	LittleEndian
)

func (o Order) String() string {
	if o == LittleEndian {
		return "little-endian"
	}
	return "big-endian"
}

// ByteOrder returns the encoding/binary order matching o.
func (o Order) ByteOrder() binary.ByteOrder {
	if o == LittleEndian {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// HostOrder reports the byte order of the running machine.
func HostOrder() Order { return hostOrder }

var hostOrder = probeHostOrder()

func probeHostOrder() Order {
	// 0x0100: a big-endian host stores 0x01 first.
	var i uint16 = 0x0100
	b := (*[2]byte)(unsafe.Pointer(&i))
	if b[0] == 0x01 {
		return BigEndian
	}
	return LittleEndian
}

// swapper reads and writes scalars in host order and byte-swaps them
// explicitly whenever the declared order differs from the host.
type swapper struct {
	swap bool
}

func newSwapper(declared Order) swapper {
	return swapper{swap: declared != hostOrder}
}

func (s swapper) uint16(b []byte) uint16 {
	v := binary.NativeEndian.Uint16(b)
	if s.swap {
		v = bits.ReverseBytes16(v)
	}
	return v
}

func (s swapper) uint32(b []byte) uint32 {
	v := binary.NativeEndian.Uint32(b)
	if s.swap {
		v = bits.ReverseBytes32(v)
	}
	return v
}

func (s swapper) uint64(b []byte) uint64 {
	v := binary.NativeEndian.Uint64(b)
	if s.swap {
		v = bits.ReverseBytes64(v)
	}
	return v
}

func (s swapper) putUint16(b []byte, v uint16) {
	if s.swap {
		v = bits.ReverseBytes16(v)
	}
	binary.NativeEndian.PutUint16(b, v)
}

func (s swapper) putUint32(b []byte, v uint32) {
	if s.swap {
		v = bits.ReverseBytes32(v)
	}
	binary.NativeEndian.PutUint32(b, v)
}

func (s swapper) putUint64(b []byte, v uint64) {
	if s.swap {
		v = bits.ReverseBytes64(v)
	}
	binary.NativeEndian.PutUint64(b, v)
}

// unsigned reads an unsigned integer of width 1, 2, 4 or 8 bytes.
func (s swapper) unsigned(b []byte, width int) uint64 {
	switch width {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(s.uint16(b))
	case 4:
		return uint64(s.uint32(b))
	default:
		return s.uint64(b)
	}
}

func (s swapper) putUnsigned(b []byte, width int, v uint64) {
	switch width {
	case 1:
		b[0] = byte(v)
	case 2:
		s.putUint16(b, uint16(v))
	case 4:
		s.putUint32(b, uint32(v))
	default:
		s.putUint64(b, v)
	}
}

// signExtend widens the low width bytes of v to a signed value.
func signExtend(v uint64, width int) int64 {
	shift := uint(64 - 8*width)
	return int64(v<<shift) >> shift
}
