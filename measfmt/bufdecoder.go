package measfmt

import (
	"encoding/binary"
	"math"
)

// bufDecoder is a forward-only cursor over a measurement file's bytes,
// copied from the teacher's perffile/bufdecoder.go idiom (itself derived
// from the Go project's pprof-adjacent tooling) and generalized to the
// big-endian wire format the measurement-file header's byte-order marker
// selects (spec §4.2: "byte-order marker").
type bufDecoder struct {
	buf   []byte
	order binary.ByteOrder
}

func (b *bufDecoder) len() int { return len(b.buf) }

func (b *bufDecoder) skip(n int) {
	b.buf = b.buf[n:]
}

func (b *bufDecoder) bytes(n int) []byte {
	x := b.buf[:n]
	b.buf = b.buf[n:]
	return x
}

func (b *bufDecoder) u8() uint8 {
	x := b.buf[0]
	b.buf = b.buf[1:]
	return x
}

func (b *bufDecoder) u16() uint16 {
	x := b.order.Uint16(b.buf)
	b.buf = b.buf[2:]
	return x
}

func (b *bufDecoder) u32() uint32 {
	x := b.order.Uint32(b.buf)
	b.buf = b.buf[4:]
	return x
}

func (b *bufDecoder) u64() uint64 {
	x := b.order.Uint64(b.buf)
	b.buf = b.buf[8:]
	return x
}

func (b *bufDecoder) f64() float64 {
	return math.Float64frombits(b.u64())
}

func (b *bufDecoder) cstring() string {
	for i, c := range b.buf {
		if c == 0 {
			x := string(b.buf[:i])
			b.buf = b.buf[i+1:]
			return x
		}
	}
	x := string(b.buf)
	b.buf = nil
	return x
}

func (b *bufDecoder) lenString() string {
	l := b.u32()
	if uint64(l) > uint64(len(b.buf)) {
		l = uint32(len(b.buf))
	}
	s := string(b.buf[:l])
	b.buf = b.buf[l:]
	return s
}
