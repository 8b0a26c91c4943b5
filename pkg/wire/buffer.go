package wire

import (
	"encoding/binary"
	"math"

	"github.com/rotisserie/eris"
)

type writer struct {
	b   []byte
	err error
}

func newWriter(kind Kind, size int) *writer {
	w := &writer{b: make([]byte, 0, size+1)}
	w.u8(uint8(kind))
	return w
}

func (w *writer) u8(v uint8) {
	w.b = append(w.b, v)
}

func (w *writer) boolean(v bool) {
	if v {
		w.u8(1)
	} else {
		w.u8(0)
	}
}

func (w *writer) u16(v uint16) {
	w.b = binary.LittleEndian.AppendUint16(w.b, v)
}

func (w *writer) u64(v uint64) {
	w.b = binary.LittleEndian.AppendUint64(w.b, v)
}

func (w *writer) count8(n int, what string) {
	if n > math.MaxUint8 {
		w.fail(eris.Wrapf(ErrTooLarge, "%d %s, at most %d", n, what, math.MaxUint8))
		return
	}
	w.u8(uint8(n))
}

func (w *writer) count16(n int, what string) {
	if n > math.MaxUint16 {
		w.fail(eris.Wrapf(ErrTooLarge, "%d %s, at most %d", n, what, math.MaxUint16))
		return
	}
	w.u16(uint16(n))
}

// value writes a u16 length followed by the raw encoded value.
func (w *writer) value(data []byte) {
	w.count16(len(data), "value bytes")
	w.b = append(w.b, data...)
}

func (w *writer) fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

func (w *writer) bytes() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	return w.b, nil
}

// reader tracks the first error; after a failure every read returns zero.
type reader struct {
	b   []byte
	off int
	err error
}

func (r *reader) need(n int, what string) bool {
	if r.err != nil {
		return false
	}
	if len(r.b)-r.off < n {
		r.err = eris.Wrapf(ErrShortBuffer, "reading %s at offset %d", what, r.off)
		return false
	}
	return true
}

func (r *reader) u8(what string) uint8 {
	if !r.need(1, what) {
		return 0
	}
	v := r.b[r.off]
	r.off++
	return v
}

func (r *reader) boolean(what string) bool {
	return r.u8(what) != 0
}

func (r *reader) u16(what string) uint16 {
	if !r.need(2, what) {
		return 0
	}
	v := binary.LittleEndian.Uint16(r.b[r.off:])
	r.off += 2
	return v
}

func (r *reader) u64(what string) uint64 {
	if !r.need(8, what) {
		return 0
	}
	v := binary.LittleEndian.Uint64(r.b[r.off:])
	r.off += 8
	return v
}

func (r *reader) value(what string) []byte {
	n := int(r.u16(what + " length"))
	if !r.need(n, what) {
		return nil
	}
	v := r.b[r.off : r.off+n : r.off+n]
	r.off += n
	return v
}

func (r *reader) rest() []byte {
	if r.err != nil {
		return nil
	}
	v := r.b[r.off:]
	r.off = len(r.b)
	return v
}

func (r *reader) done() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.b) {
		return eris.Wrapf(ErrTrailingBytes, "%d bytes", len(r.b)-r.off)
	}
	return nil
}
