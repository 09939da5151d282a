package wire

import (
	"encoding/binary"
	"math"
	"unicode/utf16"
	"unicode/utf8"
)

type (
	// Writer appends fields to a fixed capacity buffer.
	Writer struct {
		buf []byte
		off int
	}

	// Reader consumes fields from a single payload.
	Reader struct {
		buf []byte
		off int
	}
)

var le = binary.LittleEndian

// Size helpers mirror the layout written by the Writer, messages use them to
// compute MaxSize.

func SizeArray(n, elem int) int { return 2 + n*elem }
func SizeStringA(s string) int  { return 2 + len(s) }
func SizeStringW(s string) int  { return 2 + 2*len(utf16.Encode([]rune(s))) }

func NewWriter(buf []byte) *Writer { return &Writer{buf: buf} }

// Len is the number of bytes written so far.
func (w *Writer) Len() int { return w.off }

func (w *Writer) Bytes() []byte { return w.buf[:w.off] }

func (w *Writer) reserve(n int) ([]byte, error) {
	if n < 0 || w.off+n > len(w.buf) {
		return nil, ErrShortBuffer
	}
	b := w.buf[w.off : w.off+n]
	w.off += n
	return b, nil
}

func (w *Writer) U8(v uint8) error {
	b, err := w.reserve(1)
	if err != nil {
		return err
	}
	b[0] = v
	return nil
}

func (w *Writer) Bool(v bool) error {
	if v {
		return w.U8(1)
	}
	return w.U8(0)
}

func (w *Writer) U16(v uint16) error {
	b, err := w.reserve(2)
	if err != nil {
		return err
	}
	le.PutUint16(b, v)
	return nil
}

func (w *Writer) U32(v uint32) error {
	b, err := w.reserve(4)
	if err != nil {
		return err
	}
	le.PutUint32(b, v)
	return nil
}

func (w *Writer) U64(v uint64) error {
	b, err := w.reserve(8)
	if err != nil {
		return err
	}
	le.PutUint64(b, v)
	return nil
}

func (w *Writer) I32(v int32) error   { return w.U32(uint32(v)) }
func (w *Writer) I64(v int64) error   { return w.U64(uint64(v)) }
func (w *Writer) F32(v float32) error { return w.U32(math.Float32bits(v)) }
func (w *Writer) F64(v float64) error { return w.U64(math.Float64bits(v)) }

// Fixed copies v verbatim, without a length prefix.
func (w *Writer) Fixed(v []byte) error {
	b, err := w.reserve(len(v))
	if err != nil {
		return err
	}
	copy(b, v)
	return nil
}

func (w *Writer) UUID(v [16]byte) error { return w.Fixed(v[:]) }

func (w *Writer) count(n int) error {
	if n > math.MaxUint16 {
		return ErrArrayTooLong
	}
	return w.U16(uint16(n))
}

// Bytes8 writes a counted array of bytes.
func (w *Writer) Bytes8(v []byte) error {
	if err := w.count(len(v)); err != nil {
		return err
	}
	return w.Fixed(v)
}

func (w *Writer) U32s(v []uint32) error {
	if err := w.count(len(v)); err != nil {
		return err
	}
	for _, x := range v {
		if err := w.U32(x); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) F32s(v []float32) error {
	if err := w.count(len(v)); err != nil {
		return err
	}
	for _, x := range v {
		if err := w.F32(x); err != nil {
			return err
		}
	}
	return nil
}

// StringA writes s with one byte per unit.
func (w *Writer) StringA(s string) error {
	if err := w.count(len(s)); err != nil {
		return err
	}
	b, err := w.reserve(len(s))
	if err != nil {
		return err
	}
	copy(b, s)
	return nil
}

// StringW writes s as UTF-16 code units. s must be valid UTF-8.
func (w *Writer) StringW(s string) error {
	if !utf8.ValidString(s) {
		return ErrInvalidString
	}
	units := utf16.Encode([]rune(s))
	if err := w.count(len(units)); err != nil {
		return err
	}
	for _, u := range units {
		if err := w.U16(u); err != nil {
			return err
		}
	}
	return nil
}

func NewReader(buf []byte) *Reader { return &Reader{buf: buf} }

// Remaining is the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

// Rest consumes and returns every unread byte.
func (r *Reader) Rest() []byte {
	b := r.buf[r.off:]
	r.off = len(r.buf)
	return b
}

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || r.off+n > len(r.buf) {
		return nil, ErrTruncated
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *Reader) U8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) Bool() (bool, error) {
	v, err := r.U8()
	return v != 0, err
}

func (r *Reader) U16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return le.Uint16(b), nil
}

func (r *Reader) U32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return le.Uint32(b), nil
}

func (r *Reader) U64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return le.Uint64(b), nil
}

func (r *Reader) I32() (int32, error) {
	v, err := r.U32()
	return int32(v), err
}

func (r *Reader) I64() (int64, error) {
	v, err := r.U64()
	return int64(v), err
}

func (r *Reader) F32() (float32, error) {
	v, err := r.U32()
	return math.Float32frombits(v), err
}

func (r *Reader) F64() (float64, error) {
	v, err := r.U64()
	return math.Float64frombits(v), err
}

// Fixed copies exactly len(out) bytes into out.
func (r *Reader) Fixed(out []byte) error {
	b, err := r.take(len(out))
	if err != nil {
		return err
	}
	copy(out, b)
	return nil
}

func (r *Reader) UUID() (v [16]byte, err error) {
	err = r.Fixed(v[:])
	return
}

func (r *Reader) Bytes8() ([]byte, error) {
	n, err := r.U16()
	if err != nil {
		return nil, err
	}
	b, err := r.take(int(n))
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

func (r *Reader) U32s() ([]uint32, error) {
	n, err := r.U16()
	if err != nil {
		return nil, err
	}
	if int(n)*4 > r.Remaining() {
		return nil, ErrTruncated
	}
	out := make([]uint32, n)
	for i := range out {
		if out[i], err = r.U32(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *Reader) F32s() ([]float32, error) {
	n, err := r.U16()
	if err != nil {
		return nil, err
	}
	if int(n)*4 > r.Remaining() {
		return nil, ErrTruncated
	}
	out := make([]float32, n)
	for i := range out {
		if out[i], err = r.F32(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *Reader) StringA() (string, error) {
	n, err := r.U16()
	if err != nil {
		return "", err
	}
	b, err := r.take(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *Reader) StringW() (string, error) {
	n, err := r.U16()
	if err != nil {
		return "", err
	}
	if int(n)*2 > r.Remaining() {
		return "", ErrTruncated
	}
	units := make([]uint16, n)
	for i := range units {
		if units[i], err = r.U16(); err != nil {
			return "", err
		}
	}
	return string(utf16.Decode(units)), nil
}
