// Package wire implements a reader and a writer over a contiguous byte
// buffer, wrapping the (buf, pos, limit) cursor that would otherwise be
// threaded as an explicit argument through every call into stateful
// types.
package wire

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/rusher/mariadb-go/merr"
)

// Reader holds (buf, pos, limit). Every fixed-width or
// length-encoded read advances pos and fails with merr.TruncatedPacket on
// underflow; methods can no longer be called with a stale cursor.
type Reader struct {
	buf   []byte
	pos   int
	limit int
}

// NewReader wraps buf for reading from offset 0 to len(buf).
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf, pos: 0, limit: len(buf)}
}

func (r *Reader) Remaining() int { return r.limit - r.pos }
func (r *Reader) Pos() int       { return r.pos }
func (r *Reader) Bytes() []byte  { return r.buf }

func (r *Reader) need(n int) error {
	if r.pos+n > r.limit {
		return merr.TruncatedPacket(n, r.limit-r.pos)
	}
	return nil
}

func (r *Reader) U8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *Reader) I8() (int8, error) {
	v, err := r.U8()
	return int8(v), err
}

func (r *Reader) U16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *Reader) I16() (int16, error) {
	v, err := r.U16()
	return int16(v), err
}

func (r *Reader) U24() (uint32, error) {
	if err := r.need(3); err != nil {
		return 0, err
	}
	v := uint32(r.buf[r.pos]) | uint32(r.buf[r.pos+1])<<8 | uint32(r.buf[r.pos+2])<<16
	r.pos += 3
	return v, nil
}

func (r *Reader) I24() (int32, error) {
	v, err := r.U24()
	if v&0x800000 != 0 {
		return int32(v) - 0x1000000, err
	}
	return int32(v), err
}

func (r *Reader) U32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *Reader) I32() (int32, error) {
	v, err := r.U32()
	return int32(v), err
}

func (r *Reader) U64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
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

// F64BE reads a big-endian double, used only for the geometry column type.
func (r *Reader) F64BE() (float64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return math.Float64frombits(v), nil
}

// Length reads a MariaDB length-encoded integer.
// ok reports whether the value is present; it is false for a NULL marker
// (0xfb).
func (r *Reader) Length() (value uint64, ok bool, err error) {
	b, err := r.U8()
	if err != nil {
		return 0, false, err
	}
	switch {
	case b < 0xfb:
		return uint64(b), true, nil
	case b == 0xfb:
		return 0, false, nil
	case b == 0xfc:
		v, err := r.U16()
		return uint64(v), true, err
	case b == 0xfd:
		v, err := r.U24()
		return uint64(v), true, err
	default: // 0xfe
		v, err := r.U64()
		return v, true, err
	}
}

// LengthNotNull is Length but treats 0xfb as a protocol violation rather
// than NULL.
func (r *Reader) LengthNotNull() (uint64, error) {
	v, ok, err := r.Length()
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, merr.Connection(nil, "unexpected NULL marker in non-nullable length-encoded field")
	}
	return v, nil
}

// StringLenc reads a length-encoded string; absent is true on a NULL
// marker.
func (r *Reader) StringLenc() (s string, absent bool, err error) {
	b, absent, err := r.BytesLenc()
	return string(b), absent, err
}

func (r *Reader) BytesLenc() (b []byte, absent bool, err error) {
	n, ok, err := r.Length()
	if err != nil || !ok {
		return nil, !ok, err
	}
	if err := r.need(int(n)); err != nil {
		return nil, false, err
	}
	b = r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return b, false, nil
}

func (r *Reader) Ascii(n int) (string, error) {
	if err := r.need(n); err != nil {
		return "", err
	}
	s := string(r.buf[r.pos : r.pos+n])
	r.pos += n
	return s, nil
}

func (r *Reader) Utf8(n int) (string, error) {
	return r.Ascii(n)
}

// CStr reads a null-terminated string.
func (r *Reader) CStr() (string, error) {
	start := r.pos
	for r.pos < r.limit && r.buf[r.pos] != 0 {
		r.pos++
	}
	if r.pos >= r.limit {
		return "", merr.TruncatedPacket(1, 0)
	}
	s := string(r.buf[start:r.pos])
	r.pos++ // skip NUL
	return s, nil
}

// TailUtf8 reads every remaining byte as UTF-8 text.
func (r *Reader) TailUtf8() string {
	s := string(r.buf[r.pos:r.limit])
	r.pos = r.limit
	return s
}

func (r *Reader) Skip(n int) error {
	if err := r.need(n); err != nil {
		return err
	}
	r.pos += n
	return nil
}

func (r *Reader) Peek() (byte, bool) {
	if r.pos >= r.limit {
		return 0, false
	}
	return r.buf[r.pos], true
}

func (r *Reader) FixedBytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// zero date/time sentinel: a length-encoded temporal value whose date
// fields are all zero decodes to "absent".
func isZeroDate(year int, month, day uint8) bool {
	return year == 0 && month == 0 && day == 0
}

// DateLencBinary reads a length-encoded DATE in the binary packed form
// (year u16, month, day; any further bytes are skipped). A zero length or
// an all-zero date decodes to absent. Textual dates go through
// ParseTextDate instead.
func (r *Reader) DateLencBinary() (t time.Time, absent bool, err error) {
	n, ok, err := r.Length()
	if err != nil || !ok || n == 0 {
		return time.Time{}, true, err
	}
	year, err := r.U16()
	if err != nil {
		return time.Time{}, false, err
	}
	month, err := r.U8()
	if err != nil {
		return time.Time{}, false, err
	}
	day, err := r.U8()
	if err != nil {
		return time.Time{}, false, err
	}
	if err := r.Skip(int(n) - 4); err != nil {
		return time.Time{}, false, err
	}
	if isZeroDate(int(year), month, day) {
		return time.Time{}, true, nil
	}
	return time.Date(int(year), time.Month(month), int(day), 0, 0, 0, 0, time.UTC), false, nil
}

// DateTimeLencBinary reads a 0/4/7/11-byte packed binary datetime/timestamp
// value as specified by the MariaDB binary row protocol.
func (r *Reader) DateTimeLencBinary() (t time.Time, absent bool, err error) {
	n, ok, err := r.Length()
	if err != nil || !ok {
		return time.Time{}, true, err
	}
	if n == 0 {
		return time.Time{}, true, nil
	}
	year, err := r.U16()
	if err != nil {
		return time.Time{}, false, err
	}
	month, err := r.U8()
	if err != nil {
		return time.Time{}, false, err
	}
	day, err := r.U8()
	if err != nil {
		return time.Time{}, false, err
	}
	var hour, min, sec uint8
	var micros uint32
	if n >= 7 {
		if hour, err = r.U8(); err != nil {
			return time.Time{}, false, err
		}
		if min, err = r.U8(); err != nil {
			return time.Time{}, false, err
		}
		if sec, err = r.U8(); err != nil {
			return time.Time{}, false, err
		}
	}
	if n >= 11 {
		if micros, err = r.U32(); err != nil {
			return time.Time{}, false, err
		}
	}
	if err := r.Skip(int(n) - lengthConsumedForDatetime(n)); err != nil {
		return time.Time{}, false, err
	}
	if isZeroDate(int(year), month, day) {
		return time.Time{}, true, nil
	}
	return time.Date(int(year), time.Month(month), int(day), int(hour), int(min), int(sec), int(micros)*1000, time.UTC), false, nil
}

func lengthConsumedForDatetime(n uint64) int {
	switch {
	case n >= 11:
		return 11
	case n >= 7:
		return 7
	default:
		return 4
	}
}

// TimeLencBinary reads the 0/8/12-byte packed binary TIME value: sign
// byte, 4-byte day count, hour/min/sec, optional 4-byte microseconds.
func (r *Reader) TimeLencBinary() (d time.Duration, absent bool, err error) {
	n, ok, err := r.Length()
	if err != nil || !ok || n == 0 {
		return 0, true, err
	}
	sign, err := r.U8()
	if err != nil {
		return 0, false, err
	}
	days, err := r.U32()
	if err != nil {
		return 0, false, err
	}
	hour, err := r.U8()
	if err != nil {
		return 0, false, err
	}
	min, err := r.U8()
	if err != nil {
		return 0, false, err
	}
	sec, err := r.U8()
	if err != nil {
		return 0, false, err
	}
	var micros uint32
	if n >= 12 {
		if micros, err = r.U32(); err != nil {
			return 0, false, err
		}
	}
	total := time.Duration(days)*24*time.Hour +
		time.Duration(hour)*time.Hour +
		time.Duration(min)*time.Minute +
		time.Duration(sec)*time.Second +
		time.Duration(micros)*time.Microsecond
	if sign != 0 {
		total = -total
	}
	return total, false, nil
}
