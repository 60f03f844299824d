package wire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReaderFixedWidth(t *testing.T) {
	buf := []byte{0x2a, 0x01, 0x02, 0x03, 0x04, 0x05, 0xef, 0xbe, 0xad, 0xde}
	r := NewReader(buf)

	u8, err := r.U8()
	assert.NoError(t, err)
	assert.Equal(t, uint8(0x2a), u8)

	u24, err := r.U24()
	assert.NoError(t, err)
	assert.Equal(t, uint32(0x030201), u24)

	u32, err := r.U32()
	assert.NoError(t, err)
	assert.Equal(t, uint32(0xbeef0504), u32)
}

func TestReaderUnderflow(t *testing.T) {
	r := NewReader([]byte{0x01})
	_, err := r.U32()
	assert.Error(t, err)
}

func TestReaderLength(t *testing.T) {
	{
		r := NewReader([]byte{0x05})
		v, ok, err := r.Length()
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, uint64(5), v)
	}
	{
		r := NewReader([]byte{0xfb})
		_, ok, err := r.Length()
		assert.NoError(t, err)
		assert.False(t, ok)
	}
	{
		r := NewReader([]byte{0xfc, 0x00, 0x01})
		v, ok, err := r.Length()
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, uint64(256), v)
	}
}

func TestReaderCStrAndBytesLenc(t *testing.T) {
	r := NewReader([]byte("hello\x00\x03abc"))
	s, err := r.CStr()
	assert.NoError(t, err)
	assert.Equal(t, "hello", s)

	b, absent, err := r.BytesLenc()
	assert.NoError(t, err)
	assert.False(t, absent)
	assert.Equal(t, []byte("abc"), b)
}

func TestReaderDateLencBinaryZeroDate(t *testing.T) {
	r := NewReader([]byte{0x00})
	_, absent, err := r.DateLencBinary()
	assert.NoError(t, err)
	assert.True(t, absent)
}

func TestReaderTimeLencBinary(t *testing.T) {
	// length 8: sign(0) + days(0) + hour(1) + min(2) + sec(3)
	r := NewReader([]byte{0x08, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0x02, 0x03})
	d, absent, err := r.TimeLencBinary()
	assert.NoError(t, err)
	assert.False(t, absent)
	assert.Equal(t, time.Hour+2*time.Minute+3*time.Second, d)
}

func TestWriterLength(t *testing.T) {
	w := NewWriter(1<<16, 0, false)
	w.WriteLength(5)
	w.WriteLength(1000)
	payload := w.PayloadSince4()
	assert.Equal(t, byte(0x05), payload[0])
	assert.Equal(t, byte(0xfc), payload[1])
}

func TestWriterEscapedBackslash(t *testing.T) {
	w := NewWriter(1<<16, 0, false)
	w.WriteEscaped(`it's a "test"`)
	assert.Contains(t, string(w.PayloadSince4()), `it\'s a \"test\"`)
}

func TestWriterEscapedNoBackslash(t *testing.T) {
	w := NewWriter(1<<16, 0, true)
	w.WriteEscaped(`it's fine`)
	assert.Equal(t, "it''s fine", string(w.PayloadSince4()))
}

func TestWriterMarkAndFlushStopAtMark(t *testing.T) {
	w := NewWriter(1<<16, 0, false)
	w.WriteBytes([]byte("abc"))
	w.Mark()
	w.WriteBytes([]byte("def"))
	flushed := w.FlushStopAtMark()
	assert.Equal(t, []byte("abc"), flushed)
	assert.Equal(t, []byte("def"), w.PayloadSince4())
}

func TestWriterCheckMaxAllowedLength(t *testing.T) {
	w := NewWriter(1<<16, 10, false)
	w.AddCmdLength(5)
	assert.NoError(t, w.CheckMaxAllowedLength(4))
	assert.Error(t, w.CheckMaxAllowedLength(5))
}

func TestParseTextDate(t *testing.T) {
	tm, absent, err := ParseTextDate("2024-01-02 03:04:05")
	assert.NoError(t, err)
	assert.False(t, absent)
	assert.Equal(t, 2024, tm.Year())
	assert.Equal(t, 3, tm.Hour())
}

func TestParseTextDateZero(t *testing.T) {
	_, absent, err := ParseTextDate("0000-00-00")
	assert.NoError(t, err)
	assert.True(t, absent)
}

func TestFormatTextTimeNegative(t *testing.T) {
	d := -(2*time.Hour + 30*time.Minute)
	assert.Equal(t, "-02:30:00", FormatTextTime(d))
}

func TestRoundTripTextDateTime(t *testing.T) {
	in := time.Date(2023, 6, 15, 12, 30, 45, 0, time.UTC)
	s := FormatTextDateTime(in)
	out, absent, err := ParseTextDate(s)
	assert.NoError(t, err)
	assert.False(t, absent)
	assert.True(t, in.Equal(out))
}
