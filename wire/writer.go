package wire

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/rusher/mariadb-go/merr"
)

// growth stages for the writer's packet-local buffer.
const (
	growStage0 = 8 * 1024
	growStage1 = 128 * 1024
	growStage2 = 1024 * 1024
)

// Writer accumulates one command's payload across possibly many packets.
// It reserves the first 4 bytes of the buffer for a frame header;
// PayloadSince4 returns the bytes after them, and packet.Codec writes its
// own header when sending that payload.
type Writer struct {
	buf              []byte
	pos              int
	mark             int
	maxPacketLength  int
	maxAllowedPacket int
	cmdLength        int
	noBackslash      bool
}

// NewWriter allocates the initial 8 KiB stage and reserves the header.
func NewWriter(maxPacketLength, maxAllowedPacket int, noBackslashEscapes bool) *Writer {
	w := &Writer{
		buf:              make([]byte, growStage0),
		pos:              4,
		mark:             -1,
		maxPacketLength:  maxPacketLength,
		maxAllowedPacket: maxAllowedPacket,
		noBackslash:      noBackslashEscapes,
	}
	return w
}

func (w *Writer) Len() int { return w.pos }

func (w *Writer) grow(extra int) {
	need := w.pos + extra
	if need <= len(w.buf) {
		return
	}
	newCap := len(w.buf)
	for _, stage := range []int{growStage0, growStage1, growStage2, w.maxPacketLength} {
		if stage > newCap {
			newCap = stage
		}
		if newCap >= need {
			break
		}
	}
	for newCap < need {
		newCap *= 2
	}
	nb := make([]byte, newCap)
	copy(nb, w.buf[:w.pos])
	w.buf = nb
}

func (w *Writer) WriteByte_(b byte) { w.grow(1); w.buf[w.pos] = b; w.pos++ }

func (w *Writer) WriteBytes(b []byte) {
	w.grow(len(b))
	copy(w.buf[w.pos:], b)
	w.pos += len(b)
}

func (w *Writer) WriteShort(v uint16) {
	w.grow(2)
	binary.LittleEndian.PutUint16(w.buf[w.pos:], v)
	w.pos += 2
}

func (w *Writer) WriteU24(v uint32) {
	w.grow(3)
	w.buf[w.pos] = byte(v)
	w.buf[w.pos+1] = byte(v >> 8)
	w.buf[w.pos+2] = byte(v >> 16)
	w.pos += 3
}

func (w *Writer) WriteInt(v uint32) {
	w.grow(4)
	binary.LittleEndian.PutUint32(w.buf[w.pos:], v)
	w.pos += 4
}

func (w *Writer) WriteLong(v uint64) {
	w.grow(8)
	binary.LittleEndian.PutUint64(w.buf[w.pos:], v)
	w.pos += 8
}

func (w *Writer) WriteFloat(v float32) { w.WriteInt(math.Float32bits(v)) }
func (w *Writer) WriteDouble(v float64) { w.WriteLong(math.Float64bits(v)) }

func (w *Writer) WriteAscii(s string) { w.WriteBytes([]byte(s)) }
func (w *Writer) WriteUtf8(s string)  { w.WriteBytes([]byte(s)) }

func (w *Writer) WriteNullTerminated(b []byte) {
	w.WriteBytes(b)
	w.WriteByte_(0)
}

// WriteLength writes n as a canonical MariaDB length-encoded integer.
func (w *Writer) WriteLength(n uint64) {
	switch {
	case n < 0xfb:
		w.WriteByte_(byte(n))
	case n < 1<<16:
		w.WriteByte_(0xfc)
		w.WriteShort(uint16(n))
	case n < 1<<24:
		w.WriteByte_(0xfd)
		w.WriteU24(uint32(n))
	default:
		w.WriteByte_(0xfe)
		w.WriteLong(n)
	}
}

func (w *Writer) WriteLengthEncodedBytes(b []byte) {
	w.WriteLength(uint64(len(b)))
	w.WriteBytes(b)
}

func (w *Writer) WriteLengthEncodedString(s string) {
	w.WriteLengthEncodedBytes([]byte(s))
}

// WriteEscaped SQL-escapes str: doubles a single quote
// when NO_BACKSLASH_ESCAPES is set, otherwise backslash-escapes
// ' " \ and NUL.
func (w *Writer) WriteEscaped(str string) {
	w.grow(len(str) + 16)
	if w.noBackslash {
		for i := 0; i < len(str); i++ {
			c := str[i]
			if c == '\'' {
				w.WriteByte_('\'')
			}
			w.WriteByte_(c)
		}
		return
	}
	for i := 0; i < len(str); i++ {
		switch c := str[i]; c {
		case '\'', '"', '\\':
			w.WriteByte_('\\')
			w.WriteByte_(c)
		case 0:
			w.WriteByte_('\\')
			w.WriteByte_('0')
		default:
			w.WriteByte_(c)
		}
	}
}

func (w *Writer) WriteDate(t time.Time) {
	w.WriteUtf8(FormatTextDate(t))
}

func (w *Writer) WriteDateTime(t time.Time) {
	w.WriteUtf8(FormatTextDateTime(t))
}

func (w *Writer) WriteTime(d time.Duration) {
	w.WriteUtf8(FormatTextTime(d))
}

// Mark captures a commit point inside the buffer: the bulk encoder uses it
// to know how much of the in-progress packet can be flushed as a complete
// unit versus must carry over.
func (w *Writer) Mark() { w.mark = w.pos }

func (w *Writer) ResetMark() { w.mark = -1 }

func (w *Writer) HasMark() bool { return w.mark >= 0 }

// PayloadSince4 returns the accumulated payload bytes (header excluded).
func (w *Writer) PayloadSince4() []byte { return w.buf[4:w.pos] }

// Truncate resets the writer to an empty payload, keeping the allocated
// buffer (used between pipelined commands to avoid reallocating).
func (w *Writer) Truncate() {
	w.pos = 4
	w.mark = -1
}

// FlushStopAtMark returns everything buffered up to the mark as a
// complete packet payload, then shifts the unflushed tail back to offset 4
// so the writer can keep accumulating a continuation packet.
// It panics if no mark was set; callers only call this after Mark().
func (w *Writer) FlushStopAtMark() (flushed []byte) {
	flushed = make([]byte, w.mark-4)
	copy(flushed, w.buf[4:w.mark])
	tail := w.pos - w.mark
	copy(w.buf[4:4+tail], w.buf[w.mark:w.pos])
	w.pos = 4 + tail
	w.mark = -1
	return flushed
}

// CheckMaxAllowedLength reports whether a write would push the cumulative
// command length at or past max_allowed_packet fails the command locally,
// with nothing sent.
func (w *Writer) CheckMaxAllowedLength(additionalPayload int) error {
	if w.maxAllowedPacket <= 0 {
		return nil
	}
	if w.cmdLength+additionalPayload >= w.maxAllowedPacket {
		return merr.MaxAllowedPacket(w.cmdLength, additionalPayload, w.maxAllowedPacket)
	}
	return nil
}

func (w *Writer) AddCmdLength(n int) { w.cmdLength += n }
func (w *Writer) CmdLength() int     { return w.cmdLength }
func (w *Writer) ResetCmdLength()    { w.cmdLength = 0 }
