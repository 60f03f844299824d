// Package packet implements PacketCodec, the framing layer between
// transport.Transport and everything above it: a 4-byte frame header
// (3-byte little-endian length plus 1-byte sequence number) wraps every
// payload, with a stateful codec that reassembles multi-segment payloads
// and tracks the sequence number across an entire command/response
// exchange.
package packet

import (
	"io"

	"github.com/rusher/mariadb-go/merr"
)

// HeaderLen is the fixed 4-byte frame header: 3-byte LE payload length
// plus 1-byte sequence number.
const HeaderLen = 4

// Codec reads and writes length-prefixed frames over an io.Reader/io.Writer
// (typically a transport.Transport), reassembling payloads that span
// multiple MaxPacketSegment-sized frames and tracking the sequence number
// both directions must agree on.
type Codec struct {
	rw  io.ReadWriter
	seq byte
}

func New(rw io.ReadWriter) *Codec {
	return &Codec{rw: rw}
}

// ResetSequence starts a new command/response exchange at sequence 0.
func (c *Codec) ResetSequence() { c.seq = 0 }

func (c *Codec) NextSequence() byte { return c.seq }

// SetSequence forces the next expected/sent sequence number, used by the
// auth handshake where the server, not the client, sends sequence 0.
func (c *Codec) SetSequence(n byte) { c.seq = n }

// ReadPacket reads one logical packet, reassembling it from as many
// on-wire frames as necessary.
func (c *Codec) ReadPacket() ([]byte, error) {
	var payload []byte
	for {
		hdr := make([]byte, HeaderLen)
		if _, err := io.ReadFull(c.rw, hdr); err != nil {
			return nil, merr.Connection(err, "reading packet header")
		}
		length := int(hdr[0]) | int(hdr[1])<<8 | int(hdr[2])<<16
		seq := hdr[3]
		if seq != c.seq {
			return nil, merr.Connection(nil,
				"out-of-order packet sequence: expected %d, got %d", c.seq, seq)
		}
		c.seq++

		body := make([]byte, length)
		if length > 0 {
			if _, err := io.ReadFull(c.rw, body); err != nil {
				return nil, merr.Connection(err, "reading packet body")
			}
		}
		payload = append(payload, body...)

		if length < maxSegment {
			return payload, nil
		}
		// length == maxSegment: more frames follow, possibly terminated by
		// a zero-length frame.
	}
}

const maxSegment = 1<<24 - 1

// WritePacket splits payload into as many maxSegment-sized frames as
// necessary, writing a trailing zero-length frame when the final segment
// would otherwise be ambiguous with a "more data follows" frame. Each frame's sequence number is consumed from and incremented on c.
func (c *Codec) WritePacket(payload []byte) error {
	if len(payload) == 0 {
		if err := c.writeFrame(nil); err != nil {
			return err
		}
		return nil
	}
	for len(payload) > 0 {
		n := len(payload)
		if n > maxSegment {
			n = maxSegment
		}
		if err := c.writeFrame(payload[:n]); err != nil {
			return err
		}
		payload = payload[n:]
		if n == maxSegment && len(payload) == 0 {
			// exact multiple of maxSegment: terminate with an empty frame
			// so the reader knows not to expect a continuation.
			if err := c.writeFrame(nil); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Codec) writeFrame(body []byte) error {
	hdr := make([]byte, HeaderLen)
	length := len(body)
	hdr[0] = byte(length)
	hdr[1] = byte(length >> 8)
	hdr[2] = byte(length >> 16)
	hdr[3] = c.seq
	c.seq++

	if _, err := c.rw.Write(hdr); err != nil {
		return merr.Connection(err, "writing packet header")
	}
	if length > 0 {
		if _, err := c.rw.Write(body); err != nil {
			return merr.Connection(err, "writing packet body")
		}
	}
	return nil
}
