package packet

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriteReadSmallPacket(t *testing.T) {
	buf := &bytes.Buffer{}
	c := New(buf)
	assert.NoError(t, c.WritePacket([]byte("select 1")))

	c2 := New(buf)
	payload, err := c2.ReadPacket()
	assert.NoError(t, err)
	assert.Equal(t, []byte("select 1"), payload)
}

func TestReadPacketOutOfOrderSequence(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.Write([]byte{0x01, 0x00, 0x00, 0x05, 'h'})
	c := New(buf)
	_, err := c.ReadPacket()
	assert.Error(t, err)
}

func TestWritePacketMultiSegment(t *testing.T) {
	buf := &bytes.Buffer{}
	c := New(buf)
	payload := bytes.Repeat([]byte{'x'}, maxSegment+10)
	assert.NoError(t, c.WritePacket(payload))

	c2 := New(buf)
	got, err := c2.ReadPacket()
	assert.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestWritePacketEmptyPayloadRoundTrip(t *testing.T) {
	buf := &bytes.Buffer{}
	c := New(buf)
	// an empty payload is written as one zero-length frame and reads back
	// as an empty payload.
	assert.NoError(t, c.WritePacket(nil))

	c2 := New(buf)
	got, err := c2.ReadPacket()
	assert.NoError(t, err)
	assert.Empty(t, got)
}

func TestResetAndSetSequence(t *testing.T) {
	c := New(&bytes.Buffer{})
	c.SetSequence(3)
	assert.Equal(t, byte(3), c.NextSequence())
	c.ResetSequence()
	assert.Equal(t, byte(0), c.NextSequence())
}
