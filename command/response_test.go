package command

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rusher/mariadb-go/protoflags"
	"github.com/rusher/mariadb-go/wire"
)

func TestDecodeOKBasicFields(t *testing.T) {
	w := wire.NewWriter(1<<10, 0, false)
	w.WriteLength(3)
	w.WriteLength(17)
	w.WriteShort(uint16(protoflags.StatusAutocommit))
	w.WriteShort(2)
	payload := w.PayloadSince4()

	e := New(&Session{})
	r := wire.NewReader(payload)
	ok, err := e.decodeOK(r)
	assert.NoError(t, err)
	assert.Equal(t, uint64(3), ok.AffectedRows)
	assert.Equal(t, uint64(17), ok.LastInsertID)
	assert.Equal(t, uint16(2), ok.Warnings)
	assert.True(t, ok.ServerStatus.Has(protoflags.StatusAutocommit))
}

func TestDecodeOKProcessesSessionTrackSchema(t *testing.T) {
	sub := wire.NewWriter(64, 0, false)
	sub.WriteLengthEncodedString("newdb")
	schemaData := sub.PayloadSince4()

	tlv := wire.NewWriter(64, 0, false)
	tlv.WriteByte_(protoflags.SessionTrackSchema)
	tlv.WriteLengthEncodedBytes(schemaData)
	tlvBlock := tlv.PayloadSince4()

	w := wire.NewWriter(1<<10, 0, false)
	w.WriteLength(0)
	w.WriteLength(0)
	w.WriteShort(uint16(protoflags.StatusAutocommit | protoflags.StatusSessionStateChanged))
	w.WriteShort(0)
	w.WriteLengthEncodedString("") // info string
	w.WriteLength(uint64(len(tlvBlock)))
	w.WriteBytes(tlvBlock)
	payload := w.PayloadSince4()

	sess := &Session{Capabilities: protoflags.ClientSessionTrack}
	e := New(sess)
	r := wire.NewReader(payload)
	_, err := e.decodeOK(r)
	assert.NoError(t, err)
	assert.Equal(t, "newdb", sess.Database)
}

func TestDecodeErrPacketWithSqlstate(t *testing.T) {
	w := wire.NewWriter(1<<10, 0, false)
	w.WriteShort(1146)
	w.WriteByte_('#')
	w.WriteAscii("42S02")
	w.WriteUtf8("table doesn't exist")
	r := wire.NewReader(w.PayloadSince4())

	err := decodeErrPacket(r, "QUERY")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "table doesn't exist")
}

func TestDecodeErrPacketWithoutSqlstateMarker(t *testing.T) {
	w := wire.NewWriter(1<<10, 0, false)
	w.WriteShort(2013)
	w.WriteUtf8("lost connection")
	r := wire.NewReader(w.PayloadSince4())

	err := decodeErrPacket(r, "QUERY")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "lost connection")
}

func TestHandleLocalInfileWithNoSourceConfiguredSendsTerminator(t *testing.T) {
	conn := &fakeConn{}
	e := newEngine(conn)

	w := wire.NewWriter(64, 0, false)
	w.WriteNullTerminated([]byte("/etc/passwd"))
	r := wire.NewReader(w.PayloadSince4())

	err := e.handleLocalInfile(r)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "/etc/passwd")

	// a zero-length terminator packet was written to close the exchange
	sent := conn.toServer.Bytes()
	assert.Equal(t, []byte{0, 0, 0, 0}, sent[:4])
}

type stubInfileSource struct {
	content string
	err     error
}

func (s stubInfileSource) Open(filename string) (io.ReadCloser, error) {
	if s.err != nil {
		return nil, s.err
	}
	return io.NopCloser(strings.NewReader(s.content)), nil
}

func TestHandleLocalInfileStreamsFileThenSendsTerminator(t *testing.T) {
	conn := &fakeConn{}
	e := newEngine(conn)
	e.LocalInfile = stubInfileSource{content: "a,b,c\n1,2,3\n"}

	w := wire.NewWriter(64, 0, false)
	w.WriteNullTerminated([]byte("data.csv"))
	r := wire.NewReader(w.PayloadSince4())

	err := e.handleLocalInfile(r)
	assert.NoError(t, err)

	sent := conn.toServer.Bytes()
	assert.Contains(t, string(sent), "a,b,c")
	// ends with a zero-length terminator frame
	assert.Equal(t, []byte{0, 0, 0, 1}, sent[len(sent)-4:])
}

func TestHandleLocalInfileOpenErrorSendsTerminator(t *testing.T) {
	conn := &fakeConn{}
	e := newEngine(conn)
	e.LocalInfile = stubInfileSource{err: errors.New("permission denied")}

	w := wire.NewWriter(64, 0, false)
	w.WriteNullTerminated([]byte("data.csv"))
	r := wire.NewReader(w.PayloadSince4())

	err := e.handleLocalInfile(r)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
	sent := conn.toServer.Bytes()
	assert.Equal(t, []byte{0, 0, 0, 0}, sent[:4])
}
