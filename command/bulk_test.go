package command

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rusher/mariadb-go/packet"
	"github.com/rusher/mariadb-go/protoflags"
	"github.com/rusher/mariadb-go/stmtcache"
	"github.com/rusher/mariadb-go/wire"
)

func TestPipelineSendsAllThenReadsInOrder(t *testing.T) {
	conn := &fakeConn{}
	writeFrame(t, conn, 1, okPayload())
	writeFrame(t, conn, 1, okPayload())
	e := newEngine(conn)

	cmds := []PipelinedCommand{
		{Payload: append([]byte{protoflags.ComQuery}, []byte("SET a=1")...), ExpectedResp: 1, Description: "SET a=1"},
		{Payload: append([]byte{protoflags.ComQuery}, []byte("SET b=2")...), ExpectedResp: 1, Description: "SET b=2"},
	}
	outcomes, err := e.Pipeline(cmds)
	assert.NoError(t, err)
	assert.Len(t, outcomes, 2)
	assert.Equal(t, uint64(1), outcomes[0].Results[0].OK.AffectedRows)
	assert.Equal(t, uint64(1), outcomes[1].Results[0].OK.AffectedRows)
}

func TestPipelineStopsProducingOnFirstError(t *testing.T) {
	conn := &fakeConn{}
	w := wire.NewWriter(1<<10, 0, false)
	w.WriteByte_(protoflags.HeaderErr)
	w.WriteShort(1062)
	w.WriteByte_('#')
	w.WriteAscii("23000")
	w.WriteUtf8("duplicate key")
	writeFrame(t, conn, 1, w.PayloadSince4())
	writeFrame(t, conn, 1, okPayload())
	e := newEngine(conn)

	cmds := []PipelinedCommand{
		{Payload: append([]byte{protoflags.ComQuery}, []byte("INSERT INTO t VALUES (1)")...), ExpectedResp: 1},
		{Payload: append([]byte{protoflags.ComQuery}, []byte("INSERT INTO t VALUES (2)")...), ExpectedResp: 1},
	}
	_, err := e.Pipeline(cmds)
	assert.Error(t, err)
}

func TestExecutePreparedUsesCachedDescriptor(t *testing.T) {
	conn := &fakeConn{}
	writeFrame(t, conn, 1, okPayload())
	e := newEngine(conn)
	cache := stmtcache.New(4, nil)
	cache.Put("SELECT ? ", &stmtcache.Descriptor{StatementID: 11, SQL: "SELECT ? "})

	out, err := e.ExecutePrepared(cache, "SELECT ? ", []Param{{Value: int64(1)}})
	assert.NoError(t, err)
	assert.Len(t, out.Results, 1)

	sent := conn.toServer.Bytes()
	assert.Equal(t, protoflags.ComStmtExecute, sent[4])
}

func TestExecutePreparedPreparesOnCacheMissNonBulk(t *testing.T) {
	conn := &fakeConn{}
	w := wire.NewWriter(1<<10, 0, false)
	w.WriteByte_(protoflags.HeaderOK)
	w.WriteInt(3)
	w.WriteShort(0)
	w.WriteShort(1)
	w.WriteByte_(0)
	w.WriteShort(0)
	writeFrame(t, conn, 1, w.PayloadSince4())
	writeFrame(t, conn, 2, []byte{0x00})
	writeFrame(t, conn, 3, []byte{protoflags.HeaderEOF, 0, 0, 0, 0})
	writeFrame(t, conn, 1, okPayload())

	e := newEngine(conn)
	cache := stmtcache.New(4, nil)
	out, err := e.ExecutePrepared(cache, "SELECT ?", []Param{{Value: int64(5)}})
	assert.NoError(t, err)
	assert.Len(t, out.Results, 1)
	_, cached := cache.Get("SELECT ?")
	assert.True(t, cached)
}

func TestBulkExecuteFallsBackToPipelineWithoutBulkCapability(t *testing.T) {
	conn := &fakeConn{}
	writeFrame(t, conn, 1, okPayload())
	e := newEngine(conn)
	cache := stmtcache.New(4, nil)
	cache.Put("INSERT INTO t VALUES (?)", &stmtcache.Descriptor{StatementID: 1, SQL: "INSERT INTO t VALUES (?)"})
	writeFrame(t, conn, 1, okPayload())

	rows := []BulkRow{{{Value: int64(1)}}, {{Value: int64(2)}}}
	out, err := e.BulkExecute(cache, "INSERT INTO t VALUES (?)", rows, false, 0)
	assert.NoError(t, err)
	assert.Len(t, out.Results, 2)
}

func TestBulkExecuteViaProtocolSendsSingleTypeSignature(t *testing.T) {
	conn := &fakeConn{}
	writeFrame(t, conn, 1, okPayload())
	e := newEngine(conn)
	e.sess.Capabilities = protoflags.MariadbClientStmtBulkOperations
	cache := stmtcache.New(4, nil)
	cache.Put("INSERT INTO t VALUES (?)", &stmtcache.Descriptor{StatementID: 9, SQL: "INSERT INTO t VALUES (?)"})

	rows := []BulkRow{{{Value: int64(1)}}, {{Value: int64(2)}}}
	out, err := e.BulkExecute(cache, "INSERT INTO t VALUES (?)", rows, true, 0)
	assert.NoError(t, err)
	assert.Len(t, out.Results, 1)

	sent := conn.toServer.Bytes()
	assert.Equal(t, protoflags.ComStmtBulkExecute, sent[4])
}

func TestBulkExecuteViaProtocolCarriesOverflowingRowToContinuationPacket(t *testing.T) {
	conn := &fakeConn{}
	// one OK per BULK_EXECUTE packet.
	writeFrame(t, conn, 1, okPayload())
	writeFrame(t, conn, 1, okPayload())
	e := newEngine(conn)
	e.sess.Capabilities = protoflags.MariadbClientStmtBulkOperations
	cache := stmtcache.New(4, nil)
	cache.Put("INSERT INTO t VALUES (?)", &stmtcache.Descriptor{StatementID: 9, SQL: "INSERT INTO t VALUES (?)"})

	// A maxAllowedPacket small enough that the header plus one row fits
	// but a second row of the same packet does not, forcing the mid-row
	// overflow path in bulkExecuteViaProtocol.
	rows := []BulkRow{{{Value: int64(1)}}, {{Value: int64(2)}}}
	out, err := e.BulkExecute(cache, "INSERT INTO t VALUES (?)", rows, true, 20)
	assert.NoError(t, err)
	assert.Len(t, out.Results, 2)

	sentBuf := conn.toServer.Bytes()
	c := packet.New(bytes.NewBuffer(sentBuf))
	first, err := c.ReadPacket()
	assert.NoError(t, err)
	// the continuation packet is a new command, so its sequence restarts.
	c.ResetSequence()
	second, err := c.ReadPacket()
	assert.NoError(t, err)

	assert.Equal(t, protoflags.ComStmtBulkExecute, first[0])
	assert.Equal(t, protoflags.ComStmtBulkExecute, second[0])
	// the row that triggered the overflow must be carried into the
	// continuation packet, not dropped.
	assert.Contains(t, string(first), "\x00\x01\x00\x00\x00")
	assert.Contains(t, string(second), "\x00\x02\x00\x00\x00")
}
