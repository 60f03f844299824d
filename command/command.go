// Package command implements CommandEngine: encoding
// every command opcode, decoding the response-stream state machine, and
// the prepared/bulk/pipelining/long-data logic layered on top of it. An OK
// packet's fields decode in server order — affected_rows, last_insert_id,
// server_status, warnings — followed by the SESSION_TRACK TLVs present
// when ClientSessionTrack was negotiated.
package command

import (
	"github.com/rusher/mariadb-go/column"
	"github.com/rusher/mariadb-go/merr"
	"github.com/rusher/mariadb-go/mlog"
	"github.com/rusher/mariadb-go/packet"
	"github.com/rusher/mariadb-go/protoflags"
	"github.com/rusher/mariadb-go/result"
	"github.com/rusher/mariadb-go/stmtcache"
	"github.com/rusher/mariadb-go/wire"
)

// Session carries the pieces of connection state CommandEngine reads or
// mutates while decoding a response stream.
type Session struct {
	Codec              *packet.Codec
	Capabilities       protoflags.Capability
	ServerStatus       protoflags.ServerStatus
	Database           string
	SkipMetadata       bool
	DeprecateEOF       bool
	ExtendedTypeInfo   bool
	NoBackslashEscapes bool

	// StreamingReader is the connection-scoped "streaming reader pointer":
	// the partially-consumed result set, if any, that must be drained
	// before the next command is sent.
	StreamingReader *result.Reader
}

// OKResult is the decoded content of an OK packet.
type OKResult struct {
	AffectedRows uint64
	LastInsertID uint64
	ServerStatus protoflags.ServerStatus
	Warnings     uint16
}

// Outcome is what executing one command produced: exactly one of Results
// (a sequence of per-statement outcomes, each either an OK or a
// ResultReader) is populated.
type Outcome struct {
	Results []StatementOutcome
}

type StatementOutcome struct {
	OK     *OKResult
	Result *result.Reader
}

// Engine drives the wire exchange for one connection. It holds no socket
// state itself beyond what Session exposes, so it is safe to share across
// commands issued serially under the connection's lock.
type Engine struct {
	sess *Session

	// columnCache holds each re-executable statement's last-seen column
	// metadata, keyed by statement id, for the skip_meta optimisation.
	columnCache map[uint32][]*column.Meta

	// LocalInfile supplies file contents for a server-requested LOCAL
	// INFILE; nil means LOCAL INFILE always fails.
	LocalInfile LocalInfileSource
}

func New(sess *Session) *Engine { return &Engine{sess: sess} }

// drainStreamingReader ensures every new command first drains the
// connection's in-progress streaming reader.
func (e *Engine) drainStreamingReader() error {
	if e.sess.StreamingReader == nil {
		return nil
	}
	r := e.sess.StreamingReader
	e.sess.StreamingReader = nil
	if r.Loaded() {
		return nil
	}
	return r.Drain()
}

// Query implements the text-protocol COM_QUERY path.
func (e *Engine) Query(sql string) (*Outcome, error) {
	mlog.Debugf("COM_QUERY %s", truncateForErr(sql))
	if err := e.drainStreamingReader(); err != nil {
		return nil, err
	}
	e.sess.Codec.ResetSequence()
	payload := append([]byte{protoflags.ComQuery}, []byte(sql)...)
	if err := e.sess.Codec.WritePacket(payload); err != nil {
		return nil, err
	}
	return e.readResponses(1, nil, "QUERY "+truncateForErr(sql))
}

// Ping implements COM_PING.
func (e *Engine) Ping() error {
	mlog.Debugf("COM_PING")
	if err := e.drainStreamingReader(); err != nil {
		return err
	}
	e.sess.Codec.ResetSequence()
	if err := e.sess.Codec.WritePacket([]byte{protoflags.ComPing}); err != nil {
		return err
	}
	_, err := e.readResponses(1, nil, "PING")
	return err
}

// Quit implements COM_QUIT: best-effort, errors are not meaningful since
// the server may close the socket without replying.
func (e *Engine) Quit() error {
	mlog.Debugf("COM_QUIT")
	e.sess.Codec.ResetSequence()
	return e.sess.Codec.WritePacket([]byte{protoflags.ComQuit})
}

// Prepare implements COM_STMT_PREPARE, returning a fresh descriptor (not
// yet inserted into the prepared cache — callers do that).
func (e *Engine) Prepare(sql string) (*stmtcache.Descriptor, error) {
	mlog.Debugf("COM_STMT_PREPARE %s", truncateForErr(sql))
	if err := e.drainStreamingReader(); err != nil {
		return nil, err
	}
	e.sess.Codec.ResetSequence()
	payload := append([]byte{protoflags.ComStmtPrepare}, []byte(sql)...)
	if err := e.sess.Codec.WritePacket(payload); err != nil {
		return nil, err
	}
	return e.readPrepareResponse(sql)
}

func (e *Engine) readPrepareResponse(sql string) (*stmtcache.Descriptor, error) {
	payload, err := e.sess.Codec.ReadPacket()
	if err != nil {
		return nil, err
	}
	r := wire.NewReader(payload)
	header, err := r.U8()
	if err != nil {
		return nil, err
	}
	if header == protoflags.HeaderErr {
		return nil, decodeErrPacket(r, "PREPARE "+truncateForErr(sql))
	}
	stmtID, err := r.U32()
	if err != nil {
		return nil, err
	}
	colCount, err := r.U16()
	if err != nil {
		return nil, err
	}
	paramCount, err := r.U16()
	if err != nil {
		return nil, err
	}
	desc := &stmtcache.Descriptor{StatementID: stmtID, ColumnCount: int(colCount), ParamCount: int(paramCount), SQL: sql}

	// filler + warning count
	if err := r.Skip(1); err == nil {
		_, _ = r.U16()
	}

	if paramCount > 0 {
		if err := e.skipMetaBlock(int(paramCount)); err != nil {
			return nil, err
		}
	}
	if colCount > 0 {
		if err := e.skipMetaBlock(int(colCount)); err != nil {
			return nil, err
		}
	}
	return desc, nil
}

// skipMetaBlock consumes n column-descriptor packets (optionally followed
// by an EOF) without retaining them — used for PREPARE's parameter
// descriptors, which this module does not need beyond the count.
func (e *Engine) skipMetaBlock(n int) error {
	for i := 0; i < n; i++ {
		if _, err := e.sess.Codec.ReadPacket(); err != nil {
			return err
		}
	}
	if !e.sess.Capabilities.Has(protoflags.ClientDeprecateEOF) {
		if _, err := e.sess.Codec.ReadPacket(); err != nil {
			return err
		}
	}
	return nil
}

// CloseStmt implements COM_STMT_CLOSE. The server sends no response to
// this command.
func (e *Engine) CloseStmt(statementID uint32) error {
	e.sess.Codec.ResetSequence()
	w := wire.NewWriter(1<<24-1, 0, e.sess.NoBackslashEscapes)
	w.WriteByte_(protoflags.ComStmtClose)
	w.WriteInt(statementID)
	return e.sess.Codec.WritePacket(w.PayloadSince4())
}

// SendLongData implements COM_STMT_SEND_LONG_DATA for one parameter.
func (e *Engine) SendLongData(statementID uint32, paramIndex uint16, data []byte) error {
	e.sess.Codec.ResetSequence()
	w := wire.NewWriter(1<<24-1, 0, e.sess.NoBackslashEscapes)
	w.WriteByte_(protoflags.ComStmtSendLongData)
	w.WriteInt(statementID)
	w.WriteShort(paramIndex)
	w.WriteBytes(data)
	return e.sess.Codec.WritePacket(w.PayloadSince4())
}

// Execute implements COM_STMT_EXECUTE for one row of parameters.
func (e *Engine) Execute(desc *stmtcache.Descriptor, params []Param) (*Outcome, error) {
	mlog.Debugf("COM_STMT_EXECUTE stmt_id=%d %s", desc.StatementID, truncateForErr(desc.SQL))
	if err := e.drainStreamingReader(); err != nil {
		return nil, err
	}
	e.sess.Codec.ResetSequence()
	payload := EncodeExecute(desc.StatementID, params, e.sess.Capabilities.Has(protoflags.MariadbClientCacheMetadata) && e.sess.SkipMetadata)
	if err := e.sess.Codec.WritePacket(payload); err != nil {
		return nil, err
	}
	return e.readResponses(1, desc, "EXECUTE "+truncateForErr(desc.SQL))
}

// truncateForErr mirrors the dump_queries_on_exception truncation rule
// for the command description attached to ERR packets.
func truncateForErr(sql string) string {
	const max = 1024
	if len(sql) > max {
		return sql[:max-3] + "..."
	}
	return sql
}
