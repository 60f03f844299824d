package command

import (
	"github.com/rusher/mariadb-go/protoflags"
	"github.com/rusher/mariadb-go/stmtcache"
	"github.com/rusher/mariadb-go/wire"
)

// PipelinedCommand is one command to send as part of a pipeline, along
// with how many response streams it is expected to produce.
type PipelinedCommand struct {
	Payload       []byte
	ExpectedResp  int
	Description   string
	PreparedDesc  *stmtcache.Descriptor // non-nil for a binary EXECUTE response
}

// Pipeline implements pipelining: send every command, then
// read responses back in order. On any error mid-pipeline, drain the
// remaining response streams into a discard collector before returning
// the first error.
func (e *Engine) Pipeline(cmds []PipelinedCommand) ([]*Outcome, error) {
	if err := e.drainStreamingReader(); err != nil {
		return nil, err
	}
	// Each command's own frame sequence independently starts at 0
	//; pipelining only means every write happens before any
	// read. Record the sequence number the server's first response frame
	// will carry for each command (one past however many frames its
	// request took), so the later read loop can seek the codec back to
	// it despite the writes having moved the counter on.
	responseSeq := make([]byte, len(cmds))
	for i, c := range cmds {
		e.sess.Codec.ResetSequence()
		if err := e.sess.Codec.WritePacket(c.Payload); err != nil {
			return nil, err
		}
		responseSeq[i] = e.sess.Codec.NextSequence()
	}

	outcomes := make([]*Outcome, len(cmds))
	var firstErr error
	for i, c := range cmds {
		e.sess.Codec.SetSequence(responseSeq[i])
		if firstErr != nil {
			e.discardResponse(c.ExpectedResp)
			continue
		}
		out, err := e.readResponses(c.ExpectedResp, c.PreparedDesc, c.Description)
		outcomes[i] = out
		if err != nil {
			firstErr = err
		}
	}
	return outcomes, firstErr
}

// discardResponse reads and throws away nbResp response streams, used
// while draining a failed pipeline (best-effort: stops at the first
// read error since the connection is likely already unusable).
func (e *Engine) discardResponse(nbResp int) {
	for i := 0; i < nbResp; i++ {
		for {
			so, more, err := e.readOneResponseStream(nil, "discarded")
			if err != nil {
				return
			}
			if so.Result != nil {
				_ = so.Result.Drain()
			}
			if !more {
				break
			}
		}
	}
}

// ExecutePrepared implements the prepared-with-params binary execution
// path: look up the prepared cache, falling back to PREPARE (pipelined
// with EXECUTE when BULK caps are available, via the server's
// statement-id -1 "last prepared" convention) or PREPARE-then-EXECUTE
// otherwise.
func (e *Engine) ExecutePrepared(cache *stmtcache.Cache, sql string, params []Param) (*Outcome, error) {
	if desc, ok := cache.Get(sql); ok {
		return e.Execute(desc, params)
	}

	if e.sess.Capabilities.Has(protoflags.MariadbClientStmtBulkOperations) {
		return e.prepareAndExecutePipelined(cache, sql, params)
	}

	desc, err := e.Prepare(sql)
	if err != nil {
		return nil, err
	}
	cache.Put(sql, desc)
	return e.Execute(desc, params)
}

// prepareAndExecutePipelined sends PREPARE and EXECUTE(statement_id=-1)
// back to back before reading either response, exploiting the server's
// "-1 means last prepared statement" convention. The PREPARE response
// uses its own wire format (statement id/column
// count/param count), not the generic OK layout, so it is decoded with
// readPrepareResponse rather than through the Pipeline/readResponses path.
func (e *Engine) prepareAndExecutePipelined(cache *stmtcache.Cache, sql string, params []Param) (*Outcome, error) {
	if err := e.drainStreamingReader(); err != nil {
		return nil, err
	}

	prepPayload := append([]byte{protoflags.ComStmtPrepare}, []byte(sql)...)
	execPayload := EncodeExecute(^uint32(0), params, false) // -1 as uint32: "last prepared"

	e.sess.Codec.ResetSequence()
	if err := e.sess.Codec.WritePacket(prepPayload); err != nil {
		return nil, err
	}
	prepRespSeq := e.sess.Codec.NextSequence()

	e.sess.Codec.ResetSequence()
	if err := e.sess.Codec.WritePacket(execPayload); err != nil {
		return nil, err
	}
	execRespSeq := e.sess.Codec.NextSequence()

	e.sess.Codec.SetSequence(prepRespSeq)
	desc, err := e.readPrepareResponse(sql)
	if err != nil {
		return nil, err
	}
	cache.Put(sql, desc)

	e.sess.Codec.SetSequence(execRespSeq)
	out, err := e.readResponses(1, desc, "EXECUTE "+truncateForErr(sql))
	return out, err
}

// BulkRow is one row of parameters for BulkExecute.
type BulkRow []Param

// BulkExecute drives the bulk execute algorithm. maxAllowedPacket<=0
// means unlimited.
func (e *Engine) BulkExecute(cache *stmtcache.Cache, sql string, rows []BulkRow, useBulk bool, maxAllowedPacket int) (*Outcome, error) {
	desc, ok := cache.Get(sql)
	if !ok {
		var err error
		desc, err = e.Prepare(sql)
		if err != nil {
			return nil, err
		}
		cache.Put(sql, desc)
	}

	if useBulk && e.sess.Capabilities.Has(protoflags.MariadbClientStmtBulkOperations) {
		return e.bulkExecuteViaProtocol(desc, rows, maxAllowedPacket)
	}

	cmds := make([]PipelinedCommand, 0, len(rows))
	for _, row := range rows {
		payload := EncodeExecute(desc.StatementID, row, false)
		cmds = append(cmds, PipelinedCommand{Payload: payload, ExpectedResp: 1, PreparedDesc: desc, Description: "EXECUTE " + truncateForErr(sql)})
	}
	return e.pipelineOrLoop(cmds)
}

// pipelineOrLoop runs cmds as a pipeline and folds the per-row outcomes
// into one combined Outcome.
func (e *Engine) pipelineOrLoop(cmds []PipelinedCommand) (*Outcome, error) {
	outcomes, err := e.Pipeline(cmds)
	combined := &Outcome{}
	for _, o := range outcomes {
		if o != nil {
			combined.Results = append(combined.Results, o.Results...)
		}
	}
	return combined, err
}

// bulkSignature identifies the parameter type signature of one row, used
// to detect a mid-packet type change.
func bulkSignature(row BulkRow) string {
	sig := make([]byte, len(row))
	for i, p := range row {
		t, _ := binaryType(p.Value)
		sig[i] = byte(t)
	}
	return string(sig)
}

// bulkExecuteViaProtocol implements the MariaDB BULK_EXECUTE wire
// extension: one packet carrying a parameter type signature followed by
// per-row presence-flag+value data, flushing
// and restarting on a type-signature change or a mark-protected overflow
// of max_allowed_packet.
func (e *Engine) bulkExecuteViaProtocol(desc *stmtcache.Descriptor, rows []BulkRow, maxAllowedPacket int) (*Outcome, error) {
	if len(rows) == 0 {
		return &Outcome{}, nil
	}

	e.sess.Codec.ResetSequence()
	var packets [][]byte
	w := wire.NewWriter(1<<24-1, maxAllowedPacket, e.sess.NoBackslashEscapes)
	currentSig := ""
	writeHeader := func(row BulkRow) {
		w.WriteByte_(protoflags.ComStmtBulkExecute)
		w.WriteInt(desc.StatementID)
		w.WriteShort(protoflags.BulkSendTypesToServer)
		for _, p := range row {
			t, unsigned := binaryType(p.Value)
			w.WriteByte_(byte(t))
			if unsigned {
				w.WriteByte_(0x80)
			} else {
				w.WriteByte_(0)
			}
		}
	}

	flush := func() {
		if w.Len() > 4 {
			packets = append(packets, append([]byte{}, w.PayloadSince4()...))
		}
		w = wire.NewWriter(1<<24-1, maxAllowedPacket, e.sess.NoBackslashEscapes)
		currentSig = ""
	}

	for _, row := range rows {
		sig := bulkSignature(row)
		if sig != currentSig {
			flush()
			writeHeader(row)
			currentSig = sig
		}

		w.Mark()
		for _, p := range row {
			if p.Value == nil {
				w.WriteByte_(0x01)
				continue
			}
			w.WriteByte_(0x00)
			encodeParamBinary(w, p.Value)
		}
		if err := w.CheckMaxAllowedLength(w.Len()); err != nil {
			// mid-row overflow: flush everything before the mark (the
			// header plus any complete rows already in this packet) and
			// keep the row just written, which FlushStopAtMark shifted to
			// the front of w's buffer, so it can be prefixed with a fresh
			// header in the continuation packet instead of being dropped.
			flushed := w.FlushStopAtMark()
			if len(flushed) > 0 {
				packets = append(packets, flushed)
			}
			rowTail := append([]byte{}, w.PayloadSince4()...)
			w = wire.NewWriter(1<<24-1, maxAllowedPacket, e.sess.NoBackslashEscapes)
			writeHeader(row)
			w.WriteBytes(rowTail)
		}
	}
	flush()

	// each packet is a separate BULK_EXECUTE command with its own sequence
	// numbering and its own response.
	cmds := make([]PipelinedCommand, 0, len(packets))
	for _, p := range packets {
		cmds = append(cmds, PipelinedCommand{Payload: p, ExpectedResp: 1, PreparedDesc: desc, Description: "BULK_EXECUTE " + truncateForErr(desc.SQL)})
	}
	return e.pipelineOrLoop(cmds)
}
