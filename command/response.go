package command

import (
	"io"

	"github.com/rusher/mariadb-go/column"
	"github.com/rusher/mariadb-go/merr"
	"github.com/rusher/mariadb-go/mlog"
	"github.com/rusher/mariadb-go/protoflags"
	"github.com/rusher/mariadb-go/result"
	"github.com/rusher/mariadb-go/stmtcache"
	"github.com/rusher/mariadb-go/wire"
)

// LocalInfileSource supplies the contents of a file requested by the
// server's LOCAL INFILE response: Open must return a
// reader the caller closes itself.
type LocalInfileSource interface {
	Open(filename string) (io.ReadCloser, error)
}

// readResponses reads nbResp response streams in order, looping each one
// over MORE_RESULTS_EXISTS.
func (e *Engine) readResponses(nbResp int, desc *stmtcache.Descriptor, description string) (*Outcome, error) {
	out := &Outcome{}
	for i := 0; i < nbResp; i++ {
		for {
			so, more, err := e.readOneResponseStream(desc, description)
			if err != nil {
				return out, err
			}
			out.Results = append(out.Results, so)
			if !more {
				break
			}
		}
	}
	return out, nil
}

// readOneResponseStream decodes exactly one response stream's header and,
// for a result set, returns a Reader positioned to read rows. more
// reports whether server_status had MORE_RESULTS_EXISTS set, meaning the
// caller should loop again within the same logical command.
func (e *Engine) readOneResponseStream(desc *stmtcache.Descriptor, description string) (StatementOutcome, bool, error) {
	payload, err := e.sess.Codec.ReadPacket()
	if err != nil {
		return StatementOutcome{}, false, err
	}
	if len(payload) == 0 {
		return StatementOutcome{}, false, merr.Connection(nil, "empty response packet for %s", description)
	}
	r := wire.NewReader(payload)
	header, err := r.U8()
	if err != nil {
		return StatementOutcome{}, false, err
	}

	switch header {
	case protoflags.HeaderOK:
		ok, err := e.decodeOK(r)
		if err != nil {
			return StatementOutcome{}, false, err
		}
		e.sess.ServerStatus = ok.ServerStatus
		return StatementOutcome{OK: ok}, ok.ServerStatus.Has(protoflags.StatusMoreResultsExists), nil

	case protoflags.HeaderErr:
		protoflags.ForceInTransaction(&e.sess.ServerStatus)
		err := decodeErrPacket(r, description)
		mlog.Debugf("ERR response to %s: %v", description, err)
		return StatementOutcome{}, false, err

	case protoflags.HeaderLocalInfile:
		if err := e.handleLocalInfile(r); err != nil {
			return StatementOutcome{}, false, err
		}
		return e.readOneResponseStream(desc, description)

	default:
		// low byte of a length-encoded field count.
		r2 := wire.NewReader(payload)
		fieldCount, _, err := r2.Length()
		if err != nil {
			return StatementOutcome{}, false, err
		}

		cols, err := e.readColumnMeta(int(fieldCount), desc)
		if err != nil {
			return StatementOutcome{}, false, err
		}
		if !e.sess.Capabilities.Has(protoflags.ClientDeprecateEOF) {
			if _, err := e.sess.Codec.ReadPacket(); err != nil { // intermediate EOF
				return StatementOutcome{}, false, err
			}
		}
		binary := desc != nil
		rr := result.New(e.sess.Codec, cols, binary, e.sess.Capabilities.Has(protoflags.ClientDeprecateEOF), &e.sess.ServerStatus)
		e.sess.StreamingReader = rr
		return StatementOutcome{Result: rr}, false, nil
	}
}

// readColumnMeta implements skip_meta handling: for a
// re-executable command (EXECUTE/BULK, i.e. desc != nil) with skip_meta
// negotiated, a leading 1-byte flag says whether to reuse the prepared
// descriptor's cached columns or read field_count fresh ones.
func (e *Engine) readColumnMeta(fieldCount int, desc *stmtcache.Descriptor) ([]*column.Meta, error) {
	if desc != nil && e.sess.SkipMetadata && e.sess.Capabilities.Has(protoflags.MariadbClientCacheMetadata) {
		flagPayload, err := e.sess.Codec.ReadPacket()
		if err != nil {
			return nil, err
		}
		if len(flagPayload) > 0 && flagPayload[0] == 0 {
			return e.cachedColumns(desc), nil
		}
	}
	cols := make([]*column.Meta, 0, fieldCount)
	for i := 0; i < fieldCount; i++ {
		payload, err := e.sess.Codec.ReadPacket()
		if err != nil {
			return nil, err
		}
		m, err := column.Decode(payload, e.sess.ExtendedTypeInfo)
		if err != nil {
			return nil, err
		}
		cols = append(cols, m)
	}
	if desc != nil {
		e.cacheColumns(desc, cols)
	}
	return cols, nil
}

// Column metadata for a re-executable statement is cached on Engine,
// keyed by statement id, so a later EXECUTE with skip_meta negotiated can
// reuse it without a server round-trip.
func (e *Engine) cachedColumns(desc *stmtcache.Descriptor) []*column.Meta {
	return e.columnCache[desc.StatementID]
}

func (e *Engine) cacheColumns(desc *stmtcache.Descriptor, cols []*column.Meta) {
	if e.columnCache == nil {
		e.columnCache = make(map[uint32][]*column.Meta)
	}
	e.columnCache[desc.StatementID] = cols
}

func (e *Engine) decodeOK(r *wire.Reader) (*OKResult, error) {
	ok := &OKResult{}
	var err error
	if ok.AffectedRows, _, err = r.Length(); err != nil {
		return nil, err
	}
	if ok.LastInsertID, _, err = r.Length(); err != nil {
		return nil, err
	}
	status, err := r.U16()
	if err != nil {
		return nil, err
	}
	ok.ServerStatus = protoflags.ServerStatus(status)
	if ok.Warnings, err = r.U16(); err != nil {
		return nil, err
	}
	if e.sess.Capabilities.Has(protoflags.ClientSessionTrack) && ok.ServerStatus.Has(protoflags.StatusSessionStateChanged) {
		if _, _, err := r.BytesLenc(); err == nil { // info string, ignored
			e.processSessionTrack(r)
		}
	}
	return ok, nil
}

// processSessionTrack implements SESSION_TRACK handling:
// SESSION_TRACK_SCHEMA updates the current database, SESSION_TRACK_SYSTEM_VARIABLES
// is observed and otherwise ignored.
func (e *Engine) processSessionTrack(r *wire.Reader) {
	blockLen, _, err := r.Length()
	if err != nil {
		return
	}
	end := r.Pos() + int(blockLen)
	for r.Pos() < end {
		tag, err := r.U8()
		if err != nil {
			return
		}
		data, _, err := r.BytesLenc()
		if err != nil {
			return
		}
		switch tag {
		case protoflags.SessionTrackSchema:
			sub := wire.NewReader(data)
			if name, _, err := sub.StringLenc(); err == nil {
				e.sess.Database = name
			}
		case protoflags.SessionTrackSystemVariables:
			// observed only; no client-side state mirrors session variables.
		}
	}
}

func decodeErrPacket(r *wire.Reader, description string) error {
	code, err := r.U16()
	if err != nil {
		return err
	}
	sqlstate := merr.DefaultSqlstate
	if b, ok := r.Peek(); ok && b == '#' {
		_, _ = r.U8()
		sqlstate, _ = r.Ascii(5)
	}
	msg := r.TailUtf8()
	return merr.FromServer(code, sqlstate, msg, description)
}

// handleLocalInfile implements LOCAL_INFILE handling.
func (e *Engine) handleLocalInfile(r *wire.Reader) error {
	filename, err := r.CStr()
	if err != nil {
		filename = r.TailUtf8()
	}
	if e.LocalInfile == nil {
		// no source configured: send the terminator packet before raising,
		// so the server's exchange terminates cleanly.
		_ = e.sess.Codec.WritePacket(nil)
		return merr.Connection(nil, "server requested LOCAL INFILE %q but no local-infile source is configured", filename)
	}
	f, ferr := e.LocalInfile.Open(filename)
	if ferr != nil {
		_ = e.sess.Codec.WritePacket(nil)
		return merr.Connection(ferr, "opening LOCAL INFILE %q", filename)
	}
	defer f.Close()

	buf := make([]byte, 1<<16)
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			if werr := e.sess.Codec.WritePacket(buf[:n]); werr != nil {
				return werr
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			_ = e.sess.Codec.WritePacket(nil)
			return merr.Connection(rerr, "reading LOCAL INFILE %q", filename)
		}
	}
	return e.sess.Codec.WritePacket(nil)
}
