// Package result implements ResultReader: per-row decoding
// of the server's result-set stream in both binary and text protocol
// forms, with one/many(k)/all fetch modes and completed-vs-streaming
// consumption. Header-byte dispatch (OK/ERR/EOF vs a row) classifies each
// packet before the row decoder for the active protocol runs.
package result

import (
	"github.com/rusher/mariadb-go/column"
	"github.com/rusher/mariadb-go/merr"
	"github.com/rusher/mariadb-go/mlog"
	"github.com/rusher/mariadb-go/packet"
	"github.com/rusher/mariadb-go/protoflags"
	"github.com/rusher/mariadb-go/wire"
)

// Row is one decoded row: len(Row) == len(Columns), each entry nil for
// SQL NULL.
type Row []interface{}

// EndOfSet carries the terminal OK/EOF-with-header status of a result set.
type EndOfSet struct {
	ServerStatus    protoflags.ServerStatus
	Warnings        uint16
	PSOutParameters bool
}

// Reader decodes rows for one result set off codec lazily, one packet read
// per Next call; FetchAll drains the remaining rows into memory. Rows are
// never materialized when the Reader is constructed.
type Reader struct {
	codec        *packet.Codec
	columns      []*column.Meta
	binary       bool
	deprecateEOF bool
	loaded       bool
	end          EndOfSet
	lastErr      error

	// status is the owning connection's shared server-status word. A mid-set
	// ERR forces IN_TRANSACTION on it the same way command's response
	// dispatch does for a top-level ERR, since a deadlock or lock-wait
	// timeout detected mid-stream leaves the transaction state exactly as
	// indeterminate as one seen before any rows were read.
	status *protoflags.ServerStatus
}

func New(codec *packet.Codec, columns []*column.Meta, binary, deprecateEOF bool, status *protoflags.ServerStatus) *Reader {
	return &Reader{codec: codec, columns: columns, binary: binary, deprecateEOF: deprecateEOF, status: status}
}

func (r *Reader) Columns() []*column.Meta { return r.columns }

// Loaded reports whether the terminal OK/EOF/ERR has already been seen,
// i.e. no further Next call will read from the socket.
func (r *Reader) Loaded() bool { return r.loaded }

func (r *Reader) EndOfSet() EndOfSet { return r.end }

// Next reads one row. ok is false once the set is exhausted (r.loaded
// becomes true); err is set if the set ended in an ERR packet.
func (r *Reader) Next() (row Row, ok bool, err error) {
	if r.loaded {
		return nil, false, r.lastErr
	}
	payload, err := r.codec.ReadPacket()
	if err != nil {
		r.loaded = true
		r.lastErr = err
		return nil, false, err
	}
	if len(payload) == 0 {
		r.loaded = true
		return nil, false, nil
	}
	switch payload[0] {
	case protoflags.HeaderErr:
		if r.status != nil {
			protoflags.ForceInTransaction(r.status)
		}
		e := decodeErr(payload)
		mlog.Debugf("ERR mid-result-set: %v", e)
		r.loaded = true
		r.lastErr = e
		return nil, false, e
	case protoflags.HeaderEOF:
		if isEndMarker(payload, r.deprecateEOF) {
			r.loaded = true
			r.end = decodeEndOfSet(payload, r.deprecateEOF)
			return nil, false, nil
		}
	}
	row, err = r.decodeRow(payload)
	if err != nil {
		r.loaded = true
		r.lastErr = err
		return nil, false, err
	}
	return row, true, nil
}

// isEndMarker distinguishes a genuine end-of-set 0xfe packet from a row
// that happens to start with 0xfe because its first length-encoded field
// is large.
func isEndMarker(payload []byte, deprecateEOF bool) bool {
	if deprecateEOF {
		return len(payload) < 16*1024*1024
	}
	return len(payload) < 8
}

func decodeEndOfSet(payload []byte, deprecateEOF bool) EndOfSet {
	r := wire.NewReader(payload)
	_, _ = r.U8() // header byte
	var status protoflags.ServerStatus
	var warnings uint16
	if deprecateEOF {
		_, _, _ = r.Length() // affected_rows
		_, _, _ = r.Length() // last_insert_id
		if v, err := r.U16(); err == nil {
			status = protoflags.ServerStatus(v)
		}
		if v, err := r.U16(); err == nil {
			warnings = v
		}
	} else {
		if v, err := r.U16(); err == nil {
			warnings = v
		}
		if v, err := r.U16(); err == nil {
			status = protoflags.ServerStatus(v)
		}
	}
	return EndOfSet{
		ServerStatus:    status,
		Warnings:        warnings,
		PSOutParameters: status.Has(protoflags.StatusPSOutParams),
	}
}

func decodeErr(payload []byte) *merr.Error {
	r := wire.NewReader(payload)
	_, _ = r.U8()
	code, _ := r.U16()
	sqlstate := merr.DefaultSqlstate
	if b, ok := r.Peek(); ok && b == '#' {
		_, _ = r.U8()
		sqlstate, _ = r.Ascii(5)
	}
	msg := r.TailUtf8()
	return merr.FromServer(code, sqlstate, msg, "")
}

// decodeRow implements row algorithm for both protocols.
func (r *Reader) decodeRow(payload []byte) (Row, error) {
	rd := wire.NewReader(payload)
	row := make(Row, len(r.columns))
	if r.binary {
		if _, err := rd.U8(); err != nil { // packet header byte, always 0x00
			return nil, err
		}
		nullBitmapLen := (len(r.columns) + 9) / 8
		bitmap, err := rd.FixedBytes(nullBitmapLen)
		if err != nil {
			return nil, err
		}
		for i, col := range r.columns {
			// binary result rows offset the NULL bit by +2.
			bitPos := i + 2
			if bitmap[bitPos/8]&(1<<uint(bitPos%8)) != 0 {
				row[i] = nil
				continue
			}
			v, ok, derr := col.DecoderFor(true)(rd)
			if derr != nil {
				return nil, derr
			}
			if !ok {
				row[i] = nil
			} else {
				row[i] = v
			}
		}
		return row, nil
	}

	for i, col := range r.columns {
		v, ok, derr := col.DecoderFor(false)(rd)
		if derr != nil {
			return nil, derr
		}
		if !ok {
			row[i] = nil
		} else {
			row[i] = v
		}
	}
	return row, nil
}

// FetchOne implements the "one" fetch mode.
func (r *Reader) FetchOne() (Row, error) {
	row, ok, err := r.Next()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return row, nil
}

// FetchMany implements the "many(k)" fetch mode.
func (r *Reader) FetchMany(k int) ([]Row, error) {
	rows := make([]Row, 0, k)
	for i := 0; i < k; i++ {
		row, ok, err := r.Next()
		if err != nil {
			return rows, err
		}
		if !ok {
			break
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// FetchAll eagerly drains the remainder of the set ("completed" mode).
func (r *Reader) FetchAll() ([]Row, error) {
	var rows []Row
	for {
		row, ok, err := r.Next()
		if err != nil {
			return rows, err
		}
		if !ok {
			return rows, nil
		}
		rows = append(rows, row)
	}
}

// Drain discards all remaining rows without materializing them, used when
// a new command must reclaim the connection's streaming-reader pointer.
func (r *Reader) Drain() error {
	for !r.loaded {
		if _, _, err := r.Next(); err != nil {
			return err
		}
	}
	return nil
}
