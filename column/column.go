// Package column implements ColumnMeta: decoding a column
// descriptor packet and selecting, once per column, the decoder plan used
// for every row in the result set. The packet layout is
// catalog/db/table/org_table/name/org_name length-encoded strings, then a
// fixed 0x0C filler byte, charset u16, length u32, type u8, flags u16,
// decimals u8, 2-byte filler — with an extended-type-info TLV, when
// present, preceding the length-encoded strings.
package column

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rusher/mariadb-go/merr"
	"github.com/rusher/mariadb-go/protoflags"
	"github.com/rusher/mariadb-go/wire"
)

// Meta is one column's decoded descriptor plus its cached decode plan.
type Meta struct {
	Catalog      string
	Schema       string
	Table        string
	OrgTable     string
	Name         string
	OrgName      string
	Charset      uint16
	Length       uint32
	Type         protoflags.ColumnType
	Flags        protoflags.ColumnFlag
	Decimals     uint8
	ExtTypeName  string // set when extended-type-info tag 0 carries e.g. "json"

	decoderBinary DecodeFunc
	decoderText   DecodeFunc
}

// DecodeFunc reads one field's value from r and returns it as a Go value,
// or ok=false if the field was NULL/absent.
type DecodeFunc func(r *wire.Reader) (value interface{}, ok bool, err error)

// Decode reads one column descriptor packet. extendedTypeInfo indicates
// whether MARIADB_CLIENT_EXTENDED_TYPE_INFO was negotiated, in which case
// a leading TLV sub-packet may be present; this module
// only interprets tag 0 ("ext_type_name"), skipping the rest — full
// extended-type-info subpacket decoding is out of scope.
func Decode(payload []byte, extendedTypeInfo bool) (*Meta, error) {
	r := wire.NewReader(payload)
	m := &Meta{}

	if extendedTypeInfo {
		// Only tag 0 (ext_type_name) is extracted here; other tags are
		// skipped.
		if err := decodeExtTypeInfo(r, m); err != nil {
			return nil, err
		}
	}

	var err error
	if m.Catalog, _, err = r.StringLenc(); err != nil {
		return nil, err
	}
	if m.Schema, _, err = r.StringLenc(); err != nil {
		return nil, err
	}
	if m.Table, _, err = r.StringLenc(); err != nil {
		return nil, err
	}
	if m.OrgTable, _, err = r.StringLenc(); err != nil {
		return nil, err
	}
	if m.Name, _, err = r.StringLenc(); err != nil {
		return nil, err
	}
	if m.OrgName, _, err = r.StringLenc(); err != nil {
		return nil, err
	}

	// Remaining bytes must hold the fixed 13-byte tail: filler-length
	// byte, charset:u16, length:u32, type:u8, flags:u16, decimals:u8, 2
	// reserved bytes.
	if r.Remaining() < 13 {
		return nil, merr.Connection(nil, "column descriptor packet too short: %d bytes remaining", r.Remaining())
	}
	// skip to the last 13 bytes in case a vendor-specific block remains.
	if extra := r.Remaining() - 13; extra > 0 {
		if err := r.Skip(extra); err != nil {
			return nil, err
		}
	}
	if _, err := r.U8(); err != nil { // filler length byte, always 0x0c
		return nil, err
	}
	if m.Charset, err = r.U16(); err != nil {
		return nil, err
	}
	if m.Length, err = r.U32(); err != nil {
		return nil, err
	}
	typeByte, err := r.U8()
	if err != nil {
		return nil, err
	}
	m.Type = protoflags.ColumnType(typeByte)
	flagsRaw, err := r.U16()
	if err != nil {
		return nil, err
	}
	m.Flags = protoflags.ColumnFlag(flagsRaw)
	if m.Decimals, err = r.U8(); err != nil {
		return nil, err
	}

	m.resolveDecoders()
	return m, nil
}

func decodeExtTypeInfo(r *wire.Reader, m *Meta) error {
	n, ok, err := r.Length()
	if err != nil || !ok {
		return err
	}
	end := r.Pos() + int(n)
	for r.Pos() < end {
		tag, err := r.U8()
		if err != nil {
			return err
		}
		val, _, err := r.BytesLenc()
		if err != nil {
			return err
		}
		if tag == 0 {
			m.ExtTypeName = string(val)
		}
	}
	return nil
}

// isBinary reports whether charset==63 (binary collation), used to choose
// bytes_lenc over string_lenc(utf8) in the text decoder table.
func (m *Meta) isBinary() bool { return m.Charset == 63 }

func (m *Meta) isJSON() bool {
	return m.Type == protoflags.TypeJSON || strings.EqualFold(m.ExtTypeName, "json")
}

// resolveDecoders picks the binary and text decode plans once, caching
// them per column.
func (m *Meta) resolveDecoders() {
	m.decoderBinary = m.binaryDecoder()
	m.decoderText = m.textDecoder()
}

// DecoderFor returns the cached decode plan for the given protocol mode.
func (m *Meta) DecoderFor(binary bool) DecodeFunc {
	if binary {
		return m.decoderBinary
	}
	return m.decoderText
}

func (m *Meta) unsigned() bool { return m.Flags.Has(protoflags.FlagUnsigned) }

func (m *Meta) binaryDecoder() DecodeFunc {
	switch m.Type {
	case protoflags.TypeTiny:
		if m.unsigned() {
			return func(r *wire.Reader) (interface{}, bool, error) { v, err := r.U8(); return uint64(v), true, err }
		}
		return func(r *wire.Reader) (interface{}, bool, error) { v, err := r.I8(); return int64(v), true, err }
	case protoflags.TypeShort, protoflags.TypeYear:
		if m.unsigned() {
			return func(r *wire.Reader) (interface{}, bool, error) { v, err := r.U16(); return uint64(v), true, err }
		}
		return func(r *wire.Reader) (interface{}, bool, error) { v, err := r.I16(); return int64(v), true, err }
	case protoflags.TypeLong, protoflags.TypeInt24:
		if m.unsigned() {
			return func(r *wire.Reader) (interface{}, bool, error) { v, err := r.U32(); return uint64(v), true, err }
		}
		return func(r *wire.Reader) (interface{}, bool, error) { v, err := r.I32(); return int64(v), true, err }
	case protoflags.TypeLongLong:
		if m.unsigned() {
			return func(r *wire.Reader) (interface{}, bool, error) { v, err := r.U64(); return v, true, err }
		}
		return func(r *wire.Reader) (interface{}, bool, error) { v, err := r.I64(); return int64(v), true, err }
	case protoflags.TypeFloat:
		return func(r *wire.Reader) (interface{}, bool, error) { v, err := r.F32(); return v, true, err }
	case protoflags.TypeDouble:
		return func(r *wire.Reader) (interface{}, bool, error) { v, err := r.F64(); return v, true, err }
	case protoflags.TypeDate, protoflags.TypeNewDate:
		return func(r *wire.Reader) (interface{}, bool, error) {
			t, absent, err := r.DateLencBinary()
			return t, !absent, err
		}
	case protoflags.TypeDatetime, protoflags.TypeTimestamp:
		return func(r *wire.Reader) (interface{}, bool, error) {
			t, absent, err := r.DateTimeLencBinary()
			return t, !absent, err
		}
	case protoflags.TypeTime:
		return func(r *wire.Reader) (interface{}, bool, error) {
			d, absent, err := r.TimeLencBinary()
			return d, !absent, err
		}
	case protoflags.TypeDecimal, protoflags.TypeNewDecimal:
		return m.decimalLenc
	default:
		return m.genericLencDecoder()
	}
}

func (m *Meta) textDecoder() DecodeFunc {
	switch m.Type {
	case protoflags.TypeTiny, protoflags.TypeShort, protoflags.TypeLong,
		protoflags.TypeInt24, protoflags.TypeLongLong, protoflags.TypeYear:
		return m.intLenc
	case protoflags.TypeFloat, protoflags.TypeDouble:
		return m.floatLenc
	case protoflags.TypeDecimal, protoflags.TypeNewDecimal:
		return m.decimalLenc
	case protoflags.TypeDate, protoflags.TypeNewDate:
		return m.dateTextLenc
	case protoflags.TypeDatetime, protoflags.TypeTimestamp:
		return m.dateTimeTextLenc
	case protoflags.TypeTime:
		return m.timeTextLenc
	default:
		return m.genericLencDecoder()
	}
}

// genericLencDecoder implements the fallback decoder: JSON, binary-charset
// bytes, SET splitting, or plain UTF-8 string, each read length-encoded.
func (m *Meta) genericLencDecoder() DecodeFunc {
	switch {
	case m.isJSON():
		return func(r *wire.Reader) (interface{}, bool, error) {
			s, absent, err := r.StringLenc()
			if err != nil || absent {
				return nil, !absent, err
			}
			var v interface{}
			if err := json.Unmarshal([]byte(s), &v); err != nil {
				return nil, true, err
			}
			return v, true, nil
		}
	case m.isBinary():
		return func(r *wire.Reader) (interface{}, bool, error) {
			b, absent, err := r.BytesLenc()
			return b, !absent, err
		}
	case m.Flags.Has(protoflags.FlagSet):
		return func(r *wire.Reader) (interface{}, bool, error) {
			s, absent, err := r.StringLenc()
			if err != nil || absent {
				return nil, !absent, err
			}
			if s == "" {
				return []string{}, true, nil
			}
			return strings.Split(s, ","), true, nil
		}
	default:
		return func(r *wire.Reader) (interface{}, bool, error) {
			s, absent, err := r.StringLenc()
			return s, !absent, err
		}
	}
}

func (m *Meta) intLenc(r *wire.Reader) (interface{}, bool, error) {
	s, absent, err := r.StringLenc()
	if err != nil || absent {
		return nil, !absent, err
	}
	if m.unsigned() {
		v, perr := parseUint(s)
		return v, true, perr
	}
	v, perr := parseInt(s)
	return v, true, perr
}

func (m *Meta) floatLenc(r *wire.Reader) (interface{}, bool, error) {
	s, absent, err := r.StringLenc()
	if err != nil || absent {
		return nil, !absent, err
	}
	v, perr := parseFloat(s)
	return v, true, perr
}

func (m *Meta) decimalLenc(r *wire.Reader) (interface{}, bool, error) {
	s, absent, err := r.StringLenc()
	if err != nil || absent {
		return nil, !absent, err
	}
	d, perr := decimal.NewFromString(s)
	if perr != nil {
		return nil, true, merr.Connection(perr, "decoding DECIMAL column %q", m.Name)
	}
	return d, true, nil
}

func (m *Meta) dateTextLenc(r *wire.Reader) (interface{}, bool, error) {
	s, absent, err := r.StringLenc()
	if err != nil || absent {
		return nil, !absent, err
	}
	t, nullDate, perr := parseTextDate(s)
	if perr != nil {
		return nil, true, perr
	}
	return t, !nullDate, nil
}

func (m *Meta) dateTimeTextLenc(r *wire.Reader) (interface{}, bool, error) {
	return m.dateTextLenc(r)
}

func (m *Meta) timeTextLenc(r *wire.Reader) (interface{}, bool, error) {
	s, absent, err := r.StringLenc()
	if err != nil || absent {
		return nil, !absent, err
	}
	d, perr := parseTextTime(s)
	return d, true, perr
}
