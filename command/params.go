package command

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rusher/mariadb-go/protoflags"
	"github.com/rusher/mariadb-go/wire"
)

// Param is one bound parameter value. LongData is true when the value was
// already delivered via SEND_LONG_DATA and must be omitted from the
// EXECUTE body.
type Param struct {
	Value    interface{}
	LongData bool
}

// binaryType returns the DataType byte EXECUTE/BULK_EXECUTE send for v,
// and whether it is unsigned.
func binaryType(v interface{}) (protoflags.ColumnType, bool) {
	switch x := v.(type) {
	case nil:
		return protoflags.TypeNull, false
	case bool:
		return protoflags.TypeTiny, false
	case int:
		return intType(int64(x))
	case int32:
		return intType(int64(x))
	case int64:
		return intType(x)
	case uint64:
		if x <= 1<<31-1 {
			return protoflags.TypeLong, true
		}
		return protoflags.TypeLongLong, true
	case float32, float64:
		return protoflags.TypeNewDecimal, false
	case decimal.Decimal:
		return protoflags.TypeNewDecimal, false
	case string:
		return protoflags.TypeVarchar, false
	case []byte:
		return protoflags.TypeBlob, false
	case time.Time:
		return protoflags.TypeDatetime, false
	case time.Duration:
		return protoflags.TypeTime, false
	default:
		return protoflags.TypeVarchar, false
	}
}

func intType(v int64) (protoflags.ColumnType, bool) {
	if v >= -(1<<31) && v <= 1<<31-1 {
		return protoflags.TypeLong, false
	}
	return protoflags.TypeLongLong, false
}

// encodeParamBinary writes one parameter's value bytes in binary
// protocol form.
func encodeParamBinary(w *wire.Writer, v interface{}) {
	switch x := v.(type) {
	case nil:
		// NULL is carried entirely by the bitmap; nothing to write.
	case bool:
		if x {
			w.WriteByte_(1)
		} else {
			w.WriteByte_(0)
		}
	case int:
		encodeParamBinary(w, int64(x))
	case int32:
		encodeParamBinary(w, int64(x))
	case int64:
		if x >= -(1<<31) && x <= 1<<31-1 {
			w.WriteInt(uint32(int32(x)))
		} else {
			w.WriteLong(uint64(x))
		}
	case uint64:
		if x <= 1<<31-1 {
			w.WriteInt(uint32(x))
		} else {
			w.WriteLong(x)
		}
	case float32:
		w.WriteLengthEncodedString(strconv.FormatFloat(float64(x), 'f', -1, 32))
	case float64:
		w.WriteLengthEncodedString(strconv.FormatFloat(x, 'f', -1, 64))
	case decimal.Decimal:
		w.WriteLengthEncodedString(x.String())
	case string:
		w.WriteLengthEncodedString(x)
	case []byte:
		w.WriteLengthEncodedBytes(x)
	case time.Time:
		encodeBinaryDateTime(w, x)
	case time.Duration:
		encodeBinaryTime(w, x)
	default:
		w.WriteLengthEncodedString(fmt.Sprintf("%v", x))
	}
}

// encodeBinaryDateTime writes the 7-byte packed form, or the 11-byte form
// when the value has non-zero microseconds.
func encodeBinaryDateTime(w *wire.Writer, t time.Time) {
	micros := t.Nanosecond() / 1000
	length := byte(7)
	if micros != 0 {
		length = 11
	}
	w.WriteByte_(length)
	w.WriteShort(uint16(t.Year()))
	w.WriteByte_(byte(t.Month()))
	w.WriteByte_(byte(t.Day()))
	w.WriteByte_(byte(t.Hour()))
	w.WriteByte_(byte(t.Minute()))
	w.WriteByte_(byte(t.Second()))
	if micros != 0 {
		w.WriteInt(uint32(micros))
	}
}

// EncodeBinaryDate writes the 4-byte date-only form.
func EncodeBinaryDate(w *wire.Writer, t time.Time) {
	w.WriteByte_(4)
	w.WriteShort(uint16(t.Year()))
	w.WriteByte_(byte(t.Month()))
	w.WriteByte_(byte(t.Day()))
}

// encodeBinaryTime writes the 8/12-byte sign+day32+hms+u32-micros form.
func encodeBinaryTime(w *wire.Writer, d time.Duration) {
	sign := byte(0)
	if d < 0 {
		sign = 1
		d = -d
	}
	days := int32(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	hour := byte(d / time.Hour)
	d -= time.Duration(hour) * time.Hour
	min := byte(d / time.Minute)
	d -= time.Duration(min) * time.Minute
	sec := byte(d / time.Second)
	d -= time.Duration(sec) * time.Second
	micros := uint32(d / time.Microsecond)

	length := byte(8)
	if micros != 0 {
		length = 12
	}
	w.WriteByte_(length)
	w.WriteByte_(sign)
	w.WriteInt(uint32(days))
	w.WriteByte_(hour)
	w.WriteByte_(min)
	w.WriteByte_(sec)
	if micros != 0 {
		w.WriteInt(micros)
	}
}

// EncodeExecute implements the COM_STMT_EXECUTE wire format:
// opcode, statement id, flag byte (CURSOR_TYPE_NO_CURSOR=0), iteration
// count (1), then — when the parameter list is non-empty — a NULL bitmap
// starting at bit 0, a "new params bound" flag, one DataType+unsigned-flag
// pair per parameter, then each non-NULL, non-long-data value.
func EncodeExecute(statementID uint32, params []Param, skipMeta bool) []byte {
	w := wire.NewWriter(1<<24-1, 0, false)
	w.WriteByte_(protoflags.ComStmtExecute)
	w.WriteInt(statementID)
	w.WriteByte_(0) // CURSOR_TYPE_NO_CURSOR
	w.WriteInt(1)   // iteration count

	if len(params) == 0 {
		return w.PayloadSince4()
	}

	bitmapLen := (len(params) + 7) / 8
	bitmap := make([]byte, bitmapLen)
	for i, p := range params {
		if p.Value == nil {
			bitmap[i/8] |= 1 << uint(i%8)
		}
	}
	w.WriteBytes(bitmap)
	w.WriteByte_(1) // new-params-bound flag

	for _, p := range params {
		if p.LongData {
			// already delivered via SEND_LONG_DATA; still needs a type
			// slot here.
			w.WriteByte_(byte(protoflags.TypeBlob))
			w.WriteByte_(0)
			continue
		}
		typ, unsigned := binaryType(p.Value)
		w.WriteByte_(byte(typ))
		if unsigned {
			w.WriteByte_(0x80)
		} else {
			w.WriteByte_(0)
		}
	}
	for _, p := range params {
		if p.LongData || p.Value == nil {
			continue
		}
		encodeParamBinary(w, p.Value)
	}
	return w.PayloadSince4()
}

// EncodeParamText renders v as inline SQL text, used by the
// text-protocol parameter-substitution path.
func EncodeParamText(v interface{}, noBackslashEscapes bool) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if x {
			return "true"
		}
		return "false"
	case int, int32, int64, uint, uint32, uint64:
		return fmt.Sprintf("%d", x)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case decimal.Decimal:
		return x.String()
	case string:
		return quoteText(x, noBackslashEscapes)
	case []byte:
		return "_BINARY " + quoteText(string(x), noBackslashEscapes)
	case time.Time:
		return quoteText(wire.FormatTextDateTime(x), noBackslashEscapes)
	case time.Duration:
		return quoteText(wire.FormatTextTime(x), noBackslashEscapes)
	case []interface{}:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = EncodeParamText(e, noBackslashEscapes)
		}
		return strings.Join(parts, ",")
	default:
		return quoteText(fmt.Sprintf("%v", x), noBackslashEscapes)
	}
}

func quoteText(s string, noBackslashEscapes bool) string {
	w := wire.NewWriter(len(s)+16, 0, noBackslashEscapes)
	w.WriteByte_('\'')
	w.WriteEscaped(s)
	w.WriteByte_('\'')
	return string(w.PayloadSince4())
}
