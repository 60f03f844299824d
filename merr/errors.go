// Package merr implements the exception taxonomy used throughout this
// module: a single Error type classified by SQLSTATE class, plus two
// locally-raised kinds (MaxAllowedPacket, TruncatedPacket) that never come
// from the wire. The server's ERR packet carries a field count, error
// number, an optional sqlstate marker and sqlstate, and a message. Errors
// lean on github.com/pkg/errors (WithStack) for causal-chain capture;
// annotation with github.com/juju/errors happens in mconn, not here.
package merr

import (
	"fmt"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// Kind classifies an Error by SQLSTATE class into an exception kind.
type Kind int

const (
	KindGeneric Kind = iota
	KindNotSupported
	KindSyntaxError
	KindInvalidAuthorization
	KindIntegrityConstraintViolation
	KindNonTransientConnection
	KindTransientConnection
	KindTimeout
	KindMaxAllowedPacket
)

func (k Kind) String() string {
	switch k {
	case KindNotSupported:
		return "NotSupported"
	case KindSyntaxError:
		return "SyntaxError"
	case KindInvalidAuthorization:
		return "InvalidAuthorization"
	case KindIntegrityConstraintViolation:
		return "IntegrityConstraintViolation"
	case KindNonTransientConnection:
		return "NonTransientConnection"
	case KindTransientConnection:
		return "TransientConnection"
	case KindTimeout:
		return "Timeout"
	case KindMaxAllowedPacket:
		return "MaxAllowedPacket"
	default:
		return "Generic"
	}
}

// DefaultSqlstate mirrors server/protocol/error.go's DefaultSqlstate: a
// generic SQLSTATE used when none is known.
const DefaultSqlstate = "HY000"

// Error is the single error type raised anywhere in this module. It always
// carries a classified Kind, the vendor error code and SQLSTATE the server
// sent (or a synthesized one for locally-raised errors), and optionally the
// SQL text that produced it and an underlying cause.
type Error struct {
	Kind     Kind
	Message  string
	SQLState string
	Code     uint16
	SQL      string
	cause    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.SQLState != "" {
		fmt.Fprintf(&b, " (sqlstate %s)", e.SQLState)
	}
	if e.SQL != "" {
		fmt.Fprintf(&b, "\nquery: %s", e.SQL)
	}
	return b.String()
}

// Unwrap lets errors.Is/errors.As see through to the cause, while Cause
// keeps pkg/errors callers (github.com/pkg/errors.Cause) working the same
// way the rest of the module's error chains do.
func (e *Error) Unwrap() error { return e.cause }
func (e *Error) Cause() error  { return e.cause }

// ClassifyKind maps a SQLSTATE class to a Kind.
func ClassifyKind(sqlstate string) Kind {
	if len(sqlstate) < 2 {
		return KindGeneric
	}
	if sqlstate == "70100" {
		return KindTimeout
	}
	switch sqlstate[:2] {
	case "0A":
		return KindNotSupported
	case "22", "26", "2F", "20", "42", "XA":
		return KindSyntaxError
	case "25", "28":
		return KindInvalidAuthorization
	case "21", "23":
		return KindIntegrityConstraintViolation
	case "08":
		return KindNonTransientConnection
	default:
		if strings.HasPrefix(sqlstate, "HY") {
			return KindGeneric
		}
		return KindTransientConnection
	}
}

// FromServer builds an Error from a decoded ERR packet.
func FromServer(code uint16, sqlstate, message, commandDescription string) *Error {
	msg := message
	if commandDescription != "" {
		msg = fmt.Sprintf("%s (%s)", message, commandDescription)
	}
	return &Error{
		Kind:     ClassifyKind(sqlstate),
		Message:  msg,
		SQLState: sqlstate,
		Code:     code,
	}
}

// Connection wraps cause as a fatal NonTransientConnection error: for
// protocol-level failures (bad header, bad length-encoded int, unknown
// header byte during auth) that must destroy the socket.
func Connection(cause error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:     KindNonTransientConnection,
		Message:  fmt.Sprintf(format, args...),
		SQLState: "08000",
		cause:    pkgerrors.WithStack(cause),
	}
}

// Timeout wraps a socket-timeout cause.
func Timeout(cause error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:     KindTimeout,
		Message:  fmt.Sprintf(format, args...),
		SQLState: "70100",
		cause:    pkgerrors.WithStack(cause),
	}
}

// MaxAllowedPacket reports a writer-overflow guard tripping: it aborts a
// command locally without sending any bytes, and — unlike every other
// Kind here — leaves the connection usable afterward.
func MaxAllowedPacket(cmdLength, payloadLen, maxAllowed int) *Error {
	return &Error{
		Kind: KindMaxAllowedPacket,
		Message: fmt.Sprintf(
			"packet of %d bytes (already queued %d) exceeds max_allowed_packet=%d",
			payloadLen, cmdLength, maxAllowed),
		SQLState: "HY000",
	}
}

// TruncatedPacket is raised by wire.Reader on buffer underflow. It is always fatal to
// the connection: a truncated packet means framing has desynchronized.
func TruncatedPacket(want, have int) *Error {
	return &Error{
		Kind:     KindNonTransientConnection,
		Message:  fmt.Sprintf("truncated packet: wanted %d bytes, had %d", want, have),
		SQLState: "08000",
	}
}

// WithSQL attaches the offending SQL text, truncated to maxLen-3 bytes with
// an ellipsis, the way dump_queries_on_exception logs only the first
// max_query_size_to_log-3 bytes of a failing query.
func (e *Error) WithSQL(sql string, maxLen int) *Error {
	if maxLen > 0 && len(sql) > maxLen-3 && maxLen > 3 {
		sql = sql[:maxLen-3] + "..."
	}
	cp := *e
	cp.SQL = sql
	return &cp
}

// IsFatal reports whether the connection must be discarded after this
// error: everything except a server-returned ERR packet and
// a locally-aborted MaxAllowedPacket write.
func (e *Error) IsFatal() bool {
	if FromServerErr(e) {
		return false
	}
	switch e.Kind {
	case KindMaxAllowedPacket:
		return false
	case KindSyntaxError, KindInvalidAuthorization, KindIntegrityConstraintViolation, KindNotSupported:
		// these kinds come from server ERR packets in practice.
		return false
	default:
		return true
	}
}

// FromServerErr reports whether an Error came from a decoded server ERR
// packet response (as opposed to a local/transport failure); such errors
// leave the connection usable and must not close the socket.
func FromServerErr(e *Error) bool {
	return e.Code != 0
}
