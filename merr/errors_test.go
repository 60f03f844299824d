package merr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyKind(t *testing.T) {
	assert.Equal(t, KindSyntaxError, ClassifyKind("42000"))
	assert.Equal(t, KindInvalidAuthorization, ClassifyKind("28000"))
	assert.Equal(t, KindIntegrityConstraintViolation, ClassifyKind("23000"))
	assert.Equal(t, KindNonTransientConnection, ClassifyKind("08001"))
	assert.Equal(t, KindTimeout, ClassifyKind("70100"))
	assert.Equal(t, KindGeneric, ClassifyKind("HY000"))
	assert.Equal(t, KindGeneric, ClassifyKind(""))
}

func TestFromServerBuildsErrorWithCode(t *testing.T) {
	e := FromServer(1064, "42000", "syntax error", "COM_QUERY")
	assert.Equal(t, KindSyntaxError, e.Kind)
	assert.Equal(t, uint16(1064), e.Code)
	assert.Contains(t, e.Error(), "syntax error")
	assert.Contains(t, e.Error(), "COM_QUERY")
	assert.True(t, FromServerErr(e))
}

func TestConnectionWrapsCauseAndIsFatal(t *testing.T) {
	cause := errors.New("EOF")
	e := Connection(cause, "reading header")
	assert.Equal(t, KindNonTransientConnection, e.Kind)
	assert.True(t, e.IsFatal())
	assert.ErrorIs(t, e, cause)
}

func TestMaxAllowedPacketNotFatal(t *testing.T) {
	e := MaxAllowedPacket(100, 50, 120)
	assert.Equal(t, KindMaxAllowedPacket, e.Kind)
	assert.False(t, e.IsFatal())
}

func TestWithSQLTruncatesLongQuery(t *testing.T) {
	e := Connection(nil, "boom")
	sql := "SELECT * FROM a_very_long_table_name_that_exceeds_the_limit"
	withSQL := e.WithSQL(sql, 20)
	assert.Len(t, withSQL.SQL, 20)
	assert.True(t, len(withSQL.SQL) < len(sql))
}

func TestWithSQLDoesNotMutateOriginal(t *testing.T) {
	e := Connection(nil, "boom")
	_ = e.WithSQL("SELECT 1", 100)
	assert.Empty(t, e.SQL)
}

func TestServerErrorKindsAreNotFatal(t *testing.T) {
	e := FromServer(1045, "28000", "access denied", "")
	assert.False(t, e.IsFatal())
}

func TestTruncatedPacketIsFatal(t *testing.T) {
	e := TruncatedPacket(4, 1)
	assert.True(t, e.IsFatal())
	assert.Contains(t, e.Error(), "truncated packet")
}
