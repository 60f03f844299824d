package mlog

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestCallerFormatterProducesBracketedLevelAndMessage(t *testing.T) {
	f := &CallerFormatter{}
	entry := &logrus.Entry{Level: logrus.InfoLevel, Message: "connected"}
	out, err := f.Format(entry)
	assert.NoError(t, err)
	assert.Contains(t, string(out), "[INFO]")
	assert.Contains(t, string(out), "connected")
}

func TestCallerFormatterTruncatesLongLevelNames(t *testing.T) {
	f := &CallerFormatter{}
	entry := &logrus.Entry{Level: logrus.WarnLevel, Message: "retrying"}
	out, err := f.Format(entry)
	assert.NoError(t, err)
	assert.Contains(t, string(out), "[WARN]")
}

func TestSetLevelMapsNames(t *testing.T) {
	defer SetLevel("warn")

	SetLevel("debug")
	assert.Equal(t, logrus.DebugLevel, Logger.GetLevel())

	SetLevel("error")
	assert.Equal(t, logrus.ErrorLevel, Logger.GetLevel())

	SetLevel("bogus")
	assert.Equal(t, logrus.WarnLevel, Logger.GetLevel())
}

func TestConnReturnsEntryWithThreadIDField(t *testing.T) {
	entry := Conn(42)
	assert.Equal(t, uint32(42), entry.Data["thread_id"])
}
