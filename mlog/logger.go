// Package mlog provides the module's diagnostic logging: a logrus backend
// with a custom formatter that stamps caller info, sized for a client
// library rather than a server — connect/handshake/command tracing at
// Debug, fatal I/O at Error, nothing at Info by default since a library
// should stay quiet unless asked.
package mlog

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger is the package-level logger every other package in this module
// logs through. It starts at Warn level (quieter than logrus' default,
// Info), with output left at logrus' default of stderr, so Debug/Info
// tracing stays silent until a caller calls SetLevel/SetOutput, matching a
// library's "don't log unless asked" norm.
var Logger = logrus.New()

func init() {
	Logger.SetFormatter(&CallerFormatter{})
	Logger.SetLevel(logrus.WarnLevel)
}

// CallerFormatter renders timestamp, level, caller file:function:line,
// message — with the logrus/runtime frames skipped so the caller is
// always module code.
type CallerFormatter struct{}

func (f *CallerFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	level := strings.ToUpper(entry.Level.String())
	if len(level) > 4 {
		level = level[:4]
	}
	msg := fmt.Sprintf("[%s] [%s] (%s) %s\n",
		entry.Time.Format("15:04:05.000"),
		level,
		caller(),
		entry.Message)
	return []byte(msg), nil
}

func caller() string {
	for i := 2; i < 20; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		if strings.Contains(file, "/logrus/") || strings.Contains(file, "/mlog/") {
			continue
		}
		fn := runtime.FuncForPC(pc).Name()
		return fmt.Sprintf("%s:%s:%d", filepath.Base(file), fn, line)
	}
	return "unknown:unknown:0"
}

func SetLevel(level string) {
	switch strings.ToLower(level) {
	case "debug":
		Logger.SetLevel(logrus.DebugLevel)
	case "info":
		Logger.SetLevel(logrus.InfoLevel)
	case "warn", "warning":
		Logger.SetLevel(logrus.WarnLevel)
	case "error":
		Logger.SetLevel(logrus.ErrorLevel)
	default:
		Logger.SetLevel(logrus.WarnLevel)
	}
}

// Conn returns a field-scoped entry for logging about one connection
// (thread id is the server-assigned connection id from the handshake).
func Conn(threadID uint32) *logrus.Entry {
	return Logger.WithField("thread_id", threadID)
}

func Debugf(format string, args ...interface{}) { Logger.Debugf(format, args...) }
func Infof(format string, args ...interface{})  { Logger.Infof(format, args...) }
func Warnf(format string, args ...interface{})  { Logger.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { Logger.Errorf(format, args...) }
