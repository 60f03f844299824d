package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rusher/mariadb-go/merr"
)

func TestReadWriteRoundTrip(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	ct := NewFromConn(client, DefaultOptions())

	go func() {
		_, _ = server.Write([]byte("hello"))
	}()

	buf := make([]byte, 5)
	n, err := ct.Read(buf)
	assert.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(buf))
}

func TestWriteTimeoutWrapsAsTimeoutError(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	ct := NewFromConn(client, Options{WriteTimeout: time.Millisecond})
	// net.Pipe is unbuffered and synchronous, so a write with no reader
	// blocks past the deadline and must surface as a timeout.
	_, err := ct.Write([]byte("x"))
	assert.Error(t, err)
	var me *merr.Error
	if assert.ErrorAs(t, err, &me) {
		assert.Equal(t, merr.KindTimeout, me.Kind)
	}
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	assert.True(t, opts.TCPNoDelay)
	assert.True(t, opts.TCPKeepAlive)
	assert.Equal(t, -1, opts.LingerSeconds)
}
