// Package transport implements a blocking socket layer: one goroutine,
// one mutex, direct read/write calls with no suspension point hidden
// inside a callback. Socket-option knobs (TCP_NODELAY, SO_KEEPALIVE,
// read/write buffer sizing) are applied to the dialed side at connect
// time.
package transport

import (
	"bufio"
	"context"
	"net"
	"time"

	"github.com/rusher/mariadb-go/merr"
	"github.com/rusher/mariadb-go/mlog"
)

// readAheadSize is the read-ahead buffer size; reads smaller than this
// are served out of it, reads at least this large made while nothing is
// buffered bypass it and read directly into the caller's buffer.
const readAheadSize = 32 * 1024

type Options struct {
	ConnectTimeout   time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	TCPNoDelay       bool
	TCPKeepAlive     bool
	KeepAlivePeriod  time.Duration
	LingerSeconds    int // -1: OS default, 0: RST on close
	ReadBufferSize   int
	WriteBufferSize  int
}

func DefaultOptions() Options {
	return Options{
		ConnectTimeout:  10 * time.Second,
		TCPNoDelay:      true,
		TCPKeepAlive:    true,
		KeepAlivePeriod: 30 * time.Second,
		LingerSeconds:   -1,
	}
}

// Transport is the socket a Codec frames packets over. All methods assume
// single-threaded use under the connection-level mutex; Transport itself
// does no locking.
type Transport struct {
	conn net.Conn
	br   *bufio.Reader
	opts Options
}

// Dial opens a connection on network ("tcp" or "unix") to addr; opts'
// socket options are applied only when the result is a TCP connection.
func Dial(ctx context.Context, network, addr string, opts Options) (*Transport, error) {
	d := net.Dialer{Timeout: opts.ConnectTimeout}
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, merr.Connection(err, "dialing %s", addr)
	}
	t := &Transport{conn: conn, opts: opts}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(opts.TCPNoDelay)
		_ = tcpConn.SetKeepAlive(opts.TCPKeepAlive)
		if opts.TCPKeepAlive && opts.KeepAlivePeriod > 0 {
			_ = tcpConn.SetKeepAlivePeriod(opts.KeepAlivePeriod)
		}
		if opts.ReadBufferSize > 0 {
			_ = tcpConn.SetReadBuffer(opts.ReadBufferSize)
		}
		if opts.WriteBufferSize > 0 {
			_ = tcpConn.SetWriteBuffer(opts.WriteBufferSize)
		}
		if opts.LingerSeconds >= 0 {
			_ = tcpConn.SetLinger(opts.LingerSeconds)
		}
	}
	t.br = bufio.NewReaderSize(conn, readAheadSize)
	return t, nil
}

// NewFromConn wraps an already-established net.Conn without applying any
// socket options; only opts' read/write timeouts take effect.
func NewFromConn(conn net.Conn, opts Options) *Transport {
	return &Transport{conn: conn, br: bufio.NewReaderSize(conn, readAheadSize), opts: opts}
}

// Read implements io.Reader: small reads are served from the read-ahead
// buffer; reads at or above its capacity, made while nothing is buffered,
// bypass it and land directly in p.
func (t *Transport) Read(p []byte) (int, error) {
	if t.opts.ReadTimeout > 0 {
		_ = t.conn.SetReadDeadline(time.Now().Add(t.opts.ReadTimeout))
	}
	if len(p) >= readAheadSize && t.br.Buffered() == 0 {
		n, err := t.conn.Read(p)
		return n, wrapIOErr(err)
	}
	n, err := t.br.Read(p)
	return n, wrapIOErr(err)
}

func (t *Transport) Write(p []byte) (int, error) {
	if t.opts.WriteTimeout > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.opts.WriteTimeout))
	}
	n, err := t.conn.Write(p)
	return n, wrapIOErr(err)
}

func wrapIOErr(err error) error {
	if err == nil {
		return nil
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		mlog.Errorf("socket i/o timed out: %v", err)
		return merr.Timeout(err, "socket i/o timed out")
	}
	mlog.Errorf("fatal socket i/o error: %v", err)
	return err
}

func (t *Transport) Close() error { return t.conn.Close() }

func (t *Transport) LocalAddr() net.Addr  { return t.conn.LocalAddr() }
func (t *Transport) RemoteAddr() net.Addr { return t.conn.RemoteAddr() }

// SetDeadline is used by the connection core's Close to bound the QUIT
// exchange.
func (t *Transport) SetDeadline(dl time.Time) error { return t.conn.SetDeadline(dl) }
