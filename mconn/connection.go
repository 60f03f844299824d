// Package mconn implements the top-level per-connection object wiring
// transport, auth, the command engine and the prepared-statement cache
// together, serialized behind one lock per connection. Closing a
// connection sends a graceful QUIT before tearing down the socket.
package mconn

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/juju/errors"

	"github.com/rusher/mariadb-go/auth"
	"github.com/rusher/mariadb-go/command"
	"github.com/rusher/mariadb-go/merr"
	"github.com/rusher/mariadb-go/mlog"
	"github.com/rusher/mariadb-go/packet"
	"github.com/rusher/mariadb-go/protoflags"
	"github.com/rusher/mariadb-go/stmtcache"
	"github.com/rusher/mariadb-go/transport"
)

// Config is everything needed to open and authenticate a connection.
type Config struct {
	Network  string // "tcp" or "unix"
	Address  string
	Username string
	Password string
	Database string

	UseBinary            bool
	UseBulk              bool
	UseAffectedRows      bool
	AllowMultiStatements bool
	AllowLocalInfile     bool
	UseCompression       bool
	DeprecateEOF         bool
	MetadataCache        bool
	NoBackslashEscapes   bool
	ConnectAttributes    map[string]string

	PreparedCacheCapacity int
	MaxAllowedPacket      int
	Transport             transport.Options
}

// Connection is a single, non-concurrent-safe connection to the server.
// mu is acquired by every public method for the duration of its wire
// exchange; methods never call each other while already holding mu —
// internal composition happens at the command.Engine level instead, which
// gives the same "one lock per logical operation" discipline as a
// reentrant lock without needing a real recursive mutex.
type Connection struct {
	mu sync.Mutex

	cfg       Config
	transport *transport.Transport
	codec     *packet.Codec
	engine    *command.Engine
	session   *command.Session
	cache     *stmtcache.Cache

	threadID       uint32
	serverVersion  string
	isMariaDB      bool
	negotiatedCaps protoflags.Capability
	autocommit     bool
	closed         bool
}

// Open dials, performs the handshake, and returns a ready Connection.
func Open(ctx context.Context, cfg Config) (*Connection, error) {
	mlog.Debugf("dialing %s %s", cfg.Network, cfg.Address)
	t, err := transport.Dial(ctx, cfg.Network, cfg.Address, cfg.Transport)
	if err != nil {
		return nil, err
	}

	codec := packet.New(t)
	c := &Connection{cfg: cfg, transport: t, codec: codec, autocommit: true}

	if err := c.handshake(); err != nil {
		mlog.Errorf("handshake with %s failed: %v", cfg.Address, err)
		_ = t.Close()
		return nil, err
	}
	mlog.Debugf("handshake with %s complete: thread_id=%d server_version=%s mariadb=%v",
		cfg.Address, c.threadID, c.serverVersion, c.isMariaDB)

	c.session = &command.Session{
		Codec:              codec,
		Capabilities:       c.negotiatedCaps,
		Database:           cfg.Database,
		SkipMetadata:       cfg.MetadataCache,
		DeprecateEOF:       cfg.DeprecateEOF,
		ExtendedTypeInfo:   c.negotiatedCaps.Has(protoflags.MariadbClientExtendedTypeInfo),
		NoBackslashEscapes: cfg.NoBackslashEscapes,
	}
	c.engine = command.New(c.session)
	c.cache = stmtcache.New(cfg.PreparedCacheCapacity, func(stmtID uint32) error {
		return c.engine.CloseStmt(stmtID)
	})
	return c, nil
}

func (c *Connection) handshake() error {
	greetingPayload, err := c.codec.ReadPacket()
	if err != nil {
		return err
	}
	greeting, err := auth.DecodeGreeting(greetingPayload)
	if err != nil {
		return err
	}
	c.threadID = greeting.ThreadID
	c.serverVersion = greeting.ServerVersion
	c.isMariaDB = greeting.IsMariaDB

	clientCfg := auth.ClientConfig{
		Username:             c.cfg.Username,
		Password:             c.cfg.Password,
		Database:             c.cfg.Database,
		UseBinary:            c.cfg.UseBinary,
		UseBulk:              c.cfg.UseBulk,
		UseAffectedRows:      c.cfg.UseAffectedRows,
		AllowMultiStatements: c.cfg.AllowMultiStatements,
		AllowLocalInfile:     c.cfg.AllowLocalInfile,
		UseCompression:       c.cfg.UseCompression,
		DeprecateEOF:         c.cfg.DeprecateEOF,
		MetadataCache:        c.cfg.MetadataCache,
		ConnectAttributes:    c.cfg.ConnectAttributes,
	}
	caps := auth.NegotiateCapabilities(clientCfg, greeting.Capabilities)
	c.negotiatedCaps = caps

	digest := auth.NativePasswordDigest(c.cfg.Password, greeting.Seed)
	resp := auth.HandshakeResponse{
		ClientCapabilities: caps,
		Collation:          auth.PickExchangeCollation(greeting.Collation),
		Username:           c.cfg.Username,
		AuthResponse:       digest,
		Database:           c.cfg.Database,
		AuthPluginName:     greeting.AuthPluginName,
		ServerHost:         c.cfg.Address,
		ConnectAttrs:       c.cfg.ConnectAttributes,
	}
	payload := auth.EncodeResponse(resp)

	c.codec.SetSequence(1)
	if err := c.codec.WritePacket(payload); err != nil {
		return errors.Annotate(err, "sending handshake response")
	}

	respPayload, err := c.codec.ReadPacket()
	if err != nil {
		return err
	}
	outcome, err := auth.DecodeResponseOutcome(respPayload)
	if err != nil {
		return errors.Annotate(err, "handshake rejected")
	}
	if outcome.AuthSwitchName != "" && outcome.AuthSwitchName != "mysql_native_password" {
		return merr.Connection(nil, "auth plugin %q is not supported", outcome.AuthSwitchName)
	}
	return nil
}

func (c *Connection) checkOpen() error {
	if c.closed {
		return merr.Connection(nil, "connection is closed")
	}
	return nil
}

// Query implements text-query execution.
func (c *Connection) Query(sql string) (*command.Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	out, err := c.engine.Query(sql)
	c.postExchange(err)
	return out, err
}

// ExecutePrepared implements the binary parameterized path.
func (c *Connection) ExecutePrepared(sql string, params []command.Param) (*command.Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	out, err := c.engine.ExecutePrepared(c.cache, sql, params)
	c.postExchange(err)
	return out, err
}

// BulkExecute implements the bulk/batched execution path.
func (c *Connection) BulkExecute(sql string, rows []command.BulkRow, useBulk bool) (*command.Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	out, err := c.engine.BulkExecute(c.cache, sql, rows, useBulk, c.cfg.MaxAllowedPacket)
	c.postExchange(err)
	return out, err
}

// postExchange destroys the connection on any fatal error: a socket
// timeout interrupts blocked I/O and surfaces as a fatal connection
// error, after which the connection must be closed.
func (c *Connection) postExchange(err error) {
	if me, ok := err.(*merr.Error); ok && me.IsFatal() {
		mlog.Errorf("fatal error on thread_id=%d, closing connection: %v", c.threadID, me)
		_ = c.forceCloseLocked() // callers already hold mu
	}
}

// Autocommit implements get/set with a round-trip only
// when the value changes.
func (c *Connection) Autocommit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autocommit
}

func (c *Connection) SetAutocommit(v bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v == c.autocommit {
		return nil
	}
	if err := c.checkOpen(); err != nil {
		return err
	}
	sql := "SET autocommit=0"
	if v {
		sql = "SET autocommit=1"
	}
	_, err := c.engine.Query(sql)
	c.postExchange(err)
	if err == nil {
		c.autocommit = v
	}
	return err
}

// Commit and Rollback are no-ops unless the session is currently in a
// transaction.
func (c *Connection) Commit() error   { return c.endTransaction("COMMIT") }
func (c *Connection) Rollback() error { return c.endTransaction("ROLLBACK") }

func (c *Connection) endTransaction(sql string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	if !c.session.ServerStatus.Has(protoflags.StatusInTransaction) {
		return nil
	}
	_, err := c.engine.Query(sql)
	c.postExchange(err)
	return err
}

// Ping implements "ping".
func (c *Connection) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	err := c.engine.Ping()
	c.postExchange(err)
	return err
}

// IsValid implements "is_valid": PING returning true/false
// rather than propagating the error.
func (c *Connection) IsValid() bool {
	return c.Ping() == nil
}

func (c *Connection) ThreadID() uint32      { return c.threadID }
func (c *Connection) ServerVersion() string { return c.serverVersion }
func (c *Connection) IsMariaDB() bool       { return c.isMariaDB }

// Close implements resource discipline: apply a short deadline, send
// QUIT (errors ignored), close the socket.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	_ = c.transport.SetDeadline(time.Now().Add(2 * time.Second))
	_ = c.engine.Quit()
	return c.forceCloseLocked()
}

func (c *Connection) forceClose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.forceCloseLocked()
}

func (c *Connection) forceCloseLocked() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if c.transport == nil {
		return nil
	}
	return c.transport.Close()
}

// CancelCurrentQuery implements cancellation: open an
// auxiliary connection with the same config, issue KILL QUERY, close it.
// There is no cooperative cancellation of the original connection.
func (c *Connection) CancelCurrentQuery(ctx context.Context) error {
	aux, err := Open(ctx, c.cfg)
	if err != nil {
		return errors.Annotate(err, "opening auxiliary connection for cancel_current_query")
	}
	defer aux.Close()
	_, err = aux.Query("KILL QUERY " + strconv.FormatUint(uint64(c.threadID), 10))
	return err
}
