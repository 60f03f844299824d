// Package mconf implements the connection-option surface a client
// commonly needs. Configuration parsing as a distinct feature is out of
// this module's core scope, but the ambient option struct and its loaders
// are carried anyway: a Cfg-style struct loadable from either an ini.v1
// file or a structured TOML document via go-toml, since connection
// strings for this kind of client commonly arrive as either.
package mconf

import (
	"strconv"
	"time"

	"github.com/pelletier/go-toml"
	"gopkg.in/ini.v1"

	"github.com/rusher/mariadb-go/mconn"
	"github.com/rusher/mariadb-go/transport"
)

// Config mirrors every connection option a caller may set.
type Config struct {
	Host     string `ini:"host" toml:"host"`
	Port     int    `ini:"port" toml:"port"`
	Socket   string `ini:"socket" toml:"socket"`
	User     string `ini:"user" toml:"user"`
	Password string `ini:"password" toml:"password"`
	Database string `ini:"database" toml:"database"`

	UseBinary            bool `ini:"use_binary" toml:"use_binary"`
	UseBulk              bool `ini:"use_bulk" toml:"use_bulk"`
	UseAffectedRows      bool `ini:"use_affected_rows" toml:"use_affected_rows"`
	AllowMultiStatements bool `ini:"allow_multi_statements" toml:"allow_multi_statements"`
	AllowLocalInfile     bool `ini:"allow_local_infile" toml:"allow_local_infile"`
	UseCompression       bool `ini:"compress" toml:"compress"`
	ClientDeprecateEOF   bool `ini:"client_deprecate_eof" toml:"client_deprecate_eof"`
	MetadataCache        bool `ini:"metadata_cache" toml:"metadata_cache"`
	NoBackslashEscapes   bool `ini:"no_backslash_escapes" toml:"no_backslash_escapes"`

	PreparedCacheCapacity int `ini:"prepared_statement_cache_size" toml:"prepared_statement_cache_size"`
	MaxAllowedPacket      int `ini:"max_allowed_packet" toml:"max_allowed_packet"`

	ConnectTimeout string `ini:"connect_timeout" toml:"connect_timeout"`
	ReadTimeout    string `ini:"read_timeout" toml:"read_timeout"`
	WriteTimeout   string `ini:"write_timeout" toml:"write_timeout"`

	TCPNoDelay   bool   `ini:"tcp_nodelay" toml:"tcp_nodelay"`
	TCPKeepAlive bool   `ini:"tcp_keepalive" toml:"tcp_keepalive"`
	DumpQueriesOnException bool `ini:"dump_queries_on_exception" toml:"dump_queries_on_exception"`
	MaxQuerySizeToLog      int  `ini:"max_query_size_to_log" toml:"max_query_size_to_log"`
}

// Default returns field-by-field sane defaults rather than relying on Go
// zero values for anything timing-sensitive.
func Default() Config {
	return Config{
		Host:                  "127.0.0.1",
		Port:                  3306,
		UseBinary:             true,
		PreparedCacheCapacity: 250,
		MaxAllowedPacket:      64 * 1024 * 1024,
		ConnectTimeout:        "10s",
		ReadTimeout:           "0s",
		WriteTimeout:          "0s",
		TCPNoDelay:            true,
		TCPKeepAlive:          true,
		MaxQuerySizeToLog:     1024,
	}
}

// LoadIniFile loads a my.cnf-style option file, overlaying onto Default().
func LoadIniFile(path string, section string) (Config, error) {
	cfg := Default()
	f, err := ini.Load(path)
	if err != nil {
		return cfg, err
	}
	sec := f.Section(section)
	if err := sec.MapTo(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadTomlFile loads a structured TOML connection config, overlaying onto
// Default().
func LoadTomlFile(path string) (Config, error) {
	cfg := Default()
	tree, err := toml.LoadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := tree.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ToConnectionConfig translates the option surface into mconn.Config,
// resolving the textual timeout durations and the tcp-vs-unix network
// choice (named-pipe/Windows transports are out of scope, but tcp/unix
// dialing is not).
func (c Config) ToConnectionConfig() (mconn.Config, error) {
	connectTimeout, err := parseDurationOrDefault(c.ConnectTimeout, 10*time.Second)
	if err != nil {
		return mconn.Config{}, err
	}
	readTimeout, err := parseDurationOrDefault(c.ReadTimeout, 0)
	if err != nil {
		return mconn.Config{}, err
	}
	writeTimeout, err := parseDurationOrDefault(c.WriteTimeout, 0)
	if err != nil {
		return mconn.Config{}, err
	}

	network := "tcp"
	address := c.Host + ":" + strconv.Itoa(c.Port)
	if c.Socket != "" {
		network = "unix"
		address = c.Socket
	}

	return mconn.Config{
		Network:               network,
		Address:               address,
		Username:              c.User,
		Password:              c.Password,
		Database:              c.Database,
		UseBinary:             c.UseBinary,
		UseBulk:               c.UseBulk,
		UseAffectedRows:       c.UseAffectedRows,
		AllowMultiStatements:  c.AllowMultiStatements,
		AllowLocalInfile:      c.AllowLocalInfile,
		UseCompression:        c.UseCompression,
		DeprecateEOF:          c.ClientDeprecateEOF,
		MetadataCache:         c.MetadataCache,
		NoBackslashEscapes:    c.NoBackslashEscapes,
		PreparedCacheCapacity: c.PreparedCacheCapacity,
		MaxAllowedPacket:      c.MaxAllowedPacket,
		Transport: transport.Options{
			ConnectTimeout:  connectTimeout,
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			TCPNoDelay:      c.TCPNoDelay,
			TCPKeepAlive:    c.TCPKeepAlive,
			KeepAlivePeriod: 30 * time.Second,
			LingerSeconds:   -1,
		},
	}, nil
}

func parseDurationOrDefault(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}
