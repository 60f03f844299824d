package mconf

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 3306, cfg.Port)
	assert.True(t, cfg.UseBinary)
	assert.Equal(t, 250, cfg.PreparedCacheCapacity)
}

func TestToConnectionConfigTCP(t *testing.T) {
	cfg := Default()
	cfg.Host = "db.example.com"
	cfg.Port = 3307
	cfg.User = "app"

	cc, err := cfg.ToConnectionConfig()
	assert.NoError(t, err)
	assert.Equal(t, "tcp", cc.Network)
	assert.Equal(t, "db.example.com:3307", cc.Address)
	assert.Equal(t, "app", cc.Username)
}

func TestToConnectionConfigUnixSocket(t *testing.T) {
	cfg := Default()
	cfg.Socket = "/var/run/mysqld/mysqld.sock"

	cc, err := cfg.ToConnectionConfig()
	assert.NoError(t, err)
	assert.Equal(t, "unix", cc.Network)
	assert.Equal(t, "/var/run/mysqld/mysqld.sock", cc.Address)
}

func TestToConnectionConfigInvalidTimeout(t *testing.T) {
	cfg := Default()
	cfg.ConnectTimeout = "not-a-duration"
	_, err := cfg.ToConnectionConfig()
	assert.Error(t, err)
}

func TestLoadIniFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "my-*.cnf")
	assert.NoError(t, err)
	_, err = f.WriteString("[client]\nhost = 10.0.0.5\nport = 3310\nuser = alice\n")
	assert.NoError(t, err)
	assert.NoError(t, f.Close())

	cfg, err := LoadIniFile(f.Name(), "client")
	assert.NoError(t, err)
	assert.Equal(t, "10.0.0.5", cfg.Host)
	assert.Equal(t, 3310, cfg.Port)
	assert.Equal(t, "alice", cfg.User)
	// defaults not present in the file are preserved
	assert.True(t, cfg.UseBinary)
}

func TestLoadTomlFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "conn-*.toml")
	assert.NoError(t, err)
	_, err = f.WriteString("host = \"10.0.0.6\"\nport = 3311\nuse_bulk = true\n")
	assert.NoError(t, err)
	assert.NoError(t, f.Close())

	cfg, err := LoadTomlFile(f.Name())
	assert.NoError(t, err)
	assert.Equal(t, "10.0.0.6", cfg.Host)
	assert.Equal(t, 3311, cfg.Port)
	assert.True(t, cfg.UseBulk)
}
