// Package auth implements HandshakeEngine: decoding the
// server's initial handshake packet, negotiating capabilities, and
// encoding HandshakeResponse41. The handshake packet carries protocol
// version, server version, connection id, two auth-data chunks split
// around a capability/charset/status block, reserved bytes, and a plugin
// name.
package auth

import (
	"crypto/sha1"
	"runtime"
	"strings"

	"github.com/rusher/mariadb-go/merr"
	"github.com/rusher/mariadb-go/protoflags"
	"github.com/rusher/mariadb-go/wire"
)

// ServerGreeting is the decoded initial handshake packet.
type ServerGreeting struct {
	ProtocolVersion  uint8
	ServerVersion    string
	ThreadID         uint32
	Seed             []byte
	Capabilities     protoflags.Capability
	Collation        uint8
	ServerStatus     protoflags.ServerStatus
	AuthPluginName   string
	IsMariaDB        bool
}

// DecodeGreeting decodes the protocol version, server version, thread id,
// seed, capabilities, collation, and auth plugin name.
func DecodeGreeting(payload []byte) (*ServerGreeting, error) {
	r := wire.NewReader(payload)
	g := &ServerGreeting{}

	pv, err := r.U8()
	if err != nil {
		return nil, err
	}
	g.ProtocolVersion = pv
	if pv != 0x0a {
		return nil, merr.Connection(nil, "unsupported handshake protocol version %d", pv)
	}

	version, err := r.CStr()
	if err != nil {
		return nil, err
	}
	stripped := version
	hadPrefix := false
	if strings.HasPrefix(version, "5.5.5-") {
		stripped = version[len("5.5.5-"):]
		hadPrefix = true
	}
	g.ServerVersion = stripped

	if g.ThreadID, err = r.U32(); err != nil {
		return nil, err
	}
	seed1, err := r.FixedBytes(8)
	if err != nil {
		return nil, err
	}
	seed := append([]byte{}, seed1...)
	if err := r.Skip(1); err != nil { // filler
		return nil, err
	}
	capLow, err := r.U16()
	if err != nil {
		return nil, err
	}
	if g.Collation, err = r.U8(); err != nil {
		return nil, err
	}
	statusRaw, err := r.U16()
	if err != nil {
		return nil, err
	}
	g.ServerStatus = protoflags.ServerStatus(statusRaw)
	capHigh, err := r.U16()
	if err != nil {
		return nil, err
	}
	caps := protoflags.Capability(capLow) | protoflags.Capability(capHigh)<<16

	saltLen, err := r.U8()
	if err != nil {
		return nil, err
	}
	if err := r.Skip(6); err != nil { // reserved
		return nil, err
	}
	mariadbCaps, err := r.U32()
	if err != nil {
		return nil, err
	}

	seed2Len := 12
	if v := int(saltLen) - 9; v > seed2Len {
		seed2Len = v
	}
	if seed2Len > 0 && r.Remaining() >= seed2Len {
		seed2, err := r.FixedBytes(seed2Len)
		if err != nil {
			return nil, err
		}
		seed = append(seed, seed2...)
		_ = r.Skip(1) // trailing NUL, tolerate its absence on short reads
	}

	if r.Remaining() > 0 {
		if name, err := r.CStr(); err == nil {
			g.AuthPluginName = name
		} else {
			g.AuthPluginName = strings.TrimRight(string(r.Bytes()[r.Pos():]), "\x00")
		}
	}
	if g.AuthPluginName == "" {
		g.AuthPluginName = "mysql_native_password"
	}

	g.IsMariaDB = hadPrefix || strings.Contains(g.ServerVersion, "MariaDB") || !caps.Has(protoflags.ClientMySQL)
	if g.IsMariaDB {
		caps |= protoflags.Capability(mariadbCaps) << 32
	}
	g.Capabilities = caps
	g.Seed = seed
	return g, nil
}

// ClientConfig is the subset of connection configuration HandshakeEngine
// needs.
type ClientConfig struct {
	Username           string
	Password           string
	Database           string
	UseBinary          bool
	UseBulk            bool
	UseAffectedRows    bool
	AllowMultiStatements bool
	AllowLocalInfile   bool
	UseCompression     bool
	DeprecateEOF       bool
	MetadataCache      bool
	ConnectAttributes  map[string]string
}

// NegotiateCapabilities ANDs a fixed base capability set plus
// config-driven optional bits against what the server advertised.
func NegotiateCapabilities(cfg ClientConfig, server protoflags.Capability) protoflags.Capability {
	caps := protoflags.ClientProtocol41 |
		protoflags.ClientTransactions |
		protoflags.ClientSecureConnection |
		protoflags.ClientMultiResults |
		protoflags.ClientPSMultiResults |
		protoflags.ClientPluginAuth |
		protoflags.ClientConnectAttrs |
		protoflags.ClientPluginAuthLenencClientData |
		protoflags.ClientSessionTrack |
		protoflags.MariadbClientExtendedTypeInfo |
		protoflags.ClientIgnoreSpace

	if cfg.UseBinary && cfg.MetadataCache && server.Has(protoflags.MariadbClientCacheMetadata) {
		caps |= protoflags.MariadbClientCacheMetadata
	}
	if cfg.UseBulk {
		caps |= protoflags.MariadbClientStmtBulkOperations
	}
	if !cfg.UseAffectedRows {
		caps |= protoflags.ClientFoundRows
	}
	if cfg.AllowMultiStatements {
		caps |= protoflags.ClientMultiStatements
	}
	if cfg.AllowLocalInfile {
		caps |= protoflags.ClientLocalFiles
	}
	if cfg.UseCompression {
		caps |= protoflags.ClientCompress
	}
	if cfg.DeprecateEOF {
		caps |= protoflags.ClientDeprecateEOF
	}
	if cfg.Database != "" {
		caps |= protoflags.ClientConnectWithDB
	}
	return caps & server
}

// PickExchangeCollation picks a utf8mb4 collation the server supports,
// falling back to the server's default when it already is one.
func PickExchangeCollation(serverDefault uint8) uint8 {
	d := int(serverDefault)
	if d == 45 || d == 46 || (d >= 224 && d <= 247) {
		return serverDefault
	}
	return 224
}

// HandshakeResponse is the fully assembled client reply.
type HandshakeResponse struct {
	ClientCapabilities protoflags.Capability
	Collation          uint8
	Username           string
	AuthResponse       []byte
	Database           string
	AuthPluginName     string
	ServerHost         string
	ConnectAttrs       map[string]string
}

// clientVersion is reported in the connection-attributes block.
const clientVersion = "1.0.0"

// EncodeResponse builds the HandshakeResponse41 payload.
func EncodeResponse(resp HandshakeResponse) []byte {
	w := wire.NewWriter(1<<24-1, 0, false)

	w.WriteInt(uint32(resp.ClientCapabilities))
	w.WriteInt(1 << 30) // max packet size: 1 GiB
	w.WriteByte_(resp.Collation)
	w.WriteBytes(make([]byte, 19)) // reserved

	hasMariaDBExt := resp.ClientCapabilities>>32 != 0
	if hasMariaDBExt {
		w.WriteInt(uint32(resp.ClientCapabilities >> 32))
	} else {
		w.WriteInt(0)
	}

	w.WriteNullTerminated([]byte(resp.Username))

	switch {
	case resp.ClientCapabilities.Has(protoflags.ClientPluginAuthLenencClientData):
		w.WriteLengthEncodedBytes(resp.AuthResponse)
	case resp.ClientCapabilities.Has(protoflags.ClientSecureConnection):
		w.WriteByte_(byte(len(resp.AuthResponse)))
		w.WriteBytes(resp.AuthResponse)
	default:
		w.WriteNullTerminated(resp.AuthResponse)
	}

	if resp.ClientCapabilities.Has(protoflags.ClientConnectWithDB) {
		w.WriteNullTerminated([]byte(resp.Database))
	}
	if resp.ClientCapabilities.Has(protoflags.ClientPluginAuth) {
		w.WriteNullTerminated([]byte(resp.AuthPluginName))
	}
	if resp.ClientCapabilities.Has(protoflags.ClientConnectAttrs) {
		encodeConnectAttrs(w, resp.ServerHost, resp.ConnectAttrs)
	}

	return w.PayloadSince4()
}

func encodeConnectAttrs(w *wire.Writer, serverHost string, extra map[string]string) {
	attrs := map[string]string{
		"_client_name":     "mariadb-go",
		"_client_version":  clientVersion,
		"_server_host":     serverHost,
		"_os":              goos(),
		"language_version": runtime.Version(),
	}
	for k, v := range extra {
		attrs[k] = v
	}

	inner := wire.NewWriter(1<<24-1, 0, false)
	for k, v := range attrs {
		inner.WriteLengthEncodedString(k)
		inner.WriteLengthEncodedString(v)
	}
	body := inner.PayloadSince4()
	w.WriteLengthEncodedBytes(body)
}

// NativePasswordDigest implements mysql_native_password
// algorithm: SHA1(p) XOR SHA1(seed || SHA1(SHA1(p))), with the seed's
// trailing NUL byte discarded. An empty password yields an empty response.
func NativePasswordDigest(password string, seed []byte) []byte {
	if password == "" {
		return nil
	}
	if len(seed) > 0 && seed[len(seed)-1] == 0 {
		seed = seed[:len(seed)-1]
	}
	stage1 := sha1.Sum([]byte(password))
	stage2 := sha1.Sum(stage1[:])

	h := sha1.New()
	h.Write(seed)
	h.Write(stage2[:])
	stage3 := h.Sum(nil)

	out := make([]byte, len(stage1))
	for i := range out {
		out[i] = stage1[i] ^ stage3[i]
	}
	return out
}

// ResponseOutcome is what the server replied to HandshakeResponse41.
type ResponseOutcome struct {
	OK              bool
	AffectedRows    uint64
	LastInsertID    uint64
	ServerStatus    protoflags.ServerStatus
	AuthSwitchName  string
	AuthSwitchData  []byte
}

// DecodeResponseOutcome decodes the packet following HandshakeResponse41.
func DecodeResponseOutcome(payload []byte) (*ResponseOutcome, error) {
	r := wire.NewReader(payload)
	header, err := r.U8()
	if err != nil {
		return nil, err
	}
	switch header {
	case protoflags.HeaderOK:
		out := &ResponseOutcome{OK: true}
		if out.AffectedRows, _, err = r.Length(); err != nil {
			return nil, err
		}
		if out.LastInsertID, _, err = r.Length(); err != nil {
			return nil, err
		}
		status, err := r.U16()
		if err != nil {
			return nil, err
		}
		out.ServerStatus = protoflags.ServerStatus(status)
		return out, nil
	case protoflags.HeaderErr:
		code, err := r.U16()
		if err != nil {
			return nil, err
		}
		sqlstate := merr.DefaultSqlstate
		if b, ok := r.Peek(); ok && b == '#' {
			_, _ = r.U8()
			sqlstate, _ = r.Ascii(5)
		}
		msg := r.TailUtf8()
		return nil, merr.FromServer(code, sqlstate, msg, "handshake")
	case 0xfe:
		name, err := r.CStr()
		if err != nil {
			return nil, err
		}
		data := r.TailUtf8()
		return &ResponseOutcome{AuthSwitchName: name, AuthSwitchData: []byte(data)}, nil
	default:
		return nil, merr.Connection(nil, "unexpected handshake response header 0x%02x", header)
	}
}

func goos() string { return runtime.GOOS }
