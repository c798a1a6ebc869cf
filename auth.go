package binlog

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net"

	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// auth plugins understood by Authenticate.
const (
	pluginNative      = "mysql_native_password"
	pluginClear       = "mysql_clear_password"
	pluginSHA256      = "sha256_password"
	pluginCachingSHA2 = "caching_sha2_password"
)

// markers of packets exchanged during authentication.
const (
	authMoreDataMarker = 0x01
	authSwitchMarker   = 0xfe
)

// caching_sha2_password status sent in AuthMoreData.
const (
	cachingSHA2FastAuthSuccess = 3
	cachingSHA2FullAuth        = 4
)

const scrambleSize = 20

// Authenticate sends the credentials to server and completes the
// authentication exchange, including a plugin switch requested by server.
func (bl *Remote) Authenticate(username, password string) error {
	plugin := bl.hs.authPluginName
	if plugin == "" {
		plugin = pluginNative
	}
	a := &authenticator{
		bl:       bl,
		password: []byte(password),
		plugin:   plugin,
		scramble: bl.hs.authPluginData,
	}
	bl.authFlow = []string{plugin}
	resp, err := a.response()
	if err != nil {
		return err
	}
	err = bl.write(handshakeResponse41{
		capabilityFlags: capLongFlag | capSecureConnection | capTransactions,
		maxPacketSize:   maxPacketSize,
		characterSet:    bl.hs.characterSet,
		username:        username,
		authResponse:    resp,
		authPluginName:  plugin,
		connectAttrs:    map[string]string{"_client_name": "binlog", "program_name": "binlog"},
	})
	if err != nil {
		return err
	}
	if err := a.run(); err != nil {
		return err
	}
	glog.V(1).Infof("binlog: authenticated as %q, authFlow=%v", username, bl.authFlow)
	return bl.refreshServerVersion()
}

// refreshServerVersion replaces version reported in handshake with
// version() of server. Azure Database for MySQL 5.7 reports 5.6.26.0
// in handshake.
func (bl *Remote) refreshServerVersion() error {
	rows, err := bl.queryRows(`select version()`)
	if err != nil {
		return err
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return &ProtocolError{"select version() returned no rows"}
	}
	if v, ok := rows[0][0].(string); ok {
		bl.hs.serverVersion = v
	}
	return nil
}

// authenticator is the client side of one authentication exchange.
type authenticator struct {
	bl       *Remote
	password []byte
	plugin   string
	scramble []byte

	switched    bool // server already sent AuthSwitchRequest
	awaitingKey bool // public key was requested, AuthMoreData carries it
}

func (a *authenticator) flow(step string) {
	a.bl.authFlow = append(a.bl.authFlow, step)
}

// run reads server packets until authentication succeeds or fails.
func (a *authenticator) run() error {
	for {
		p, err := a.bl.readPacket()
		if err != nil {
			return err
		}
		if len(p) == 0 {
			return &ProtocolError{"empty packet during authentication"}
		}
		done := false
		switch p[0] {
		case okMarker:
			return nil
		case errMarker:
			return decodeServerError(p, a.bl.hs.capabilityFlags)
		case authMoreDataMarker:
			done, err = a.moreData(p[1:])
		case authSwitchMarker:
			err = a.authSwitch(p[1:])
		default:
			return &ProtocolError{fmt.Sprintf("authentication: got %#02x want OK-byte", p[0])}
		}
		if err != nil || done {
			return err
		}
	}
}

// moreData handles AuthMoreData. It reports true when server considers
// the exchange complete without sending OK.
func (a *authenticator) moreData(data []byte) (bool, error) {
	switch a.plugin {
	case pluginCachingSHA2:
		if a.awaitingKey {
			a.awaitingKey = false
			return false, a.sendEncrypted(data)
		}
		if len(data) == 0 {
			return true, nil
		}
		if len(data) != 1 {
			return false, ErrMalformedPacket
		}
		switch data[0] {
		case cachingSHA2FastAuthSuccess:
			a.flow("fastAuthSuccess")
			return false, nil
		case cachingSHA2FullAuth:
			a.flow("performFullAuthentication")
			switch a.bl.conn.(type) {
			case *tls.Conn, *net.UnixConn:
				return false, a.bl.write(authSwitchResponse{append(a.password, 0)})
			}
			if a.bl.pubKey == nil {
				a.flow("requestPublicKey2")
				a.awaitingKey = true
				return false, a.bl.write(requestPublicKey{})
			}
			return false, a.sendEncrypted(nil)
		}
		return false, ErrMalformedPacket
	case pluginSHA256:
		if len(data) == 0 {
			return true, nil
		}
		// answer to public key request in first response
		return false, a.sendEncrypted(data)
	}
	return true, nil
}

// authSwitch restarts the exchange with plugin and scramble chosen by server.
// Server may switch only once.
func (a *authenticator) authSwitch(p []byte) error {
	if a.switched {
		return &ProtocolError{"AuthSwitch more than once"}
	}
	a.switched = true
	r := newReader(p)
	a.plugin = r.stringNull()
	a.scramble = r.bytesEOF()
	if r.err != nil {
		return r.err
	}
	if l := len(a.scramble); l > scrambleSize && a.scramble[l-1] == 0 {
		a.scramble = a.scramble[:l-1]
	}
	a.flow(a.plugin)
	resp, err := a.response()
	if err != nil {
		return err
	}
	return a.bl.write(authSwitchResponse{resp})
}

// response computes auth response of current plugin.
func (a *authenticator) response() ([]byte, error) {
	switch a.plugin {
	case pluginNative:
		return scrambleNative(a.password, a.scramble)
	case pluginCachingSHA2:
		return scrambleCachingSHA2(a.password, a.scramble)
	case pluginSHA256:
		if len(a.password) == 0 {
			return []byte{0}, nil
		}
		// sha256_password treats unix socket as insecure
		if _, ok := a.bl.conn.(*tls.Conn); ok {
			return append(a.password, 0), nil
		}
		if a.bl.pubKey == nil {
			a.flow("requestPublicKey1")
			return []byte{1}, nil
		}
		return encryptPasswordPubKey(a.password, a.scramble, a.bl.pubKey)
	case pluginClear:
		// https://dev.mysql.com/doc/internals/en/clear-text-authentication.html
		return append(a.password, 0), nil
	}
	return nil, errors.Errorf("binlog: unsupported auth plugin %q", a.plugin)
}

// sendEncrypted sends password encrypted with public key of server.
// A non-empty pemData replaces the cached key.
func (a *authenticator) sendEncrypted(pemData []byte) error {
	if len(pemData) > 0 {
		key, err := decodePEM(pemData)
		if err != nil {
			return err
		}
		a.bl.pubKey = key
	}
	if a.bl.pubKey == nil {
		return &ProtocolError{"server sent no public key"}
	}
	resp, err := encryptPasswordPubKey(a.password, a.scramble, a.bl.pubKey)
	if err != nil {
		return err
	}
	return a.bl.write(authSwitchResponse{resp})
}

// scrambles ---

// scrambleNative computes
// SHA1(password) XOR SHA1(scramble <concat> SHA1(SHA1(password))).
//
// https://dev.mysql.com/doc/internals/en/secure-password-authentication.html
func scrambleNative(password, scramble []byte) ([]byte, error) {
	if len(password) == 0 {
		return nil, nil
	}
	if len(scramble) < scrambleSize {
		return nil, ErrMalformedPacket
	}
	stage1 := sha1.Sum(password)
	stage2 := sha1.Sum(stage1[:])
	h := sha1.New()
	h.Write(scramble[:scrambleSize])
	h.Write(stage2[:])
	return xorBytes(stage1[:], h.Sum(nil)), nil
}

// scrambleCachingSHA2 computes
// SHA256(password) XOR SHA256(SHA256(SHA256(password)) <concat> scramble).
func scrambleCachingSHA2(password, scramble []byte) ([]byte, error) {
	if len(password) == 0 {
		return nil, nil
	}
	if len(scramble) < scrambleSize {
		return nil, ErrMalformedPacket
	}
	stage1 := sha256.Sum256(password)
	stage2 := sha256.Sum256(stage1[:])
	h := sha256.New()
	h.Write(stage2[:])
	h.Write(scramble[:scrambleSize])
	return xorBytes(stage1[:], h.Sum(nil)), nil
}

func xorBytes(dst, src []byte) []byte {
	for i := range dst {
		dst[i] ^= src[i]
	}
	return dst
}

func decodePEM(pemData []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, &ProtocolError{"no PEM data in server public key response"}
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "binlog: parsing server public key")
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, errors.Errorf("binlog: server public key is %T, want rsa", key)
	}
	return pub, nil
}

// encryptPasswordPubKey xors null terminated password with scramble
// and encrypts it with RSA-OAEP.
func encryptPasswordPubKey(password, scramble []byte, pub *rsa.PublicKey) ([]byte, error) {
	if len(scramble) < scrambleSize {
		return nil, ErrMalformedPacket
	}
	plain := make([]byte, len(password)+1)
	copy(plain, password)
	for i := range plain {
		plain[i] ^= scramble[i%scrambleSize]
	}
	return rsa.EncryptOAEP(sha1.New(), rand.Reader, pub, plain, nil)
}

// packets ---

type authSwitchResponse struct {
	authResponse []byte
}

func (e authSwitchResponse) encode(w *writer) error {
	w.Write(e.authResponse)
	return w.err
}

type requestPublicKey struct{}

func (e requestPublicKey) encode(w *writer) error {
	return w.int1(2)
}
