package binlog

import (
	"bytes"
	"context"
	"crypto/sha1"
	"crypto/tls"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemote_Authenticate(t *testing.T) {
	if *mysql == "" {
		t.Skip(skipReason)
	}
	r := dialTest(t)
	defer r.Close()
	t.Log("authFlow:", r.authFlow)
	_, err := r.queryRows("show databases")
	require.NoError(t, err)
}

func TestRemote_AuthenticateWrongPassword(t *testing.T) {
	if *mysql == "" {
		t.Skip(skipReason)
	}
	r := dial(t)
	defer r.Close()
	err := r.Authenticate(user, passwd+"-wrong")
	var se *ServerError
	require.ErrorAs(t, err, &se)
	require.Equal(t, uint16(1045), se.Code) // ER_ACCESS_DENIED_ERROR
}

func TestAuthenticator(t *testing.T) {
	scramble := []byte("0123456789abcdefghij")
	switched := []byte("jihgfedcba9876543210")
	nativeResp, err := scrambleNative([]byte("secret"), switched)
	require.NoError(t, err)
	cachingResp, err := scrambleCachingSHA2([]byte("secret"), scramble)
	require.NoError(t, err)
	authSwitch := payload(func(w *writer) {
		w.int1(authSwitchMarker)
		w.stringNull(pluginNative)
		w.bytesNull(switched)
	})

	tests := []struct {
		name     string
		plugin   string
		response []byte   // in handshake response
		steps    [][]byte // each one answered by client
		answers  [][]byte
		last     []byte
		flow     []string
		check    func(error) bool // nil means success
	}{
		{
			name:     "fastAuthSuccess",
			plugin:   pluginCachingSHA2,
			response: cachingResp,
			last:     []byte{authMoreDataMarker, cachingSHA2FastAuthSuccess},
			flow:     []string{pluginCachingSHA2, "fastAuthSuccess"},
		},
		{
			name:    "authSwitch",
			plugin:  pluginCachingSHA2,
			steps:   [][]byte{authSwitch},
			answers: [][]byte{nativeResp},
			flow:    []string{pluginCachingSHA2, pluginNative},
		},
		{
			name:    "authSwitchTwice",
			plugin:  pluginNative,
			steps:   [][]byte{authSwitch},
			answers: [][]byte{nativeResp},
			last:    authSwitch,
			check: func(err error) bool {
				var pe *ProtocolError
				return errors.As(err, &pe)
			},
		},
		{
			name:   "accessDenied",
			plugin: pluginNative,
			last:   append([]byte{errMarker, 0x15, 0x04, '#', '2', '8', '0', '0', '0'}, "Access denied"...),
			check: func(err error) bool {
				var se *ServerError
				return errors.As(err, &se) && se.Code == 1045
			},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			client, server := net.Pipe()
			defer server.Close()
			r := &Remote{conn: client, seq: 1, hs: handshake{
				capabilityFlags: capProtocol41,
				authPluginName:  test.plugin,
				authPluginData:  scramble,
			}}
			defer r.Close()

			fs := &fakeServer{t: t, version: "8.0.36-log"}
			done := make(chan struct{})
			go func() {
				defer close(done)
				seq := uint8(1)
				p, err := readPacket(server, &seq)
				if err != nil {
					return
				}
				if test.response != nil {
					assert.True(t, bytes.Contains(p, test.response), "auth response not found")
				}
				for i, step := range test.steps {
					fs.send(server, &seq, step)
					p, err := readPacket(server, &seq)
					if err != nil {
						return
					}
					assert.Equal(t, test.answers[i], p)
				}
				if test.last != nil {
					fs.send(server, &seq, test.last)
				}
				if test.check != nil {
					return
				}
				fs.send(server, &seq, okBytes)
				seq = 0
				p, err = readPacket(server, &seq)
				if err != nil {
					return
				}
				fs.answer(server, &seq, string(p[1:]))
			}()

			err := r.Authenticate("app", "secret")
			if test.check != nil {
				assert.True(t, test.check(err), "got %v", err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, test.flow, r.authFlow)
				assert.Equal(t, "8.0.36-log", r.ServerVersion())
			}
			_ = client.Close()
			<-done
		})
	}
}

func TestScrambleNative(t *testing.T) {
	got, err := scrambleNative(nil, nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = scrambleNative([]byte("secret"), []byte("short"))
	assert.Equal(t, ErrMalformedPacket, err)

	// server stores stage2 and checks SHA1(resp XOR SHA1(scramble+stage2)) == stage2
	scramble := []byte("0123456789abcdefghij")
	got, err = scrambleNative([]byte("secret"), scramble)
	require.NoError(t, err)
	stage1 := sha1.Sum([]byte("secret"))
	stage2 := sha1.Sum(stage1[:])
	h := sha1.Sum(append(append([]byte(nil), scramble...), stage2[:]...))
	candidate := xorBytes(got, h[:])
	assert.Equal(t, stage2, sha1.Sum(candidate))
}

// dial connects to the test server, upgrading to ssl if asked.
func dial(t *testing.T) *Remote {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r, err := Dial(ctx, network, address)
	require.NoError(t, err)
	require.NoError(t, r.ClearDeadline())
	if ssl {
		if !r.IsSSLSupported() {
			_ = r.Close()
			t.Fatal("server does not support ssl")
		}
		require.NoError(t, r.UpgradeSSL(&tls.Config{InsecureSkipVerify: true}))
	}
	return r
}

// dialTest returns authenticated connection to the test server.
func dialTest(t *testing.T) *Remote {
	t.Helper()
	r := dial(t)
	if err := r.Authenticate(user, passwd); err != nil {
		_ = r.Close()
		t.Fatal(err)
	}
	return r
}

// test flags ---

var (
	mysql            = flag.String("mysql", "", "mysql server used for testing")
	network, address string
	user, passwd     string
	db               = "binlog"
	ssl              bool
	driverURL        string

	skipReason = `SKIPPED: pass -mysql flag to run this test
example: go test -mysql tcp:localhost:3306,ssl,user=root,password=password,db=binlog
`
)

func TestMain(m *testing.M) {
	flag.Parse()
	if *mysql != "" {
		colon := strings.IndexByte(*mysql, ':')
		network, address = (*mysql)[:colon], (*mysql)[colon+1:]
		tok := strings.Split(address, ",")
		address = tok[0]
		for _, t := range tok[1:] {
			switch {
			case t == "ssl":
				ssl = true
			case strings.HasPrefix(t, "user="):
				user = strings.TrimPrefix(t, "user=")
			case strings.HasPrefix(t, "password="):
				passwd = strings.TrimPrefix(t, "password=")
			case strings.HasPrefix(t, "db="):
				db = strings.TrimPrefix(t, "db=")
			}
		}
		tlsParam := "false"
		if ssl {
			tlsParam = "skip-verify"
		}
		timezone := url.QueryEscape(time.Now().Format("'-07:00'"))
		driverURL = fmt.Sprintf("%s:%s@%s(%s)/%s?tls=%v&time_zone=%s", user, passwd, network, address, db, tlsParam, timezone)
	}
	os.Exit(m.Run())
}
