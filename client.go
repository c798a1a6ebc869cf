package binlog

import (
	"context"
	"crypto/tls"
	"io"
	"iter"
	"net"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// SSLMode tells whether connection is encrypted.
type SSLMode int

const (
	// SSLPreferred encrypts the connection if server supports it.
	SSLPreferred SSLMode = iota
	SSLDisabled
	SSLRequired

	// SSLRequireVerifyCA and SSLRequireVerifyFull are not supported.
	// NewClient rejects them; use SSLRequired with Options.TLSConfig
	// carrying RootCAs instead.
	SSLRequireVerifyCA
	SSLRequireVerifyFull
)

var sslModeNames = map[SSLMode]string{
	SSLPreferred:         "preferred",
	SSLDisabled:          "disabled",
	SSLRequired:          "required",
	SSLRequireVerifyCA:   "verify_ca",
	SSLRequireVerifyFull: "verify_full",
}

func (m SSLMode) String() string {
	if name, ok := sslModeNames[m]; ok {
		return name
	}
	return "unknown"
}

// ParseSSLMode parses names returned by SSLMode.String.
func ParseSSLMode(s string) (SSLMode, error) {
	for m, name := range sslModeNames {
		if name == s {
			return m, nil
		}
	}
	return 0, &ConfigError{"SSLMode", "unknown mode " + s}
}

// Options configures a Client.
type Options struct {
	Network  string // defaults to tcp
	Address  string // host:port, port defaults to 3306
	Username string
	Password string

	SSLMode   SSLMode
	TLSConfig *tls.Config // nil skips server certificate verification

	// ServerID identifies this client as a replica. It must be unique
	// among replicas of the server. Defaults to 65535.
	ServerID uint32

	// HeartbeatPeriod defaults to 30s. Negative value disables
	// heartbeats and the liveness check.
	HeartbeatPeriod time.Duration

	// NonBlocking ends the stream when server has no more events
	// instead of waiting for new ones.
	NonBlocking bool

	// Start is where the first session starts. Later sessions
	// resume from Client.Cursor.
	Start Cursor

	// Flavor is FlavorMySQL or FlavorMariaDB. Detected from server
	// version when empty.
	Flavor string

	ConnectTimeout time.Duration // defaults to 10s

	SkipChecksumVerify bool
}

const (
	defaultPort            = "3306"
	defaultServerID        = 65535
	defaultHeartbeatPeriod = 30 * time.Second
	defaultConnectTimeout  = 10 * time.Second
)

func (o *Options) validate() error {
	if o.Network == "" {
		o.Network = "tcp"
	}
	if o.Address == "" {
		return &ConfigError{"Address", "must not be empty"}
	}
	if o.Network == "tcp" {
		if _, _, err := net.SplitHostPort(o.Address); err != nil {
			o.Address = net.JoinHostPort(o.Address, defaultPort)
		}
	}
	switch o.SSLMode {
	case SSLDisabled, SSLPreferred, SSLRequired:
	case SSLRequireVerifyCA, SSLRequireVerifyFull:
		return &ConfigError{"SSLMode", o.SSLMode.String() + " is not supported"}
	default:
		return &ConfigError{"SSLMode", "unknown mode"}
	}
	if o.ServerID == 0 {
		o.ServerID = defaultServerID
	}
	if o.HeartbeatPeriod == 0 {
		o.HeartbeatPeriod = defaultHeartbeatPeriod
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = defaultConnectTimeout
	}
	if o.Flavor != "" {
		if _, err := newFlavor(o.Flavor); err != nil {
			return &ConfigError{"Flavor", err.Error()}
		}
	}
	switch o.Start.Strategy {
	case StartFromStart, StartFromEnd:
	case StartFromPosition:
		if o.Start.File == "" {
			return &ConfigError{"Start", "position without file name"}
		}
	case StartFromGTID:
		if o.Start.GTIDs == nil {
			return &ConfigError{"Start", "gtid strategy without gtid set"}
		}
		if o.Flavor != "" && o.Start.GTIDs.Flavor() != o.Flavor {
			return &ConfigError{"Start", "gtid set of flavor " + o.Start.GTIDs.Flavor() + " given for " + o.Flavor}
		}
	default:
		return &ConfigError{"Start", "unknown strategy " + o.Start.Strategy.String()}
	}
	return nil
}

// Client streams binlog events from a server and tracks the cursor to
// resume from. It runs at most one session at a time.
type Client struct {
	opts    Options
	cursor  atomic.Pointer[Cursor]
	running atomic.Bool
	tracker *tracker
}

// NewClient validates opts. It does not connect.
func NewClient(opts Options) (*Client, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	c := &Client{opts: opts, tracker: newTracker(opts.Start)}
	c.publish(opts.Start)
	return c, nil
}

// Cursor returns snapshot of the position after the last event the
// caller consumed. It is safe to call from any goroutine.
func (c *Client) Cursor() Cursor {
	return *c.cursor.Load()
}

func (c *Client) publish(cur Cursor) {
	c.cursor.Store(&cur)
}

// Replicate opens a session and yields events in binlog order. The
// cursor advances past an event once the loop body for it returns.
//
// The sequence ends after yielding an error; all errors end the session.
// In NonBlocking mode it ends without error when server has no more
// events. Cancelling ctx closes the connection and yields ctx.Err().
// Calling Replicate again resumes from Cursor.
func (c *Client) Replicate(ctx context.Context) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		if !c.running.CompareAndSwap(false, true) {
			yield(Event{}, errors.New("binlog: Replicate is already running"))
			return
		}
		defer c.running.Store(false)

		bl, err := c.connect(ctx)
		if err != nil {
			yield(Event{}, ctxErr(ctx, err))
			return
		}
		stop := context.AfterFunc(ctx, func() { _ = bl.Close() })
		defer func() {
			stop()
			_ = bl.Close()
		}()

		for {
			e, err := bl.NextEvent()
			if err == io.EOF {
				glog.Infof("binlog: end of stream at %s", c.Cursor())
				return
			}
			if err != nil {
				err = ctxErr(ctx, err)
				glog.Errorf("binlog: session ended at %s: %v", c.Cursor(), err)
				yield(Event{}, err)
				return
			}
			more := yield(e, nil)
			c.tracker.update(e)
			c.publish(c.tracker.cursor())
			if !more {
				return
			}
		}
	}
}

// connect runs the negotiation up to the dump command.
func (c *Client) connect(ctx context.Context) (*Remote, error) {
	o := &c.opts
	dctx, cancel := context.WithTimeout(ctx, o.ConnectTimeout)
	defer cancel()
	bl, err := Dial(dctx, o.Network, o.Address)
	if err != nil {
		return nil, err
	}
	if err := c.negotiate(bl); err != nil {
		_ = bl.Close()
		return nil, err
	}
	return bl, nil
}

func (c *Client) negotiate(bl *Remote) error {
	o := &c.opts
	switch o.SSLMode {
	case SSLPreferred, SSLRequired:
		if !bl.IsSSLSupported() {
			if o.SSLMode == SSLRequired {
				return &TransportError{"tls", errors.New("server does not support SSL")}
			}
			glog.Warningf("binlog: server %s does not support SSL, continuing unencrypted", o.Address)
			break
		}
		if err := bl.UpgradeSSL(c.tlsConfig()); err != nil {
			return err
		}
	}
	if err := bl.Authenticate(o.Username, o.Password); err != nil {
		return err
	}
	if o.Flavor != "" {
		if err := bl.SetFlavor(o.Flavor); err != nil {
			return err
		}
	}
	if o.HeartbeatPeriod > 0 {
		if err := bl.SetHeartbeatPeriod(o.HeartbeatPeriod); err != nil {
			return err
		}
	}
	bl.SetVerifyChecksum(!o.SkipChecksumVerify)

	cur, err := c.resolve(bl, c.Cursor())
	if err != nil {
		return err
	}
	// transactions of previous session are resent in whole
	c.tracker.reset()
	c.tracker.cur = cur
	c.publish(cur)

	if cur.IsGTID() {
		err = bl.SeekGTID(o.ServerID, cur.GTIDs, o.NonBlocking)
	} else {
		err = bl.Seek(o.ServerID, cur.File, cur.Pos, o.NonBlocking)
	}
	if err != nil {
		return err
	}
	// dial deadline no longer applies; the stream is bounded by
	// the liveness window
	if err := bl.ClearDeadline(); err != nil {
		return &TransportError{"clear deadline", err}
	}
	return nil
}

// resolve turns FromStart and FromEnd into a concrete position.
func (c *Client) resolve(bl *Remote, cur Cursor) (Cursor, error) {
	switch cur.Strategy {
	case StartFromStart:
		files, err := bl.ListFiles()
		if err != nil {
			return cur, err
		}
		if len(files) == 0 {
			return cur, &ProtocolError{"server has no binary logs"}
		}
		return FromPosition(files[0], 4), nil
	case StartFromEnd:
		file, pos, _, err := bl.MasterStatus()
		if err != nil {
			return cur, err
		}
		if file == "" {
			return cur, &ProtocolError{"binary logging is not enabled on server"}
		}
		return FromPosition(file, pos), nil
	}
	return cur, nil
}

func (c *Client) tlsConfig() *tls.Config {
	host, _, _ := net.SplitHostPort(c.opts.Address)
	if c.opts.TLSConfig != nil {
		config := c.opts.TLSConfig.Clone()
		if config.ServerName == "" {
			config.ServerName = host
		}
		return config
	}
	return &tls.Config{ServerName: host, InsecureSkipVerify: true}
}

// ctxErr prefers cancellation of ctx over the error it caused.
func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
