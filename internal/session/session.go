// Package session implements the connection state machine: framing,
// setup/auth, and the authenticated request/notification dispatch. It
// owns no sockets directly beyond writing replies and closing on
// failure — the tick loop (internal/tick) performs the actual
// non-blocking reads and hands the bytes to Feed.
package session

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/sengoo/sengoohost/internal/auth"
	"github.com/sengoo/sengoohost/internal/handles"
	"github.com/sengoo/sengoohost/internal/logx"
	"github.com/sengoo/sengoohost/internal/metrics"
	"github.com/sengoo/sengoohost/internal/notify"
	"github.com/sengoo/sengoohost/internal/registry"
	"github.com/sengoo/sengoohost/internal/wire"
)

// State is one connection's position in Accepted → AwaitingSetup →
// Authenticated → Closed.
type State int

const (
	StateAccepted State = iota
	StateAwaitingSetup
	StateAuthenticated
	StateClosed
)

// Config holds the tunables the connection state machine needs,
// resolved ahead of time from the environment by the caller.
type Config struct {
	Capacity         int
	MaxPacketBytes   int
	SignupTimeout    time.Duration
	SendNetworkDelay bool
	RSAPublicKey     []byte // nil => use FakeRSAPublicKey
	FakeRSAPublicKey string
	EnforceMD5       bool
	ExpectedMD5      string
	DefaultAvatar    string
	MOTD             string
	ServerVersion    string
}

// conn is one connection's full mutable state: the per-connection
// pieces DATA MODEL calls the connection entry, stream buffer, and auth
// state, merged into one struct since they are created and destroyed
// together.
type conn struct {
	nc    net.Conn
	ip    string
	state State

	buf []byte

	networkDelaySent bool
	setupReceived    bool
	authPassed       bool
	playerID         int64
	playerName       string

	acceptedAtMS   int64
	lastActivityMS int64
}

// Manager owns the connection table and every collaborator needed to
// resolve Setup attempts: the credential service, the registry cache
// (for the initial sync frame and UpdatePackage fallback rows), and the
// three ban lists.
type Manager struct {
	cfg Config

	conns *handles.Table[*conn]

	authSvc  *auth.Service
	registry *registry.Cache

	banIP     []string
	tempBanIP []string
	banUUID   []string

	metrics *metrics.Collector
}

// SetMetrics attaches a metrics collector. Optional; a nil collector
// (the default) means metrics calls are skipped.
func (m *Manager) SetMetrics(c *metrics.Collector) {
	m.metrics = c
}

// NewManager constructs an empty Manager.
func NewManager(cfg Config, authSvc *auth.Service, reg *registry.Cache, banIP, tempBanIP, banUUID []string) *Manager {
	return &Manager{
		cfg:       cfg,
		conns:     handles.New[*conn](),
		authSvc:   authSvc,
		registry:  reg,
		banIP:     banIP,
		tempBanIP: tempBanIP,
		banUUID:   banUUID,
	}
}

// ActiveCount returns the number of connections currently tracked,
// regardless of state.
func (m *Manager) ActiveCount() int {
	return m.conns.Len()
}

// Capacity returns the configured connection capacity, for status
// reporting.
func (m *Manager) Capacity() int {
	return m.cfg.Capacity
}

// Handles returns every currently tracked connection handle, in table
// order. The outer tick loop uses this to drive one non-blocking read
// attempt per connection per tick.
func (m *Manager) Handles() []int64 {
	return m.conns.Handles()
}

// Conn returns the underlying socket for handle, so the tick loop can
// perform the actual non-blocking read; Feed is then called with
// whatever bytes were read. Session itself never reads from the socket.
func (m *Manager) Conn(handle int64) (net.Conn, bool) {
	c, ok := m.conns.Get(handle)
	if !ok {
		return nil, false
	}
	return c.nc, true
}

func remoteIP(nc net.Conn) string {
	host, _, err := net.SplitHostPort(nc.RemoteAddr().String())
	if err != nil {
		return nc.RemoteAddr().String()
	}
	return host
}

// Accept admits a newly-accepted socket. It performs the IP-ban and
// capacity checks, and on success sends the extension-sync frame and
// (if enabled) the NetworkDelayTest notification. It returns the
// connection's handle, or 0 if the connection was rejected and already
// closed.
func (m *Manager) Accept(nc net.Conn, nowMS int64) int64 {
	ip := remoteIP(nc)

	if auth.InList(m.banIP, ip) {
		m.recordAuthOutcome("banned")
		m.rejectAtAccept(nc, "you have been banned!")
		return 0
	}
	if auth.InList(m.tempBanIP, ip) {
		m.recordAuthOutcome("banned")
		m.rejectAtAccept(nc, "you have been temporarily banned!")
		return 0
	}
	if m.conns.Len() >= m.cfg.Capacity {
		m.recordAuthOutcome("capacity")
		m.rejectAtAccept(nc, "server is full!")
		return 0
	}

	c := &conn{
		nc:             nc,
		ip:             ip,
		state:          StateAwaitingSetup,
		acceptedAtMS:   nowMS,
		lastActivityMS: nowMS,
	}
	h := handles.Next()
	if !m.conns.Insert(h, c) {
		m.recordAuthOutcome("capacity")
		m.rejectAtAccept(nc, "server is full!")
		return 0
	}

	if m.registry != nil {
		_, _ = nc.Write(m.registry.Frame())
	}
	if m.cfg.SendNetworkDelay {
		key := m.cfg.RSAPublicKey
		if len(key) == 0 {
			key = []byte(m.cfg.FakeRSAPublicKey)
		}
		_, _ = nc.Write(notify.NetworkDelayTest(key).Encode())
		c.networkDelaySent = true
	}
	if m.metrics != nil {
		m.metrics.ConnectionsTotal.Inc()
		m.metrics.ConnectionsActive.Set(float64(m.conns.Len()))
	}
	return h
}

func (m *Manager) rejectAtAccept(nc net.Conn, message string) {
	_, _ = nc.Write(notify.ErrorDlg(message).Encode())
	logx.Logf(logx.Info, logx.Auth, "connection rejected at accept: %s", message)
	_ = nc.Close()
}

// Close forcibly closes and removes a connection.
func (m *Manager) Close(handle int64) {
	c, ok := m.conns.Get(handle)
	if !ok {
		return
	}
	_ = c.nc.Close()
	m.conns.Delete(handle)
	if m.metrics != nil {
		m.metrics.ConnectionsActive.Set(float64(m.conns.Len()))
	}
}

// SweepSignupTimeouts force-closes every connection that has remained
// in AwaitingSetup longer than the configured signup timeout. It
// returns the handles closed.
func (m *Manager) SweepSignupTimeouts(nowMS int64) []int64 {
	var closed []int64
	limit := m.cfg.SignupTimeout.Milliseconds()
	m.conns.Each(func(h int64, c *conn) {
		if c.state == StateAwaitingSetup && nowMS-c.acceptedAtMS > limit {
			closed = append(closed, h)
		}
	})
	for _, h := range closed {
		logx.Logf(logx.Info, logx.Auth, "signup timeout handle=%d", h)
		m.Close(h)
	}
	return closed
}

func parseVersion(s string) (major, minor, patch int, ok bool) {
	parts := strings.SplitN(s, ".", 3)
	if len(parts) < 2 {
		return 0, 0, 0, false
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return 0, 0, 0, false
		}
		nums[i] = n
	}
	return nums[0], nums[1], nums[2], true
}

func versionSupported(s string) bool {
	major, minor, patch, ok := parseVersion(s)
	return ok && major == 0 && minor == 5 && patch >= 19
}

func elemText(v wire.Value) (string, bool) {
	return wire.AsText(v)
}

func elemBytes(v wire.Value) ([]byte, bool) {
	return wire.AsBytesOrText(v)
}

func versionMismatchMessage(serverVersion string) string {
	b, _ := json.Marshal([]string{"server supports version %1, please update", serverVersion})
	return string(b)
}

func md5FailMessage() string {
	return "MD5 check failed!"
}

func (m *Manager) writeAndClose(handle int64, c *conn, frames ...*wire.Packet) {
	for _, f := range frames {
		_, _ = c.nc.Write(f.Encode())
	}
	m.Close(handle)
}

func (m *Manager) updatePackageFrame() *wire.Packet {
	var rows []notify.UpdatePackageRow
	if m.registry != nil {
		for _, e := range m.registry.Entries() {
			if !e.IsEnabled() {
				continue
			}
			rows = append(rows, notify.UpdatePackageRow{Name: e.Name, Hash: e.Hash, URL: e.URL})
		}
	}
	return notify.UpdatePackage(rows)
}

func errStorageMessage() string {
	return "server internal auth storage error"
}

func authFailureMessage(err error) (string, bool) {
	switch {
	case err == nil:
		return "", false
	case isBannedError(err):
		return bannedMessage(err), true
	case err == auth.ErrInvalidName:
		return "invalid user name", true
	case err == auth.ErrNotWhitelisted:
		return "user name not in whitelist", true
	case err == auth.ErrDeviceCapReached:
		return "cannot register more new users on this device", true
	case err == auth.ErrCredentialFail:
		return "username or password error", true
	default:
		return errStorageMessage(), true
	}
}

func isBannedError(err error) bool {
	_, ok := err.(*auth.BannedError)
	return ok
}

func bannedMessage(err error) string {
	be, _ := err.(*auth.BannedError)
	return fmt.Sprintf("you have been banned! expire=%d", be.ExpireEpoch)
}
