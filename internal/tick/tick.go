// Package tick implements the single-threaded cooperative tick driver:
// the one loop that owns every suspension point (accept, non-blocking
// read, UDP probe, sleep) in the whole process. Everything it calls
// into — session dispatch, registry refresh, discovery replies — runs
// to completion on this one goroutine.
package tick

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/sengoo/sengoohost/internal/admin"
	"github.com/sengoo/sengoohost/internal/discovery"
	"github.com/sengoo/sengoohost/internal/logx"
	"github.com/sengoo/sengoohost/internal/metrics"
	"github.com/sengoo/sengoohost/internal/registry"
	"github.com/sengoo/sengoohost/internal/session"
	"github.com/sengoo/sengoohost/internal/watch"
)

// Config holds the loop's own pacing tunables; session/registry/
// discovery tunables live in their own packages' Config types.
type Config struct {
	MaxAcceptPerTick int
	MaxPacketBytes   int
	TickSleep        time.Duration
	BusySleep        time.Duration
	ExtensionRefresh time.Duration
}

// Driver runs the tick loop against one TCP listener, one UDP
// discovery responder, the connection manager, and the registry cache.
// Watcher is optional: when non-nil, its coalesced events are drained
// each tick purely to force an early registry refresh.
type Driver struct {
	cfg Config

	listener *net.TCPListener
	sessions *session.Manager
	registry *registry.Cache
	udp      *discovery.Responder
	watcher  *watch.Watcher

	metrics *metrics.Collector
	admin   *admin.Publisher

	startedAt   time.Time
	ticks       uint64
	lastRefresh time.Time
}

// SetMetrics attaches a metrics collector. Optional; a nil collector
// (the default) means metrics calls are skipped.
func (d *Driver) SetMetrics(c *metrics.Collector) {
	d.metrics = c
}

// SetAdminPublisher attaches the admin HTTP surface's snapshot
// publisher. Optional; a nil publisher (the default) means no snapshot
// is published, and the admin server (if started at all) stays
// perpetually not-ready.
func (d *Driver) SetAdminPublisher(p *admin.Publisher) {
	d.admin = p
}

// NewDriver constructs a Driver. listener must be a *net.TCPListener
// (or nil to run without a TCP accept loop, e.g. in tests that drive
// sessions directly).
func NewDriver(cfg Config, listener *net.TCPListener, sessions *session.Manager, reg *registry.Cache, udp *discovery.Responder, watcher *watch.Watcher) *Driver {
	return &Driver{
		cfg:      cfg,
		listener: listener,
		sessions: sessions,
		registry: reg,
		udp:      udp,
		watcher:  watcher,
	}
}

// Run drives ticks until ctx is cancelled.
func (d *Driver) Run(ctx context.Context) {
	d.startedAt = time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		progressed := d.tick()
		if progressed {
			time.Sleep(d.cfg.BusySleep)
		} else {
			time.Sleep(d.cfg.TickSleep)
		}
	}
}

// tick runs one full iteration and reports whether any useful work
// happened (used to choose the busy vs. idle sleep).
func (d *Driver) tick() bool {
	start := time.Now()
	progressed := false
	now := start
	nowMS := now.UnixMilli()

	if d.maybeRefreshRegistry(now) {
		progressed = true
	}

	if d.acceptConnections(nowMS) > 0 {
		progressed = true
	}

	if d.pollReads(nowMS) {
		progressed = true
	}

	if len(d.sessions.SweepSignupTimeouts(nowMS)) > 0 {
		progressed = true
	}

	if d.udp != nil {
		if handled, kind, err := d.udp.Step(); err != nil {
			logx.Logf(logx.Warn, logx.Net, "udp discovery step error: %v", err)
		} else if handled {
			progressed = true
			if d.metrics != nil {
				d.metrics.UDPProbesTotal.WithLabelValues(kind).Inc()
			}
		}
	}

	if d.metrics != nil {
		d.metrics.TickDuration.WithLabelValues(strconv.FormatBool(progressed)).Observe(time.Since(start).Seconds())
	}

	d.ticks++
	if d.admin != nil {
		d.publishSnapshot()
	}

	return progressed
}

func (d *Driver) publishSnapshot() {
	snap := admin.Snapshot{
		StartedAt:         d.startedAt,
		Ticks:             d.ticks,
		ActiveConnections: d.sessions.ActiveCount(),
		Capacity:          d.sessions.Capacity(),
	}
	if d.registry != nil {
		snap.RegistryFingerprint = d.registry.FingerprintHex()
		snap.ExtensionSlotCount = d.registry.SlotCount()
	}
	d.admin.Publish(snap)
}

func (d *Driver) maybeRefreshRegistry(now time.Time) bool {
	forced := false
	if d.watcher != nil && len(d.watcher.Drain()) > 0 {
		forced = true
	}
	if !forced && now.Sub(d.lastRefresh) < d.cfg.ExtensionRefresh {
		return false
	}
	d.lastRefresh = now
	if d.registry == nil {
		return false
	}
	changed, err := d.registry.Refresh()
	if err != nil {
		logx.Logf(logx.Warn, logx.Ext, "registry refresh failed: %v", err)
		return false
	}
	if changed {
		logx.Logf(logx.Info, logx.Ext, "registry refreshed fingerprint=%s", d.registry.FingerprintHex())
	}
	if d.metrics != nil {
		d.metrics.ExtensionRefreshTotal.WithLabelValues(strconv.FormatBool(changed)).Inc()
		if failures := d.registry.LastBootstrapFailures(); failures > 0 {
			d.metrics.ExtensionBootstrapFailuresTotal.Add(float64(failures))
		}
	}
	return changed
}

func (d *Driver) acceptConnections(nowMS int64) int {
	if d.listener == nil {
		return 0
	}
	accepted := 0
	for i := 0; i < d.cfg.MaxAcceptPerTick; i++ {
		if err := d.listener.SetDeadline(time.Now().Add(time.Millisecond)); err != nil {
			return accepted
		}
		nc, err := d.listener.Accept()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return accepted
			}
			logx.Logf(logx.Warn, logx.Net, "accept error: %v", err)
			return accepted
		}
		if h := d.sessions.Accept(nc, nowMS); h != 0 {
			accepted++
		}
	}
	return accepted
}

func (d *Driver) pollReads(nowMS int64) bool {
	progressed := false
	buf := make([]byte, d.cfg.MaxPacketBytes)
	for _, h := range d.sessions.Handles() {
		nc, ok := d.sessions.Conn(h)
		if !ok {
			continue
		}
		if err := nc.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
			d.sessions.Close(h)
			progressed = true
			continue
		}
		n, err := nc.Read(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			// Peer closed or fatal I/O error: drop the connection.
			d.sessions.Close(h)
			progressed = true
			continue
		}
		if n == 0 {
			continue
		}
		d.sessions.Feed(h, buf[:n], nowMS)
		progressed = true
	}
	return progressed
}
