// Package netmon observes connectivity and classifies it as online,
// limited or offline.
//
// Two inputs drive the state: platform signals (link up or down, link
// type) pushed by the host through SetPlatformStatus, and periodic
// reachability checks run by Check or Run. Only the Monitor mutates the
// NetworkInfo it reports; every transition publishes one StatusChange
// event.
package netmon

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/edgesync/internal/events"
)

// Status is the connectivity classification.
type Status string

const (
	StatusOnline  Status = "online"
	StatusLimited Status = "limited"
	StatusOffline Status = "offline"
)

// NetworkInfo is a snapshot of connectivity.
type NetworkInfo struct {
	Status       Status        `json:"status" yaml:"status"`
	Type         string        `json:"type,omitempty" yaml:"type,omitempty"`
	DownlinkKbps int64         `json:"downlink_kbps,omitempty" yaml:"downlink_kbps,omitempty"`
	RTT          time.Duration `json:"rtt,omitempty" yaml:"rtt,omitempty"`
	LastChecked  time.Time     `json:"last_checked" yaml:"last_checked"`
}

// StatusChange is published with the new NetworkInfo on every transition.
var StatusChange = events.NewName[NetworkInfo]("statusChange")

// PlatformInfo is what the host platform reports about the link.
type PlatformInfo struct {
	Up           bool
	Type         string
	DownlinkKbps int64
}

const (
	DefaultInterval   = 30 * time.Second
	DefaultLimitedRTT = 2 * time.Second
)

// Monitor tracks connectivity.
type Monitor struct {
	checker    Checker
	interval   time.Duration
	limitedRTT time.Duration
	now        func() time.Time
	bus        *events.Bus
	logger     *zap.Logger

	// pubMu orders state changes with their StatusChange events, so
	// subscribers see transitions in the order they were applied.
	// Listeners must not change the platform status synchronously.
	pubMu sync.Mutex

	mu        sync.Mutex
	platform  PlatformInfo
	lastCheck CheckResult
	info      NetworkInfo
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithChecker sets the reachability checker. Without one, checks always
// succeed and only platform signals change the status.
func WithChecker(p Checker) Option {
	return func(m *Monitor) { m.checker = p }
}

// WithInterval sets the check period used by Run.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithLimitedRTT sets the round-trip time above which a reachable
// network is classified as limited.
func WithLimitedRTT(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.limitedRTT = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithBus publishes StatusChange events on bus instead of a private one.
func WithBus(bus *events.Bus) Option {
	return func(m *Monitor) { m.bus = bus }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// New creates a Monitor. It starts optimistic: platform up, last check
// reachable, status online.
func New(opts ...Option) *Monitor {
	m := &Monitor{
		interval:   DefaultInterval,
		limitedRTT: DefaultLimitedRTT,
		now:        time.Now,
		logger:     zap.NewNop(),
		platform:   PlatformInfo{Up: true},
		lastCheck:  CheckResult{Reachable: true},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.bus == nil {
		m.bus = events.NewBus(m.logger)
	}
	m.info = NetworkInfo{Status: StatusOnline, LastChecked: m.now()}
	return m
}

// Events returns the bus StatusChange is published on.
func (m *Monitor) Events() *events.Bus { return m.bus }

// Subscribe registers fn for status transitions.
func (m *Monitor) Subscribe(fn func(NetworkInfo)) events.Subscription {
	return events.Subscribe(m.bus, StatusChange, fn)
}

// Unsubscribe removes a listener added with Subscribe.
func (m *Monitor) Unsubscribe(sub events.Subscription) {
	m.bus.Unsubscribe(sub)
}

// Status returns the current snapshot.
func (m *Monitor) Status() NetworkInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info
}

// IsOnline reports whether the status is online.
func (m *Monitor) IsOnline() bool {
	return m.Status().Status == StatusOnline
}

// SetPlatformStatus records a platform connectivity signal.
func (m *Monitor) SetPlatformStatus(up bool, connType string) {
	m.SetPlatformInfo(PlatformInfo{Up: up, Type: connType})
}

// SetPlatformInfo records a platform signal including link details.
func (m *Monitor) SetPlatformInfo(p PlatformInfo) {
	m.pubMu.Lock()
	defer m.pubMu.Unlock()

	m.mu.Lock()
	m.platform = p
	if !p.Up {
		// The next check decides reachability once the link returns.
		m.lastCheck = CheckResult{Reachable: true}
	}
	info, changed := m.reclassifyLocked()
	m.mu.Unlock()

	if changed {
		m.publish(info)
	}
}

// Check runs one reachability check and reclassifies. With the platform
// link down no check is sent.
func (m *Monitor) Check(ctx context.Context) NetworkInfo {
	m.mu.Lock()
	up := m.platform.Up
	m.mu.Unlock()

	result := CheckResult{Reachable: true}
	if up && m.checker != nil {
		var err error
		result, err = m.checker.Check(ctx)
		if err != nil {
			m.logger.Debug("reachability check failed", zap.Error(err))
			result.Reachable = false
		}
	}

	m.pubMu.Lock()
	defer m.pubMu.Unlock()

	m.mu.Lock()
	if up {
		m.lastCheck = result
	}
	info, changed := m.reclassifyLocked()
	m.mu.Unlock()

	if changed {
		m.publish(info)
	}
	return info
}

// Run checks immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Classify maps a platform signal and check result to a status.
//
//	platform down                     -> offline
//	platform up, check unreachable    -> limited
//	check reachable, rtt > limitedRTT -> limited
//	otherwise                         -> online
func Classify(platformUp bool, result CheckResult, limitedRTT time.Duration) Status {
	switch {
	case !platformUp:
		return StatusOffline
	case !result.Reachable:
		return StatusLimited
	case limitedRTT > 0 && result.RTT > limitedRTT:
		return StatusLimited
	default:
		return StatusOnline
	}
}

func (m *Monitor) reclassifyLocked() (NetworkInfo, bool) {
	prev := m.info.Status
	m.info = NetworkInfo{
		Status:       Classify(m.platform.Up, m.lastCheck, m.limitedRTT),
		Type:         m.platform.Type,
		DownlinkKbps: m.platform.DownlinkKbps,
		RTT:          m.lastCheck.RTT,
		LastChecked:  m.now(),
	}
	return m.info, m.info.Status != prev
}

func (m *Monitor) publish(info NetworkInfo) {
	m.logger.Info("network status changed",
		zap.String("status", string(info.Status)),
		zap.String("type", info.Type),
		zap.Duration("rtt", info.RTT),
	)
	events.Publish(m.bus, StatusChange, info)
}
