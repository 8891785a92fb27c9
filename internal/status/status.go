// Package status provides a thread-safe status tracker for the fmtxd daemon.
// It is read by HTTP handlers and by the system event publisher.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/fmtxd/internal/logic"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing the bus packages from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	PollMs        int64
	DebounceMs    int64
	HeartbeatMs   int64
	Bus           string // "mqtt", "nats" or "" when disabled
	Broker        string
	HTTPAddr      string
	Region        string
	Device        string
	ConditionsDir string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Transmitter  logic.Status
	Initialized  bool
	Transitions  map[string]int
	LastEvent    *logic.Event
	StartTime    time.Time
	Now          time.Time
	BusConnected bool
	Network      *NetworkInfo
	Config       Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update stores the transmitter status. Called from the event loop after
// every change it applies.
func (t *Tracker) Update(st logic.Status) {
	t.mu.Lock()
	t.snap.Transmitter = st
	t.snap.Initialized = st.State != logic.StateUninitialized
	t.mu.Unlock()
}

// RecordEvent remembers the most recent transmitter event.
func (t *Tracker) RecordEvent(e logic.Event) {
	t.mu.Lock()
	t.snap.LastEvent = &e
	t.mu.Unlock()
}

// SetTransitions stores the detect line transition counts.
func (t *Tracker) SetTransitions(counts map[string]int) {
	t.mu.Lock()
	t.snap.Transitions = counts
	t.mu.Unlock()
}

// SetBusConnected sets the event bus connection status.
func (t *Tracker) SetBusConnected(connected bool) {
	t.mu.Lock()
	t.snap.BusConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	if s.Transitions != nil {
		s.Transitions = make(map[string]int, len(t.snap.Transitions))
		for k, v := range t.snap.Transitions {
			s.Transitions[k] = v
		}
	}
	if s.LastEvent != nil {
		e := *s.LastEvent
		s.LastEvent = &e
	}
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}

// Heartbeat decides when a periodic status event is due.
type Heartbeat struct {
	interval time.Duration
	last     time.Time
}

// NewHeartbeat creates a Heartbeat counting from start. An interval <= 0
// disables it.
func NewHeartbeat(interval time.Duration, start time.Time) *Heartbeat {
	return &Heartbeat{interval: interval, last: start}
}

// Due reports whether a heartbeat should be sent at now, and if so resets
// the interval.
func (h *Heartbeat) Due(now time.Time) bool {
	if h.interval <= 0 {
		return false
	}
	if now.Sub(h.last) < h.interval {
		return false
	}
	h.last = now
	return true
}
