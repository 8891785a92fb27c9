package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/fmtxd/internal/logic"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string          `json:"event,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	State         string          `json:"state"`
	OnAir         bool            `json:"on_air"`
	FrequencyKHz  uint32          `json:"frequency_khz"`
	Bounds        BoundsJSON      `json:"bounds"`
	Conditions    map[string]bool `json:"conditions"`
	Predicates    PredicatesJSON  `json:"predicates"`
	ToneOn        bool            `json:"tone_on"`
	Timers        TimersJSON      `json:"timers"`
	Ready         bool            `json:"ready"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	StartTime     string          `json:"start_time"`
	Timestamp     string          `json:"timestamp"`
	Bus           BusStatus       `json:"bus"`
	Counts        CountsJSON      `json:"counts"`
	Transitions   map[string]int  `json:"line_transitions,omitempty"`
	Network       *NetworkJSON    `json:"network,omitempty"`
	Config        ConfigJSON      `json:"config"`
}

// BoundsJSON is the tuning range in kHz.
type BoundsJSON struct {
	Min  uint32 `json:"min"`
	Max  uint32 `json:"max"`
	Step uint32 `json:"step"`
}

// PredicatesJSON mirrors logic.Predicates.
type PredicatesJSON struct {
	Blocked           bool `json:"blocked"`
	AutoIdleCandidate bool `json:"auto_idle_candidate"`
	ShouldPlayTone    bool `json:"should_play_tone"`
}

// TimersJSON reports which timers are armed.
type TimersJSON struct {
	Idle  bool `json:"idle"`
	Pilot bool `json:"pilot"`
	Exit  bool `json:"exit"`
}

// BusStatus reports event bus connection state.
type BusStatus struct {
	Kind      string `json:"kind,omitempty"`
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of transmitter counters.
type CountsJSON struct {
	Enables          int `json:"enables"`
	Disables         int `json:"disables"`
	ForcedDisables   int `json:"forced_disables"`
	HardwareFailures int `json:"hardware_failures"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollMs        int64  `json:"poll_ms"`
	DebounceMs    int64  `json:"debounce_ms"`
	HeartbeatMs   int64  `json:"heartbeat_ms"`
	Bus           string `json:"bus,omitempty"`
	Broker        string `json:"broker"`
	HTTPAddr      string `json:"http_addr"`
	Region        string `json:"region,omitempty"`
	Device        string `json:"device,omitempty"`
	ConditionsDir string `json:"conditions_dir,omitempty"`
}

func buildInner(snap Snapshot) StatusInner {
	tx := snap.Transmitter
	p := tx.Predicates

	return StatusInner{
		State:        tx.State.String(),
		OnAir:        tx.State == logic.StateEnabled,
		FrequencyKHz: tx.Frequency,
		Bounds:       BoundsJSON{Min: tx.Bounds.Min, Max: tx.Bounds.Max, Step: tx.Bounds.Step},
		Conditions:   tx.Conditions.Map(),
		Predicates: PredicatesJSON{
			Blocked:           p.Blocked,
			AutoIdleCandidate: p.AutoIdleCandidate,
			ShouldPlayTone:    p.ShouldPlayTone,
		},
		ToneOn:        tx.ToneOn,
		Timers:        TimersJSON{Idle: tx.IdleArmed, Pilot: tx.PilotArmed, Exit: tx.ExitArmed},
		Ready:         snap.Initialized,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Bus:           BusStatus{Kind: snap.Config.Bus, Connected: snap.BusConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Enables:          tx.Counts.Enables,
			Disables:         tx.Counts.Disables,
			ForcedDisables:   tx.Counts.ForcedDisables,
			HardwareFailures: tx.Counts.HardwareFailures,
		},
		Transitions: snap.Transitions,
		Config: ConfigJSON{
			PollMs:        snap.Config.PollMs,
			DebounceMs:    snap.Config.DebounceMs,
			HeartbeatMs:   snap.Config.HeartbeatMs,
			Bus:           snap.Config.Bus,
			Broker:        snap.Config.Broker,
			HTTPAddr:      snap.Config.HTTPAddr,
			Region:        snap.Config.Region,
			Device:        snap.Config.Device,
			ConditionsDir: snap.Config.ConditionsDir,
		},
	}
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for a system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
