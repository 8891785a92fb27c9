package bus

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sweeney/fmtxd/internal/logic"
	"github.com/sweeney/fmtxd/internal/sense"
)

func TestFormatPayload(t *testing.T) {
	event := logic.Event{
		Timestamp: time.Date(2026, 2, 2, 22, 18, 12, 0, time.UTC),
		Type:      logic.EventInfo,
		State:     logic.StateEnabled,
		Connected: true,
		Frequency: 98100,
	}

	payload, err := FormatPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"transmitter":{"timestamp":"2026-02-02T22:18:12Z","event":"INFO","state":"enabled","connected":true,"frequency_khz":98100}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestFormatPayloadAllEventTypes(t *testing.T) {
	tests := []struct {
		event      logic.Event
		wantEvent  string
		wantState  string
		wantReason string
	}{
		{logic.Event{Type: logic.EventStateChanged, State: logic.StateDisabled}, "STATE_CHANGED", "disabled", ""},
		{logic.Event{Type: logic.EventInfo, State: logic.StateEnabled, Connected: true}, "INFO", "enabled", ""},
		{logic.Event{Type: logic.EventFrequencyChanged, State: logic.StateDisabled}, "FREQUENCY_CHANGED", "disabled", ""},
		{logic.Event{Type: logic.EventNotice, State: logic.StateEnabled, Reason: logic.NoticeUSBError}, "NOTICE", "enabled", "fmtx_ni_usb_error"},
		{logic.Event{Type: logic.EventExit, State: logic.StateDisabled, Reason: "idle"}, "EXIT", "disabled", "idle"},
		{logic.Event{Type: logic.EventStateChanged, State: logic.StateError}, "STATE_CHANGED", "error", ""},
	}

	for _, tt := range tests {
		t.Run(tt.wantEvent+"/"+tt.wantState, func(t *testing.T) {
			payload, err := FormatPayload(tt.event)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			var parsed Payload
			if err := json.Unmarshal(payload, &parsed); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			if parsed.Transmitter.Event != tt.wantEvent {
				t.Errorf("event: got %q, want %q", parsed.Transmitter.Event, tt.wantEvent)
			}
			if parsed.Transmitter.State != tt.wantState {
				t.Errorf("state: got %q, want %q", parsed.Transmitter.State, tt.wantState)
			}
			if parsed.Transmitter.Reason != tt.wantReason {
				t.Errorf("reason: got %q, want %q", parsed.Transmitter.Reason, tt.wantReason)
			}
		})
	}
}

func TestFormatPayloadTimezoneConversion(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	event := logic.Event{
		Timestamp: time.Date(2026, 2, 2, 23, 18, 12, 0, loc),
		Type:      logic.EventStateChanged,
	}

	payload, _ := FormatPayload(event)
	var parsed Payload
	json.Unmarshal(payload, &parsed)

	if parsed.Transmitter.Timestamp != "2026-02-02T22:18:12Z" {
		t.Errorf("expected UTC timestamp, got %s", parsed.Transmitter.Timestamp)
	}
}

func TestWillPayloadFormat(t *testing.T) {
	event := SystemEvent{
		Timestamp: time.Date(2026, 2, 10, 8, 30, 0, 0, time.UTC),
		Event:     "SHUTDOWN",
		Reason:    "BUS_DISCONNECT",
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"system":{"timestamp":"2026-02-10T08:30:00Z","event":"SHUTDOWN","reason":"BUS_DISCONNECT"}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", string(payload), expected)
	}
}

func TestFormatSystemPayloadReconnected(t *testing.T) {
	event := SystemEvent{
		Timestamp: time.Date(2026, 2, 10, 14, 30, 0, 0, time.UTC),
		Event:     "RECONNECTED",
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"system":{"timestamp":"2026-02-10T14:30:00Z","event":"RECONNECTED"}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", string(payload), expected)
	}
}

func TestFormatSystemPayloadRaw(t *testing.T) {
	raw := []byte(`{"status":{"event":"STARTUP"}}`)
	payload, err := FormatSystemPayload(SystemEvent{Event: "STARTUP", RawPayload: raw})
	if err != nil {
		t.Fatal(err)
	}
	if string(payload) != string(raw) {
		t.Errorf("raw payload not passed through: %s", payload)
	}
}

func TestParseRequest(t *testing.T) {
	r, err := ParseRequest([]byte(`{"enabled":true}`))
	if err != nil {
		t.Fatal(err)
	}
	if r.Enabled == nil || !*r.Enabled || r.FrequencyKHz != nil {
		t.Errorf("unexpected request: %+v", r)
	}

	r, err = ParseRequest([]byte(`{"frequency_khz":98100,"enabled":false}`))
	if err != nil {
		t.Fatal(err)
	}
	if r.FrequencyKHz == nil || *r.FrequencyKHz != 98100 || r.Enabled == nil || *r.Enabled {
		t.Errorf("unexpected request: %+v", r)
	}

	for _, bad := range []string{``, `{}`, `not json`, `{"frequency_khz":-1}`} {
		if _, err := ParseRequest([]byte(bad)); err == nil {
			t.Errorf("ParseRequest(%q): expected error", bad)
		}
	}
}

func TestParseCondition(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	c, err := ParseCondition("call_active", []byte("1"), "mqtt", now)
	if err != nil {
		t.Fatal(err)
	}
	want := sense.Change{Condition: logic.CallActive, Value: true, Time: now, Source: "mqtt"}
	if c != want {
		t.Errorf("got %+v, want %+v", c, want)
	}

	if _, err := ParseCondition("volume", []byte("1"), "mqtt", now); err == nil {
		t.Error("expected error for unknown condition")
	}
	if _, err := ParseCondition("offline", []byte("perhaps"), "mqtt", now); err == nil {
		t.Error("expected error for invalid payload")
	}
}

func TestFakePublisher(t *testing.T) {
	f := NewFakePublisher()

	event := logic.Event{Type: logic.EventStateChanged, State: logic.StateEnabled}
	if err := f.Publish(event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.Events) != 1 || len(f.Payloads) != 1 {
		t.Fatalf("expected 1 event and payload, got %d/%d", len(f.Events), len(f.Payloads))
	}
	if f.Events[0] != event {
		t.Errorf("event not preserved: %+v", f.Events[0])
	}
}

func TestFakePublisherErrors(t *testing.T) {
	f := NewFakePublisher()
	f.PublishError = errors.New("simulated")
	f.PublishSystemError = errors.New("simulated system")

	if err := f.Publish(logic.Event{}); err == nil {
		t.Error("expected publish error")
	}
	if err := f.PublishSystem(SystemEvent{Event: "HEARTBEAT"}); err == nil {
		t.Error("expected publish system error")
	}
	if len(f.Events) != 0 || len(f.SystemEvents) != 0 {
		t.Error("failed publishes should not be recorded")
	}
}

func TestFakePublisherRecordsRetainedFlag(t *testing.T) {
	f := NewFakePublisher()

	f.PublishSystem(SystemEvent{Timestamp: time.Now(), Event: "STARTUP", Retained: true})
	f.PublishSystem(SystemEvent{Timestamp: time.Now(), Event: "HEARTBEAT"})

	if len(f.SystemEvents) != 2 {
		t.Fatalf("expected 2 system events, got %d", len(f.SystemEvents))
	}
	if !f.SystemEvents[0].Retained || f.SystemEvents[1].Retained {
		t.Error("retained flags not preserved")
	}
}

func TestFakePublisherDeliver(t *testing.T) {
	f := NewFakePublisher()

	// Nothing subscribed yet: no panic
	f.DeliverCondition(sense.Change{})
	f.DeliverRequest(Request{})

	var changes []sense.Change
	var reqs []Request
	f.Subscribe(
		func(c sense.Change) { changes = append(changes, c) },
		func(r Request) { reqs = append(reqs, r) },
	)

	f.DeliverCondition(sense.Change{Condition: logic.Offline, Value: true})
	on := true
	f.DeliverRequest(Request{Enabled: &on})

	if len(changes) != 1 || changes[0].Condition != logic.Offline {
		t.Errorf("unexpected changes: %+v", changes)
	}
	if len(reqs) != 1 || !*reqs[0].Enabled {
		t.Errorf("unexpected requests: %+v", reqs)
	}
}

func TestFakePublisherReset(t *testing.T) {
	f := NewFakePublisher()
	f.Publish(logic.Event{})
	f.PublishSystem(SystemEvent{})
	f.Close()
	f.Connected = true
	f.PublishError = errors.New("x")

	f.Reset()

	if len(f.Events) != 0 || len(f.SystemEvents) != 0 || len(f.Payloads) != 0 || len(f.SystemPayloads) != 0 {
		t.Error("recorded events not cleared")
	}
	if f.Closed || f.Connected || f.PublishError != nil {
		t.Error("flags not cleared")
	}

	// Reusable after reset
	if err := f.Publish(logic.Event{}); err != nil {
		t.Errorf("publish after reset: %v", err)
	}
}
