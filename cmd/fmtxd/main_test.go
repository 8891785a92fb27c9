package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/sweeney/fmtxd/internal/bus"
	"github.com/sweeney/fmtxd/internal/config"
	"github.com/sweeney/fmtxd/internal/gpio"
	"github.com/sweeney/fmtxd/internal/hw"
	"github.com/sweeney/fmtxd/internal/logic"
	"github.com/sweeney/fmtxd/internal/metrics"
	"github.com/sweeney/fmtxd/internal/sense"
	"github.com/sweeney/fmtxd/internal/status"
	"github.com/sweeney/fmtxd/internal/timer"
)

// TestEnvVarNames verifies the env var constants match what pi-helper writes
// to /run/pi-helper.env. If pi-helper changes its var names, this test fails
// and we update the constants, not the other way around.
func TestEnvVarNames(t *testing.T) {
	want := map[string]string{
		"NETWORK_TYPE":        envNetworkType,
		"NETWORK_IP":          envNetworkIP,
		"NETWORK_STATUS":      envNetworkStatus,
		"NETWORK_GATEWAY":     envNetworkGateway,
		"NETWORK_WIFI_STATUS": envNetworkWifiStatus,
		"NETWORK_WIFI_SSID":   envNetworkWifiSSID,
	}
	for canonical, got := range want {
		if got != canonical {
			t.Errorf("env var constant: got %q, want %q", got, canonical)
		}
	}
}

func TestReadNetworkInfoAllSet(t *testing.T) {
	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "192.168.1.100")
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkGateway, "192.168.1.1")
	t.Setenv(envNetworkWifiStatus, "connected")
	t.Setenv(envNetworkWifiSSID, "MyNetwork")

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo")
	}

	want := status.NetworkInfo{
		Type:       "wifi",
		IP:         "192.168.1.100",
		Status:     "connected",
		Gateway:    "192.168.1.1",
		WifiStatus: "connected",
		SSID:       "MyNetwork",
	}
	if *info != want {
		t.Errorf("got %+v, want %+v", *info, want)
	}
}

func TestReadNetworkInfoNoneSet(t *testing.T) {
	t.Setenv(envNetworkStatus, "")
	if info := readNetworkInfo(); info != nil {
		t.Errorf("expected nil when NETWORK_STATUS is unset, got %+v", info)
	}
}

func TestReadNetworkInfoPartial(t *testing.T) {
	t.Setenv(envNetworkStatus, "connected")

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo when NETWORK_STATUS is set")
	}
	if info.Status != "connected" {
		t.Errorf("Status: got %q, want %q", info.Status, "connected")
	}
}

// --- runLoop tests ---

var (
	epoch      = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	testBounds = logic.Bounds{Min: 88100, Max: 107900, Step: 100}
)

// fakeClock returns a function that yields start, start+step, start+2*step, ...
// on successive calls. Not safe for concurrent use (only called from runLoop's goroutine).
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

// repeat returns n copies of sample.
func repeat(sample gpio.Sample, n int) []gpio.Sample {
	out := make([]gpio.Sample, n)
	for i := range out {
		out[i] = sample
	}
	return out
}

// faultReader wraps a FakeReader and returns errors for a range of Read() calls.
type faultReader struct {
	inner      *gpio.FakeReader
	call       int
	faultStart int // first call index that returns error (inclusive)
	faultEnd   int // last call index that returns error (exclusive)
}

func (r *faultReader) Read() (gpio.Sample, error) {
	i := r.call
	r.call++
	if i >= r.faultStart && i < r.faultEnd {
		return gpio.Sample{}, errors.New("gpio fault")
	}
	return r.inner.Read()
}

func (r *faultReader) Close() error { return r.inner.Close() }

// rig is a daemon on fakes plus the channels driving its loop. The fakes
// must only be inspected after the loop has returned.
type rig struct {
	d       *daemon
	pub     *bus.FakePublisher
	ctl     *hw.Fake
	sched   *timer.Fake
	tracker *status.Tracker

	tick   chan time.Time
	conds  chan sense.Change
	reqs   chan bus.Request
	timers chan func()
	exit   chan struct{}
	sig    chan os.Signal
	errCh  chan error
}

// newRig returns an initialized, disabled transmitter at 98000 kHz.
func newRig(t *testing.T, reader gpio.Reader, heartbeat time.Duration, clock func() time.Time) *rig {
	t.Helper()
	r := &rig{
		pub:     bus.NewFakePublisher(),
		ctl:     hw.NewFake(),
		sched:   timer.NewFake(epoch),
		tracker: status.NewTracker(epoch, status.Config{PollMs: 100, DebounceMs: 250, Bus: "mqtt"}),
		tick:    make(chan time.Time),
		conds:   make(chan sense.Change),
		reqs:    make(chan bus.Request),
		timers:  make(chan func()),
		exit:    make(chan struct{}, 1),
		sig:     make(chan os.Signal, 1),
		errCh:   make(chan error, 1),
	}
	r.pub.Connected = true

	tx := logic.NewTransmitter(r.sched, logic.Options{
		InitialFrequency: 98000,
		Now:              r.sched.Now,
		OnExit:           func() { r.exit <- struct{}{} },
	})
	r.d = &daemon{
		tx:        tx,
		reader:    reader,
		debouncer: sense.NewDebouncer(250 * time.Millisecond),
		publisher: r.pub,
		busStatus: r.pub,
		tracker:   r.tracker,
		metrics:   metrics.NewRecorder(nil),
		heartbeat: status.NewHeartbeat(heartbeat, epoch),
		now:       clock,
	}
	if err := tx.Initialize(testBounds, r.ctl); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	r.d.attach()
	return r
}

func (r *rig) start() {
	go func() {
		r.errCh <- r.d.runLoop(inputs{
			tick:       r.tick,
			conditions: r.conds,
			requests:   r.reqs,
			timers:     r.timers,
			exit:       r.exit,
			sig:        r.sig,
		})
	}()
}

func (r *rig) ticks(n int) {
	for i := 0; i < n; i++ {
		r.tick <- time.Time{}
	}
}

// advance moves the fake scheduler on the loop goroutine.
func (r *rig) advance(d time.Duration) {
	r.timers <- func() { r.sched.Advance(d) }
}

func (r *rig) stop(t *testing.T, s os.Signal) {
	t.Helper()
	r.sig <- s
	r.wait(t)
}

func (r *rig) wait(t *testing.T) {
	t.Helper()
	select {
	case err := <-r.errCh:
		if err != nil {
			t.Fatalf("runLoop returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runLoop did not return")
	}
}

func (r *rig) eventTypes() []logic.EventType {
	out := make([]logic.EventType, len(r.pub.Events))
	for i, e := range r.pub.Events {
		out[i] = e.Type
	}
	return out
}

func boolPtr(b bool) *bool { return &b }

func khzPtr(k uint32) *uint32 { return &k }

func enableReq() bus.Request { return bus.Request{Enabled: boolPtr(true)} }

func change(c logic.Condition, v bool) sense.Change {
	return sense.Change{Condition: c, Value: v, Time: epoch, Source: "mqtt"}
}

func sameTypes(got []logic.EventType, want ...logic.EventType) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestRunLoopNoEventsAtBaseline(t *testing.T) {
	samples := repeat(gpio.Sample{}, 4)
	r := newRig(t, gpio.NewFakeReader(samples), 0, fakeClock(epoch, 100*time.Millisecond))
	r.start()
	r.ticks(len(samples))
	r.stop(t, syscall.SIGTERM)

	if len(r.pub.Events) != 0 {
		t.Errorf("expected 0 transmitter events, got %v", r.eventTypes())
	}
	if !r.d.debouncer.IsBaselined() {
		t.Error("expected baseline after 4 samples")
	}

	if len(r.pub.SystemEvents) != 1 {
		t.Fatalf("expected 1 system event, got %d", len(r.pub.SystemEvents))
	}
	se := r.pub.SystemEvents[0]
	if se.Event != "SHUTDOWN" || se.Reason != "SIGTERM" || !se.Retained {
		t.Errorf("unexpected system event: %+v", se)
	}
	if !strings.Contains(string(se.RawPayload), `"state":"disabled"`) {
		t.Errorf("shutdown payload missing state: %s", se.RawPayload)
	}
}

func TestRunLoopSignalNames(t *testing.T) {
	r := newRig(t, nil, 0, fakeClock(epoch, time.Second))
	r.start()
	r.stop(t, syscall.SIGINT)

	if got := r.pub.SystemEvents[0].Reason; got != "SIGINT" {
		t.Errorf("reason: got %q, want SIGINT", got)
	}
}

func TestRunLoopHeadphoneForcesDisable(t *testing.T) {
	samples := append(
		repeat(gpio.Sample{}, 4),
		repeat(gpio.Sample{Headphone: true}, 4)...,
	)
	r := newRig(t, gpio.NewFakeReader(samples), 0, fakeClock(epoch, 100*time.Millisecond))
	r.start()
	r.reqs <- enableReq()
	r.ticks(len(samples))
	r.stop(t, syscall.SIGTERM)

	want := []logic.EventType{
		logic.EventStateChanged, logic.EventInfo, // enable
		logic.EventNotice, logic.EventStateChanged, logic.EventInfo, // cable plugged
	}
	if !sameTypes(r.eventTypes(), want...) {
		t.Fatalf("events: got %v, want %v", r.eventTypes(), want)
	}
	if r.pub.Events[2].Reason != logic.NoticeCableError {
		t.Errorf("notice reason: got %q", r.pub.Events[2].Reason)
	}
	if !r.ctl.Muted {
		t.Error("expected RF muted after headphone insert")
	}

	snap := r.tracker.Snapshot()
	if snap.Transmitter.State != logic.StateDisabled {
		t.Errorf("tracker state: got %s", snap.Transmitter.State)
	}
	if snap.Transitions["headphone_connected"] != 1 {
		t.Errorf("transitions: got %v", snap.Transitions)
	}
	if snap.LastEvent == nil || snap.LastEvent.Type != logic.EventInfo {
		t.Errorf("last event: got %+v", snap.LastEvent)
	}
}

func TestRunLoopBounceRejection(t *testing.T) {
	samples := append(
		repeat(gpio.Sample{}, 4),
		append(
			[]gpio.Sample{{Headphone: true}},
			repeat(gpio.Sample{}, 4)...,
		)...,
	)
	r := newRig(t, gpio.NewFakeReader(samples), 0, fakeClock(epoch, 100*time.Millisecond))
	r.start()
	r.reqs <- enableReq()
	r.ticks(len(samples))
	r.stop(t, syscall.SIGTERM)

	if !sameTypes(r.eventTypes(), logic.EventStateChanged, logic.EventInfo) {
		t.Errorf("bounce should not disable, got %v", r.eventTypes())
	}
}

func TestRunLoopBusConditionsAndRequest(t *testing.T) {
	r := newRig(t, nil, 0, fakeClock(epoch, time.Second))
	r.start()
	r.conds <- change(logic.AudioSinkRunning, true)
	r.conds <- change(logic.RouteEngaged, true)
	r.reqs <- bus.Request{Enabled: boolPtr(true), FrequencyKHz: khzPtr(98350)}
	r.stop(t, syscall.SIGTERM)

	want := []logic.EventType{logic.EventFrequencyChanged, logic.EventStateChanged, logic.EventInfo}
	if !sameTypes(r.eventTypes(), want...) {
		t.Fatalf("events: got %v, want %v", r.eventTypes(), want)
	}
	if r.ctl.Frequency != 98300 {
		t.Errorf("tuned %d kHz, want 98300 (snapped down)", r.ctl.Frequency)
	}
	if r.ctl.Muted || !r.ctl.Tone {
		t.Errorf("expected unmuted with pilot tone, muted=%v tone=%v", r.ctl.Muted, r.ctl.Tone)
	}

	snap := r.tracker.Snapshot()
	if !snap.Transmitter.PilotArmed || !snap.Transmitter.ToneOn {
		t.Errorf("expected pilot armed and tone on: %+v", snap.Transmitter)
	}
	if !snap.BusConnected {
		t.Error("expected bus connected in tracker")
	}
}

func TestRunLoopBlockedEnable(t *testing.T) {
	r := newRig(t, nil, 0, fakeClock(epoch, time.Second))
	r.start()
	r.conds <- change(logic.Offline, true)
	r.reqs <- enableReq()
	r.stop(t, syscall.SIGTERM)

	if len(r.pub.Events) != 0 {
		t.Errorf("blocked enable emitted %v", r.eventTypes())
	}
	if len(r.ctl.CallsOf(hw.OpFrequency)) != 0 {
		t.Error("blocked enable touched the tuner")
	}
}

func TestRunLoopDisableRequest(t *testing.T) {
	r := newRig(t, nil, 0, fakeClock(epoch, time.Second))
	r.start()
	r.reqs <- enableReq()
	r.reqs <- bus.Request{Enabled: boolPtr(false)}
	r.stop(t, syscall.SIGTERM)

	want := []logic.EventType{
		logic.EventStateChanged, logic.EventInfo,
		logic.EventStateChanged, logic.EventInfo,
	}
	if !sameTypes(r.eventTypes(), want...) {
		t.Fatalf("events: got %v, want %v", r.eventTypes(), want)
	}
	if !r.tracker.Snapshot().Transmitter.ExitArmed {
		t.Error("expected exit timer armed after disable")
	}
}

func TestRunLoopIdleExit(t *testing.T) {
	r := newRig(t, nil, 0, fakeClock(epoch, time.Second))
	r.start()
	r.advance(logic.DefaultExitTimeout + time.Second)
	r.wait(t)

	if !sameTypes(r.eventTypes(), logic.EventExit) {
		t.Fatalf("events: got %v, want [EXIT]", r.eventTypes())
	}
	if len(r.pub.SystemEvents) != 1 {
		t.Fatalf("expected 1 system event, got %d", len(r.pub.SystemEvents))
	}
	if se := r.pub.SystemEvents[0]; se.Event != "SHUTDOWN" || se.Reason != "IDLE" {
		t.Errorf("unexpected system event: %+v", se)
	}
}

func TestRunLoopEnabledNeverExits(t *testing.T) {
	r := newRig(t, nil, 0, fakeClock(epoch, time.Second))
	r.start()
	r.reqs <- enableReq()
	r.advance(time.Hour)
	r.stop(t, syscall.SIGTERM)

	for _, e := range r.pub.Events {
		if e.Type == logic.EventExit {
			t.Fatal("enabled transmitter emitted EXIT")
		}
	}
}

func TestRunLoopGPIOReadError(t *testing.T) {
	inner := gpio.NewFakeReader(repeat(gpio.Sample{}, 2))
	reader := &faultReader{
		inner:      inner,
		faultStart: 2, // calls 2,3 return error
		faultEnd:   4,
	}
	r := newRig(t, reader, 0, fakeClock(epoch, 100*time.Millisecond))
	r.start()
	r.ticks(4)
	r.stop(t, syscall.SIGTERM)

	found := false
	for _, se := range r.pub.SystemEvents {
		if se.Event == "SHUTDOWN" {
			found = true
		}
	}
	if !found {
		t.Error("expected SHUTDOWN system event after GPIO errors")
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	// No detect lines: every tick is eligible. Ticks at +0, +5m, +10m, +15m.
	r := newRig(t, nil, 15*time.Minute, fakeClock(epoch, 5*time.Minute))
	r.start()
	r.ticks(4)
	r.stop(t, syscall.SIGTERM)

	if len(r.pub.SystemEvents) != 2 {
		t.Fatalf("expected HEARTBEAT and SHUTDOWN, got %d system events", len(r.pub.SystemEvents))
	}
	hb := r.pub.SystemEvents[0]
	if hb.Event != "HEARTBEAT" || hb.Retained {
		t.Errorf("unexpected heartbeat: %+v", hb)
	}
	if !strings.Contains(string(hb.RawPayload), `"event":"HEARTBEAT"`) {
		t.Errorf("heartbeat payload: %s", hb.RawPayload)
	}
}

func TestRunLoopHeartbeatWaitsForBaseline(t *testing.T) {
	// Lines never settle, so no heartbeat is sent.
	samples := []gpio.Sample{{}, {Headphone: true}, {}, {Headphone: true}}
	r := newRig(t, gpio.NewFakeReader(samples), time.Minute, fakeClock(epoch, 5*time.Minute))
	r.d.debouncer = sense.NewDebouncer(time.Hour)
	r.start()
	r.ticks(len(samples))
	r.stop(t, syscall.SIGTERM)

	if len(r.pub.SystemEvents) != 1 {
		t.Errorf("expected only SHUTDOWN, got %+v", r.pub.SystemEvents)
	}
}

func TestRunLoopPublishErrorDoesNotCrash(t *testing.T) {
	r := newRig(t, nil, 0, fakeClock(epoch, time.Second))
	r.pub.PublishError = errors.New("broker down")
	r.start()
	r.reqs <- enableReq()
	r.stop(t, syscall.SIGTERM)

	if r.tracker.Snapshot().Transmitter.State != logic.StateEnabled {
		t.Error("publish failure should not affect the transmitter")
	}
	if len(r.pub.SystemEvents) != 1 {
		t.Error("expected SHUTDOWN despite publish errors")
	}
}

func TestRunLoopWithoutBus(t *testing.T) {
	r := newRig(t, nil, 0, fakeClock(epoch, time.Second))
	r.d.publisher = nil
	r.d.busStatus = nil
	r.start()
	r.reqs <- enableReq()
	r.stop(t, syscall.SIGTERM)

	if len(r.pub.Events) != 0 || len(r.pub.SystemEvents) != 0 {
		t.Error("nothing should be published without a bus")
	}
	if r.tracker.Snapshot().BusConnected {
		t.Error("bus should be reported disconnected")
	}
}

// --- configuration ---

func TestStartupRequest(t *testing.T) {
	if startupRequest(false) != nil {
		t.Error("no request expected without --enable")
	}
	r := startupRequest(true)
	if r == nil || r.Enabled == nil || !*r.Enabled || r.FrequencyKHz != nil {
		t.Errorf("unexpected request: %+v", r)
	}
}

func TestBusHandlersForward(t *testing.T) {
	conditions := make(chan sense.Change, 1)
	requests := make(chan bus.Request, 1)
	onCondition, onRequest := busHandlers(context.Background(), conditions, requests)

	onCondition(sense.Change{Condition: logic.CallActive, Value: true, Source: "mqtt"})
	on := true
	onRequest(bus.Request{Enabled: &on})

	if c := <-conditions; c.Condition != logic.CallActive || !c.Value {
		t.Errorf("unexpected condition: %+v", c)
	}
	if r := <-requests; r.Enabled == nil || !*r.Enabled {
		t.Errorf("unexpected request: %+v", r)
	}
}

func TestBusHandlersDoNotBlockAfterShutdown(t *testing.T) {
	conditions := make(chan sense.Change, 1)
	requests := make(chan bus.Request, 1)
	conditions <- sense.Change{}
	requests <- bus.Request{}

	ctx, cancel := context.WithCancel(context.Background())
	onCondition, onRequest := busHandlers(ctx, conditions, requests)
	cancel()

	done := make(chan struct{})
	go func() {
		onCondition(sense.Change{Condition: logic.Offline, Value: true})
		onRequest(bus.Request{})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handlers blocked on full channels after shutdown")
	}
}

func TestResolveDefaults(t *testing.T) {
	cli := CLI{HeadphonePin: -1, USBPin: -1}
	cfg, err := cli.resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	def := config.Default()
	if cfg.Region != def.Region || cfg.Bus.Kind != config.BusOff || cfg.GPIO != def.GPIO {
		t.Errorf("expected defaults, got %+v", cfg)
	}
}

func TestResolvePrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fmtxd.yaml")
	yaml := "region: us\nfrequency_khz: 99900\nheartbeat_ms: 60000\ngpio:\n  usb_pin: 20\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cli := CLI{
		Config:       path,
		Region:       "eu-75",
		Broker:       "tcp://10.0.0.2:1883",
		HTTP:         "off",
		NoHeartbeat:  true,
		HeadphonePin: 5,
		USBPin:       -1,
		ActiveHigh:   true,
		Chip:         "off",
	}
	cfg, err := cli.resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if cfg.Region != "eu-75" {
		t.Errorf("flag should beat YAML: region %q", cfg.Region)
	}
	if cfg.FrequencyKHz != 99900 {
		t.Errorf("YAML should beat default: frequency %d", cfg.FrequencyKHz)
	}
	if cfg.Bus.Kind != config.BusMQTT || cfg.BusAddress() != "tcp://10.0.0.2:1883" {
		t.Errorf("--broker should select mqtt: %+v", cfg.Bus)
	}
	if cfg.HTTPAddr != "" {
		t.Errorf("--http=off should disable HTTP, got %q", cfg.HTTPAddr)
	}
	if cfg.HeartbeatMs != 0 {
		t.Errorf("--no-heartbeat should disable heartbeat, got %d", cfg.HeartbeatMs)
	}
	if cfg.GPIO.Chip != "" || cfg.GPIO.HeadphonePin != 5 || cfg.GPIO.USBPin != 20 || cfg.GPIO.ActiveLow {
		t.Errorf("unexpected gpio: %+v", cfg.GPIO)
	}
}

func TestResolveInvalid(t *testing.T) {
	cli := CLI{Bus: "nats", HeadphonePin: -1, USBPin: -1}
	if _, err := cli.resolve(); err == nil {
		t.Error("nats without url should be rejected")
	}
}

func TestBusKind(t *testing.T) {
	cfg := config.Default()
	if busKind(cfg) != "" {
		t.Error("off bus should report empty kind")
	}
	cfg.Bus = config.Bus{Kind: config.BusNATS, NATSURL: "nats://x:4222"}
	if busKind(cfg) != "nats" || cfg.BusAddress() != "nats://x:4222" {
		t.Errorf("unexpected kind/address: %q %q", busKind(cfg), cfg.BusAddress())
	}
}
