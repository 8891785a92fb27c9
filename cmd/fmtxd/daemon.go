package main

import (
	"log"
	"os"
	"syscall"
	"time"

	"github.com/sweeney/fmtxd/internal/bus"
	"github.com/sweeney/fmtxd/internal/gpio"
	"github.com/sweeney/fmtxd/internal/logic"
	"github.com/sweeney/fmtxd/internal/metrics"
	"github.com/sweeney/fmtxd/internal/sense"
	"github.com/sweeney/fmtxd/internal/status"
	"github.com/sweeney/fmtxd/internal/web"
)

// daemon owns the transmitter. Only runLoop's goroutine may touch tx.
// Optional collaborators are nil when disabled.
type daemon struct {
	tx        *logic.Transmitter
	reader    gpio.Reader
	debouncer *sense.Debouncer
	publisher bus.Publisher
	busStatus bus.ConnectionStatus
	tracker   *status.Tracker
	metrics   *metrics.Recorder
	hub       *web.Hub
	heartbeat *status.Heartbeat
	now       func() time.Time
}

// inputs are the channels runLoop selects over.
type inputs struct {
	tick       <-chan time.Time
	conditions <-chan sense.Change
	requests   <-chan bus.Request
	timers     <-chan func()
	exit       <-chan struct{}
	sig        <-chan os.Signal
}

// attach subscribes the daemon to transmitter events.
func (d *daemon) attach() {
	d.tx.Subscribe(d.onEvent)
}

func (d *daemon) runLoop(in inputs) error {
	for {
		select {
		case s := <-in.sig:
			log.Printf("received %v, shutting down", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			d.refresh()
			d.publishSystem("SHUTDOWN", signalName, true)
			return nil

		case <-in.exit:
			log.Printf("idle, shutting down")
			d.refresh()
			d.publishSystem("SHUTDOWN", "IDLE", true)
			return nil

		case <-in.tick:
			d.poll(d.now())

		case c := <-in.conditions:
			d.applyCondition(c)
			d.refresh()

		case r := <-in.requests:
			d.applyRequest(r)
			d.refresh()

		case fn := <-in.timers:
			fn()
			d.refresh()
		}
	}
}

// poll samples the detect lines and sends heartbeats.
func (d *daemon) poll(t time.Time) {
	if d.reader != nil {
		s, err := d.reader.Read()
		if err != nil {
			log.Printf("gpio read error: %v", err)
			return
		}
		for _, c := range d.debouncer.Process(s, t) {
			d.applyCondition(c)
		}
		if d.tracker != nil {
			d.tracker.SetTransitions(d.debouncer.Transitions())
		}
		if !d.debouncer.IsBaselined() {
			// Still waiting for baseline
			return
		}
	}

	d.refresh()

	if d.heartbeat != nil && d.heartbeat.Due(t) {
		st := d.tx.Status()
		log.Printf("heartbeat: state=%s frequency=%dkHz enables=%d disables=%d forced=%d hw_failures=%d",
			st.State, st.Frequency, st.Counts.Enables, st.Counts.Disables, st.Counts.ForcedDisables, st.Counts.HardwareFailures)
		if d.tracker != nil {
			// Refresh network info for heartbeat
			if net := readNetworkInfo(); net != nil {
				d.tracker.SetNetwork(net)
			}
		}
		d.publishSystem("HEARTBEAT", "", false)
	}
}

func (d *daemon) applyCondition(c sense.Change) {
	log.Printf("condition: %s=%v (%s)", c.Condition, c.Value, c.Source)
	d.metrics.ObserveCondition(c)
	d.tx.SetCondition(c.Condition, c.Value)
}

// applyRequest applies the frequency before the enable flag, so a request
// carrying both comes up on the new frequency.
func (d *daemon) applyRequest(r bus.Request) {
	if r.FrequencyKHz != nil {
		if err := d.tx.RequestFrequency(*r.FrequencyKHz); err != nil {
			log.Printf("frequency request %d kHz: %v", *r.FrequencyKHz, err)
		}
	}
	if r.Enabled == nil {
		return
	}
	if *r.Enabled {
		if err := d.tx.RequestEnable(); err != nil {
			log.Printf("enable request: %v", err)
		}
		return
	}
	if err := d.tx.RequestDisable(); err != nil {
		log.Printf("disable request: %v", err)
	}
}

func (d *daemon) onEvent(e logic.Event) {
	if e.Reason != "" {
		log.Printf("event: %s (state=%s frequency=%dkHz reason=%s)", e.Type, e.State, e.Frequency, e.Reason)
	} else {
		log.Printf("event: %s (state=%s frequency=%dkHz)", e.Type, e.State, e.Frequency)
	}

	d.metrics.ObserveEvent(e)
	if d.tracker != nil {
		d.tracker.RecordEvent(e)
	}
	if d.hub != nil {
		d.hub.PublishEvent(e)
	}
	if d.publisher != nil {
		if err := d.publisher.Publish(e); err != nil {
			log.Printf("publish error: %v", err)
			// Don't crash on publish failure
		}
	}
}

// refresh copies engine and bus state into the tracker and metrics.
func (d *daemon) refresh() {
	connected := d.busStatus != nil && d.busStatus.IsConnected()
	d.metrics.SetBusConnected(connected)
	if d.tracker == nil {
		return
	}
	d.tracker.Update(d.tx.Status())
	d.tracker.SetBusConnected(connected)
}

// publishSystem sends a system event carrying a full status snapshot.
func (d *daemon) publishSystem(event, reason string, retained bool) {
	if d.publisher == nil {
		return
	}
	se := bus.SystemEvent{
		Timestamp: d.now(),
		Event:     event,
		Reason:    reason,
		Retained:  retained,
	}
	if d.tracker != nil {
		snap := d.tracker.Snapshot()
		se.RawPayload = status.FormatStatusEvent(snap, event, reason)
	}
	if err := d.publisher.PublishSystem(se); err != nil {
		log.Printf("failed to publish %s event: %v", event, err)
	} else {
		log.Printf("published %s event", event)
	}
}
