// Package metrics exposes transmitter activity as Prometheus metrics.
package metrics

import (
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/fmtxd/internal/hw"
	"github.com/sweeney/fmtxd/internal/logic"
	"github.com/sweeney/fmtxd/internal/sense"
)

const namespace = "fmtxd"

// Recorder holds the registered collectors. A nil Recorder is a no-op.
type Recorder struct {
	state          prom.Gauge
	frequency      prom.Gauge
	events         *prom.CounterVec
	notices        *prom.CounterVec
	conditions     *prom.GaugeVec
	conditionTotal *prom.CounterVec
	hwCalls        *prom.CounterVec
	busConnected   prom.Gauge
}

// NewRecorder constructs the collectors and registers them on reg.
// A nil reg gets a fresh registry.
func NewRecorder(reg *prom.Registry) *Recorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	r := &Recorder{
		state: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "Transmitter state (0 uninitialized, 1 error, 2 disabled, 3 enabled)",
		}),
		frequency: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "frequency_khz",
			Help:      "Stored carrier frequency in kHz",
		}),
		events: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Transmitter events by type",
		}, []string{"type"}),
		notices: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "notices_total",
			Help:      "User-facing notices by reason",
		}, []string{"reason"}),
		conditions: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "condition",
			Help:      "Last reported value of each condition (0 or 1)",
		}, []string{"condition"}),
		conditionTotal: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "condition_reports_total",
			Help:      "Condition reports by condition and source",
		}, []string{"condition", "source"}),
		hwCalls: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "hardware_calls_total",
			Help:      "Hardware control calls by operation and outcome",
		}, []string{"op", "outcome"}),
		busConnected: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "bus_connected",
			Help:      "Whether the event bus connection is up",
		}),
	}
	reg.MustRegister(r.state, r.frequency, r.events, r.notices, r.conditions, r.conditionTotal, r.hwCalls, r.busConnected)
	return r
}

// ObserveEvent updates counters and gauges from a transmitter event.
func (r *Recorder) ObserveEvent(e logic.Event) {
	if r == nil {
		return
	}
	r.events.WithLabelValues(string(e.Type)).Inc()
	r.state.Set(float64(e.State))
	r.frequency.Set(float64(e.Frequency))
	if e.Type == logic.EventNotice {
		r.notices.WithLabelValues(e.Reason).Inc()
	}
}

// ObserveCondition records one condition report.
func (r *Recorder) ObserveCondition(c sense.Change) {
	if r == nil {
		return
	}
	v := 0.0
	if c.Value {
		v = 1
	}
	r.conditions.WithLabelValues(c.Condition.String()).Set(v)
	r.conditionTotal.WithLabelValues(c.Condition.String(), c.Source).Inc()
}

// SetBusConnected records the bus connection state.
func (r *Recorder) SetBusConnected(connected bool) {
	if r == nil {
		return
	}
	if connected {
		r.busConnected.Set(1)
	} else {
		r.busConnected.Set(0)
	}
}

// Instrument wraps ctl so every call is counted by outcome.
func (r *Recorder) Instrument(ctl hw.Control) hw.Control {
	if r == nil {
		return ctl
	}
	return &instrumented{ctl: ctl, calls: r.hwCalls}
}

// HTTPHandler serves the metrics in reg.
func HTTPHandler(reg *prom.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

type instrumented struct {
	ctl   hw.Control
	calls *prom.CounterVec
}

func (i *instrumented) SetFrequency(khz uint32) error {
	return i.count(hw.OpFrequency, i.ctl.SetFrequency(khz))
}

func (i *instrumented) SetMute(muted bool) error {
	return i.count(hw.OpMute, i.ctl.SetMute(muted))
}

func (i *instrumented) SetPilotTone(on bool) error {
	return i.count(hw.OpPilot, i.ctl.SetPilotTone(on))
}

func (i *instrumented) count(op hw.Op, err error) error {
	i.calls.WithLabelValues(string(op), hw.Classify(err).String()).Inc()
	return err
}
