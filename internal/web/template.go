package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/fmtxd/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"mhz": func(khz uint32) string {
		return fmt.Sprintf("%d.%d MHz", khz/1000, khz%1000/100)
	},
	"yesno": func(b bool) string {
		if b {
			return "yes"
		}
		return "no"
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>FM Transmitter</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.enabled { color: green; font-weight: bold; }
.disabled { color: #888; }
.error, .uninitialized { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>FM Transmitter{{if .Live}}<span id="live-dot" class="live-dot pending" title="connecting"></span>{{end}}</h1>

<h2>Transmitter</h2>
<table>
<tr><th>State</th><td id="tx-state" class="{{.Transmitter.State}}">{{.Transmitter.State}}</td></tr>
<tr><th>Frequency</th><td id="tx-freq">{{mhz .Transmitter.Frequency}}</td></tr>
<tr><th>Range</th><td>{{mhz .Transmitter.Bounds.Min}} to {{mhz .Transmitter.Bounds.Max}}, step {{.Transmitter.Bounds.Step}} kHz</td></tr>
<tr><th>Pilot tone</th><td>{{if .Transmitter.ToneOn}}on{{else}}off{{end}}</td></tr>
<tr><th>Ready</th><td>{{yesno .Initialized}}</td></tr>
</table>

<h2>Conditions</h2>
<table>
{{range $name, $v := .Conditions}}<tr><th>{{$name}}</th><td>{{yesno $v}}</td></tr>
{{end}}<tr><th>Blocked</th><td>{{yesno .Transmitter.Predicates.Blocked}}</td></tr>
<tr><th>Idle candidate</th><td>{{yesno .Transmitter.Predicates.AutoIdleCandidate}}</td></tr>
<tr><th>Tone wanted</th><td>{{yesno .Transmitter.Predicates.ShouldPlayTone}}</td></tr>
</table>

<h2>Timers</h2>
<table>
<tr><th>Idle</th><td>{{if .Transmitter.IdleArmed}}armed{{else}}-{{end}}</td></tr>
<tr><th>Pilot</th><td>{{if .Transmitter.PilotArmed}}armed{{else}}-{{end}}</td></tr>
<tr><th>Exit</th><td>{{if .Transmitter.ExitArmed}}armed{{else}}-{{end}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>Bus</th><td class="{{if .BusConnected}}connected{{else}}disconnected{{end}}">{{if .Config.Bus}}{{.Config.Bus}} {{if .BusConnected}}connected{{else}}disconnected{{end}}{{else}}off{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Counts</h2>
<table>
<tr><th>Enables</th><td>{{.Transmitter.Counts.Enables}}</td></tr>
<tr><th>Disables</th><td>{{.Transmitter.Counts.Disables}}</td></tr>
<tr><th>Forced disables</th><td>{{.Transmitter.Counts.ForcedDisables}}</td></tr>
<tr><th>Hardware failures</th><td>{{.Transmitter.Counts.HardwareFailures}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Region</th><td>{{.Config.Region}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Debounce</th><td>{{.Config.DebounceMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a>{{if .Metrics}} | <a href="/metrics">metrics</a>{{end}}</p>
{{if .Live}}
<script>
(function() {
  var dot = document.getElementById("live-dot");
  var stateEl = document.getElementById("tx-state");
  var freqEl = document.getElementById("tx-freq");

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  function mhz(khz) {
    return Math.floor(khz / 1000) + "." + Math.floor((khz % 1000) / 100) + " MHz";
  }

  function connect() {
    var proto = location.protocol === "https:" ? "wss://" : "ws://";
    var ws = new WebSocket(proto + location.host + "/ws");
    ws.onopen = function() { setDot("ok", "live"); };
    ws.onclose = function() {
      setDot("err", "offline");
      setTimeout(connect, 5000);
    };
    ws.onmessage = function(m) {
      try {
        var msg = JSON.parse(m.data);
        var tx = msg.transmitter || msg.status;
        if (tx) {
          stateEl.textContent = tx.state;
          stateEl.className = tx.state;
          freqEl.textContent = mhz(tx.frequency_khz);
        }
      } catch (e) {}
    };
  }
  connect();
})();
</script>
{{end}}
</body>
</html>
`

type page struct {
	status.Snapshot
	Uptime     time.Duration
	Conditions map[string]bool
	Live       bool
	Metrics    bool
}

func renderHTML(w io.Writer, snap status.Snapshot, live, metrics bool) {
	indexTmpl.Execute(w, page{
		Snapshot:   snap,
		Uptime:     snap.Uptime(),
		Conditions: snap.Transmitter.Conditions.Map(),
		Live:       live,
		Metrics:    metrics,
	})
}
