package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/boiler-automation/internal/status"
)

// page is the data the index template renders.
type page struct {
	status.Snapshot
	LiveTopic string
	WSBroker  string
}

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		switch {
		case days > 0:
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		case h > 0:
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		case m > 0:
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"str": func(v any) string {
		s := fmt.Sprint(v)
		if s == "" {
			return "UNKNOWN"
		}
		return s
	},
	"rfc3339": func(t time.Time) string { return t.UTC().Format(time.RFC3339) },
	"hours":   func(h float64) string { return fmt.Sprintf("%.2fh", h) },
	"pct":     func(p float64) string { return fmt.Sprintf("%.1f%%", p) },
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Boiler Automation</title>
<style>
body { font-family: monospace; max-width: 640px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on, .working, .connected, .AUTOMATED { color: green; font-weight: bold; }
.off { color: #888; }
.error, .disconnected, .due { color: red; font-weight: bold; }
.UNKNOWN, .PAUSED_ACTIVE, .PAUSED_DEBOUNCING { color: orange; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; background: orange; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
</style>
</head>
<body>
<h1>Boiler Automation{{if .WSBroker}}<span id="live-dot" class="live-dot" title="connecting"></span>{{end}}</h1>

<h2>Device</h2>
<table>
<tr><th>Status</th><td id="device" class="{{str .Device}}">{{str .Device}}</td></tr>
<tr><th>Burner</th><td id="burner">{{str .Burner}}</td></tr>
<tr><th>Fault</th><td id="fault">{{str .Fault}}</td></tr>
<tr><th>Ready</th><td>{{if .Baselined}}yes{{else}}no{{end}}</td></tr>
</table>

<h2>Coordination</h2>
<table>
{{with .Coordination}}<tr><th>Phase</th><td class="{{.Phase}}">{{.Phase}}</td></tr>
<tr><th>Automation active</th><td>{{if .AutomationActive}}yes{{else}}no{{end}}</td></tr>
{{if .AutomationPaused}}<tr><th>Reason</th><td>{{.PauseReason}}</td></tr>
{{with .PausedUntil}}<tr><th>Paused until</th><td>{{rfc3339 .}}</td></tr>{{end}}
<tr><th>Saved zones</th><td>{{len .SavedSetpoints}}</td></tr>{{end}}
<tr><th>Last change</th><td>{{rfc3339 .LastStateChange}}</td></tr>
{{else}}<tr><th>Phase</th><td class="UNKNOWN">UNKNOWN</td></tr>{{end}}
</table>

<h2>Maintenance</h2>
<table>
{{with .Maintenance}}<tr><th>Runtime</th><td>{{hours .CurrentHours}} / {{hours .TargetHours}} ({{pct .Percentage}})</td></tr>
<tr><th>Cleaning</th><td class="{{if .NeedsCleaning}}due{{else}}on{{end}}">{{if .NeedsCleaning}}due{{else}}not due{{end}}</td></tr>
<tr><th>Last notification</th><td>{{if .LastNotificationLevel}}{{.LastNotificationLevel}}%{{else}}none{{end}}</td></tr>
{{else}}<tr><th>Runtime</th><td>no record yet</td></tr>{{end}}
<tr><th>Can ignite</th><td>{{if .CanIgnite}}yes{{else}}no{{end}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Event Counts</h2>
<table>
<tr><th>Burner ON</th><td>{{.Counts.BurnerOn}}</td></tr>
<tr><th>Burner OFF</th><td>{{.Counts.BurnerOff}}</td></tr>
<tr><th>Fault ON</th><td>{{.Counts.FaultOn}}</td></tr>
<tr><th>Fault OFF</th><td>{{.Counts.FaultOff}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{rfc3339 .StartTime}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Debounce</th><td>{{.Config.DebounceMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>Store</th><td>{{.Config.StoreBackend}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> · <a href="/metrics">metrics</a></p>
{{if .WSBroker}}
<script src="/mqtt.min.js"></script>
<script>
(function() {
  var dot = document.getElementById("live-dot");
  var client = mqtt.connect("{{.WSBroker}}", { reconnectPeriod: 5000 });
  function setDot(cls, title) { dot.className = "live-dot " + cls; dot.title = title; }
  function setText(id, v) { var el = document.getElementById(id); el.textContent = v; el.className = v; }
  client.on("connect", function() { setDot("ok", "live"); client.subscribe("{{.LiveTopic}}"); });
  client.on("offline", function() { setDot("err", "offline"); });
  client.on("error", function() { setDot("err", "error"); });
  client.on("message", function(t, payload) {
    try {
      var msg = JSON.parse(payload.toString());
      if (msg.boiler) {
        setText("device", msg.boiler.status);
        setText("burner", msg.boiler.burner.state);
        setText("fault", msg.boiler.fault.state);
      }
    } catch (e) {}
  });
})();
</script>
{{end}}
</body>
</html>
`

func renderHTML(w io.Writer, p page) error {
	return indexTmpl.Execute(w, p)
}
