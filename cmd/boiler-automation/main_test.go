package main

import (
	"errors"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/alecthomas/kong"

	"github.com/sweeney/boiler-automation/internal/gpio"
	"github.com/sweeney/boiler-automation/internal/logic"
	"github.com/sweeney/boiler-automation/internal/mqtt"
	"github.com/sweeney/boiler-automation/internal/status"
)

// TestEnvVarNames verifies the env var constants match what pi-helper
// writes to /run/pi-helper.env.
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

func TestReadNetworkInfo(t *testing.T) {
	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "192.168.1.100")
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkWifiSSID, "MyNetwork")

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo")
	}
	if info.Type != "wifi" || info.IP != "192.168.1.100" || info.SSID != "MyNetwork" {
		t.Errorf("info: got %+v", info)
	}
	if info.Gateway != "" {
		t.Errorf("Gateway: got %q, want empty", info.Gateway)
	}
}

func TestReadNetworkInfoNoneSet(t *testing.T) {
	if info := readNetworkInfo(); info != nil {
		t.Errorf("expected nil when NETWORK_STATUS is unset, got %+v", info)
	}
}

func TestResolveWSBroker(t *testing.T) {
	tests := []struct {
		ws, broker, want string
	}{
		{"=broker", "tcp://192.168.1.200:1883", "ws://192.168.1.200:9001"},
		{"=broker", "tcp://mqtt.local", "ws://mqtt.local:9001"},
		{"=broker", "not a url", ""},
		{"off", "tcp://192.168.1.200:1883", ""},
		{"", "tcp://192.168.1.200:1883", ""},
		{"wss://example.com/mqtt", "tcp://x:1883", "wss://example.com/mqtt"},
	}
	for _, tt := range tests {
		if got := resolveWSBroker(tt.ws, tt.broker); got != tt.want {
			t.Errorf("resolveWSBroker(%q, %q): got %q, want %q", tt.ws, tt.broker, got, tt.want)
		}
	}
}

func TestCLICommands(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{nil, "run"},
		{[]string{"run"}, "run"},
		{[]string{"can-ignite"}, "can-ignite"},
		{[]string{"mark-cleaned"}, "mark-cleaned"},
		{[]string{"reset-coordination"}, "reset-coordination"},
		{[]string{"print-state"}, "print-state"},
		{[]string{"-c", "/etc/boiler.yaml", "show-config"}, "show-config"},
	}
	for _, tt := range tests {
		var cli CLI
		parser, err := kong.New(&cli, kong.Name("boiler-automation"))
		if err != nil {
			t.Fatalf("kong.New: %v", err)
		}
		ctx, err := parser.Parse(tt.args)
		if err != nil {
			t.Fatalf("parse %v: %v", tt.args, err)
		}
		if ctx.Command() != tt.want {
			t.Errorf("parse %v: got %q, want %q", tt.args, ctx.Command(), tt.want)
		}
	}
}

// --- run loop tests ---

// fakeClock returns a function that yields start, start+step, ... on
// successive calls. Only called from the loop goroutine.
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

// faultReader returns errors for calls in [faultStart, faultEnd).
type faultReader struct {
	inner      *gpio.FakeReader
	call       int
	faultStart int
	faultEnd   int
}

func (r *faultReader) Read() (bool, bool, error) {
	i := r.call
	r.call++
	if i >= r.faultStart && i < r.faultEnd {
		return false, false, errors.New("gpio fault")
	}
	return r.inner.Read()
}

func (r *faultReader) Close() error { return r.inner.Close() }

func newTestLoop(reader gpio.Reader, pub *mqtt.FakePublisher, heartbeat time.Duration) *loop {
	return &loop{
		reader:    reader,
		publisher: pub,
		conn:      pub,
		tracker:   status.NewTracker(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), status.Config{}),
		debounce:  250 * time.Millisecond,
		heartbeat: heartbeat,
	}
}

// drive runs l for nTicks ticks and then delivers signal.
func drive(t *testing.T, l *loop, nTicks int, signal os.Signal) error {
	t.Helper()
	tick := make(chan time.Time)
	sig := make(chan os.Signal, 1)
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 100*time.Millisecond)

	errCh := make(chan error, 1)
	go func() {
		errCh <- l.run(clock, tick, sig)
	}()
	for i := 0; i < nTicks; i++ {
		tick <- time.Time{}
	}
	sig <- signal
	return <-errCh
}

func TestLoopNoEventsAtBaseline(t *testing.T) {
	samples := repeat(gpio.Sample{}, 4)
	pub := mqtt.NewFakePublisher()
	l := newTestLoop(gpio.NewFakeReader(samples), pub, 0)

	if err := drive(t, l, len(samples), syscall.SIGTERM); err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if len(pub.Events) != 0 {
		t.Errorf("expected 0 device events, got %d", len(pub.Events))
	}
	if len(pub.SystemEvents) != 1 {
		t.Fatalf("expected 1 system event, got %d", len(pub.SystemEvents))
	}
	if got := pub.SystemEvents[0]; got.Event != "SHUTDOWN" || got.Reason != "SIGTERM" || !got.Retained {
		t.Errorf("shutdown event: got %+v", got)
	}
	if got := l.tracker.Device(); got != logic.StatusOff {
		t.Errorf("device status: got %q, want %q", got, logic.StatusOff)
	}
}

func TestLoopBurnerOnSetsWorking(t *testing.T) {
	samples := append(
		repeat(gpio.Sample{}, 4),
		repeat(gpio.Sample{Burner: true}, 4)...,
	)
	pub := mqtt.NewFakePublisher()
	l := newTestLoop(gpio.NewFakeReader(samples), pub, 0)

	if err := drive(t, l, len(samples), syscall.SIGINT); err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if len(pub.Events) != 1 {
		t.Fatalf("expected 1 device event, got %d", len(pub.Events))
	}
	if pub.Events[0].Type != logic.EventBurnerOn {
		t.Errorf("event type: got %s, want %s", pub.Events[0].Type, logic.EventBurnerOn)
	}
	if pub.Events[0].Status != logic.StatusWorking {
		t.Errorf("event status: got %s, want %s", pub.Events[0].Status, logic.StatusWorking)
	}
	if got := l.tracker.Device(); got != logic.StatusWorking {
		t.Errorf("tracker device: got %q, want %q", got, logic.StatusWorking)
	}
	if pub.SystemEvents[len(pub.SystemEvents)-1].Reason != "SIGINT" {
		t.Errorf("shutdown reason: got %q, want SIGINT", pub.SystemEvents[len(pub.SystemEvents)-1].Reason)
	}
}

func TestLoopFaultWinsOverBurner(t *testing.T) {
	samples := append(
		repeat(gpio.Sample{Burner: true}, 4),
		repeat(gpio.Sample{Burner: true, Fault: true}, 4)...,
	)
	pub := mqtt.NewFakePublisher()
	l := newTestLoop(gpio.NewFakeReader(samples), pub, 0)

	if err := drive(t, l, len(samples), syscall.SIGTERM); err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if got := l.tracker.Device(); got != logic.StatusError {
		t.Errorf("tracker device: got %q, want %q", got, logic.StatusError)
	}
}

func TestLoopBounceRejection(t *testing.T) {
	samples := append(
		repeat(gpio.Sample{}, 4),
		append([]gpio.Sample{{Burner: true}}, repeat(gpio.Sample{}, 4)...)...,
	)
	pub := mqtt.NewFakePublisher()
	l := newTestLoop(gpio.NewFakeReader(samples), pub, 0)

	if err := drive(t, l, len(samples), syscall.SIGTERM); err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if len(pub.Events) != 0 {
		t.Errorf("expected 0 device events (bounce rejected), got %d", len(pub.Events))
	}
}

func TestLoopGPIOReadError(t *testing.T) {
	reader := &faultReader{
		inner:      gpio.NewFakeReader(repeat(gpio.Sample{}, 2)),
		faultStart: 2,
		faultEnd:   4,
	}
	pub := mqtt.NewFakePublisher()
	l := newTestLoop(reader, pub, 0)

	if err := drive(t, l, 4, syscall.SIGTERM); err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if len(pub.SystemEvents) != 1 || pub.SystemEvents[0].Event != "SHUTDOWN" {
		t.Errorf("expected only SHUTDOWN, got %+v", pub.SystemEvents)
	}
}

func TestLoopPublishErrorDoesNotCrash(t *testing.T) {
	samples := append(
		repeat(gpio.Sample{}, 4),
		repeat(gpio.Sample{Burner: true}, 4)...,
	)
	pub := mqtt.NewFakePublisher()
	pub.PublishError = errors.New("broker down")
	l := newTestLoop(gpio.NewFakeReader(samples), pub, 0)

	if err := drive(t, l, len(samples), syscall.SIGTERM); err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if got := l.tracker.Device(); got != logic.StatusWorking {
		t.Errorf("tracker device: got %q, want %q", got, logic.StatusWorking)
	}
}

func TestLoopHeartbeat(t *testing.T) {
	samples := repeat(gpio.Sample{}, 12)
	pub := mqtt.NewFakePublisher()
	l := newTestLoop(gpio.NewFakeReader(samples), pub, 500*time.Millisecond)

	if err := drive(t, l, len(samples), syscall.SIGTERM); err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	var heartbeats int
	for _, ev := range pub.SystemEvents {
		if ev.Event != "HEARTBEAT" {
			continue
		}
		heartbeats++
		if !strings.Contains(string(ev.RawPayload), `"event":"HEARTBEAT"`) {
			t.Errorf("heartbeat payload: got %s", ev.RawPayload)
		}
		if ev.Retained {
			t.Error("heartbeat should not be retained")
		}
	}
	if heartbeats == 0 {
		t.Error("expected at least one heartbeat")
	}
}

func TestLoopWithoutReader(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	pub.Connected = false
	l := newTestLoop(nil, pub, time.Millisecond)

	if err := drive(t, l, 3, syscall.SIGTERM); err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if len(pub.SystemEvents) != 1 {
		t.Fatalf("expected only SHUTDOWN, got %d system events", len(pub.SystemEvents))
	}
	if l.tracker.Snapshot().MQTTConnected {
		t.Error("expected MQTT disconnected in snapshot")
	}
}
