package main

import (
	"net/url"
	"os"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/boiler-automation/internal/gpio"
	"github.com/sweeney/boiler-automation/internal/logic"
	"github.com/sweeney/boiler-automation/internal/metrics"
	"github.com/sweeney/boiler-automation/internal/mqtt"
	"github.com/sweeney/boiler-automation/internal/status"
)

// loop samples the status lines and publishes transitions and heartbeats.
type loop struct {
	reader    gpio.Reader // nil when GPIO is disabled
	publisher mqtt.Publisher
	conn      mqtt.ConnectionStatus
	tracker   *status.Tracker
	metrics   *metrics.Recorder
	debounce  time.Duration
	heartbeat time.Duration
	log       zerolog.Logger
}

// run blocks until a signal arrives, then publishes SHUTDOWN.
func (l *loop) run(now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	detector := logic.NewDetector(l.debounce, now())

	for {
		select {
		case s := <-sig:
			l.shutdown(s, now())
			return nil

		case <-tick:
			if l.reader == nil {
				continue
			}
			t := now()
			burner, fault, err := l.reader.Read()
			if err != nil {
				l.log.Warn().Err(err).Msg("gpio read error")
				continue
			}

			for _, event := range detector.Process(logic.Input{Burner: burner, Fault: fault, Time: t}) {
				l.log.Info().
					Str("event", string(event.Type)).
					Str("burner", string(event.Burner)).
					Str("fault", string(event.Fault)).
					Str("status", string(event.Status)).
					Msg("device event")
				l.metrics.DeviceEvent(event)
				if err := l.publisher.Publish(event); err != nil {
					l.log.Warn().Err(err).Msg("publish error")
				}
			}

			if !detector.IsBaselined() {
				continue
			}

			l.refresh(detector)

			if hb := detector.CheckHeartbeat(t, l.heartbeat); hb != nil {
				l.log.Debug().
					Dur("uptime", hb.Uptime).
					Int("burner_on", hb.Counts.BurnerOn).
					Int("fault_on", hb.Counts.FaultOn).
					Msg("heartbeat")
				if network := readNetworkInfo(); network != nil {
					l.tracker.SetNetwork(network)
				}
				hbEvent := mqtt.SystemEvent{
					Timestamp:  hb.Timestamp,
					Event:      "HEARTBEAT",
					RawPayload: status.FormatStatusEvent(l.tracker.Snapshot(), "HEARTBEAT", ""),
				}
				if err := l.publisher.PublishSystem(hbEvent); err != nil {
					l.log.Warn().Err(err).Msg("heartbeat publish error")
				}
			}
		}
	}
}

// refresh copies detector state into the tracker and gauges.
func (l *loop) refresh(d *logic.Detector) {
	burner, fault := d.CurrentState()
	device := d.Status()
	l.tracker.Update(burner, fault, device, d.IsBaselined(), d.Counts())
	l.metrics.DeviceStatus(device)
	l.syncConnected()
}

func (l *loop) syncConnected() {
	if l.conn == nil {
		return
	}
	up := l.conn.IsConnected()
	l.tracker.SetMQTTConnected(up)
	l.metrics.MQTTConnected(up)
}

func (l *loop) shutdown(s os.Signal, t time.Time) {
	l.log.Info().Str("signal", s.String()).Msg("shutting down")
	name := "UNKNOWN"
	switch s {
	case syscall.SIGINT:
		name = "SIGINT"
	case syscall.SIGTERM:
		name = "SIGTERM"
	}
	l.syncConnected()
	event := mqtt.SystemEvent{
		Timestamp:  t,
		Event:      "SHUTDOWN",
		Reason:     name,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(l.tracker.Snapshot(), "SHUTDOWN", name),
	}
	if err := l.publisher.PublishSystem(event); err != nil {
		l.log.Warn().Err(err).Msg("failed to publish shutdown event")
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

// resolveWSBroker converts the ws_broker setting into a concrete URL.
// "=broker" derives ws://host:9001 from the TCP broker address; "" and
// "off" disable.
func resolveWSBroker(ws, broker string) string {
	switch ws {
	case "", "off":
		return ""
	case "=broker":
	default:
		return ws
	}
	u, err := url.Parse(broker)
	if err != nil || u.Host == "" {
		return ""
	}
	u.Scheme = "ws"
	u.Host = u.Hostname() + ":9001"
	return u.String()
}
