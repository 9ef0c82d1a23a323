package climate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/boiler-automation/internal/coordination"
	"github.com/sweeney/boiler-automation/internal/mqtt"
)

// DefaultPrefix is where thermostats publish <zone>/state and listen on
// <zone>/set.
const DefaultPrefix = "energy/climate"

// Command is the payload published to <prefix>/<zone>/set.
type Command struct {
	Setpoint float64 `json:"setpoint"`
	Override bool    `json:"override"`
	Source   string  `json:"source"`
}

// Subscriber is the MQTT-backed climate subsystem.
type Subscriber struct {
	client   mqtt.Client
	prefix   string
	cache    *Cache
	now      func() time.Time
	log      zerolog.Logger
	onManual func(ManualChange)
}

// NewSubscriber creates a Subscriber. onManual may be nil.
func NewSubscriber(client mqtt.Client, prefix string, log zerolog.Logger, onManual func(ManualChange)) *Subscriber {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Subscriber{
		client:   client,
		prefix:   prefix,
		cache:    NewCache(),
		now:      time.Now,
		log:      log,
		onManual: onManual,
	}
}

// Start subscribes to zone state reports.
func (s *Subscriber) Start() error {
	if err := s.client.Subscribe(s.prefix+"/+/state", 1, s.handle); err != nil {
		return fmt.Errorf("subscribe climate state: %w", err)
	}
	return nil
}

func (s *Subscriber) handle(topic string, payload []byte) {
	zone, ok := s.zoneOf(topic)
	if !ok {
		return
	}
	var st ZoneState
	if err := json.Unmarshal(payload, &st); err != nil {
		s.log.Warn().Err(err).Str("zone", zone).Msg("ignoring malformed climate state")
		return
	}
	st.UpdatedAt = s.now()

	change := s.cache.Apply(zone, st)
	if change == nil {
		return
	}
	s.log.Info().
		Str("zone", zone).
		Str("reason", string(change.Reason)).
		Float64("setpoint", st.Setpoint).
		Msg("manual climate change")
	if s.onManual != nil {
		s.onManual(*change)
	}
}

func (s *Subscriber) zoneOf(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, s.prefix+"/")
	if !ok {
		return "", false
	}
	zone, ok := strings.CutSuffix(rest, "/state")
	if !ok || zone == "" || strings.Contains(zone, "/") {
		return "", false
	}
	return zone, true
}

// Setpoints returns the automated setpoint of every known zone.
func (s *Subscriber) Setpoints(ctx context.Context) (map[string]float64, error) {
	return s.cache.Automated(), nil
}

// RestoreSetpoints publishes a set command per zone, clearing the manual
// override. Publishing the same setpoints again is harmless.
func (s *Subscriber) RestoreSetpoints(ctx context.Context, setpoints map[string]float64) error {
	var errs []error
	for zone, sp := range setpoints {
		if err := ctx.Err(); err != nil {
			return err
		}
		cmd := Command{Setpoint: sp, Override: false, Source: "automation"}
		if err := mqtt.PublishJSON(s.client, s.prefix+"/"+zone+"/set", 1, false, cmd); err != nil {
			errs = append(errs, fmt.Errorf("zone %s: %w", zone, err))
		}
	}
	return errors.Join(errs...)
}

// Observation returns the current climate observation.
func (s *Subscriber) Observation() coordination.Observation {
	return s.cache.Observation()
}

// Cache exposes the zone cache.
func (s *Subscriber) Cache() *Cache {
	return s.cache
}
