package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"

	"github.com/sweeney/boiler-automation/internal/climate"
	"github.com/sweeney/boiler-automation/internal/config"
	"github.com/sweeney/boiler-automation/internal/coordination"
	"github.com/sweeney/boiler-automation/internal/gpio"
	"github.com/sweeney/boiler-automation/internal/logging"
	"github.com/sweeney/boiler-automation/internal/maintenance"
	"github.com/sweeney/boiler-automation/internal/metrics"
	"github.com/sweeney/boiler-automation/internal/mqtt"
	"github.com/sweeney/boiler-automation/internal/notify"
	"github.com/sweeney/boiler-automation/internal/preferences"
	"github.com/sweeney/boiler-automation/internal/status"
	"github.com/sweeney/boiler-automation/internal/web"
)

// RunCmd runs the daemon.
type RunCmd struct{}

// Run starts every component and blocks until SIGINT or SIGTERM.
func (r *RunCmd) Run(cli *CLI) error {
	cfg, log, err := cli.setup()
	if err != nil {
		return err
	}
	return run(cfg, log)
}

func run(cfg config.Config, log zerolog.Logger) error {
	schedule, err := cfg.Schedule()
	if err != nil {
		return err
	}

	st, err := openStore(cfg, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	rec := metrics.NewRecorder(nil)
	topics := mqtt.TopicsFor(cfg.MQTT.Prefix)

	tracker := status.NewTracker(time.Now(), status.Config{
		PollMs:               cfg.GPIO.Poll.Milliseconds(),
		DebounceMs:           cfg.GPIO.Debounce.Milliseconds(),
		HeartbeatMs:          cfg.GPIO.Heartbeat.Milliseconds(),
		AccrualIntervalMs:    cfg.Maintenance.AccrualInterval.Milliseconds(),
		CoordinationPollMs:   cfg.Coordination.PollInterval.Milliseconds(),
		Broker:               cfg.MQTT.Broker,
		HTTPAddr:             cfg.HTTP.Addr,
		StoreBackend:         cfg.Store.Backend,
		NotificationsBackend: notificationsBackend(cfg),
	})
	if network := readNetworkInfo(); network != nil {
		tracker.SetNetwork(network)
	}

	// ctl is filled in below; the reconnect hook only fires after Run
	// has finished wiring.
	ctl := &controller{}
	publisher, err := mqtt.NewRealPublisher(mqtt.Options{
		Broker:     cfg.MQTT.Broker,
		ClientID:   cfg.MQTT.ClientID,
		Username:   cfg.MQTT.Username,
		Password:   cfg.MQTT.Password,
		Topics:     topics,
		BufferSize: cfg.MQTT.BufferSize,
		Log:        logging.Component(log, "mqtt"),
		OnReconnect: func() {
			ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
			defer cancel()
			ctl.republish(ctx)
		},
	})
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer publisher.Close()

	prefs := preferences.NewStore(st, time.Now, logging.Component(log, "preferences"))

	dispatcher, closeNotify, err := buildDispatcher(cfg, publisher, topics, log)
	if err != nil {
		return err
	}
	defer closeNotify()
	dispatcher = countingDispatcher{next: dispatcher, metrics: rec}

	engine := maintenance.NewEngine(st,
		preferenceGate{next: dispatcher, prefs: prefs, owner: cfg.Coordination.Owner, log: log},
		maintenance.WithLogger(logging.Component(log, "maintenance")),
		maintenance.WithRecorder(rec),
		maintenance.WithMaxGap(cfg.Maintenance.AccrualGap()),
	)

	sub := climate.NewSubscriber(publisher, cfg.MQTT.ClimatePrefix, logging.Component(log, "climate"), func(ch climate.ManualChange) {
		ctl.manualChange(ch)
	})

	machine := coordination.NewMachine(st, sub, schedule,
		coordination.WithDebounceWindow(cfg.Coordination.DebounceWindow),
		coordination.WithLogger(logging.Component(log, "coordination")),
		coordination.WithListener(rec.Decision),
		coordination.WithListener(func(d coordination.Decision) { ctl.onDecision(d) }),
	)

	*ctl = controller{
		machine: machine,
		engine:  engine,
		prefs:   prefs,
		climate: sub,
		tracker: tracker,
		pub:     publisher,
		topics:  topics,
		notify:  dispatcher,
		metrics: rec,
		owner:   cfg.Coordination.Owner,
		target:  cfg.Maintenance.TargetHours,
		now:     time.Now,
		log:     logging.Component(log, "controller"),
	}

	startCtx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	ctl.syncTarget(startCtx)
	ctl.republish(startCtx)
	cancel()

	if err := sub.Start(); err != nil {
		log.Warn().Err(err).Msg("climate subscription failed, retrying on reconnect")
	}

	var reader gpio.Reader
	if cfg.GPIO.Enabled {
		r, err := gpio.NewRealReader(cfg.GPIO.BurnerPin, cfg.GPIO.FaultPin)
		if err != nil {
			return fmt.Errorf("init gpio: %w", err)
		}
		defer r.Close()
		reader = r
	} else {
		log.Warn().Msg("gpio disabled, device status only changes through the API")
	}

	tracker.SetMQTTConnected(publisher.IsConnected())
	rec.MQTTConnected(publisher.IsConnected())
	startup := mqtt.SystemEvent{
		Timestamp:  time.Now(),
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(tracker.Snapshot(), "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startup); err != nil {
		log.Warn().Err(err).Msg("failed to publish startup event")
	}

	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, web.Deps{
			Tracker:     tracker,
			Coordinator: machine,
			Maintenance: engine,
			Preferences: prefs,
			Metrics:     rec.Handler(),
			LiveTopic:   topics.Events,
			WSBroker:    resolveWSBroker(cfg.MQTT.WSBroker, cfg.MQTT.Broker),
			Log:         logging.Component(log, "http"),
		})
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("http server error")
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("http status server listening")
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	if err := ctl.schedule(scheduler, cfg.Maintenance.AccrualInterval, cfg.Coordination.PollInterval); err != nil {
		return err
	}
	scheduler.Start()
	defer func() {
		if err := scheduler.Shutdown(); err != nil {
			log.Warn().Err(err).Msg("scheduler shutdown")
		}
	}()

	log.Info().
		Dur("poll", cfg.GPIO.Poll).
		Dur("debounce", cfg.GPIO.Debounce).
		Dur("accrual_interval", cfg.Maintenance.AccrualInterval).
		Dur("accrual_gap", cfg.Maintenance.AccrualGap()).
		Dur("coordination_poll", cfg.Coordination.PollInterval).
		Str("broker", cfg.MQTT.Broker).
		Str("store", cfg.Store.Backend).
		Msg("started")

	var tick <-chan time.Time
	if reader != nil {
		ticker := time.NewTicker(cfg.GPIO.Poll)
		defer ticker.Stop()
		tick = ticker.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	l := &loop{
		reader:    reader,
		publisher: publisher,
		conn:      publisher,
		tracker:   tracker,
		metrics:   rec,
		debounce:  cfg.GPIO.Debounce,
		heartbeat: cfg.GPIO.Heartbeat,
		log:       logging.Component(log, "gpio"),
	}
	return l.run(time.Now, tick, sigCh)
}

// buildDispatcher assembles the notification transports. The log
// transport is always present.
func buildDispatcher(cfg config.Config, pub notify.RawPublisher, topics mqtt.Topics, log zerolog.Logger) (notify.Dispatcher, func(), error) {
	multi := notify.Multi{notify.LogDispatcher{Log: logging.Component(log, "notify")}}
	closeFn := func() {}

	if cfg.Notifications.MQTT {
		multi = append(multi, notify.NewMQTTDispatcher(pub, topics.Notifications))
	}
	if cfg.Notifications.NATSURL != "" {
		nd, err := notify.NewNATSDispatcher(cfg.Notifications.NATSURL, cfg.Notifications.NATSPrefix)
		if err != nil {
			return nil, nil, fmt.Errorf("init nats: %w", err)
		}
		multi = append(multi, nd)
		closeFn = func() { nd.Close() }
	}
	return multi, closeFn, nil
}

func notificationsBackend(cfg config.Config) string {
	backend := "log"
	if cfg.Notifications.MQTT {
		backend += "+mqtt"
	}
	if cfg.Notifications.NATSURL != "" {
		backend += "+nats"
	}
	return backend
}
