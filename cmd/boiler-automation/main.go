// Command boiler-automation watches the boiler status lines, accrues
// runtime toward the next cleaning and coordinates the heating schedule
// with manual thermostat changes.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"

	"github.com/sweeney/boiler-automation/internal/config"
	"github.com/sweeney/boiler-automation/internal/coordination"
	"github.com/sweeney/boiler-automation/internal/gpio"
	"github.com/sweeney/boiler-automation/internal/logging"
	"github.com/sweeney/boiler-automation/internal/maintenance"
	"github.com/sweeney/boiler-automation/internal/store"
)

// CLI is the command line.
type CLI struct {
	Config  string `short:"c" help:"Configuration file path." env:"BOILER_CONFIG" type:"path"`
	Verbose bool   `short:"v" help:"Enable debug logging."`

	Run               RunCmd               `cmd:"" default:"1" help:"Run the automation daemon."`
	PrintState        PrintStateCmd        `cmd:"" help:"Print the current status lines and exit."`
	CanIgnite         CanIgniteCmd         `cmd:"" help:"Report whether maintenance permits ignition. Exits 1 when cleaning is due."`
	MarkCleaned       MarkCleanedCmd       `cmd:"" help:"Record a cleaning and start a new maintenance cycle."`
	ResetCoordination ResetCoordinationCmd `cmd:"" help:"Clear any coordination pause."`
	ShowConfig        ShowConfigCmd        `cmd:"" name:"show-config" help:"Print the effective configuration."`
}

// errCleaningDue makes can-ignite exit non-zero without an error message.
var errCleaningDue = errors.New("cleaning due")

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("boiler-automation"),
		kong.Description("Boiler maintenance and heating coordination daemon."),
		kong.UsageOnError(),
	)
	err := kctx.Run(&cli)
	if errors.Is(err, errCleaningDue) {
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// setup loads the configuration and builds the root logger.
func (c *CLI) setup() (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	level := cfg.Log.Level
	if c.Verbose {
		level = "debug"
	}
	log, err := logging.New(os.Stderr, level, cfg.Log.Format)
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	return cfg, log, nil
}

func openStore(cfg config.Config, log zerolog.Logger) (store.Store, error) {
	st, err := store.Open(cfg.Store.Backend, cfg.Store.DataDir, logging.Component(log, "store"))
	if err != nil {
		return nil, err
	}
	if cfg.Store.Prefix != "" {
		st = store.WithPrefix(st, cfg.Store.Prefix)
	}
	return st, nil
}

// PrintStateCmd reads the status lines once.
type PrintStateCmd struct{}

// Run prints the burner and fault lines.
func (p *PrintStateCmd) Run(cli *CLI) error {
	cfg, _, err := cli.setup()
	if err != nil {
		return err
	}
	reader, err := gpio.NewRealReader(cfg.GPIO.BurnerPin, cfg.GPIO.FaultPin)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer reader.Close()

	burner, fault, err := reader.Read()
	if err != nil {
		return fmt.Errorf("read gpio: %w", err)
	}
	fmt.Printf("Burner: %s, Fault: %s\n", stateString(burner), stateString(fault))
	return nil
}

// CanIgniteCmd checks the maintenance record.
type CanIgniteCmd struct{}

// Run prints the ignition verdict and fails when cleaning is due.
func (c *CanIgniteCmd) Run(cli *CLI) error {
	cfg, log, err := cli.setup()
	if err != nil {
		return err
	}
	st, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	engine := maintenance.NewEngine(st, nil, maintenance.WithLogger(log))
	rec, ok, err := engine.Record(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("maintenance record unreadable")
	}
	if ok {
		fmt.Printf("Runtime: %.2fh of %.0fh (%.1f%%)\n", rec.CurrentHours, rec.TargetHours, rec.Percentage())
	}
	if !engine.CanIgnite(ctx) {
		fmt.Println("Ignition: blocked, cleaning due")
		return errCleaningDue
	}
	fmt.Println("Ignition: permitted")
	return nil
}

// MarkCleanedCmd resets the maintenance cycle.
type MarkCleanedCmd struct{}

// Run resets the maintenance record.
func (m *MarkCleanedCmd) Run(cli *CLI) error {
	cfg, log, err := cli.setup()
	if err != nil {
		return err
	}
	st, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rec, err := maintenance.NewEngine(st, nil, maintenance.WithLogger(log)).MarkCleaned(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Maintenance cycle reset, target %.0fh\n", rec.TargetHours)
	return nil
}

// ResetCoordinationCmd clears the coordination record.
type ResetCoordinationCmd struct{}

// Run overwrites the coordination record with defaults. Saved setpoints
// are discarded without being restored.
func (r *ResetCoordinationCmd) Run(cli *CLI) error {
	cfg, log, err := cli.setup()
	if err != nil {
		return err
	}
	schedule, err := cfg.Schedule()
	if err != nil {
		return err
	}
	st, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	m := coordination.NewMachine(st, nil, schedule, coordination.WithLogger(log))
	if err := m.Reset(ctx); err != nil {
		return err
	}
	fmt.Println("Coordination reset, automation resumed")
	return nil
}

// ShowConfigCmd prints the effective configuration.
type ShowConfigCmd struct{}

// Run prints the configuration as YAML with secrets redacted.
func (s *ShowConfigCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	out, err := cfg.YAML()
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(out)
	return err
}

func stateString(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
