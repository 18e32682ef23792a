// Package scenario implements the scenario command: it runs a YAML-scripted
// settlement scenario against an in-memory engine and reports the outcome.
package scenario

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/caarlos0/env/v11"

	"github.com/openclearing/settlement/internal/services/settlement/scenario"
)

// Config holds scenario command configuration.
type Config struct {
	Scenario string `env:"SETTLEMENT_SCENARIO_FILE"`
	Verbose  bool   `env:"SETTLEMENT_SCENARIO_VERBOSE"`
}

// ParseConfig parses environment defaults and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	fs.StringVar(&cfg.Scenario, "scenario", cfg.Scenario, "path to scenario yaml file")
	fs.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "enable verbose output")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run executes the scenario command.
func Run(ctx context.Context, cfg Config, out io.Writer, errOut io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}
	if cfg.Scenario == "" {
		return errors.New("scenario path is required")
	}

	data, err := os.ReadFile(cfg.Scenario)
	if err != nil {
		return fmt.Errorf("read scenario: %w", err)
	}
	script, err := scenario.Load(data)
	if err != nil {
		return err
	}
	if cfg.Verbose {
		fmt.Fprintf(out, "running scenario %q (%d steps)\n", script.Name, len(script.Steps))
	}

	if err := (scenario.Runner{}).Run(ctx, script); err != nil {
		return err
	}
	fmt.Fprintf(out, "scenario %q passed\n", script.Name)
	return nil
}
