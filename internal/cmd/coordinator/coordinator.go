// Package coordinator parses coordinator flags and launches the coordinator.
package coordinator

import (
	"context"
	"flag"
	"fmt"
	"os"

	entrypoint "github.com/secretdoor/montyhall/internal/platform/cmd"
	"github.com/secretdoor/montyhall/internal/platform/config"
	"github.com/secretdoor/montyhall/internal/platform/logging"
	"github.com/secretdoor/montyhall/internal/platform/timeouts"
	server "github.com/secretdoor/montyhall/internal/services/coordinator/app"
	"github.com/secretdoor/montyhall/internal/services/coordinator/orchestrator"
	"github.com/secretdoor/montyhall/internal/services/node/engine"
)

// Config holds coordinator command configuration.
type Config struct {
	Addr       string   `env:"MONTYHALL_COORDINATOR_ADDR" envDefault:":8080"`
	PartyAddrs []string `env:"MONTYHALL_COORDINATOR_PARTY_ADDRS" envSeparator:","`
	DBPath     string   `env:"MONTYHALL_COORDINATOR_DB_PATH" envDefault:"data/coordinator.db"`
	CRSPath    string   `env:"MONTYHALL_COORDINATOR_CRS_PATH" envDefault:"config/crs.yaml"`
	VKPath     string   `env:"MONTYHALL_COORDINATOR_VK_PATH" envDefault:"config/circuits.yaml"`
	JWTSecret  string   `env:"MONTYHALL_COORDINATOR_JWT_SECRET"`
	MaxConns   int      `env:"MONTYHALL_COORDINATOR_MAX_CONNS" envDefault:"256"`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The coordinator HTTP listen address")
	fs.StringVar(&cfg.CRSPath, "crs", cfg.CRSPath, "Path to the CRS YAML")
	fs.StringVar(&cfg.VKPath, "vk", cfg.VKPath, "Path to the circuit set used to verify proofs")
	fs.Func("parties", "Comma separated party node addresses, by party index", func(value string) error {
		cfg.PartyAddrs = config.SplitList(value)
		return nil
	})
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	if len(cfg.PartyAddrs) != orchestrator.Parties {
		return Config{}, fmt.Errorf("exactly %d party addresses are required, got %d", orchestrator.Parties, len(cfg.PartyAddrs))
	}
	return cfg, nil
}

// Run connects to the parties and serves the HTTP API until ctx ends.
func Run(ctx context.Context, cfg Config) error {
	logCfg, err := logging.LoadConfig()
	if err != nil {
		return err
	}
	logger, err := logging.New(os.Stderr, entrypoint.ServiceCoordinator, logCfg)
	if err != nil {
		return err
	}

	crs, err := engine.LoadCRS(cfg.CRSPath)
	if err != nil {
		return err
	}
	circuits, err := engine.LoadCircuitSet(cfg.VKPath)
	if err != nil {
		return err
	}
	params, err := engine.NewParams(crs, circuits)
	if err != nil {
		return err
	}

	var partyAddrs [orchestrator.Parties]string
	copy(partyAddrs[:], cfg.PartyAddrs)
	serverCfg := server.Config{
		Addr:        cfg.Addr,
		PartyAddrs:  partyAddrs,
		DBPath:      cfg.DBPath,
		Params:      params,
		JWTSecret:   cfg.JWTSecret,
		MaxConns:    cfg.MaxConns,
		DialTimeout: timeouts.GRPCDial,
		StepTimeout: timeouts.PartyStep,
		Logger:      logger,
	}
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceCoordinator, entrypoint.RunOptions{Logger: logger}, func(ctx context.Context) error {
		return server.Run(ctx, serverCfg)
	})
}
