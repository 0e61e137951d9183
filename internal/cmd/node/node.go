// Package node parses party-node flags and launches the node.
package node

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	entrypoint "github.com/secretdoor/montyhall/internal/platform/cmd"
	"github.com/secretdoor/montyhall/internal/platform/config"
	"github.com/secretdoor/montyhall/internal/platform/cryptoinit"
	"github.com/secretdoor/montyhall/internal/platform/logging"
	"github.com/secretdoor/montyhall/internal/platform/timeouts"
	server "github.com/secretdoor/montyhall/internal/services/node/app"
	"github.com/secretdoor/montyhall/internal/services/node/engine"
	"github.com/secretdoor/montyhall/internal/services/node/peernet"
)

// Config holds node command configuration.
type Config struct {
	Addr           string        `env:"MONTYHALL_NODE_ADDR" envDefault:":9000"`
	DBPath         string        `env:"MONTYHALL_NODE_DB_PATH" envDefault:"data/node.db"`
	PartyIndex     int           `env:"MONTYHALL_NODE_PARTY_INDEX" envDefault:"-1"`
	PeerAddrs      []string      `env:"MONTYHALL_NODE_PEER_ADDRS" envSeparator:","`
	NetworkConfig  string        `env:"MONTYHALL_NODE_NETWORK_CONFIG" envDefault:"config/network.yaml"`
	CRSPath        string        `env:"MONTYHALL_NODE_CRS_PATH" envDefault:"config/crs.yaml"`
	CircuitsPath   string        `env:"MONTYHALL_NODE_CIRCUITS_PATH" envDefault:"config/circuits.yaml"`
	KeyPhrase      string        `env:"MONTYHALL_NODE_KEY_PHRASE"`
	MetricsAddr    string        `env:"MONTYHALL_NODE_METRICS_ADDR"`
	SessionTimeout time.Duration `env:"MONTYHALL_NODE_SESSION_TIMEOUT" envDefault:"30s"`
	Workers        int           `env:"MONTYHALL_NODE_WORKERS" envDefault:"1"`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The node gRPC listen address")
	fs.IntVar(&cfg.PartyIndex, "party", cfg.PartyIndex, "This node's party index (0-2)")
	fs.StringVar(&cfg.NetworkConfig, "network", cfg.NetworkConfig, "Path to the network topology YAML")
	fs.StringVar(&cfg.CRSPath, "crs", cfg.CRSPath, "Path to the CRS YAML")
	fs.StringVar(&cfg.CircuitsPath, "circuits", cfg.CircuitsPath, "Path to the circuit set YAML")
	fs.Func("peers", "Comma separated peer addresses overriding the topology, by party index", func(value string) error {
		cfg.PeerAddrs = config.SplitList(value)
		return nil
	})
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	if cfg.PartyIndex < 0 || cfg.PartyIndex >= engine.Parties {
		return Config{}, fmt.Errorf("party index must be between 0 and %d", engine.Parties-1)
	}
	if strings.TrimSpace(cfg.KeyPhrase) == "" {
		return Config{}, errors.New("MONTYHALL_NODE_KEY_PHRASE is required")
	}
	return cfg, nil
}

// Run loads the node's key, topology and parameters, then serves until ctx
// ends.
func Run(ctx context.Context, cfg Config) error {
	logCfg, err := logging.LoadConfig()
	if err != nil {
		return err
	}
	logger, err := logging.New(os.Stderr, entrypoint.ServiceNode, logCfg)
	if err != nil {
		return err
	}
	serverCfg, err := resolve(cfg, logger)
	if err != nil {
		return err
	}
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceNode, entrypoint.RunOptions{Logger: logger}, func(ctx context.Context) error {
		return server.Run(ctx, serverCfg)
	})
}

// resolve turns command configuration into the server's runtime config.
func resolve(cfg Config, logger zerolog.Logger) (server.Config, error) {
	cryptoinit.InstallDefaultProvider(logger)
	keys, err := cryptoinit.DeriveStaticKeys(cfg.KeyPhrase)
	if err != nil {
		return server.Config{}, fmt.Errorf("derive static keys: %w", err)
	}

	topology, err := peernet.LoadTopology(cfg.NetworkConfig)
	if err != nil {
		return server.Config{}, err
	}
	topology, err = topology.WithPeerAddrs(cfg.PeerAddrs)
	if err != nil {
		return server.Config{}, err
	}

	crs, err := engine.LoadCRS(cfg.CRSPath)
	if err != nil {
		return server.Config{}, err
	}
	circuits, err := engine.LoadCircuitSet(cfg.CircuitsPath)
	if err != nil {
		return server.Config{}, err
	}
	params, err := engine.NewParams(crs, circuits)
	if err != nil {
		return server.Config{}, err
	}

	sessionTimeout := cfg.SessionTimeout
	if sessionTimeout <= 0 {
		sessionTimeout = timeouts.PeerSession
	}
	return server.Config{
		Addr:           cfg.Addr,
		DBPath:         cfg.DBPath,
		MetricsAddr:    cfg.MetricsAddr,
		Party:          cfg.PartyIndex,
		Topology:       topology,
		Params:         params,
		Keys:           keys,
		SessionTimeout: sessionTimeout,
		Workers:        cfg.Workers,
		Logger:         logger,
	}, nil
}
