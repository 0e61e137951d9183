// Package apitoken mints bearer tokens for the coordinator HTTP API.
package apitoken

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/secretdoor/montyhall/internal/services/coordinator/api/httpapi"
)

// SecretEnv names the variable holding the coordinator's signing secret.
const SecretEnv = "MONTYHALL_COORDINATOR_JWT_SECRET"

// Config holds configuration for token issuance.
type Config struct {
	Secret  string
	Subject string
	TTL     time.Duration
}

// ParseConfig parses flags into a Config. The secret is read through lookup.
func ParseConfig(fs *flag.FlagSet, args []string, lookup func(string) string) (Config, error) {
	cfg := Config{Subject: "operator", TTL: time.Hour}
	if lookup != nil {
		cfg.Secret = lookup(SecretEnv)
	}
	fs.StringVar(&cfg.Subject, "subject", cfg.Subject, "token subject (default: operator)")
	fs.DurationVar(&cfg.TTL, "ttl", cfg.TTL, "token lifetime (default: 1h)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run issues a token and writes it to out.
func Run(cfg Config, out io.Writer, now func() time.Time) error {
	if out == nil {
		return errors.New("output is required")
	}
	if cfg.Secret == "" {
		return fmt.Errorf("%s is required", SecretEnv)
	}
	if now == nil {
		now = time.Now
	}
	token, err := httpapi.IssueToken([]byte(cfg.Secret), cfg.Subject, cfg.TTL, now())
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	_, err = fmt.Fprintln(out, token)
	return err
}
