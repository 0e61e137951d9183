// Package nodekey prints the static public key a node derives from its
// passphrase, for filling in the network topology.
package nodekey

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/secretdoor/montyhall/internal/platform/cryptoinit"
)

// Config holds configuration for node key derivation.
type Config struct {
	Passphrase string
}

// ParseConfig parses flags into a Config. The passphrase falls back to
// lookup("MONTYHALL_NODE_KEY_PHRASE") so it stays out of shell history.
func ParseConfig(fs *flag.FlagSet, args []string, lookup func(string) string) (Config, error) {
	cfg := Config{}
	if lookup != nil {
		cfg.Passphrase = lookup("MONTYHALL_NODE_KEY_PHRASE")
	}
	fs.StringVar(&cfg.Passphrase, "phrase", cfg.Passphrase, "key passphrase (default: $MONTYHALL_NODE_KEY_PHRASE)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run derives the key pair and writes the public half to out.
func Run(cfg Config, out io.Writer) error {
	if out == nil {
		return errors.New("output is required")
	}
	if strings.TrimSpace(cfg.Passphrase) == "" {
		return errors.New("passphrase is required")
	}
	keys, err := cryptoinit.DeriveStaticKeys(cfg.Passphrase)
	if err != nil {
		return fmt.Errorf("derive node key: %w", err)
	}
	_, err = fmt.Fprintf(out, "public_key: %s\n", hex.EncodeToString(keys.Public[:]))
	return err
}
