package node

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/secretdoor/montyhall/internal/platform/cryptoinit"
	"github.com/stretchr/testify/require"
)

func TestParseConfigFlagsOverrideEnv(t *testing.T) {
	t.Setenv("MONTYHALL_NODE_PARTY_INDEX", "0")
	t.Setenv("MONTYHALL_NODE_KEY_PHRASE", "phrase")
	t.Setenv("MONTYHALL_NODE_PEER_ADDRS", "a:1,b:2,c:3")

	fs := flag.NewFlagSet("node", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-party", "2", "-peers", "x:1, y:2 ,z:3"})
	require.NoError(t, err)
	require.Equal(t, 2, cfg.PartyIndex)
	require.Equal(t, []string{"x:1", "y:2", "z:3"}, cfg.PeerAddrs)
	require.Equal(t, ":9000", cfg.Addr)
	require.Equal(t, 1, cfg.Workers)
}

func TestParseConfigRequiresPartyAndKey(t *testing.T) {
	t.Setenv("MONTYHALL_NODE_KEY_PHRASE", "phrase")
	_, err := ParseConfig(flag.NewFlagSet("node", flag.ContinueOnError), nil)
	require.ErrorContains(t, err, "party index")

	t.Setenv("MONTYHALL_NODE_KEY_PHRASE", "")
	_, err = ParseConfig(flag.NewFlagSet("node", flag.ContinueOnError), []string{"-party", "1"})
	require.ErrorContains(t, err, "KEY_PHRASE")
}

func TestResolveLoadsFiles(t *testing.T) {
	dir := t.TempDir()
	network := "parties:\n"
	for i := 0; i < 3; i++ {
		keys, err := cryptoinit.DeriveStaticKeys(fmt.Sprintf("phrase-%d", i))
		require.NoError(t, err)
		network += fmt.Sprintf("  - index: %d\n    peer_addr: 127.0.0.1:%d\n    public_key: %s\n", i, 7000+i, hex.EncodeToString(keys.Public[:]))
	}
	write := func(name, body string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
		return path
	}

	cfg := Config{
		Addr:          "127.0.0.1:0",
		DBPath:        filepath.Join(dir, "node.db"),
		PartyIndex:    1,
		NetworkConfig: write("network.yaml", network),
		CRSPath:       write("crs.yaml", "label: test\n"),
		CircuitsPath:  write("circuits.yaml", "commit: c\ninit: i\nreveal: r\n"),
		KeyPhrase:     "phrase-1",
		PeerAddrs:     []string{"10.0.0.1:1", "10.0.0.2:1", "10.0.0.3:1"},
	}
	serverCfg, err := resolve(cfg, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, 1, serverCfg.Party)
	require.NotNil(t, serverCfg.Params)
	party, ok := serverCfg.Topology.Party(2)
	require.True(t, ok)
	require.Equal(t, "10.0.0.3:1", party.PeerAddr)

	cfg.CRSPath = filepath.Join(dir, "missing.yaml")
	_, err = resolve(cfg, zerolog.Nop())
	require.Error(t, err)
}
