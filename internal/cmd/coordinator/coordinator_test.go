package coordinator

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseConfigRequiresThreeParties(t *testing.T) {
	_, err := ParseConfig(flag.NewFlagSet("coordinator", flag.ContinueOnError), []string{"-parties", "a:1,b:2"})
	require.ErrorContains(t, err, "exactly 3")

	cfg, err := ParseConfig(flag.NewFlagSet("coordinator", flag.ContinueOnError), []string{"-parties", "a:1,b:2,c:3", "-addr", ":9999"})
	require.NoError(t, err)
	require.Equal(t, []string{"a:1", "b:2", "c:3"}, cfg.PartyAddrs)
	require.Equal(t, ":9999", cfg.Addr)
	require.Equal(t, 256, cfg.MaxConns)
}

func TestParseConfigReadsEnv(t *testing.T) {
	t.Setenv("MONTYHALL_COORDINATOR_PARTY_ADDRS", "n0:9000,n1:9000,n2:9000")
	t.Setenv("MONTYHALL_COORDINATOR_JWT_SECRET", "s3cret")

	cfg, err := ParseConfig(flag.NewFlagSet("coordinator", flag.ContinueOnError), nil)
	require.NoError(t, err)
	require.Len(t, cfg.PartyAddrs, 3)
	require.Equal(t, "s3cret", cfg.JWTSecret)
}
