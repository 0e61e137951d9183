package config

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteExitAppendsNewline(t *testing.T) {
	var buf bytes.Buffer
	writeExit(&buf, "derive key: %v", "passphrase is required")
	require.Equal(t, "derive key: passphrase is required\n", buf.String())
}

// Exitf calls os.Exit, so the check re-runs this test in a subprocess.
func TestExitfExitsWithCodeOne(t *testing.T) {
	if os.Getenv("MONTYHALL_TEST_EXITF") == "1" {
		Exitf("fatal: %s", "node stopped")
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=^TestExitfExitsWithCodeOne$")
	cmd.Env = append(os.Environ(), "MONTYHALL_TEST_EXITF=1")
	out, err := cmd.CombinedOutput()

	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr), "expected exit error, got %v", err)
	require.Equal(t, 1, exitErr.ExitCode())
	require.Contains(t, string(out), "fatal: node stopped")
}
