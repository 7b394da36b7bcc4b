package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	c := rootCommand()
	c.SetOut(&out)
	c.SetErr(&out)
	c.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := c.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	require.Contains(t, out, Version)
}

func TestAsmRunLedger(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "echo.arna")
	require.NoError(t, os.WriteFile(src, []byte(`
# copy the first two sensors to the outputs
replicate 0 4
replicate 1 5
sense 0 8
`), 0o644))

	lib := filepath.Join(dir, "library")
	image := filepath.Join(dir, "echo.img")
	out, err := execute(t, "asm", "--library", lib, "--image", image, src)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "echo "))
	digest := strings.TrimSpace(strings.TrimPrefix(out, "echo "))
	_, err = os.Stat(image)
	require.NoError(t, err)

	out, err = execute(t, "programs", "--library", lib)
	require.NoError(t, err)
	require.Contains(t, out, "echo")

	out, err = execute(t, "programs", "--library", lib, "--show", "echo")
	require.NoError(t, err)
	require.Contains(t, out, "replicate 0 4")

	out, err = execute(t, "programs", "--library", lib, "--digest", digest)
	require.NoError(t, err)
	require.Contains(t, out, "# "+digest)
	require.Contains(t, out, "sense 0 8")

	_, err = execute(t, "programs", "--library", lib, "--digest", "not-a-digest")
	require.ErrorContains(t, err, "--digest")

	ledgerPath := filepath.Join(dir, "run.db")
	out, err = execute(t, "run",
		"--library", lib,
		"--program", "echo",
		"--ledger", ledgerPath,
		"--agents", "4",
		"--ticks", "20",
		"--keep", "5",
		"--metrics",
	)
	require.NoError(t, err)
	require.Contains(t, out, "ticks:        20")
	require.Contains(t, out, "arena_ticks_total 20")

	out, err = execute(t, "ledger", "-n", "3", ledgerPath)
	require.NoError(t, err)
	require.Contains(t, out, "records 5, ticks 16..20")

	out, err = execute(t, "ledger", "-n", "1", "--hex", ledgerPath)
	require.NoError(t, err)
	require.Regexp(t, `\s[0-9a-f]{64}\n$`, out)
}

func TestRunRejectsBadFlags(t *testing.T) {
	_, err := execute(t, "run", "--program", "echo")
	require.ErrorContains(t, err, "--program requires --library")

	_, err = execute(t, "run", "--agents", "1000")
	require.Error(t, err)

	_, err = execute(t, "--log-level", "loud", "run")
	require.Error(t, err)
}
