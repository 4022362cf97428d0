package main

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var binaryPath string

func TestMain(m *testing.M) {
	binDir, err := os.MkdirTemp("", "hemotrack-bin")
	if err != nil {
		panic("Failed to create bin directory: " + err.Error())
	}
	binaryPath = filepath.Join(binDir, "hemotrack_test")

	// Build the binary once
	cmd := exec.Command("go", "build", "-o", binaryPath, ".")
	output, err := cmd.CombinedOutput()
	if err != nil {
		panic("Failed to build test binary: " + err.Error() + "\n" + string(output))
	}

	exitCode := m.Run()

	os.RemoveAll(binDir)
	os.Exit(exitCode)
}

func run(t *testing.T, args ...string) (string, int) {
	t.Helper()
	cmd := exec.Command(binaryPath, args...)
	input, err := os.Open(os.DevNull)
	require.NoError(t, err)
	defer input.Close()
	cmd.Stdin = input
	cmd.Env = append(os.Environ(), "HEMOTRACK_SERVER_PORT=1")

	output, err := cmd.CombinedOutput()
	if exitErr, ok := err.(*exec.ExitError); ok {
		return string(output), exitErr.ExitCode()
	}
	require.NoError(t, err)
	return string(output), 0
}

func TestBinaryHelp(t *testing.T) {
	for _, arg := range []string{"help", "--help"} {
		out, code := run(t, arg)
		assert.Zero(t, code, arg)
		assert.Contains(t, out, "reminders next [count]", arg)
	}
}

func TestBinaryVersion(t *testing.T) {
	out, code := run(t, "version")
	assert.Zero(t, code)
	assert.Contains(t, out, "hemotrack version dev")
}

func TestBinaryUnknownCommand(t *testing.T) {
	out, code := run(t, "frobnicate")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, `Unknown command "frobnicate"`)
}

func TestBinaryUsageErrors(t *testing.T) {
	dir := t.TempDir()

	out, code := run(t, "-data", dir, "export")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "hemotrack export [-o file] csv <table>")

	out, code = run(t, "-data", dir, "reminders", "next", "99")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "count must be between 1 and 52")
}

func TestBinaryStoreCommands(t *testing.T) {
	dir := t.TempDir()

	out, code := run(t, "-data", dir, "reminders", "next")
	assert.Zero(t, code, out)
	assert.Contains(t, out, "No reminders configured")

	xlsx := filepath.Join(dir, "out.xlsx")
	out, code = run(t, "-data", dir, "export", "-o", xlsx, "xlsx", "bleeding_events")
	assert.Zero(t, code, out)
	assert.Contains(t, out, "bleeding_events: 0")
	assert.FileExists(t, xlsx)

	out, code = run(t, "-data", dir, "sync")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "Sync is disabled")
}

func TestBinaryStatus(t *testing.T) {
	out, code := run(t, "-data", t.TempDir(), "status")
	assert.Zero(t, code, out)
	assert.Contains(t, out, "not running")
	assert.Contains(t, out, "No API password set")
}
