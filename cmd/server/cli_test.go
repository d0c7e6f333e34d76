package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func itoa(n int) string { return strconv.Itoa(n) }

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = l.Close() }()
	return l.Addr().(*net.TCPAddr).Port
}

func writeConfig(t *testing.T, driver string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "server:\n  log_level: error\n" +
		"database:\n  driver: " + driver + "\n" +
		"auth:\n  jwt_secret: " + testSecret + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTickCommand_PrintsReport(t *testing.T) {
	out, err := execute(t, "tick", "--config", writeConfig(t, "memory"))
	require.NoError(t, err)

	var report map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &report), out)
	assert.Contains(t, report, "materialized")
	assert.Contains(t, report, "overdue_transitions")
	assert.EqualValues(t, 0, report["template_failures"])
}

func TestMigrateCommand_NeedsPostgres(t *testing.T) {
	_, err := execute(t, "migrate", "up", "--config", writeConfig(t, "memory"))
	assert.ErrorContains(t, err, "migrations need the postgres driver")
}

func TestMigrateCommand_RejectsUnknownSubcommand(t *testing.T) {
	_, err := execute(t, "migrate", "sideways", "--config", writeConfig(t, "memory"))
	assert.Error(t, err)
}

func TestCommand_MissingConfigFile(t *testing.T) {
	_, err := execute(t, "tick", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "failed to load configuration")
}
