package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
		want    string
	}{
		{name: "version flag", args: []string{"--version"}, want: version},
		{name: "help flag", args: []string{"--help"}, want: "--telemetry"},
		{name: "positional args rejected", args: []string{"extra"}, wantErr: true},
		{name: "unknown flag", args: []string{"--nope"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newRootCmd()
			cmd.SetArgs(tt.args)
			var stdout bytes.Buffer
			cmd.SetOut(&stdout)
			cmd.SetErr(&bytes.Buffer{})

			err := cmd.Execute()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, stdout.String(), tt.want)
		})
	}
}

func TestRunCreatesConfigAndDatabase(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")
	dbPath := filepath.Join(dir, "data", "chat_history.db")
	logDir := filepath.Join(dir, "logs")

	cmd := newRootCmd()
	cmd.SetArgs([]string{
		"--config", configPath,
		"--db", dbPath,
		"--log-dir", logDir,
		"--platform", "deepseek",
	})
	cmd.SetIn(strings.NewReader("q\n"))
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, stdout.String(), "=== MultiChat ===")
	assert.Contains(t, stdout.String(), "platform: deepseek")
	assert.Contains(t, stdout.String(), "Goodbye!")

	assert.FileExists(t, configPath)
	assert.FileExists(t, dbPath)
	assert.FileExists(t, filepath.Join(logDir, "multichat.log"))

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"siliconflow"`)
}

func TestRunRejectsMalformedConfig(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(configPath, []byte("{not json"), 0644))

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", configPath, "--db", filepath.Join(dir, "chat.db"), "--log-dir", dir})
	cmd.SetIn(strings.NewReader(""))
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration error")
}
