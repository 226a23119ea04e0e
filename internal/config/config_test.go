package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")
	content := `
server: irc.example.net
nick: bot
channels:
  - name: "#test"
  - name: "#secret"
    key: hunter2
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 6667, cfg.Port)
	assert.Equal(t, "bot", cfg.Username)
	assert.Equal(t, "bot", cfg.IRCName)
	assert.Equal(t, "!", cfg.CommandPrefix)
	assert.Equal(t, DefaultCapabilities, cfg.Capabilities)
	assert.Equal(t, 5, cfg.Reconnect.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Reconnect.BaseDelay)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, Log{Level: "info", Format: "text", MaxSizeMB: 64, MaxBackups: 16, MaxAgeDays: 30}, cfg.Log)
	require.Len(t, cfg.Channels, 2)
	assert.Equal(t, "hunter2", cfg.Channels[1].Key)
	assert.False(t, cfg.WantsSASL())
	assert.Equal(t, "irc.example.net:6667", cfg.Address())
}

func TestParseTLSPortAndDurations(t *testing.T) {
	cfg, err := Parse([]byte(`
server: irc.example.net
tls: true
nick: bot
sasl_username: bot
sasl_password: secret
ping_interval: 30s
reconnect:
  max_attempts: 3
  base_delay: 1s
log:
  file: /var/log/ircbot.log
  max_backups: 2
  compress: true
`))
	require.NoError(t, err)

	assert.Equal(t, 6697, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.PingInterval)
	assert.Equal(t, 3, cfg.Reconnect.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Reconnect.BaseDelay)
	assert.True(t, cfg.WantsSASL())
	assert.Equal(t, "/var/log/ircbot.log", cfg.Log.File)
	assert.Equal(t, 2, cfg.Log.MaxBackups)
	assert.Equal(t, 64, cfg.Log.MaxSizeMB)
	assert.True(t, cfg.Log.Compress)
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing server", "nick: bot\n"},
		{"missing nick", "server: irc.example.net\n"},
		{"half sasl", "server: a\nnick: bot\nsasl_username: bot\n"},
		{"bad prefix", "server: a\nnick: bot\ncommand_prefix: '!!'\n"},
		{"bad channel", "server: a\nnick: bot\nchannels:\n  - name: 'a b'\n"},
		{"bad yaml", "server: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
