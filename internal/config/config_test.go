package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnviron_Defaults(t *testing.T) {
	cfg, err := FromEnviron(nil)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, "scripts", cfg.ScriptsDir)
	assert.Equal(t, "python3", cfg.PythonBin)
	assert.Equal(t, 50, cfg.HistoryLimit)
	assert.Equal(t, 256, cfg.ClientQueueSize)
	assert.Equal(t, "community", cfg.DefaultRoom)
	assert.Equal(t, "data/broker.db", cfg.DBPath)
	assert.Equal(t, []string{"*"}, cfg.Origins())
	assert.Equal(t, "0.0.0.0:8000", cfg.Addr())
}

func TestFromEnviron_Overrides(t *testing.T) {
	cfg, err := FromEnviron([]string{
		"PORT=9001",
		"HISTORY_LIMIT=10",
		"LOG_FORMAT=console",
		"ALLOWED_ORIGINS=http://localhost:5173, https://wallet.example",
	})
	require.NoError(t, err)

	assert.Equal(t, 9001, cfg.Port)
	assert.Equal(t, 10, cfg.HistoryLimit)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.Equal(t, []string{"http://localhost:5173", "https://wallet.example"}, cfg.Origins())
}

func TestValidate_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		environ []string
	}{
		{"port out of range", []string{"PORT=70000"}},
		{"zero history", []string{"HISTORY_LIMIT=0"}},
		{"bad level", []string{"LOG_LEVEL=loud"}},
		{"room with slash", []string{"DEFAULT_ROOM=a/b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := FromEnviron(tt.environ)
			require.NoError(t, err)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestFromEnviron_NotANumber(t *testing.T) {
	_, err := FromEnviron([]string{"PORT=abc"})
	assert.Error(t, err)
}

func TestValidate_AfterOverride(t *testing.T) {
	cfg, err := FromEnviron([]string{"PORT=70000"})
	require.NoError(t, err)
	require.Error(t, cfg.Validate())

	cfg.Port = 9000
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr())
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("BROKER_TEST_ONLY=1\nSCRIPTS_DIR=/srv/workers\n"), 0o644))
	t.Setenv("SCRIPTS_DIR", "")
	os.Unsetenv("SCRIPTS_DIR")
	t.Cleanup(func() { os.Unsetenv("BROKER_TEST_ONLY") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/workers", cfg.ScriptsDir)

	_, err = Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}
