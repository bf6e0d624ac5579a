package harness

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"

	"github.com/liuxd6825/bidiload/lib/types"
)

func TestConfigApply(t *testing.T) {
	t.Parallel()

	empty := Config{}
	defaults := NewConfig()

	assert.Equal(t, empty, empty.Apply(empty))
	assert.Equal(t, empty, empty.Apply(defaults))
	assert.Equal(t, defaults, defaults.Apply(defaults))
	assert.Equal(t, defaults, defaults.Apply(empty))

	full := Config{
		WebSocketURL:   null.NewString("ws://127.0.0.1:9222/session", true),
		NewSession:     null.NewBool(true, true),
		Timeout:        types.NewNullDuration(5*time.Second, true),
		EventTimeout:   types.NewNullDuration(2*time.Second, true),
		NoEventTimeout: types.NewNullDuration(time.Second, true),
		LogLevel:       null.NewString("debug", true),
		LogFilter:      null.NewString("^bidi", true),
	}

	assert.Equal(t, full, full.Apply(empty))
	assert.Equal(t, full, full.Apply(defaults))
	assert.Equal(t, full, empty.Apply(full))
	assert.Equal(t, full, defaults.Apply(full))
}

func TestGetConsolidatedConfig(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/bidiload.yaml", []byte(`
webSocketURL: ws://file:1234/session
timeout: 10s
eventTimeout: 1500
logLevel: debug
`), 0o644))

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()
		cfg, err := GetConsolidatedConfig(fs, "", nil)
		require.NoError(t, err)
		assert.Equal(t, NewConfig(), cfg)
	})
	t.Run("file", func(t *testing.T) {
		t.Parallel()
		cfg, err := GetConsolidatedConfig(fs, "/bidiload.yaml", nil)
		require.NoError(t, err)
		assert.Equal(t, "ws://file:1234/session", cfg.WebSocketURL.String)
		assert.Equal(t, 10*time.Second, cfg.Timeout.TimeDuration())
		assert.Equal(t, 1500*time.Millisecond, cfg.EventTimeout.TimeDuration())
		assert.Equal(t, "debug", cfg.LogLevel.String)
		assert.False(t, cfg.NewSession.Valid)
	})
	t.Run("env overrides file", func(t *testing.T) {
		t.Parallel()
		cfg, err := GetConsolidatedConfig(fs, "/bidiload.yaml", map[string]string{
			"BIDI_WEBSOCKET_URL": "ws://env:1/session",
			"BIDI_NEW_SESSION":   "true",
			"BIDI_TIMEOUT":       "3s",
		})
		require.NoError(t, err)
		assert.Equal(t, "ws://env:1/session", cfg.WebSocketURL.String)
		assert.True(t, cfg.NewSession.Bool)
		assert.Equal(t, 3*time.Second, cfg.Timeout.TimeDuration())
		assert.Equal(t, 1500*time.Millisecond, cfg.EventTimeout.TimeDuration())
	})
	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, err := GetConsolidatedConfig(fs, "/nope.yaml", nil)
		assert.ErrorContains(t, err, "opening config file")
	})
	t.Run("invalid", func(t *testing.T) {
		t.Parallel()
		_, err := GetConsolidatedConfig(fs, "", map[string]string{"BIDI_WEBSOCKET_URL": "http://x"})
		assert.ErrorContains(t, err, "ws or wss")

		_, err = GetConsolidatedConfig(fs, "", map[string]string{"BIDI_TIMEOUT": "-1s"})
		assert.ErrorContains(t, err, "timeout must be positive")

		_, err = GetConsolidatedConfig(fs, "", map[string]string{"BIDI_TIMEOUT": "soon"})
		assert.Error(t, err)
	})
}

func TestReadConfigFileUnknownKey(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "c.yaml", []byte("timeot: 1s\n"), 0o644))
	_, err := ReadConfigFile(fs, "c.yaml")
	assert.ErrorContains(t, err, "timeot")

	require.NoError(t, afero.WriteFile(fs, "empty.yaml", nil, 0o644))
	cfg, err := ReadConfigFile(fs, "empty.yaml")
	require.NoError(t, err)
	assert.Equal(t, NewConfig(), NewConfig().Apply(cfg))
}

func TestEnvMap(t *testing.T) {
	t.Parallel()

	assert.Equal(t, map[string]string{"A": "1", "B": "x=y", "C": ""},
		EnvMap([]string{"A=1", "B=x=y", "C"}))
}
