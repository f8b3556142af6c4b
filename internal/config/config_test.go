package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ccs-labs/runmaker/internal/config"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, config.Default(), cfg)
	require.Equal(t, 9998, cfg.Port)
	require.Equal(t, 160, cfg.LogWidth)
	require.Equal(t, 3, cfg.LogLines)
}

func TestLoadOverrides(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "runmaker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"port: 12345\nlog_width: 500\ntoken_file: /srv/shared/runmaker.token\n",
	), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 12345, cfg.Port)
	require.Equal(t, 500, cfg.LogWidth)
	require.Equal(t, "/srv/shared/runmaker.token", cfg.TokenFile)

	// everything not mentioned keeps its default
	require.Equal(t, config.Default().LogLines, cfg.LogLines)
	require.Equal(t, config.Default().RetryAttempts, cfg.RetryAttempts)
}

func TestLoadMalformed(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "runmaker.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: [oops\n"), 0o644))

	_, err := config.Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), path)
}
