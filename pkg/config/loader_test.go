package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifykit/pkg/config"
)

type nested struct {
	Interval time.Duration `env:"INTERVAL" envDefault:"15s"`
	Limit    int           `env:"LIMIT" envDefault:"20"`
}

type testConfig struct {
	Addr   string `env:"ADDR" envDefault:":8080"`
	Nested nested `envPrefix:"NESTED_"`
}

type requiredConfig struct {
	Secret string `env:"CFGTEST_SECRET,required"`
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load[testConfig](config.WithPrefix("CFGTEST_DEFAULTS_"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 15*time.Second, cfg.Nested.Interval)
	assert.Equal(t, 20, cfg.Nested.Limit)
}

func TestLoad_PrefixAndNesting(t *testing.T) {
	t.Setenv("CFGTEST_ENV_ADDR", ":9090")
	t.Setenv("CFGTEST_ENV_NESTED_INTERVAL", "1m")

	cfg, err := config.Load[testConfig](config.WithPrefix("CFGTEST_ENV_"))
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, time.Minute, cfg.Nested.Interval)
	assert.Equal(t, 20, cfg.Nested.Limit)
}

func TestLoad_InjectedEnvironment(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load[testConfig](config.WithEnvironment(map[string]string{
		"ADDR":         ":6060",
		"NESTED_LIMIT": "3",
	}))
	require.NoError(t, err)
	assert.Equal(t, ":6060", cfg.Addr)
	assert.Equal(t, 3, cfg.Nested.Limit)
	assert.Equal(t, 15*time.Second, cfg.Nested.Interval)
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("CFGTEST_FILE_ADDR=:7070\nCFGTEST_FILE_NESTED_LIMIT=5\n"), 0o600))
	t.Setenv("CFGTEST_FILE_NESTED_LIMIT", "7")
	t.Cleanup(func() { _ = os.Unsetenv("CFGTEST_FILE_ADDR") })

	cfg, err := config.Load[testConfig](
		config.WithPrefix("CFGTEST_FILE_"),
		config.WithEnvFiles(filepath.Join(dir, "missing.env"), path),
	)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Addr)
	assert.Equal(t, 7, cfg.Nested.Limit, "process environment wins over the file")
}

func TestLoad_Errors(t *testing.T) {
	_, err := config.Load[requiredConfig]()
	assert.ErrorIs(t, err, config.ErrParsingConfig)

	_, err = config.Load[testConfig](config.WithRequiredEnvFiles(filepath.Join(t.TempDir(), "missing.env")))
	assert.ErrorIs(t, err, config.ErrEnvFile)

	assert.Panics(t, func() { config.MustLoad[requiredConfig]() })
}
