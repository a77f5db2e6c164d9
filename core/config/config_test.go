package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/pgpubsub/core/config"
)

// Each test uses its own config type: the loader caches per type for the
// process lifetime, so sharing a type across tests would leak state.

func TestLoad_Defaults(t *testing.T) {
	type defaultsConfig struct {
		Interval time.Duration `env:"CONFIG_TEST_INTERVAL" envDefault:"5s"`
		Limit    int           `env:"CONFIG_TEST_LIMIT" envDefault:"8000"`
	}

	var cfg defaultsConfig
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, 5*time.Second, cfg.Interval)
	assert.Equal(t, 8000, cfg.Limit)
}

func TestLoad_FromEnvironment(t *testing.T) {
	type envConfig struct {
		URL string `env:"CONFIG_TEST_URL" envDefault:"unset"`
	}

	t.Setenv("CONFIG_TEST_URL", "postgres://localhost/app")

	var cfg envConfig
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, "postgres://localhost/app", cfg.URL)
}

func TestLoad_RequiredMissing(t *testing.T) {
	type requiredConfig struct {
		Secret string `env:"CONFIG_TEST_MISSING_SECRET,required"`
	}

	var cfg requiredConfig
	require.Error(t, config.Load(&cfg))
}

func TestLoad_CachesPerType(t *testing.T) {
	type cachedConfig struct {
		Value string `env:"CONFIG_TEST_CACHED" envDefault:"first"`
	}

	var cfg1 cachedConfig
	require.NoError(t, config.Load(&cfg1))
	assert.Equal(t, "first", cfg1.Value)

	// Later environment changes are invisible to an already-loaded type.
	t.Setenv("CONFIG_TEST_CACHED", "second")

	var cfg2 cachedConfig
	require.NoError(t, config.Load(&cfg2))
	assert.Equal(t, cfg1, cfg2)
}

func TestLoad_NilTarget(t *testing.T) {
	require.Error(t, config.Load[struct{}](nil))
}

func TestMustLoad_PanicsOnFailure(t *testing.T) {
	type mustConfig struct {
		Secret string `env:"CONFIG_TEST_MUST_SECRET,required"`
	}

	assert.Panics(t, func() {
		var cfg mustConfig
		config.MustLoad(&cfg)
	})
}
