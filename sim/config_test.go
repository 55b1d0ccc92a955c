package sim

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traffic-sim/traffic-sim/sim/internal/testutil"
	"github.com/traffic-sim/traffic-sim/sim/network"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Params_ConvertsUnits(t *testing.T) {
	p := DefaultConfig().params()
	assert.Equal(t, int64(10), p.laneFullBackoff)
	assert.Equal(t, int64(5), p.turnRetryDelay)
	assert.Equal(t, network.Distance(450), p.carLength)
	assert.Equal(t, network.Speed(140), p.walkSpeed)
	assert.Equal(t, int64(100), p.dwellTime)
	assert.Equal(t, int64(864000), p.horizon)
}

func TestConfig_Validate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		policy bool // error wraps ErrUnknownPolicy
	}{
		{"unknown parking policy", func(c *Config) { c.Parking.Policy = "valet" }, true},
		{"unknown trace level", func(c *Config) { c.Run.TraceLevel = "verbose" }, true},
		{"zero walking speed", func(c *Config) { c.Walking.SpeedMPS = 0 }, false},
		{"sub-tick retry delay", func(c *Config) { c.Retry.TurnRetryDelayS = 0.01 }, false},
		{"negative following distance", func(c *Config) { c.Vehicles.FollowingDistanceM = -1 }, false},
		{"negative retry limit", func(c *Config) { c.Parking.RetryLimit = -1 }, false},
		{"empty bus", func(c *Config) { c.Transit.BusCapacity = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, tt.policy, errors.Is(err, ErrUnknownPolicy))
		})
	}
}

func TestLoadConfig_OverlaysDefaults(t *testing.T) {
	// GIVEN a file that sets only two fields
	path := testutil.WriteTemp(t, "config.yaml", `
parking:
  policy: unlimited
transit:
  bus_capacity: 12
`)

	// WHEN loaded
	cfg, err := LoadConfig(path)

	// THEN the named fields change and the rest keep their defaults
	require.NoError(t, err)
	assert.Equal(t, "unlimited", cfg.Parking.Policy)
	assert.Equal(t, 12, cfg.Transit.BusCapacity)
	assert.Equal(t, DefaultConfig().Walking, cfg.Walking)
}

func TestLoadConfig_UnknownField(t *testing.T) {
	path := testutil.WriteTemp(t, "config.yaml", "transit:\n  seats: 12\n")
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfig_ExampleFile(t *testing.T) {
	cfg, err := LoadConfig(testutil.RepoPath(t, "examples", "config.yaml"))
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_ApplyEnv(t *testing.T) {
	// GIVEN environment overrides
	t.Setenv("TRAFFICSIM_PARKING_POLICY", "unlimited")
	t.Setenv("TRAFFICSIM_MAX_TURN_RETRIES", "7")
	t.Setenv("TRAFFICSIM_CHECK_INVARIANTS", "true")

	// WHEN applied over the defaults
	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyEnv())

	// THEN they win and untouched fields stay
	assert.Equal(t, "unlimited", cfg.Parking.Policy)
	assert.Equal(t, 7, cfg.Retry.MaxTurnRetries)
	assert.True(t, cfg.Run.CheckInvariants)
	assert.Equal(t, 1.4, cfg.Walking.SpeedMPS)
}

func TestConfig_ApplyEnv_BadValue(t *testing.T) {
	t.Setenv("TRAFFICSIM_BUS_CAPACITY", "many")
	cfg := DefaultConfig()
	assert.Error(t, cfg.ApplyEnv())
}
