package sim

import (
	"bytes"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/traffic-sim/traffic-sim/sim/network"
	"github.com/traffic-sim/traffic-sim/sim/trace"
)

// RetryConfig groups the backoff of drivers that cannot proceed.
type RetryConfig struct {
	LaneFullBackoffS float64 `yaml:"lane_full_backoff_s" json:"lane_full_backoff_s" env:"TRAFFICSIM_LANE_FULL_BACKOFF_S"`
	TurnRetryDelayS  float64 `yaml:"turn_retry_delay_s" json:"turn_retry_delay_s" env:"TRAFFICSIM_TURN_RETRY_DELAY_S"`
	MaxTurnRetries   int     `yaml:"max_turn_retries" json:"max_turn_retries" env:"TRAFFICSIM_MAX_TURN_RETRIES"` // deferrals before a trip is stalled
}

// ParkingConfig groups parking policy selection and retry behavior.
type ParkingConfig struct {
	Policy     string  `yaml:"policy" json:"policy" env:"TRAFFICSIM_PARKING_POLICY"` // "finite" (default) or "unlimited"
	BackoffS   float64 `yaml:"backoff_s" json:"backoff_s" env:"TRAFFICSIM_PARKING_BACKOFF_S"`
	RetryLimit int     `yaml:"retry_limit" json:"retry_limit" env:"TRAFFICSIM_PARKING_RETRY_LIMIT"`
}

// ZoneConfig groups capacity-zone retry behavior.
type ZoneConfig struct {
	BackoffS   float64 `yaml:"backoff_s" json:"backoff_s" env:"TRAFFICSIM_ZONE_BACKOFF_S"`
	RetryLimit int     `yaml:"retry_limit" json:"retry_limit" env:"TRAFFICSIM_ZONE_RETRY_LIMIT"`
}

// VehicleConfig groups vehicle dimensions.
type VehicleConfig struct {
	FollowingDistanceM float64 `yaml:"following_distance_m" json:"following_distance_m" env:"TRAFFICSIM_FOLLOWING_DISTANCE_M"`
	CarLengthM         float64 `yaml:"car_length_m" json:"car_length_m" env:"TRAFFICSIM_CAR_LENGTH_M"`
	BikeLengthM        float64 `yaml:"bike_length_m" json:"bike_length_m" env:"TRAFFICSIM_BIKE_LENGTH_M"`
	BusLengthM         float64 `yaml:"bus_length_m" json:"bus_length_m" env:"TRAFFICSIM_BUS_LENGTH_M"`
	BikeMaxSpeedMPS    float64 `yaml:"bike_max_speed_mps" json:"bike_max_speed_mps" env:"TRAFFICSIM_BIKE_MAX_SPEED_MPS"`
}

// WalkingConfig groups pedestrian parameters.
type WalkingConfig struct {
	SpeedMPS     float64 `yaml:"speed_mps" json:"speed_mps" env:"TRAFFICSIM_WALK_SPEED_MPS"`
	CrowdRadiusM float64 `yaml:"crowd_radius_m" json:"crowd_radius_m" env:"TRAFFICSIM_CROWD_RADIUS_M"`
}

// TransitConfig groups bus parameters.
type TransitConfig struct {
	DwellTimeS  float64 `yaml:"dwell_time_s" json:"dwell_time_s" env:"TRAFFICSIM_DWELL_TIME_S"`
	BusCapacity int     `yaml:"bus_capacity" json:"bus_capacity" env:"TRAFFICSIM_BUS_CAPACITY"`
}

// ControlConfig groups intersection control parameters.
type ControlConfig struct {
	StopSignDelayS float64 `yaml:"stop_sign_delay_s" json:"stop_sign_delay_s" env:"TRAFFICSIM_STOP_SIGN_DELAY_S"`
}

// RunConfig bounds a run.
type RunConfig struct {
	HorizonS        float64 `yaml:"horizon_s" json:"horizon_s" env:"TRAFFICSIM_HORIZON_S"` // 0 = no horizon
	MaxSteps        int64   `yaml:"max_steps" json:"max_steps" env:"TRAFFICSIM_MAX_STEPS"` // 0 = unlimited
	CheckInvariants bool    `yaml:"check_invariants" json:"check_invariants" env:"TRAFFICSIM_CHECK_INVARIANTS"`
	TraceLevel      string  `yaml:"trace_level" json:"trace_level" env:"TRAFFICSIM_TRACE_LEVEL"`
}

// Config is the full kernel configuration. Files use seconds, meters and m/s;
// the kernel converts once to ticks and centimeters.
// All sections must be listed to satisfy KnownFields(true) strict parsing.
type Config struct {
	Retry    RetryConfig   `yaml:"retry" json:"retry"`
	Parking  ParkingConfig `yaml:"parking" json:"parking"`
	Zones    ZoneConfig    `yaml:"zones" json:"zones"`
	Vehicles VehicleConfig `yaml:"vehicles" json:"vehicles"`
	Walking  WalkingConfig `yaml:"walking" json:"walking"`
	Transit  TransitConfig `yaml:"transit" json:"transit"`
	Control  ControlConfig `yaml:"control" json:"control"`
	Run      RunConfig     `yaml:"run" json:"run"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Retry:    RetryConfig{LaneFullBackoffS: 1, TurnRetryDelayS: 0.5, MaxTurnRetries: 240},
		Parking:  ParkingConfig{Policy: "finite", BackoffS: 5, RetryLimit: 24},
		Zones:    ZoneConfig{BackoffS: 10, RetryLimit: 30},
		Vehicles: VehicleConfig{FollowingDistanceM: 1, CarLengthM: 4.5, BikeLengthM: 1.8, BusLengthM: 12, BikeMaxSpeedMPS: 4.5},
		Walking:  WalkingConfig{SpeedMPS: 1.4, CrowdRadiusM: 2},
		Transit:  TransitConfig{DwellTimeS: 10, BusCapacity: 40},
		Control:  ControlConfig{StopSignDelayS: 1},
		Run:      RunConfig{HorizonS: 24 * 3600, TraceLevel: string(trace.LevelFull)},
	}
}

// LoadConfig reads a YAML config file over DefaultConfig. Unknown keys are errors.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with TRAFFICSIM_* environment variables. Variables
// that are not set leave the field unchanged.
func (c *Config) ApplyEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate checks that all policy names and parameter ranges are valid.
func (c *Config) Validate() error {
	if !ValidParkingPolicies[c.Parking.Policy] {
		return fmt.Errorf("parking.policy %q: %w", c.Parking.Policy, ErrUnknownPolicy)
	}
	if !trace.IsValidLevel(c.Run.TraceLevel) {
		return fmt.Errorf("run.trace_level %q: %w", c.Run.TraceLevel, ErrUnknownPolicy)
	}
	positive := []struct {
		name  string
		value float64
	}{
		{"retry.lane_full_backoff_s", c.Retry.LaneFullBackoffS},
		{"retry.turn_retry_delay_s", c.Retry.TurnRetryDelayS},
		{"parking.backoff_s", c.Parking.BackoffS},
		{"zones.backoff_s", c.Zones.BackoffS},
		{"vehicles.car_length_m", c.Vehicles.CarLengthM},
		{"vehicles.bike_length_m", c.Vehicles.BikeLengthM},
		{"vehicles.bus_length_m", c.Vehicles.BusLengthM},
		{"vehicles.bike_max_speed_mps", c.Vehicles.BikeMaxSpeedMPS},
		{"walking.speed_mps", c.Walking.SpeedMPS},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be > 0, got %v", p.name, p.value)
		}
	}
	// Retries are scheduled strictly in the future, never in the same tick.
	for _, d := range []struct {
		name  string
		value float64
	}{
		{"retry.lane_full_backoff_s", c.Retry.LaneFullBackoffS},
		{"retry.turn_retry_delay_s", c.Retry.TurnRetryDelayS},
		{"parking.backoff_s", c.Parking.BackoffS},
		{"zones.backoff_s", c.Zones.BackoffS},
	} {
		if network.Ticks(d.value) < 1 {
			return fmt.Errorf("%s must be at least one tick (%gs), got %v", d.name, 1.0/network.TicksPerSecond, d.value)
		}
	}
	nonNegative := []struct {
		name  string
		value float64
	}{
		{"vehicles.following_distance_m", c.Vehicles.FollowingDistanceM},
		{"walking.crowd_radius_m", c.Walking.CrowdRadiusM},
		{"transit.dwell_time_s", c.Transit.DwellTimeS},
		{"control.stop_sign_delay_s", c.Control.StopSignDelayS},
		{"run.horizon_s", c.Run.HorizonS},
		{"retry.max_turn_retries", float64(c.Retry.MaxTurnRetries)},
		{"parking.retry_limit", float64(c.Parking.RetryLimit)},
		{"zones.retry_limit", float64(c.Zones.RetryLimit)},
		{"run.max_steps", float64(c.Run.MaxSteps)},
	}
	for _, p := range nonNegative {
		if p.value < 0 {
			return fmt.Errorf("%s must be >= 0, got %v", p.name, p.value)
		}
	}
	if c.Transit.BusCapacity < 1 {
		return fmt.Errorf("transit.bus_capacity must be >= 1, got %d", c.Transit.BusCapacity)
	}
	return nil
}

// params is Config converted to kernel units.
type params struct {
	laneFullBackoff   int64
	turnRetryDelay    int64
	maxTurnRetries    int
	parkingBackoff    int64
	parkingRetryLimit int
	zoneBackoff       int64
	zoneRetryLimit    int
	followDist        network.Distance
	carLength         network.Distance
	bikeLength        network.Distance
	busLength         network.Distance
	bikeMaxSpeed      network.Speed
	walkSpeed         network.Speed
	crowdRadius       network.Distance
	dwellTime         int64
	busCapacity       int
	stopSignDelay     int64
	horizon           int64 // 0 = none
	maxSteps          int64
}

func (c Config) params() params {
	return params{
		laneFullBackoff:   network.Ticks(c.Retry.LaneFullBackoffS),
		turnRetryDelay:    network.Ticks(c.Retry.TurnRetryDelayS),
		maxTurnRetries:    c.Retry.MaxTurnRetries,
		parkingBackoff:    network.Ticks(c.Parking.BackoffS),
		parkingRetryLimit: c.Parking.RetryLimit,
		zoneBackoff:       network.Ticks(c.Zones.BackoffS),
		zoneRetryLimit:    c.Zones.RetryLimit,
		followDist:        network.Meters(c.Vehicles.FollowingDistanceM),
		carLength:         network.Meters(c.Vehicles.CarLengthM),
		bikeLength:        network.Meters(c.Vehicles.BikeLengthM),
		busLength:         network.Meters(c.Vehicles.BusLengthM),
		bikeMaxSpeed:      network.MetersPerSecond(c.Vehicles.BikeMaxSpeedMPS),
		walkSpeed:         network.MetersPerSecond(c.Walking.SpeedMPS),
		crowdRadius:       network.Meters(c.Walking.CrowdRadiusM),
		dwellTime:         network.Ticks(c.Transit.DwellTimeS),
		busCapacity:       c.Transit.BusCapacity,
		stopSignDelay:     network.Ticks(c.Control.StopSignDelayS),
		horizon:           network.Ticks(c.Run.HorizonS),
		maxSteps:          c.Run.MaxSteps,
	}
}
