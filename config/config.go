// Package config defines the plant's configuration file and the dynamic reconfiguration snapshot.
package config

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/pcplant/logging"
)

// Defaults applied by Read and FromReader when a field is left unset.
const (
	DefaultCostTopic          = "mppi_costs"
	DefaultHz                 = 50
	DefaultNumTimesteps       = 100
	DefaultPointCloudTimeout  = time.Second
	DefaultTrackPointsTimeout = time.Second

	maxHz = 200
)

// Config is the plant configuration.
type Config struct {
	ConfigFilePath string `json:"-"`

	// PointCloudTopic is the only topic name the plant cannot default.
	PointCloudTopic string `json:"pc_topic"`
	CostTopic       string `json:"cost_topic,omitempty"`

	Hz           int  `json:"hz,omitempty"`
	NumTimesteps int  `json:"num_timesteps,omitempty"`
	Debug        bool `json:"debug,omitempty"`

	PointCloudTimeout  time.Duration `json:"point_cloud_timeout,omitempty"`
	TrackPointsTimeout time.Duration `json:"track_points_timeout,omitempty"`

	Params PathIntegralParams            `json:"params"`
	Log    []logging.LoggerPatternConfig `json:"log,omitempty"`
}

// ApplyDefaults fills unset optional fields.
func (c *Config) ApplyDefaults() {
	if c.CostTopic == "" {
		c.CostTopic = DefaultCostTopic
	}
	if c.Hz == 0 {
		c.Hz = DefaultHz
	}
	if c.NumTimesteps == 0 {
		c.NumTimesteps = DefaultNumTimesteps
	}
	if c.PointCloudTimeout == 0 {
		c.PointCloudTimeout = DefaultPointCloudTimeout
	}
	if c.TrackPointsTimeout == 0 {
		c.TrackPointsTimeout = DefaultTrackPointsTimeout
	}
}

// Validate returns every problem with the config, combined.
func (c *Config) Validate() error {
	var errs error
	if c.PointCloudTopic == "" {
		errs = multierr.Append(errs, errors.New("pc_topic is required"))
	}
	if c.Hz <= 0 || c.Hz > maxHz {
		errs = multierr.Append(errs, errors.Errorf("hz must be within (0, %d], got %d", maxHz, c.Hz))
	}
	if c.NumTimesteps <= 0 {
		errs = multierr.Append(errs, errors.Errorf("num_timesteps must be positive, got %d", c.NumTimesteps))
	}
	if c.PointCloudTimeout < 0 {
		errs = multierr.Append(errs, errors.Errorf("point_cloud_timeout must not be negative, got %s", c.PointCloudTimeout))
	}
	if c.TrackPointsTimeout < 0 {
		errs = multierr.Append(errs, errors.Errorf("track_points_timeout must not be negative, got %s", c.TrackPointsTimeout))
	}
	for _, lpc := range c.Log {
		if !logging.ValidatePattern(lpc.Pattern) {
			errs = multierr.Append(errs, errors.Errorf("invalid log pattern %q", lpc.Pattern))
		}
		if _, err := logging.LevelFromString(lpc.Level); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return multierr.Append(errs, c.Params.Validate("params"))
}

// Period is the control loop period implied by Hz.
func (c *Config) Period() time.Duration {
	if c.Hz <= 0 {
		return 0
	}
	return time.Second / time.Duration(c.Hz)
}
