package config

import (
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// PathIntegralParams is one dynamic reconfiguration snapshot of the controller's tunables. The
// obstacle fields are consumed by the point cloud plant; everything else belongs to the base plant
// and is passed through untouched.
type PathIntegralParams struct {
	ObstacleCoefficient float64 `json:"obstacle_coefficient"`
	ObstacleDecay       float64 `json:"obstacle_decay"`
	ObstacleBuffer      float64 `json:"obstacle_buffer"`
	ObstaclePad         float64 `json:"obstacle_pad"`

	DesiredSpeed     float64 `json:"desired_speed"`
	SpeedCoefficient float64 `json:"speed_coefficient"`
	TrackCoefficient float64 `json:"track_coefficient"`
	MaxSlipAngle     float64 `json:"max_slip_angle"`
	SlipPenalty      float64 `json:"slip_penalty"`
	TrackSlop        float64 `json:"track_slop"`
	CrashCoefficient float64 `json:"crash_coefficient"`
	SteeringCoeff    float64 `json:"steering_coeff"`
	ThrottleCoeff    float64 `json:"throttle_coeff"`
	MaxThrottle      float64 `json:"max_throttle"`
	Gamma            float64 `json:"gamma"`
	Lambda           float64 `json:"lambda"`

	// Extra holds every key not named above.
	Extra map[string]interface{} `json:"extra,omitempty,remain"`
}

// ParamsFromMap decodes a reconfiguration snapshot delivered as a generic map. Numeric fields may
// arrive as any number type or as numeric strings.
func ParamsFromMap(attrs map[string]interface{}) (*PathIntegralParams, error) {
	var params PathIntegralParams
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           &params,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(attrs); err != nil {
		return nil, errors.Wrap(err, "failed to decode path integral params")
	}
	return &params, nil
}

// Validate returns every problem with the snapshot, combined.
func (p *PathIntegralParams) Validate(path string) error {
	var errs error
	if p.ObstacleDecay < 0 {
		errs = multierr.Append(errs, errors.Errorf("%s.obstacle_decay must be non-negative, got %v", path, p.ObstacleDecay))
	}
	if p.ObstacleBuffer < 0 {
		errs = multierr.Append(errs, errors.Errorf("%s.obstacle_buffer must be non-negative, got %v", path, p.ObstacleBuffer))
	}
	if p.ObstaclePad < 0 {
		errs = multierr.Append(errs, errors.Errorf("%s.obstacle_pad must be non-negative, got %v", path, p.ObstaclePad))
	}
	if p.MaxThrottle < 0 || p.MaxThrottle > 1 {
		errs = multierr.Append(errs, errors.Errorf("%s.max_throttle must be within [0, 1], got %v", path, p.MaxThrottle))
	}
	return errs
}
