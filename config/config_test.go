package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/multierr"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"go.viam.com/pcplant/logging"
)

func TestFromReader(t *testing.T) {
	logger := logging.NewTestLogger(t)
	cfg, err := FromReader("inline", strings.NewReader(`{
		"pc_topic": "/stereo/points2",
		"hz": 40,
		"debug": true,
		"point_cloud_timeout": "250ms",
		"params": {
			"obstacle_coefficient": 3.5,
			"obstacle_decay": "0.9",
			"obstacle_buffer": 1,
			"obstacle_pad": 0.25,
			"desired_speed": 6,
			"max_throttle": 0.65,
			"l1_cost": 12
		},
		"log": [{"pattern": "pcplant.*", "level": "debug"}]
	}`), logger)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, cfg.ConfigFilePath, test.ShouldEqual, "inline")
	test.That(t, cfg.PointCloudTopic, test.ShouldEqual, "/stereo/points2")
	test.That(t, cfg.CostTopic, test.ShouldEqual, DefaultCostTopic)
	test.That(t, cfg.Hz, test.ShouldEqual, 40)
	test.That(t, cfg.Period(), test.ShouldEqual, 25*time.Millisecond)
	test.That(t, cfg.NumTimesteps, test.ShouldEqual, DefaultNumTimesteps)
	test.That(t, cfg.Debug, test.ShouldBeTrue)
	test.That(t, cfg.PointCloudTimeout, test.ShouldEqual, 250*time.Millisecond)
	test.That(t, cfg.TrackPointsTimeout, test.ShouldEqual, DefaultTrackPointsTimeout)

	test.That(t, cfg.Params.ObstacleCoefficient, test.ShouldEqual, 3.5)
	test.That(t, cfg.Params.ObstacleDecay, test.ShouldEqual, 0.9)
	test.That(t, cfg.Params.ObstacleBuffer, test.ShouldEqual, 1.0)
	test.That(t, cfg.Params.ObstaclePad, test.ShouldEqual, 0.25)
	test.That(t, cfg.Params.DesiredSpeed, test.ShouldEqual, 6.0)
	test.That(t, cfg.Params.Extra, test.ShouldResemble, map[string]interface{}{"l1_cost": 12.0})

	test.That(t, cfg.Log, test.ShouldResemble, []logging.LoggerPatternConfig{{Pattern: "pcplant.*", Level: "debug"}})
}

func TestFromReaderValidation(t *testing.T) {
	logger := logging.NewTestLogger(t)
	_, err := FromReader("bad", strings.NewReader(`{
		"hz": 500,
		"num_timesteps": -1,
		"params": {"obstacle_pad": -1, "max_throttle": 2},
		"log": [{"pattern": "..", "level": "loud"}]
	}`), logger)
	test.That(t, err, test.ShouldNotBeNil)
	msg := err.Error()
	for _, want := range []string{
		"invalid config bad",
		"pc_topic is required",
		"hz must be within (0, 200], got 500",
		"num_timesteps must be positive",
		"params.obstacle_pad must be non-negative",
		"params.max_throttle must be within [0, 1]",
		`invalid log pattern ".."`,
		`unknown log level: "loud"`,
	} {
		test.That(t, msg, test.ShouldContainSubstring, want)
	}

	_, err = FromReader("garbage", strings.NewReader(`{"pc_topic": `), logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "failed to decode Config from json")

	_, err = FromReader("wrong type", strings.NewReader(`{"pc_topic": "p", "point_cloud_timeout": "soon"}`), logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestValidateCollectsAll(t *testing.T) {
	cfg := Config{}
	err := cfg.Validate()
	test.That(t, len(multierr.Errors(err)), test.ShouldEqual, 3)

	cfg.ApplyDefaults()
	cfg.PointCloudTopic = "points"
	test.That(t, cfg.Validate(), test.ShouldBeNil)
}

func TestReadSubstitutesEnvironment(t *testing.T) {
	t.Setenv("PCPLANT_TEST_TOPIC", "/velodyne_points")
	path := filepath.Join(t.TempDir(), "plant.json")
	err := os.WriteFile(path, []byte(`{"pc_topic": "${PCPLANT_TEST_TOPIC}", "hz": 20}`), 0o600)
	test.That(t, err, test.ShouldBeNil)

	cfg, err := Read(path, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.PointCloudTopic, test.ShouldEqual, "/velodyne_points")
	test.That(t, cfg.ConfigFilePath, test.ShouldEqual, path)

	_, err = Read(filepath.Join(t.TempDir(), "missing.json"), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestParamsFromMap(t *testing.T) {
	params, err := ParamsFromMap(map[string]interface{}{
		"obstacle_coefficient": 2,
		"obstacle_decay":       float32(0.5),
		"obstacle_buffer":      "1.5",
		"obstacle_pad":         0.1,
		"gamma":                0.2,
		"custom":               "kept",
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, params.ObstacleCoefficient, test.ShouldEqual, 2.0)
	test.That(t, params.ObstacleDecay, test.ShouldEqual, 0.5)
	test.That(t, params.ObstacleBuffer, test.ShouldEqual, 1.5)
	test.That(t, params.ObstaclePad, test.ShouldEqual, 0.1)
	test.That(t, params.Gamma, test.ShouldEqual, 0.2)
	test.That(t, params.Extra, test.ShouldResemble, map[string]interface{}{"custom": "kept"})

	_, err = ParamsFromMap(map[string]interface{}{"obstacle_pad": "wide"})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestReadParams(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "params.json")
	test.That(t, os.WriteFile(path, []byte(`{"obstacle_coefficient": 4, "obstacle_pad": "0.5"}`), 0o600), test.ShouldBeNil)

	params, err := ReadParams(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, params.ObstacleCoefficient, test.ShouldEqual, 4.0)
	test.That(t, params.ObstaclePad, test.ShouldEqual, 0.5)

	test.That(t, os.WriteFile(path, []byte(`{"obstacle_buffer": -2}`), 0o600), test.ShouldBeNil)
	_, err = ReadParams(path)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "params.obstacle_buffer must be non-negative")

	test.That(t, os.WriteFile(path, []byte(`[1, 2]`), 0o600), test.ShouldBeNil)
	_, err = ReadParams(path)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestWatchParams(t *testing.T) {
	logger := logging.NewTestLogger(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "params.json")
	test.That(t, os.WriteFile(path, []byte(`{"obstacle_coefficient": 1}`), 0o600), test.ShouldBeNil)

	var mu sync.Mutex
	var applied []PathIntegralParams
	var levels []uint32
	apply := func(params *PathIntegralParams, level uint32) {
		mu.Lock()
		defer mu.Unlock()
		applied = append(applied, *params)
		levels = append(levels, level)
	}
	latest := func() (PathIntegralParams, int) {
		mu.Lock()
		defer mu.Unlock()
		return applied[len(applied)-1], len(applied)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- WatchParams(ctx, path, apply, logger)
	}()

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		mu.Lock()
		defer mu.Unlock()
		test.That(tb, applied, test.ShouldHaveLength, 1)
	})
	first, _ := latest()
	test.That(t, first.ObstacleCoefficient, test.ShouldEqual, 1.0)

	// writes may race the watcher being armed, so keep writing until one is seen
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, os.WriteFile(path, []byte(`{"obstacle_coefficient": 2, "obstacle_decay": 0.7}`), 0o600), test.ShouldBeNil)
		params, _ := latest()
		test.That(tb, params.ObstacleCoefficient, test.ShouldEqual, 2.0)
		test.That(tb, params.ObstacleDecay, test.ShouldEqual, 0.7)
	})

	// a broken file keeps the previous snapshot
	test.That(t, os.WriteFile(path, []byte(`{"obstacle_pad": -1}`), 0o600), test.ShouldBeNil)
	test.That(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte(`{}`), 0o600), test.ShouldBeNil)
	time.Sleep(50 * time.Millisecond)
	params, _ := latest()
	test.That(t, params.ObstacleCoefficient, test.ShouldEqual, 2.0)
	test.That(t, params.ObstaclePad, test.ShouldEqual, 0.0)

	cancel()
	test.That(t, <-done, test.ShouldBeNil)
	mu.Lock()
	defer mu.Unlock()
	for _, level := range levels {
		test.That(t, level, test.ShouldEqual, ReconfigureLevelAll)
	}
}

func TestWatchParamsMissingFile(t *testing.T) {
	err := WatchParams(context.Background(), filepath.Join(t.TempDir(), "missing.json"),
		func(*PathIntegralParams, uint32) {}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}
