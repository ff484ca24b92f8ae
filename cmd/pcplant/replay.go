package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"

	"go.viam.com/pcplant/bus"
	"go.viam.com/pcplant/config"
	"go.viam.com/pcplant/logging"
	"go.viam.com/pcplant/plant"
	"go.viam.com/pcplant/ros"
	"go.viam.com/pcplant/utils"
)

const (
	defaultLinger        = 500 * time.Millisecond
	defaultLogFileSizeMB = 64
	staleWarningInterval = time.Second
)

// ReplayAction is the entry point of the replay command.
func ReplayAction(c *cli.Context) error {
	cfg, err := config.Read(c.String(flagConfig), logger)
	if err != nil {
		return err
	}
	if err := logging.UpdateLoggerLevels(cfg.Log, logger); err != nil {
		return err
	}

	msgs, err := loadBag(c.String(flagBag), replayDecoders(cfg))
	if err != nil {
		return err
	}
	logger.Infow("bag loaded", "path", c.String(flagBag), "messages", len(msgs))

	report, err := runReplay(c.Context, cfg, msgs, replayOptions{
		clock:      clock.New(),
		speed:      c.Float64(flagSpeed),
		linger:     c.Duration(flagLinger),
		paramsFile: c.String(flagParams),
	}, logger)
	if err != nil {
		return err
	}
	return report.Write(c.App.Writer)
}

func replayDecoders(cfg *config.Config) map[string]ros.Decoder {
	return map[string]ros.Decoder{
		cfg.PointCloudTopic:      ros.DecodePointCloud2,
		plant.TrackPointsTopic:   ros.DecodePointCloud2,
		plant.ObstacleResetTopic: ros.DecodeResetObstacles,
	}
}

func loadBag(path string, decoders map[string]ros.Decoder) ([]ros.BagMessage, error) {
	rb, err := ros.ReadBag(path)
	if err != nil {
		return nil, err
	}
	byTopic, err := ros.AllMessagesForTopics(rb, lo.Keys(decoders))
	if err != nil {
		return nil, err
	}
	return ros.DecodeEnvelopes(byTopic, decoders)
}

type replayOptions struct {
	clock  clock.Clock
	speed  float64
	linger time.Duration
	// paramsFile, when set, is watched and fed to the plant as dynamic reconfiguration.
	paramsFile string
}

// replayReport is what the control loop observed during one replay.
type replayReport struct {
	Ticks            int
	PointCloudFresh  int
	TrackPointsFresh int
	ResetTicks       int
	Published        int
	// PointCounts holds the size of each distinct point cloud the loop saw.
	PointCounts []float64
	// Ages holds, in milliseconds, the age of the point cloud at each tick that had one.
	Ages       []float64
	Stats      plant.Stats
	CostParams plant.CostParams
}

// runReplay publishes msgs on an in-process bus the plant is subscribed to, while a control loop
// reads the plant every period and publishes zero costs. It returns once the replay has finished
// and the loop has run for opts.linger more.
func runReplay(
	ctx context.Context,
	cfg *config.Config,
	msgs []ros.BagMessage,
	opts replayOptions,
	logger logging.Logger,
) (report *replayReport, err error) {
	if opts.clock == nil {
		opts.clock = clock.New()
	}
	b := bus.New(logger.Sublogger("bus"))
	defer b.Close()

	p, err := plant.NewPCPlant(ctx, cfg, b, nil, logger.Sublogger("plant"), plant.WithClock(opts.clock))
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Combine(err, p.Close(ctx))
	}()

	replayCtx, cancelReplay := context.WithCancel(ctx)
	defer cancelReplay()
	replayDone := make(chan error, 1)
	replayer := utils.NewWorkers(replayCtx, func(ctx context.Context) {
		replayDone <- ros.Replay(ctx, opts.clock, msgs, opts.speed, b.Publish)
	})
	defer replayer.Stop()

	paramsErr := make(chan error, 1)
	if opts.paramsFile != "" {
		replayer.Go(func(ctx context.Context) {
			if err := config.WatchParams(ctx, opts.paramsFile, p.DynamicReconfigure, logger.Sublogger("params")); err != nil {
				paramsErr <- err
			}
		})
	}

	costs := make([]float32, cfg.NumTimesteps)
	costPub := b.Publisher(cfg.CostTopic)
	staleWarning := rate.Sometimes{Interval: staleWarningInterval}

	report = &replayReport{}
	var lastCloud *ros.PointCloud2
	ticker := opts.clock.Ticker(cfg.Period())
	defer ticker.Stop()

	var lingerTimer <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case err := <-paramsErr:
			return nil, errors.Wrap(err, "params watcher failed")
		case replayErr := <-replayDone:
			if replayErr != nil {
				return nil, errors.Wrap(replayErr, "replay failed")
			}
			logger.Infow("replay finished", "messages", len(msgs))
			lingerTimer = opts.clock.After(opts.linger)
			continue
		case <-lingerTimer:
			report.Stats = p.Stats()
			report.CostParams = p.CostParams()
			return report, nil
		case <-ticker.C:
		}

		snap := p.Snapshot()
		report.Ticks++
		if snap.PointCloudFresh(cfg.PointCloudTimeout) {
			report.PointCloudFresh++
		} else {
			staleWarning.Do(func() {
				logger.Warnw("point cloud is stale", "last", snap.PointCloud.Time, "timeout", cfg.PointCloudTimeout)
			})
		}
		if snap.TrackPointCloudFresh(cfg.TrackPointsTimeout) {
			report.TrackPointsFresh++
		}
		if snap.ObstacleReset.Value {
			report.ResetTicks++
		}
		if !snap.PointCloud.Empty() {
			report.Ages = append(report.Ages, float64(snap.PointCloud.Age(snap.Taken))/float64(time.Millisecond))
			if cloud := snap.PointCloud.Value; cloud != nil && cloud != lastCloud {
				report.PointCounts = append(report.PointCounts, float64(cloud.Len()))
				lastCloud = cloud
			}
		}

		if err := p.PublishCosts(costs, costPub, len(costs)); err != nil {
			return nil, errors.Wrap(err, "failed to publish costs")
		}
		report.Published++
	}
}

// Write renders the report as a table.
func (r *replayReport) Write(w io.Writer) error {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRow(table.Row{"control ticks", r.Ticks})
	t.AppendRow(table.Row{"ticks with fresh point cloud", r.PointCloudFresh})
	t.AppendRow(table.Row{"ticks with fresh track points", r.TrackPointsFresh})
	t.AppendRow(table.Row{"ticks with obstacle reset", r.ResetTicks})
	t.AppendRow(table.Row{"cost messages published", r.Published})
	t.AppendSeparator()
	t.AppendRow(table.Row{"point clouds received", r.Stats.PointClouds})
	t.AppendRow(table.Row{"track point clouds received", r.Stats.TrackPointClouds})
	t.AppendRow(table.Row{"obstacle resets received", r.Stats.ObstacleResets})
	t.AppendRow(table.Row{"reconfigurations", r.Stats.Reconfigurations})
	if len(r.PointCounts) > 0 {
		t.AppendSeparator()
		t.AppendRow(table.Row{"points per cloud (mean)", formatStat(stats.Mean(r.PointCounts))})
		t.AppendRow(table.Row{"points per cloud (max)", formatStat(stats.Max(r.PointCounts))})
	}
	if len(r.Ages) > 0 {
		t.AppendRow(table.Row{"point cloud age ms (median)", formatStat(stats.Median(r.Ages))})
		t.AppendRow(table.Row{"point cloud age ms (p95)", formatStat(stats.Percentile(r.Ages, 95))})
	}
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

func formatStat(v float64, err error) string {
	if err != nil {
		return "n/a"
	}
	return fmt.Sprintf("%.1f", v)
}
