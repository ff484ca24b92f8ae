// Package plant buffers the sensor inputs of the path integral controller. Transport callbacks write
// the latest point cloud, track point cloud and obstacle reset flag; the control loop reads them at
// its own rate without ever waiting on a writer.
package plant

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"go.viam.com/pcplant/bus"
	"go.viam.com/pcplant/config"
	"go.viam.com/pcplant/logging"
	"go.viam.com/pcplant/ros"
	"go.viam.com/pcplant/utils"
)

// Fixed topics the plant listens on besides the configured point cloud topic.
const (
	TrackPointsTopic   = "/stereo/track_points2"
	ObstacleResetTopic = "obstacle_reset"

	subscriptionQueueSize = 1
)

// Subscriber registers message handlers on topics. *bus.Bus is one.
type Subscriber interface {
	Subscribe(topic string, queueSize int, handler bus.Handler) (bus.Subscription, error)
}

// Reconfigurer receives every dynamic reconfiguration snapshot after the plant has taken its
// obstacle parameters from it.
type Reconfigurer interface {
	DynamicReconfigure(params *config.PathIntegralParams, level uint32)
}

// Publisher sends one outbound message.
type Publisher interface {
	Publish(msg interface{}) error
}

// CostParams are the obstacle cost parameters, always replaced as a whole.
type CostParams struct {
	ObstacleCoefficient float64
	ObstacleDecay       float64
	ObstacleBuffer      float64
	ObstaclePad         float64
}

// CostParamsFrom takes the obstacle fields out of a reconfiguration snapshot.
func CostParamsFrom(params *config.PathIntegralParams) CostParams {
	if params == nil {
		return CostParams{}
	}
	return CostParams{
		ObstacleCoefficient: params.ObstacleCoefficient,
		ObstacleDecay:       params.ObstacleDecay,
		ObstacleBuffer:      params.ObstacleBuffer,
		ObstaclePad:         params.ObstaclePad,
	}
}

// Stats counts the messages the plant has taken in and sent out.
type Stats struct {
	PointClouds      uint64
	TrackPointClouds uint64
	ObstacleResets   uint64
	Reconfigurations uint64
	CostsPublished   uint64
	// Unexpected counts messages of the wrong type delivered on a plant topic.
	Unexpected uint64
}

// Option configures a PCPlant.
type Option func(*PCPlant)

// WithClock sets the clock used to stamp received messages and published costs.
func WithClock(clk clock.Clock) Option {
	return func(p *PCPlant) {
		p.clock = clk
	}
}

// PCPlant is the point cloud plant. All of its methods are safe for concurrent use.
type PCPlant struct {
	logger logging.Logger
	clock  clock.Clock
	base   Reconfigurer
	debug  bool

	pointCloud      Cell[*ros.PointCloud2]
	trackPointCloud Cell[*ros.PointCloud2]
	obstacleReset   Cell[bool]

	// reconfigureMu orders reconfigurations so the base plant sees them in the order they are
	// stored. Readers load costParams directly and never take it.
	reconfigureMu sync.Mutex
	costParams    atomic.Pointer[CostParams]
	costSeq      atomic.Uint32

	pointClouds      atomic.Uint64
	trackPointClouds atomic.Uint64
	obstacleResets   atomic.Uint64
	reconfigurations atomic.Uint64
	costsPublished   atomic.Uint64
	unexpected       atomic.Uint64

	subs   []bus.Subscription
	closed atomic.Bool
}

// NewPCPlant validates cfg, seeds the cost parameters from cfg.Params and subscribes to the point
// cloud, track point and obstacle reset topics. base may be nil when nothing downstream needs the
// reconfiguration snapshots.
func NewPCPlant(
	ctx context.Context,
	cfg *config.Config,
	sub Subscriber,
	base Reconfigurer,
	logger logging.Logger,
	opts ...Option,
) (*PCPlant, error) {
	if cfg == nil {
		return nil, errors.New("plant config is required")
	}
	if cfg.PointCloudTopic == "" {
		return nil, errors.New("pc_topic is required")
	}
	if sub == nil {
		return nil, errors.New("plant subscriber is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p := &PCPlant{
		logger: logger,
		clock:  clock.New(),
		base:   base,
		debug:  cfg.Debug,
	}
	for _, opt := range opts {
		opt(p)
	}
	initial := CostParamsFrom(&cfg.Params)
	p.costParams.Store(&initial)

	guard := utils.NewGuard(func() {
		for _, s := range p.subs {
			if err := s.Unsubscribe(); err != nil {
				p.logger.Warnw("failed to unsubscribe", "topic", s.Topic(), "error", err)
			}
		}
	})
	defer guard.OnFail()

	for _, topic := range []struct {
		name    string
		handler bus.Handler
	}{
		{cfg.PointCloudTopic, p.handlePointCloud},
		{TrackPointsTopic, p.handleTrackPoints},
		{ObstacleResetTopic, p.handleObstacleReset},
	} {
		s, err := sub.Subscribe(topic.name, subscriptionQueueSize, topic.handler)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to subscribe to %s", topic.name)
		}
		p.subs = append(p.subs, s)
	}

	guard.Success()
	logger.Infow("point cloud plant started", "pc_topic", cfg.PointCloudTopic, "debug", cfg.Debug)
	return p, nil
}

// OnPointCloud stores msg as the latest point cloud.
func (p *PCPlant) OnPointCloud(msg *ros.PointCloud2) {
	start := p.clock.Now()
	entry := p.pointCloud.Store(msg, start)
	p.pointClouds.Inc()
	if p.debug {
		p.logReceipt("point cloud", msg, entry.Time, start)
	}
}

// OnTrackPoints stores msg as the latest track point cloud.
func (p *PCPlant) OnTrackPoints(msg *ros.PointCloud2) {
	start := p.clock.Now()
	entry := p.trackPointCloud.Store(msg, start)
	p.trackPointClouds.Inc()
	if p.debug {
		p.logReceipt("track points", msg, entry.Time, start)
	}
}

// OnObstacleReset stores the reset flag of msg, whichever value it has.
func (p *PCPlant) OnObstacleReset(msg ros.ResetObstacles) {
	entry := p.obstacleReset.Store(msg.Reset, p.clock.Now())
	p.obstacleResets.Inc()
	if p.debug {
		p.logger.Debugw("obstacle reset received", "reset", msg.Reset, "time", entry.Time)
	}
}

func (p *PCPlant) logReceipt(kind string, msg *ros.PointCloud2, received, start time.Time) {
	fields := []interface{}{"points", msg.Len(), "store_time", p.clock.Since(start)}
	if msg != nil && !msg.Header.Stamp.IsZero() {
		fields = append(fields, "latency", received.Sub(msg.Header.Stamp.AsTime()))
	}
	p.logger.Debugw(kind+" received", fields...)
}

// PointCloud returns the latest point cloud, or nil if none arrived yet. The cloud is shared and
// must not be modified.
func (p *PCPlant) PointCloud() *ros.PointCloud2 {
	return p.pointCloud.Load().Value
}

// TrackPointCloud returns the latest track point cloud, or nil if none arrived yet. The cloud is
// shared and must not be modified.
func (p *PCPlant) TrackPointCloud() *ros.PointCloud2 {
	return p.trackPointCloud.Load().Value
}

// ResetObstacles returns the flag of the latest obstacle reset message, false if none arrived.
func (p *PCPlant) ResetObstacles() bool {
	return p.obstacleReset.Load().Value
}

// LastPointCloudTime is when the latest point cloud arrived, zero if none did.
func (p *PCPlant) LastPointCloudTime() time.Time {
	return p.pointCloud.Load().Time
}

// LastTrackPointCloudTime is when the latest track point cloud arrived, zero if none did.
func (p *PCPlant) LastTrackPointCloudTime() time.Time {
	return p.trackPointCloud.Load().Time
}

// LastObstacleResetTime is when the latest obstacle reset arrived, zero if none did.
func (p *PCPlant) LastObstacleResetTime() time.Time {
	return p.obstacleReset.Load().Time
}

// PointCloudFresh reports whether a point cloud arrived within maxAge.
func (p *PCPlant) PointCloudFresh(maxAge time.Duration) bool {
	return fresh(p.pointCloud.Load(), p.clock.Now(), maxAge)
}

// TrackPointCloudFresh reports whether a track point cloud arrived within maxAge.
func (p *PCPlant) TrackPointCloudFresh(maxAge time.Duration) bool {
	return fresh(p.trackPointCloud.Load(), p.clock.Now(), maxAge)
}

func fresh[T any](e Entry[T], now time.Time, maxAge time.Duration) bool {
	return !e.Empty() && e.Age(now) <= maxAge
}

// DynamicReconfigure replaces the cost parameters with the obstacle fields of params and then hands
// params and level, unmodified, to the base plant. Concurrent calls are serialized, so the base
// plant receives reconfigurations in the same order the plant stores them and the last params it
// sees match CostParams. CostParams readers are never blocked, including while the base plant runs.
func (p *PCPlant) DynamicReconfigure(params *config.PathIntegralParams, level uint32) {
	if params == nil {
		p.logger.Warn("ignoring empty reconfiguration")
		return
	}
	next := CostParamsFrom(params)

	p.reconfigureMu.Lock()
	defer p.reconfigureMu.Unlock()
	p.costParams.Store(&next)
	p.reconfigurations.Inc()
	p.logger.Debugw("cost params updated", "level", level, "params", next)

	if p.base != nil {
		p.base.DynamicReconfigure(params, level)
	}
}

// CostParams returns the current cost parameters.
func (p *PCPlant) CostParams() CostParams {
	return *p.costParams.Load()
}

// PublishCosts publishes the first count entries of costs, stamped with the current time. count is
// clamped to the length of costs. Every call builds a new message, so nothing carries over between
// calls. The publisher's error is returned as is.
func (p *PCPlant) PublishCosts(costs []float32, pub Publisher, count int) error {
	if pub == nil {
		return errors.New("cannot publish costs without a publisher")
	}
	if count < 0 {
		count = 0
	}
	if count > len(costs) {
		count = len(costs)
	}
	msg := &ros.PathIntegralCosts{
		Header: ros.Header{
			Seq:   p.costSeq.Inc(),
			Stamp: ros.NewTime(p.clock.Now()),
		},
		Costs: make([]float32, count),
	}
	copy(msg.Costs, costs[:count])
	if err := pub.Publish(msg); err != nil {
		return err
	}
	p.costsPublished.Inc()
	return nil
}

// Stats returns the plant's message counters.
func (p *PCPlant) Stats() Stats {
	return Stats{
		PointClouds:      p.pointClouds.Load(),
		TrackPointClouds: p.trackPointClouds.Load(),
		ObstacleResets:   p.obstacleResets.Load(),
		Reconfigurations: p.reconfigurations.Load(),
		CostsPublished:   p.costsPublished.Load(),
		Unexpected:       p.unexpected.Load(),
	}
}

// Close unsubscribes from all topics. Later calls do nothing.
func (p *PCPlant) Close(ctx context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs error
	for _, s := range p.subs {
		if err := s.Unsubscribe(); err != nil {
			errs = multierr.Combine(errs, errors.Wrapf(err, "failed to unsubscribe from %s", s.Topic()))
		}
	}
	if errs == nil {
		p.logger.Info("point cloud plant closed")
	}
	return errs
}
