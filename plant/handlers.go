package plant

import (
	"fmt"

	"go.viam.com/pcplant/ros"
)

// Transports may deliver messages by value or by pointer; both are accepted.

func (p *PCPlant) handlePointCloud(msg interface{}) {
	if cloud, ok := asPointCloud2(msg); ok {
		p.OnPointCloud(cloud)
		return
	}
	p.rejectMessage("point cloud", msg)
}

func (p *PCPlant) handleTrackPoints(msg interface{}) {
	if cloud, ok := asPointCloud2(msg); ok {
		p.OnTrackPoints(cloud)
		return
	}
	p.rejectMessage("track points", msg)
}

func (p *PCPlant) handleObstacleReset(msg interface{}) {
	switch m := msg.(type) {
	case ros.ResetObstacles:
		p.OnObstacleReset(m)
	case *ros.ResetObstacles:
		if m == nil {
			p.rejectMessage("obstacle reset", msg)
			return
		}
		p.OnObstacleReset(*m)
	default:
		p.rejectMessage("obstacle reset", msg)
	}
}

func asPointCloud2(msg interface{}) (*ros.PointCloud2, bool) {
	switch m := msg.(type) {
	case *ros.PointCloud2:
		return m, m != nil
	case ros.PointCloud2:
		return &m, true
	default:
		return nil, false
	}
}

func (p *PCPlant) rejectMessage(channel string, msg interface{}) {
	p.unexpected.Inc()
	p.logger.Warnw("dropping message of unexpected type", "channel", channel, "type", fmt.Sprintf("%T", msg))
}
