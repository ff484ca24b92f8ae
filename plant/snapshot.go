package plant

import (
	"time"

	"go.viam.com/pcplant/ros"
)

// Snapshot is a copy of every channel and the cost parameters, taken for one control iteration.
// Each channel is read atomically on its own; two channels may come from slightly different moments.
type Snapshot struct {
	Taken           time.Time
	PointCloud      Entry[*ros.PointCloud2]
	TrackPointCloud Entry[*ros.PointCloud2]
	ObstacleReset   Entry[bool]
	CostParams      CostParams
}

// Snapshot reads all channels.
func (p *PCPlant) Snapshot() Snapshot {
	return Snapshot{
		Taken:           p.clock.Now(),
		PointCloud:      p.pointCloud.Load(),
		TrackPointCloud: p.trackPointCloud.Load(),
		ObstacleReset:   p.obstacleReset.Load(),
		CostParams:      p.CostParams(),
	}
}

// PointCloudFresh reports whether the point cloud was at most maxAge old when the snapshot was taken.
func (s Snapshot) PointCloudFresh(maxAge time.Duration) bool {
	return fresh(s.PointCloud, s.Taken, maxAge)
}

// TrackPointCloudFresh reports whether the track point cloud was at most maxAge old when the
// snapshot was taken.
func (s Snapshot) TrackPointCloudFresh(maxAge time.Duration) bool {
	return fresh(s.TrackPointCloud, s.Taken, maxAge)
}
