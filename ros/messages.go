package ros

import (
	"math"
	"time"
)

// Time is a ROS timestamp: whole seconds since the epoch plus nanoseconds.
type Time struct {
	Secs  uint32 `json:"secs"`
	Nsecs uint32 `json:"nsecs"`
}

// NewTime converts a wall clock time to a ROS timestamp. A stamp only covers 1970 through early
// 2106: earlier times clamp to the epoch, which reads back as unset, and later times clamp to the
// last representable nanosecond.
func NewTime(t time.Time) Time {
	if t.IsZero() {
		return Time{}
	}
	secs := t.Unix()
	switch {
	case secs < 0:
		return Time{}
	case secs > math.MaxUint32:
		return Time{Secs: math.MaxUint32, Nsecs: uint32(time.Second - 1)}
	}
	return Time{Secs: uint32(secs), Nsecs: uint32(t.Nanosecond())}
}

// AsTime converts the ROS timestamp back to a wall clock time. The zero stamp maps to the zero
// time.Time.
func (t Time) AsTime() time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return time.Unix(int64(t.Secs), int64(t.Nsecs))
}

// IsZero returns whether the stamp was never set.
func (t Time) IsZero() bool {
	return t.Secs == 0 && t.Nsecs == 0
}

// Header is the standard metadata carried by stamped messages.
type Header struct {
	Seq     uint32 `json:"seq"`
	Stamp   Time   `json:"stamp"`
	FrameID string `json:"frame_id"`
}

// PointFieldType is the datatype of one field of a PointCloud2 point.
type PointFieldType uint8

// Datatypes defined by sensor_msgs/PointField.
const (
	PointFieldInt8 PointFieldType = iota + 1
	PointFieldUint8
	PointFieldInt16
	PointFieldUint16
	PointFieldInt32
	PointFieldUint32
	PointFieldFloat32
	PointFieldFloat64
)

// Size returns the width in bytes of one element of the type, or 0 if unknown.
func (t PointFieldType) Size() int {
	switch t {
	case PointFieldInt8, PointFieldUint8:
		return 1
	case PointFieldInt16, PointFieldUint16:
		return 2
	case PointFieldInt32, PointFieldUint32, PointFieldFloat32:
		return 4
	case PointFieldFloat64:
		return 8
	default:
		return 0
	}
}

// PointField describes where one named channel (x, y, z, intensity...) lives inside a point.
type PointField struct {
	Name     string         `json:"name"`
	Offset   uint32         `json:"offset"`
	Datatype PointFieldType `json:"datatype"`
	Count    uint32         `json:"count"`
}

// PointCloud2 is a packed, possibly organized, point cloud as published by stereo and lidar
// drivers. Data holds Height*Width points of PointStep bytes each.
type PointCloud2 struct {
	Header      Header       `json:"header"`
	Height      uint32       `json:"height"`
	Width       uint32       `json:"width"`
	Fields      []PointField `json:"fields"`
	IsBigendian bool         `json:"is_bigendian"`
	PointStep   uint32       `json:"point_step"`
	RowStep     uint32       `json:"row_step"`
	Data        ByteArray    `json:"data"`
	IsDense     bool         `json:"is_dense"`
}

// Len returns the number of points the cloud claims to hold, saturating at math.MaxInt. A nil
// cloud has none.
func (pc *PointCloud2) Len() int {
	if pc == nil {
		return 0
	}
	n := uint64(pc.Height) * uint64(pc.Width)
	if n > math.MaxInt {
		return math.MaxInt
	}
	return int(n)
}

// Field looks up a field by name.
func (pc *PointCloud2) Field(name string) (PointField, bool) {
	if pc == nil {
		return PointField{}, false
	}
	for _, f := range pc.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return PointField{}, false
}

// ResetObstacles asks the controller to clear (or stop clearing) its obstacle map.
type ResetObstacles struct {
	Header Header `json:"header"`
	Reset  bool   `json:"reset"`
}

// PathIntegralCosts carries the nominal cost of each sampled trajectory.
type PathIntegralCosts struct {
	Header Header    `json:"header"`
	Costs  []float32 `json:"costs"`
}
