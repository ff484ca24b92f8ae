package pointcloud

import (
	"encoding/binary"
	"math"
	"math/bits"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/pcplant/ros"
)

// FromPointCloud2 reads the x, y and z fields of every point in msg. Points with a non-finite
// coordinate are skipped and counted in the returned MetaData even when msg claims IsDense. A nil
// message decodes to no points.
func FromPointCloud2(msg *ros.PointCloud2) (Vectors, MetaData, error) {
	meta := NewMetaData()
	if msg == nil || msg.Height == 0 || msg.Width == 0 {
		return nil, meta, nil
	}

	var readers [3]func([]byte) float64
	for i, name := range []string{"x", "y", "z"} {
		field, ok := msg.Field(name)
		if !ok {
			return nil, meta, errors.Errorf("point cloud has no %q field", name)
		}
		reader, err := fieldReader(field, msg.IsBigendian)
		if err != nil {
			return nil, meta, err
		}
		if int(field.Offset)+field.Datatype.Size() > int(msg.PointStep) {
			return nil, meta, errors.Errorf("field %q at offset %d does not fit in point step %d", name, field.Offset, msg.PointStep)
		}
		readers[i] = reader
	}

	rowBytes := uint64(msg.Width) * uint64(msg.PointStep)
	rowStep := uint64(msg.RowStep)
	if rowStep == 0 {
		rowStep = rowBytes
	}
	need, ok := cloudSize(uint64(msg.Height), rowStep, rowBytes)
	if !ok {
		return nil, meta, errors.Errorf("point cloud of %dx%d points with row step %d overflows", msg.Height, msg.Width, rowStep)
	}
	if need > uint64(len(msg.Data)) {
		return nil, meta, errors.Errorf("point cloud data is %d bytes, want at least %d", len(msg.Data), need)
	}

	// need fits in the data, so every offset below fits in an int.
	points := make(Vectors, 0, min(uint64(msg.Height)*uint64(msg.Width), uint64(len(msg.Data))/uint64(msg.PointStep)))
	step := int(rowStep)
	for row := 0; row < int(msg.Height); row++ {
		for col := 0; col < int(msg.Width); col++ {
			point := msg.Data[row*step+col*int(msg.PointStep):]
			v := r3.Vector{X: readers[0](point), Y: readers[1](point), Z: readers[2](point)}
			if !finite(v) {
				meta.Skipped++
				continue
			}
			meta.Merge(v)
			points = append(points, v)
		}
	}
	return points, meta, nil
}

// cloudSize is the number of bytes height rows take when each starts rowStep after the previous
// one and holds rowBytes. It reports false when the size does not fit in 64 bits.
func cloudSize(height, rowStep, rowBytes uint64) (uint64, bool) {
	if height == 0 {
		return 0, true
	}
	hi, lead := bits.Mul64(height-1, rowStep)
	if hi != 0 {
		return 0, false
	}
	size, carry := bits.Add64(lead, rowBytes, 0)
	return size, carry == 0
}

func fieldReader(field ros.PointField, bigEndian bool) (func([]byte) float64, error) {
	var order binary.ByteOrder = binary.LittleEndian
	if bigEndian {
		order = binary.BigEndian
	}
	off := int(field.Offset)
	switch field.Datatype {
	case ros.PointFieldFloat32:
		return func(b []byte) float64 { return float64(math.Float32frombits(order.Uint32(b[off:]))) }, nil
	case ros.PointFieldFloat64:
		return func(b []byte) float64 { return math.Float64frombits(order.Uint64(b[off:])) }, nil
	case ros.PointFieldInt16:
		return func(b []byte) float64 { return float64(int16(order.Uint16(b[off:]))) }, nil
	case ros.PointFieldInt32:
		return func(b []byte) float64 { return float64(int32(order.Uint32(b[off:]))) }, nil
	default:
		return nil, errors.Errorf("unsupported datatype %d for field %q", field.Datatype, field.Name)
	}
}

func finite(v r3.Vector) bool {
	for _, c := range []float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// ToPointCloud2 packs points into an unorganized, little endian float32 xyz cloud.
func ToPointCloud2(points Vectors, header ros.Header) *ros.PointCloud2 {
	const pointStep = 12
	data := make(ros.ByteArray, len(points)*pointStep)
	for i, p := range points {
		b := data[i*pointStep:]
		binary.LittleEndian.PutUint32(b[0:], math.Float32bits(float32(p.X)))
		binary.LittleEndian.PutUint32(b[4:], math.Float32bits(float32(p.Y)))
		binary.LittleEndian.PutUint32(b[8:], math.Float32bits(float32(p.Z)))
	}
	return &ros.PointCloud2{
		Header: header,
		Height: 1,
		Width:  uint32(len(points)),
		Fields: []ros.PointField{
			{Name: "x", Offset: 0, Datatype: ros.PointFieldFloat32, Count: 1},
			{Name: "y", Offset: 4, Datatype: ros.PointFieldFloat32, Count: 1},
			{Name: "z", Offset: 8, Datatype: ros.PointFieldFloat32, Count: 1},
		},
		PointStep: pointStep,
		RowStep:   uint32(len(points) * pointStep),
		Data:      data,
		IsDense:   true,
	}
}
