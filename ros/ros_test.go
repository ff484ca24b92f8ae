package ros

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/go-cmp/cmp"
	"go.viam.com/test"
)

const bagExport = `{"meta": {"secs":100,"nsecs":500}, "data":{"header":{"seq":7,"stamp":{"secs":100,"nsecs":400},"frame_id":"left_camera"},"height":1,"width":2,"fields":[{"name":"x","offset":0,"datatype":7,"count":1},{"name":"y","offset":4,"datatype":7,"count":1},{"name":"z","offset":8,"datatype":7,"count":1}],"is_bigendian":false,"point_step":12,"row_step":24,"data":[0,0,128,63,0,0,0,64,0,0,64,64,0,0,128,64,0,0,160,64,0,0,192,64],"is_dense":true}}
{"meta": {"secs":101,"nsecs":0}, "data":{"header":{"seq":8,"stamp":{"secs":101,"nsecs":0},"frame_id":"left_camera"},"height":1,"width":0,"fields":[],"is_bigendian":false,"point_step":12,"row_step":0,"data":[],"is_dense":true}}
`

func TestTimeConversion(t *testing.T) {
	now := time.Unix(1544544000, 123456789)
	stamp := NewTime(now)
	test.That(t, stamp, test.ShouldResemble, Time{Secs: 1544544000, Nsecs: 123456789})
	test.That(t, stamp.AsTime().Equal(now), test.ShouldBeTrue)

	test.That(t, NewTime(time.Time{}).IsZero(), test.ShouldBeTrue)
	test.That(t, Time{}.AsTime().IsZero(), test.ShouldBeTrue)
}

func TestTimeConversionClamps(t *testing.T) {
	test.That(t, NewTime(time.Unix(-1, 0)), test.ShouldResemble, Time{})
	test.That(t, NewTime(time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)), test.ShouldResemble, Time{})

	last := time.Unix(math.MaxUint32, 999999999)
	test.That(t, NewTime(last), test.ShouldResemble, Time{Secs: math.MaxUint32, Nsecs: 999999999})
	test.That(t, NewTime(last.Add(time.Nanosecond)), test.ShouldResemble, Time{Secs: math.MaxUint32, Nsecs: 999999999})
	test.That(t, NewTime(time.Date(2300, 1, 1, 0, 0, 0, 0, time.UTC)), test.ShouldResemble, Time{Secs: math.MaxUint32, Nsecs: 999999999})
	test.That(t, NewTime(last).AsTime().Equal(last), test.ShouldBeTrue)
}

func TestPointCloud2Accessors(t *testing.T) {
	var nilCloud *PointCloud2
	test.That(t, nilCloud.Len(), test.ShouldEqual, 0)
	_, ok := nilCloud.Field("x")
	test.That(t, ok, test.ShouldBeFalse)

	cloud := &PointCloud2{Height: 2, Width: 3, Fields: []PointField{{Name: "z", Offset: 8, Datatype: PointFieldFloat32, Count: 1}}}
	test.That(t, cloud.Len(), test.ShouldEqual, 6)
	test.That(t, (&PointCloud2{Height: math.MaxUint32, Width: math.MaxUint32}).Len(), test.ShouldEqual, math.MaxInt)
	field, ok := cloud.Field("z")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, field.Offset, test.ShouldEqual, uint32(8))
	test.That(t, field.Datatype.Size(), test.ShouldEqual, 4)
	test.That(t, PointFieldFloat64.Size(), test.ShouldEqual, 8)
	test.That(t, PointFieldType(42).Size(), test.ShouldEqual, 0)
}

func TestByteArrayJSON(t *testing.T) {
	var fromNumbers ByteArray
	test.That(t, json.Unmarshal([]byte(`[1,2,255]`), &fromNumbers), test.ShouldBeNil)
	test.That(t, []byte(fromNumbers), test.ShouldResemble, []byte{1, 2, 255})

	var fromBase64 ByteArray
	test.That(t, json.Unmarshal([]byte(`"AQL/"`), &fromBase64), test.ShouldBeNil)
	test.That(t, []byte(fromBase64), test.ShouldResemble, []byte{1, 2, 255})

	var bad ByteArray
	test.That(t, json.Unmarshal([]byte(`[1,256]`), &bad), test.ShouldNotBeNil)
	test.That(t, json.Unmarshal([]byte(`[1.5]`), &bad), test.ShouldNotBeNil)
	test.That(t, json.Unmarshal([]byte(`"not base64!"`), &bad), test.ShouldNotBeNil)
}

func TestDecodeEnvelopes(t *testing.T) {
	envelopes, err := ReadEnvelopes(strings.NewReader(bagExport))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, envelopes, test.ShouldHaveLength, 2)

	resets := []BagEnvelope{{
		Meta: Time{Secs: 100, Nsecs: 700},
		Data: map[string]interface{}{"header": map[string]interface{}{"seq": 1.0}, "reset": true},
	}}
	msgs, err := DecodeEnvelopes(
		map[string][]BagEnvelope{"/points": envelopes, "obstacle_reset": resets, "/ignored": envelopes},
		map[string]Decoder{"/points": DecodePointCloud2, "obstacle_reset": DecodeResetObstacles},
	)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, msgs, test.ShouldHaveLength, 3)

	test.That(t, msgs[0].Topic, test.ShouldEqual, "/points")
	test.That(t, msgs[1].Topic, test.ShouldEqual, "obstacle_reset")
	test.That(t, msgs[2].Topic, test.ShouldEqual, "/points")
	test.That(t, msgs[0].Time.Equal(time.Unix(100, 500)), test.ShouldBeTrue)

	expected := &PointCloud2{
		Header: Header{Seq: 7, Stamp: Time{Secs: 100, Nsecs: 400}, FrameID: "left_camera"},
		Height: 1,
		Width:  2,
		Fields: []PointField{
			{Name: "x", Offset: 0, Datatype: PointFieldFloat32, Count: 1},
			{Name: "y", Offset: 4, Datatype: PointFieldFloat32, Count: 1},
			{Name: "z", Offset: 8, Datatype: PointFieldFloat32, Count: 1},
		},
		PointStep: 12,
		RowStep:   24,
		Data:      ByteArray{0, 0, 128, 63, 0, 0, 0, 64, 0, 0, 64, 64, 0, 0, 128, 64, 0, 0, 160, 64, 0, 0, 192, 64},
		IsDense:   true,
	}
	test.That(t, cmp.Diff(expected, msgs[0].Msg), test.ShouldBeEmpty)
	test.That(t, msgs[1].Msg, test.ShouldResemble, ResetObstacles{Header: Header{Seq: 1}, Reset: true})
}

func TestDecodeMessageErrors(t *testing.T) {
	_, err := DecodePointCloud2(map[string]interface{}{"data": []interface{}{"x"}})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "PointCloud2")

	_, err = DecodeEnvelopes(
		map[string][]BagEnvelope{"/points": {{Data: map[string]interface{}{"width": "wide"}}}},
		map[string]Decoder{"/points": DecodePointCloud2},
	)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestBagTopicKey(t *testing.T) {
	test.That(t, bagTopicKey("/stereo/track_points2"), test.ShouldEqual, "stereo_track_points2")
	test.That(t, bagTopicKey("obstacle_reset"), test.ShouldEqual, "obstacle_reset")
	test.That(t, bagTopicKey("/Points"), test.ShouldEqual, "points")
}

func TestReplayBackToBack(t *testing.T) {
	msgs := []BagMessage{
		{Topic: "a", Time: time.Unix(10, 0), Msg: 1},
		{Topic: "b", Time: time.Unix(20, 0), Msg: 2},
	}
	var published []interface{}
	err := Replay(context.Background(), clock.NewMock(), msgs, 0, func(topic string, msg interface{}) error {
		published = append(published, msg)
		return nil
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, published, test.ShouldResemble, []interface{}{1, 2})
}

func TestReplayHonorsRecordGaps(t *testing.T) {
	mock := clock.NewMock()
	msgs := []BagMessage{
		{Topic: "a", Time: time.Unix(10, 0), Msg: 1},
		{Topic: "a", Time: time.Unix(12, 0), Msg: 2},
	}
	published := make(chan interface{}, 2)
	done := make(chan error, 1)
	go func() {
		done <- Replay(context.Background(), mock, msgs, 2, func(topic string, msg interface{}) error {
			published <- msg
			return nil
		})
	}()

	test.That(t, <-published, test.ShouldEqual, 1)
	for {
		select {
		case err := <-done:
			test.That(t, err, test.ShouldBeNil)
			test.That(t, <-published, test.ShouldEqual, 2)
			return
		default:
			// Two seconds of record time at double speed is one second on the clock.
			mock.Add(500 * time.Millisecond)
			time.Sleep(time.Millisecond)
		}
	}
}

func TestReplayCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Replay(ctx, clock.NewMock(), []BagMessage{{Topic: "a", Msg: 1}}, 0, func(string, interface{}) error {
		t.Fatal("published after cancel")
		return nil
	})
	test.That(t, err, test.ShouldBeError, context.Canceled)
}
