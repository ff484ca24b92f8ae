// Package ros holds the message types the plant exchanges with its transport and the tooling to
// read them back out of recorded rosbags.
package ros

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/gobag/rosbag"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// ReadBag reads the contents of a rosbag into a gobag data structure.
func ReadBag(filename string) (*rosbag.RosBag, error) {
	//nolint:gosec
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open input file")
	}
	defer utils.UncheckedErrorFunc(f.Close)

	rb := rosbag.NewRosBag()
	if err := rb.Read(f); err != nil {
		return nil, errors.Wrapf(err, "unable to create ros bag, error")
	}

	return rb, nil
}

// bagTopicKey mirrors how gobag keys its per-topic JSON buffers: no leading slash, remaining
// slashes replaced by underscores, lower case.
func bagTopicKey(topic string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(topic, "/"), "/", "_"))
}

// BagEnvelope is one exported bag record: the record time and the message body.
type BagEnvelope struct {
	Meta Time                   `json:"meta"`
	Data map[string]interface{} `json:"data"`
}

// AllMessagesForTopics exports the given topics from the bag and returns their records keyed by
// topic. Topics without any record are absent from the result.
func AllMessagesForTopics(rb *rosbag.RosBag, topics []string) (map[string][]BagEnvelope, error) {
	wanted := make(map[string]bool, len(topics))
	for _, topic := range topics {
		wanted[topic] = true
	}
	if err := rb.ParseTopicsToJSON(
		"",
		func(int64) bool { return true },
		func(t string) bool { return wanted[t] },
		false,
	); err != nil {
		return nil, errors.Wrapf(err, "error while parsing bag to JSON")
	}

	all := make(map[string][]BagEnvelope, len(topics))
	for _, topic := range topics {
		buf := rb.TopicsAsJSON[bagTopicKey(topic)]
		if buf == nil {
			continue
		}
		envelopes, err := ReadEnvelopes(buf)
		if err != nil {
			return nil, errors.Wrapf(err, "reading messages for topic %s", topic)
		}
		all[topic] = envelopes
	}
	return all, nil
}

// ReadEnvelopes reads newline delimited bag records.
func ReadEnvelopes(r io.Reader) ([]BagEnvelope, error) {
	var envelopes []BagEnvelope
	reader := bufio.NewReader(r)
	for {
		data, err := reader.ReadBytes('\n')
		if len(strings.TrimSpace(string(data))) > 0 {
			var envelope BagEnvelope
			if jsonErr := json.Unmarshal(data, &envelope); jsonErr != nil {
				return nil, jsonErr
			}
			envelopes = append(envelopes, envelope)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return envelopes, nil
			}
			return nil, err
		}
	}
}

// DecodeMessage decodes a generic message body (as produced by a bag export or a JSON document)
// into out, using the json field tags of the message types.
func DecodeMessage(data map[string]interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		DecodeHook:       byteArrayHook,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return errors.Wrapf(decoder.Decode(data), "decoding %T", out)
}

// Decoder turns a generic message body into a typed message.
type Decoder func(data map[string]interface{}) (interface{}, error)

// DecodePointCloud2 is a Decoder for sensor_msgs/PointCloud2.
func DecodePointCloud2(data map[string]interface{}) (interface{}, error) {
	var msg PointCloud2
	if err := DecodeMessage(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// DecodeResetObstacles is a Decoder for resetObstacles messages.
func DecodeResetObstacles(data map[string]interface{}) (interface{}, error) {
	var msg ResetObstacles
	if err := DecodeMessage(data, &msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// BagMessage is a decoded message tagged with its topic and record time.
type BagMessage struct {
	Topic string
	Time  time.Time
	Msg   interface{}
}

// DecodeEnvelopes decodes the records of each topic with that topic's decoder and merges them into
// one slice ordered by record time. Records of topics without a decoder are skipped.
func DecodeEnvelopes(byTopic map[string][]BagEnvelope, decoders map[string]Decoder) ([]BagMessage, error) {
	var msgs []BagMessage
	for topic, envelopes := range byTopic {
		decode, ok := decoders[topic]
		if !ok {
			continue
		}
		for i, envelope := range envelopes {
			msg, err := decode(envelope.Data)
			if err != nil {
				return nil, errors.Wrapf(err, "message %d on topic %s", i, topic)
			}
			msgs = append(msgs, BagMessage{Topic: topic, Time: envelope.Meta.AsTime(), Msg: msg})
		}
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Time.Before(msgs[j].Time)
	})
	return msgs, nil
}

// Replay publishes msgs in order. With a positive speed the gaps between record times are
// reproduced, divided by speed, on clk; otherwise messages are published back to back. Replay stops
// at the first publish error or when ctx is done.
func Replay(
	ctx context.Context,
	clk clock.Clock,
	msgs []BagMessage,
	speed float64,
	publish func(topic string, msg interface{}) error,
) error {
	for i, msg := range msgs {
		if speed > 0 && i > 0 {
			gap := time.Duration(float64(msg.Time.Sub(msgs[i-1].Time)) / speed)
			if gap > 0 {
				timer := clk.Timer(gap)
				select {
				case <-ctx.Done():
					timer.Stop()
					return ctx.Err()
				case <-timer.C:
				}
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := publish(msg.Topic, msg.Msg); err != nil {
			return errors.Wrapf(err, "publishing to %s", msg.Topic)
		}
	}
	return nil
}
