package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"go.viam.com/pcplant/plant"
	"go.viam.com/pcplant/pointcloud"
	"go.viam.com/pcplant/ros"
)

// InspectAction is the entry point of the inspect command.
func InspectAction(c *cli.Context) error {
	topics := c.Args().Slice()
	if len(topics) == 0 {
		topics = []string{plant.TrackPointsTopic}
	}
	decoders := make(map[string]ros.Decoder, len(topics))
	for _, topic := range topics {
		decoders[topic] = ros.DecodePointCloud2
	}
	msgs, err := loadBag(c.String(flagBag), decoders)
	if err != nil {
		return err
	}
	summaries, err := summarizeClouds(msgs)
	if err != nil {
		return err
	}
	return writeSummaries(c.App.Writer, summaries)
}

// cloudSummary describes every point cloud recorded on one topic.
type cloudSummary struct {
	Topic   string
	Clouds  int
	Points  []float64
	Skipped int
	Bounds  pointcloud.MetaData
	// Rate is the mean number of clouds per second of recording.
	Rate float64
}

func summarizeClouds(msgs []ros.BagMessage) ([]*cloudSummary, error) {
	clouds := lo.Filter(msgs, func(msg ros.BagMessage, _ int) bool {
		_, ok := msg.Msg.(*ros.PointCloud2)
		return ok
	})
	byTopic := lo.GroupBy(clouds, func(msg ros.BagMessage) string { return msg.Topic })
	topics := lo.Keys(byTopic)
	sort.Strings(topics)

	summaries := make([]*cloudSummary, len(topics))
	var group errgroup.Group
	for i, topic := range topics {
		group.Go(func() error {
			summary, err := summarizeTopic(topic, byTopic[topic])
			summaries[i] = summary
			return err
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return summaries, nil
}

// summarizeTopic decodes every cloud of one topic. msgs are in record order.
func summarizeTopic(topic string, msgs []ros.BagMessage) (*cloudSummary, error) {
	summary := &cloudSummary{Topic: topic, Bounds: pointcloud.NewMetaData()}
	for _, msg := range msgs {
		points, meta, err := pointcloud.FromPointCloud2(msg.Msg.(*ros.PointCloud2))
		if err != nil {
			return nil, errors.Wrapf(err, "cloud %d on %s", summary.Clouds, topic)
		}
		summary.Clouds++
		summary.Points = append(summary.Points, float64(len(points)))
		summary.Skipped += meta.Skipped
		for _, p := range points {
			summary.Bounds.Merge(p)
		}
	}
	if len(msgs) > 1 {
		if span := msgs[len(msgs)-1].Time.Sub(msgs[0].Time).Seconds(); span > 0 {
			summary.Rate = float64(summary.Clouds-1) / span
		}
	}
	return summary, nil
}

func writeSummaries(w io.Writer, summaries []*cloudSummary) error {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Topic", "Clouds", "Hz", "Points (mean)", "Points (stddev)", "Skipped", "Center"})
	for _, s := range summaries {
		mean, _ := stats.Mean(s.Points)
		sd, _ := stats.StandardDeviation(s.Points)
		center := "-"
		if !s.Bounds.Empty() {
			c := s.Bounds.Center()
			center = fmt.Sprintf("X:%.2f, Y:%.2f, Z:%.2f", c.X, c.Y, c.Z)
		}
		t.AppendRow(table.Row{
			s.Topic,
			s.Clouds,
			fmt.Sprintf("%.1f", s.Rate),
			fmt.Sprintf("%.1f", mean),
			fmt.Sprintf("%.1f", sd),
			s.Skipped,
			center,
		})
	}
	_, err := fmt.Fprintln(w, t.Render())
	return err
}
