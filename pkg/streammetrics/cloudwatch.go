package streammetrics

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"camwatch/pkg/interfaces"
	"camwatch/pkg/logger"
)

const (
	Namespace       = "AWS/KinesisVideo"
	ProducerMetric  = "PutMedia.IncomingBytes"
	ConsumerMetric  = "GetMedia.OutgoingBytes"
	StreamDimension = "StreamName"
	defaultStat     = "Minimum"
	defaultPeriod   = 60
	maxDatapoints   = 3
	producerQueryID = "producer"
	consumerQueryID = "consumer"
)

// CloudWatchAPI the subset of the CloudWatch client used here
type CloudWatchAPI interface {
	GetMetricData(ctx context.Context, params *cloudwatch.GetMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricDataOutput, error)
}

// CloudWatchSource reads Kinesis Video stream byte counters from CloudWatch
type CloudWatchSource struct {
	client CloudWatchAPI
	period int32
}

// NewCloudWatchSource creates a metric source; periodSeconds <= 0 uses 60
func NewCloudWatchSource(client CloudWatchAPI, periodSeconds int) *CloudWatchSource {
	if periodSeconds <= 0 {
		periodSeconds = defaultPeriod
	}
	return &CloudWatchSource{client: client, period: int32(periodSeconds)}
}

// Sample issues one GetMetricData call with a producer and a consumer query.
// A query without datapoints is unknown; a query that did not complete fails
// the whole sample with ErrMetricUnavailable.
func (s *CloudWatchSource) Sample(ctx context.Context, stream string, window interfaces.TimeWindow) (*interfaces.MetricSample, error) {
	input := &cloudwatch.GetMetricDataInput{
		StartTime: aws.Time(window.Start),
		EndTime:   aws.Time(window.End),
		ScanBy:    types.ScanByTimestampDescending,
		MetricDataQueries: []types.MetricDataQuery{
			s.query(producerQueryID, ProducerMetric, stream),
			s.query(consumerQueryID, ConsumerMetric, stream),
		},
		MaxDatapoints: aws.Int32(maxDatapoints),
	}

	out, err := s.client.GetMetricData(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("%w: get metric data for %s: %v", interfaces.ErrMetricUnavailable, stream, err)
	}
	if len(out.Messages) > 0 {
		return nil, fmt.Errorf("%w: %s: %s", interfaces.ErrMetricUnavailable, stream, joinMessages(out.Messages))
	}

	sample := &interfaces.MetricSample{
		Stream:   stream,
		Producer: interfaces.UnknownBytes,
		Consumer: interfaces.UnknownBytes,
		Window:   window,
	}
	for _, result := range out.MetricDataResults {
		if result.StatusCode != types.StatusCodeComplete {
			return nil, fmt.Errorf("%w: %s query %s status %s %s", interfaces.ErrMetricUnavailable,
				stream, aws.ToString(result.Id), result.StatusCode, joinMessages(result.Messages))
		}

		value := newest(result)
		switch aws.ToString(result.Id) {
		case producerQueryID:
			sample.Producer = value
		case consumerQueryID:
			sample.Consumer = value
		}
	}

	logger.DebugCtx(ctx, "stream %s metrics: producer=%s, consumer=%s", stream, sample.Producer, sample.Consumer)
	return sample, nil
}

func (s *CloudWatchSource) query(id, metric, stream string) types.MetricDataQuery {
	return types.MetricDataQuery{
		Id: aws.String(id),
		MetricStat: &types.MetricStat{
			Metric: &types.Metric{
				Namespace:  aws.String(Namespace),
				MetricName: aws.String(metric),
				Dimensions: []types.Dimension{{
					Name:  aws.String(StreamDimension),
					Value: aws.String(stream),
				}},
			},
			Period: aws.Int32(s.period),
			Stat:   aws.String(defaultStat),
			Unit:   types.StandardUnitBytes,
		},
		ReturnData: aws.Bool(true),
	}
}

// newest picks the latest datapoint; results arrive newest first but the
// timestamps are compared anyway
func newest(result types.MetricDataResult) interfaces.ByteCount {
	n := len(result.Values)
	if len(result.Timestamps) < n {
		n = len(result.Timestamps)
	}
	if n == 0 {
		return interfaces.UnknownBytes
	}

	best := 0
	for i := 1; i < n; i++ {
		if result.Timestamps[i].After(result.Timestamps[best]) {
			best = i
		}
	}
	return interfaces.Bytes(result.Values[best])
}

func joinMessages(msgs []types.MessageData) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		parts = append(parts, aws.ToString(m.Code)+": "+aws.ToString(m.Value))
	}
	return strings.Join(parts, "; ")
}
