package streammetrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"camwatch/pkg/config"
	"camwatch/pkg/interfaces"
)

type fakeCloudWatch struct {
	out   *cloudwatch.GetMetricDataOutput
	err   error
	input *cloudwatch.GetMetricDataInput
}

func (f *fakeCloudWatch) GetMetricData(ctx context.Context, params *cloudwatch.GetMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricDataOutput, error) {
	f.input = params
	return f.out, f.err
}

var testWindow = DefaultWindow(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

func result(id string, status types.StatusCode, values ...float64) types.MetricDataResult {
	r := types.MetricDataResult{Id: aws.String(id), StatusCode: status}
	base := testWindow.End
	for i, v := range values {
		r.Values = append(r.Values, v)
		r.Timestamps = append(r.Timestamps, base.Add(-time.Duration(i)*time.Minute))
	}
	return r
}

func TestCloudWatchSource_BuildsQueries(t *testing.T) {
	fake := &fakeCloudWatch{out: &cloudwatch.GetMetricDataOutput{}}
	src := NewCloudWatchSource(fake, 0)

	_, err := src.Sample(context.Background(), "cam-1", testWindow)
	require.NoError(t, err)

	in := fake.input
	require.NotNil(t, in)
	assert.Equal(t, types.ScanByTimestampDescending, in.ScanBy)
	assert.Equal(t, int32(3), aws.ToInt32(in.MaxDatapoints))
	assert.Equal(t, testWindow.Start, aws.ToTime(in.StartTime))
	assert.Equal(t, testWindow.End, aws.ToTime(in.EndTime))
	require.Len(t, in.MetricDataQueries, 2)

	q := in.MetricDataQueries[0]
	assert.Equal(t, "producer", aws.ToString(q.Id))
	assert.Equal(t, ProducerMetric, aws.ToString(q.MetricStat.Metric.MetricName))
	assert.Equal(t, Namespace, aws.ToString(q.MetricStat.Metric.Namespace))
	assert.Equal(t, "cam-1", aws.ToString(q.MetricStat.Metric.Dimensions[0].Value))
	assert.Equal(t, "Minimum", aws.ToString(q.MetricStat.Stat))
	assert.Equal(t, int32(60), aws.ToInt32(q.MetricStat.Period))
	assert.Equal(t, types.StandardUnitBytes, q.MetricStat.Unit)
	assert.Equal(t, ConsumerMetric, aws.ToString(in.MetricDataQueries[1].MetricStat.Metric.MetricName))
}

func TestCloudWatchSource_NewestDatapointWins(t *testing.T) {
	fake := &fakeCloudWatch{out: &cloudwatch.GetMetricDataOutput{
		MetricDataResults: []types.MetricDataResult{
			result("producer", types.StatusCodeComplete, 500, 10, 20),
			result("consumer", types.StatusCodeComplete, 0),
		},
	}}

	sample, err := NewCloudWatchSource(fake, 60).Sample(context.Background(), "cam-1", testWindow)
	require.NoError(t, err)
	assert.Equal(t, interfaces.Bytes(500), sample.Producer)
	assert.Equal(t, interfaces.Bytes(0), sample.Consumer)
	assert.True(t, sample.Complete())
}

func TestCloudWatchSource_NoDatapointIsUnknownNotZero(t *testing.T) {
	fake := &fakeCloudWatch{out: &cloudwatch.GetMetricDataOutput{
		MetricDataResults: []types.MetricDataResult{
			result("producer", types.StatusCodeComplete),
			result("consumer", types.StatusCodeComplete, 42),
		},
	}}

	sample, err := NewCloudWatchSource(fake, 60).Sample(context.Background(), "cam-1", testWindow)
	require.NoError(t, err)
	assert.False(t, sample.Producer.Known)
	assert.Equal(t, interfaces.Bytes(42), sample.Consumer)
	assert.False(t, sample.Complete())
}

func TestCloudWatchSource_MissingResultIsUnknown(t *testing.T) {
	fake := &fakeCloudWatch{out: &cloudwatch.GetMetricDataOutput{
		MetricDataResults: []types.MetricDataResult{result("producer", types.StatusCodeComplete, 1)},
	}}

	sample, err := NewCloudWatchSource(fake, 60).Sample(context.Background(), "cam-1", testWindow)
	require.NoError(t, err)
	assert.False(t, sample.Consumer.Known)
}

func TestCloudWatchSource_Failures(t *testing.T) {
	cases := map[string]*fakeCloudWatch{
		"api error": {err: errors.New("throttling")},
		"partial data": {out: &cloudwatch.GetMetricDataOutput{
			MetricDataResults: []types.MetricDataResult{
				result("producer", types.StatusCodePartialData, 5),
				result("consumer", types.StatusCodeComplete, 5),
			},
		}},
		"forbidden": {out: &cloudwatch.GetMetricDataOutput{
			MetricDataResults: []types.MetricDataResult{result("consumer", types.StatusCodeForbidden)},
		}},
		"response message": {out: &cloudwatch.GetMetricDataOutput{
			Messages: []types.MessageData{{Code: aws.String("MaxQueryTimeRangeExceed"), Value: aws.String("too wide")}},
		}},
	}
	for name, fake := range cases {
		t.Run(name, func(t *testing.T) {
			sample, err := NewCloudWatchSource(fake, 60).Sample(context.Background(), "cam-1", testWindow)
			assert.Nil(t, sample)
			assert.ErrorIs(t, err, interfaces.ErrMetricUnavailable)
		})
	}
}

func TestDefaultWindow(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 30, 500, time.UTC)
	w := DefaultWindow(now)
	assert.Equal(t, time.Date(2024, 5, 1, 11, 59, 30, 0, time.UTC), w.End)
	assert.Equal(t, 2*time.Minute, w.End.Sub(w.Start))
}

func TestStaticSource(t *testing.T) {
	p := 500.0
	src := NewStaticSource(map[string]config.StaticSample{"cam-1": {Producer: &p}})

	s, err := src.Sample(context.Background(), "cam-1", testWindow)
	require.NoError(t, err)
	assert.Equal(t, interfaces.Bytes(500), s.Producer)
	assert.False(t, s.Consumer.Known)

	zero := 0.0
	src.Set("cam-2", &zero, &zero)
	s, err = src.Sample(context.Background(), "cam-2", testWindow)
	require.NoError(t, err)
	assert.True(t, s.Complete())
	assert.False(t, s.Producer.Positive())

	s, err = src.Sample(context.Background(), "cam-9", testWindow)
	require.NoError(t, err)
	assert.False(t, s.Complete())
}
