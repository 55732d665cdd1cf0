package registry

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesisvideo"
	"github.com/aws/aws-sdk-go-v2/service/kinesisvideo/types"

	"camwatch/pkg/interfaces"
	"camwatch/pkg/logger"
)

const listPageSize = 100

// KinesisVideoAPI the subset of the Kinesis Video client used here
type KinesisVideoAPI interface {
	ListStreams(ctx context.Context, params *kinesisvideo.ListStreamsInput, optFns ...func(*kinesisvideo.Options)) (*kinesisvideo.ListStreamsOutput, error)
}

// KinesisVideoRegistry lists ACTIVE Kinesis Video streams
type KinesisVideoRegistry struct {
	client KinesisVideoAPI
	prefix string
}

// NewKinesisVideoRegistry creates a registry; a non-empty prefix restricts the listing
func NewKinesisVideoRegistry(client KinesisVideoAPI, prefix string) *KinesisVideoRegistry {
	return &KinesisVideoRegistry{client: client, prefix: prefix}
}

// ListStreams walks every page and keeps ACTIVE streams
func (r *KinesisVideoRegistry) ListStreams(ctx context.Context) ([]*interfaces.Stream, error) {
	input := &kinesisvideo.ListStreamsInput{MaxResults: aws.Int32(listPageSize)}
	if r.prefix != "" {
		input.StreamNameCondition = &types.StreamNameCondition{
			ComparisonOperator: types.ComparisonOperatorBeginsWith,
			ComparisonValue:    aws.String(r.prefix),
		}
	}

	var streams []*interfaces.Stream
	inactive := 0
	for {
		out, err := r.client.ListStreams(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("%w: list kinesis video streams: %v", interfaces.ErrRegistryUnavailable, err)
		}

		for _, info := range out.StreamInfoList {
			if info.Status != types.StatusActive {
				inactive++
				continue
			}
			streams = append(streams, &interfaces.Stream{
				Name:      aws.ToString(info.StreamName),
				ARN:       aws.ToString(info.StreamARN),
				CreatedAt: aws.ToTime(info.CreationTime),
			})
		}

		if aws.ToString(out.NextToken) == "" {
			break
		}
		input.NextToken = out.NextToken
	}

	logger.DebugCtx(ctx, "listed %d active streams (%d not active)", len(streams), inactive)
	return streams, nil
}
