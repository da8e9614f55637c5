package pub

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snsTypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/goccy/go-json"

	"listsync/internal/types"
)

// snsMirror forwards committed event envelopes to an SNS topic so external
// consumers can follow list activity. It is only ever wired as a Fanout
// mirror, never as the primary broadcaster.
type snsMirror struct {
	cli *sns.Client
	arn string
}

func NewSNSMirror(c *sns.Client, arn string) *snsMirror {
	return &snsMirror{cli: c, arn: arn}
}

func (s *snsMirror) Publish(ctx context.Context, listID string, env types.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = s.cli.Publish(ctx, &sns.PublishInput{
		TopicArn: &s.arn,
		Message:  aws.String(string(b)),
		MessageAttributes: map[string]snsTypes.MessageAttributeValue{
			"content-type": {DataType: aws.String("String"), StringValue: aws.String("application/json")},
			"list-id":      {DataType: aws.String("String"), StringValue: aws.String(listID)},
		},
	})
	return err
}
