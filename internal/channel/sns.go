package channel

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/samknelson/sirius-dispatch/internal/domain"
)

// SNSAPI is the subset of the SNS client the SMS sender uses.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSSender delivers SMS through AWS SNS direct publish.
type SNSSender struct {
	client   SNSAPI
	senderID string
}

func NewSNSSender(client SNSAPI, senderID string) (*SNSSender, error) {
	if client == nil {
		return nil, fmt.Errorf("sns client is required")
	}
	return &SNSSender{client: client, senderID: senderID}, nil
}

// NewSNSSenderFromConfig builds the sender on a real SNS client.
func NewSNSSenderFromConfig(cfg aws.Config, senderID string) (*SNSSender, error) {
	return NewSNSSender(sns.NewFromConfig(cfg), senderID)
}

func (s *SNSSender) Medium() domain.Medium { return domain.MediumSMS }

func (s *SNSSender) Send(ctx context.Context, msg Message) (*Delivery, error) {
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}

	input := &sns.PublishInput{
		PhoneNumber: aws.String(msg.Recipient),
		Message:     aws.String(msg.Body),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"AWS.SNS.SMS.SMSType": {
				DataType:    aws.String("String"),
				StringValue: aws.String("Transactional"),
			},
		},
	}
	if s.senderID != "" {
		input.MessageAttributes["AWS.SNS.SMS.SenderID"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(s.senderID),
		}
	}

	out, err := s.client.Publish(ctx, input)
	if err != nil {
		return nil, awsSendError(domain.MediumSMS, "sns publish", err)
	}

	return &Delivery{MessageID: aws.ToString(out.MessageId)}, nil
}
