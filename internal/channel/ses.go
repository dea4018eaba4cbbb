package channel

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/samknelson/sirius-dispatch/internal/domain"
)

// SESAPI is the subset of the SES client the email sender uses.
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESSender delivers email through AWS SES.
type SESSender struct {
	client SESAPI
	from   string
}

func NewSESSender(client SESAPI, from string) (*SESSender, error) {
	if client == nil {
		return nil, fmt.Errorf("ses client is required")
	}
	if strings.TrimSpace(from) == "" {
		return nil, fmt.Errorf("from address is required")
	}
	return &SESSender{client: client, from: strings.TrimSpace(from)}, nil
}

// NewSESSenderFromConfig builds the sender on a real SES client.
func NewSESSenderFromConfig(cfg aws.Config, from string) (*SESSender, error) {
	return NewSESSender(ses.NewFromConfig(cfg), from)
}

func (s *SESSender) Medium() domain.Medium { return domain.MediumEmail }

func (s *SESSender) Send(ctx context.Context, msg Message) (*Delivery, error) {
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}

	out, err := s.client.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: []string{msg.Recipient},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(msg.Body), Charset: aws.String("UTF-8")},
				Html: &types.Content{Data: aws.String(htmlBody(msg)), Charset: aws.String("UTF-8")},
			},
		},
		Source: aws.String(s.from),
	})
	if err != nil {
		return nil, awsSendError(domain.MediumEmail, "ses send email", err)
	}

	return &Delivery{MessageID: aws.ToString(out.MessageId)}, nil
}

func htmlBody(msg Message) string {
	var b strings.Builder
	for _, line := range strings.Split(msg.Body, "\n") {
		b.WriteString("<p>")
		b.WriteString(html.EscapeString(line))
		b.WriteString("</p>")
	}
	if msg.Link != "" {
		link := html.EscapeString(msg.Link)
		b.WriteString(`<p><a href="` + link + `">` + link + `</a></p>`)
	}
	return b.String()
}
