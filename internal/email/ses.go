package email

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

type SESClient interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESBackend delivers raw MIME messages through Amazon SES v2.
type SESBackend struct {
	client           SESClient
	configurationSet string
}

func NewSESBackend(client SESClient, configurationSet string) *SESBackend {
	return &SESBackend{client: client, configurationSet: configurationSet}
}

// NewSESClient builds a client from the default AWS chain, or from static
// credentials when both keys are given.
func NewSESClient(ctx context.Context, region, accessKey, secretKey string) (*sesv2.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}
	return sesv2.NewFromConfig(cfg), nil
}

func (b *SESBackend) Connection() Connection {
	return &sesConnection{backend: b}
}

type sesConnection struct {
	backend *SESBackend
}

func (c *sesConnection) Open(context.Context) error { return nil }

func (c *sesConnection) Close() error { return nil }

func (c *sesConnection) SendMessages(ctx context.Context, msgs []*Message) (int, error) {
	for i, m := range msgs {
		var raw bytes.Buffer
		if _, err := m.WriteTo(&raw); err != nil {
			return i, fmt.Errorf("build mime message: %w", err)
		}

		input := &sesv2.SendEmailInput{
			FromEmailAddress: aws.String(m.FromEmail),
			Destination:      &types.Destination{ToAddresses: m.To},
			Content: &types.EmailContent{
				Raw: &types.RawMessage{Data: raw.Bytes()},
			},
		}
		if c.backend.configurationSet != "" {
			input.ConfigurationSetName = aws.String(c.backend.configurationSet)
		}

		if _, err := c.backend.client.SendEmail(ctx, input); err != nil {
			return i, fmt.Errorf("ses send error: %w", err)
		}
	}
	return len(msgs), nil
}
