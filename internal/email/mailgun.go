package email

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/mailgun/mailgun-go/v3"
)

type MailgunBackend struct {
	mg mailgun.Mailgun
}

func NewMailgunBackend(mg mailgun.Mailgun) *MailgunBackend {
	return &MailgunBackend{mg: mg}
}

func (b *MailgunBackend) Connection() Connection {
	return &mailgunConnection{mg: b.mg}
}

type mailgunConnection struct {
	mg mailgun.Mailgun
}

func (c *mailgunConnection) Open(context.Context) error { return nil }

func (c *mailgunConnection) Close() error { return nil }

func (c *mailgunConnection) SendMessages(ctx context.Context, msgs []*Message) (int, error) {
	for i, m := range msgs {
		var body bytes.Buffer
		if _, err := m.WriteTo(&body); err != nil {
			return i, fmt.Errorf("build mime message: %w", err)
		}

		msg := c.mg.NewMIMEMessage(io.NopCloser(&body), m.To...)
		if _, _, err := c.mg.Send(ctx, msg); err != nil {
			return i, fmt.Errorf("mailgun send error: %w", err)
		}
	}
	return len(msgs), nil
}
