package email

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gopkg.in/gomail.v2"
)

type SMTPBackend struct {
	Host     string
	Port     int
	Username string
	Password string

	// Retries is how many times a failed dial is retried.
	Retries int
}

func (b *SMTPBackend) Connection() Connection {
	return &smtpConnection{backend: b}
}

type smtpConnection struct {
	backend *SMTPBackend
	sc      gomail.SendCloser
}

// Open dials the SMTP server, retrying with exponential backoff.
func (c *smtpConnection) Open(ctx context.Context) error {
	if c.sc != nil {
		return nil
	}

	d := gomail.NewDialer(c.backend.Host, c.backend.Port, c.backend.Username, c.backend.Password)

	operation := func() error {
		sc, err := d.Dial()
		if err != nil {
			return err
		}
		c.sc = sc
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond

	retries := c.backend.Retries
	if retries < 0 {
		retries = 0
	}

	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)); err != nil {
		return fmt.Errorf("smtp dial error: %w", err)
	}
	return nil
}

func (c *smtpConnection) SendMessages(_ context.Context, msgs []*Message) (int, error) {
	if c.sc == nil {
		return 0, errors.New("smtp connection is not open")
	}

	for i, m := range msgs {
		if err := gomail.Send(c.sc, m.build()); err != nil {
			return i, fmt.Errorf("smtp send error: %w", err)
		}
	}
	return len(msgs), nil
}

func (c *smtpConnection) Close() error {
	if c.sc == nil {
		return nil
	}
	err := c.sc.Close()
	c.sc = nil
	return err
}
