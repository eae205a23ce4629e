package email

import (
	"context"
	"io"
	"sort"

	"gopkg.in/gomail.v2"
)

// Message is a fully rendered HTML e-mail.
type Message struct {
	FromName  string
	FromEmail string
	To        []string
	Subject   string
	HTML      string
	Headers   map[string]string
}

func (m *Message) build() *gomail.Message {
	gm := gomail.NewMessage()
	gm.SetAddressHeader("From", m.FromEmail, m.FromName)
	gm.SetHeader("To", m.To...)
	gm.SetHeader("Subject", m.Subject)

	keys := make([]string, 0, len(m.Headers))
	for k := range m.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		gm.SetHeader(k, m.Headers[k])
	}

	gm.SetBody("text/html", m.HTML)
	return gm
}

// WriteTo writes the message in MIME format.
func (m *Message) WriteTo(w io.Writer) (int64, error) {
	return m.build().WriteTo(w)
}

// Connection is one session with a mail transport.
type Connection interface {
	Open(ctx context.Context) error
	// SendMessages returns the number of messages accepted before the first error.
	SendMessages(ctx context.Context, msgs []*Message) (int, error)
	Close() error
}

// Backend hands out transport connections.
type Backend interface {
	Connection() Connection
}
