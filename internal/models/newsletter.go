package models

import "time"

type NewsletterType int

const (
	NewsletterMassMail NewsletterType = 1
	NewsletterWorkflow NewsletterType = 2
)

type Newsletter struct {
	ID     int64          `json:"id"`
	Name   string         `json:"name"`
	Type   NewsletterType `json:"newsletter_type"`
	Active bool           `json:"active"`

	Subject     string `json:"subject"`
	SenderName  string `json:"sender_name"`
	SenderEmail string `json:"sender_email"`
	ReplyEmail  string `json:"reply_email"`
	Language    string `json:"language"`

	// Body is a Liquid HTML template rendered once per mail.
	Body string `json:"body"`

	HeaderImage       string `json:"header_image"`
	HeaderURL         string `json:"header_url"`
	HeaderURLReplaced string `json:"header_url_replaced"`

	CreatedAt time.Time `json:"created_at"`
}

// IsValid reports whether the newsletter carries enough to be sent.
// Template syntax is checked separately by the renderer.
func (n *Newsletter) IsValid() bool {
	return n.Subject != "" && n.SenderEmail != "" && n.Body != ""
}

func (n *Newsletter) IsMassMail() bool {
	return n.Type == NewsletterMassMail
}

// Snapshot returns an unsaved, inactive copy used to freeze content for one delivery.
func (n *Newsletter) Snapshot() *Newsletter {
	cp := *n
	cp.ID = 0
	cp.Active = false
	cp.CreatedAt = time.Time{}
	return &cp
}
