package models

import "time"

// Mail is the delivery record of one newsletter for one recipient.
type Mail struct {
	ID    int64 `json:"id"`
	JobID int64 `json:"job_id"`

	// PersonType and PersonID reference the recipient through a registered source.
	PersonType string `json:"person_type"`
	PersonID   int64  `json:"person_id"`

	// Email is stored when the mail is sent.
	Email    string `json:"email"`
	MailHash string `json:"mail_hash"`

	Sent    bool       `json:"sent"`
	Viewed  *time.Time `json:"viewed"`
	Bounced bool       `json:"bounced"`

	// ClickCount is only populated by listings.
	ClickCount int `json:"click_count,omitempty"`
}

type ContactType string

const (
	ContactLink    ContactType = "link"
	ContactWebview ContactType = "webview"
	ContactPing    ContactType = "ping"
)

// EmailClient records the client a mail was opened with.
type EmailClient struct {
	ID          int64       `json:"id"`
	MailID      int64       `json:"mail_id"`
	UserAgent   string      `json:"user_agent"`
	IPAddress   string      `json:"ip_address"`
	Referer     string      `json:"referer"`
	ContactType ContactType `json:"contact_type"`
	Visited     time.Time   `json:"visited"`
}

type UserAgentCount struct {
	UserAgent string `json:"user_agent"`
	Count     int    `json:"count"`
}
