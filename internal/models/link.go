package models

import "time"

// Link is a tracked outbound URL of a job. Links with an Identifier point to a
// registered view instead of a fixed target.
type Link struct {
	ID         int64   `json:"id"`
	JobID      int64   `json:"job_id"`
	Identifier string  `json:"identifier"`
	LinkHash   string  `json:"link_hash"`
	LinkTarget string  `json:"link_target"`
	Token      *string `json:"token,omitempty"`

	ClickCount int `json:"click_count"`
}

// MaxLinkTarget is the longest target a link can hold.
const MaxLinkTarget = 500

type LinkClick struct {
	ID     int64     `json:"id"`
	LinkID int64     `json:"link_id"`
	MailID int64     `json:"mail_id"`
	Date   time.Time `json:"date"`
}
