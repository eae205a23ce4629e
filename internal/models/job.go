package models

import "time"

type JobStatus int

const (
	JobDraft      JobStatus = 1
	JobPending    JobStatus = 2
	JobPreparing  JobStatus = 3
	JobReady      JobStatus = 4
	JobSending    JobStatus = 11
	JobInProgress JobStatus = 21
	JobFinished   JobStatus = 31
	JobFailed     JobStatus = 41
)

var jobStatusNames = map[JobStatus]string{
	JobDraft:      "draft",
	JobPending:    "pending",
	JobPreparing:  "preparing",
	JobReady:      "ready to send",
	JobSending:    "sending",
	JobInProgress: "in progress",
	JobFinished:   "finished",
	JobFailed:     "failed",
}

func (s JobStatus) String() string {
	if name, ok := jobStatusNames[s]; ok {
		return name
	}
	return "unknown"
}

// CanSend reports whether a job in this status may be handed to delivery.
func (s JobStatus) CanSend() bool {
	return s == JobDraft
}

// CanEdit reports whether the newsletter of a job in this status may still be swapped.
func (s JobStatus) CanEdit() bool {
	return s == JobDraft || s == JobPending
}

// CanViewPublic reports whether a public slug may expose the newsletter.
func (s JobStatus) CanViewPublic() bool {
	return s == JobSending || s == JobInProgress || s == JobFinished
}

// Job is one bulk send of a newsletter to a group of recipients.
type Job struct {
	ID           int64     `json:"id"`
	NewsletterID *int64    `json:"newsletter_id"`
	Status       JobStatus `json:"status"`

	CreatedAt       time.Time  `json:"created_at"`
	DeliverStart    *time.Time `json:"date_deliver_start"`
	DeliverFinished *time.Time `json:"date_deliver_finished"`

	// GroupType and GroupID reference an arbitrary group object (e.g. a subscriber group).
	GroupType string `json:"group_type,omitempty"`
	GroupID   *int64 `json:"group_id,omitempty"`

	Collection  string  `json:"collection"`
	UTMCampaign string  `json:"utm_campaign"`
	PublicSlug  *string `json:"public_slug"`
}

// JobFilter narrows job listings. Zero values are ignored.
type JobFilter struct {
	Status       JobStatus
	NewsletterID int64
	ExcludeDraft bool
	Limit        int
	Offset       int
}
