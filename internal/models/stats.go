package models

import (
	"errors"
	"math"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique column would be duplicated.
	ErrDuplicate = errors.New("duplicate key")
)

// MailCounts are the raw counters of a job's mails.
type MailCounts struct {
	Total   int `json:"total"`
	Sent    int `json:"sent"`
	Viewed  int `json:"viewed"`
	Bounced int `json:"bounced"`
	Clicked int `json:"clicked"`
}

func (c MailCounts) Delivered() int {
	return c.Sent - c.Bounced
}

// JobStats holds counters and the ratios derived from them.
type JobStats struct {
	MailCounts
	Delivered      int     `json:"delivered"`
	PercentSent    float64 `json:"percentage_sent"`
	PercentViewed  float64 `json:"percentage_viewed"`
	PercentClicked float64 `json:"percentage_clicked"`
	PercentBounced float64 `json:"percentage_bounced"`
}

func (c MailCounts) Stats() JobStats {
	delivered := c.Delivered()
	return JobStats{
		MailCounts:     c,
		Delivered:      delivered,
		PercentSent:    Percentage(c.Sent, c.Total),
		PercentViewed:  Percentage(c.Viewed, delivered),
		PercentClicked: Percentage(c.Clicked, delivered),
		PercentBounced: Percentage(c.Bounced, c.Sent),
	}
}

// Percentage returns part/whole*100 rounded to one decimal, or 0 when whole is not positive.
func Percentage(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	return math.Round(float64(part)/float64(whole)*1000) / 10
}

// OpenedPoint is the number of mails viewed before Time.
type OpenedPoint struct {
	Time  time.Time `json:"time"`
	Count int       `json:"count"`
}
