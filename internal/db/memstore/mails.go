package memstore

import (
	"context"
	"sort"
	"time"

	"Mailroom/internal/models"
)

var ErrDuplicate = models.ErrDuplicate

func (s *Store) CreateMail(_ context.Context, m *models.Mail) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.mails {
		if other.MailHash == m.MailHash {
			return ErrDuplicate
		}
	}
	m.ID = s.nextID()
	cp := *m
	s.mails[m.ID] = &cp
	return nil
}

func (s *Store) GetMailByHash(_ context.Context, hash string) (*models.Mail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.mails {
		if m.MailHash == hash {
			cp := *m
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (s *Store) UpdateMail(_ context.Context, m *models.Mail) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.mails[m.ID]
	if !ok {
		return models.ErrNotFound
	}
	old.Email = m.Email
	old.Sent = m.Sent
	old.Viewed = m.Viewed
	old.Bounced = m.Bounced
	return nil
}

func (s *Store) jobMails(jobID int64) []*models.Mail {
	var out []*models.Mail
	for _, m := range s.mails {
		if m.JobID == jobID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

func (s *Store) UnsentMails(_ context.Context, jobID int64) ([]*models.Mail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Mail
	for _, m := range s.jobMails(jobID) {
		if !m.Sent {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Store) mailClicks() map[int64]int {
	counts := make(map[int64]int)
	for _, c := range s.clicks {
		counts[c.MailID]++
	}
	return counts
}

func (s *Store) ListMails(_ context.Context, jobID int64, limit int) ([]*models.Mail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clicks := s.mailClicks()
	out := s.jobMails(jobID)
	for _, m := range out {
		m.ClickCount = clicks[m.ID]
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].ClickCount > out[b].ClickCount })

	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CountMails(_ context.Context, jobID int64) (models.MailCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clicks := s.mailClicks()
	var c models.MailCounts
	for _, m := range s.jobMails(jobID) {
		c.Total++
		if m.Sent {
			c.Sent++
		}
		if m.Viewed != nil {
			c.Viewed++
		}
		if m.Bounced {
			c.Bounced++
		}
		if clicks[m.ID] > 0 {
			c.Clicked++
		}
	}
	return c, nil
}

func (s *Store) ViewedTimes(_ context.Context, jobID int64) ([]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []time.Time
	for _, m := range s.jobMails(jobID) {
		if m.Viewed != nil {
			out = append(out, *m.Viewed)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Before(out[b]) })
	return out, nil
}

func (s *Store) RecentClientExists(_ context.Context, c *models.EmailClient, since time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.clients {
		if o.MailID == c.MailID && o.UserAgent == c.UserAgent && o.IPAddress == c.IPAddress &&
			o.Referer == c.Referer && o.ContactType == c.ContactType && o.Visited.After(since) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) CreateEmailClient(_ context.Context, c *models.EmailClient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Visited.IsZero() {
		c.Visited = time.Now()
	}
	c.ID = s.nextID()
	cp := *c
	s.clients = append(s.clients, &cp)
	return nil
}

// EmailClients returns every recorded client of a mail.
func (s *Store) EmailClients(mailID int64) []models.EmailClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.EmailClient
	for _, c := range s.clients {
		if c.MailID == mailID {
			out = append(out, *c)
		}
	}
	return out
}

func (s *Store) UserAgentCounts(_ context.Context, jobID int64) ([]models.UserAgentCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[string]int)
	for _, c := range s.clients {
		if m, ok := s.mails[c.MailID]; ok && m.JobID == jobID {
			counts[c.UserAgent]++
		}
	}

	out := make([]models.UserAgentCount, 0, len(counts))
	for ua, n := range counts {
		out = append(out, models.UserAgentCount{UserAgent: ua, Count: n})
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Count != out[b].Count {
			return out[a].Count > out[b].Count
		}
		return out[a].UserAgent < out[b].UserAgent
	})
	return out, nil
}
