package memstore

import (
	"context"
	"sort"
	"time"

	"Mailroom/internal/models"
)

func (s *Store) findLink(match func(*models.Link) bool) (*models.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found *models.Link
	for _, l := range s.links {
		if match(l) && (found == nil || l.ID < found.ID) {
			found = l
		}
	}
	if found == nil {
		return nil, models.ErrNotFound
	}
	cp := *found
	return &cp, nil
}

func (s *Store) GetLink(_ context.Context, id int64) (*models.Link, error) {
	return s.findLink(func(l *models.Link) bool { return l.ID == id })
}

func (s *Store) GetLinkByHash(_ context.Context, hash string) (*models.Link, error) {
	return s.findLink(func(l *models.Link) bool { return l.LinkHash == hash })
}

func (s *Store) GetLinkByIdentifier(_ context.Context, jobID int64, identifier string) (*models.Link, error) {
	return s.findLink(func(l *models.Link) bool { return l.JobID == jobID && l.Identifier == identifier })
}

func (s *Store) GetLinkByToken(_ context.Context, jobID int64, token string) (*models.Link, error) {
	return s.findLink(func(l *models.Link) bool {
		return l.JobID == jobID && l.Token != nil && *l.Token == token
	})
}

func (s *Store) CreateLink(_ context.Context, l *models.Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.links {
		if other.LinkHash == l.LinkHash {
			return ErrDuplicate
		}
		if l.Token != nil && other.JobID == l.JobID && other.Token != nil && *other.Token == *l.Token {
			return ErrDuplicate
		}
	}
	l.ID = s.nextID()
	cp := *l
	s.links[l.ID] = &cp
	return nil
}

func (s *Store) UpdateLink(_ context.Context, l *models.Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.links[l.ID]
	if !ok {
		return models.ErrNotFound
	}
	old.LinkTarget = l.LinkTarget
	return nil
}

func (s *Store) ListLinks(_ context.Context, jobID int64) ([]*models.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[int64]int)
	for _, c := range s.clicks {
		counts[c.LinkID]++
	}

	var out []*models.Link
	for _, l := range s.links {
		if l.JobID == jobID && l.Identifier == "" {
			cp := *l
			cp.ClickCount = counts[l.ID]
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (s *Store) CreateLinkClick(_ context.Context, c *models.LinkClick) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Date.IsZero() {
		c.Date = time.Now()
	}
	c.ID = s.nextID()
	cp := *c
	s.clicks = append(s.clicks, &cp)
	return nil
}

// LinkClicks returns the recorded clicks in insertion order.
func (s *Store) LinkClicks() []models.LinkClick {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.LinkClick, 0, len(s.clicks))
	for _, c := range s.clicks {
		out = append(out, *c)
	}
	return out
}
