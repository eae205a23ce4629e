// Package memstore is an in-memory store with the same behaviour as the
// Postgres store. It backs tests and DATABASE_URL=memory.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"Mailroom/internal/models"
)

type Store struct {
	mu sync.Mutex

	seq         int64
	newsletters map[int64]*models.Newsletter
	jobs        map[int64]*models.Job
	mails       map[int64]*models.Mail
	links       map[int64]*models.Link
	clicks      []*models.LinkClick
	clients     []*models.EmailClient
	subscribers map[int64]*models.Subscriber
	groups      map[int64]*models.SubscriberGroup
	members     map[int64][]int64
}

func New() *Store {
	return &Store{
		newsletters: make(map[int64]*models.Newsletter),
		jobs:        make(map[int64]*models.Job),
		mails:       make(map[int64]*models.Mail),
		links:       make(map[int64]*models.Link),
		subscribers: make(map[int64]*models.Subscriber),
		groups:      make(map[int64]*models.SubscriberGroup),
		members:     make(map[int64][]int64),
	}
}

func (s *Store) Close() {}

func (s *Store) Migrate(context.Context) error { return nil }

func (s *Store) nextID() int64 {
	s.seq++
	return s.seq
}

// ----------------------------
// Newsletters
// ----------------------------

func (s *Store) GetNewsletter(_ context.Context, id int64) (*models.Newsletter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.newsletters[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (s *Store) CreateNewsletter(_ context.Context, n *models.Newsletter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n.ID = s.nextID()
	n.CreatedAt = time.Now()
	cp := *n
	s.newsletters[n.ID] = &cp
	return nil
}

func (s *Store) UpdateNewsletter(_ context.Context, n *models.Newsletter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.newsletters[n.ID]
	if !ok {
		return models.ErrNotFound
	}
	cp := *n
	cp.CreatedAt = old.CreatedAt
	s.newsletters[n.ID] = &cp
	return nil
}

// ----------------------------
// Jobs
// ----------------------------

func (s *Store) GetJob(_ context.Context, id int64) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *Store) GetJobBySlug(_ context.Context, slug string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.PublicSlug != nil && *j.PublicSlug == slug {
			cp := *j
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (s *Store) ListJobs(_ context.Context, f models.JobFilter) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Job
	for _, j := range s.jobs {
		if f.Status != 0 && j.Status != f.Status {
			continue
		}
		if f.NewsletterID != 0 && (j.NewsletterID == nil || *j.NewsletterID != f.NewsletterID) {
			continue
		}
		if f.ExcludeDraft && j.Status == models.JobDraft {
			continue
		}
		cp := *j
		out = append(out, &cp)
	}

	sort.Slice(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.After(out[b].CreatedAt)
		}
		return out[a].ID > out[b].ID
	})

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) CreateJob(_ context.Context, j *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j.PublicSlug != nil && s.slugTaken(*j.PublicSlug, 0) {
		return ErrDuplicate
	}
	if j.Status == 0 {
		j.Status = models.JobDraft
	}
	j.ID = s.nextID()
	j.CreatedAt = time.Now()
	cp := *j
	s.jobs[j.ID] = &cp
	return nil
}

func (s *Store) UpdateJob(_ context.Context, j *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.jobs[j.ID]
	if !ok {
		return models.ErrNotFound
	}
	if j.PublicSlug != nil && s.slugTaken(*j.PublicSlug, j.ID) {
		return ErrDuplicate
	}
	cp := *j
	cp.CreatedAt = old.CreatedAt
	s.jobs[j.ID] = &cp
	return nil
}

func (s *Store) slugTaken(slug string, except int64) bool {
	for id, other := range s.jobs {
		if id != except && other.PublicSlug != nil && *other.PublicSlug == slug {
			return true
		}
	}
	return false
}

func (s *Store) DeleteJob(_ context.Context, j *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[j.ID]; !ok {
		return models.ErrNotFound
	}
	delete(s.jobs, j.ID)

	mailIDs := make(map[int64]bool)
	for id, m := range s.mails {
		if m.JobID == j.ID {
			mailIDs[id] = true
			delete(s.mails, id)
		}
	}
	linkIDs := make(map[int64]bool)
	for id, l := range s.links {
		if l.JobID == j.ID {
			linkIDs[id] = true
			delete(s.links, id)
		}
	}

	clicks := s.clicks[:0]
	for _, c := range s.clicks {
		if !mailIDs[c.MailID] && !linkIDs[c.LinkID] {
			clicks = append(clicks, c)
		}
	}
	s.clicks = clicks

	clients := s.clients[:0]
	for _, c := range s.clients {
		if !mailIDs[c.MailID] {
			clients = append(clients, c)
		}
	}
	s.clients = clients

	if j.NewsletterID != nil {
		if n, ok := s.newsletters[*j.NewsletterID]; ok && !n.Active {
			delete(s.newsletters, n.ID)
			for _, other := range s.jobs {
				if other.NewsletterID != nil && *other.NewsletterID == n.ID {
					other.NewsletterID = nil
				}
			}
		}
	}
	return nil
}
