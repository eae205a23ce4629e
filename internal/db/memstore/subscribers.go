package memstore

import (
	"context"
	"sort"
	"time"

	"Mailroom/internal/models"
)

func (s *Store) GetSubscriber(_ context.Context, id int64) (*models.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscribers[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (s *Store) GetOrCreateSubscriber(_ context.Context, sub *models.Subscriber) (*models.Subscriber, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.subscribers {
		if existing.Email == sub.Email {
			cp := *existing
			return &cp, false, nil
		}
	}

	cp := *sub
	if cp.Status == "" {
		cp.Status = models.SubscriberActive
	}
	cp.ID = s.nextID()
	cp.CreatedAt = time.Now()
	s.subscribers[cp.ID] = &cp

	out := cp
	return &out, true, nil
}

func (s *Store) UpdateSubscriber(_ context.Context, sub *models.Subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.subscribers[sub.ID]
	if !ok {
		return models.ErrNotFound
	}
	old.FirstName = sub.FirstName
	old.LastName = sub.LastName
	old.Status = sub.Status
	return nil
}

func (s *Store) GetOrCreateGroup(_ context.Context, name string) (*models.SubscriberGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.groups {
		if g.Name == name {
			cp := *g
			return &cp, nil
		}
	}
	g := &models.SubscriberGroup{ID: s.nextID(), Name: name}
	s.groups[g.ID] = g
	cp := *g
	return &cp, nil
}

func (s *Store) GetGroup(_ context.Context, id int64) (*models.SubscriberGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (s *Store) AddToGroup(_ context.Context, groupID, subscriberID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[groupID]; !ok {
		return models.ErrNotFound
	}
	if _, ok := s.subscribers[subscriberID]; !ok {
		return models.ErrNotFound
	}
	for _, id := range s.members[groupID] {
		if id == subscriberID {
			return nil
		}
	}
	s.members[groupID] = append(s.members[groupID], subscriberID)
	return nil
}

func (s *Store) GroupMembers(_ context.Context, groupID int64) ([]*models.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Subscriber
	for _, id := range s.members[groupID] {
		if sub, ok := s.subscribers[id]; ok {
			cp := *sub
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}
