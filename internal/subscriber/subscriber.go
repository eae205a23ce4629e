// Package subscriber is the built-in mailing list: subscribers, the groups
// they belong to and the recipient hooks delivery calls on them.
package subscriber

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"go.uber.org/zap"

	"Mailroom/internal/delivery"
	"Mailroom/internal/models"
)

const (
	PersonType = "subscriber"
	GroupType  = "subscriber_group"
)

var ErrInvalidEmail = errors.New("invalid e-mail address")

type Store interface {
	GetSubscriber(ctx context.Context, id int64) (*models.Subscriber, error)
	GetOrCreateSubscriber(ctx context.Context, sub *models.Subscriber) (*models.Subscriber, bool, error)
	UpdateSubscriber(ctx context.Context, sub *models.Subscriber) error
	GetOrCreateGroup(ctx context.Context, name string) (*models.SubscriberGroup, error)
	GetGroup(ctx context.Context, id int64) (*models.SubscriberGroup, error)
	AddToGroup(ctx context.Context, groupID, subscriberID int64) error
	GroupMembers(ctx context.Context, groupID int64) ([]*models.Subscriber, error)
}

type Service struct {
	store   Store
	baseURL string
	logger  *zap.Logger
}

func New(store Store, baseURL string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, baseURL: strings.TrimRight(baseURL, "/"), logger: logger}
}

type Fields struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Add stores the subscriber unless the address is already known and puts it
// in every named group. Names are only filled in for new subscribers or when
// the stored ones are empty.
func (s *Service) Add(ctx context.Context, address string, groups []string, f Fields) (*models.Subscriber, error) {
	parsed, err := mail.ParseAddress(strings.TrimSpace(address))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEmail, address)
	}

	sub, created, err := s.store.GetOrCreateSubscriber(ctx, &models.Subscriber{
		Email:     strings.ToLower(parsed.Address),
		FirstName: f.FirstName,
		LastName:  f.LastName,
	})
	if err != nil {
		return nil, fmt.Errorf("store subscriber: %w", err)
	}

	if !created && ((sub.FirstName == "" && f.FirstName != "") || (sub.LastName == "" && f.LastName != "")) {
		if sub.FirstName == "" {
			sub.FirstName = f.FirstName
		}
		if sub.LastName == "" {
			sub.LastName = f.LastName
		}
		if err := s.store.UpdateSubscriber(ctx, sub); err != nil {
			return nil, fmt.Errorf("update subscriber: %w", err)
		}
	}

	for _, name := range groups {
		g, err := s.store.GetOrCreateGroup(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("group %q: %w", name, err)
		}
		if err := s.store.AddToGroup(ctx, g.ID, sub.ID); err != nil {
			return nil, fmt.Errorf("add to group %q: %w", name, err)
		}
	}

	if created {
		s.logger.Info("subscriber added", zap.Int64("subscriber_id", sub.ID))
	}
	return sub, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*models.Subscriber, error) {
	return s.store.GetSubscriber(ctx, id)
}

// GroupID returns the id of the named group, creating it when missing.
func (s *Service) GroupID(ctx context.Context, name string) (int64, error) {
	g, err := s.store.GetOrCreateGroup(ctx, name)
	if err != nil {
		return 0, err
	}
	return g.ID, nil
}

// ----------------------------
// Recipients
// ----------------------------

func (s *Service) Recipient(ctx context.Context, id int64) (delivery.Recipient, error) {
	sub, err := s.store.GetSubscriber(ctx, id)
	if err != nil {
		return nil, err
	}
	return &recipient{svc: s, sub: sub}, nil
}

type recipient struct {
	svc *Service
	sub *models.Subscriber
}

func (r *recipient) Email() string { return r.sub.Email }

func (r *recipient) Context() map[string]any {
	return map[string]any{
		"id":         r.sub.ID,
		"email":      r.sub.Email,
		"first_name": r.sub.FirstName,
		"last_name":  r.sub.LastName,
		"name":       strings.TrimSpace(r.sub.FirstName + " " + r.sub.LastName),
	}
}

func (r *recipient) UnsubscribeURL(_ *models.Job, m *models.Mail) string {
	return r.svc.baseURL + "/unsubscribe/" + m.MailHash + "/"
}

func (r *recipient) Unsubscribe(ctx context.Context) error {
	return r.setStatus(ctx, models.SubscriberUnsubscribed)
}

func (r *recipient) OnBounce(ctx context.Context, _ *models.Mail) error {
	return r.setStatus(ctx, models.SubscriberBounced)
}

func (r *recipient) setStatus(ctx context.Context, status models.SubscriberStatus) error {
	if r.sub.Status == status {
		return nil
	}
	r.sub.Status = status
	if err := r.svc.store.UpdateSubscriber(ctx, r.sub); err != nil {
		return fmt.Errorf("set subscriber %d %s: %w", r.sub.ID, status, err)
	}
	r.svc.logger.Info("subscriber status changed",
		zap.Int64("subscriber_id", r.sub.ID),
		zap.String("status", string(status)),
	)
	return nil
}

// ----------------------------
// Groups
// ----------------------------

func (s *Service) Group(ctx context.Context, id int64) (delivery.Group, error) {
	g, err := s.store.GetGroup(ctx, id)
	if err != nil {
		return nil, err
	}
	return &group{svc: s, g: g}, nil
}

type group struct {
	svc *Service
	g   *models.SubscriberGroup
}

func (g *group) Context() map[string]any {
	return map[string]any{"id": g.g.ID, "name": g.g.Name}
}

// Members lists the active subscribers of the group.
func (g *group) Members(ctx context.Context) ([]delivery.Ref, error) {
	subs, err := g.svc.store.GroupMembers(ctx, g.g.ID)
	if err != nil {
		return nil, err
	}
	refs := make([]delivery.Ref, 0, len(subs))
	for _, sub := range subs {
		if sub.Status != models.SubscriberActive {
			continue
		}
		refs = append(refs, delivery.Ref{Type: PersonType, ID: sub.ID})
	}
	return refs, nil
}
