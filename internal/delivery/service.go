// Package delivery sends newsletter jobs and records what recipients do with them.
package delivery

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"Mailroom/internal/email"
	"Mailroom/internal/links"
	"Mailroom/internal/models"
	"Mailroom/internal/render"
	"Mailroom/internal/views"
)

var (
	ErrNoNewsletter = errors.New("job has no newsletter")
	ErrCannotSend   = errors.New("job cannot be sent")
	ErrNotEditable  = errors.New("job newsletter can no longer be changed")
	ErrNotPublic    = errors.New("job is not publicly viewable")
	ErrNotQueued    = errors.New("job is not waiting to be sent")
	ErrNoMembers    = errors.New("job group cannot list its members")
)

// Store persists jobs and everything attached to them.
type Store interface {
	links.Store

	GetNewsletter(ctx context.Context, id int64) (*models.Newsletter, error)
	CreateNewsletter(ctx context.Context, n *models.Newsletter) error
	UpdateNewsletter(ctx context.Context, n *models.Newsletter) error

	GetJob(ctx context.Context, id int64) (*models.Job, error)
	GetJobBySlug(ctx context.Context, slug string) (*models.Job, error)
	ListJobs(ctx context.Context, f models.JobFilter) ([]*models.Job, error)
	CreateJob(ctx context.Context, j *models.Job) error
	UpdateJob(ctx context.Context, j *models.Job) error
	DeleteJob(ctx context.Context, j *models.Job) error

	CreateMail(ctx context.Context, m *models.Mail) error
	GetMailByHash(ctx context.Context, hash string) (*models.Mail, error)
	UpdateMail(ctx context.Context, m *models.Mail) error
	UnsentMails(ctx context.Context, jobID int64) ([]*models.Mail, error)
	ListMails(ctx context.Context, jobID int64, limit int) ([]*models.Mail, error)
	CountMails(ctx context.Context, jobID int64) (models.MailCounts, error)
	ViewedTimes(ctx context.Context, jobID int64) ([]time.Time, error)

	GetLink(ctx context.Context, id int64) (*models.Link, error)
	UpdateLink(ctx context.Context, l *models.Link) error
	ListLinks(ctx context.Context, jobID int64) ([]*models.Link, error)
	CreateLinkClick(ctx context.Context, c *models.LinkClick) error

	RecentClientExists(ctx context.Context, c *models.EmailClient, since time.Time) (bool, error)
	CreateEmailClient(ctx context.Context, c *models.EmailClient) error
	UserAgentCounts(ctx context.Context, jobID int64) ([]models.UserAgentCount, error)
}

// Queue hands a job over to the workers that send it.
type Queue interface {
	Enqueue(ctx context.Context, jobID int64) error
}

type Service struct {
	store   Store
	links   *links.Rewriter
	engine  *render.Engine
	backend email.Backend
	queue   Queue
	limiter *rate.Limiter
	views   *views.Registry
	logger  *zap.Logger

	baseURL    string
	mailInline int
	recipients map[string]RecipientSource
	groups     map[string]GroupSource
	now        func() time.Time
}

type Option func(*Service)

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithBaseURL(u string) Option {
	return func(s *Service) { s.baseURL = strings.TrimRight(u, "/") }
}

// WithLimiter paces the send loop. Without one mails go out as fast as the transport accepts them.
func WithLimiter(l *rate.Limiter) Option {
	return func(s *Service) { s.limiter = l }
}

func WithQueue(q Queue) Option {
	return func(s *Service) { s.queue = q }
}

func WithViews(r *views.Registry) Option {
	return func(s *Service) { s.views = r }
}

func WithEngine(e *render.Engine) Option {
	return func(s *Service) { s.engine = e }
}

// WithMailInlineCount limits job details to listing mails when a job has at most n of them.
func WithMailInlineCount(n int) Option {
	return func(s *Service) { s.mailInline = n }
}

func WithRecipientSource(personType string, src RecipientSource) Option {
	return func(s *Service) { s.recipients[personType] = src }
}

func WithGroupSource(groupType string, src GroupSource) Option {
	return func(s *Service) { s.groups[groupType] = src }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(store Store, backend email.Backend, opts ...Option) *Service {
	s := &Service{
		store:      store,
		links:      links.NewRewriter(store),
		engine:     render.New(),
		backend:    backend,
		views:      views.Default(),
		logger:     zap.NewNop(),
		mailInline: 100,
		recipients: make(map[string]RecipientSource),
		groups:     make(map[string]GroupSource),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
