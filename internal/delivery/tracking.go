package delivery

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"Mailroom/internal/links"
	"Mailroom/internal/metrics"
	"Mailroom/internal/models"
)

var ErrNoUnsubscribe = errors.New("recipient cannot be unsubscribed")

// viewDedupeWindow is how long an identical client visit is not recorded again.
const viewDedupeWindow = time.Hour

// Visit describes the client behind a tracking request.
type Visit struct {
	UserAgent string
	IPAddress string
	Referer   string
}

// RedirectLink records a click and returns the URL the client is sent to.
// Links to registered views are sent through the proxy route. Clicks from
// unknown mails, such as the public view, are not recorded.
func (s *Service) RedirectLink(ctx context.Context, mailHash, linkHash string, v Visit) (string, error) {
	link, err := s.links.Resolve(ctx, linkHash)
	if err != nil {
		return "", err
	}
	if link.Identifier != "" {
		return s.baseURL + links.ProxyPath(mailHash, linkHash), nil
	}

	j, err := s.store.GetJob(ctx, link.JobID)
	if err != nil {
		return "", err
	}
	m, err := s.click(ctx, j, link, mailHash, v)
	if err != nil {
		return "", err
	}

	target := link.LinkTarget
	if strings.Contains(target, "{") {
		rendered, err := s.engine.RenderString(target, s.clickBindings(ctx, j, m))
		if err != nil {
			s.logger.Warn("failed to render link target",
				zap.Int64("link_id", link.ID),
				zap.Error(err),
			)
		} else {
			target = rendered
		}
	}
	return withUTM(target, j.UTMCampaign), nil
}

// Proxy records a click on a view link and returns the view URL.
func (s *Service) Proxy(ctx context.Context, mailHash, linkHash string, v Visit) (string, error) {
	link, err := s.links.Resolve(ctx, linkHash)
	if err != nil {
		return "", err
	}
	if link.Identifier == "" {
		return s.RedirectLink(ctx, mailHash, linkHash, v)
	}

	tpl, ok := s.views.Target(link.Identifier)
	if !ok {
		return "", fmt.Errorf("view %q: %w", link.Identifier, models.ErrNotFound)
	}

	j, err := s.store.GetJob(ctx, link.JobID)
	if err != nil {
		return "", err
	}
	m, err := s.click(ctx, j, link, mailHash, v)
	if err != nil {
		return "", err
	}

	return s.engine.RenderString(tpl, s.clickBindings(ctx, j, m))
}

// click stores the LinkClick and runs the landing hooks. It returns nil when
// the mail is unknown or belongs to another job.
func (s *Service) click(ctx context.Context, j *models.Job, link *models.Link, mailHash string, v Visit) (*models.Mail, error) {
	m, err := s.store.GetMailByHash(ctx, mailHash)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if m.JobID != j.ID {
		return nil, nil
	}

	if err := s.store.CreateLinkClick(ctx, &models.LinkClick{LinkID: link.ID, MailID: m.ID, Date: s.now()}); err != nil {
		return nil, fmt.Errorf("record click: %w", err)
	}
	metrics.LinkClicks.Inc()

	if err := s.MarkViewed(ctx, m, v, models.ContactLink); err != nil {
		return nil, err
	}
	s.landing(ctx, j, m, v)
	return m, nil
}

func (s *Service) landing(ctx context.Context, j *models.Job, m *models.Mail, v Visit) {
	log := s.logger.With(zap.Int64("job_id", j.ID), zap.Int64("mail_id", m.ID))

	if person, err := s.recipient(ctx, m); err != nil {
		log.Warn("failed to load recipient", zap.Error(err))
	} else if h, ok := person.(LandingHandler); ok {
		if err := h.OnLanding(ctx, v); err != nil {
			log.Warn("recipient landing hook failed", zap.Error(err))
		}
	}

	if g, err := s.group(ctx, j); err != nil {
		log.Warn("failed to load group", zap.Error(err))
	} else if h, ok := g.(LandingHandler); ok {
		if err := h.OnLanding(ctx, v); err != nil {
			log.Warn("group landing hook failed", zap.Error(err))
		}
	}
}

// clickBindings is the template context for link targets. Lookup failures
// leave the corresponding keys out.
func (s *Service) clickBindings(ctx context.Context, j *models.Job, m *models.Mail) map[string]any {
	var person Recipient
	if m != nil {
		if p, err := s.recipient(ctx, m); err == nil {
			person = p
		}
	}
	group, _ := s.group(ctx, j)
	n, _ := s.newsletter(ctx, j)
	return s.bindings(j, n, m, person, group, false)
}

// withUTM adds Google Analytics campaign parameters to http(s) targets that carry none.
func withUTM(target, campaign string) string {
	if campaign == "" {
		return target
	}
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return target
	}

	q := u.Query()
	for k := range q {
		if strings.HasPrefix(k, "utm_") {
			return target
		}
	}
	q.Set("utm_source", "newsletter")
	q.Set("utm_medium", "mail")
	q.Set("utm_campaign", campaign)
	u.RawQuery = q.Encode()
	return u.String()
}

// MarkViewed records the client unless the same one visited within the last
// hour and stores the first view time.
func (s *Service) MarkViewed(ctx context.Context, m *models.Mail, v Visit, contact models.ContactType) error {
	now := s.now()
	client := &models.EmailClient{
		MailID:      m.ID,
		UserAgent:   v.UserAgent,
		IPAddress:   v.IPAddress,
		Referer:     v.Referer,
		ContactType: contact,
		Visited:     now,
	}

	seen, err := s.store.RecentClientExists(ctx, client, now.Add(-viewDedupeWindow))
	if err != nil {
		return fmt.Errorf("lookup email client: %w", err)
	}
	if !seen {
		if err := s.store.CreateEmailClient(ctx, client); err != nil {
			return fmt.Errorf("record email client: %w", err)
		}
	}

	if m.Viewed != nil {
		return nil
	}
	m.Viewed = &now
	if err := s.store.UpdateMail(ctx, m); err != nil {
		return fmt.Errorf("mark mail viewed: %w", err)
	}
	metrics.MailViews.WithLabelValues(string(contact)).Inc()
	return nil
}

// ViewMail renders the mail for display in a browser and marks it viewed.
func (s *Service) ViewMail(ctx context.Context, mailHash string, v Visit) (string, error) {
	m, err := s.store.GetMailByHash(ctx, mailHash)
	if err != nil {
		return "", err
	}
	if err := s.MarkViewed(ctx, m, v, models.ContactWebview); err != nil {
		return "", err
	}

	j, err := s.store.GetJob(ctx, m.JobID)
	if err != nil {
		return "", err
	}
	n, err := s.newsletter(ctx, j)
	if err != nil {
		return "", err
	}
	person, err := s.recipient(ctx, m)
	if err != nil {
		return "", err
	}
	group, err := s.group(ctx, j)
	if err != nil {
		return "", err
	}

	tpl, err := s.engine.Parse(n.Body)
	if err != nil {
		return "", err
	}
	return tpl.Render(s.bindings(j, n, m, person, group, true), s.linkResolver(ctx, j, m))
}

// ViewPublic renders the newsletter of the job with the given public slug.
func (s *Service) ViewPublic(ctx context.Context, slug string) (string, error) {
	j, err := s.store.GetJobBySlug(ctx, slug)
	if err != nil {
		return "", err
	}
	ok, err := s.CanViewPublic(ctx, j)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNotPublic
	}

	n, err := s.newsletter(ctx, j)
	if err != nil {
		return "", err
	}
	group, err := s.group(ctx, j)
	if err != nil {
		return "", err
	}

	tpl, err := s.engine.Parse(n.Body)
	if err != nil {
		return "", err
	}
	return tpl.Render(s.bindings(j, n, nil, nil, group, true), nil)
}

// Ping records an open through the tracking image. Unknown mails are ignored.
func (s *Service) Ping(ctx context.Context, mailHash string, v Visit) error {
	m, err := s.store.GetMailByHash(ctx, mailHash)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.MarkViewed(ctx, m, v, models.ContactPing)
}

// Bounce marks the mail bounced and tells its recipient.
func (s *Service) Bounce(ctx context.Context, mailHash string) error {
	m, err := s.store.GetMailByHash(ctx, mailHash)
	if err != nil {
		return err
	}

	m.Bounced = true
	if err := s.store.UpdateMail(ctx, m); err != nil {
		return fmt.Errorf("mark mail bounced: %w", err)
	}

	person, err := s.recipient(ctx, m)
	if err != nil {
		return err
	}
	if h, ok := person.(BounceHandler); ok {
		return h.OnBounce(ctx, m)
	}
	return nil
}

// Unsubscribe runs the unsubscribe hook of the mail's recipient.
func (s *Service) Unsubscribe(ctx context.Context, mailHash string) error {
	m, err := s.store.GetMailByHash(ctx, mailHash)
	if err != nil {
		return err
	}
	person, err := s.recipient(ctx, m)
	if err != nil {
		return err
	}
	u, ok := person.(Unsubscriber)
	if !ok {
		return ErrNoUnsubscribe
	}
	return u.Unsubscribe(ctx)
}
