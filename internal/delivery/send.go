package delivery

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"Mailroom/internal/email"
	"Mailroom/internal/links"
	"Mailroom/internal/metrics"
	"Mailroom/internal/models"
	"Mailroom/internal/render"
)

// PixelName is the file name of the open-tracking image added to mails
// that do not reference the ping route themselves.
const PixelName = "pixel.gif"

// PublicMailHash stands in for the mail hash when a newsletter is rendered without a mail.
const PublicMailHash = "public"

// Send delivers every unsent mail of the job. The newsletter is frozen into an
// inactive snapshot with tracked links first. Any error after that marks the
// job failed; mails sent until then stay sent.
//
// Send is not cancelled by ctx.
func (s *Service) Send(ctx context.Context, jobID int64) error {
	ctx = context.WithoutCancel(ctx)

	j, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %d: %w", jobID, err)
	}
	n, err := s.newsletter(ctx, j)
	if err != nil {
		return err
	}

	log := s.logger.With(zap.Int64("job_id", j.ID))

	if err := s.send(ctx, log, j, n); err != nil {
		j.Status = models.JobFailed
		if dbErr := s.store.UpdateJob(ctx, j); dbErr != nil {
			log.Error("failed to update failure status", zap.Error(dbErr))
		}
		metrics.JobsFailed.Inc()
		log.Error("job send failed", zap.Error(err))
		return err
	}

	metrics.JobsFinished.Inc()
	log.Info("job sent",
		zap.Timep("started", j.DeliverStart),
		zap.Timep("finished", j.DeliverFinished),
	)
	return nil
}

func (s *Service) send(ctx context.Context, log *zap.Logger, j *models.Job, n *models.Newsletter) error {
	snap, err := s.snapshot(ctx, j, n)
	if err != nil {
		return err
	}

	tpl, err := s.engine.Parse(snap.Body)
	if err != nil {
		return fmt.Errorf("prepare newsletter: %w", err)
	}

	start := s.now()
	j.Status = models.JobInProgress
	j.DeliverStart = &start
	if err := s.store.UpdateJob(ctx, j); err != nil {
		return fmt.Errorf("update job status: %w", err)
	}

	group, err := s.group(ctx, j)
	if err != nil {
		return fmt.Errorf("load group: %w", err)
	}

	mails, err := s.store.UnsentMails(ctx, j.ID)
	if err != nil {
		return fmt.Errorf("load unsent mails: %w", err)
	}

	conn := s.backend.Connection()
	if err := conn.Open(ctx); err != nil {
		return fmt.Errorf("open mail connection: %w", err)
	}

	for _, m := range mails {
		if err := s.sendMail(ctx, conn, j, snap, tpl, group, m); err != nil {
			if cerr := conn.Close(); cerr != nil {
				log.Warn("failed to close mail connection", zap.Error(cerr))
			}
			return err
		}
	}

	if err := conn.Close(); err != nil {
		return fmt.Errorf("close mail connection: %w", err)
	}

	finished := s.now()
	j.Status = models.JobFinished
	j.DeliverFinished = &finished
	if err := s.store.UpdateJob(ctx, j); err != nil {
		return fmt.Errorf("update job status: %w", err)
	}

	log.Info("mails delivered", zap.Int("count", len(mails)))
	return nil
}

func (s *Service) sendMail(
	ctx context.Context,
	conn email.Connection,
	j *models.Job,
	n *models.Newsletter,
	tpl *render.Template,
	group Group,
	m *models.Mail,
) error {

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}

	msg, err := s.message(ctx, j, n, tpl, group, m)
	if err != nil {
		return fmt.Errorf("build mail %d: %w", m.ID, err)
	}

	if _, err := conn.SendMessages(ctx, []*email.Message{msg}); err != nil {
		return fmt.Errorf("send mail %d: %w", m.ID, err)
	}

	m.Email = msg.To[0]
	m.Sent = true
	if err := s.store.UpdateMail(ctx, m); err != nil {
		return fmt.Errorf("mark mail %d sent: %w", m.ID, err)
	}

	metrics.MailsSent.Inc()
	return nil
}

// snapshot stores an inactive copy of n with tracked links and points the job at it.
func (s *Service) snapshot(ctx context.Context, j *models.Job, n *models.Newsletter) (*models.Newsletter, error) {
	// An inactive newsletter is the snapshot of an earlier attempt.
	if !n.Active {
		return n, nil
	}
	snap := n.Snapshot()

	body, err := s.links.ReplaceLinks(ctx, j.ID, snap.Body)
	if err != nil {
		return nil, fmt.Errorf("replace links: %w", err)
	}
	snap.Body = injectPixel(body)

	if snap.HeaderURL != "" && !s.links.IsLink(ctx, snap.HeaderURL, snap.HeaderURLReplaced) {
		l, err := s.links.AddLink(ctx, j.ID, snap.HeaderURL, "")
		if err != nil {
			return nil, fmt.Errorf("replace header url: %w", err)
		}
		snap.HeaderURLReplaced = links.Placeholder(l)
	}

	if err := s.store.CreateNewsletter(ctx, snap); err != nil {
		return nil, fmt.Errorf("store newsletter snapshot: %w", err)
	}

	j.NewsletterID = &snap.ID
	return snap, nil
}

func injectPixel(body string) string {
	if strings.Contains(body, "/ping/") {
		return body
	}
	img := `<img src="` + links.BaseURLVar + `/ping/` + links.MailHashVar + `/` + PixelName +
		`" width="1" height="1" alt="" border="0" />`

	i := strings.LastIndex(strings.ToLower(body), "</body>")
	if i < 0 {
		return body + img
	}
	return body[:i] + img + body[i:]
}

func (s *Service) message(
	ctx context.Context,
	j *models.Job,
	n *models.Newsletter,
	tpl *render.Template,
	group Group,
	m *models.Mail,
) (*email.Message, error) {

	person, err := s.recipient(ctx, m)
	if err != nil {
		return nil, err
	}

	html, err := tpl.Render(s.bindings(j, n, m, person, group, false), s.linkResolver(ctx, j, m))
	if err != nil {
		return nil, err
	}

	headers := make(map[string]string)
	if n.ReplyEmail != "" {
		headers["Reply-To"] = n.ReplyEmail
	}
	if n.IsMassMail() {
		headers["Precedence"] = "bulk"
	}
	if u, ok := person.(UnsubscribeLinker); ok {
		if url := u.UnsubscribeURL(j, m); url != "" {
			headers["List-Unsubscribe"] = "<" + url + ">"
		}
	}

	return &email.Message{
		FromName:  n.SenderName,
		FromEmail: n.SenderEmail,
		To:        []string{person.Email()},
		Subject:   n.Subject,
		HTML:      html,
		Headers:   headers,
	}, nil
}

// bindings builds the template context of one mail. m, person and group may be nil.
func (s *Service) bindings(j *models.Job, n *models.Newsletter, m *models.Mail, person Recipient, group Group, webview bool) map[string]any {
	hash := PublicMailHash
	mail := map[string]any{"mail_hash": hash}
	if m != nil {
		hash = m.MailHash
		mail = map[string]any{
			"id":        m.ID,
			"mail_hash": m.MailHash,
			"email":     m.Email,
		}
	}

	b := map[string]any{
		"base_url":   s.baseURL,
		"mail":       mail,
		"public_url": s.PublicURL(j),
		"webview":    webview,
	}
	if person != nil {
		b["person"] = person.Context()
	}
	if group != nil {
		b["group_object"] = group.Context()
	}
	if n != nil {
		b["newsletter"] = map[string]any{
			"name":         n.Name,
			"subject":      n.Subject,
			"sender_name":  n.SenderName,
			"sender_email": n.SenderEmail,
			"language":     n.Language,
			"header_image": n.HeaderImage,
		}
		b["header_url"] = s.expand(n.HeaderURLReplaced, hash)
		image := n.HeaderImage
		if image == "" {
			image = PixelName
		}
		b["header_image_url"] = s.baseURL + "/ping/" + hash + "/" + image
	}
	return b
}

// expand resolves the base URL and mail hash variables of a stored URL.
func (s *Service) expand(url, mailHash string) string {
	return strings.NewReplacer(links.BaseURLVar, s.baseURL, links.MailHashVar, mailHash).Replace(url)
}

type mailLinks struct {
	ctx  context.Context
	s    *Service
	job  *models.Job
	mail *models.Mail
}

func (s *Service) linkResolver(ctx context.Context, j *models.Job, m *models.Mail) render.LinkResolver {
	return &mailLinks{ctx: ctx, s: s, job: j, mail: m}
}

func (l *mailLinks) ViewLink(identifier string) (string, error) {
	link, err := l.s.links.AddLink(l.ctx, l.job.ID, "", identifier)
	if err != nil {
		return "", err
	}
	return l.s.baseURL + links.RedirectPath(l.mail.MailHash, link.LinkHash), nil
}

func (l *mailLinks) TrackableLink(target, token string) (string, error) {
	link, err := l.s.links.Trackable(l.ctx, l.job.ID, target, token)
	if err != nil {
		return "", err
	}
	return l.s.baseURL + links.RedirectPath(l.mail.MailHash, link.LinkHash), nil
}
