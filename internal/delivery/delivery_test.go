package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Mailroom/internal/db/memstore"
	"Mailroom/internal/email"
	"Mailroom/internal/links"
	"Mailroom/internal/models"
)

const baseURL = "http://mail.test"

type person struct {
	id           int64
	email        string
	unsubscribed bool
	bounced      bool
	landed       int
}

func (p *person) Email() string { return p.email }

func (p *person) Context() map[string]any {
	return map[string]any{"email": p.email, "first_name": fmt.Sprintf("Reader %d", p.id)}
}

func (p *person) UnsubscribeURL(_ *models.Job, m *models.Mail) string {
	return baseURL + "/unsubscribe/" + m.MailHash + "/"
}

func (p *person) Unsubscribe(context.Context) error {
	p.unsubscribed = true
	return nil
}

func (p *person) OnBounce(context.Context, *models.Mail) error {
	p.bounced = true
	return nil
}

func (p *person) OnLanding(context.Context, Visit) error {
	p.landed++
	return nil
}

type people map[int64]*person

func (pp people) Recipient(_ context.Context, id int64) (Recipient, error) {
	p, ok := pp[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return p, nil
}

const body = `<html><body>
<p>Hello {{ person.first_name }}</p>
<a href="https://example.com/article?id=1&amp;x=2">Read</a>
<a href="mailto:desk@example.com">Write us</a>
<a href="{% link_url unsubscribe %}">Unsubscribe</a>
</body></html>`

type fixture struct {
	ctx     context.Context
	svc     *Service
	store   *memstore.Store
	backend *email.MemoryBackend
	people  people
	job     *models.Job
	nl      *models.Newsletter
}

func newFixture(t *testing.T, recipients int, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		ctx:     context.Background(),
		store:   memstore.New(),
		backend: &email.MemoryBackend{},
		people:  people{},
	}

	opts = append([]Option{
		WithBaseURL(baseURL + "/"),
		WithRecipientSource("subscriber", f.people),
	}, opts...)
	f.svc = New(f.store, f.backend, opts...)

	f.nl = &models.Newsletter{
		Name:        "Spring",
		Type:        models.NewsletterMassMail,
		Active:      true,
		Subject:     "Spring news",
		SenderName:  "News Desk",
		SenderEmail: "news@example.com",
		ReplyEmail:  "reply@example.com",
		Body:        body,
		HeaderURL:   "https://example.com/",
	}
	require.NoError(t, f.svc.CreateNewsletter(f.ctx, f.nl))

	f.job = &models.Job{NewsletterID: &f.nl.ID, UTMCampaign: "spring"}
	require.NoError(t, f.svc.CreateJob(f.ctx, f.job))

	var refs []Ref
	for i := 1; i <= recipients; i++ {
		id := int64(i)
		f.people[id] = &person{id: id, email: fmt.Sprintf("reader%d@example.com", i)}
		refs = append(refs, Ref{Type: "subscriber", ID: id})
	}
	n, err := f.svc.CreateMails(f.ctx, f.job.ID, refs)
	require.NoError(t, err)
	require.Equal(t, recipients, n)
	return f
}

func (f *fixture) reload(t *testing.T) *models.Job {
	t.Helper()
	j, err := f.store.GetJob(f.ctx, f.job.ID)
	require.NoError(t, err)
	return j
}

func (f *fixture) mails(t *testing.T) []*models.Mail {
	t.Helper()
	mails, err := f.store.ListMails(f.ctx, f.job.ID, 0)
	require.NoError(t, err)
	return mails
}

func (f *fixture) send(t *testing.T) {
	t.Helper()
	require.NoError(t, f.svc.StartSending(f.ctx, f.job.ID))
	require.NoError(t, f.svc.SendQueued(f.ctx, f.job.ID))
}

func TestSendDeliversEveryMail(t *testing.T) {
	f := newFixture(t, 3)
	f.send(t)

	job := f.reload(t)
	assert.Equal(t, models.JobFinished, job.Status)
	require.NotNil(t, job.DeliverStart)
	require.NotNil(t, job.DeliverFinished)

	for _, m := range f.mails(t) {
		assert.True(t, m.Sent)
		assert.NotEmpty(t, m.Email)
	}

	out := f.backend.Outbox()
	require.Len(t, out, 3)
	opened, closed := f.backend.Sessions()
	assert.Equal(t, 1, opened)
	assert.Equal(t, 1, closed)

	msg := out[0]
	assert.Equal(t, "Spring news", msg.Subject)
	assert.Equal(t, "News Desk", msg.FromName)
	assert.Equal(t, "reply@example.com", msg.Headers["Reply-To"])
	assert.Equal(t, "bulk", msg.Headers["Precedence"])
	assert.True(t, strings.HasPrefix(msg.Headers["List-Unsubscribe"], "<"+baseURL+"/unsubscribe/"))
	assert.Contains(t, msg.HTML, "Hello Reader")
	assert.Contains(t, msg.HTML, `href="mailto:desk@example.com"`)
	assert.NotContains(t, msg.HTML, "https://example.com/article")
	assert.Contains(t, msg.HTML, "/ping/")
}

func TestSendUsesInactiveSnapshot(t *testing.T) {
	f := newFixture(t, 1)
	f.send(t)

	job := f.reload(t)
	require.NotNil(t, job.NewsletterID)
	assert.NotEqual(t, f.nl.ID, *job.NewsletterID)

	snap, err := f.store.GetNewsletter(f.ctx, *job.NewsletterID)
	require.NoError(t, err)
	assert.False(t, snap.Active)
	assert.Contains(t, snap.Body, links.BaseURLVar+"/link/"+links.MailHashVar+"/")
	assert.True(t, links.IsRedirectURL(snap.HeaderURLReplaced))

	orig, err := f.store.GetNewsletter(f.ctx, f.nl.ID)
	require.NoError(t, err)
	assert.Equal(t, body, orig.Body)
}

func TestSendFailureMarksJobFailed(t *testing.T) {
	f := newFixture(t, 3)
	f.backend.FailAt = 2

	require.NoError(t, f.svc.StartSending(f.ctx, f.job.ID))
	err := f.svc.SendQueued(f.ctx, f.job.ID)
	require.Error(t, err)

	assert.Equal(t, models.JobFailed, f.reload(t).Status)

	sent := 0
	for _, m := range f.mails(t) {
		if m.Sent {
			sent++
		}
	}
	assert.Equal(t, 1, sent)

	opened, closed := f.backend.Sessions()
	assert.Equal(t, opened, closed)
}

func TestSendResumesUnsentMails(t *testing.T) {
	f := newFixture(t, 3)
	f.backend.FailAt = 2
	require.NoError(t, f.svc.StartSending(f.ctx, f.job.ID))
	require.Error(t, f.svc.SendQueued(f.ctx, f.job.ID))
	snapID := *f.reload(t).NewsletterID

	f.backend.FailAt = 0
	require.NoError(t, f.svc.Send(f.ctx, f.job.ID))

	job := f.reload(t)
	assert.Equal(t, models.JobFinished, job.Status)
	assert.Len(t, f.backend.Outbox(), 3)

	// The retry reuses the first snapshot instead of copying it again.
	assert.Equal(t, snapID, *job.NewsletterID)
	_, err := f.store.GetNewsletter(f.ctx, snapID+1)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSendWithoutNewsletter(t *testing.T) {
	f := newFixture(t, 1)
	job := &models.Job{}
	require.NoError(t, f.svc.CreateJob(f.ctx, job))

	err := f.svc.Send(f.ctx, job.ID)
	assert.ErrorIs(t, err, ErrNoNewsletter)

	j, err := f.store.GetJob(f.ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobDraft, j.Status)
}

func TestStartSendingRequiresDraft(t *testing.T) {
	f := newFixture(t, 1)
	f.send(t)

	assert.ErrorIs(t, f.svc.StartSending(f.ctx, f.job.ID), ErrCannotSend)
	assert.ErrorIs(t, f.svc.SendQueued(f.ctx, f.job.ID), ErrNotQueued)
}

func TestStartSendingRejectsInvalidNewsletter(t *testing.T) {
	f := newFixture(t, 1)
	f.nl.Subject = ""
	require.NoError(t, f.svc.UpdateNewsletter(f.ctx, f.nl))

	assert.ErrorIs(t, f.svc.StartSending(f.ctx, f.job.ID), ErrCannotSend)
}

type recordingQueue struct{ ids []int64 }

func (q *recordingQueue) Enqueue(_ context.Context, id int64) error {
	q.ids = append(q.ids, id)
	return nil
}

func TestStartSendingEnqueues(t *testing.T) {
	q := &recordingQueue{}
	f := newFixture(t, 1, WithQueue(q))

	require.NoError(t, f.svc.StartSending(f.ctx, f.job.ID))
	assert.Equal(t, []int64{f.job.ID}, q.ids)
	assert.Equal(t, models.JobSending, f.reload(t).Status)
}

type failingQueue struct{}

func (failingQueue) Enqueue(context.Context, int64) error {
	return errors.New("redis down")
}

func TestStartSendingRevertsWhenEnqueueFails(t *testing.T) {
	f := newFixture(t, 1, WithQueue(failingQueue{}))

	err := f.svc.StartSending(f.ctx, f.job.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis down")

	job := f.reload(t)
	assert.Equal(t, models.JobDraft, job.Status)
	ok, err := f.svc.CanSend(f.ctx, job)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRequeueSendingJobs(t *testing.T) {
	q := &recordingQueue{}
	f := newFixture(t, 1, WithQueue(q))
	require.NoError(t, f.svc.StartSending(f.ctx, f.job.ID))

	draft := &models.Job{NewsletterID: &f.nl.ID}
	require.NoError(t, f.svc.CreateJob(f.ctx, draft))

	n, err := f.svc.Requeue(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{f.job.ID, f.job.ID}, q.ids)
}

func TestRedirectLinkRecordsClick(t *testing.T) {
	f := newFixture(t, 2)
	f.send(t)

	ls, err := f.svc.Links(f.ctx, f.job.ID)
	require.NoError(t, err)
	var article *models.Link
	for _, l := range ls {
		if strings.Contains(l.LinkTarget, "article") {
			article = l
		}
	}
	require.NotNil(t, article)
	assert.Equal(t, "https://example.com/article?id=1&x=2", article.LinkTarget)

	m := f.mails(t)[0]
	target, err := f.svc.RedirectLink(f.ctx, m.MailHash, article.LinkHash, Visit{UserAgent: "Mail/1.0", IPAddress: "10.0.0.1"})
	require.NoError(t, err)
	assert.Contains(t, target, "https://example.com/article?")
	assert.Contains(t, target, "utm_campaign=spring")
	assert.Contains(t, target, "utm_source=newsletter")

	assert.Len(t, f.store.LinkClicks(), 1)
	stats, err := f.svc.Stats(f.ctx, f.job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Clicked)
	assert.Equal(t, 1, stats.Viewed)
	assert.Equal(t, 50.0, stats.PercentClicked)
	assert.Equal(t, 1, f.people[m.PersonID].landed)
}

func TestRedirectLinkFromPublicView(t *testing.T) {
	f := newFixture(t, 1)
	f.send(t)

	ls, err := f.svc.Links(f.ctx, f.job.ID)
	require.NoError(t, err)
	require.NotEmpty(t, ls)

	_, err = f.svc.RedirectLink(f.ctx, PublicMailHash, ls[0].LinkHash, Visit{})
	require.NoError(t, err)
	assert.Empty(t, f.store.LinkClicks())
}

func TestRedirectUnknownLink(t *testing.T) {
	f := newFixture(t, 1)
	_, err := f.svc.RedirectLink(f.ctx, "nope", "missing", Visit{})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestViewLinksGoThroughProxy(t *testing.T) {
	f := newFixture(t, 1)
	f.send(t)

	unsub, err := f.store.GetLinkByIdentifier(f.ctx, f.job.ID, "unsubscribe")
	require.NoError(t, err)

	m := f.mails(t)[0]
	assert.Contains(t, f.backend.Outbox()[0].HTML, baseURL+links.RedirectPath(m.MailHash, unsub.LinkHash))

	target, err := f.svc.RedirectLink(f.ctx, m.MailHash, unsub.LinkHash, Visit{})
	require.NoError(t, err)
	assert.Equal(t, baseURL+links.ProxyPath(m.MailHash, unsub.LinkHash), target)

	target, err = f.svc.Proxy(f.ctx, m.MailHash, unsub.LinkHash, Visit{})
	require.NoError(t, err)
	assert.Equal(t, baseURL+"/unsubscribe/"+m.MailHash+"/", target)
	assert.Len(t, f.store.LinkClicks(), 1)
}

func TestMarkViewedDedupesClients(t *testing.T) {
	f := newFixture(t, 1)
	m := f.mails(t)[0]
	v := Visit{UserAgent: "Mail/1.0", IPAddress: "10.0.0.1"}

	require.NoError(t, f.svc.Ping(f.ctx, m.MailHash, v))
	m = f.mails(t)[0]
	require.NotNil(t, m.Viewed)
	first := *m.Viewed

	require.NoError(t, f.svc.Ping(f.ctx, m.MailHash, v))
	require.NoError(t, f.svc.Ping(f.ctx, m.MailHash, Visit{UserAgent: "Other/2.0"}))

	assert.Len(t, f.store.EmailClients(m.ID), 2)
	assert.Equal(t, first, *f.mails(t)[0].Viewed)

	agents, err := f.svc.UserAgents(f.ctx, f.job.ID)
	require.NoError(t, err)
	assert.Len(t, agents, 2)
}

func TestPingUnknownMailIsIgnored(t *testing.T) {
	f := newFixture(t, 1)
	assert.NoError(t, f.svc.Ping(f.ctx, "unknown", Visit{}))
}

func TestViewMailRendersWebview(t *testing.T) {
	f := newFixture(t, 1)
	f.send(t)
	m := f.mails(t)[0]

	html, err := f.svc.ViewMail(f.ctx, m.MailHash, Visit{})
	require.NoError(t, err)
	assert.Contains(t, html, "Hello Reader 1")
	assert.Equal(t, models.ContactWebview, f.store.EmailClients(m.ID)[0].ContactType)
}

func TestViewPublic(t *testing.T) {
	f := newFixture(t, 1)
	slug := "spring-2024"
	_, err := f.svc.UpdateJob(f.ctx, f.job.ID, JobUpdate{PublicSlug: &slug})
	require.NoError(t, err)

	_, err = f.svc.ViewPublic(f.ctx, slug)
	assert.ErrorIs(t, err, ErrNotPublic)

	f.send(t)
	html, err := f.svc.ViewPublic(f.ctx, slug)
	require.NoError(t, err)
	assert.Contains(t, html, "/link/"+PublicMailHash+"/")
	assert.Contains(t, html, `href="#"`)
	assert.Equal(t, baseURL+"/view/spring-2024/", f.svc.PublicURL(f.reload(t)))
}

func TestBounceAndUnsubscribe(t *testing.T) {
	f := newFixture(t, 1)
	m := f.mails(t)[0]
	p := f.people[m.PersonID]

	require.NoError(t, f.svc.Bounce(f.ctx, m.MailHash))
	assert.True(t, p.bounced)
	assert.True(t, f.mails(t)[0].Bounced)

	require.NoError(t, f.svc.Unsubscribe(f.ctx, m.MailHash))
	assert.True(t, p.unsubscribed)

	assert.ErrorIs(t, f.svc.Unsubscribe(f.ctx, "unknown"), models.ErrNotFound)
}

func TestUpdateJobNewsletterOnlyWhileEditable(t *testing.T) {
	f := newFixture(t, 1)
	other := &models.Newsletter{Subject: "Other", SenderEmail: "a@example.com", Body: "<p>x</p>", Active: true}
	require.NoError(t, f.svc.CreateNewsletter(f.ctx, other))

	j, err := f.svc.UpdateJob(f.ctx, f.job.ID, JobUpdate{NewsletterID: &other.ID})
	require.NoError(t, err)
	assert.Equal(t, other.ID, *j.NewsletterID)

	f.send(t)
	_, err = f.svc.UpdateJob(f.ctx, f.job.ID, JobUpdate{NewsletterID: &f.nl.ID})
	assert.ErrorIs(t, err, ErrNotEditable)

	bad := "not a slug"
	_, err = f.svc.UpdateJob(f.ctx, f.job.ID, JobUpdate{PublicSlug: &bad})
	assert.ErrorIs(t, err, ErrInvalidSlug)
}

func TestDeleteJobKeepsActiveNewsletter(t *testing.T) {
	f := newFixture(t, 1)
	require.NoError(t, f.svc.Delete(f.ctx, f.job.ID))

	_, err := f.store.GetNewsletter(f.ctx, f.nl.ID)
	assert.NoError(t, err)
	_, err = f.store.GetJob(f.ctx, f.job.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestDeleteSentJobRemovesSnapshot(t *testing.T) {
	f := newFixture(t, 1)
	f.send(t)
	snapID := *f.reload(t).NewsletterID

	require.NoError(t, f.svc.Delete(f.ctx, f.job.ID))
	_, err := f.store.GetNewsletter(f.ctx, snapID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestOpenedSeries(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	f := newFixture(t, 2, WithClock(func() time.Time { return now }))

	start := now.Add(-2 * time.Hour)
	job := f.reload(t)
	job.Status = models.JobFinished
	job.DeliverStart = &start
	require.NoError(t, f.store.UpdateJob(f.ctx, job))

	viewed := now.Add(-100 * time.Minute)
	m := f.mails(t)[0]
	m.Viewed = &viewed
	require.NoError(t, f.store.UpdateMail(f.ctx, m))

	points, err := f.svc.OpenedSeries(f.ctx, f.job.ID)
	require.NoError(t, err)
	require.Len(t, points, 4)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), points[0].Time)
	assert.Equal(t, 0, points[0].Count)
	assert.Equal(t, 1, points[1].Count)
	assert.Equal(t, 1, points[3].Count)
}

func TestDetailHidesMailsAboveInlineCount(t *testing.T) {
	f := newFixture(t, 3, WithMailInlineCount(2))

	d, err := f.svc.Detail(f.ctx, f.job.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, d.Stats.Total)
	assert.True(t, d.CanSend)
	assert.Empty(t, d.Mails)

	f2 := newFixture(t, 2, WithMailInlineCount(2))
	d, err = f2.svc.Detail(f2.ctx, f2.job.ID)
	require.NoError(t, err)
	assert.Len(t, d.Mails, 2)
}

func TestUpdateLinkTarget(t *testing.T) {
	f := newFixture(t, 1)
	f.send(t)

	ls, err := f.svc.Links(f.ctx, f.job.ID)
	require.NoError(t, err)
	require.NotEmpty(t, ls)

	l, err := f.svc.UpdateLinkTarget(f.ctx, ls[0].ID, "https://example.net/")
	require.NoError(t, err)
	assert.Equal(t, "https://example.net/", l.LinkTarget)

	_, err = f.svc.UpdateLinkTarget(f.ctx, ls[0].ID, "https://example.net/"+strings.Repeat("x", 500))
	assert.ErrorIs(t, err, links.ErrTargetTooLong)

	unsub, err := f.store.GetLinkByIdentifier(f.ctx, f.job.ID, "unsubscribe")
	require.NoError(t, err)
	_, err = f.svc.UpdateLinkTarget(f.ctx, unsub.ID, "https://example.net/")
	assert.ErrorIs(t, err, ErrNotEditable)
}

func TestWithUTM(t *testing.T) {
	tests := []struct {
		name, target, campaign, want string
	}{
		{name: "no campaign", target: "https://example.com/", want: "https://example.com/"},
		{name: "adds params", target: "https://example.com/?a=1", campaign: "c",
			want: "https://example.com/?a=1&utm_campaign=c&utm_medium=mail&utm_source=newsletter"},
		{name: "keeps existing utm", target: "https://example.com/?utm_source=x", campaign: "c",
			want: "https://example.com/?utm_source=x"},
		{name: "ignores other schemes", target: "mailto:a@example.com", campaign: "c",
			want: "mailto:a@example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, withUTM(tt.target, tt.campaign))
		})
	}
}

func TestInjectPixel(t *testing.T) {
	out := injectPixel("<html><BODY>x</BODY></html>")
	assert.True(t, strings.HasSuffix(out, "</BODY></html>"))
	assert.Contains(t, out, "/ping/"+links.MailHashVar+"/"+PixelName)

	assert.Equal(t, `<img src="/ping/a/b.png">`, injectPixel(`<img src="/ping/a/b.png">`))
}
