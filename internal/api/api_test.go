package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"Mailroom/internal/db/memstore"
	"Mailroom/internal/delivery"
	"Mailroom/internal/email"
	"Mailroom/internal/models"
	"Mailroom/internal/subscriber"
)

const token = "secret"

type testAPI struct {
	t       *testing.T
	router  http.Handler
	store   *memstore.Store
	backend *email.MemoryBackend
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	store := memstore.New()
	backend := &email.MemoryBackend{}
	subs := subscriber.New(store, "http://mail.test", nil)
	svc := delivery.New(store, backend,
		delivery.WithBaseURL("http://mail.test"),
		delivery.WithRecipientSource(subscriber.PersonType, subs),
		delivery.WithGroupSource(subscriber.GroupType, subs),
	)
	h := &Handler{Deliveries: svc, Subscribers: subs, Token: token, Log: zap.NewNop()}
	return &testAPI{t: t, router: h.Routes([]string{"https://admin.example.com"}), store: store, backend: backend}
}

func (a *testAPI) do(method, path, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) json(method, path string, in any, out any) int {
	a.t.Helper()
	var buf bytes.Buffer
	if in != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(in))
	}
	rec := a.do(method, path, "application/json", buf.String())
	if out != nil && rec.Code < 300 {
		require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec.Code
}

func (a *testAPI) newsletter() *models.Newsletter {
	a.t.Helper()
	var n models.Newsletter
	code := a.json(http.MethodPost, "/newsletters", map[string]any{
		"name":         "Spring",
		"subject":      "Spring news",
		"sender_name":  "News Desk",
		"sender_email": "news@example.com",
		"body":         `<p>Hi {{ person.first_name }}</p><a href="https://example.com/">Visit</a>`,
	}, &n)
	require.Equal(a.t, http.StatusCreated, code)
	return &n
}

func (a *testAPI) job(newsletterID int64) *models.Job {
	a.t.Helper()
	var j models.Job
	code := a.json(http.MethodPost, "/jobs", map[string]any{
		"newsletter_id": newsletterID,
		"utm_campaign":  "spring",
	}, &j)
	require.Equal(a.t, http.StatusCreated, code)
	return &j
}

func path(format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}

func TestRequiresToken(t *testing.T) {
	a := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/jobs", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/jobs", "", "").Code)
}

func TestEmptyTokenDisablesAuth(t *testing.T) {
	h := &Handler{Token: "", Log: zap.NewNop()}
	req := httptest.NewRequest(http.MethodGet, "/jobs/abc", nil)
	rec := httptest.NewRecorder()
	h.Routes(nil).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateJobValidation(t *testing.T) {
	a := newTestAPI(t)
	n := a.newsletter()

	code := a.json(http.MethodPost, "/jobs", map[string]any{"newsletter_id": n.ID, "public_slug": "not a slug"}, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code = a.json(http.MethodPost, "/jobs", map[string]any{"newsletter_id": 999}, nil)
	assert.Equal(t, http.StatusConflict, code)

	code = a.json(http.MethodPost, "/jobs", map[string]any{"unknown": true}, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code = a.json(http.MethodPost, "/newsletters", map[string]any{"body": "{% if true %}unclosed"}, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestJobLifecycle(t *testing.T) {
	a := newTestAPI(t)
	n := a.newsletter()
	j := a.job(n.ID)
	assert.Equal(t, models.JobDraft, j.Status)

	csv := "email,first_name\nada@example.com,Ada\nbroken,Bob\nalan@example.com,Alan\n"
	rec := a.do(http.MethodPost, path("/jobs/%d/mails?group=spring", j.ID), "text/csv; charset=utf-8", csv)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var imported addMailsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &imported))
	assert.Equal(t, 2, imported.Created)
	assert.Equal(t, []string{"broken"}, imported.Skipped)

	var detail delivery.JobDetail
	require.Equal(t, http.StatusOK, a.json(http.MethodGet, path("/jobs/%d", j.ID), nil, &detail))
	assert.Equal(t, 2, detail.Stats.Total)
	assert.True(t, detail.CanSend)
	assert.Len(t, detail.Mails, 2)

	var status sendStatus
	require.Equal(t, http.StatusOK, a.json(http.MethodGet, path("/jobs/%d/send", j.ID), nil, &status))
	assert.True(t, status.CanSend)

	assert.Equal(t, http.StatusAccepted, a.json(http.MethodPost, path("/jobs/%d/send", j.ID), nil, nil))
	assert.Equal(t, http.StatusConflict, a.json(http.MethodPost, path("/jobs/%d/send", j.ID), nil, nil))

	stored, err := a.store.GetJob(t.Context(), j.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobSending, stored.Status)

	other := a.newsletter()
	code := a.json(http.MethodPatch, path("/jobs/%d", j.ID), map[string]any{"newsletter_id": other.ID}, nil)
	assert.Equal(t, http.StatusConflict, code)

	var summaries []delivery.Summary
	require.Equal(t, http.StatusOK, a.json(http.MethodGet, "/statistics", nil, &summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, j.ID, summaries[0].Job.ID)

	var st jobStats
	require.Equal(t, http.StatusOK, a.json(http.MethodGet, path("/statistics/%d", j.ID), nil, &st))
	assert.Equal(t, 2, st.Stats.Total)
	assert.Empty(t, st.Opened)

	var mails []*models.Mail
	require.Equal(t, http.StatusOK, a.json(http.MethodGet, path("/statistics/%d/email-list", j.ID), nil, &mails))
	assert.Len(t, mails, 2)
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, path("/statistics/%d/user-agents", j.ID), "", "").Code)

	assert.Equal(t, http.StatusNoContent, a.do(http.MethodDelete, path("/jobs/%d", j.ID), "", "").Code)
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, path("/jobs/%d", j.ID), "", "").Code)
}

func TestUpdateJob(t *testing.T) {
	a := newTestAPI(t)
	j := a.job(a.newsletter().ID)

	var updated models.Job
	code := a.json(http.MethodPatch, path("/jobs/%d", j.ID), map[string]any{"public_slug": "spring-2024"}, &updated)
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, updated.PublicSlug)
	assert.Equal(t, "spring-2024", *updated.PublicSlug)

	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPatch, "/jobs/abc", "application/json", "{}").Code)
}

func TestAddMailsFromGroup(t *testing.T) {
	a := newTestAPI(t)

	var sub models.Subscriber
	require.Equal(t, http.StatusCreated, a.json(http.MethodPost, "/subscribers", map[string]any{
		"email": "ada@example.com", "groups": []string{"news"},
	}, &sub))
	require.Equal(t, http.StatusCreated, a.json(http.MethodPost, "/subscribers", map[string]any{
		"email": "alan@example.com", "groups": []string{"news"},
	}, nil))
	assert.Equal(t, http.StatusBadRequest, a.json(http.MethodPost, "/subscribers", map[string]any{"email": "nope"}, nil))

	var got models.Subscriber
	require.Equal(t, http.StatusOK, a.json(http.MethodGet, path("/subscribers/%d", sub.ID), nil, &got))
	assert.Equal(t, "ada@example.com", got.Email)

	group, err := a.store.GetOrCreateGroup(t.Context(), "news")
	require.NoError(t, err)

	var j models.Job
	require.Equal(t, http.StatusCreated, a.json(http.MethodPost, "/jobs", map[string]any{
		"newsletter_id": a.newsletter().ID,
		"group_type":    subscriber.GroupType,
		"group_id":      group.ID,
	}, &j))

	var res addMailsResponse
	require.Equal(t, http.StatusCreated, a.json(http.MethodPost, path("/jobs/%d/mails", j.ID), map[string]any{"from_group": true}, &res))
	assert.Equal(t, 2, res.Created)

	require.Equal(t, http.StatusCreated, a.json(http.MethodPost, path("/jobs/%d/mails", j.ID), map[string]any{"subscriber_ids": []int64{sub.ID}}, &res))
	assert.Equal(t, 1, res.Created)

	assert.Equal(t, http.StatusNotFound, a.json(http.MethodPost, path("/jobs/%d/mails", j.ID), map[string]any{"subscriber_ids": []int64{9999}}, nil))
}

func TestNewsletterUpdate(t *testing.T) {
	a := newTestAPI(t)
	n := a.newsletter()

	var updated models.Newsletter
	code := a.json(http.MethodPut, path("/newsletters/%d", n.ID), map[string]any{
		"subject":      "Summer news",
		"sender_email": "news@example.com",
		"body":         "<p>Summer</p>",
	}, &updated)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Summer news", updated.Subject)
	assert.True(t, updated.Active)

	snap := &models.Newsletter{Subject: "x", SenderEmail: "a@example.com", Body: "x"}
	require.NoError(t, a.store.CreateNewsletter(t.Context(), snap))
	code = a.json(http.MethodPut, path("/newsletters/%d", snap.ID), map[string]any{"subject": "y"}, nil)
	assert.Equal(t, http.StatusConflict, code)
}

func TestLinksAndBounce(t *testing.T) {
	a := newTestAPI(t)
	j := a.job(a.newsletter().ID)

	var links []*models.Link
	require.Equal(t, http.StatusOK, a.json(http.MethodGet, path("/jobs/%d/links", j.ID), nil, &links))
	assert.Empty(t, links)

	assert.Equal(t, http.StatusNotFound, a.json(http.MethodPatch, "/links/999", map[string]any{"link_target": "https://example.com"}, nil))
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodPost, "/mails/unknown/bounce", "", "").Code)
}
