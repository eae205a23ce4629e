// Package api is the JSON admin interface: jobs, newsletters, subscribers and
// the statistics of sent jobs.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"Mailroom/internal/delivery"
	"Mailroom/internal/links"
	"Mailroom/internal/models"
	"Mailroom/internal/subscriber"
)

// maxBodyBytes bounds JSON and CSV uploads.
const maxBodyBytes = 10 << 20

// Deliveries is the delivery service as the admin API uses it.
type Deliveries interface {
	ListJobs(ctx context.Context, f models.JobFilter) ([]*models.Job, error)
	GetJob(ctx context.Context, id int64) (*models.Job, error)
	CreateJob(ctx context.Context, j *models.Job) error
	UpdateJob(ctx context.Context, id int64, u delivery.JobUpdate) (*models.Job, error)
	Delete(ctx context.Context, id int64) error
	Detail(ctx context.Context, jobID int64) (*delivery.JobDetail, error)
	CanSend(ctx context.Context, j *models.Job) (bool, error)
	StartSending(ctx context.Context, jobID int64) error

	CreateMails(ctx context.Context, jobID int64, refs []delivery.Ref) (int, error)
	CreateGroupMails(ctx context.Context, jobID int64) (int, error)

	Stats(ctx context.Context, jobID int64) (models.JobStats, error)
	OpenedSeries(ctx context.Context, jobID int64) ([]models.OpenedPoint, error)
	EmailList(ctx context.Context, jobID int64) ([]*models.Mail, error)
	UserAgents(ctx context.Context, jobID int64) ([]models.UserAgentCount, error)
	Links(ctx context.Context, jobID int64) ([]*models.Link, error)
	UpdateLinkTarget(ctx context.Context, linkID int64, target string) (*models.Link, error)
	Statistics(ctx context.Context, f models.JobFilter) ([]delivery.Summary, error)

	CreateNewsletter(ctx context.Context, n *models.Newsletter) error
	GetNewsletter(ctx context.Context, id int64) (*models.Newsletter, error)
	UpdateNewsletter(ctx context.Context, n *models.Newsletter) error

	Bounce(ctx context.Context, mailHash string) error
}

type Handler struct {
	Deliveries  Deliveries
	Subscribers *subscriber.Service
	// Token is the bearer token every request must carry. Empty disables the check.
	Token string
	Log   *zap.Logger
}

// ----------------------------
// Auth
// ----------------------------

func (h *Handler) requireToken(next http.Handler) http.Handler {
	if h.Token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(h.Token)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ----------------------------
// Helpers
// ----------------------------

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func idParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func chiParam(r *http.Request, name string) string {
	return strings.TrimSpace(chi.URLParam(r, name))
}

// fail maps service errors to status codes. Anything unknown is logged and
// reported as an internal error.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, delivery.ErrInvalidSlug),
		errors.Is(err, delivery.ErrInvalidNewsletter),
		errors.Is(err, subscriber.ErrInvalidEmail),
		errors.Is(err, links.ErrTargetTooLong):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrDuplicate),
		errors.Is(err, delivery.ErrCannotSend),
		errors.Is(err, delivery.ErrNotEditable),
		errors.Is(err, delivery.ErrNoNewsletter),
		errors.Is(err, delivery.ErrNoMembers):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.Log.Error("admin request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
