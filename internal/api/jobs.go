package api

import (
	"mime"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"Mailroom/internal/csvparser"
	"Mailroom/internal/delivery"
	"Mailroom/internal/models"
	"Mailroom/internal/subscriber"
)

func jobFilter(r *http.Request) (models.JobFilter, error) {
	var f models.JobFilter
	q := r.URL.Query()

	ints := map[string]func(int64){
		"status":        func(v int64) { f.Status = models.JobStatus(v) },
		"newsletter_id": func(v int64) { f.NewsletterID = v },
		"limit":         func(v int64) { f.Limit = int(v) },
		"offset":        func(v int64) { f.Offset = int(v) },
	}
	for name, set := range ints {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			return f, strconv.ErrSyntax
		}
		set(v)
	}
	return f, nil
}

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	f, err := jobFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid filter")
		return
	}
	jobs, err := h.Deliveries.ListJobs(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

type createJobRequest struct {
	NewsletterID *int64  `json:"newsletter_id"`
	GroupType    string  `json:"group_type"`
	GroupID      *int64  `json:"group_id"`
	Collection   string  `json:"collection"`
	UTMCampaign  string  `json:"utm_campaign"`
	PublicSlug   *string `json:"public_slug"`
}

func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if !decode(w, r, &req) {
		return
	}

	j := &models.Job{
		NewsletterID: req.NewsletterID,
		GroupType:    req.GroupType,
		GroupID:      req.GroupID,
		Collection:   req.Collection,
		UTMCampaign:  req.UTMCampaign,
		PublicSlug:   req.PublicSlug,
	}
	if err := h.Deliveries.CreateJob(r.Context(), j); err != nil {
		h.fail(w, r, err)
		return
	}

	h.Log.Info("job created", zap.Int64("job_id", j.ID))
	writeJSON(w, http.StatusCreated, j)
}

func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	d, err := h.Deliveries.Detail(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) UpdateJob(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var u delivery.JobUpdate
	if !decode(w, r, &u) {
		return
	}

	j, err := h.Deliveries.UpdateJob(r.Context(), id, u)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (h *Handler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.Deliveries.Delete(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}

	h.Log.Info("job deleted", zap.Int64("job_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// ----------------------------
// Sending
// ----------------------------

type sendStatus struct {
	Job     *models.Job `json:"job"`
	CanSend bool        `json:"can_send"`
}

// SendStatus is the confirmation step before a send is started.
func (h *Handler) SendStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	j, err := h.Deliveries.GetJob(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	can, err := h.Deliveries.CanSend(r.Context(), j)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sendStatus{Job: j, CanSend: can})
}

func (h *Handler) StartSending(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.Deliveries.StartSending(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"id": id, "status": models.JobSending})
}

// ----------------------------
// Mails
// ----------------------------

type addMailsRequest struct {
	SubscriberIDs []int64 `json:"subscriber_ids"`
	// FromGroup adds a mail for every member of the job's group.
	FromGroup bool `json:"from_group"`
}

type addMailsResponse struct {
	Created int      `json:"created"`
	Skipped []string `json:"skipped,omitempty"`
}

// AddMails creates mails for a job. A text/csv body is imported as
// subscribers first; a JSON body names subscribers or asks for the job's group.
func (h *Handler) AddMails(w http.ResponseWriter, r *http.Request) {
	if isCSV(r) {
		h.importMails(w, r)
		return
	}

	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req addMailsRequest
	if !decode(w, r, &req) {
		return
	}

	if _, err := h.Deliveries.GetJob(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}

	var (
		created int
		err     error
	)
	if req.FromGroup {
		created, err = h.Deliveries.CreateGroupMails(r.Context(), id)
	} else {
		refs := make([]delivery.Ref, 0, len(req.SubscriberIDs))
		for _, sid := range req.SubscriberIDs {
			if _, err := h.Subscribers.Get(r.Context(), sid); err != nil {
				h.fail(w, r, err)
				return
			}
			refs = append(refs, delivery.Ref{Type: subscriber.PersonType, ID: sid})
		}
		created, err = h.Deliveries.CreateMails(r.Context(), id, refs)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, addMailsResponse{Created: created})
}

func isCSV(r *http.Request) bool {
	ct, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && ct == "text/csv"
}

// importMails adds every CSV row as a subscriber and creates a mail for each.
// Extra groups can be given as ?group=a&group=b.
func (h *Handler) importMails(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	if _, err := h.Deliveries.GetJob(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}

	rows, err := csvparser.ParseSubscriberRows(http.MaxBytesReader(w, r.Body, maxBodyBytes), csvparser.DefaultMaxRows)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid csv: "+err.Error())
		return
	}

	res, err := h.Subscribers.Import(r.Context(), rows, r.URL.Query()["group"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	created, err := h.Deliveries.CreateMails(r.Context(), id, res.Refs)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.Log.Info("mails imported",
		zap.Int64("job_id", id),
		zap.Int("created", created),
		zap.Int("skipped", len(res.Skipped)),
	)
	writeJSON(w, http.StatusCreated, addMailsResponse{Created: created, Skipped: res.Skipped})
}

func (h *Handler) Bounce(w http.ResponseWriter, r *http.Request) {
	if err := h.Deliveries.Bounce(r.Context(), chiParam(r, "hash")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
