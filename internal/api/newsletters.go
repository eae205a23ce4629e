package api

import (
	"net/http"

	"go.uber.org/zap"

	"Mailroom/internal/models"
	"Mailroom/internal/subscriber"
)

func (h *Handler) CreateNewsletter(w http.ResponseWriter, r *http.Request) {
	var n models.Newsletter
	if !decode(w, r, &n) {
		return
	}
	n.ID = 0
	n.Active = true
	n.HeaderURLReplaced = ""
	if n.Type == 0 {
		n.Type = models.NewsletterMassMail
	}

	if err := h.Deliveries.CreateNewsletter(r.Context(), &n); err != nil {
		h.fail(w, r, err)
		return
	}

	h.Log.Info("newsletter created", zap.Int64("newsletter_id", n.ID))
	writeJSON(w, http.StatusCreated, n)
}

func (h *Handler) GetNewsletter(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	n, err := h.Deliveries.GetNewsletter(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// UpdateNewsletter replaces the content of an active newsletter. Snapshots
// taken for a delivery cannot be changed.
func (h *Handler) UpdateNewsletter(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	existing, err := h.Deliveries.GetNewsletter(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !existing.Active {
		writeError(w, http.StatusConflict, "newsletter snapshot cannot be changed")
		return
	}

	var n models.Newsletter
	if !decode(w, r, &n) {
		return
	}
	n.ID = id
	n.Active = true
	n.CreatedAt = existing.CreatedAt
	if n.HeaderURL != existing.HeaderURL {
		n.HeaderURLReplaced = ""
	} else {
		n.HeaderURLReplaced = existing.HeaderURLReplaced
	}
	if n.Type == 0 {
		n.Type = existing.Type
	}

	if err := h.Deliveries.UpdateNewsletter(r.Context(), &n); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// ----------------------------
// Subscribers
// ----------------------------

type addSubscriberRequest struct {
	Email     string   `json:"email"`
	FirstName string   `json:"first_name"`
	LastName  string   `json:"last_name"`
	Groups    []string `json:"groups"`
}

func (h *Handler) AddSubscriber(w http.ResponseWriter, r *http.Request) {
	var req addSubscriberRequest
	if !decode(w, r, &req) {
		return
	}
	sub, err := h.Subscribers.Add(r.Context(), req.Email, req.Groups, subscriber.Fields{
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (h *Handler) GetSubscriber(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	sub, err := h.Subscribers.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}
