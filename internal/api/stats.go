package api

import (
	"net/http"

	"Mailroom/internal/models"
)

type jobStats struct {
	Stats  models.JobStats      `json:"stats"`
	Opened []models.OpenedPoint `json:"opened"`
}

func (h *Handler) JobStats(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	st, err := h.Deliveries.Stats(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	opened, err := h.Deliveries.OpenedSeries(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobStats{Stats: st, Opened: opened})
}

func (h *Handler) EmailList(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	mails, err := h.Deliveries.EmailList(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mails)
}

func (h *Handler) UserAgents(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	agents, err := h.Deliveries.UserAgents(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, agents)
}

func (h *Handler) JobLinks(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	links, err := h.Deliveries.Links(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, links)
}

type updateLinkRequest struct {
	LinkTarget string `json:"link_target"`
}

func (h *Handler) UpdateLink(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req updateLinkRequest
	if !decode(w, r, &req) {
		return
	}
	l, err := h.Deliveries.UpdateLinkTarget(r.Context(), id, req.LinkTarget)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (h *Handler) Statistics(w http.ResponseWriter, r *http.Request) {
	f, err := jobFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid filter")
		return
	}
	rows, err := h.Deliveries.Statistics(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}
