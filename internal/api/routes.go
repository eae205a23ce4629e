package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Routes mounts the admin API. It is meant to live under /admin/api.
func (h *Handler) Routes(allowedOrigins []string) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   allowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Group(func(r chi.Router) {
		r.Use(h.requireToken)

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", h.ListJobs)
			r.Post("/", h.CreateJob)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetJob)
				r.Patch("/", h.UpdateJob)
				r.Delete("/", h.DeleteJob)

				r.Get("/send", h.SendStatus)
				r.Post("/send", h.StartSending)

				r.Post("/mails", h.AddMails)
				r.Get("/links", h.JobLinks)
			})
		})

		r.Patch("/links/{id}", h.UpdateLink)

		r.Route("/statistics", func(r chi.Router) {
			r.Get("/", h.Statistics)
			r.Get("/{id}", h.JobStats)
			r.Get("/{id}/email-list", h.EmailList)
			r.Get("/{id}/user-agents", h.UserAgents)
		})

		r.Post("/newsletters", h.CreateNewsletter)
		r.Get("/newsletters/{id}", h.GetNewsletter)
		r.Put("/newsletters/{id}", h.UpdateNewsletter)

		r.Post("/subscribers", h.AddSubscriber)
		r.Get("/subscribers/{id}", h.GetSubscriber)

		r.Post("/mails/{hash}/bounce", h.Bounce)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	return r
}
