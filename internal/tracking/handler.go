// Package tracking serves the public routes mails link to: redirects, the
// browser views, the tracking image and unsubscribe.
package tracking

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"Mailroom/internal/delivery"
	"Mailroom/internal/models"
	"Mailroom/internal/storage"
)

// 1x1 transparent GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

// Tracker is the part of the delivery service behind the public routes.
type Tracker interface {
	RedirectLink(ctx context.Context, mailHash, linkHash string, v delivery.Visit) (string, error)
	Proxy(ctx context.Context, mailHash, linkHash string, v delivery.Visit) (string, error)
	ViewMail(ctx context.Context, mailHash string, v delivery.Visit) (string, error)
	ViewPublic(ctx context.Context, slug string) (string, error)
	Ping(ctx context.Context, mailHash string, v delivery.Visit) error
	Unsubscribe(ctx context.Context, mailHash string) error
}

type Handler struct {
	Tracker Tracker
	// Images serves header images. Without it every ping answers with the pixel.
	Images storage.Images
	Log    *zap.Logger
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.StripSlashes)
	r.Use(middleware.Recoverer)

	r.Get("/link/{mail}/{link}", h.HandleLink)
	r.Get("/proxy/{mail}/{link}", h.HandleProxy)
	r.Get("/view/mail/{mail}", h.HandleViewMail)
	r.Get("/view/{slug}", h.HandleViewPublic)
	r.Get("/ping/{mail}/*", h.HandlePing)
	r.Get("/unsubscribe/{mail}", h.HandleUnsubscribe)
	r.Post("/unsubscribe/{mail}", h.HandleUnsubscribe)
	r.Get("/health", h.HandleHealth)
	return r
}

func (h *Handler) HandleLink(w http.ResponseWriter, r *http.Request) {
	target, err := h.Tracker.RedirectLink(r.Context(), chi.URLParam(r, "mail"), chi.URLParam(r, "link"), visit(r))
	if err != nil {
		h.fail(w, r, "link redirect failed", err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *Handler) HandleProxy(w http.ResponseWriter, r *http.Request) {
	target, err := h.Tracker.Proxy(r.Context(), chi.URLParam(r, "mail"), chi.URLParam(r, "link"), visit(r))
	if err != nil {
		h.fail(w, r, "view proxy failed", err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *Handler) HandleViewMail(w http.ResponseWriter, r *http.Request) {
	html, err := h.Tracker.ViewMail(r.Context(), chi.URLParam(r, "mail"), visit(r))
	if err != nil {
		h.fail(w, r, "mail view failed", err)
		return
	}
	writeHTML(w, html)
}

func (h *Handler) HandleViewPublic(w http.ResponseWriter, r *http.Request) {
	html, err := h.Tracker.ViewPublic(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		h.fail(w, r, "public view failed", err)
		return
	}
	writeHTML(w, html)
}

// HandlePing records the open and answers with the requested image. Tracking
// failures never keep the image from being served.
func (h *Handler) HandlePing(w http.ResponseWriter, r *http.Request) {
	mailHash := chi.URLParam(r, "mail")
	name := chi.URLParam(r, "*")

	if mailHash != delivery.PublicMailHash {
		if err := h.Tracker.Ping(r.Context(), mailHash, visit(r)); err != nil {
			h.Log.Warn("failed to record open", zap.String("mail_hash", mailHash), zap.Error(err))
		}
	}

	if name == delivery.PixelName || h.Images == nil {
		servePixel(w)
		return
	}

	obj, err := h.Images.Open(r.Context(), name)
	if errors.Is(err, models.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		h.Log.Error("failed to open image", zap.String("name", name), zap.Error(err))
		servePixel(w)
		return
	}
	defer obj.Body.Close()

	if obj.ContentType != "" {
		w.Header().Set("Content-Type", obj.ContentType)
	}
	if obj.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	if _, err := io.Copy(w, obj.Body); err != nil {
		h.Log.Warn("failed to stream image", zap.String("name", name), zap.Error(err))
	}
}

func (h *Handler) HandleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	mailHash := chi.URLParam(r, "mail")
	if err := h.Tracker.Unsubscribe(r.Context(), mailHash); err != nil {
		h.fail(w, r, "unsubscribe failed", err)
		return
	}

	h.Log.Info("recipient unsubscribed", zap.String("mail_hash", mailHash))
	writeHTML(w, `<!DOCTYPE html><html><body style="font-family:Arial,sans-serif;text-align:center;padding:50px;">
		<h1>You have been unsubscribed</h1>
		<p>You will no longer receive this newsletter.</p>
	</body></html>`)
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound),
		errors.Is(err, delivery.ErrNotPublic),
		errors.Is(err, delivery.ErrNoNewsletter),
		errors.Is(err, delivery.ErrNoUnsubscribe):
		http.NotFound(w, r)
	default:
		h.Log.Error(msg, zap.String("path", r.URL.Path), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func writeHTML(w http.ResponseWriter, html string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	io.WriteString(w, html)
}

func servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(pixelGIF)
}

func visit(r *http.Request) delivery.Visit {
	return delivery.Visit{
		UserAgent: r.UserAgent(),
		IPAddress: realIP(r),
		Referer:   r.Referer(),
	}
}

func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
