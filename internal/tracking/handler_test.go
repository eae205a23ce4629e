package tracking

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"Mailroom/internal/delivery"
	"Mailroom/internal/models"
	"Mailroom/internal/storage"
)

type fakeTracker struct {
	visits       []delivery.Visit
	pings        []string
	unsubscribed []string
	err          error
}

func (f *fakeTracker) RedirectLink(_ context.Context, mailHash, linkHash string, v delivery.Visit) (string, error) {
	f.visits = append(f.visits, v)
	if f.err != nil {
		return "", f.err
	}
	return "https://example.com/" + linkHash + "?m=" + mailHash, nil
}

func (f *fakeTracker) Proxy(_ context.Context, mailHash, _ string, _ delivery.Visit) (string, error) {
	return "http://mail.test/unsubscribe/" + mailHash + "/", f.err
}

func (f *fakeTracker) ViewMail(_ context.Context, mailHash string, _ delivery.Visit) (string, error) {
	return "<p>" + mailHash + "</p>", f.err
}

func (f *fakeTracker) ViewPublic(_ context.Context, slug string) (string, error) {
	if slug != "summer" {
		return "", delivery.ErrNotPublic
	}
	return "<p>public</p>", nil
}

func (f *fakeTracker) Ping(_ context.Context, mailHash string, _ delivery.Visit) error {
	f.pings = append(f.pings, mailHash)
	return f.err
}

func (f *fakeTracker) Unsubscribe(_ context.Context, mailHash string) error {
	if mailHash == "nobody" {
		return delivery.ErrNoUnsubscribe
	}
	f.unsubscribed = append(f.unsubscribed, mailHash)
	return nil
}

type fakeImages map[string]string

func (f fakeImages) Open(_ context.Context, name string) (*storage.Object, error) {
	data, ok := f[name]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &storage.Object{
		Body:        io.NopCloser(bytes.NewBufferString(data)),
		ContentType: "image/png",
		Size:        int64(len(data)),
	}, nil
}

func serve(h *Handler, method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

func newHandler(tr *fakeTracker) *Handler {
	return &Handler{Tracker: tr, Images: fakeImages{"summer.png": "png"}, Log: zap.NewNop()}
}

func TestHandleLink(t *testing.T) {
	tr := &fakeTracker{}
	h := newHandler(tr)

	rec := serve(h, http.MethodGet, "/link/m1/l1/", http.Header{
		"User-Agent":      {"Thunderbird"},
		"X-Forwarded-For": {"10.0.0.1, 10.0.0.2"},
		"Referer":         {"https://webmail.example.com"},
	})
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://example.com/l1?m=m1", rec.Header().Get("Location"))

	require.Len(t, tr.visits, 1)
	assert.Equal(t, delivery.Visit{
		UserAgent: "Thunderbird",
		IPAddress: "10.0.0.1",
		Referer:   "https://webmail.example.com",
	}, tr.visits[0])
}

func TestHandleLinkErrors(t *testing.T) {
	h := newHandler(&fakeTracker{err: models.ErrNotFound})
	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodGet, "/link/m1/l1/", nil).Code)

	h = newHandler(&fakeTracker{err: errors.New("db down")})
	assert.Equal(t, http.StatusInternalServerError, serve(h, http.MethodGet, "/link/m1/l1/", nil).Code)
}

func TestHandleProxy(t *testing.T) {
	rec := serve(newHandler(&fakeTracker{}), http.MethodGet, "/proxy/m1/l1/", nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "http://mail.test/unsubscribe/m1/", rec.Header().Get("Location"))
}

func TestHandleViews(t *testing.T) {
	h := newHandler(&fakeTracker{})

	rec := serve(h, http.MethodGet, "/view/mail/m1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<p>m1</p>", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")

	rec = serve(h, http.MethodGet, "/view/summer/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<p>public</p>", rec.Body.String())

	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodGet, "/view/winter/", nil).Code)
}

func TestHandlePing(t *testing.T) {
	tr := &fakeTracker{}
	h := newHandler(tr)

	rec := serve(h, http.MethodGet, "/ping/m1/pixel.gif", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/gif", rec.Header().Get("Content-Type"))
	assert.Equal(t, pixelGIF, rec.Body.Bytes())

	rec = serve(h, http.MethodGet, "/ping/m2/summer.png", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "png", rec.Body.String())

	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodGet, "/ping/m3/winter.png", nil).Code)

	serve(h, http.MethodGet, "/ping/public/summer.png", nil)
	assert.Equal(t, []string{"m1", "m2", "m3"}, tr.pings)
}

func TestHandlePingServesImageWhenTrackingFails(t *testing.T) {
	h := newHandler(&fakeTracker{err: errors.New("db down")})
	rec := serve(h, http.MethodGet, "/ping/m1/pixel.gif", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, pixelGIF, rec.Body.Bytes())
}

func TestHandleUnsubscribe(t *testing.T) {
	tr := &fakeTracker{}
	h := newHandler(tr)

	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/unsubscribe/m1/", nil).Code)
	assert.Equal(t, http.StatusOK, serve(h, http.MethodPost, "/unsubscribe/m2", nil).Code)
	assert.Equal(t, []string{"m1", "m2"}, tr.unsubscribed)

	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodGet, "/unsubscribe/nobody/", nil).Code)
}

func TestRealIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:4321"
	assert.Equal(t, "192.0.2.7", realIP(req))

	req.Header.Set("X-Real-Ip", "198.51.100.1")
	assert.Equal(t, "198.51.100.1", realIP(req))
}
