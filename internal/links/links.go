// Package links rewrites outbound newsletter URLs into tracked redirect links.
package links

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"Mailroom/internal/models"
)

// BaseURLVar and MailHashVar are template variables resolved when a mail is rendered.
const (
	BaseURLVar  = "{{base_url}}"
	MailHashVar = "{{mail.mail_hash}}"
)

var ErrTargetTooLong = fmt.Errorf("link target exceeds %d characters", models.MaxLinkTarget)

type Store interface {
	GetLinkByHash(ctx context.Context, hash string) (*models.Link, error)
	GetLinkByIdentifier(ctx context.Context, jobID int64, identifier string) (*models.Link, error)
	GetLinkByToken(ctx context.Context, jobID int64, token string) (*models.Link, error)
	CreateLink(ctx context.Context, l *models.Link) error
}

type Rewriter struct {
	store Store
}

func NewRewriter(store Store) *Rewriter {
	return &Rewriter{store: store}
}

// NewHash returns a random 32 character lowercase hex string.
func NewHash() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

var entities = strings.NewReplacer("&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`)

// AddLink registers target for the job. With an identifier the existing link for
// that identifier is returned, or an empty placeholder is created.
func (r *Rewriter) AddLink(ctx context.Context, jobID int64, target, identifier string) (*models.Link, error) {
	if identifier != "" {
		link, err := r.store.GetLinkByIdentifier(ctx, jobID, identifier)
		if err == nil {
			return link, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("lookup link %q: %w", identifier, err)
		}
		return r.create(ctx, &models.Link{JobID: jobID, Identifier: identifier})
	}

	target = entities.Replace(target)
	if err := checkTarget(target); err != nil {
		return nil, err
	}
	return r.create(ctx, &models.Link{JobID: jobID, LinkTarget: target})
}

// Trackable returns the link grouped under token for target, creating it if needed.
func (r *Rewriter) Trackable(ctx context.Context, jobID int64, target, token string) (*models.Link, error) {
	if err := checkTarget(target); err != nil {
		return nil, err
	}
	sum := md5.Sum([]byte(token + target))
	key := hex.EncodeToString(sum[:])

	link, err := r.store.GetLinkByToken(ctx, jobID, key)
	if err == nil {
		return link, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("lookup trackable link: %w", err)
	}
	return r.create(ctx, &models.Link{JobID: jobID, LinkTarget: target, Token: &key})
}

// checkTarget counts characters, matching the VARCHAR limit of the column.
func checkTarget(target string) error {
	if utf8.RuneCountInString(target) > models.MaxLinkTarget {
		return ErrTargetTooLong
	}
	return nil
}

func (r *Rewriter) Resolve(ctx context.Context, hash string) (*models.Link, error) {
	return r.store.GetLinkByHash(ctx, hash)
}

func (r *Rewriter) create(ctx context.Context, l *models.Link) (*models.Link, error) {
	l.LinkHash = NewHash()
	if err := r.store.CreateLink(ctx, l); err != nil {
		return nil, fmt.Errorf("create link: %w", err)
	}
	return l, nil
}

// RedirectPath is the public path of a tracked link for one mail.
func RedirectPath(mailHash, linkHash string) string {
	return "/link/" + mailHash + "/" + linkHash + "/"
}

// ProxyPath is the public path that resolves identifier links.
func ProxyPath(mailHash, linkHash string) string {
	return "/proxy/" + mailHash + "/" + linkHash + "/"
}

// Placeholder is the templated redirect URL written into newsletter bodies.
func Placeholder(l *models.Link) string {
	return BaseURLVar + RedirectPath(MailHashVar, l.LinkHash)
}

var redirectRe = regexp.MustCompile(`^/link/[^/]+/([a-z0-9]+)/$`)

// IsRedirectURL reports whether url is a placeholder produced by Placeholder.
func IsRedirectURL(url string) bool {
	_, ok := placeholderHash(url)
	return ok
}

func placeholderHash(url string) (string, bool) {
	if !strings.HasPrefix(url, BaseURLVar) {
		return "", false
	}
	m := redirectRe.FindStringSubmatch(url[len(BaseURLVar):])
	if m == nil {
		return "", false
	}
	return m[1], true
}

// IsLink reports whether replaced is a placeholder whose link points to original.
func (r *Rewriter) IsLink(ctx context.Context, original, replaced string) bool {
	hash, ok := placeholderHash(replaced)
	if !ok {
		return false
	}
	link, err := r.store.GetLinkByHash(ctx, hash)
	if err != nil {
		return false
	}
	return link.LinkTarget == original
}

var hrefRe = regexp.MustCompile(`(?i)(href\s*=\s*)(?:"([^"]*)"|'([^']*)')`)

// ReplaceLinks rewrites every trackable href in html to a placeholder. Equal
// targets share one link.
func (r *Rewriter) ReplaceLinks(ctx context.Context, jobID int64, html string) (string, error) {
	seen := make(map[string]string)
	var out strings.Builder
	last := 0

	for _, m := range hrefRe.FindAllStringSubmatchIndex(html, -1) {
		quote := `"`
		start, end := m[4], m[5]
		if start < 0 {
			quote = "'"
			start, end = m[6], m[7]
		}
		target := html[start:end]
		if !trackable(target) {
			continue
		}

		replacement, ok := seen[target]
		if !ok {
			link, err := r.AddLink(ctx, jobID, target, "")
			if err != nil {
				return "", err
			}
			replacement = Placeholder(link)
			seen[target] = replacement
		}

		out.WriteString(html[last:m[0]])
		out.WriteString(html[m[2]:m[3]])
		out.WriteString(quote + replacement + quote)
		last = m[1]
	}
	out.WriteString(html[last:])

	return out.String(), nil
}

func trackable(target string) bool {
	t := strings.TrimSpace(target)
	lower := strings.ToLower(t)
	switch {
	case t == "", strings.HasPrefix(t, "#"):
		return false
	case strings.HasPrefix(lower, "mailto:"), strings.HasPrefix(lower, "tel:"):
		return false
	case strings.Contains(t, "{%"):
		return false
	}
	return !IsRedirectURL(t)
}
