// Package render renders newsletter bodies and link targets with Liquid.
//
// Two tags are available to templates:
//
//	{% link_url unsubscribe %}            tracked URL of a registered view
//	{% trackable_link 'https://…' 'key' %} tracked URL of a fixed target, grouped by key
//
// Outside of a mail (public view, previews) link_url renders "#" and
// trackable_link renders its target unchanged.
package render

import (
	"fmt"
	"strings"

	"github.com/osteele/liquid"
	lr "github.com/osteele/liquid/render"
)

const linksKey = "__links"

// LinkResolver produces tracked URLs while one mail is rendered.
type LinkResolver interface {
	ViewLink(identifier string) (string, error)
	TrackableLink(target, token string) (string, error)
}

type Engine struct {
	engine *liquid.Engine
}

func New() *Engine {
	e := &Engine{engine: liquid.NewEngine()}
	e.engine.RegisterTag("link_url", linkURLTag)
	e.engine.RegisterTag("trackable_link", trackableLinkTag)
	return e
}

type Template struct {
	tpl *liquid.Template
}

func (e *Engine) Parse(src string) (*Template, error) {
	tpl, err := e.engine.ParseString(src)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	return &Template{tpl: tpl}, nil
}

// Render executes the template. links may be nil.
func (t *Template) Render(bindings map[string]any, links LinkResolver) (string, error) {
	b := make(liquid.Bindings, len(bindings)+1)
	for k, v := range bindings {
		b[k] = v
	}
	if links != nil {
		b[linksKey] = links
	}

	out, err := t.tpl.RenderString(b)
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return out, nil
}

// RenderString parses and renders src in one step.
func (e *Engine) RenderString(src string, bindings map[string]any) (string, error) {
	tpl, err := e.Parse(src)
	if err != nil {
		return "", err
	}
	return tpl.Render(bindings, nil)
}

func linkURLTag(c lr.Context) (string, error) {
	identifier := strings.TrimSpace(c.TagArgs())
	if identifier == "" {
		return "", fmt.Errorf("link_url expects an identifier")
	}

	links, ok := c.Get(linksKey).(LinkResolver)
	if !ok {
		return "#", nil
	}
	return links.ViewLink(identifier)
}

func trackableLinkTag(c lr.Context) (string, error) {
	args := splitArgs(c.TagArgs())
	if len(args) < 1 || len(args) > 2 {
		return "", fmt.Errorf("trackable_link expects a target and an optional key")
	}

	target, err := evalArg(c, args[0])
	if err != nil {
		return "", err
	}
	token := target
	if len(args) == 2 {
		if token, err = evalArg(c, args[1]); err != nil {
			return "", err
		}
	}

	links, ok := c.Get(linksKey).(LinkResolver)
	if !ok {
		return target, nil
	}
	return links.TrackableLink(target, token)
}

// splitArgs splits tag arguments on whitespace, keeping quoted strings whole.
func splitArgs(s string) []string {
	var (
		args  []string
		cur   strings.Builder
		quote rune
	)
	flush := func() {
		if cur.Len() > 0 {
			args = append(args, cur.String())
			cur.Reset()
		}
	}

	for _, r := range s {
		switch {
		case quote != 0:
			cur.WriteRune(r)
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
			cur.WriteRune(r)
		case r == ' ' || r == '\t' || r == '\n':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return args
}

func evalArg(c lr.Context, arg string) (string, error) {
	if n := len(arg); n >= 2 && (arg[0] == '\'' || arg[0] == '"') && arg[n-1] == arg[0] {
		return arg[1 : n-1], nil
	}

	v, err := c.EvaluateString(arg)
	if err != nil {
		return "", fmt.Errorf("evaluate %q: %w", arg, err)
	}
	if v == nil {
		return "", nil
	}
	return fmt.Sprint(v), nil
}
