// Package views maps link identifiers to the templated target they open.
package views

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	Unsubscribe = "unsubscribe"
	Webview     = "webview"
)

// Registry resolves identifiers such as "unsubscribe" to Liquid URL templates.
type Registry struct {
	targets map[string]string
}

func Default() *Registry {
	return &Registry{targets: map[string]string{
		Unsubscribe: "{{base_url}}/unsubscribe/{{mail.mail_hash}}/",
		Webview:     "{{base_url}}/view/mail/{{mail.mail_hash}}",
	}}
}

type file struct {
	Views map[string]string `yaml:"views"`
}

// Load reads a YAML file of the form
//
//	views:
//	  profile: "{{base_url}}/profile/{{person.id}}"
//
// on top of the default registry.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read views file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Registry, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse views file: %w", err)
	}

	r := Default()
	for id, target := range f.Views {
		if id == "" || target == "" {
			return nil, fmt.Errorf("view %q has no target", id)
		}
		r.targets[id] = target
	}
	return r, nil
}

func (r *Registry) Target(identifier string) (string, bool) {
	t, ok := r.targets[identifier]
	return t, ok
}
