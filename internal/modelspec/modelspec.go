// Package modelspec parses the "provider:namespace/model#routing" model
// identifier shorthand used throughout room configuration and announcements.
package modelspec

import (
	"fmt"
	"regexp"
	"strings"
)

// ModelSpec is a parsed model identifier.
type ModelSpec struct {
	Provider string
	Name     string
	Routing  []string
}

var fullPattern = regexp.MustCompile(`^(?:([-\w]*):)?(?:([-\w]*)/)?([-\w]+)(?:#([-\w,]*))?$`)

// Parse splits spec into provider, namespace-qualified name, and routing tags.
func Parse(spec string) (ModelSpec, error) {
	m := fullPattern.FindStringSubmatch(spec)
	if m == nil {
		return ModelSpec{}, fmt.Errorf("modelspec: invalid model spec %q", spec)
	}
	provider, namespace, name, routing := m[1], m[2], m[3], m[4]
	if namespace != "" {
		name = namespace + "/" + name
	}
	var tags []string
	if routing != "" {
		tags = strings.Split(routing, ",")
	}
	return ModelSpec{Provider: provider, Name: name, Routing: tags}, nil
}

var corePattern = regexp.MustCompile(`(?:[-\w]*:)?(?:[-\w]*/)?([-\w]+)(?:#[-\w,]*)?`)

// CoreName reduces any model spec to its bare model identifier, e.g.
// "anthropic:team/claude-sonnet#fast,cheap" -> "claude-sonnet". Used in
// prompts and chat announcements where provider/routing noise is unwanted.
func CoreName(spec string) string {
	return corePattern.ReplaceAllString(spec, "$1")
}
