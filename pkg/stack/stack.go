// Package stack classifies repositories into technology-stack profiles from
// file-level signals supplied by a discovery collaborator. The classifier
// never touches the filesystem itself.
package stack

import (
	"fmt"
	"strings"
)

// Profile is a technology-stack tag that gates criterion applicability.
type Profile string

const (
	PythonBackend         Profile = "python_backend"
	PythonFullstackReact  Profile = "python_fullstack_react"
	PythonDjangoTemplates Profile = "python_django_templates"
	NodeFrontend          Profile = "node_frontend"
	MixedUnknown          Profile = "mixed_unknown"
	// All is a user-forced override. It is never inferred.
	All Profile = "all"
)

var profiles = []Profile{
	PythonBackend,
	PythonFullstackReact,
	PythonDjangoTemplates,
	NodeFrontend,
	MixedUnknown,
	All,
}

// Profiles returns every profile, including the All override.
func Profiles() []Profile {
	out := make([]Profile, len(profiles))
	copy(out, profiles)
	return out
}

// Valid reports whether p is a defined profile.
func (p Profile) Valid() bool {
	for _, known := range profiles {
		if p == known {
			return true
		}
	}
	return false
}

// ParseProfile converts a user-supplied tag into a Profile. The short form
// "django_templates" is accepted for PythonDjangoTemplates.
func ParseProfile(s string) (Profile, error) {
	p := Profile(strings.ToLower(strings.TrimSpace(s)))
	if p == "django_templates" {
		p = PythonDjangoTemplates
	}
	if !p.Valid() {
		return "", fmt.Errorf("unknown stack profile %q", s)
	}
	return p, nil
}

// AmbiguousStackError is returned in strict mode when the best candidates
// score within the tie margin of each other. The caller must force a profile.
type AmbiguousStackError struct {
	Candidates []Profile
}

func (e *AmbiguousStackError) Error() string {
	names := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		names[i] = string(c)
	}
	return fmt.Sprintf("ambiguous stack: candidates %s; force a profile", strings.Join(names, ", "))
}
