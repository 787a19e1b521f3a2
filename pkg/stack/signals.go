package stack

import (
	"path"
	"strings"
)

// Signals are the raw stack-detection inputs for one repository.
type Signals struct {
	// Files holds marker files found in the repository (e.g. "package.json",
	// "manage.py"). Only the base name is matched.
	Files []string `json:"files,omitempty" yaml:"files,omitempty"`
	// Extensions is a histogram of file extensions, keyed with a leading dot.
	Extensions map[string]int `json:"extensions,omitempty" yaml:"extensions,omitempty"`
	// Dependencies lists declared package names from any manifest.
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
}

// Feature is a derived, countable stack signal.
type Feature string

const (
	FeaturePythonCode     Feature = "python_code"
	FeaturePythonManifest Feature = "python_manifest"
	FeatureNodeManifest   Feature = "node_manifest"
	FeatureJSCode         Feature = "js_code"
	FeatureReact          Feature = "react_framework"
	FeatureDjango         Feature = "django"
	FeatureHTMLTemplates  Feature = "html_templates"
)

var (
	pythonManifests = map[string]bool{
		"pyproject.toml":   true,
		"requirements.txt": true,
		"setup.py":         true,
		"setup.cfg":        true,
		"pipfile":          true,
		"poetry.lock":      true,
	}
	jsExtensions       = []string{".js", ".jsx", ".ts", ".tsx", ".mjs", ".vue", ".svelte"}
	reactExtensions    = []string{".jsx", ".tsx"}
	templateExtensions = []string{".html", ".jinja", ".jinja2", ".j2"}
	reactPackages      = map[string]bool{"react": true, "react-dom": true, "next": true, "preact": true}
)

// Features derives feature counts from raw signals. Features with a zero
// count are omitted.
func (s Signals) Features() map[Feature]int {
	f := make(map[Feature]int)
	add := func(k Feature, n int) {
		if n > 0 {
			f[k] += n
		}
	}

	ext := func(names ...string) int {
		total := 0
		for _, n := range names {
			total += s.Extensions[n]
		}
		return total
	}

	for _, file := range s.Files {
		base := strings.ToLower(path.Base(file))
		switch {
		case pythonManifests[base]:
			add(FeaturePythonManifest, 1)
		case base == "package.json":
			add(FeatureNodeManifest, 1)
		case base == "manage.py":
			add(FeatureDjango, 1)
		}
	}
	for _, dep := range s.Dependencies {
		name := strings.ToLower(strings.TrimSpace(dep))
		switch {
		case reactPackages[name]:
			add(FeatureReact, 1)
		case name == "django" || strings.HasPrefix(name, "django-"):
			add(FeatureDjango, 1)
		}
	}

	add(FeaturePythonCode, ext(".py"))
	add(FeatureJSCode, ext(jsExtensions...))
	add(FeatureReact, ext(reactExtensions...))
	add(FeatureHTMLTemplates, ext(templateExtensions...))
	return f
}
