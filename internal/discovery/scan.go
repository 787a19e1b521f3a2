// Package discovery collects stack-detection signals from a repository
// checkout. It is the filesystem-facing half of classification; the
// classifier in pkg/stack only sees the resulting Signals.
package discovery

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/readyscore/readyscore/pkg/stack"
)

var skipDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	"node_modules": true,
	"vendor":       true,
	"venv":         true,
	".venv":        true,
	"__pycache__":  true,
	".tox":         true,
	"dist":         true,
	"build":        true,
	".next":        true,
}

var markers = map[string]bool{
	"package.json":     true,
	"manage.py":        true,
	"pyproject.toml":   true,
	"requirements.txt": true,
	"setup.py":         true,
	"setup.cfg":        true,
	"pipfile":          true,
	"poetry.lock":      true,
}

// Scan walks root and returns its marker files, extension histogram and
// declared dependencies. Dependencies are read from package.json and
// requirements.txt files; unreadable manifests are skipped.
func Scan(root string) (stack.Signals, error) {
	info, err := os.Stat(root)
	if err != nil {
		return stack.Signals{}, fmt.Errorf("scan %s: %w", root, err)
	}
	if !info.IsDir() {
		return stack.Signals{}, fmt.Errorf("scan %s: not a directory", root)
	}

	sig := stack.Signals{Extensions: make(map[string]int)}
	deps := make(map[string]bool)

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != root && skipDirs[name] {
				return filepath.SkipDir
			}
			return nil
		}
		if ext := strings.ToLower(filepath.Ext(name)); ext != "" {
			sig.Extensions[ext]++
		}
		lower := strings.ToLower(name)
		if !markers[lower] {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		sig.Files = append(sig.Files, filepath.ToSlash(rel))

		switch lower {
		case "package.json":
			for _, dep := range packageJSONDeps(path) {
				deps[dep] = true
			}
		case "requirements.txt":
			for _, dep := range requirementsDeps(path) {
				deps[dep] = true
			}
		}
		return nil
	})
	if err != nil {
		return stack.Signals{}, fmt.Errorf("scan %s: %w", root, err)
	}

	for dep := range deps {
		sig.Dependencies = append(sig.Dependencies, dep)
	}
	sort.Strings(sig.Dependencies)
	sort.Strings(sig.Files)
	return sig, nil
}

func packageJSONDeps(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var pkg struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil
	}
	var out []string
	for name := range pkg.Dependencies {
		out = append(out, name)
	}
	for name := range pkg.DevDependencies {
		out = append(out, name)
	}
	return out
}

// requirementsDeps extracts package names from a pip requirements file,
// dropping version specifiers, extras, markers and comments.
func requirementsDeps(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if i := strings.Index(line, "#"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if line == "" || strings.HasPrefix(line, "-") {
			continue
		}
		if i := strings.IndexAny(line, "<>=!~;[ @"); i >= 0 {
			line = line[:i]
		}
		if line != "" {
			out = append(out, strings.ToLower(line))
		}
	}
	return out
}
