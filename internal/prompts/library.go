// Package prompts manages the prompt templates behind every model
// call. Templates are markdown files with YAML frontmatter; builtins
// are embedded in the binary and an override directory lets operators
// replace any of them without a rebuild.
package prompts

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed templates
var builtin embed.FS

const builtinRoot = "templates"

// Meta is parsed template frontmatter. System, when present, is the
// system instruction sent alongside the rendered body and is itself a
// template.
type Meta struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	System      string `yaml:"system"`
}

// Info describes an available template.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Source      string `json:"source"` // "builtin" or "override"
}

// Rendered is the outcome of rendering a template.
type Rendered struct {
	System string
	Text   string
}

type parsed struct {
	info   Info
	system *template.Template
	body   *template.Template
}

// Library resolves template names like "topology/review" to parsed
// templates, override directory first, then builtins.
type Library struct {
	overrideDir string

	mu    sync.RWMutex
	cache map[string]*parsed

	// Bumped by the watcher when override files change; consumers can
	// compare versions to notice reloads.
	version atomic.Int64
}

// NewLibrary creates a library. overrideDir may be empty.
func NewLibrary(overrideDir string) *Library {
	return &Library{
		overrideDir: overrideDir,
		cache:       make(map[string]*parsed),
	}
}

// Render renders a template (and its system instruction) with data.
func (l *Library) Render(name string, data any) (*Rendered, error) {
	p, err := l.get(name)
	if err != nil {
		return nil, err
	}

	var body strings.Builder
	if err := p.body.Execute(&body, data); err != nil {
		return nil, fmt.Errorf("render prompt %s: %w", name, err)
	}

	out := &Rendered{Text: body.String()}
	if p.system != nil {
		var sys strings.Builder
		if err := p.system.Execute(&sys, data); err != nil {
			return nil, fmt.Errorf("render prompt %s system: %w", name, err)
		}
		out.System = sys.String()
	}
	return out, nil
}

// List returns every available template, overrides shadowing builtins.
func (l *Library) List() []Info {
	seen := make(map[string]Info)

	if l.overrideDir != "" {
		filepath.WalkDir(l.overrideDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() || !strings.HasSuffix(path, ".md") {
				return nil
			}
			rel, err := filepath.Rel(l.overrideDir, path)
			if err != nil {
				return nil
			}
			name := strings.TrimSuffix(filepath.ToSlash(rel), ".md")
			data, err := os.ReadFile(path)
			if err != nil {
				return nil
			}
			meta := parseMeta(data)
			seen[name] = Info{Name: name, Description: meta.Description, Source: "override"}
			return nil
		})
	}

	fs.WalkDir(builtin, builtinRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".md") {
			return nil
		}
		name := strings.TrimSuffix(strings.TrimPrefix(path, builtinRoot+"/"), ".md")
		if _, ok := seen[name]; ok {
			return nil
		}
		data, err := builtin.ReadFile(path)
		if err != nil {
			return nil
		}
		meta := parseMeta(data)
		seen[name] = Info{Name: name, Description: meta.Description, Source: "builtin"}
		return nil
	})

	out := make([]Info, 0, len(seen))
	for _, info := range seen {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Invalidate drops the parse cache so the next Render re-reads files.
// The watcher calls this when override files change.
func (l *Library) Invalidate() {
	l.mu.Lock()
	l.cache = make(map[string]*parsed)
	l.mu.Unlock()
	l.version.Store(time.Now().UnixMilli())
}

// Version returns the current reload generation.
func (l *Library) Version() int64 { return l.version.Load() }

// OverrideDir returns the override directory ("" when unset).
func (l *Library) OverrideDir() string { return l.overrideDir }

func (l *Library) get(name string) (*parsed, error) {
	l.mu.RLock()
	p, ok := l.cache[name]
	l.mu.RUnlock()
	if ok {
		return p, nil
	}

	data, source, err := l.read(name)
	if err != nil {
		return nil, err
	}

	p, err = parse(name, source, data)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.cache[name] = p
	l.mu.Unlock()
	return p, nil
}

func (l *Library) read(name string) ([]byte, string, error) {
	if l.overrideDir != "" {
		path := filepath.Join(l.overrideDir, filepath.FromSlash(name)+".md")
		if data, err := os.ReadFile(path); err == nil {
			return data, "override", nil
		}
	}
	data, err := builtin.ReadFile(builtinRoot + "/" + name + ".md")
	if err != nil {
		return nil, "", fmt.Errorf("unknown prompt template %q", name)
	}
	return data, "builtin", nil
}

func parse(name, source string, data []byte) (*parsed, error) {
	meta := parseMeta(data)
	body := stripFrontmatter(string(data))

	bodyTmpl, err := template.New(name).Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parse prompt %s: %w", name, err)
	}

	p := &parsed{
		info: Info{Name: name, Description: meta.Description, Source: source},
		body: bodyTmpl,
	}
	if meta.System != "" {
		sysTmpl, err := template.New(name + "#system").Parse(meta.System)
		if err != nil {
			return nil, fmt.Errorf("parse prompt %s system: %w", name, err)
		}
		p.system = sysTmpl
	}
	return p, nil
}

var frontmatterRe = regexp.MustCompile(`(?s)^---\n(.*?)\n---\n?`)

func parseMeta(data []byte) Meta {
	var meta Meta
	match := frontmatterRe.FindSubmatch(data)
	if len(match) > 1 {
		yaml.Unmarshal(match[1], &meta)
	}
	return meta
}

func stripFrontmatter(content string) string {
	return frontmatterRe.ReplaceAllString(content, "")
}
