// Package prompts renders the named prompt templates sent to the text
// model. Templates are embedded at build time and rendered with
// missingkey=error, so a call that forgets a field fails instead of sending
// "<no value>" to the model.
package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"text/template"
)

// Template names.
const (
	TextResponse      = "text_response"
	ShortResponse     = "short_response"
	ImageDescribe     = "image_describe"
	ImageAnalyze      = "image_analyze"
	RenderImagePrompt = "render_image_prompt"
	ImageSuccess      = "image_success"
	ImageFailure      = "image_failure"
	DetectVoice       = "detect_voice"
	UselessMessage    = "useless_message"
	MemorySummary     = "memory_summary"
	DocsPrompt        = "docs_prompt"
	GetFacts          = "get_facts"
	Quote             = "quote"
	ExplainCode       = "explain_code"
	PhotoLab          = "photolab"
	URLSummary        = "url_summary"
)

// Data holds template fields.
type Data = map[string]any

//go:embed templates/*.tmpl
var embedded embed.FS

// Set is a parsed collection of templates.
type Set struct {
	templates map[string]*template.Template
}

// Load parses the embedded templates. An optional override directory may
// replace any of them by file name.
func Load(overrideDir string) (*Set, error) {
	s := &Set{templates: make(map[string]*template.Template)}
	if err := s.parseFS(embedded, "templates"); err != nil {
		return nil, err
	}
	if overrideDir != "" {
		if err := s.parseFS(os.DirFS(overrideDir), ""); err != nil {
			return nil, fmt.Errorf("prompt overrides: %w", err)
		}
	}
	return s, nil
}

// MustLoad is Load without overrides that panics on error. The embedded
// templates are fixed at build time, so failure is a programming error.
func MustLoad() *Set {
	s, err := Load("")
	if err != nil {
		panic(err)
	}
	return s
}

// Render executes the named template with data.
func (s *Set) Render(name string, data Data) (string, error) {
	t, ok := s.templates[name]
	if !ok {
		return "", fmt.Errorf("prompt %q not found", name)
	}
	if data == nil {
		data = Data{}
	}
	var b bytes.Buffer
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render prompt %q: %w", name, err)
	}
	return strings.TrimSpace(b.String()), nil
}

// Names lists the loaded template names.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.templates))
	for n := range s.templates {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (s *Set) parseFS(fsys fs.FS, dir string) error {
	pattern := "*.tmpl"
	if dir != "" {
		pattern = dir + "/" + pattern
	}
	matches, err := fs.Glob(fsys, pattern)
	if err != nil {
		return err
	}
	for _, path := range matches {
		src, err := fs.ReadFile(fsys, path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		name := strings.TrimSuffix(path[strings.LastIndex(path, "/")+1:], ".tmpl")
		t, err := template.New(name).Option("missingkey=error").Parse(string(src))
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		s.templates[name] = t
	}
	return nil
}
