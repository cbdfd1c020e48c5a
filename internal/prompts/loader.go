package prompts

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"

	"github.com/apex/log"
	"gopkg.in/yaml.v3"
)

// OriginEmbedded marks content read from the binary rather than an override dir
const OriginEmbedded = "embedded"

// Loader reads prompt packs and templates. Files in override directories
// shadow the embedded ones; the first directory that has a file wins.
type Loader struct {
	overrideDirs []string

	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	tmpl   *template.Template
	meta   *TemplateMeta
	origin string
}

// TemplateMeta is the yaml frontmatter of a prompt template
type TemplateMeta struct {
	ID          string   `yaml:"id"`
	Description string   `yaml:"description"`
	Variables   []string `yaml:"variables"` // PromptData fields the template requires
}

// knownVariables are the PromptData fields a template may declare
var knownVariables = map[string]bool{
	"ExampleQuestion": true,
	"ExampleResponse": true,
	"TaskDescription": true,
	"TextContent":     true,
}

// NewLoader creates a loader with the given override directories
func NewLoader(overrideDirs ...string) *Loader {
	return &Loader{
		overrideDirs: overrideDirs,
		entries:      make(map[string]*entry),
	}
}

// DefaultLoader checks, in order: extraDirs from the config, then
// {projectRoot}/.vlm-rationales/prompts, then ~/.config/vlm-rationales/prompts.
func DefaultLoader(projectRoot string, extraDirs ...string) *Loader {
	home, _ := os.UserHomeDir()
	dirs := append([]string{}, extraDirs...)

	if projectRoot != "" {
		dirs = append(dirs, filepath.Join(projectRoot, ".vlm-rationales", "prompts"))
	}
	dirs = append(dirs, filepath.Join(home, ".config", "vlm-rationales", "prompts"))

	return NewLoader(dirs...)
}

// loadContent returns the file and the directory it came from
func (l *Loader) loadContent(path string) ([]byte, string, error) {
	for _, dir := range l.overrideDirs {
		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(path)))
		if err == nil {
			log.WithFields(log.Fields{"file": path, "dir": dir}).Debug("prompt override")
			return data, dir, nil
		}
	}
	data, err := fs.ReadFile(embeddedFS, path)
	return data, OriginEmbedded, err
}

// parseFrontmatter splits content into frontmatter and body. Files edited on
// Windows keep working: CRLF line endings are normalized first.
func parseFrontmatter(content []byte) (*TemplateMeta, string, error) {
	str := strings.ReplaceAll(string(content), "\r\n", "\n")

	if !strings.HasPrefix(str, "---\n") {
		return nil, str, nil
	}
	end := strings.Index(str[4:], "\n---\n")
	if end == -1 {
		return nil, str, nil
	}

	var meta TemplateMeta
	if err := yaml.Unmarshal([]byte(str[4:4+end]), &meta); err != nil {
		return nil, "", fmt.Errorf("parse frontmatter: %w", err)
	}
	for _, v := range meta.Variables {
		if !knownVariables[v] {
			return nil, "", fmt.Errorf("frontmatter declares unknown variable %q", v)
		}
	}
	return &meta, str[4+end+5:], nil
}

// LoadTemplate loads and compiles a template such as "languages/en/image_only.md".
// The file's trailing newline is not part of the prompt.
func (l *Loader) LoadTemplate(path string) (*template.Template, *TemplateMeta, error) {
	e, err := l.load(path)
	if err != nil {
		return nil, nil, err
	}
	return e.tmpl, e.meta, nil
}

func (l *Loader) load(path string) (*entry, error) {
	l.mu.RLock()
	e, ok := l.entries[path]
	l.mu.RUnlock()
	if ok {
		return e, nil
	}

	content, origin, err := l.loadContent(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	meta, body, err := parseFrontmatter(content)
	if err != nil {
		return nil, fmt.Errorf("%s (%s): %w", path, origin, err)
	}

	tmpl, err := template.New(path).Option("missingkey=error").Parse(strings.TrimSuffix(body, "\n"))
	if err != nil {
		return nil, fmt.Errorf("compile template %s (%s): %w", path, origin, err)
	}

	e = &entry{tmpl: tmpl, meta: meta, origin: origin}
	l.mu.Lock()
	l.entries[path] = e
	l.mu.Unlock()
	return e, nil
}

// Origin reports where a template was loaded from: an override directory or
// OriginEmbedded. It loads the template if needed.
func (l *Loader) Origin(path string) (string, error) {
	e, err := l.load(path)
	if err != nil {
		return "", err
	}
	return e.origin, nil
}

// LoadRaw returns a file without template parsing (yaml packs)
func (l *Loader) LoadRaw(path string) ([]byte, error) {
	data, _, err := l.loadContent(path)
	return data, err
}

// Execute renders a template with data
func (l *Loader) Execute(path string, data interface{}) (string, error) {
	e, err := l.load(path)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := e.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute %s: %w", path, err)
	}
	return buf.String(), nil
}
