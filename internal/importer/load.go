package importer

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	"dashpulse/internal/domain"
)

const maxNameLen = 100

// Entry is one target to import.
type Entry struct {
	URL         string
	Name        string
	Description string
	Headers     map[string]string
	Metadata    map[string]any
	CheckWindow time.Duration

	// Kind and Schedule describe the check item to create. An empty
	// Schedule imports the target only.
	Kind     domain.Kind
	Schedule string
}

type fileDoc struct {
	Configs []rawConfig `yaml:"configs"`
}

type rawConfig struct {
	URLs        []any  `yaml:"urls"`
	Metadata    any    `yaml:"metadata"`
	Headers     any    `yaml:"headers"`
	Name        string `yaml:"name"`
	Kind        string `yaml:"kind"`
	Schedule    string `yaml:"schedule"`
	Description string `yaml:"description"`
	CheckWindow string `yaml:"check_window"`
}

// Load reads path and expands every config block into one Entry per URL.
// Non-string and empty URLs are skipped.
func Load(path string) ([]Entry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return Parse(b, path)
}

// Parse is Load over an in-memory document. source only feeds the default
// description.
func Parse(b []byte, source string) ([]Entry, error) {
	var doc fileDoc
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", domain.ErrValidation, source, err)
	}

	var out []Entry
	for i, c := range doc.Configs {
		kind := domain.KindAudit
		if strings.TrimSpace(c.Kind) != "" {
			k, err := domain.ParseKind(c.Kind)
			if err != nil {
				return nil, fmt.Errorf("configs[%d]: %w", i, err)
			}
			kind = k
		}
		var window time.Duration
		if s := strings.TrimSpace(c.CheckWindow); s != "" {
			d, err := time.ParseDuration(s)
			if err != nil || d < 0 {
				return nil, fmt.Errorf("%w: configs[%d].check_window %q", domain.ErrValidation, i, s)
			}
			window = d
		}

		metadata := metadataOf(c.Metadata)
		headers := headersOf(c.Headers)
		desc := strings.TrimSpace(c.Description)
		if desc == "" {
			desc = "imported from " + source
		}

		for _, u := range c.URLs {
			url, ok := u.(string)
			url = strings.TrimSpace(url)
			if !ok || url == "" {
				continue
			}
			out = append(out, Entry{
				URL:         url,
				Name:        nameFor(c.Name, metadata, url),
				Description: desc,
				Headers:     cloneHeaders(headers),
				Metadata:    metadata,
				CheckWindow: window,
				Kind:        kind,
				Schedule:    strings.TrimSpace(c.Schedule),
			})
		}
	}
	return out, nil
}

func metadataOf(v any) map[string]any {
	m, ok := v.(map[string]any)
	if !ok || m == nil {
		return map[string]any{}
	}
	return m
}

// headersOf accepts a map or a bare cookie string.
func headersOf(v any) map[string]string {
	switch h := v.(type) {
	case string:
		if h == "" {
			return map[string]string{}
		}
		return map[string]string{"Cookie": h}
	case map[string]any:
		out := make(map[string]string, len(h))
		for k, val := range h {
			if val == nil {
				out[k] = ""
				continue
			}
			out[k] = fmt.Sprint(val)
		}
		return out
	default:
		return map[string]string{}
	}
}

func cloneHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

func nameFor(explicit string, metadata map[string]any, url string) string {
	name := strings.TrimSpace(explicit)
	if name == "" {
		project, _ := metadata["project"].(string)
		pageType, _ := metadata["page_type"].(string)
		name = strings.TrimSpace(project + " " + pageType)
	}
	if name == "" {
		name = url
	}
	if r := []rune(name); len(r) > maxNameLen {
		name = string(r[:maxNameLen-3]) + "..."
	}
	return name
}
