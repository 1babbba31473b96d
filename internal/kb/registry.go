package kb

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Registry describes the knowledge bases available to the matcher. It is
// loaded once at startup from a YAML file and again on explicit reload.
type Registry struct {
	KnowledgeBases []KnowledgeBase `yaml:"knowledge_bases"`
}

type KnowledgeBase struct {
	ID         string   `yaml:"id"`
	Version    string   `yaml:"version"`
	Namespaces []string `yaml:"namespaces,omitempty"`
}

// LoadRegistry reads and validates a registry file.
func LoadRegistry(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("kb registry: read %s: %w", path, err)
	}
	return ParseRegistry(raw)
}

// ParseRegistry decodes registry YAML and rejects empty or duplicate ids.
func ParseRegistry(raw []byte) (*Registry, error) {
	var reg Registry
	if err := yaml.Unmarshal(raw, &reg); err != nil {
		return nil, fmt.Errorf("kb registry: parse: %w", err)
	}
	if len(reg.KnowledgeBases) == 0 {
		return nil, fmt.Errorf("kb registry: no knowledge bases declared")
	}
	seen := map[string]bool{}
	for i := range reg.KnowledgeBases {
		kb := &reg.KnowledgeBases[i]
		kb.ID = strings.TrimSpace(kb.ID)
		if kb.ID == "" {
			return nil, fmt.Errorf("kb registry: entry %d missing id", i)
		}
		if seen[kb.ID] {
			return nil, fmt.Errorf("kb registry: duplicate id %q", kb.ID)
		}
		seen[kb.ID] = true
	}
	return &reg, nil
}

// IDs returns all declared knowledge-base ids.
func (r *Registry) IDs() []string {
	out := make([]string, 0, len(r.KnowledgeBases))
	for _, kb := range r.KnowledgeBases {
		out = append(out, kb.ID)
	}
	return out
}

// Version combines the per-KB versions into one pool version tag.
func (r *Registry) Version() string {
	parts := make([]string, 0, len(r.KnowledgeBases))
	for _, kb := range r.KnowledgeBases {
		v := kb.Version
		if v == "" {
			v = "unversioned"
		}
		parts = append(parts, kb.ID+"@"+v)
	}
	return strings.Join(parts, ",")
}
