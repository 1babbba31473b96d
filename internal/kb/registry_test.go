package kb

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleRegistry = `
knowledge_bases:
  - id: engineering-ethics
    version: "2"
    namespaces: [safety, obligations]
  - id: legal-concepts
`

func TestParseRegistry(t *testing.T) {
	reg, err := ParseRegistry([]byte(sampleRegistry))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ids := reg.IDs()
	if len(ids) != 2 || ids[0] != "engineering-ethics" || ids[1] != "legal-concepts" {
		t.Fatalf("unexpected ids: %v", ids)
	}
	if got := reg.Version(); got != "engineering-ethics@2,legal-concepts@unversioned" {
		t.Fatalf("unexpected version tag %q", got)
	}
}

func TestParseRegistry_RejectsEmpty(t *testing.T) {
	if _, err := ParseRegistry([]byte("knowledge_bases: []")); err == nil {
		t.Fatal("expected error for empty registry")
	}
}

func TestParseRegistry_RejectsDuplicateIDs(t *testing.T) {
	raw := []byte("knowledge_bases:\n  - id: a\n  - id: a\n")
	if _, err := ParseRegistry(raw); err == nil {
		t.Fatal("expected error for duplicate id")
	}
}

func TestParseRegistry_RejectsBlankID(t *testing.T) {
	raw := []byte("knowledge_bases:\n  - id: \"  \"\n")
	if _, err := ParseRegistry(raw); err == nil {
		t.Fatal("expected error for blank id")
	}
}

func TestLoadRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	if err := os.WriteFile(path, []byte(sampleRegistry), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	reg, err := LoadRegistry(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(reg.KnowledgeBases) != 2 {
		t.Fatalf("expected 2 knowledge bases, got %d", len(reg.KnowledgeBases))
	}

	if _, err := LoadRegistry(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
