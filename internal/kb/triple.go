package kb

import (
	"strings"
)

// Triple is a subject-predicate-object statement from a knowledge base.
// Identity is the (subject, predicate, object) tuple; everything else is
// presentation or matching support.
type Triple struct {
	Subject   string
	Predicate string
	Object    string

	// Optional human-readable material used to build embeddable text.
	SubjectLabel   string
	PredicateLabel string
	ObjectLabel    string
	Definition     string

	// Source knowledge base and topical namespace.
	KnowledgeBase string
	Namespace     string

	// Precomputed embedding; populated lazily by the candidate pool when the
	// loader did not supply one.
	Embedding []float32
}

// Identity returns the stable key for dedupe and persistence.
func (t Triple) Identity() string {
	return t.Subject + "\x1f" + t.Predicate + "\x1f" + t.Object
}

// EmbeddingText renders the triple as natural-ish text for the embedding
// model, preferring labels over raw URIs.
func (t Triple) EmbeddingText() string {
	parts := []string{
		pick(t.SubjectLabel, localName(t.Subject)),
		pick(t.PredicateLabel, localName(t.Predicate)),
		pick(t.ObjectLabel, localName(t.Object)),
	}
	text := strings.Join(parts, " ")
	if def := strings.TrimSpace(t.Definition); def != "" {
		text += ". " + def
	}
	return strings.TrimSpace(text)
}

func pick(label, fallback string) string {
	if s := strings.TrimSpace(label); s != "" {
		return s
	}
	return fallback
}

// localName strips URI scaffolding so "http://ex.org/onto#ReportViolation"
// reads as "ReportViolation". Literals pass through unchanged.
func localName(uri string) string {
	s := strings.TrimSpace(uri)
	if s == "" {
		return s
	}
	if i := strings.LastIndexAny(s, "#/"); i >= 0 && i < len(s)-1 && strings.Contains(s, "://") {
		s = s[i+1:]
	}
	return s
}
