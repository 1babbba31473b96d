package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Section kinds assigned during document structuring.
const (
	SectionKindFacts      = "facts"
	SectionKindDiscussion = "discussion"
	SectionKindQuestions  = "questions"
	SectionKindConclusion = "conclusion"
	SectionKindReference  = "reference"
	SectionKindOther      = "other"
)

// Association methods, in increasing order of authority.
const (
	MethodEmbedding      = "embedding"
	MethodHybridFallback = "hybrid-fallback"
	MethodLLM            = "llm"
)

// MethodPrecedence orders methods for upsert and dedupe tie-breaks:
// llm > hybrid-fallback > embedding.
func MethodPrecedence(method string) int {
	switch method {
	case MethodLLM:
		return 3
	case MethodHybridFallback:
		return 2
	case MethodEmbedding:
		return 1
	default:
		return 0
	}
}

type Document struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Title     string         `gorm:"column:title;not null" json:"title"`
	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Document) TableName() string { return "document" }

type Section struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	DocumentID uuid.UUID      `gorm:"type:uuid;not null;index" json:"document_id"`
	Document   *Document      `gorm:"constraint:OnDelete:CASCADE;foreignKey:DocumentID;references:ID" json:"document,omitempty"`
	Index      int            `gorm:"column:idx;not null" json:"index"`
	Kind       string         `gorm:"column:kind;not null" json:"kind"` // facts|discussion|questions|conclusion|reference|other
	Text       string         `gorm:"column:text;type:text;not null" json:"text"`
	Embedding  datatypes.JSON `gorm:"column:embedding" json:"embedding,omitempty"`
	EmbedModel string         `gorm:"column:embed_model" json:"embed_model,omitempty"`
	CreatedAt  time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"not null" json:"updated_at"`
}

func (Section) TableName() string { return "section" }

// EmbeddingVector decodes the stored embedding. The second return is false
// when no usable vector is stored.
func (s *Section) EmbeddingVector() ([]float32, bool) {
	return DecodeEmbedding(s.Embedding)
}

// Association is the persisted link between a section and a triple. Identity
// is (section_id, subject, predicate, object); reruns update in place.
type Association struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SectionID     uuid.UUID `gorm:"type:uuid;not null;index:idx_section_triple,unique,priority:1" json:"section_id"`
	Section       *Section  `gorm:"constraint:OnDelete:CASCADE;foreignKey:SectionID;references:ID" json:"section,omitempty"`
	Subject       string    `gorm:"column:subject;not null;index:idx_section_triple,unique,priority:2" json:"subject"`
	Predicate     string    `gorm:"column:predicate;not null;index:idx_section_triple,unique,priority:3" json:"predicate"`
	Object        string    `gorm:"column:object;not null;index:idx_section_triple,unique,priority:4" json:"object"`
	Score         float64   `gorm:"column:score;not null" json:"score"`
	Method        string    `gorm:"column:method;not null" json:"method"` // embedding|hybrid-fallback|llm
	Explanation   string    `gorm:"column:explanation;type:text" json:"explanation,omitempty"`
	KnowledgeBase string    `gorm:"column:knowledge_base" json:"knowledge_base,omitempty"`
	CreatedAt     time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time `gorm:"not null" json:"updated_at"`
}

func (Association) TableName() string { return "section_triple_association" }

// AssociationRun records the outcome of one association-generation run for a
// section, so reruns and degraded runs stay observable.
type AssociationRun struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SectionID  uuid.UUID `gorm:"type:uuid;not null;index" json:"section_id"`
	Mode       string    `gorm:"column:mode;not null" json:"mode"`
	Status     string    `gorm:"column:status;not null" json:"status"`
	Persisted  int       `gorm:"column:persisted;not null" json:"persisted"`
	Degraded   bool      `gorm:"column:degraded;not null" json:"degraded"`
	Warning    string    `gorm:"column:warning;type:text" json:"warning,omitempty"`
	CreatedAt  time.Time `gorm:"not null" json:"created_at"`
}

func (AssociationRun) TableName() string { return "association_run" }

// DecodeEmbedding parses a JSON-stored vector, accepting float32 or float64
// encodings.
func DecodeEmbedding(emb datatypes.JSON) ([]float32, bool) {
	if len(emb) == 0 {
		return nil, false
	}
	var out []float32
	if err := json.Unmarshal(emb, &out); err == nil && len(out) > 0 {
		return out, true
	}
	var tmp []float64
	if err := json.Unmarshal(emb, &tmp); err != nil || len(tmp) == 0 {
		return nil, false
	}
	out = make([]float32, 0, len(tmp))
	for _, f := range tmp {
		out = append(out, float32(f))
	}
	return out, true
}

// EncodeEmbedding serializes a vector for a JSON column.
func EncodeEmbedding(vec []float32) datatypes.JSON {
	if len(vec) == 0 {
		return nil
	}
	raw, err := json.Marshal(vec)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}
