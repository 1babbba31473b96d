package match

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/semlink/semlink/internal/kb"
	"github.com/semlink/semlink/internal/platform/logger"
	"github.com/semlink/semlink/internal/platform/openai"
)

// llmReasoner adapts the OpenAI structured-output endpoint to the
// ReasoningService contract. The model sees short candidate ids (t0, t1, ...)
// and the adapter maps them back to triple identities, dropping anything the
// response got wrong.
type llmReasoner struct {
	log    *logger.Logger
	client openai.Client
}

func NewLLMReasoner(log *logger.Logger, client openai.Client) ReasoningService {
	return &llmReasoner{
		log:    log.With("component", "LLMReasoner"),
		client: client,
	}
}

const judgeSystemPrompt = `You assess whether statements from a knowledge base are relevant to a passage of a document.
For every candidate statement, report a relevance score between 0 and 1 and a one-sentence explanation.
Score 0 means unrelated; 1 means the passage directly expresses the statement. Judge only from the passage and context given.`

func judgeSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"judgments": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id":          map[string]any{"type": "string"},
						"score":       map[string]any{"type": "number"},
						"explanation": map[string]any{"type": "string"},
					},
					"required":             []string{"id", "score", "explanation"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"judgments"},
		"additionalProperties": false,
	}
}

func (r *llmReasoner) Judge(ctx context.Context, chunk string, candidates []kb.Triple, docCtx DocContext) ([]Judgment, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	idToIdentity := make(map[string]string, len(candidates))
	var user strings.Builder
	if docCtx.DocumentTitle != "" {
		fmt.Fprintf(&user, "Document: %s\n", docCtx.DocumentTitle)
	}
	if docCtx.SectionKind != "" {
		fmt.Fprintf(&user, "Section kind: %s\n", docCtx.SectionKind)
	}
	if docCtx.NeighborKind != "" {
		fmt.Fprintf(&user, "Neighboring section kind: %s\n", docCtx.NeighborKind)
	}
	fmt.Fprintf(&user, "\nPassage:\n%s\n\nCandidate statements:\n", chunk)
	for i, t := range candidates {
		id := fmt.Sprintf("t%d", i)
		idToIdentity[id] = t.Identity()
		fmt.Fprintf(&user, "%s: %s\n", id, t.EmbeddingText())
	}

	obj, err := r.client.GenerateJSON(ctx, judgeSystemPrompt, user.String(), "triple_judgments", judgeSchema())
	if err != nil {
		return nil, err
	}
	return r.coerce(obj, idToIdentity), nil
}

// coerce pulls strictly-typed judgments out of the loosely-typed response.
// Entries with an unknown id or non-numeric score are skipped here; range
// checks belong to the fine matcher.
func (r *llmReasoner) coerce(obj map[string]any, idToIdentity map[string]string) []Judgment {
	rawList, _ := obj["judgments"].([]any)
	out := make([]Judgment, 0, len(rawList))
	for _, raw := range rawList {
		entry, ok := raw.(map[string]any)
		if !ok {
			r.log.Warn("judgment entry is not an object, skipping")
			continue
		}
		id, _ := entry["id"].(string)
		identity, ok := idToIdentity[id]
		if !ok {
			r.log.Warn("judgment references unknown candidate id", "id", id)
			continue
		}
		score, ok := toFloat(entry["score"])
		if !ok {
			r.log.Warn("judgment score is not numeric", "id", id)
			continue
		}
		explanation, _ := entry["explanation"].(string)
		out = append(out, Judgment{
			TripleID:    identity,
			Score:       score,
			Explanation: strings.TrimSpace(explanation),
		})
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
