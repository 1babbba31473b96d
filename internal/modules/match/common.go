package match

import (
	"math"
	"strings"
)

func cosineSim(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		av := float64(a[i])
		bv := float64(b[i])
		dot += av * bv
		na += av * av
		nb += bv * bv
	}
	if na <= 0 || nb <= 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func isZeroVector(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// charsPerToken is the rough budget heuristic used to bound chunk sizes for
// the reasoning service.
const charsPerToken = 4

// chunkByTokenBudget splits text into chunks of at most roughly budget
// tokens, preferring paragraph boundaries. Oversized paragraphs are
// hard-split.
func chunkByTokenBudget(text string, budgetTokens int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if budgetTokens <= 0 {
		return []string{text}
	}
	budgetChars := budgetTokens * charsPerToken
	if len(text) <= budgetChars {
		return []string{text}
	}

	var chunks []string
	var cur strings.Builder
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			chunks = append(chunks, s)
		}
		cur.Reset()
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if len(para) > budgetChars {
			flush()
			for start := 0; start < len(para); start += budgetChars {
				end := start + budgetChars
				if end > len(para) {
					end = len(para)
				}
				chunks = append(chunks, strings.TrimSpace(para[start:end]))
			}
			continue
		}
		if cur.Len() > 0 && cur.Len()+len(para)+2 > budgetChars {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(para)
	}
	flush()
	return chunks
}
