// Package keybert implements maximal-marginal-relevance keyphrase
// extraction over n-gram candidates drawn from a document, using the
// currently loaded TextEncoder for candidate and document embeddings, with
// optional weighted re-ranking against structured candidates (headers,
// metadata, entities, emphasis, captions).
package keybert

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/dockerish/embedworker/pkg/embedding"
	"gonum.org/v1/gonum/floats"
)

// structuralWeights maps a StructuredCandidate.Origin to its re-ranking
// weight. Unlisted origins receive the default weight (no boost).
var structuralWeights = map[string]float64{
	"metadata":   1.0,
	"headers":    0.9,
	"entities":   0.8,
	"emphasized": 0.7,
	"captions":   0.6,
}

const defaultStructuralWeight = 0.4

// structuralWeightThreshold is the minimum structural weight that actually
// triggers re-ranking; below it the raw KeyBERT score is used unchanged.
const structuralWeightThreshold = 0.4

var tokenPattern = regexp.MustCompile(`[A-Za-z0-9]+(?:[-'][A-Za-z0-9]+)*`)

// Extractor produces ranked keyphrases from a loaded TextEncoder.
type Extractor struct {
	encoder embedding.TextEncoder
}

// New creates an Extractor using encoder for candidate/document embedding.
func New(encoder embedding.TextEncoder) *Extractor {
	return &Extractor{encoder: encoder}
}

// Available reports whether extraction can run with the currently loaded
// encoder.
func (e *Extractor) Available() bool {
	return e.encoder != nil && e.encoder.EmbeddingDim() > 0
}

// Extract ranks candidate n-grams in req.Text within [MinNgram, MaxNgram],
// optionally diversified by maximal marginal relevance, then applies
// weighted re-ranking against req.StructuredCandidates before truncating to
// TopN.
func (e *Extractor) Extract(ctx context.Context, req embedding.KeyphraseRequest) ([]embedding.Keyphrase, error) {
	if !e.Available() {
		return nil, fmt.Errorf("keyphrase extraction unavailable: no encoder loaded")
	}

	minN, maxN := req.MinNgram, req.MaxNgram
	if minN <= 0 {
		minN = 1
	}
	if maxN <= 0 {
		maxN = 3
	}
	topN := req.TopN
	if topN <= 0 {
		topN = 10
	}

	candidates := candidateNgrams(req.Text, minN, maxN)
	if len(candidates) == 0 {
		return nil, nil
	}

	texts := append([]string{req.Text}, candidates...)
	rows, err := e.encoder.Encode(ctx, texts, len(texts))
	if err != nil {
		return nil, fmt.Errorf("embedding candidates: %w", err)
	}
	docVec := rows[0]
	candVecs := rows[1:]

	scores := cosineToDoc(docVec, candVecs)

	var selected []int
	if req.UseDiversity {
		selected = mmrSelect(candVecs, scores, req.DiversityFactor, min(topN, len(candidates)))
	} else {
		selected = rangeIndices(len(candidates))
	}

	results := make([]embedding.Keyphrase, 0, len(selected))
	for _, idx := range selected {
		results = append(results, embedding.Keyphrase{Text: candidates[idx], Score: scores[idx]})
	}

	if len(req.StructuredCandidates) > 0 {
		results = applyWeightedReranking(results, req.StructuredCandidates)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topN {
		results = results[:topN]
	}
	return results, nil
}

// candidateNgrams extracts distinct word n-grams of length in [minN, maxN]
// from text, shorter n-grams first and, within one length, in order of first
// appearance.
func candidateNgrams(text string, minN, maxN int) []string {
	words := tokenPattern.FindAllString(strings.ToLower(text), -1)
	seen := make(map[string]bool)
	var out []string
	for n := minN; n <= maxN; n++ {
		for i := 0; i+n <= len(words); i++ {
			phrase := strings.Join(words[i:i+n], " ")
			if !seen[phrase] {
				seen[phrase] = true
				out = append(out, phrase)
			}
		}
	}
	return out
}

// cosineToDoc returns, for each candidate vector, its cosine similarity
// with docVec, linearly rescaled into [0, 1].
func cosineToDoc(docVec []float32, candVecs [][]float32) []float64 {
	doc := toFloat64(docVec)
	docNorm := floats.Norm(doc, 2)

	scores := make([]float64, len(candVecs))
	for i, c := range candVecs {
		cv := toFloat64(c)
		cn := floats.Norm(cv, 2)
		if docNorm == 0 || cn == 0 {
			scores[i] = 0
			continue
		}
		cos := floats.Dot(doc, cv) / (docNorm * cn)
		scores[i] = (cos + 1) / 2
	}
	return scores
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

// mmrSelect picks up to n candidate indices by maximal marginal relevance:
// greedily pick the candidate maximizing
// diversity*relevance - (1-diversity)*max-similarity-to-already-selected.
func mmrSelect(candVecs [][]float32, relevance []float64, diversity float64, n int) []int {
	if diversity <= 0 {
		diversity = 0.5
	}
	remaining := rangeIndices(len(candVecs))
	var selected []int

	for len(remaining) > 0 && len(selected) < n {
		mmrScores := make([]float64, len(remaining))
		for i, idx := range remaining {
			maxSim := 0.0
			for _, sIdx := range selected {
				if sim := cosineSim(candVecs[idx], candVecs[sIdx]); sim > maxSim {
					maxSim = sim
				}
			}
			mmrScores[i] = diversity*relevance[idx] - (1-diversity)*maxSim
		}
		best := floats.MaxIdx(mmrScores)
		selected = append(selected, remaining[best])
		remaining = removeIndex(remaining, remaining[best])
	}
	return selected
}

func cosineSim(a, b []float32) float64 {
	av, bv := toFloat64(a), toFloat64(b)
	an, bn := floats.Norm(av, 2), floats.Norm(bv, 2)
	if an == 0 || bn == 0 {
		return 0
	}
	return floats.Dot(av, bv) / (an * bn)
}

func rangeIndices(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

func removeIndex(s []int, v int) []int {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

// applyWeightedReranking multiplies each result's score per
// final_score = structural_weight*0.3 + keybert_score*0.7 when the
// matching structural weight exceeds structuralWeightThreshold, leaving the
// score unchanged otherwise.
func applyWeightedReranking(results []embedding.Keyphrase, structured []embedding.StructuredCandidate) []embedding.Keyphrase {
	weightByText := make(map[string]float64, len(structured))
	for _, sc := range structured {
		w, ok := structuralWeights[sc.Origin]
		if !ok {
			w = defaultStructuralWeight
		}
		key := strings.ToLower(strings.TrimSpace(sc.Text))
		if existing, ok := weightByText[key]; !ok || w > existing {
			weightByText[key] = w
		}
	}

	out := make([]embedding.Keyphrase, len(results))
	for i, r := range results {
		w, ok := weightByText[strings.ToLower(strings.TrimSpace(r.Text))]
		if !ok || w <= structuralWeightThreshold {
			out[i] = r
			continue
		}
		out[i] = embedding.Keyphrase{
			Text:  r.Text,
			Score: w*0.3 + r.Score*0.7,
		}
	}
	return out
}
