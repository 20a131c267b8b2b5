// Package toxic implements a multinomial naive bayes toxicity classifier:
// a text normalizer, an immutable trained model artifact, an offline trainer
// and a runtime classifier scoring raw text against a loaded artifact.
package toxic

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Model is an immutable bundle of trained parameters produced by the Trainer
// and consumed by the Classifier. All probabilities are natural logs.
// The artifact is versioned by training run via TrainedAt; once loaded it is
// never mutated, so it is safe for unsynchronized concurrent reads.
type Model struct {
	Classes       []string             `json:"classes"`                // all class labels, sorted
	NonToxicLabel string               `json:"non_toxic_label"`        // the single label considered clean
	VocabIndex    map[string]int       `json:"vocabulary_index"`       // token -> dense index
	VocabSize     int                  `json:"vocabulary_size"`        // len(VocabIndex), kept explicit for validation
	Priors        map[string]float64   `json:"priors"`                 // class -> log prior
	Likelihoods   map[string][]float64 `json:"likelihoods"`            // class -> log P(token|class), indexed by VocabIndex
	Alpha         float64              `json:"alpha"`                  // additive smoothing constant
	TotalTokens   map[string]float64   `json:"total_tokens_per_class"` // per-class token totals, pseudo-counts included
	StopWords     []string             `json:"stop_words"`             // stop words the model was trained with
	TrainedAt     time.Time            `json:"trained_at"`             // training run timestamp

	stopSet map[string]struct{} // built once on load/train, not serialized
}

// LoadModel reads and validates a model artifact from a json file.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is provided by the operator
	if err != nil {
		return nil, fmt.Errorf("failed to read model file %s: %w", path, err)
	}
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse model file %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model %s: %w", path, err)
	}
	m.stopSet = stopWordsSet(m.StopWords)
	return &m, nil
}

// Save writes the model artifact to a json file. The write goes through a
// temp file in the same directory with a rename at the end, so a failed run
// never leaves a partial artifact behind.
func (m *Model) Save(path string) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid model: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal model: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write model: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to rename temp file to %s: %w", path, err)
	}
	return nil
}

// Validate checks the artifact schema: all required fields present and every
// per-class mapping and likelihood vector consistent with the vocabulary.
// All problems are collected and reported together.
func (m *Model) Validate() error {
	var result *multierror.Error

	if len(m.Classes) == 0 {
		result = multierror.Append(result, fmt.Errorf("classes are empty"))
	}
	if m.NonToxicLabel == "" {
		result = multierror.Append(result, fmt.Errorf("non_toxic_label is empty"))
	}
	if m.Alpha <= 0 {
		result = multierror.Append(result, fmt.Errorf("alpha must be positive, got %v", m.Alpha))
	}
	if len(m.VocabIndex) == 0 {
		result = multierror.Append(result, fmt.Errorf("vocabulary_index is empty"))
	}
	if m.VocabSize != len(m.VocabIndex) {
		result = multierror.Append(result, fmt.Errorf("vocabulary_size %d doesn't match index size %d",
			m.VocabSize, len(m.VocabIndex)))
	}

	seenNonToxic := false
	for _, class := range m.Classes {
		if class == m.NonToxicLabel {
			seenNonToxic = true
		}
		if _, ok := m.Priors[class]; !ok {
			result = multierror.Append(result, fmt.Errorf("class %q has no prior", class))
		}
		if _, ok := m.TotalTokens[class]; !ok {
			result = multierror.Append(result, fmt.Errorf("class %q has no token total", class))
		}
		lh, ok := m.Likelihoods[class]
		if !ok {
			result = multierror.Append(result, fmt.Errorf("class %q has no likelihoods", class))
			continue
		}
		if len(lh) != len(m.VocabIndex) {
			result = multierror.Append(result, fmt.Errorf("class %q likelihood vector size %d doesn't match vocabulary size %d",
				class, len(lh), len(m.VocabIndex)))
		}
	}
	if len(m.Classes) > 0 && m.NonToxicLabel != "" && !seenNonToxic {
		result = multierror.Append(result, fmt.Errorf("non_toxic_label %q not present in classes", m.NonToxicLabel))
	}

	// vocabulary indexes have to be dense and unique, they address likelihood vectors
	if len(m.VocabIndex) > 0 {
		seen := make([]bool, len(m.VocabIndex))
		for token, idx := range m.VocabIndex {
			if idx < 0 || idx >= len(m.VocabIndex) {
				result = multierror.Append(result, fmt.Errorf("token %q has index %d out of range", token, idx))
				continue
			}
			if seen[idx] {
				result = multierror.Append(result, fmt.Errorf("duplicate vocabulary index %d", idx))
			}
			seen[idx] = true
		}
	}

	return result.ErrorOrNil()
}

// logScores accumulates per-class log scores for the given token counts,
// aligned with m.Classes. This is the single scoring path shared by the
// classifier and the trainer's evaluation, so training-time and
// inference-time formulas can't drift apart.
func (m *Model) logScores(counts map[string]int) []float64 {
	// fixed token order keeps float accumulation identical between calls,
	// map iteration order would make near-tie argmax results flap
	tokens := make([]string, 0, len(counts))
	for token := range counts {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)

	scores := make([]float64, len(m.Classes))
	for i, class := range m.Classes {
		score := m.Priors[class]
		lh := m.Likelihoods[class]
		for _, token := range tokens {
			n := counts[token]
			if idx, ok := m.VocabIndex[token]; ok {
				score += float64(n) * lh[idx]
				continue
			}
			// unseen tokens are penalized uniformly per class, not dropped.
			// TotalTokens already includes the alpha*|V| pseudo-counts, making
			// this the textbook laplace-smoothed unseen probability.
			score += float64(n) * math.Log(m.Alpha/m.TotalTokens[class])
		}
		scores[i] = score
	}
	return scores
}

// tokenCounts builds a token frequency map from normalized tokens
func tokenCounts(tokens []string) map[string]int {
	counts := make(map[string]int, len(tokens))
	for _, t := range tokens {
		counts[t]++
	}
	return counts
}
