package toxic

import (
	"fmt"
	"log"
	"math"
	"sync/atomic"
)

// CleanLabel is the sentinel label returned for non-toxic or unclassifiable text.
const CleanLabel = "clean"

// Classifier scores raw text against a loaded model. Safe for concurrent use,
// the model is held behind an atomic handle and swapped as a whole on reload.
// With no model loaded the classifier fails open: everything is clean.
type Classifier struct {
	Config
	model atomic.Pointer[Model]
}

// Config is a set of classifier parameters.
type Config struct {
	// Threshold is the aggregate toxic probability required to flag text,
	// 0..1. Zero disables the threshold policy and plain argmax over
	// log scores decides the label.
	Threshold float64
}

// NewClassifier makes a classifier with no model loaded
func NewClassifier(cfg Config) *Classifier {
	return &Classifier{Config: cfg}
}

// LoadFromFile loads and validates a model artifact. On failure the previous
// model (if any) is kept and the error returned; the caller decides whether
// to treat it as fatal. The classifier itself keeps running fail-open.
func (c *Classifier) LoadFromFile(path string) error {
	m, err := LoadModel(path)
	if err != nil {
		return fmt.Errorf("can't load model: %w", err)
	}
	c.SetModel(m)
	log.Printf("[INFO] model loaded from %s, classes: %v, vocabulary: %d tokens, trained: %s",
		path, m.Classes, len(m.VocabIndex), m.TrainedAt.Format("2006-01-02 15:04:05"))
	return nil
}

// SetModel replaces the current model
func (c *Classifier) SetModel(m *Model) {
	if m != nil && m.stopSet == nil {
		m.stopSet = stopWordsSet(m.StopWords)
	}
	c.model.Store(m)
}

// Loaded reports if a model is available
func (c *Classifier) Loaded() bool { return c.model.Load() != nil }

// Predict classifies raw text and returns the toxicity flag with a label.
// Without a model it never fails and returns (false, "clean") - unclassifiable
// content is not blocked. With the threshold disabled the class with the
// maximum accumulated log score wins; otherwise text is flagged only when the
// aggregate probability of all toxic classes exceeds the threshold.
func (c *Classifier) Predict(text string) (toxic bool, label string) {
	m := c.model.Load()
	if m == nil {
		return false, CleanLabel
	}

	counts := tokenCounts(Tokenize(text, m.stopSet))
	scores := m.logScores(counts)

	if c.Threshold <= 0 {
		best := 0
		for i := range scores {
			if scores[i] > scores[best] {
				best = i
			}
		}
		if m.Classes[best] == m.NonToxicLabel {
			return false, CleanLabel
		}
		return true, m.Classes[best]
	}

	// threshold policy: softmax over log scores, flag if the total toxic
	// probability is high enough, report the most likely toxic class
	probs := softmax(scores)
	totalToxic := 0.0
	bestToxic, bestToxicProb := "", -1.0
	for i, class := range m.Classes {
		if class == m.NonToxicLabel {
			continue
		}
		totalToxic += probs[i]
		if probs[i] > bestToxicProb {
			bestToxic, bestToxicProb = class, probs[i]
		}
	}
	if totalToxic > c.Threshold {
		return true, bestToxic
	}
	return false, CleanLabel
}

// softmax converts log scores to normalized probabilities, max-subtracted
// for numerical stability
func softmax(scores []float64) []float64 {
	if len(scores) == 0 {
		return nil
	}
	maxScore := scores[0]
	for _, s := range scores[1:] {
		if s > maxScore {
			maxScore = s
		}
	}
	probs := make([]float64, len(scores))
	sum := 0.0
	for i, s := range scores {
		probs[i] = math.Exp(s - maxScore)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}
