package toxic

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"math/rand"
	"sort"
	"strings"
	"time"
)

// Sample is a single labeled training example.
type Sample struct {
	Text  string
	Label string
}

// TrainerConfig is a set of parameters for Trainer. Zero values are replaced
// with defaults matching the reference training setup.
type TrainerConfig struct {
	Alpha         float64  // additive smoothing constant, default 1
	Seed          int64    // shuffle seed, fixed for reproducible runs, default 42
	SplitRatio    float64  // train split share, default 0.8
	NonToxicLabel string   // label considered clean, default "non-toxic"
	StopWords     []string // stop words for normalization, default builtin set
}

// Trainer is an offline batch trainer: builds vocabulary from a labeled
// corpus, computes class priors and laplace-smoothed likelihoods and
// evaluates the result on a held-out split. Straight-line job, no
// concurrency, invoked on developer-triggered retraining only.
type Trainer struct {
	TrainerConfig
}

// NewTrainer makes a trainer with the given config, filling in defaults
func NewTrainer(cfg TrainerConfig) *Trainer {
	if cfg.Alpha <= 0 {
		cfg.Alpha = 1
	}
	if cfg.Seed == 0 {
		cfg.Seed = 42
	}
	if cfg.SplitRatio <= 0 || cfg.SplitRatio >= 1 {
		cfg.SplitRatio = 0.8
	}
	if cfg.NonToxicLabel == "" {
		cfg.NonToxicLabel = "non-toxic"
	}
	if cfg.StopWords == nil {
		cfg.StopWords = DefaultStopWords()
	}
	return &Trainer{TrainerConfig: cfg}
}

// LoadCSV reads a labeled dataset with text and label columns. The first
// record may be a header naming the columns. Any malformed row aborts the
// whole load - a partially read corpus must not produce an artifact.
func (t *Trainer) LoadCSV(r io.Reader) ([]Sample, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 2

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("malformed training data: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("training data is empty")
	}

	// skip the header row if present
	start := 0
	if first := records[0]; strings.EqualFold(first[0], "comment_text") || strings.EqualFold(first[0], "text") {
		start = 1
	}

	samples := make([]Sample, 0, len(records)-start)
	for i, rec := range records[start:] {
		text, label := strings.TrimSpace(rec[0]), strings.TrimSpace(rec[1])
		if text == "" || label == "" {
			return nil, fmt.Errorf("malformed training data: empty text or label at row %d", i+start+1)
		}
		samples = append(samples, Sample{Text: text, Label: label})
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("training data has no samples")
	}
	return samples, nil
}

// Train runs the full training and evaluation process: deterministic
// shuffle, train/test split, vocabulary from the training split only,
// smoothed likelihoods, and a held-out evaluation report. The same seed and
// dataset always reproduce the identical model and report.
func (t *Trainer) Train(samples []Sample) (*Model, *Report, error) {
	if len(samples) < 2 {
		return nil, nil, fmt.Errorf("not enough samples to train: %d", len(samples))
	}

	shuffled := make([]Sample, len(samples))
	copy(shuffled, samples)
	rnd := rand.New(rand.NewSource(t.Seed)) //nolint:gosec // deterministic shuffle, not crypto
	rnd.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	splitIdx := int(t.SplitRatio * float64(len(shuffled)))
	trainSet, testSet := shuffled[:splitIdx], shuffled[splitIdx:]
	if len(trainSet) == 0 {
		return nil, nil, fmt.Errorf("training split is empty")
	}

	stopSet := stopWordsSet(t.StopWords)

	// vocabulary is built from the training split only, test-time unseen
	// tokens go through the smoothing path
	vocabSet := make(map[string]struct{})
	trainTokens := make([][]string, len(trainSet))
	for i, s := range trainSet {
		trainTokens[i] = Tokenize(s.Text, stopSet)
		for _, tok := range trainTokens[i] {
			vocabSet[tok] = struct{}{}
		}
	}
	if len(vocabSet) == 0 {
		return nil, nil, fmt.Errorf("training split produced an empty vocabulary")
	}
	vocab := make([]string, 0, len(vocabSet))
	for tok := range vocabSet {
		vocab = append(vocab, tok)
	}
	sort.Strings(vocab)
	vocabIndex := make(map[string]int, len(vocab))
	for i, tok := range vocab {
		vocabIndex[tok] = i
	}

	classSet := make(map[string]int)
	for _, s := range trainSet {
		classSet[s.Label]++
	}
	if _, ok := classSet[t.NonToxicLabel]; !ok {
		return nil, nil, fmt.Errorf("non-toxic label %q not present in training split", t.NonToxicLabel)
	}
	classes := make([]string, 0, len(classSet))
	for class := range classSet {
		classes = append(classes, class)
	}
	sort.Strings(classes)

	priors := make(map[string]float64, len(classes))
	for _, class := range classes {
		priors[class] = math.Log(float64(classSet[class]) / float64(len(trainSet)))
	}

	// every vocabulary slot starts with the alpha pseudo-count for every
	// class, and totals include them, i.e. laplace smoothing
	wordCounts := make(map[string][]float64, len(classes))
	totalTokens := make(map[string]float64, len(classes))
	for _, class := range classes {
		counts := make([]float64, len(vocab))
		for i := range counts {
			counts[i] = t.Alpha
		}
		wordCounts[class] = counts
		totalTokens[class] = t.Alpha * float64(len(vocab))
	}
	for i, s := range trainSet {
		for _, tok := range trainTokens[i] {
			if idx, ok := vocabIndex[tok]; ok {
				wordCounts[s.Label][idx]++
				totalTokens[s.Label]++
			}
		}
	}

	likelihoods := make(map[string][]float64, len(classes))
	for _, class := range classes {
		lh := make([]float64, len(vocab))
		for i, count := range wordCounts[class] {
			lh[i] = math.Log(count / totalTokens[class])
		}
		likelihoods[class] = lh
	}

	model := &Model{
		Classes:       classes,
		NonToxicLabel: t.NonToxicLabel,
		VocabIndex:    vocabIndex,
		VocabSize:     len(vocabIndex),
		Priors:        priors,
		Likelihoods:   likelihoods,
		Alpha:         t.Alpha,
		TotalTokens:   totalTokens,
		StopWords:     t.StopWords,
		TrainedAt:     time.Now(),
		stopSet:       stopSet,
	}
	if err := model.Validate(); err != nil {
		return nil, nil, fmt.Errorf("trained model failed validation: %w", err)
	}

	report := t.evaluate(model, testSet)
	return model, report, nil
}

// evaluate scores the held-out split with argmax over the shared scoring
// path and builds the confusion matrix with per-class metrics
func (t *Trainer) evaluate(m *Model, testSet []Sample) *Report {
	confusion := make(map[string]map[string]int, len(m.Classes))
	for _, actual := range m.Classes {
		confusion[actual] = make(map[string]int, len(m.Classes))
	}

	correct := 0
	for _, s := range testSet {
		scores := m.logScores(tokenCounts(Tokenize(s.Text, m.stopSet)))
		best := 0
		for i := range scores {
			if scores[i] > scores[best] {
				best = i
			}
		}
		predicted := m.Classes[best]
		if row, ok := confusion[s.Label]; ok {
			row[predicted]++
		}
		if predicted == s.Label {
			correct++
		}
	}

	metrics := make(map[string]ClassMetrics, len(m.Classes))
	for _, class := range m.Classes {
		tp := confusion[class][class]
		fp, fn := 0, 0
		for _, other := range m.Classes {
			if other == class {
				continue
			}
			fp += confusion[other][class]
			fn += confusion[class][other]
		}
		precision := safeDiv(float64(tp), float64(tp+fp))
		recall := safeDiv(float64(tp), float64(tp+fn))
		metrics[class] = ClassMetrics{
			Precision: precision,
			Recall:    recall,
			F1:        safeDiv(2*precision*recall, precision+recall),
		}
	}

	return &Report{
		Classes:   m.Classes,
		Confusion: confusion,
		Metrics:   metrics,
		Accuracy:  safeDiv(float64(correct), float64(len(testSet))),
		TestSize:  len(testSet),
		Correct:   correct,
	}
}

// Report is an evaluation report computed on the held-out split.
type Report struct {
	Classes   []string                  `json:"classes"`
	Confusion map[string]map[string]int `json:"confusion"` // actual -> predicted -> count
	Metrics   map[string]ClassMetrics   `json:"metrics"`
	Accuracy  float64                   `json:"accuracy"`
	TestSize  int                       `json:"test_size"`
	Correct   int                       `json:"correct"`
}

// ClassMetrics is a per-class evaluation summary.
type ClassMetrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
}

// String renders the report as a confusion matrix table with per-class
// precision/recall/f1 and overall accuracy
func (r *Report) String() string {
	var b strings.Builder

	b.WriteString("confusion matrix (actual \\ predicted):\n")
	fmt.Fprintf(&b, "%-20s", "")
	for _, c := range r.Classes {
		fmt.Fprintf(&b, "%-15s", c)
	}
	b.WriteString("\n")
	for _, actual := range r.Classes {
		fmt.Fprintf(&b, "%-20s", actual)
		for _, predicted := range r.Classes {
			fmt.Fprintf(&b, "%-15d", r.Confusion[actual][predicted])
		}
		b.WriteString("\n")
	}

	b.WriteString("\nclassification report:\n")
	fmt.Fprintf(&b, "%-20s%-12s%-12s%-12s\n", "class", "precision", "recall", "f1")
	for _, c := range r.Classes {
		m := r.Metrics[c]
		fmt.Fprintf(&b, "%-20s%-12.4f%-12.4f%-12.4f\n", c, m.Precision, m.Recall, m.F1)
	}
	fmt.Fprintf(&b, "\noverall accuracy: %.4f (%d of %d correct)\n", r.Accuracy, r.Correct, r.TestSize)
	return b.String()
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}
