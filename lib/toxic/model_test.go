package toxic

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validTestModel builds the smallest hand-made artifact passing validation
func validTestModel() *Model {
	return &Model{
		Classes:       []string{"insult", "non-toxic"},
		NonToxicLabel: "non-toxic",
		VocabIndex:    map[string]int{"worst": 0, "kind": 1},
		VocabSize:     2,
		Priors:        map[string]float64{"insult": -0.69, "non-toxic": -0.69},
		Likelihoods:   map[string][]float64{"insult": {-0.5, -2.5}, "non-toxic": {-2.5, -0.5}},
		Alpha:         1,
		TotalTokens:   map[string]float64{"insult": 10, "non-toxic": 10},
		StopWords:     []string{"the", "you"},
	}
}

func TestModel_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(m *Model)
		errPart string
	}{
		{name: "valid model", mutate: func(m *Model) {}},
		{
			name:    "empty classes",
			mutate:  func(m *Model) { m.Classes = nil },
			errPart: "classes are empty",
		},
		{
			name:    "missing non-toxic label",
			mutate:  func(m *Model) { m.NonToxicLabel = "" },
			errPart: "non_toxic_label is empty",
		},
		{
			name:    "non-toxic label not in classes",
			mutate:  func(m *Model) { m.NonToxicLabel = "other" },
			errPart: "not present in classes",
		},
		{
			name:    "zero alpha",
			mutate:  func(m *Model) { m.Alpha = 0 },
			errPart: "alpha must be positive",
		},
		{
			name:    "missing prior",
			mutate:  func(m *Model) { delete(m.Priors, "insult") },
			errPart: `class "insult" has no prior`,
		},
		{
			name:    "missing likelihoods",
			mutate:  func(m *Model) { delete(m.Likelihoods, "insult") },
			errPart: `class "insult" has no likelihoods`,
		},
		{
			name:    "likelihood vector size mismatch",
			mutate:  func(m *Model) { m.Likelihoods["insult"] = []float64{-0.5} },
			errPart: "doesn't match vocabulary size",
		},
		{
			name:    "missing token total",
			mutate:  func(m *Model) { delete(m.TotalTokens, "non-toxic") },
			errPart: `class "non-toxic" has no token total`,
		},
		{
			name:    "vocabulary size mismatch",
			mutate:  func(m *Model) { m.VocabSize = 5 },
			errPart: "doesn't match index size",
		},
		{
			name:    "vocabulary index out of range",
			mutate:  func(m *Model) { m.VocabIndex["worst"] = 7 },
			errPart: "out of range",
		},
		{
			name:    "duplicate vocabulary index",
			mutate:  func(m *Model) { m.VocabIndex["worst"] = 1 },
			errPart: "duplicate vocabulary index",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validTestModel()
			tt.mutate(m)
			err := m.Validate()
			if tt.errPart == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errPart)
		})
	}
}

func TestModel_Validate_CollectsAllProblems(t *testing.T) {
	m := validTestModel()
	m.Alpha = 0
	delete(m.Priors, "insult")
	m.VocabSize = 99

	err := m.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alpha must be positive")
	assert.Contains(t, err.Error(), "has no prior")
	assert.Contains(t, err.Error(), "doesn't match index size")
}

func TestModel_SaveLoad(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		m := validTestModel()
		path := filepath.Join(t.TempDir(), "model.json")
		require.NoError(t, m.Save(path))

		loaded, err := LoadModel(path)
		require.NoError(t, err)
		assert.Equal(t, m.Classes, loaded.Classes)
		assert.Equal(t, m.VocabIndex, loaded.VocabIndex)
		assert.Equal(t, m.Priors, loaded.Priors)
		assert.Equal(t, m.Likelihoods, loaded.Likelihoods)
		assert.Equal(t, m.TotalTokens, loaded.TotalTokens)
		assert.Equal(t, m.StopWords, loaded.StopWords)
		assert.NotNil(t, loaded.stopSet)
	})

	t.Run("save refuses invalid model", func(t *testing.T) {
		m := validTestModel()
		m.Alpha = 0
		path := filepath.Join(t.TempDir(), "model.json")
		assert.Error(t, m.Save(path))
		_, statErr := os.Stat(path)
		assert.True(t, os.IsNotExist(statErr), "no partial artifact written")
	})

	t.Run("save to bad location", func(t *testing.T) {
		m := validTestModel()
		assert.Error(t, m.Save("/nonexistent-dir/model.json"))
	})

	t.Run("load missing file", func(t *testing.T) {
		_, err := LoadModel(filepath.Join(t.TempDir(), "nope.json"))
		assert.Error(t, err)
	})
}

func TestModel_LogScores(t *testing.T) {
	m := validTestModel()

	t.Run("known token favors its class", func(t *testing.T) {
		scores := m.logScores(map[string]int{"worst": 1})
		assert.Greater(t, scores[0], scores[1], "insult should outscore non-toxic")
	})

	t.Run("token count scales contribution", func(t *testing.T) {
		one := m.logScores(map[string]int{"worst": 1})
		three := m.logScores(map[string]int{"worst": 3})
		assert.InDelta(t, 3*(one[0]-m.Priors["insult"]), three[0]-m.Priors["insult"], 1e-9)
	})

	t.Run("unseen token penalized uniformly", func(t *testing.T) {
		scores := m.logScores(map[string]int{"zzzz": 1})
		// equal priors and equal totals, both classes get the same penalty
		assert.InDelta(t, scores[0], scores[1], 1e-9)
	})

	t.Run("empty counts reduce to priors", func(t *testing.T) {
		scores := m.logScores(map[string]int{})
		assert.InDelta(t, m.Priors["insult"], scores[0], 1e-9)
		assert.InDelta(t, m.Priors["non-toxic"], scores[1], 1e-9)
	})

	t.Run("scores bitwise stable across calls", func(t *testing.T) {
		// many tokens make float accumulation order matter; repeated calls
		// must produce identical results, not just close ones
		big := validTestModel()
		big.VocabIndex = map[string]int{}
		big.Likelihoods = map[string][]float64{"insult": {}, "non-toxic": {}}
		counts := map[string]int{}
		for i := 0; i < 64; i++ {
			token := string(rune('a'+i%26)) + string(rune('a'+i/26))
			big.VocabIndex[token] = i
			big.Likelihoods["insult"] = append(big.Likelihoods["insult"], -0.1*float64(i+1))
			big.Likelihoods["non-toxic"] = append(big.Likelihoods["non-toxic"], -0.3/float64(i+1))
			counts[token] = i%3 + 1
		}
		big.VocabSize = 64

		first := big.logScores(counts)
		for i := 0; i < 20; i++ {
			assert.Equal(t, first, big.logScores(counts), "iteration order must not affect scores")
		}
	})
}
