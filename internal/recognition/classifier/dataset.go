package classifier

import (
	"encoding/json"
	"fmt"
	"os"
)

// EmbeddingSet is the raw training data kept next to the model so it can be
// inspected or refit without re-running face extraction.
type EmbeddingSet struct {
	Embeddings [][]float64 `json:"embeddings"`
	Labels     []string    `json:"labels"`
}

// NewEmbeddingSet splits samples into parallel embedding and label slices
func NewEmbeddingSet(samples []Sample) *EmbeddingSet {
	set := &EmbeddingSet{
		Embeddings: make([][]float64, len(samples)),
		Labels:     make([]string, len(samples)),
	}
	for i, s := range samples {
		set.Embeddings[i] = s.Embedding
		set.Labels[i] = s.Label
	}
	return set
}

// Samples reassembles the set into labelled samples
func (s *EmbeddingSet) Samples() ([]Sample, error) {
	if len(s.Embeddings) != len(s.Labels) {
		return nil, fmt.Errorf("embedding set has %d embeddings but %d labels", len(s.Embeddings), len(s.Labels))
	}
	out := make([]Sample, len(s.Labels))
	for i := range s.Labels {
		out[i] = Sample{Embedding: s.Embeddings[i], Label: s.Labels[i]}
	}
	return out, nil
}

// Save writes the set as JSON
func (s *EmbeddingSet) Save(path string) error {
	return writeJSON(path, s)
}

// LoadEmbeddingSet reads a set written by Save
func LoadEmbeddingSet(path string) (*EmbeddingSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedding set: %w", err)
	}
	var s EmbeddingSet
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode embedding set: %w", err)
	}
	if len(s.Embeddings) != len(s.Labels) {
		return nil, fmt.Errorf("embedding set has %d embeddings but %d labels", len(s.Embeddings), len(s.Labels))
	}
	return &s, nil
}
