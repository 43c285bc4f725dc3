// Package classifier implements the linear face classifier: a multinomial
// logistic regression over face embeddings, trained offline and loaded read-only
// by the server.
package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
)

var (
	// ErrNoSamples is returned when Fit is called without training data
	ErrNoSamples = errors.New("no training samples")
	// ErrTooFewClasses is returned when the training data covers fewer than two labels
	ErrTooFewClasses = errors.New("at least two distinct labels are required")
	// ErrDimensionMismatch is returned for embeddings of the wrong length
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Sample is one labelled embedding
type Sample struct {
	Embedding []float64
	Label     string
}

// Options controls training
type Options struct {
	Epochs       int
	LearningRate float64
	L2           float64
}

// DefaultOptions works well for 128-d dlib descriptors
func DefaultOptions() Options {
	return Options{
		Epochs:       500,
		LearningRate: 0.5,
		L2:           1e-4,
	}
}

// Model is a fitted classifier. It is never mutated after Fit or Load, so a
// single instance can serve concurrent requests.
type Model struct {
	Labels    []string    `json:"labels"`
	Dim       int         `json:"dim"`
	Weights   [][]float64 `json:"weights"`
	Bias      []float64   `json:"bias"`
	Samples   int         `json:"samples"`
	TrainedAt time.Time   `json:"trained_at"`
}

// Prediction is the classifier output after the confidence threshold is applied
type Prediction struct {
	Label         string             `json:"label"`
	Confidence    float64            `json:"confidence"`
	Probabilities map[string]float64 `json:"probabilities"`
	// Predicted is the top label before thresholding
	Predicted string `json:"predicted"`
}

// Fit trains a model with full-batch gradient descent. Labels are sorted so the
// model (and its tie-break order) is independent of sample order.
func Fit(samples []Sample, opts Options) (*Model, error) {
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}
	if opts.Epochs <= 0 || opts.LearningRate <= 0 {
		return nil, fmt.Errorf("invalid training options: %+v", opts)
	}

	dim := len(samples[0].Embedding)
	if dim == 0 {
		return nil, fmt.Errorf("%w: empty embedding", ErrDimensionMismatch)
	}

	index := make(map[string]int)
	for i, s := range samples {
		if len(s.Embedding) != dim {
			return nil, fmt.Errorf("%w: sample %d has %d values, expected %d", ErrDimensionMismatch, i, len(s.Embedding), dim)
		}
		index[s.Label] = 0
	}
	labels := make([]string, 0, len(index))
	for l := range index {
		labels = append(labels, l)
	}
	if len(labels) < 2 {
		return nil, ErrTooFewClasses
	}
	sort.Strings(labels)
	for i, l := range labels {
		index[l] = i
	}

	k := len(labels)
	m := &Model{
		Labels:  labels,
		Dim:     dim,
		Weights: newMatrix(k, dim),
		Bias:    make([]float64, k),
		Samples: len(samples),
	}

	gradW := newMatrix(k, dim)
	gradB := make([]float64, k)
	probs := make([]float64, k)
	n := float64(len(samples))

	for epoch := 0; epoch < opts.Epochs; epoch++ {
		for c := 0; c < k; c++ {
			zero(gradW[c])
		}
		zero(gradB)

		for _, s := range samples {
			m.scores(s.Embedding, probs)
			softmax(probs)
			target := index[s.Label]
			for c := 0; c < k; c++ {
				g := probs[c]
				if c == target {
					g -= 1
				}
				floats.AddScaled(gradW[c], g, s.Embedding)
				gradB[c] += g
			}
		}

		for c := 0; c < k; c++ {
			// w -= lr * (grad/n + l2*w)
			floats.Scale(1-opts.LearningRate*opts.L2, m.Weights[c])
			floats.AddScaled(m.Weights[c], -opts.LearningRate/n, gradW[c])
			m.Bias[c] -= opts.LearningRate * gradB[c] / n
		}
	}

	m.TrainedAt = time.Now().UTC()
	return m, nil
}

// PredictProba returns one probability per label, aligned with m.Labels
func (m *Model) PredictProba(embedding []float64) ([]float64, error) {
	if len(embedding) != m.Dim {
		return nil, fmt.Errorf("%w: got %d values, expected %d", ErrDimensionMismatch, len(embedding), m.Dim)
	}
	probs := make([]float64, len(m.Labels))
	m.scores(embedding, probs)
	softmax(probs)
	return probs, nil
}

// Predict classifies an embedding. A top probability below threshold yields
// unknownLabel. Equal maxima resolve to the first label in sorted order.
func (m *Model) Predict(embedding []float64, threshold float64, unknownLabel string) (Prediction, error) {
	probs, err := m.PredictProba(embedding)
	if err != nil {
		return Prediction{}, err
	}

	best := floats.MaxIdx(probs)
	p := Prediction{
		Label:         m.Labels[best],
		Predicted:     m.Labels[best],
		Confidence:    probs[best],
		Probabilities: make(map[string]float64, len(probs)),
	}
	for i, l := range m.Labels {
		p.Probabilities[l] = probs[i]
	}
	if p.Confidence < threshold {
		p.Label = unknownLabel
	}
	return p, nil
}

// HasLabel reports whether label was part of the training set
func (m *Model) HasLabel(label string) bool {
	i := sort.SearchStrings(m.Labels, label)
	return i < len(m.Labels) && m.Labels[i] == label
}

// Validate checks the shape of a deserialized model
func (m *Model) Validate() error {
	if len(m.Labels) < 2 {
		return ErrTooFewClasses
	}
	if !sort.StringsAreSorted(m.Labels) {
		return fmt.Errorf("model labels are not sorted")
	}
	if len(m.Weights) != len(m.Labels) || len(m.Bias) != len(m.Labels) {
		return fmt.Errorf("model has %d labels but %d weight rows and %d biases", len(m.Labels), len(m.Weights), len(m.Bias))
	}
	for i, row := range m.Weights {
		if len(row) != m.Dim {
			return fmt.Errorf("%w: weight row %d has %d values, expected %d", ErrDimensionMismatch, i, len(row), m.Dim)
		}
	}
	return nil
}

// Save writes the model as JSON, replacing any previous file atomically
func (m *Model) Save(path string) error {
	return writeJSON(path, m)
}

// Load reads and validates a model written by Save
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read classifier: %w", err)
	}
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode classifier: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid classifier %s: %w", path, err)
	}
	return &m, nil
}

func (m *Model) scores(x, out []float64) {
	for c := range m.Labels {
		out[c] = floats.Dot(m.Weights[c], x) + m.Bias[c]
	}
}

func softmax(z []float64) {
	max := floats.Max(z)
	for i := range z {
		z[i] = math.Exp(z[i] - max)
	}
	floats.Scale(1/floats.Sum(z), z)
}

func newMatrix(rows, cols int) [][]float64 {
	m := make([][]float64, rows)
	for i := range m {
		m[i] = make([]float64, cols)
	}
	return m
}

func zero(s []float64) {
	for i := range s {
		s[i] = 0
	}
}

// writeJSON is shared by the model and embedding-set artifacts
func writeJSON(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
