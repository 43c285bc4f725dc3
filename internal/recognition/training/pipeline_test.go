package training

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"smart-doorbell-go/internal/recognition/classifier"
	"smart-doorbell-go/internal/recognition/embedding"
)

// fakeExtractor derives embeddings from the file content: "a" and "b" map to
// two clusters, "ab" holds one face of each, anything else has no face.
type fakeExtractor struct {
	calls int
}

func (f *fakeExtractor) Extract(ctx context.Context, data []byte) ([]float64, error) {
	return nil, errors.New("not used")
}

func (f *fakeExtractor) ExtractFile(ctx context.Context, path string) ([]float64, error) {
	return nil, errors.New("not used")
}

func (f *fakeExtractor) ExtractAll(ctx context.Context, path string) ([][]float64, error) {
	f.calls++
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, embedding.ErrImageUnreadable
	}
	var out [][]float64
	for _, c := range strings.TrimSpace(string(data)) {
		switch c {
		case 'a':
			out = append(out, []float64{1, 0})
		case 'b':
			out = append(out, []float64{0, 1})
		}
	}
	if len(out) == 0 {
		return nil, embedding.ErrNoFace
	}
	return out, nil
}

func (f *fakeExtractor) Close() error { return nil }

func writeDataset(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func TestScan(t *testing.T) {
	root := writeDataset(t, map[string]string{
		"alice/1.jpg":         "a",
		"alice/2.jpg":         "a",
		"bob/1.jpg":           "b",
		"README.md":           "ignored",
		"bob/nested/deep.jpg": "b",
	})

	images, err := Scan(root)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(images) != 3 {
		t.Fatalf("expected 3 images, got %+v", images)
	}
	if images[0].Label != "alice" || images[2].Label != "bob" {
		t.Errorf("unexpected labels %+v", images)
	}

	if _, err := Scan(filepath.Join(root, "missing")); err == nil {
		t.Errorf("expected error for missing dataset")
	}
}

func TestRun(t *testing.T) {
	root := writeDataset(t, map[string]string{
		"alice/1.jpg": "a",
		"alice/2.jpg": "aa",
		"alice/3.jpg": "blurry",
		"bob/1.jpg":   "b",
		"bob/2.jpg":   "b",
		"carol/1.jpg": "nothing here",
	})
	out := t.TempDir()
	ext := &fakeExtractor{}

	var progressed []string
	report, err := Run(context.Background(), ext, Options{
		DatasetDir:     root,
		ClassifierPath: filepath.Join(out, "models", "classifier.json"),
		EmbeddingsPath: filepath.Join(out, "embeddings", "face_embeddings.json"),
		Fit:            classifier.DefaultOptions(),
		Progress:       func(path string) { progressed = append(progressed, path) },
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.Images != 6 || report.Skipped != 2 || report.Samples != 5 {
		t.Errorf("unexpected report %+v", report)
	}
	if len(progressed) != 6 || ext.calls != 6 {
		t.Errorf("expected progress for every image, got %d (calls %d)", len(progressed), ext.calls)
	}

	// carol contributed no embedding, so it is not a label
	if len(report.Labels) != 2 || report.Labels[0] != "alice" || report.Labels[1] != "bob" {
		t.Errorf("unexpected labels %v", report.Labels)
	}

	model, err := classifier.Load(filepath.Join(out, "models", "classifier.json"))
	if err != nil {
		t.Fatalf("classifier not persisted: %v", err)
	}
	p, err := model.Predict([]float64{0.9, 0.1}, 0.5, "unknown")
	if err != nil || p.Label != "alice" {
		t.Errorf("expected alice, got %+v (%v)", p, err)
	}

	set, err := classifier.LoadEmbeddingSet(filepath.Join(out, "embeddings", "face_embeddings.json"))
	if err != nil {
		t.Fatalf("embeddings not persisted: %v", err)
	}
	if len(set.Labels) != 5 {
		t.Errorf("expected 5 stored embeddings, got %d", len(set.Labels))
	}
}

func TestRun_SingleLabelFails(t *testing.T) {
	root := writeDataset(t, map[string]string{
		"alice/1.jpg": "a",
		"bob/1.jpg":   "none",
	})
	out := t.TempDir()

	_, err := Run(context.Background(), &fakeExtractor{}, Options{
		DatasetDir:     root,
		ClassifierPath: filepath.Join(out, "classifier.json"),
		EmbeddingsPath: filepath.Join(out, "embeddings.json"),
		Fit:            classifier.DefaultOptions(),
	})
	if !errors.Is(err, classifier.ErrTooFewClasses) {
		t.Fatalf("expected ErrTooFewClasses, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(out, "classifier.json")); !os.IsNotExist(err) {
		t.Errorf("no classifier should be written on failure")
	}
}

func TestCollect_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := Collect(ctx, &fakeExtractor{}, []Image{{Path: "x", Label: "a"}}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRefit(t *testing.T) {
	root := writeDataset(t, map[string]string{
		"alice/1.jpg": "a",
		"alice/2.jpg": "a",
		"bob/1.jpg":   "b",
		"bob/2.jpg":   "b",
	})
	out := t.TempDir()
	opts := Options{
		DatasetDir:     root,
		ClassifierPath: filepath.Join(out, "models", "classifier.json"),
		EmbeddingsPath: filepath.Join(out, "embeddings", "face_embeddings.json"),
		Fit:            classifier.DefaultOptions(),
	}
	if _, err := Run(context.Background(), &fakeExtractor{}, opts); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if err := os.Remove(opts.ClassifierPath); err != nil {
		t.Fatal(err)
	}

	opts.Fit.Epochs = 50
	report, err := Refit(opts)
	if err != nil {
		t.Fatalf("Refit failed: %v", err)
	}
	if report.Samples != 4 || len(report.Labels) != 2 || report.Labels[0] != "alice" {
		t.Errorf("unexpected report %+v", report)
	}
	if _, err := classifier.Load(opts.ClassifierPath); err != nil {
		t.Errorf("refit classifier not written: %v", err)
	}

	opts.EmbeddingsPath = filepath.Join(out, "missing.json")
	if _, err := Refit(opts); err == nil {
		t.Errorf("expected an error without an embedding set")
	}
}
