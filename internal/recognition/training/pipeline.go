// Package training builds the face classifier from a directory of labelled
// images laid out as <root>/<label>/<image>.
package training

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"smart-doorbell-go/internal/recognition/classifier"
	"smart-doorbell-go/internal/recognition/embedding"

	log "github.com/sirupsen/logrus"
)

// Options configures a training run
type Options struct {
	DatasetDir     string
	ClassifierPath string
	EmbeddingsPath string
	Fit            classifier.Options
	// Progress is called once per image, after it was processed
	Progress func(path string)
}

// Image is one file of the dataset
type Image struct {
	Path  string
	Label string
}

// Report summarises a finished run
type Report struct {
	Images  int
	Skipped int
	Samples int
	Labels  []string
	Model   *classifier.Model
}

// Scan lists the dataset images. Every immediate subdirectory of root is a
// label; files directly under root and nested directories are ignored.
func Scan(root string) ([]Image, error) {
	dirs, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset %s: %w", root, err)
	}

	var images []Image
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		label := d.Name()
		files, err := os.ReadDir(filepath.Join(root, label))
		if err != nil {
			return nil, fmt.Errorf("failed to read dataset label %s: %w", label, err)
		}
		for _, f := range files {
			if !f.Type().IsRegular() {
				continue
			}
			images = append(images, Image{Path: filepath.Join(root, label, f.Name()), Label: label})
		}
	}

	sort.Slice(images, func(i, j int) bool { return images[i].Path < images[j].Path })
	return images, nil
}

// Collect extracts every face of every image. Images without a usable face
// are skipped; any other extractor error aborts the run.
func Collect(ctx context.Context, ext embedding.Extractor, images []Image, progress func(string)) ([]classifier.Sample, int, error) {
	var samples []classifier.Sample
	skipped := 0

	for _, img := range images {
		if err := ctx.Err(); err != nil {
			return nil, skipped, err
		}

		vectors, err := ext.ExtractAll(ctx, img.Path)
		switch {
		case errors.Is(err, embedding.ErrNoEmbedding):
			log.WithError(err).Debugf("Skipping %s", img.Path)
			skipped++
		case err != nil:
			return nil, skipped, fmt.Errorf("failed to process %s: %w", img.Path, err)
		default:
			for _, v := range vectors {
				samples = append(samples, classifier.Sample{Embedding: v, Label: img.Label})
			}
		}

		if progress != nil {
			progress(img.Path)
		}
	}
	return samples, skipped, nil
}

// Run executes a full training run and writes both artifacts
func Run(ctx context.Context, ext embedding.Extractor, opts Options) (*Report, error) {
	images, err := Scan(opts.DatasetDir)
	if err != nil {
		return nil, err
	}
	log.Infof("Loading dataset and extracting features from %d images", len(images))

	samples, skipped, err := Collect(ctx, ext, images, opts.Progress)
	if err != nil {
		return nil, err
	}
	log.Infof("Found %d face embeddings (%d images skipped)", len(samples), skipped)

	model, err := classifier.Fit(samples, opts.Fit)
	if err != nil {
		return nil, fmt.Errorf("failed to train classifier: %w", err)
	}

	if err := model.Save(opts.ClassifierPath); err != nil {
		return nil, fmt.Errorf("failed to save classifier: %w", err)
	}
	if err := classifier.NewEmbeddingSet(samples).Save(opts.EmbeddingsPath); err != nil {
		return nil, fmt.Errorf("failed to save embeddings: %w", err)
	}
	log.Infof("Training complete, classifier saved to %s", opts.ClassifierPath)

	return &Report{
		Images:  len(images),
		Skipped: skipped,
		Samples: len(samples),
		Labels:  model.Labels,
		Model:   model,
	}, nil
}

// Refit trains a new classifier from a saved embedding set, without face
// extraction. Only the classifier artifact is written.
func Refit(opts Options) (*Report, error) {
	set, err := classifier.LoadEmbeddingSet(opts.EmbeddingsPath)
	if err != nil {
		return nil, err
	}
	samples, err := set.Samples()
	if err != nil {
		return nil, err
	}
	log.Infof("Refitting classifier from %d stored embeddings", len(samples))

	model, err := classifier.Fit(samples, opts.Fit)
	if err != nil {
		return nil, fmt.Errorf("failed to train classifier: %w", err)
	}
	if err := model.Save(opts.ClassifierPath); err != nil {
		return nil, fmt.Errorf("failed to save classifier: %w", err)
	}
	log.Infof("Refit complete, classifier saved to %s", opts.ClassifierPath)

	return &Report{
		Samples: len(samples),
		Labels:  model.Labels,
		Model:   model,
	}, nil
}
