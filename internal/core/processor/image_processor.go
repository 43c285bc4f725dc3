package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"smart-doorbell-go/config"
	"smart-doorbell-go/internal/capture"
	"smart-doorbell-go/internal/core/models"
	"smart-doorbell-go/internal/notify"
	"smart-doorbell-go/internal/recognition/classifier"
	"smart-doorbell-go/internal/recognition/embedding"
	"smart-doorbell-go/internal/util/timezone"

	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

var (
	// ErrNoImageData is returned for an empty upload
	ErrNoImageData = errors.New("no image data received")
	// ErrNoFaceDetected is returned when no embedding could be extracted
	ErrNoFaceDetected = errors.New("no face detected")
)

// CaptureSaver persists capture records
type CaptureSaver interface {
	SaveCapture(capture *models.Capture) error
}

// Dispatcher hands results to the notification sinks without blocking
type Dispatcher interface {
	Dispatch(ev notify.Event) int
}

// Result is returned to the uploading device
type Result struct {
	Filename   string  `json:"filename"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// ImageProcessor runs one upload through extraction, classification,
// storage and notification
type ImageProcessor struct {
	extractor    embedding.Extractor
	model        *classifier.Model
	store        *capture.Store
	repo         CaptureSaver
	dispatcher   Dispatcher
	threshold    float64
	unknownLabel string
	now          func() time.Time
}

// NewImageProcessor wires the processor. repo and dispatcher may be nil.
func NewImageProcessor(extractor embedding.Extractor, model *classifier.Model, store *capture.Store,
	repo CaptureSaver, dispatcher Dispatcher, cfg config.RecognitionConfig) *ImageProcessor {
	return &ImageProcessor{
		extractor:    extractor,
		model:        model,
		store:        store,
		repo:         repo,
		dispatcher:   dispatcher,
		threshold:    cfg.ConfidenceThreshold,
		unknownLabel: cfg.UnknownLabel,
		now:          timezone.Now,
	}
}

// Labels returns the labels the loaded classifier knows
func (p *ImageProcessor) Labels() []string {
	return p.model.Labels
}

// ProcessImage classifies an uploaded image and keeps it in the capture store.
// Notifications are queued, not awaited.
func (p *ImageProcessor) ProcessImage(ctx context.Context, data []byte) (*Result, error) {
	if len(data) == 0 {
		return nil, ErrNoImageData
	}

	temp, err := p.store.Stage(data)
	if err != nil {
		return nil, fmt.Errorf("failed to stage upload: %w", err)
	}

	vector, err := p.extractor.ExtractFile(ctx, temp)
	if err != nil {
		p.discard(temp)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		log.WithError(err).Info("No usable face in upload")
		return nil, fmt.Errorf("%w: %v", ErrNoFaceDetected, err)
	}

	prediction, err := p.model.Predict(vector, p.threshold, p.unknownLabel)
	if err != nil {
		p.discard(temp)
		return nil, fmt.Errorf("classification failed: %w", err)
	}

	capturedAt := p.now()
	filename, err := p.store.Commit(temp, capturedAt)
	if err != nil {
		p.discard(temp)
		return nil, fmt.Errorf("failed to store capture: %w", err)
	}

	log.WithFields(log.Fields{
		"filename":   filename,
		"label":      prediction.Label,
		"predicted":  prediction.Predicted,
		"confidence": prediction.Confidence,
	}).Info("Visitor classified")

	record := p.save(filename, capturedAt, prediction)

	result := &Result{
		Filename:   filename,
		Label:      prediction.Label,
		Confidence: round4(prediction.Confidence),
	}

	if p.dispatcher != nil {
		ev := notify.Event{
			Filename:   filename,
			Label:      result.Label,
			Predicted:  prediction.Predicted,
			Confidence: result.Confidence,
			CapturedAt: capturedAt,
			Known:      p.isKnown(prediction.Label),
		}
		if record != nil {
			ev.CaptureID = record.ID
		}
		p.dispatcher.Dispatch(ev)
	}

	return result, nil
}

// save stores the capture record. Failures are logged only: the image is
// already in the capture store and the visitor must still be announced.
func (p *ImageProcessor) save(filename string, capturedAt time.Time, prediction classifier.Prediction) *models.Capture {
	if p.repo == nil {
		return nil
	}

	probs, err := json.Marshal(prediction.Probabilities)
	if err != nil {
		log.WithError(err).Warn("Failed to encode probabilities")
		probs = []byte("{}")
	}

	record := &models.Capture{
		Filename:      filename,
		CapturedAt:    capturedAt,
		Label:         prediction.Label,
		Predicted:     prediction.Predicted,
		Confidence:    prediction.Confidence,
		Probabilities: datatypes.JSON(probs),
	}
	if err := p.repo.SaveCapture(record); err != nil {
		log.WithError(err).Errorf("Failed to save capture record for %s", filename)
		return nil
	}
	return record
}

// isKnown reports whether label names a trained visitor. A dataset folder
// named like the unknown label does not count.
func (p *ImageProcessor) isKnown(label string) bool {
	return !strings.EqualFold(label, p.unknownLabel) && p.model.HasLabel(label)
}

func (p *ImageProcessor) discard(temp string) {
	if err := p.store.Discard(temp); err != nil {
		log.WithError(err).Warnf("Failed to remove temporary upload %s", temp)
	}
}

// round4 rounds to four decimals for the response and the remote log. It runs
// after the threshold check, so a raw 0.49996 is reported as unknown at 0.5.
func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
