// Package dlib extracts face embeddings with dlib via go-face. Input images
// are normalised to JPEG with OpenCV first, since go-face only decodes JPEG.
package dlib

import (
	"context"
	"fmt"
	"os"
	"sync"

	"smart-doorbell-go/internal/recognition/embedding"

	"github.com/Kagami/go-face"
	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// Extractor implements embedding.Extractor
type Extractor struct {
	rec *face.Recognizer
	// dlib recognizers are not safe for concurrent use
	mutex sync.Mutex
}

var _ embedding.Extractor = (*Extractor)(nil)

// NewExtractor loads the dlib models from modelsDir. The directory must hold
// shape_predictor_5_face_landmarks.dat, dlib_face_recognition_resnet_model_v1.dat
// and mmod_human_face_detector.dat.
func NewExtractor(modelsDir string) (*Extractor, error) {
	if _, err := os.Stat(modelsDir); err != nil {
		return nil, fmt.Errorf("dlib models directory not available: %w", err)
	}
	rec, err := face.NewRecognizer(modelsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load dlib models from %s: %w", modelsDir, err)
	}
	log.Infof("Face recognizer loaded from %s", modelsDir)
	return &Extractor{rec: rec}, nil
}

// Extract returns the descriptor of the first face detected in data
func (e *Extractor) Extract(ctx context.Context, data []byte) ([]float64, error) {
	faces, err := e.recognize(ctx, data)
	if err != nil {
		return nil, err
	}
	v, ok := toVector(faces[0].Descriptor)
	if !ok {
		return nil, embedding.ErrEncodingFailed
	}
	return v, nil
}

// ExtractFile returns the descriptor of the first face in the image at path
func (e *Extractor) ExtractFile(ctx context.Context, path string) ([]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", embedding.ErrImageUnreadable, err)
	}
	return e.Extract(ctx, data)
}

// ExtractAll returns the descriptors of every usable face in the image at path
func (e *Extractor) ExtractAll(ctx context.Context, path string) ([][]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", embedding.ErrImageUnreadable, err)
	}
	faces, err := e.recognize(ctx, data)
	if err != nil {
		return nil, err
	}

	var out [][]float64
	for _, f := range faces {
		if v, ok := toVector(f.Descriptor); ok {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil, embedding.ErrEncodingFailed
	}
	return out, nil
}

// Close releases the dlib models
func (e *Extractor) Close() error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.rec != nil {
		e.rec.Close()
		e.rec = nil
	}
	return nil
}

func (e *Extractor) recognize(ctx context.Context, data []byte) ([]face.Face, error) {
	jpeg, err := normalizeJPEG(data)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.rec == nil {
		return nil, fmt.Errorf("face recognizer is closed")
	}

	faces, err := e.rec.Recognize(jpeg)
	if err != nil {
		if _, ok := err.(face.ImageLoadError); ok {
			return nil, fmt.Errorf("%w: %v", embedding.ErrImageUnreadable, err)
		}
		return nil, fmt.Errorf("face recognition failed: %w", err)
	}
	if len(faces) == 0 {
		return nil, embedding.ErrNoFace
	}
	return faces, nil
}

// normalizeJPEG decodes any format OpenCV understands and re-encodes it as JPEG
func normalizeJPEG(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, embedding.ErrImageUnreadable
	}
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", embedding.ErrImageUnreadable, err)
	}
	defer mat.Close()
	if mat.Empty() {
		return nil, embedding.ErrImageUnreadable
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode image as JPEG: %w", err)
	}
	defer buf.Close()

	// GetBytes points into C memory that Close frees
	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

// toVector widens a descriptor, rejecting the all-zero one dlib yields on failure
func toVector(d face.Descriptor) ([]float64, bool) {
	v := make([]float64, len(d))
	nonZero := false
	for i, x := range d {
		v[i] = float64(x)
		if x != 0 {
			nonZero = true
		}
	}
	return v, nonZero
}
