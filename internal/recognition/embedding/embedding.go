// Package embedding defines how face embeddings are obtained from images.
// The dlib-backed implementation lives in the dlib subpackage so that callers
// and their tests do not need cgo.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

// Dim is the length of a dlib face descriptor
const Dim = 128

var (
	// ErrNoEmbedding is the parent of every "no usable face" outcome
	ErrNoEmbedding = errors.New("no face embedding")
	// ErrImageUnreadable means the bytes could not be decoded as an image
	ErrImageUnreadable = fmt.Errorf("%w: image could not be decoded", ErrNoEmbedding)
	// ErrNoFace means the image was decoded but contains no face
	ErrNoFace = fmt.Errorf("%w: no face detected", ErrNoEmbedding)
	// ErrEncodingFailed means a face was found but the descriptor is unusable
	ErrEncodingFailed = fmt.Errorf("%w: face encoding failed", ErrNoEmbedding)
)

// Extractor turns images into face embeddings
type Extractor interface {
	// Extract returns the embedding of the most prominent face in data
	Extract(ctx context.Context, data []byte) ([]float64, error)
	// ExtractFile is Extract for an image on disk
	ExtractFile(ctx context.Context, path string) ([]float64, error)
	// ExtractAll returns one embedding per face found in the image on disk
	ExtractAll(ctx context.Context, path string) ([][]float64, error)
	Close() error
}
