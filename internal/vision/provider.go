// Package vision finds faces in an image and encodes each one as an
// embedding the matcher can compare.
package vision

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// Face is one detected face.
type Face struct {
	BBox       [4]float32 // x1, y1, x2, y2 in source pixels
	Confidence float32
	Embedding  []float32
	// Crop is the padded face region as JPEG, used for event snapshots.
	Crop []byte
}

// Provider detects and encodes faces. An image with no faces yields an
// empty slice and no error. Implementations must be safe for concurrent use.
type Provider interface {
	DetectAndEncode(ctx context.Context, image []byte) ([]Face, error)
	EmbeddingDim() int
}

var ErrNoFace = errors.New("no face detected")

// BestFace returns the face with the highest detection confidence.
func BestFace(faces []Face) (Face, error) {
	if len(faces) == 0 {
		return Face{}, ErrNoFace
	}
	best := faces[0]
	for _, f := range faces[1:] {
		if f.Confidence > best.Confidence {
			best = f
		}
	}
	return best, nil
}

// AverageEmbedding averages several samples of the same face component-wise
// and re-normalizes the result to unit length.
func AverageEmbedding(samples [][]float32) ([]float32, error) {
	if len(samples) == 0 {
		return nil, errors.New("no samples to average")
	}
	dim := len(samples[0])
	if dim == 0 {
		return nil, errors.New("empty embedding")
	}

	sum := make([]float64, dim)
	for i, s := range samples {
		if len(s) != dim {
			return nil, fmt.Errorf("sample %d has %d dimensions, want %d", i, len(s), dim)
		}
		for j, v := range s {
			sum[j] += float64(v)
		}
	}

	out := make([]float32, dim)
	n := float64(len(samples))
	for j := range sum {
		out[j] = float32(sum[j] / n)
	}
	normalize(out)
	return out, nil
}

// normalize performs L2 normalization in-place.
func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
}
