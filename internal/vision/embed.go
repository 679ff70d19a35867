package vision

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

// ArcFace w600k_r50 takes a 112x112 crop and emits a 512-d vector.
const (
	embInputSize  = 112
	embDim        = 512
	embOutputName = "683"
)

// Embedder runs ArcFace. Not safe for concurrent use.
type Embedder struct {
	sess *session
}

func NewEmbedder(modelPath string, opts *ort.SessionOptions) (*Embedder, error) {
	sess, err := newSession(modelPath,
		tensorSpec{"input.1", ort.NewShape(1, 3, embInputSize, embInputSize)},
		[]tensorSpec{{embOutputName, ort.NewShape(1, embDim)}},
		opts)
	if err != nil {
		return nil, fmt.Errorf("load embedder: %w", err)
	}
	return &Embedder{sess: sess}, nil
}

// Extract returns a unit-length embedding for a CHW [3,112,112] crop.
func (e *Embedder) Extract(input []float32) ([]float32, error) {
	if err := e.sess.run(input); err != nil {
		return nil, fmt.Errorf("run embedding: %w", err)
	}
	out := make([]float32, embDim)
	copy(out, e.sess.outputs[0].GetData())
	normalize(out)
	return out, nil
}

func (e *Embedder) Close() {
	e.sess.destroy()
}
