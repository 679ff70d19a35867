package vision

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

type tensorSpec struct {
	name  string
	shape ort.Shape
}

// session bundles an ONNX session with its preallocated tensors. Run reads
// the input tensor and overwrites the outputs, so callers serialize access.
type session struct {
	s       *ort.AdvancedSession
	input   *ort.Tensor[float32]
	outputs []*ort.Tensor[float32]
}

func newSession(modelPath string, input tensorSpec, outputs []tensorSpec, opts *ort.SessionOptions) (*session, error) {
	in, err := ort.NewEmptyTensor[float32](input.shape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	sess := &session{input: in}

	names := make([]string, len(outputs))
	values := make([]ort.Value, len(outputs))
	for i, spec := range outputs {
		t, err := ort.NewEmptyTensor[float32](spec.shape)
		if err != nil {
			sess.destroy()
			return nil, fmt.Errorf("create output tensor %s: %w", spec.name, err)
		}
		sess.outputs = append(sess.outputs, t)
		names[i] = spec.name
		values[i] = t
	}

	s, err := ort.NewAdvancedSession(modelPath,
		[]string{input.name}, names,
		[]ort.Value{in}, values,
		opts,
	)
	if err != nil {
		sess.destroy()
		return nil, fmt.Errorf("create session for %s: %w", modelPath, err)
	}
	sess.s = s
	return sess, nil
}

func (s *session) run(input []float32) error {
	copy(s.input.GetData(), input)
	return s.s.Run()
}

func (s *session) destroy() {
	if s.s != nil {
		s.s.Destroy()
	}
	if s.input != nil {
		s.input.Destroy()
	}
	for _, t := range s.outputs {
		t.Destroy()
	}
}
