package vision

import (
	"fmt"
	"sort"

	ort "github.com/yalue/onnxruntime_go"
)

// Detection is a raw detector hit before embedding.
type Detection struct {
	BBox       [4]float32
	Confidence float32
}

const (
	detInputSize     = 640
	anchorsPerCell   = 2
	nmsIoUThreshold  = 0.4
	detInputTensorID = "input.1"
)

// RetinaFace det_10g emits scores, boxes and landmarks per stride, with no
// batch dimension. Landmarks are not used.
var detStrides = []struct {
	stride        int
	scores, boxes string
}{
	{8, "448", "451"},
	{16, "471", "474"},
	{32, "494", "497"},
}

// Detector runs RetinaFace. Not safe for concurrent use.
type Detector struct {
	sess      *session
	threshold float32
}

func NewDetector(modelPath string, threshold float32, opts *ort.SessionOptions) (*Detector, error) {
	var outputs []tensorSpec
	for _, s := range detStrides {
		outputs = append(outputs, tensorSpec{s.scores, ort.NewShape(anchorCount(s.stride), 1)})
	}
	for _, s := range detStrides {
		outputs = append(outputs, tensorSpec{s.boxes, ort.NewShape(anchorCount(s.stride), 4)})
	}

	sess, err := newSession(modelPath,
		tensorSpec{detInputTensorID, ort.NewShape(1, 3, detInputSize, detInputSize)},
		outputs, opts)
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}
	return &Detector{sess: sess, threshold: threshold}, nil
}

func anchorCount(stride int) int64 {
	cells := detInputSize / stride
	return int64(cells * cells * anchorsPerCell)
}

// Detect runs on a CHW [3,640,640] input and scales boxes back to a
// srcW x srcH image.
func (d *Detector) Detect(input []float32, srcW, srcH int) ([]Detection, error) {
	if err := d.sess.run(input); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	sx := float32(srcW) / detInputSize
	sy := float32(srcH) / detInputSize
	n := len(detStrides)

	var dets []Detection
	for i, s := range detStrides {
		scores := d.sess.outputs[i].GetData()
		boxes := d.sess.outputs[n+i].GetData()
		dets = append(dets, decodeStride(scores, boxes, s.stride, d.threshold, sx, sy, srcW, srcH)...)
	}
	return nms(dets, nmsIoUThreshold), nil
}

// decodeStride turns anchor distances at one stride into boxes. Each cell
// carries anchorsPerCell anchors centred on the cell's top-left corner.
func decodeStride(scores, boxes []float32, stride int, threshold, sx, sy float32, srcW, srcH int) []Detection {
	cells := detInputSize / stride
	st := float32(stride)

	var out []Detection
	idx := 0
	for cy := 0; cy < cells; cy++ {
		for cx := 0; cx < cells; cx++ {
			for a := 0; a < anchorsPerCell; a, idx = a+1, idx+1 {
				if idx >= len(scores) || scores[idx] < threshold {
					continue
				}
				ax, ay := float32(cx)*st, float32(cy)*st
				b := boxes[idx*4 : idx*4+4]
				out = append(out, Detection{
					BBox: [4]float32{
						clamp((ax-b[0]*st)*sx, 0, float32(srcW)),
						clamp((ay-b[1]*st)*sy, 0, float32(srcH)),
						clamp((ax+b[2]*st)*sx, 0, float32(srcW)),
						clamp((ay+b[3]*st)*sy, 0, float32(srcH)),
					},
					Confidence: scores[idx],
				})
			}
		}
	}
	return out
}

func (d *Detector) Close() {
	d.sess.destroy()
}

// nms keeps the most confident of any boxes overlapping more than iouThreshold.
func nms(dets []Detection, iouThreshold float32) []Detection {
	sort.Slice(dets, func(i, j int) bool { return dets[i].Confidence > dets[j].Confidence })

	kept := dets[:0:0]
	for _, d := range dets {
		suppressed := false
		for _, k := range kept {
			if iou(d.BBox, k.BBox) > iouThreshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, d)
		}
	}
	return kept
}

func iou(a, b [4]float32) float32 {
	ix := max(0, min(a[2], b[2])-max(a[0], b[0]))
	iy := max(0, min(a[3], b[3])-max(a[1], b[1]))
	inter := ix * iy
	union := (a[2]-a[0])*(a[3]-a[1]) + (b[2]-b[0])*(b[3]-b[1]) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clamp(v, lo, hi float32) float32 {
	return min(max(v, lo), hi)
}
