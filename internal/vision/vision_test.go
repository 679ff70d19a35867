package vision

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIoU(t *testing.T) {
	a := [4]float32{0, 0, 10, 10}
	assert.InDelta(t, 1.0, iou(a, a), 1e-6)
	assert.Zero(t, iou(a, [4]float32{20, 20, 30, 30}))
	// half overlap: 50 / 150
	assert.InDelta(t, 1.0/3.0, iou(a, [4]float32{5, 0, 15, 10}), 1e-6)
}

func TestNMS(t *testing.T) {
	dets := []Detection{
		{BBox: [4]float32{0, 0, 10, 10}, Confidence: 0.7},
		{BBox: [4]float32{1, 1, 11, 11}, Confidence: 0.9},
		{BBox: [4]float32{50, 50, 60, 60}, Confidence: 0.8},
	}
	kept := nms(dets, 0.4)
	require.Len(t, kept, 2)
	assert.Equal(t, float32(0.9), kept[0].Confidence)
	assert.Equal(t, float32(0.8), kept[1].Confidence)

	assert.Empty(t, nms(nil, 0.4))
}

func TestDecodeStride(t *testing.T) {
	stride := 32
	n := int(anchorCount(stride))
	scores := make([]float32, n)
	boxes := make([]float32, n*4)

	// cell (1,2), second anchor
	cells := detInputSize / stride
	idx := (2*cells+1)*anchorsPerCell + 1
	scores[idx] = 0.95
	copy(boxes[idx*4:], []float32{0.5, 0.5, 0.5, 0.5})

	dets := decodeStride(scores, boxes, stride, 0.5, 1, 1, detInputSize, detInputSize)
	require.Len(t, dets, 1)
	assert.Equal(t, float32(0.95), dets[0].Confidence)
	assert.Equal(t, [4]float32{16, 48, 48, 80}, dets[0].BBox)

	// scaled to a 1280x960 source and clamped
	scores[0] = 0.9
	copy(boxes[0:], []float32{0.5, 0.5, 0.5, 0.5})
	dets = decodeStride(scores, boxes, stride, 0.5, 2, 1.5, 1280, 960)
	require.Len(t, dets, 2)
	assert.Equal(t, [4]float32{0, 0, 32, 24}, dets[0].BBox)
}

func TestAverageEmbedding(t *testing.T) {
	avg, err := AverageEmbedding([][]float32{{1, 0}, {0, 1}})
	require.NoError(t, err)
	assert.InDelta(t, 1/math.Sqrt2, avg[0], 1e-6)
	assert.InDelta(t, 1/math.Sqrt2, avg[1], 1e-6)

	_, err = AverageEmbedding(nil)
	assert.Error(t, err)
	_, err = AverageEmbedding([][]float32{{1, 0}, {1}})
	assert.Error(t, err)
}

func TestBestFace(t *testing.T) {
	_, err := BestFace(nil)
	assert.ErrorIs(t, err, ErrNoFace)

	f, err := BestFace([]Face{{Confidence: 0.6}, {Confidence: 0.99}, {Confidence: 0.7}})
	require.NoError(t, err)
	assert.Equal(t, float32(0.99), f.Confidence)
}

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestToCHW(t *testing.T) {
	img := solid(20, 10, color.RGBA{R: 255, G: 127, B: 0, A: 255})
	data := toCHW(img, 4, embMean, embStd)
	require.Len(t, data, 3*16)
	assert.InDelta(t, 1.0, data[0], 1e-3)
	assert.InDelta(t, -0.0039, data[16], 1e-3)
	assert.InDelta(t, -1.0, data[32], 1e-3)
}

func TestCropFace(t *testing.T) {
	img := solid(100, 100, color.RGBA{A: 255})

	crop := cropFace(img, [4]float32{20, 20, 60, 60})
	require.NotNil(t, crop)
	assert.Equal(t, 48, crop.Bounds().Dx())

	edge := cropFace(img, [4]float32{0, 0, 40, 40})
	require.NotNil(t, edge)
	assert.Equal(t, 44, edge.Bounds().Dx())

	assert.Nil(t, cropFace(img, [4]float32{30, 30, 30, 50}))
}

func TestEncodeAndDecode(t *testing.T) {
	jpg, err := encodeJPEG(solid(8, 8, color.RGBA{R: 10, A: 255}), 90)
	require.NoError(t, err)
	img, err := decodeImage(jpg)
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())

	_, err = decodeImage([]byte("not an image"))
	assert.Error(t, err)
}
