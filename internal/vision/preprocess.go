package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
)

// normalization constants for the two models
var (
	detMean, detStd = [3]float32{127.5, 127.5, 127.5}, [3]float32{128, 128, 128}
	embMean, embStd = [3]float32{127.5, 127.5, 127.5}, [3]float32{127.5, 127.5, 127.5}
)

func decodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// toCHW resizes img to size x size and lays it out channel-first with
// (pixel - mean) / std applied per channel.
func toCHW(img image.Image, size int, mean, std [3]float32) []float32 {
	b := img.Bounds()
	srcW, srcH := b.Dx(), b.Dy()
	plane := size * size
	out := make([]float32, 3*plane)

	for y := 0; y < size; y++ {
		sy := b.Min.Y + y*srcH/size
		for x := 0; x < size; x++ {
			sx := b.Min.X + x*srcW/size
			r, g, bl, _ := img.At(sx, sy).RGBA()
			i := y*size + x
			out[i] = (float32(r>>8) - mean[0]) / std[0]
			out[plane+i] = (float32(g>>8) - mean[1]) / std[1]
			out[2*plane+i] = (float32(bl>>8) - mean[2]) / std[2]
		}
	}
	return out
}

// cropFace cuts bbox out of img with 10% padding on each side, clamped to
// the image. Returns nil for an empty box.
func cropFace(img image.Image, bbox [4]float32) image.Image {
	b := img.Bounds()
	x1, y1, x2, y2 := int(bbox[0]), int(bbox[1]), int(bbox[2]), int(bbox[3])
	w, h := x2-x1, y2-y1
	if w <= 0 || h <= 0 {
		return nil
	}
	padW, padH := w/10, h/10
	r := image.Rect(x1-padW, y1-padH, x2+padW, y2+padH).Intersect(b)
	if r.Empty() {
		return nil
	}

	crop := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			crop.Set(x-r.Min.X, y-r.Min.Y, img.At(x, y))
		}
	}
	return crop
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
