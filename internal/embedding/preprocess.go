package embedding

import (
	"bytes"
	"fmt"
	"image"
	"math"

	// Registered decoders for the supported raw image formats.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// CLIP visual input geometry and channel statistics (OpenCLIP ViT defaults).
const inputSize = 224

var (
	clipMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	clipStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

// PreprocessImage decodes image bytes and produces the model input tensor:
// a CHW float32 slice of length 3*224*224, bilinear-resized and normalized
// with the CLIP channel statistics.
func PreprocessImage(data []byte) ([]float32, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	resized := resizeBilinear(img, inputSize, inputSize)

	tensor := make([]float32, 3*inputSize*inputSize)
	plane := inputSize * inputSize
	for y := 0; y < inputSize; y++ {
		for x := 0; x < inputSize; x++ {
			p := resized[y*inputSize+x]
			i := y*inputSize + x
			tensor[0*plane+i] = (p[0] - clipMean[0]) / clipStd[0]
			tensor[1*plane+i] = (p[1] - clipMean[1]) / clipStd[1]
			tensor[2*plane+i] = (p[2] - clipMean[2]) / clipStd[2]
		}
	}
	return tensor, nil
}

// resizeBilinear samples img down (or up) to w x h, returning RGB triples in
// the 0-1 range, row major.
func resizeBilinear(img image.Image, w, h int) [][3]float32 {
	bounds := img.Bounds()
	srcW := bounds.Dx()
	srcH := bounds.Dy()
	out := make([][3]float32, w*h)

	scaleX := float64(srcW) / float64(w)
	scaleY := float64(srcH) / float64(h)

	for y := 0; y < h; y++ {
		sy := (float64(y) + 0.5) * scaleY
		y0 := int(sy - 0.5)
		fy := sy - 0.5 - float64(y0)
		y1 := y0 + 1
		y0 = clampInt(y0, 0, srcH-1)
		y1 = clampInt(y1, 0, srcH-1)

		for x := 0; x < w; x++ {
			sx := (float64(x) + 0.5) * scaleX
			x0 := int(sx - 0.5)
			fx := sx - 0.5 - float64(x0)
			x1 := x0 + 1
			x0 = clampInt(x0, 0, srcW-1)
			x1 = clampInt(x1, 0, srcW-1)

			p00 := rgbAt(img, bounds.Min.X+x0, bounds.Min.Y+y0)
			p10 := rgbAt(img, bounds.Min.X+x1, bounds.Min.Y+y0)
			p01 := rgbAt(img, bounds.Min.X+x0, bounds.Min.Y+y1)
			p11 := rgbAt(img, bounds.Min.X+x1, bounds.Min.Y+y1)

			var px [3]float32
			for c := 0; c < 3; c++ {
				top := float64(p00[c])*(1-fx) + float64(p10[c])*fx
				bot := float64(p01[c])*(1-fx) + float64(p11[c])*fx
				px[c] = float32(top*(1-fy) + bot*fy)
			}
			out[y*w+x] = px
		}
	}
	return out
}

func rgbAt(img image.Image, x, y int) [3]float32 {
	r, g, b, _ := img.At(x, y).RGBA()
	return [3]float32{
		float32(r) / 65535.0,
		float32(g) / 65535.0,
		float32(b) / 65535.0,
	}
}

// NormalizeL2 normalizes the slice in place to unit L2 norm.
func NormalizeL2(x []float32) {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(1.0 / math.Sqrt(sum))
	for i := range x {
		x[i] *= norm
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
