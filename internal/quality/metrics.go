package quality

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// lumaStats holds per-region luminance statistics.
type lumaStats struct {
	Sharpness  float64
	Brightness float64
	Contrast   float64
}

// measure crops region out of img, resizes it to width pixels wide and computes
// luminance statistics on the grayscale result.
func measure(img image.Image, region image.Rectangle, width int) lumaStats {
	crop := imaging.Crop(img, region)
	if width > 0 && crop.Bounds().Dx() != width {
		crop = imaging.Resize(crop, width, 0, imaging.Lanczos)
	}
	gray := imaging.Grayscale(crop)

	b := gray.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return lumaStats{}
	}

	// Grayscale sets R=G=B, so the red channel is the luma.
	luma := make([]float64, w*h)
	for y := 0; y < h; y++ {
		row := gray.Pix[y*gray.Stride : y*gray.Stride+w*4]
		for x := 0; x < w; x++ {
			luma[y*w+x] = float64(row[x*4])
		}
	}

	mean, std := meanStd(luma)
	return lumaStats{
		Sharpness:  laplacianVariance(luma, w, h),
		Brightness: mean,
		Contrast:   std,
	}
}

func meanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(values)))
}

// laplacianVariance is the variance of the 4-neighbour Laplacian over interior pixels.
func laplacianVariance(luma []float64, w, h int) float64 {
	if w < 3 || h < 3 {
		return 0
	}
	resp := make([]float64, 0, (w-2)*(h-2))
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			i := y*w + x
			v := luma[i-w] + luma[i+w] + luma[i-1] + luma[i+1] - 4*luma[i]
			resp = append(resp, v)
		}
	}
	_, std := meanStd(resp)
	return std * std
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
