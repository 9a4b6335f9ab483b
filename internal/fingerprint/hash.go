// Package fingerprint talks to the face embedding server and computes perceptual
// hashes used to spot near-duplicate enrollment photos.
package fingerprint

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"math/bits"
	"slices"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/kozaktomas/face-attendance/internal/facematch"
)

const (
	dctSide  = 32 // thumbnail side the DCT runs on
	dctKeep  = 8  // low frequencies kept per axis
	gradCols = 9
	gradRows = 8
)

// Hash fingerprints one photo. Re-encoding, rescaling or EXIF-rotating the
// same shot moves it by a few bits; a second shot of the same person moves it
// by many more.
type Hash struct {
	Perceptual uint64 `json:"perceptual"` // low DCT frequencies above their median
	Gradient   uint64 `json:"gradient"`   // left-to-right brightness drops
}

// Of hashes an encoded photo after applying its EXIF orientation.
func Of(data []byte) (Hash, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return Hash{}, fmt.Errorf("%w: %v", facematch.ErrUndecodableImage, err)
	}
	gray := imaging.Grayscale(img)
	return Hash{
		Perceptual: perceptual(luma(imaging.Resize(gray, dctSide, dctSide, imaging.Box))),
		Gradient:   gradient(luma(imaging.Resize(gray, gradCols, gradRows, imaging.Box))),
	}, nil
}

func (h Hash) String() string {
	return fmt.Sprintf("%016x%016x", h.Perceptual, h.Gradient)
}

// Distance is the larger of the two Hamming distances, so a match needs both hashes to agree.
func (h Hash) Distance(o Hash) int {
	return max(bits.OnesCount64(h.Perceptual^o.Perceptual), bits.OnesCount64(h.Gradient^o.Gradient))
}

// Near reports whether o is at most maxDistance bits from h. A negative maxDistance never matches.
func (h Hash) Near(o Hash, maxDistance int) bool {
	return maxDistance >= 0 && h.Distance(o) <= maxDistance
}

// Set spots photos that repeat an earlier one.
type Set struct {
	maxDistance int
	hashes      []Hash
	owners      []int
}

// NewSet creates a set matching within maxDistance bits.
func NewSet(maxDistance int) *Set {
	return &Set{maxDistance: maxDistance}
}

// Add records h under owner. When h repeats an earlier hash it is not recorded
// and the earlier owner is returned with true.
func (s *Set) Add(owner int, h Hash) (int, bool) {
	for i, prev := range s.hashes {
		if h.Near(prev, s.maxDistance) {
			return s.owners[i], true
		}
	}
	s.hashes = append(s.hashes, h)
	s.owners = append(s.owners, owner)
	return owner, false
}

// luma reads a grayscale thumbnail as rows of brightness values.
func luma(img *image.NRGBA) [][]float64 {
	b := img.Bounds()
	rows := make([][]float64, b.Dy())
	for y := range rows {
		rows[y] = make([]float64, b.Dx())
		for x := range rows[y] {
			rows[y][x] = float64(img.Pix[y*img.Stride+x*4])
		}
	}
	return rows
}

// perceptual runs a separable DCT-II over the square thumbnail, keeping only
// the low frequencies, and sets a bit for each coefficient above the median
// of the non-DC terms.
func perceptual(px [][]float64) uint64 {
	n := len(px)
	basis := make([][]float64, dctKeep)
	for u := range basis {
		basis[u] = make([]float64, n)
		for x := range n {
			basis[u][x] = math.Cos(math.Pi * float64(u) * float64(2*x+1) / float64(2*n))
		}
	}

	rows := make([][dctKeep]float64, n)
	for y := range n {
		for u := range dctKeep {
			for x := range n {
				rows[y][u] += px[y][x] * basis[u][x]
			}
		}
	}

	coef := make([]float64, 0, dctKeep*dctKeep)
	for v := range dctKeep {
		for u := range dctKeep {
			var sum float64
			for y := range n {
				sum += rows[y][u] * basis[v][y]
			}
			coef = append(coef, sum)
		}
	}

	mid := median(coef[1:])
	var h uint64
	for i, c := range coef {
		if c > mid {
			h |= 1 << (63 - i)
		}
	}
	return h
}

// gradient sets a bit wherever brightness drops from one column to the next.
func gradient(px [][]float64) uint64 {
	var h uint64
	bit := 63
	for y := range gradRows {
		for x := range gradCols - 1 {
			if px[y][x] > px[y][x+1] {
				h |= 1 << bit
			}
			bit--
		}
	}
	return h
}

func median(values []float64) float64 {
	s := slices.Sorted(slices.Values(values))
	n := len(s)
	if n%2 == 0 {
		return (s[n/2-1] + s[n/2]) / 2
	}
	return s[n/2]
}
