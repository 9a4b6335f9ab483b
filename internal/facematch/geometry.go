package facematch

import "math"

// Box is a face bounding box in raw pixel coordinates.
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// BoxFromSlice converts [x1, y1, x2, y2] into a Box. Returns the zero Box for invalid input.
func BoxFromSlice(bbox []float64) Box {
	if len(bbox) != 4 {
		return Box{}
	}
	return Box{X1: bbox[0], Y1: bbox[1], X2: bbox[2], Y2: bbox[3]}
}

// Slice returns the box as [x1, y1, x2, y2].
func (b Box) Slice() []float64 {
	return []float64{b.X1, b.Y1, b.X2, b.Y2}
}

// Width returns the box width in pixels.
func (b Box) Width() float64 {
	return max(b.X2-b.X1, 0)
}

// Height returns the box height in pixels.
func (b Box) Height() float64 {
	return max(b.Y2-b.Y1, 0)
}

// Area returns the box area in square pixels.
func (b Box) Area() float64 {
	return b.Width() * b.Height()
}

// IsEmpty reports whether the box has no area.
func (b Box) IsEmpty() bool {
	return b.Area() <= 0
}

// Clamp limits the box to an image of the given size.
func (b Box) Clamp(width, height int) Box {
	w, h := float64(width), float64(height)
	return Box{
		X1: min(max(b.X1, 0), w),
		Y1: min(max(b.Y1, 0), h),
		X2: min(max(b.X2, 0), w),
		Y2: min(max(b.Y2, 0), h),
	}
}

// ComputeIoU calculates Intersection over Union between two bounding boxes.
// bbox1 and bbox2 are [x1, y1, x2, y2] in the same coordinate system.
func ComputeIoU(bbox1, bbox2 []float64) float64 {
	if len(bbox1) != 4 || len(bbox2) != 4 {
		return 0
	}

	x1 := max(bbox1[0], bbox2[0])
	y1 := max(bbox1[1], bbox2[1])
	x2 := min(bbox1[2], bbox2[2])
	y2 := min(bbox1[3], bbox2[3])

	if x2 <= x1 || y2 <= y1 {
		return 0
	}

	intersection := (x2 - x1) * (y2 - y1)

	area1 := (bbox1[2] - bbox1[0]) * (bbox1[3] - bbox1[1])
	area2 := (bbox2[2] - bbox2[0]) * (bbox2[3] - bbox2[1])
	union := area1 + area2 - intersection

	if union <= 0 {
		return 0
	}

	return intersection / union
}

// IoU is ComputeIoU for two Box values.
func (b Box) IoU(other Box) float64 {
	return ComputeIoU(b.Slice(), other.Slice())
}

// Point is a facial landmark in pixel coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// RollDegrees returns the absolute deviation of the eye line from horizontal.
// Landmarks follow the 5-point convention: left eye, right eye, nose, mouth left, mouth right.
// The result is folded into [0, 90] so a swapped eye order reads the same as the natural one.
// Returns false when fewer than two landmarks are available.
func RollDegrees(landmarks []Point) (float64, bool) {
	if len(landmarks) < 2 {
		return 0, false
	}
	left, right := landmarks[0], landmarks[1]
	dx := right.X - left.X
	dy := right.Y - left.Y
	if dx == 0 && dy == 0 {
		return 0, false
	}

	deg := math.Abs(math.Atan2(dy, dx) * 180 / math.Pi)
	if deg > 90 {
		deg = 180 - deg
	}
	return deg, true
}

// LargestDetection returns the index of the detection with the largest box area, or -1.
func LargestDetection(dets []Detection) int {
	best := -1
	bestArea := 0.0
	for i := range dets {
		if a := dets[i].Box.Area(); best == -1 || a > bestArea {
			best = i
			bestArea = a
		}
	}
	return best
}

// BestOverlap returns the index of the detection overlapping box the most, or -1 if none overlap.
func BestOverlap(dets []Detection, box Box) int {
	best := -1
	bestIoU := 0.0
	for i := range dets {
		if iou := dets[i].Box.IoU(box); iou > bestIoU {
			best = i
			bestIoU = iou
		}
	}
	return best
}
