// Package quality scores candidate photos for enrollment and verification.
package quality

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// Config holds the gate thresholds.
type Config = config.QualityConfig

// Rejection reasons.
const (
	ReasonNoFace        = "no face detected"
	ReasonMultipleFaces = "multiple faces detected"
	ReasonFaceTooSmall  = "face too small"
	ReasonTooDark       = "image too dark"
	ReasonTooBright     = "image too bright"
	ReasonLowContrast   = "low contrast"
	ReasonBlurry        = "too blurry"
	ReasonHeadTilted    = "head tilted"
	ReasonLowScore      = "overall quality too low"
)

// Score component maxima. The remaining 25 points belong to Summary.AggregateScore.
const (
	sizePoints       = 25
	sharpnessPoints  = 25
	brightnessPoints = 15
	contrastPoints   = 10
	passRatePoints   = 25
)

// Metrics are the measurements a verdict is based on.
type Metrics struct {
	FaceWidthPx    float64  `json:"face_width_px"`
	FaceSizeRatio  float64  `json:"face_size_ratio"`
	Sharpness      float64  `json:"sharpness"`
	Brightness     float64  `json:"brightness"`
	Contrast       float64  `json:"contrast"`
	RollAbsDegrees *float64 `json:"roll_abs_degrees"`
}

// Verdict is the outcome of assessing one photo.
type Verdict struct {
	Score     int                  `json:"score"`
	Passed    bool                 `json:"passed"`
	Reasons   []string             `json:"reasons"`
	Metrics   Metrics              `json:"metrics"`
	FaceCount int                  `json:"face_count"`
	Face      *facematch.Detection `json:"face,omitempty"`
	Width     int                  `json:"width"`
	Height    int                  `json:"height"`
}

// Err returns a *facematch.QualityRejectedError for a failed verdict and nil otherwise.
func (v *Verdict) Err() error {
	if v.Passed {
		return nil
	}
	return &facematch.QualityRejectedError{Reasons: v.Reasons}
}

// Gate assesses photos.
type Gate interface {
	Assess(ctx context.Context, data []byte, cfg Config) (*Verdict, error)
}

// Assessor implements Gate on top of a face detector.
type Assessor struct {
	detector facematch.Detector
}

var _ Gate = (*Assessor)(nil)

// NewAssessor creates an assessor. The detector may be nil only if every
// config passed to Assess has RequireFace disabled.
func NewAssessor(detector facematch.Detector) *Assessor {
	return &Assessor{detector: detector}
}

// Assess decodes data, locates the face and scores it. Undecodable input is
// returned as an error wrapping facematch.ErrUndecodableImage; quality problems
// are reported in the verdict.
func (a *Assessor) Assess(ctx context.Context, data []byte, cfg Config) (*Verdict, error) {
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	v := &Verdict{Width: bounds.Dx(), Height: bounds.Dy()}

	region := bounds
	var roll *float64
	if cfg.RequireFace {
		if a.detector == nil {
			return nil, fmt.Errorf("face detection required but no detector configured")
		}
		dets, err := a.detector.Detect(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("detect faces: %w", err)
		}
		v.FaceCount = len(dets)
		if len(dets) == 0 {
			v.Reasons = []string{ReasonNoFace}
			return v, nil
		}

		face := dets[facematch.LargestDetection(dets)]
		v.Face = &face
		box := face.Box.Clamp(v.Width, v.Height)
		region = image.Rect(
			bounds.Min.X+int(box.X1), bounds.Min.Y+int(box.Y1),
			bounds.Min.X+int(math.Ceil(box.X2)), bounds.Min.Y+int(math.Ceil(box.Y2)),
		)
		if deg, ok := facematch.RollDegrees(face.Landmarks); ok {
			roll = &deg
		}
		v.Metrics.FaceWidthPx = box.Width()
	} else {
		v.Metrics.FaceWidthPx = float64(v.Width)
	}

	if region.Empty() {
		v.Reasons = []string{ReasonFaceTooSmall}
		return v, nil
	}

	stats := measure(img, region, cfg.AnalysisWidth)
	v.Metrics.Sharpness = stats.Sharpness
	v.Metrics.Brightness = stats.Brightness
	v.Metrics.Contrast = stats.Contrast
	v.Metrics.RollAbsDegrees = roll
	if v.Width > 0 {
		v.Metrics.FaceSizeRatio = v.Metrics.FaceWidthPx / float64(v.Width)
	}

	v.Score = score(v.Metrics, cfg)
	v.Reasons = reasons(v, cfg)
	v.Passed = len(v.Reasons) == 0
	return v, nil
}

// Check assesses data and returns a *facematch.QualityRejectedError when it fails.
func Check(ctx context.Context, g Gate, data []byte, cfg Config) (*Verdict, error) {
	v, err := g.Assess(ctx, data, cfg)
	if err != nil {
		return nil, err
	}
	return v, v.Err()
}

func score(m Metrics, cfg Config) int {
	var total float64

	if cfg.FullCreditFaceWidthPx > 0 {
		total += sizePoints * clamp01(m.FaceWidthPx/cfg.FullCreditFaceWidthPx)
	} else {
		total += sizePoints
	}

	if cfg.MinSharpness > 0 {
		total += sharpnessPoints * clamp01(m.Sharpness/(2*cfg.MinSharpness))
	} else {
		total += sharpnessPoints
	}

	if m.Brightness >= cfg.MinBrightness && m.Brightness <= cfg.MaxBrightness {
		mid := (cfg.MinBrightness + cfg.MaxBrightness) / 2
		half := (cfg.MaxBrightness - cfg.MinBrightness) / 2
		if half > 0 {
			total += brightnessPoints * clamp01(1-math.Abs(m.Brightness-mid)/half)
		} else {
			total += brightnessPoints
		}
	}

	if cfg.MinContrast > 0 {
		total += contrastPoints * clamp01(m.Contrast/(2*cfg.MinContrast))
	} else {
		total += contrastPoints
	}

	return int(math.Max(0, math.Min(100, math.Round(total))))
}

func reasons(v *Verdict, cfg Config) []string {
	var out []string
	m := v.Metrics

	if cfg.RequireFace {
		if v.FaceCount > 1 {
			out = append(out, ReasonMultipleFaces)
		}
		if m.FaceSizeRatio < cfg.MinFaceSizeRatio || m.FaceWidthPx < cfg.MinFaceWidthPx {
			out = append(out, ReasonFaceTooSmall)
		}
	}
	if m.Brightness < cfg.MinBrightness {
		out = append(out, ReasonTooDark)
	}
	if cfg.MaxBrightness > 0 && m.Brightness > cfg.MaxBrightness {
		out = append(out, ReasonTooBright)
	}
	if m.Contrast < cfg.MinContrast {
		out = append(out, ReasonLowContrast)
	}
	if m.Sharpness < cfg.MinSharpness {
		out = append(out, ReasonBlurry)
	}
	if m.RollAbsDegrees != nil && cfg.MaxRollDegrees > 0 && *m.RollAbsDegrees > cfg.MaxRollDegrees {
		out = append(out, ReasonHeadTilted)
	}
	if len(out) == 0 && v.Score < cfg.PassScore {
		out = append(out, ReasonLowScore)
	}
	return out
}
