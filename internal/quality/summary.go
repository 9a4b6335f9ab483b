package quality

import "math"

// Stat summarizes one metric across several photos.
type Stat struct {
	Mean float64 `json:"mean"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// Summary aggregates verdicts for several photos of the same person.
type Summary struct {
	Count          int     `json:"count"`
	PassCount      int     `json:"pass_count"`
	PassRate       float64 `json:"pass_rate"`
	AverageScore   float64 `json:"average_score"`
	AggregateScore int     `json:"aggregate_score"`
	FaceWidthPx    Stat    `json:"face_width_px"`
	Sharpness      Stat    `json:"sharpness"`
	Brightness     Stat    `json:"brightness"`
	Contrast       Stat    `json:"contrast"`
	RollAbsDegrees *Stat   `json:"roll_abs_degrees"`
	// ReasonCounts counts how often each rejection reason occurred.
	ReasonCounts map[string]int `json:"reason_counts"`
}

type statAcc struct {
	n             int
	sum, min, max float64
}

func (a *statAcc) add(v float64) {
	if a.n == 0 || v < a.min {
		a.min = v
	}
	if a.n == 0 || v > a.max {
		a.max = v
	}
	a.sum += v
	a.n++
}

func (a *statAcc) stat() Stat {
	if a.n == 0 {
		return Stat{}
	}
	return Stat{Mean: a.sum / float64(a.n), Min: a.min, Max: a.max}
}

// Summarize aggregates verdicts. Nil entries (photos that could not be decoded)
// count as failed with score zero.
func Summarize(verdicts []*Verdict) Summary {
	s := Summary{Count: len(verdicts), ReasonCounts: map[string]int{}}
	if len(verdicts) == 0 {
		return s
	}

	var width, sharp, bright, contrast, roll statAcc
	var scoreSum float64
	for _, v := range verdicts {
		if v == nil {
			continue
		}
		scoreSum += float64(v.Score)
		if v.Passed {
			s.PassCount++
		}
		for _, r := range v.Reasons {
			s.ReasonCounts[r]++
		}
		if v.FaceCount == 0 && v.Face == nil && v.Metrics.FaceWidthPx == 0 {
			continue
		}
		width.add(v.Metrics.FaceWidthPx)
		sharp.add(v.Metrics.Sharpness)
		bright.add(v.Metrics.Brightness)
		contrast.add(v.Metrics.Contrast)
		if v.Metrics.RollAbsDegrees != nil {
			roll.add(*v.Metrics.RollAbsDegrees)
		}
	}

	s.AverageScore = scoreSum / float64(s.Count)
	s.PassRate = float64(s.PassCount) / float64(s.Count)
	s.AggregateScore = int(math.Min(100, math.Round(s.AverageScore+passRatePoints*s.PassRate)))
	s.FaceWidthPx = width.stat()
	s.Sharpness = sharp.stat()
	s.Brightness = bright.stat()
	s.Contrast = contrast.stat()
	if roll.n > 0 {
		r := roll.stat()
		s.RollAbsDegrees = &r
	}
	return s
}
