package recognition

import (
	"sync"

	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/matcher"
)

// Snapshot is what an overlay currently shows.
type Snapshot struct {
	DetectionGen uint64                `json:"detection_gen"`
	Detections   []facematch.Detection `json:"detections"`
	MatchGen     uint64                `json:"match_gen"`
	Matches      []matcher.Match       `json:"matches"`
}

// Display holds the latest detection and recognition results of one stream.
// Results carry the generation of the tick that produced them; a result older
// than the one shown is dropped.
type Display struct {
	mu       sync.Mutex
	snap     Snapshot
	onChange func(Snapshot)
}

// NewDisplay creates an empty display. onChange may be nil.
func NewDisplay(onChange func(Snapshot)) *Display {
	return &Display{onChange: onChange}
}

// ApplyDetections shows detections from tick gen. Returns false if they are stale.
func (d *Display) ApplyDetections(gen uint64, dets []facematch.Detection) bool {
	d.mu.Lock()
	if gen < d.snap.DetectionGen {
		d.mu.Unlock()
		return false
	}
	d.snap.DetectionGen = gen
	d.snap.Detections = dets
	snap := d.snap
	d.mu.Unlock()

	if d.onChange != nil {
		d.onChange(snap)
	}
	return true
}

// ApplyMatches shows recognition results from tick gen. Returns false if they are stale.
func (d *Display) ApplyMatches(gen uint64, matches []matcher.Match) bool {
	d.mu.Lock()
	if gen < d.snap.MatchGen {
		d.mu.Unlock()
		return false
	}
	d.snap.MatchGen = gen
	d.snap.Matches = matches
	snap := d.snap
	d.mu.Unlock()

	if d.onChange != nil {
		d.onChange(snap)
	}
	return true
}

// Snapshot returns the current state.
func (d *Display) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snap
}
