package matcher

import (
	"context"
	"time"

	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// Face is one detected face of a frame with its embedding.
type Face struct {
	Box       facematch.Box
	Embedding []float32
}

// Match is the result for one detected face.
type Match struct {
	PersonID   string        `json:"person_id,omitempty"`
	PersonName string        `json:"person_name,omitempty"`
	Confidence float64       `json:"confidence"`
	Box        facematch.Box `json:"box"`
	Matched    bool          `json:"matched"`
}

// FrameMatcher resolves every face of a frame against a pool.
type FrameMatcher interface {
	MatchFrame(ctx context.Context, faces []Face, pool *Pool) []Match
}

// IndependentMatcher matches each face on its own. Two faces may resolve to
// the same person. Faces left when Budget runs out are not matched and are
// omitted from the result.
type IndependentMatcher struct {
	Engine *Engine
	Budget time.Duration
	now    func() time.Time
}

var _ FrameMatcher = (*IndependentMatcher)(nil)

// NewIndependentMatcher creates a matcher; a zero budget means unlimited.
func NewIndependentMatcher(engine *Engine, budget time.Duration) *IndependentMatcher {
	return &IndependentMatcher{Engine: engine, Budget: budget, now: time.Now}
}

// MatchFrame returns one Match per processed face, in input order.
func (m *IndependentMatcher) MatchFrame(ctx context.Context, faces []Face, pool *Pool) []Match {
	start := m.now()
	out := make([]Match, 0, len(faces))

	for i, f := range faces {
		if ctx.Err() != nil {
			break
		}
		if i > 0 && m.Budget > 0 && m.now().Sub(start) >= m.Budget {
			break
		}
		out = append(out, m.matchOne(f, pool))
	}
	return out
}

func (m *IndependentMatcher) matchOne(f Face, pool *Pool) Match {
	match := Match{Box: f.Box}
	if pool.Size() == 0 || len(f.Embedding) == 0 {
		return match
	}

	query := facematch.EnsureNormalized(f.Embedding)
	top, ok := m.Engine.Identify(query, pool.CandidatesFor(query))
	match.Confidence = top.Best
	if ok {
		match.Matched = true
		match.PersonID = top.PersonID
		match.PersonName = pool.Name(top.PersonID)
	}
	return match
}
