// Package matcher decides which enrolled person, if any, a detected face belongs to.
package matcher

import (
	"sort"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// noSecond marks a person with a single stored embedding.
const noSecond = -1.0

// PersonScore is a person's similarity to a query embedding over all of their embeddings.
type PersonScore struct {
	PersonID   string  `json:"person_id"`
	Best       float64 `json:"best"`
	Second     float64 `json:"second"`
	Embeddings int     `json:"embeddings"`
}

// Engine ranks candidates by best-angle cosine similarity.
type Engine struct {
	Threshold float64
	Epsilon   float64
}

// NewEngine creates an engine; non-positive values fall back to the defaults.
func NewEngine(threshold, epsilon float64) *Engine {
	if threshold <= 0 {
		threshold = constants.DefaultSimilarityThreshold
	}
	if epsilon <= 0 {
		epsilon = constants.DefaultTieEpsilon
	}
	return &Engine{Threshold: threshold, Epsilon: epsilon}
}

// Rank scores every person in pool. Each person's score is the maximum similarity
// over their own embeddings. The first element is the winner after tie-breaking:
// among persons whose best score is within Epsilon of the top, the higher second-best
// similarity wins, then the lexicographically smaller id.
func (e *Engine) Rank(query []float32, pool []database.Candidate) []PersonScore {
	if len(query) == 0 || len(pool) == 0 {
		return nil
	}

	byPerson := make(map[string]*PersonScore)
	for _, c := range pool {
		s := facematch.CosineSimilarity(query, c.Vector)
		ps, ok := byPerson[c.PersonID]
		if !ok {
			byPerson[c.PersonID] = &PersonScore{PersonID: c.PersonID, Best: s, Second: noSecond, Embeddings: 1}
			continue
		}
		ps.Embeddings++
		switch {
		case s > ps.Best:
			ps.Second = ps.Best
			ps.Best = s
		case s > ps.Second:
			ps.Second = s
		}
	}

	ranked := make([]PersonScore, 0, len(byPerson))
	for _, ps := range byPerson {
		ranked = append(ranked, *ps)
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Best != b.Best {
			return a.Best > b.Best
		}
		if a.Second != b.Second {
			return a.Second > b.Second
		}
		return a.PersonID < b.PersonID
	})

	winner := 0
	for i := 1; i < len(ranked) && ranked[0].Best-ranked[i].Best <= e.Epsilon; i++ {
		if preferred(ranked[i], ranked[winner]) {
			winner = i
		}
	}
	if winner > 0 {
		w := ranked[winner]
		copy(ranked[1:winner+1], ranked[:winner])
		ranked[0] = w
	}
	return ranked
}

func preferred(a, b PersonScore) bool {
	if a.Second != b.Second {
		return a.Second > b.Second
	}
	return a.PersonID < b.PersonID
}

// Identify returns the top-ranked person and whether their score reaches the threshold.
// An empty pool always yields no match.
func (e *Engine) Identify(query []float32, pool []database.Candidate) (PersonScore, bool) {
	ranked := e.Rank(query, pool)
	if len(ranked) == 0 {
		return PersonScore{}, false
	}
	top := ranked[0]
	return top, top.Best >= e.Threshold
}
