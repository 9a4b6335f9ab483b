package matcher

import (
	"cmp"
	"maps"
	"slices"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/logger"
)

// Pool is a candidate set prepared for repeated matching.
// Large pools carry an HNSW index that shortlists persons before exact scoring.
type Pool struct {
	Candidates []database.Candidate
	Names      map[string]string

	byPerson map[string][]database.Candidate
	index    *database.HNSWIndex
	opts     PoolOptions
}

// PoolOptions controls when the shortlist index is built.
type PoolOptions struct {
	ShortlistMinPool int
	ShortlistK       int
	// IndexPath persists the index; a saved index is reused while it still
	// matches the candidate set.
	IndexPath string
}

// NewPool prepares candidates for matching. names maps person id to display name.
func NewPool(cands []database.Candidate, names map[string]string, opts PoolOptions) *Pool {
	p := &Pool{
		Candidates: cands,
		Names:      names,
		byPerson:   make(map[string][]database.Candidate),
		opts:       opts,
	}
	for _, c := range cands {
		p.byPerson[c.PersonID] = append(p.byPerson[c.PersonID], c)
	}

	if p.wantsIndex() {
		p.index = loadOrBuildIndex(cands, opts.IndexPath)
		logger.Default().WithFields(logger.Fields{
			"embeddings": len(cands),
			"persons":    len(p.byPerson),
		}).Debug("shortlist index ready")
	}
	return p
}

func (p *Pool) wantsIndex() bool {
	o := p.opts
	return o.ShortlistMinPool > 0 && o.ShortlistK > 0 && len(p.Candidates) >= o.ShortlistMinPool
}

// Update returns a pool in which the embeddings of the changed persons are
// replaced; a person mapped to no embeddings is removed. names adds or
// renames persons. The receiver stays usable. Its shortlist index is shared
// with the result and updated in place, so callers must not run two Updates
// of the same pool concurrently.
func (p *Pool) Update(changed map[string][]database.Candidate, names map[string]string) *Pool {
	next := &Pool{
		Names:    make(map[string]string, len(p.Names)+len(names)),
		byPerson: make(map[string][]database.Candidate, len(p.byPerson)+len(changed)),
		index:    p.index,
		opts:     p.opts,
	}
	maps.Copy(next.Names, p.Names)
	maps.Copy(next.Names, names)

	for _, c := range p.Candidates {
		if _, ok := changed[c.PersonID]; !ok {
			next.Candidates = append(next.Candidates, c)
			next.byPerson[c.PersonID] = append(next.byPerson[c.PersonID], c)
		}
	}
	for pid, cands := range changed {
		if len(cands) == 0 {
			delete(next.Names, pid)
			continue
		}
		next.Candidates = append(next.Candidates, cands...)
		next.byPerson[pid] = cands
	}
	slices.SortFunc(next.Candidates, func(a, b database.Candidate) int {
		return cmp.Compare(a.EmbeddingID, b.EmbeddingID)
	})

	switch {
	case next.index != nil:
		for pid, cands := range changed {
			if len(cands) == 0 {
				next.index.DeletePerson(pid)
				continue
			}
			had := make(map[int64]bool, len(p.byPerson[pid]))
			for _, c := range p.byPerson[pid] {
				had[c.EmbeddingID] = true
			}
			keep := make(map[int64]bool, len(cands))
			for _, c := range cands {
				keep[c.EmbeddingID] = true
				if !had[c.EmbeddingID] {
					next.index.Add(c)
				}
			}
			for id := range had {
				if !keep[id] {
					next.index.Delete(id)
				}
			}
		}
		logger.Default().WithFields(logger.Fields{
			"changed": len(changed),
			"indexed": next.index.Count(),
		}).Debug("shortlist index updated")
	case next.wantsIndex():
		next.index = loadOrBuildIndex(next.Candidates, p.opts.IndexPath)
	}
	return next
}

func indexMetadata(cands []database.Candidate) database.HNSWIndexMetadata {
	meta := database.HNSWIndexMetadata{EmbeddingCount: int64(len(cands))}
	for _, c := range cands {
		if c.EmbeddingID > meta.MaxEmbeddingID {
			meta.MaxEmbeddingID = c.EmbeddingID
		}
	}
	return meta
}

// loadOrBuildIndex reuses the index saved at path when its metadata matches
// cands, otherwise builds a fresh one and saves it.
func loadOrBuildIndex(cands []database.Candidate, path string) *database.HNSWIndex {
	want := indexMetadata(cands)
	log := logger.Default().WithField("path", path)

	if path != "" {
		if saved, err := database.LoadHNSWMetadata(path); err == nil &&
			saved.EmbeddingCount == want.EmbeddingCount && saved.MaxEmbeddingID == want.MaxEmbeddingID {
			idx := database.NewHNSWIndex()
			if err := idx.LoadWithMetadata(path); err == nil {
				return idx
			}
			log.WithError(err).Warn("saved shortlist index unreadable, rebuilding")
		}
	}

	idx := database.NewHNSWIndex()
	idx.Build(cands)
	if path != "" {
		want.BuildTime = time.Now().UTC()
		if err := idx.SaveWithMetadata(path, want); err != nil {
			log.WithError(err).Warn("failed to save shortlist index")
		}
	}
	return idx
}

// Size returns the number of embeddings in the pool.
func (p *Pool) Size() int {
	if p == nil {
		return 0
	}
	return len(p.Candidates)
}

// Persons returns the number of distinct persons in the pool.
func (p *Pool) Persons() int {
	if p == nil {
		return 0
	}
	return len(p.byPerson)
}

// Name returns the display name for a person, or the id when unknown.
func (p *Pool) Name(personID string) string {
	if p != nil {
		if n, ok := p.Names[personID]; ok && n != "" {
			return n
		}
	}
	return personID
}

// Shortlisted reports whether the pool uses the ANN shortlist.
func (p *Pool) Shortlisted() bool {
	return p != nil && p.index != nil && !p.index.IsEmpty()
}

// CandidatesFor returns the embeddings to score exactly for query. Without an
// index this is the whole pool; with one it is every embedding of each person
// that owns one of the approximate nearest neighbors, so best-angle scoring
// still sees all angles of a shortlisted person.
func (p *Pool) CandidatesFor(query []float32) []database.Candidate {
	if p == nil {
		return nil
	}
	if !p.Shortlisted() {
		return p.Candidates
	}

	neighbors, err := p.index.Search(query, p.opts.ShortlistK)
	if err != nil || len(neighbors) == 0 {
		logger.Default().WithError(err).Warn("shortlist search failed, scoring full pool")
		return p.Candidates
	}

	seen := make(map[string]bool)
	var out []database.Candidate
	for _, n := range neighbors {
		if seen[n.PersonID] {
			continue
		}
		seen[n.PersonID] = true
		out = append(out, p.byPerson[n.PersonID]...)
	}
	return out
}
