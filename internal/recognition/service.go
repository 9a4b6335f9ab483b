// Package recognition identifies faces in live frames against enrolled persons.
package recognition

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/events"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/logger"
	"github.com/kozaktomas/face-attendance/internal/matcher"
)

// CandidateSource loads the embeddings and names recognition scores against.
type CandidateSource interface {
	ListCandidates(ctx context.Context, groupID string) ([]database.Candidate, error)
	ListPersons(ctx context.Context) ([]database.PersonSummary, error)
	GetPerson(ctx context.Context, id string) (*database.Person, error)
	ListFor(ctx context.Context, personID string) ([]database.StoredEmbedding, error)
}

// Options configures a Service.
type Options struct {
	CacheTTL         time.Duration
	ShortlistMinPool int
	ShortlistK       int
	IndexPath        string // persisted shortlist index for the ungrouped pool
}

// Result is the outcome for one frame.
type Result struct {
	Faces    []matcher.Match `json:"faces"`
	Detected int             `json:"detected"`
	Skipped  int             `json:"skipped"` // faces not matched within the frame budget
	PoolSize int             `json:"pool_size"`
	Elapsed  time.Duration   `json:"elapsed"`
}

type cachedPool struct {
	pool     *matcher.Pool
	loadedAt time.Time
	seq      uint64 // last change the pool reflects
}

type personChange struct {
	seq      uint64
	personID string
}

// Service detects faces in a frame and matches each one.
type Service struct {
	detector facematch.Detector
	source   CandidateSource
	matcher  matcher.FrameMatcher
	events   events.Publisher
	log      *logger.Logger
	opts     Options

	loadMu sync.Mutex // serializes loads so a shared index is updated by one caller

	mu       sync.Mutex
	pools    map[string]*cachedPool
	seq      uint64 // bumped by every candidate change
	resetSeq uint64 // last change that needs a full reload
	changes  []personChange
	now      func() time.Time
}

// NewService creates a service. The detector must return embeddings with
// each detection. A nil publisher discards events.
func NewService(detector facematch.Detector, source CandidateSource, m matcher.FrameMatcher, pub events.Publisher, opts Options) *Service {
	if pub == nil {
		pub = events.Discard
	}
	return &Service{
		detector: detector,
		source:   source,
		matcher:  m,
		events:   pub,
		log:      logger.Default().Component("recognition"),
		opts:     opts,
		pools:    make(map[string]*cachedPool),
		now:      time.Now,
	}
}

// SetLogger replaces the service logger.
func (s *Service) SetLogger(l *logger.Logger) {
	if l != nil {
		s.log = l.Component("recognition")
	}
}

// Recognize matches every face of frame, restricted to a group's members when groupID is set.
// An empty candidate pool yields unmatched faces, not an error.
func (s *Service) Recognize(ctx context.Context, frame []byte, groupID string) (*Result, error) {
	start := s.now()

	dets, err := s.detector.Detect(ctx, frame)
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", err)
	}
	res := &Result{Faces: []matcher.Match{}, Detected: len(dets)}
	if len(dets) == 0 {
		res.Elapsed = s.now().Sub(start)
		return res, nil
	}

	pool, err := s.Pool(ctx, groupID)
	if err != nil {
		return nil, err
	}
	res.PoolSize = pool.Size()

	faces := make([]matcher.Face, len(dets))
	for i, d := range dets {
		faces[i] = matcher.Face{Box: d.Box, Embedding: d.Embedding}
	}
	res.Faces = s.matcher.MatchFrame(ctx, faces, pool)
	res.Skipped = len(faces) - len(res.Faces)
	res.Elapsed = s.now().Sub(start)

	if res.Skipped > 0 {
		s.log.WithFields(logger.Fields{"skipped": res.Skipped, "elapsed": res.Elapsed}).Debug("Frame budget exhausted")
	}
	for _, m := range res.Faces {
		if m.Matched {
			s.events.Publish(events.Event{Type: events.RecognitionResult, PersonID: m.PersonID, Data: m})
		}
	}
	return res, nil
}

// Pool returns the candidate pool for a group. An absent or expired pool is
// loaded; the ungrouped pool catches up on per-person changes incrementally.
// Store reads and index builds run outside the cache lock.
func (s *Service) Pool(ctx context.Context, groupID string) (*matcher.Pool, error) {
	if pool := s.cached(groupID); pool != nil {
		return pool, nil
	}

	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	s.mu.Lock()
	c := s.pools[groupID]
	seq := s.seq
	var changed []string
	switch {
	case c == nil || s.expired(c) || c.seq < s.resetSeq || (groupID != "" && c.seq < seq):
		c = nil
	case c.seq == seq:
		s.mu.Unlock()
		return c.pool, nil
	default:
		changed = s.changedSince(c.seq)
	}
	s.mu.Unlock()

	var (
		pool *matcher.Pool
		err  error
	)
	loadedAt := s.now()
	if c == nil {
		pool, err = s.load(ctx, groupID)
	} else {
		pool, err = s.refresh(ctx, c.pool, changed)
		loadedAt = c.loadedAt
	}
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.pools[groupID] = &cachedPool{pool: pool, loadedAt: loadedAt, seq: seq}
	s.mu.Unlock()
	return pool, nil
}

// cached returns the pool when it is current, nil otherwise.
func (s *Service) cached(groupID string) *matcher.Pool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.pools[groupID]; ok && c.seq == s.seq && !s.expired(c) {
		return c.pool
	}
	return nil
}

func (s *Service) expired(c *cachedPool) bool {
	return s.opts.CacheTTL > 0 && s.now().Sub(c.loadedAt) >= s.opts.CacheTTL
}

// changedSince returns the distinct persons changed after seq. Callers hold s.mu.
func (s *Service) changedSince(seq uint64) []string {
	var out []string
	for _, ch := range s.changes {
		if ch.seq > seq && !slices.Contains(out, ch.personID) {
			out = append(out, ch.personID)
		}
	}
	return out
}

func (s *Service) load(ctx context.Context, groupID string) (*matcher.Pool, error) {
	cands, err := s.source.ListCandidates(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	persons, err := s.source.ListPersons(ctx)
	if err != nil {
		return nil, fmt.Errorf("list persons: %w", err)
	}
	names := make(map[string]string, len(persons))
	for _, p := range persons {
		names[p.ID] = p.DisplayName
	}

	poolOpts := matcher.PoolOptions{
		ShortlistMinPool: s.opts.ShortlistMinPool,
		ShortlistK:       s.opts.ShortlistK,
	}
	if groupID == "" {
		poolOpts.IndexPath = s.opts.IndexPath
	}
	pool := matcher.NewPool(cands, names, poolOpts)
	s.log.WithFields(logger.Fields{
		"group_id":    groupID,
		"embeddings":  pool.Size(),
		"persons":     pool.Persons(),
		"shortlisted": pool.Shortlisted(),
	}).Debug("Loaded candidate pool")
	return pool, nil
}

// refresh re-reads the embeddings of the changed persons only.
func (s *Service) refresh(ctx context.Context, base *matcher.Pool, personIDs []string) (*matcher.Pool, error) {
	changed := make(map[string][]database.Candidate, len(personIDs))
	names := make(map[string]string, len(personIDs))
	for _, id := range personIDs {
		person, err := s.source.GetPerson(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get person %s: %w", id, err)
		}
		if person == nil {
			changed[id] = nil
			continue
		}
		stored, err := s.source.ListFor(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("list embeddings of %s: %w", id, err)
		}
		cands := make([]database.Candidate, len(stored))
		for i, e := range stored {
			cands[i] = database.Candidate{EmbeddingID: e.ID, PersonID: id, Vector: e.Vector}
		}
		changed[id] = cands
		names[id] = person.DisplayName
	}

	pool := base.Update(changed, names)
	s.log.WithFields(logger.Fields{"changed": len(personIDs), "embeddings": pool.Size()}).Debug("Refreshed candidate pool")
	return pool, nil
}

// Invalidate forces every cached pool to reload.
func (s *Service) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

// reset marks a change that needs a full reload. Callers hold s.mu.
func (s *Service) reset() {
	s.seq++
	s.resetSeq = s.seq
	s.changes = nil
}

// HandleEvent records candidate changes. Enrollments, approvals and deletions
// touching one person are applied incrementally on the next Pool call; other
// changes reload the pools. It never blocks, so it can be registered with
// events.Bus.Handle.
func (s *Service) HandleEvent(ev events.Event) {
	if !ev.ChangesCandidates() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Type {
	case events.EnrollmentCompleted, events.PendingApproved, events.PersonDeleted, events.PhotoDeleted:
		if ev.PersonID != "" && len(s.changes) < constants.MaxPoolChanges {
			s.seq++
			s.changes = append(s.changes, personChange{seq: s.seq, personID: ev.PersonID})
			return
		}
	}
	s.reset()
}
