package enrollment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kozaktomas/face-attendance/internal/blob"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/events"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/fingerprint"
	"github.com/kozaktomas/face-attendance/internal/logger"
)

// Repository is the part of the store a commit writes to.
type Repository interface {
	database.PersonStore
	database.EmbeddingStore
	database.GroupStore
}

// ProgressInfo contains progress information for callbacks.
type ProgressInfo struct {
	Phase    string // "extracting", "committing"
	Current  int
	Total    int
	PersonID string
	Message  string
}

// PhotoFailure is one photo that produced no embedding.
type PhotoFailure struct {
	Index int    `json:"index"`
	Pose  string `json:"pose,omitempty"`
	Ref   string `json:"ref,omitempty"`
	Error string `json:"error"`
}

// Result is what a successful enrollment produced.
type Result struct {
	PersonID       string         `json:"person_id"`
	Created        bool           `json:"created"`
	EmbeddingCount int            `json:"embedding_count"`
	Succeeded      []int          `json:"succeeded"`
	Refs           []string       `json:"refs"`
	Failed         []PhotoFailure `json:"failed,omitempty"`
	GroupID        string         `json:"group_id,omitempty"`
}

// Extracted is an accepted photo with its embedding.
type Extracted struct {
	Photo
	Index  int
	Vector []float32
}

// Options configures a Pipeline.
type Options struct {
	Concurrency       int
	MaxPhotoDimension int
}

// Pipeline turns accepted photos into a stored person with embeddings.
type Pipeline struct {
	store     Repository
	blobs     blob.Store
	extractor facematch.Extractor
	events    events.Publisher
	log       *logger.Logger

	concurrency int
	maxDim      int

	OnProgress func(ProgressInfo) // Optional progress callback for CLI and web UI
}

// NewPipeline creates a pipeline. A nil publisher discards events.
func NewPipeline(store Repository, blobs blob.Store, extractor facematch.Extractor, pub events.Publisher, opts Options) *Pipeline {
	if pub == nil {
		pub = events.Discard
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = constants.WorkerPoolSize
	}
	if opts.MaxPhotoDimension <= 0 {
		opts.MaxPhotoDimension = constants.MaxImageSize
	}
	return &Pipeline{
		store:       store,
		blobs:       blobs,
		extractor:   extractor,
		events:      pub,
		log:         logger.Default().Component("enrollment"),
		concurrency: opts.Concurrency,
		maxDim:      opts.MaxPhotoDimension,
	}
}

// SetLogger replaces the pipeline logger.
func (p *Pipeline) SetLogger(l *logger.Logger) {
	if l != nil {
		p.log = l.Component("enrollment")
	}
}

// Enroll runs extraction and commit over a session's accepted photos.
// On failure the session goes back to photo capture with its photos intact.
func (p *Pipeline) Enroll(ctx context.Context, s *Session) (*Result, error) {
	info, photos, err := s.beginEnrolling()
	if err != nil {
		return nil, err
	}
	res, err := p.EnrollPhotos(ctx, info, photos)
	s.finish(res, err)
	return res, err
}

// EnrollPhotos extracts and commits photos that are already accepted.
// Individual extraction failures are skipped; the call fails only when no
// photo yields an embedding.
func (p *Pipeline) EnrollPhotos(ctx context.Context, info Info, photos []Photo) (*Result, error) {
	if err := info.Validate(); err != nil {
		return nil, err
	}
	log := p.log.WithFields(logger.Fields{"person_id": info.PersonID, "photos": len(photos)})

	extracted, failures := p.extract(ctx, info.PersonID, photos)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(extracted) == 0 {
		err := fmt.Errorf("%w: none of %d photos produced an embedding", facematch.ErrExtractionFailed, len(photos))
		log.WithError(err).Warn("Enrollment failed")
		p.publishFailure(info.PersonID, err, failures)
		return nil, err
	}

	res, err := p.Commit(ctx, info, extracted)
	if err != nil {
		log.WithError(err).Error("Enrollment commit failed")
		p.publishFailure(info.PersonID, err, failures)
		return nil, err
	}
	res.Failed = failures

	log.WithFields(logger.Fields{
		"embeddings": res.EmbeddingCount,
		"failed":     len(failures),
		"created":    res.Created,
	}).Info("Enrollment completed")
	p.events.Publish(events.Event{
		Type:     events.EnrollmentCompleted,
		PersonID: info.PersonID,
		Message:  fmt.Sprintf("%s enrolled with %d embeddings", info.DisplayName, res.EmbeddingCount),
		Data:     res,
	})
	return res, nil
}

type extractResult struct {
	index  int
	vector []float32
	err    error
}

// extract runs the extractor over every photo on a bounded worker pool.
// Results keep the input order.
func (p *Pipeline) extract(ctx context.Context, personID string, photos []Photo) ([]Extracted, []PhotoFailure) {
	resultsChan := make(chan extractResult, len(photos))
	semaphore := make(chan struct{}, p.concurrency)
	var wg sync.WaitGroup
	var processed int
	var progressMu sync.Mutex

	reportProgress := func() {
		progressMu.Lock()
		processed++
		current := processed
		progressMu.Unlock()
		if p.OnProgress != nil {
			p.OnProgress(ProgressInfo{Phase: "extracting", Current: current, Total: len(photos), PersonID: personID})
		}
	}

	for i := range photos {
		wg.Add(1)
		go func(idx int, data []byte, face facematch.Box) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			if ctx.Err() != nil {
				resultsChan <- extractResult{index: idx, err: ctx.Err()}
				reportProgress()
				return
			}

			vec, err := p.extractor.Extract(ctx, data, face)
			if err == nil {
				vec = facematch.EnsureNormalized(vec)
			}
			resultsChan <- extractResult{index: idx, vector: vec, err: err}
			reportProgress()
		}(i, photos[i].Data, photos[i].Face)
	}

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	results := make([]extractResult, len(photos))
	for r := range resultsChan {
		results[r.index] = r
	}

	var extracted []Extracted
	var failures []PhotoFailure
	for i, r := range results {
		if r.err != nil {
			p.log.WithFields(logger.Fields{"person_id": personID, "index": i}).WithError(r.err).Warn("Skipping photo")
			failures = append(failures, PhotoFailure{Index: i, Pose: photos[i].Pose, Ref: photos[i].Ref, Error: r.err.Error()})
			continue
		}
		extracted = append(extracted, Extracted{Photo: photos[i], Index: i, Vector: r.vector})
	}
	return extracted, failures
}

// Commit stores the photos, creates the person if absent, appends every
// embedding and adds the group membership. Each step is idempotent, so a
// commit interrupted halfway converges when repeated with the same input.
func (p *Pipeline) Commit(ctx context.Context, info Info, extracted []Extracted) (*Result, error) {
	res := &Result{PersonID: info.PersonID, GroupID: info.GroupID}

	refs := make([]string, len(extracted))
	for i, e := range extracted {
		if e.Ref != "" {
			refs[i] = e.Ref
			continue
		}
		ref, err := p.storePhoto(ctx, info.PersonID, e.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: store photo %d: %v", facematch.ErrPersistenceFailed, e.Index, err)
		}
		refs[i] = ref
	}

	created, err := p.store.SavePerson(ctx, &database.Person{
		ID:          info.PersonID,
		DisplayName: info.DisplayName,
		Attributes:  info.Attributes,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: save person: %v", facematch.ErrPersistenceFailed, err)
	}
	res.Created = created

	for i, e := range extracted {
		if _, err := p.store.AppendEmbedding(ctx, info.PersonID, e.Vector, refs[i]); err != nil {
			return nil, fmt.Errorf("%w: append embedding %d: %v", facematch.ErrPersistenceFailed, e.Index, err)
		}
		res.Succeeded = append(res.Succeeded, e.Index)
		res.Refs = append(res.Refs, refs[i])
		if p.OnProgress != nil {
			p.OnProgress(ProgressInfo{Phase: "committing", Current: i + 1, Total: len(extracted), PersonID: info.PersonID})
		}
	}
	res.EmbeddingCount = len(res.Succeeded)

	if info.GroupID != "" {
		if err := p.store.AddMember(ctx, info.GroupID, info.PersonID); err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return nil, fmt.Errorf("%w: group %s does not exist", facematch.ErrPersistenceFailed, info.GroupID)
			}
			return nil, fmt.Errorf("%w: add group member: %v", facematch.ErrPersistenceFailed, err)
		}
	}
	return res, nil
}

// storePhoto writes a downscaled copy under a content-derived key so a
// repeated commit reuses the same ref.
func (p *Pipeline) storePhoto(ctx context.Context, personID string, data []byte) (string, error) {
	stored, _, err := fingerprint.ResizeImage(data, p.maxDim)
	if err != nil {
		return "", err
	}
	key, err := blob.ContentKey(personID, stored, fingerprint.ExtensionFor(stored))
	if err != nil {
		return "", err
	}
	if err := p.blobs.Put(ctx, key, bytes.NewReader(stored), int64(len(stored)), blob.ContentType(key)); err != nil {
		return "", err
	}
	return key, nil
}

func (p *Pipeline) publishFailure(personID string, err error, failures []PhotoFailure) {
	p.events.Publish(events.Event{
		Type:     events.EnrollmentFailed,
		PersonID: personID,
		Message:  err.Error(),
		Data:     failures,
	})
}
