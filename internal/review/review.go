// Package review handles enrollments submitted without an admin present.
// Photos are stored as submitted; an admin reviews an advisory quality summary
// and then accepts or rejects the whole submission.
package review

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/face-attendance/internal/blob"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/enrollment"
	"github.com/kozaktomas/face-attendance/internal/events"
	"github.com/kozaktomas/face-attendance/internal/fingerprint"
	"github.com/kozaktomas/face-attendance/internal/logger"
	"github.com/kozaktomas/face-attendance/internal/quality"
)

// FieldName is the submitted form field holding the display name.
// Every other field becomes a person attribute.
const FieldName = "name"

var (
	// ErrNotFound is returned for unknown enrollment ids.
	ErrNotFound = fmt.Errorf("pending enrollment %w", database.ErrNotFound)
	// ErrRejected is returned when accepting an enrollment that was rejected.
	ErrRejected = errors.New("pending enrollment was rejected")
	// ErrApproved is returned when rejecting an enrollment that was approved.
	ErrApproved = errors.New("pending enrollment was approved")
)

// Submission is a remotely captured enrollment.
type Submission struct {
	PersonID string // generated when empty
	Fields   map[string]string
	GroupID  string
	Photos   [][]byte
}

// PhotoReview is the advisory verdict for one stored photo.
type PhotoReview struct {
	Ref     string           `json:"ref"`
	Verdict *quality.Verdict `json:"verdict,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// Report is what an admin looks at before deciding.
type Report struct {
	Enrollment *database.PendingEnrollment `json:"enrollment"`
	Photos     []PhotoReview               `json:"photos"`
	Summary    quality.Summary             `json:"summary"`
}

// Outcome is the result of accepting one enrollment in a bulk run.
type Outcome struct {
	ID     string                   `json:"id"`
	Result *database.ApprovalResult `json:"result,omitempty"`
	Error  string                   `json:"error,omitempty"`
}

// BulkResult lists per-item outcomes of a bulk accept.
type BulkResult struct {
	Succeeded []string  `json:"succeeded"`
	Failed    []string  `json:"failed"`
	Outcomes  []Outcome `json:"outcomes"`
}

// Store is the part of the database the reviewer needs.
type Store interface {
	database.PendingStore
}

// Reviewer implements submit, review, accept and reject.
type Reviewer struct {
	store    Store
	blobs    blob.Store
	gate     quality.Gate
	quality  quality.Config
	pipeline *enrollment.Pipeline
	events   events.Publisher
	log      *logger.Logger
	locks    *keyedMutex

	Concurrency int // parallel quality checks during Review
}

// NewReviewer creates a reviewer. A nil publisher discards events.
func NewReviewer(store Store, blobs blob.Store, gate quality.Gate, cfg quality.Config, pipeline *enrollment.Pipeline, pub events.Publisher) *Reviewer {
	if pub == nil {
		pub = events.Discard
	}
	return &Reviewer{
		store:       store,
		blobs:       blobs,
		gate:        gate,
		quality:     cfg,
		pipeline:    pipeline,
		events:      pub,
		log:         logger.Default().Component("review"),
		locks:       newKeyedMutex(),
		Concurrency: constants.DefaultConcurrency,
	}
}

// SetLogger replaces the reviewer logger.
func (r *Reviewer) SetLogger(l *logger.Logger) {
	if l != nil {
		r.log = l.Component("review")
	}
}

// Submit stores the photos under the person's prefix and records a pending enrollment.
// Nothing is quality-gated here.
func (r *Reviewer) Submit(ctx context.Context, sub Submission) (*database.PendingEnrollment, error) {
	if strings.TrimSpace(sub.Fields[FieldName]) == "" {
		return nil, errors.New("name is required")
	}
	if len(sub.Photos) == 0 {
		return nil, errors.New("at least one photo is required")
	}
	personID := sub.PersonID
	if personID == "" {
		personID = uuid.NewString()
	}
	if err := (enrollment.Info{PersonID: personID, DisplayName: sub.Fields[FieldName]}).Validate(); err != nil {
		return nil, err
	}

	refs := make([]string, 0, len(sub.Photos))
	cleanup := func() {
		for _, ref := range refs {
			_ = r.blobs.Delete(context.WithoutCancel(ctx), ref)
		}
	}
	for i, data := range sub.Photos {
		key, err := blob.NewKey(personID, fingerprint.ExtensionFor(data))
		if err != nil {
			cleanup()
			return nil, err
		}
		if err := r.blobs.Put(ctx, key, bytes.NewReader(data), int64(len(data)), blob.ContentType(key)); err != nil {
			cleanup()
			return nil, fmt.Errorf("store photo %d: %w", i, err)
		}
		refs = append(refs, key)
	}

	p := &database.PendingEnrollment{
		ID:          uuid.NewString(),
		PersonID:    personID,
		Fields:      sub.Fields,
		PhotoRefs:   refs,
		GroupID:     sub.GroupID,
		Status:      database.StatusPending,
		SubmittedAt: time.Now().UTC(),
	}
	if err := r.store.SavePending(ctx, p); err != nil {
		cleanup()
		return nil, fmt.Errorf("save pending enrollment: %w", err)
	}

	r.log.WithFields(logger.Fields{"enrollment_id": p.ID, "person_id": personID, "photos": len(refs)}).Info("Enrollment submitted")
	r.events.Publish(events.Event{
		Type:     events.PendingSubmitted,
		PersonID: personID,
		Message:  fmt.Sprintf("%s submitted %d photos", sub.Fields[FieldName], len(refs)),
		Data:     p.ID,
	})
	return p, nil
}

// List returns enrollments in a status, all when status is empty.
func (r *Reviewer) List(ctx context.Context, status database.PendingStatus) ([]database.PendingEnrollment, error) {
	return r.store.ListPending(ctx, status)
}

// Get returns one enrollment.
func (r *Reviewer) Get(ctx context.Context, id string) (*database.PendingEnrollment, error) {
	p, err := r.store.GetPending(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrNotFound
	}
	return p, nil
}

// Review re-scores every stored photo. The summary is advisory only.
func (r *Reviewer) Review(ctx context.Context, id string) (*Report, error) {
	p, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	photos := make([]PhotoReview, len(p.PhotoRefs))
	semaphore := make(chan struct{}, max(1, r.Concurrency))
	var wg sync.WaitGroup
	for i, ref := range p.PhotoRefs {
		wg.Add(1)
		go func(idx int, ref string) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			photos[idx].Ref = ref
			data, err := blob.ReadAll(ctx, r.blobs, ref)
			if err != nil {
				photos[idx].Error = err.Error()
				return
			}
			v, err := r.gate.Assess(ctx, data, r.quality)
			if err != nil {
				photos[idx].Error = err.Error()
				return
			}
			photos[idx].Verdict = v
		}(i, ref)
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	verdicts := make([]*quality.Verdict, len(photos))
	for i := range photos {
		verdicts[i] = photos[i].Verdict
	}
	return &Report{Enrollment: p, Photos: photos, Summary: quality.Summarize(verdicts)}, nil
}

// Accept enrolls every stored photo without re-gating. Accepting an approved
// enrollment again returns the recorded result.
func (r *Reviewer) Accept(ctx context.Context, id string) (*database.ApprovalResult, error) {
	unlock := r.locks.Lock(id)
	defer unlock()

	p, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch p.Status {
	case database.StatusApproved:
		return p.Result, nil
	case database.StatusRejected:
		return nil, ErrRejected
	}
	log := r.log.WithFields(logger.Fields{"enrollment_id": id, "person_id": p.PersonID})

	var photos []enrollment.Photo
	var missing []string
	for _, ref := range p.PhotoRefs {
		data, err := blob.ReadAll(ctx, r.blobs, ref)
		if err != nil {
			if errors.Is(err, blob.ErrNotFound) {
				log.WithField("ref", ref).Warn("Stored photo is missing")
				missing = append(missing, ref)
				continue
			}
			return nil, fmt.Errorf("read photo %s: %w", ref, err)
		}
		photos = append(photos, enrollment.Photo{Data: data, Ref: ref})
	}

	res, err := r.pipeline.EnrollPhotos(ctx, infoFor(p), photos)
	if err != nil {
		return nil, err
	}

	result := &database.ApprovalResult{
		PersonID:        res.PersonID,
		EmbeddingCount:  res.EmbeddingCount,
		FailedPhotoRefs: missing,
		GroupID:         res.GroupID,
	}
	for _, f := range res.Failed {
		result.FailedPhotoRefs = append(result.FailedPhotoRefs, f.Ref)
	}

	if err := r.store.MarkApproved(ctx, id, result); err != nil {
		if !errors.Is(err, database.ErrStatusConflict) {
			return nil, fmt.Errorf("mark approved: %w", err)
		}
		// Decided elsewhere meanwhile; report what was recorded.
		cur, gerr := r.Get(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		if cur.Status == database.StatusApproved {
			return cur.Result, nil
		}
		return nil, ErrRejected
	}

	log.WithField("embeddings", result.EmbeddingCount).Info("Enrollment approved")
	r.events.Publish(events.Event{
		Type:     events.PendingApproved,
		PersonID: p.PersonID,
		Message:  fmt.Sprintf("%s approved with %d embeddings", p.Fields[FieldName], result.EmbeddingCount),
		Data:     result,
	})
	return result, nil
}

// Reject deletes the stored photos and marks the enrollment rejected.
// Rejecting twice is a no-op.
func (r *Reviewer) Reject(ctx context.Context, id string) error {
	unlock := r.locks.Lock(id)
	defer unlock()

	p, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	switch p.Status {
	case database.StatusRejected:
		return nil
	case database.StatusApproved:
		return ErrApproved
	}

	for _, ref := range p.PhotoRefs {
		if err := r.blobs.Delete(ctx, ref); err != nil {
			return fmt.Errorf("delete photo %s: %w", ref, err)
		}
	}
	if err := r.store.MarkRejected(ctx, id); err != nil {
		if errors.Is(err, database.ErrStatusConflict) {
			return nil
		}
		return fmt.Errorf("mark rejected: %w", err)
	}

	r.log.WithFields(logger.Fields{"enrollment_id": id, "person_id": p.PersonID}).Info("Enrollment rejected")
	r.events.Publish(events.Event{
		Type:     events.PendingRejected,
		PersonID: p.PersonID,
		Message:  fmt.Sprintf("%s rejected", p.Fields[FieldName]),
		Data:     id,
	})
	return nil
}

// BulkAccept accepts each id in order. A failing item does not stop the rest.
func (r *Reviewer) BulkAccept(ctx context.Context, ids []string) *BulkResult {
	out := &BulkResult{Succeeded: []string{}, Failed: []string{}}
	for _, id := range ids {
		if ctx.Err() != nil {
			out.Failed = append(out.Failed, id)
			out.Outcomes = append(out.Outcomes, Outcome{ID: id, Error: ctx.Err().Error()})
			continue
		}
		res, err := r.Accept(ctx, id)
		if err != nil {
			r.log.WithField("enrollment_id", id).WithError(err).Warn("Bulk accept item failed")
			out.Failed = append(out.Failed, id)
			out.Outcomes = append(out.Outcomes, Outcome{ID: id, Error: err.Error()})
			continue
		}
		out.Succeeded = append(out.Succeeded, id)
		out.Outcomes = append(out.Outcomes, Outcome{ID: id, Result: res})
	}
	return out
}

func infoFor(p *database.PendingEnrollment) enrollment.Info {
	info := enrollment.Info{
		PersonID:    p.PersonID,
		DisplayName: strings.TrimSpace(p.Fields[FieldName]),
		GroupID:     p.GroupID,
	}
	for k, v := range p.Fields {
		if k == FieldName {
			continue
		}
		if info.Attributes == nil {
			info.Attributes = make(map[string]string)
		}
		info.Attributes[k] = v
	}
	return info
}
