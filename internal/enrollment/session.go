package enrollment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/fingerprint"
	"github.com/kozaktomas/face-attendance/internal/logger"
	"github.com/kozaktomas/face-attendance/internal/quality"
)

// Mode selects when photos are quality-gated.
type Mode string

// Capture modes. Camera gates each frame before accepting it; upload admits
// every file and gates it in the background.
const (
	ModeCamera Mode = "camera"
	ModeUpload Mode = "upload"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(s)) {
	case ModeCamera:
		return ModeCamera, nil
	case ModeUpload:
		return ModeUpload, nil
	default:
		return "", fmt.Errorf("unknown capture mode %q", s)
	}
}

// State is a step of the enrollment state machine.
type State string

// Session states.
const (
	StateIdle            State = "idle"
	StateCapturingInfo   State = "capturing_info"
	StateCapturingPhotos State = "capturing_photos"
	StateEnrolling       State = "enrolling"
	StateComplete        State = "complete"
)

// Info identifies the person being enrolled.
type Info struct {
	PersonID    string            `json:"person_id"`
	DisplayName string            `json:"display_name"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	GroupID     string            `json:"group_id,omitempty"`
}

// Validate checks the required fields.
func (i Info) Validate() error {
	if strings.TrimSpace(i.PersonID) == "" {
		return errors.New("person id is required")
	}
	if strings.ContainsAny(i.PersonID, "/\\") || i.PersonID == "." || i.PersonID == ".." {
		return fmt.Errorf("invalid person id %q", i.PersonID)
	}
	if strings.TrimSpace(i.DisplayName) == "" {
		return errors.New("display name is required")
	}
	return nil
}

// SessionConfig holds the capture rules.
type SessionConfig struct {
	Poses                 []string
	MinUploadPhotos       int
	DuplicateHashDistance int
	Quality               quality.Config
}

// slot is one submitted photo. In upload mode it is filled in by a background check.
type slot struct {
	data    []byte
	pose    string
	done    bool
	verdict *quality.Verdict
	hash    *fingerprint.Hash
	err     error
}

// PhotoStatus describes one submitted photo.
type PhotoStatus struct {
	Index       int              `json:"index"`
	Pose        string           `json:"pose,omitempty"`
	Checked     bool             `json:"checked"`
	Passed      bool             `json:"passed"`
	Duplicate   bool             `json:"duplicate"`
	DuplicateOf int              `json:"duplicate_of,omitempty"`
	Verdict     *quality.Verdict `json:"verdict,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// Status is a snapshot of a session.
type Status struct {
	ID        string        `json:"id"`
	Mode      Mode          `json:"mode"`
	State     State         `json:"state"`
	Info      Info          `json:"info"`
	Poses     []string      `json:"poses,omitempty"`
	PoseIndex int           `json:"pose_index"`
	Pose      string        `json:"pose,omitempty"`
	Photos    []PhotoStatus `json:"photos"`
	Accepted  int           `json:"accepted"`
	Required  int           `json:"required"`
	Eligible  bool          `json:"eligible"`
	LastError string        `json:"last_error,omitempty"`
	Result    *Result       `json:"result,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// SubmitResult is returned for each submitted photo.
type SubmitResult struct {
	Index    int              `json:"index"`
	Accepted bool             `json:"accepted"`
	Pending  bool             `json:"pending"`
	Pose     string           `json:"pose,omitempty"`
	NextPose string           `json:"next_pose,omitempty"`
	Verdict  *quality.Verdict `json:"verdict,omitempty"`
}

// Photo is an accepted photo ready for extraction.
type Photo struct {
	Data []byte
	Ref  string
	Pose string
	Face facematch.Box // face found by the gate; empty means the largest face
}

// Session drives one person's enrollment.
type Session struct {
	id   string
	cfg  SessionConfig
	gate quality.Gate
	log  *logger.Logger

	// ctx bounds background checks; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	wg        sync.WaitGroup
	mode      Mode
	state     State
	info      Info
	poseIdx   int
	slots     []*slot
	lastErr   error
	result    *Result
	updatedAt time.Time
}

// NewSession creates an idle session.
func NewSession(id string, gate quality.Gate, cfg SessionConfig) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:        id,
		gate:      gate,
		cfg:       cfg,
		log:       logger.Default().Component("enrollment"),
		ctx:       ctx,
		cancel:    cancel,
		state:     StateIdle,
		updatedAt: time.Now(),
	}
}

// Close cancels background quality checks that are still running.
func (s *Session) Close() {
	s.cancel()
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Begin starts capture in the given mode.
func (s *Session) Begin(mode Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return invalidState("begin", s.state)
	}
	if mode == ModeCamera && len(s.cfg.Poses) == 0 {
		return errors.New("camera mode requires at least one pose")
	}
	s.mode = mode
	s.setState(StateCapturingInfo)
	return nil
}

// SetInfo records who is being enrolled and moves on to photo capture.
// Info may be corrected later while photos are still being captured.
func (s *Session) SetInfo(info Info) error {
	if err := info.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateCapturingInfo, StateCapturingPhotos:
	default:
		return invalidState("set info", s.state)
	}
	s.info = info
	if s.state == StateCapturingInfo {
		s.setState(StateCapturingPhotos)
	}
	return nil
}

// Submit offers one photo. In camera mode the photo is gated before this
// returns: a rejection keeps the session on the same pose and returns the
// verdict together with a *facematch.QualityRejectedError. In upload mode the
// photo is admitted immediately and checked in the background.
func (s *Session) Submit(ctx context.Context, data []byte) (*SubmitResult, error) {
	s.mu.Lock()
	switch s.state {
	case StateCapturingPhotos:
	default:
		s.mu.Unlock()
		return nil, invalidState("submit photos", s.state)
	}
	mode := s.mode
	s.mu.Unlock()

	if mode == ModeCamera {
		return s.submitCamera(ctx, data)
	}
	return s.submitUpload(data), nil
}

func (s *Session) submitCamera(ctx context.Context, data []byte) (*SubmitResult, error) {
	s.mu.Lock()
	if s.poseIdx >= len(s.cfg.Poses) {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: all poses captured", ErrInvalidState)
	}
	pose := s.cfg.Poses[s.poseIdx]
	s.mu.Unlock()

	verdict, err := quality.Check(ctx, s.gate, data, s.cfg.Quality)
	res := &SubmitResult{Index: -1, Pose: pose, Verdict: verdict, NextPose: pose}
	if err != nil {
		return res, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Another frame for the same pose may have been accepted meanwhile.
	if s.poseIdx >= len(s.cfg.Poses) || s.cfg.Poses[s.poseIdx] != pose {
		return nil, fmt.Errorf("%w: pose %s already captured", ErrInvalidState, pose)
	}
	s.slots = append(s.slots, &slot{data: data, pose: pose, done: true, verdict: verdict})
	s.poseIdx++
	s.touch()

	res.Index = len(s.slots) - 1
	res.Accepted = true
	res.NextPose = ""
	if s.poseIdx < len(s.cfg.Poses) {
		res.NextPose = s.cfg.Poses[s.poseIdx]
	}
	return res, nil
}

func (s *Session) submitUpload(data []byte) *SubmitResult {
	s.mu.Lock()
	sl := &slot{data: data}
	s.slots = append(s.slots, sl)
	idx := len(s.slots) - 1
	s.touch()
	s.wg.Add(1)
	s.mu.Unlock()

	// The check outlives the request that submitted the photo but not the session.
	go func() {
		defer s.wg.Done()
		verdict, err := s.gate.Assess(s.ctx, data, s.cfg.Quality)
		if err == nil && s.ctx.Err() != nil {
			err = s.ctx.Err()
		}
		var hash *fingerprint.Hash
		if err == nil && verdict.Passed {
			h, hashErr := fingerprint.Of(data)
			if hashErr != nil {
				// The photo still counts, it just cannot be compared for duplicates.
				s.log.WithFields(logger.Fields{"session_id": s.id, "index": idx}).
					WithError(hashErr).Warn("Failed to fingerprint upload, duplicate check skipped")
			} else {
				hash = &h
			}
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		sl.verdict = verdict
		sl.err = err
		sl.hash = hash
		sl.done = true
		s.touch()
	}()

	return &SubmitResult{Index: idx, Pending: true}
}

// Wait blocks until every background quality check finished or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns a snapshot.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	dups := s.duplicatesLocked()
	st := Status{
		ID:        s.id,
		Mode:      s.mode,
		State:     s.state,
		Info:      s.info,
		PoseIndex: s.poseIdx,
		Required:  s.requiredLocked(),
		Result:    s.result,
		UpdatedAt: s.updatedAt,
		Photos:    make([]PhotoStatus, 0, len(s.slots)),
	}
	if s.mode == ModeCamera {
		st.Poses = s.cfg.Poses
		if s.poseIdx < len(s.cfg.Poses) {
			st.Pose = s.cfg.Poses[s.poseIdx]
		}
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	for i, sl := range s.slots {
		ps := PhotoStatus{Index: i, Pose: sl.pose, Checked: sl.done, Verdict: sl.verdict}
		if sl.err != nil {
			ps.Error = sl.err.Error()
		}
		if sl.done && sl.err == nil && sl.verdict != nil && sl.verdict.Passed {
			if orig, ok := dups[i]; ok {
				ps.Duplicate = true
				ps.DuplicateOf = orig
			} else {
				ps.Passed = true
				st.Accepted++
			}
		}
		st.Photos = append(st.Photos, ps)
	}
	st.Eligible = st.Accepted >= st.Required
	return st
}

func (s *Session) requiredLocked() int {
	if s.mode == ModeCamera {
		return len(s.cfg.Poses)
	}
	return max(1, s.cfg.MinUploadPhotos)
}

// duplicatesLocked maps the index of each near-duplicate passing photo to the
// earlier passing photo it repeats. Evaluated in index order so the result does
// not depend on which background check finished first.
func (s *Session) duplicatesLocked() map[int]int {
	dups := map[int]int{}
	if s.mode != ModeUpload || s.cfg.DuplicateHashDistance < 0 {
		return dups
	}
	set := fingerprint.NewSet(s.cfg.DuplicateHashDistance)
	for i, sl := range s.slots {
		if !sl.done || sl.err != nil || sl.verdict == nil || !sl.verdict.Passed || sl.hash == nil {
			continue
		}
		if orig, dup := set.Add(i, *sl.hash); dup {
			dups[i] = orig
		}
	}
	return dups
}

// accepted returns the photos that passed the gate, excluding duplicates.
func (s *Session) acceptedLocked() []Photo {
	dups := s.duplicatesLocked()
	var out []Photo
	for i, sl := range s.slots {
		if !sl.done || sl.err != nil || sl.verdict == nil || !sl.verdict.Passed {
			continue
		}
		if _, dup := dups[i]; dup {
			continue
		}
		p := Photo{Data: sl.data, Pose: sl.pose}
		if sl.verdict.Face != nil {
			p.Face = sl.verdict.Face.Box
		}
		out = append(out, p)
	}
	return out
}

// beginEnrolling moves to Enrolling when enough photos were accepted.
func (s *Session) beginEnrolling() (Info, []Photo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateCapturingPhotos:
	default:
		return Info{}, nil, invalidState("enroll", s.state)
	}

	photos := s.acceptedLocked()
	if need := s.requiredLocked(); len(photos) < need {
		return Info{}, nil, &NeedMorePhotosError{Have: len(photos), Need: need}
	}
	s.lastErr = nil
	s.setState(StateEnrolling)
	return s.info, photos, nil
}

// finish records the outcome. A failure returns to photo capture with every
// accepted photo kept, so enrollment can be retried without recapturing.
func (s *Session) finish(res *Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.lastErr = err
		s.setState(StateCapturingPhotos)
		return
	}
	s.result = res
	s.setState(StateComplete)
}

// Done reports whether the session completed.
func (s *Session) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateComplete
}

// UpdatedAt returns the time of the last change.
func (s *Session) UpdatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}

func (s *Session) setState(st State) {
	s.state = st
	s.touch()
}

func (s *Session) touch() {
	s.updatedAt = time.Now()
}
