package recognition

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/logger"
)

// FrameSource yields the current frame of a camera stream.
type FrameSource interface {
	Capture(ctx context.Context) ([]byte, error)
}

// FrameSourceFunc adapts a function to FrameSource.
type FrameSourceFunc func(ctx context.Context) ([]byte, error)

// Capture calls f.
func (f FrameSourceFunc) Capture(ctx context.Context) ([]byte, error) {
	return f(ctx)
}

// LoopOptions configures a Loop.
type LoopOptions struct {
	Interval    time.Duration
	MaxInFlight int // concurrent recognition calls; ticks beyond it skip recognition
	GroupID     string
}

// Loop polls a stream at a fixed cadence. Every tick captures one frame and
// starts detection and recognition independently without waiting for either;
// results are applied to the display whenever they arrive.
type Loop struct {
	source   FrameSource
	detector facematch.Detector
	service  *Service
	display  *Display
	opts     LoopOptions
	log      *logger.Logger

	gen      atomic.Uint64
	inFlight chan struct{}
	wg       sync.WaitGroup
}

// NewLoop creates a loop for one stream.
func NewLoop(source FrameSource, detector facematch.Detector, service *Service, display *Display, opts LoopOptions) *Loop {
	if opts.Interval <= 0 {
		opts.Interval = 100 * time.Millisecond
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 1
	}
	return &Loop{
		source:   source,
		detector: detector,
		service:  service,
		display:  display,
		opts:     opts,
		log:      logger.Default().Component("recognition-loop"),
		inFlight: make(chan struct{}, opts.MaxInFlight),
	}
}

// Run ticks until ctx is done, then waits for outstanding calls.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.opts.Interval)
	defer ticker.Stop()
	defer l.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.Tick(ctx)
		}
	}
}

// Tick captures one frame and dispatches its detection and recognition.
func (l *Loop) Tick(ctx context.Context) {
	frame, err := l.source.Capture(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			l.log.WithError(err).Debug("Frame capture failed")
		}
		return
	}
	gen := l.gen.Add(1)

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		dets, err := l.detector.Detect(ctx, frame)
		if err != nil {
			l.log.WithError(err).Debug("Detection failed")
			return
		}
		l.display.ApplyDetections(gen, dets)
	}()

	select {
	case l.inFlight <- struct{}{}:
	default:
		return
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer func() { <-l.inFlight }()
		res, err := l.service.Recognize(ctx, frame, l.opts.GroupID)
		if err != nil {
			l.log.WithError(err).Debug("Recognition failed")
			return
		}
		if !l.display.ApplyMatches(gen, res.Faces) {
			l.log.WithField("generation", gen).Debug("Dropped stale recognition result")
		}
	}()
}

// Generation returns the number of frames captured so far.
func (l *Loop) Generation() uint64 {
	return l.gen.Load()
}
