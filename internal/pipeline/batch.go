package pipeline

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	"github.com/google/uuid"

	"trafficeye/internal/database"
	"trafficeye/internal/engine"
	"trafficeye/internal/sink"
	"trafficeye/internal/timeutil"
)

// BatchOptions configures one batch run
type BatchOptions struct {
	Kind     string // database.SessionVideo or database.SessionImage
	Source   string
	Strategy SamplingStrategy
	// Progress is called after every processed frame when set
	Progress func(frame *FrameData, result *engine.FrameResult)
}

// BatchSummary reports the outcome of a batch run
type BatchSummary struct {
	SessionID  string                       `json:"session_id"`
	Kind       string                       `json:"kind"`
	Source     string                       `json:"source"`
	Profile    string                       `json:"profile"`
	Frames     int                          `json:"frames"`
	Processed  int                          `json:"processed"`
	Failed     int                          `json:"failed"`
	Skipped    int                          `json:"skipped"`
	Violations int                          `json:"violations"`
	Persisted  int                          `json:"persisted"`
	ByType     map[engine.ViolationType]int `json:"by_type"`
	Duration   time.Duration                `json:"duration"`
}

// BatchRunner drives a finite frame source through a single session
type BatchRunner struct {
	processor *Processor
	sessions  SessionStore
	clock     timeutil.Clock
}

// NewBatchRunner creates a batch runner. sessions may be nil.
func NewBatchRunner(processor *Processor, sessions SessionStore, clock timeutil.Clock) *BatchRunner {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &BatchRunner{processor: processor, sessions: sessions, clock: clock}
}

// Run processes src until it is exhausted or ctx is cancelled. Frames that
// fail to decode or detect are counted and skipped. A cancelled run still
// ends its session and returns the partial summary with ctx.Err().
func (r *BatchRunner) Run(ctx context.Context, src FrameSource, opts BatchOptions) (*BatchSummary, error) {
	if opts.Kind == "" {
		opts.Kind = database.SessionVideo
	}

	started := r.clock.Now()
	sessionID := uuid.New().String()
	session := engine.NewSession(sessionID)
	profile := r.processor.Engine().Config().Profile

	summary := &BatchSummary{
		SessionID: sessionID,
		Kind:      opts.Kind,
		Source:    opts.Source,
		Profile:   profile,
		ByType:    make(map[engine.ViolationType]int),
	}

	if r.sessions != nil {
		if err := r.sessions.StartSession(&database.SessionRecord{
			ID:        sessionID,
			Kind:      opts.Kind,
			Source:    opts.Source,
			Profile:   profile,
			StartedAt: started,
		}); err != nil {
			log.Printf("[Pipeline] Failed to record session %s: %v", sessionID, err)
		}
	}

	runErr := r.loop(ctx, src, opts, session, summary)

	summary.Duration = r.clock.Since(started)
	if r.sessions != nil {
		if err := r.sessions.EndSession(sessionID, r.clock.Now(), summary.Processed, summary.Violations); err != nil {
			log.Printf("[Pipeline] Failed to end session %s: %v", sessionID, err)
		}
	}
	log.Printf("[Pipeline] Session %s finished: %d frames, %d processed, %d violations",
		sessionID, summary.Frames, summary.Processed, summary.Violations)
	return summary, runErr
}

func (r *BatchRunner) loop(ctx context.Context, src FrameSource, opts BatchOptions, session *engine.Session, summary *BatchSummary) error {
	for {
		frame, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("[Pipeline] Skipping frame %d: %v", summary.Frames, err)
			summary.Frames++
			summary.Failed++
			continue
		}
		summary.Frames++

		if opts.Strategy != nil && !opts.Strategy.ShouldProcess(frame) {
			continue
		}

		target := sink.Target{SessionID: session.ID, Kind: opts.Kind}
		out, err := r.processor.Process(ctx, session, target, frame)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("[Pipeline] %v", err)
			summary.Failed++
			continue
		}
		if out.Skipped {
			summary.Skipped++
			continue
		}
		if opts.Strategy != nil {
			opts.Strategy.OnProcessed(frame)
		}

		summary.Processed++
		summary.Violations += len(out.Result.Records)
		summary.Persisted += out.Persisted
		for _, rec := range out.Result.Records {
			summary.ByType[rec.Type]++
		}
		if opts.Progress != nil {
			opts.Progress(frame, out.Result)
		}
	}
}
