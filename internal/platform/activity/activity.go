// Package activity records best-effort audit entries for workflow actions.
// A failing sink never fails the action that produced the entry.
package activity

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Entry is one audit line.
type Entry struct {
	ActorID     uuid.UUID `json:"actor_id"`
	Action      string    `json:"action"`
	SubjectType string    `json:"subject_type"`
	SubjectID   uuid.UUID `json:"subject_id"`
	Message     string    `json:"message"`
	At          time.Time `json:"at"`
}

// Sink persists or forwards entries.
type Sink interface {
	Record(ctx context.Context, e Entry) error
}

// Recorder fans an entry out to every sink and swallows failures.
type Recorder struct {
	sinks  []Sink
	logger zerolog.Logger
	now    func() time.Time
}

func NewRecorder(logger zerolog.Logger, sinks ...Sink) *Recorder {
	return &Recorder{sinks: sinks, logger: logger, now: time.Now}
}

// Record never returns an error. A panicking sink is logged and skipped.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	if r == nil {
		return
	}
	if e.At.IsZero() {
		e.At = r.now().UTC()
	}
	for _, s := range r.sinks {
		r.recordOne(ctx, s, e)
	}
}

func (r *Recorder) recordOne(ctx context.Context, s Sink, e Entry) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn().Interface("panic", rec).Str("action", e.Action).Msg("activity sink panicked")
		}
	}()
	if err := s.Record(ctx, e); err != nil {
		r.logger.Warn().Err(err).
			Str("action", e.Action).
			Str("subject_id", e.SubjectID.String()).
			Msg("activity sink failed")
	}
}

// LogSink writes entries to a zerolog logger.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Record(_ context.Context, e Entry) error {
	s.logger.Info().
		Str("type", "activity").
		Str("actor_id", e.ActorID.String()).
		Str("action", e.Action).
		Str("subject_type", e.SubjectType).
		Str("subject_id", e.SubjectID.String()).
		Time("at", e.At).
		Msg(e.Message)
	return nil
}
