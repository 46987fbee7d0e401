package flasher

import (
	"context"

	"github.com/CodeHedge/biscuit-flasher/pkg/history"
	"github.com/rs/zerolog/log"
)

// historyRecorder persists attempts to the local SQLite history store.
// It implements AttemptRecorder.
type historyRecorder struct {
	store *history.Store
}

// NewHistoryRecorder opens the flash history database and returns a recorder
// backed by it. When the database cannot be opened the error is logged and a
// no-op recorder is returned: a broken history file must never block field
// flashing.
func NewHistoryRecorder() (AttemptRecorder, func() error) {
	store, err := history.Open()
	if err != nil {
		log.Warn().Err(err).Msg("flash history unavailable")
		return NoopAttemptRecorder{}, func() error { return nil }
	}
	log.Debug().Str("path", store.Path()).Msg("flash history opened")
	return &historyRecorder{store: store}, store.Close
}

func (r *historyRecorder) RecordAttempt(ctx context.Context, attempt Attempt) error {
	if r == nil || r.store == nil {
		return nil
	}
	return r.store.RecordAttempt(ctx, history.Record{
		Device:     string(attempt.Device),
		Port:       attempt.Port,
		EraseFirst: attempt.EraseFirst,
		Success:    attempt.Result.OK,
		Reason:     attempt.Result.Reason.String(),
		ExitCode:   attempt.Result.ExitCode,
		DurationMS: attempt.Duration.Milliseconds(),
		StartedAt:  attempt.StartedAt,
	})
}
