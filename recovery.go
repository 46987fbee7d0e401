package flasher

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// attemptState enumerates the recovery state machine states for one device.
type attemptState int

const (
	stateAttempting attemptState = iota
	stateAwaitingChoice
	stateAwaitingReconnect
)

// RecoveryResult is how one device's attempt sequence ended.
type RecoveryResult int

const (
	// RecoverySucceeded means the device was flashed. Terminal for the device.
	RecoverySucceeded RecoveryResult = iota
	// RecoverySkipped means the operator skipped the device. Terminal.
	RecoverySkipped
	// RecoveryRescan hands control back to the orchestrator for a fresh scan.
	RecoveryRescan
	// RecoveryAbort ends the whole session.
	RecoveryAbort
)

// FlashAttempter runs one flash attempt; satisfied by *Executor.
type FlashAttempter interface {
	Flash(ctx context.Context, devType DeviceType, port, imagePath string, eraseFirst bool) FlashResult
}

// Attempt is the record of one flash attempt, handed to the recorder.
type Attempt struct {
	Device     DeviceType
	Port       string
	EraseFirst bool
	Result     FlashResult
	Duration   time.Duration
	StartedAt  time.Time
}

// AttemptRecorder persists flash attempts. Recording failures must never
// block flashing; implementations log and move on.
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, attempt Attempt) error
}

// NoopAttemptRecorder discards attempts.
type NoopAttemptRecorder struct{}

func (NoopAttemptRecorder) RecordAttempt(context.Context, Attempt) error { return nil }

// RecoveryController drives the attempt sequence for one device on one port:
// run the executor, and on failure route the operator's choice back into the
// loop until a terminal or orchestrator-level exit is reached.
type RecoveryController struct {
	executor FlashAttempter
	prompter Prompter
	recorder AttemptRecorder
	clock    func() time.Time
}

// NewRecoveryController wires a controller. recorder may be nil.
func NewRecoveryController(executor FlashAttempter, prompter Prompter, recorder AttemptRecorder) *RecoveryController {
	if recorder == nil {
		recorder = NoopAttemptRecorder{}
	}
	return &RecoveryController{
		executor: executor,
		prompter: prompter,
		recorder: recorder,
		clock:    time.Now,
	}
}

// Run flashes devType on port until a terminal result or an exit that returns
// control to the orchestrator. The erase-first flag always starts cleared for
// a fresh attempt sequence and is set only by an explicit operator choice; a
// plain retry clears it again.
func (r *RecoveryController) Run(ctx context.Context, devType DeviceType, port, imagePath string) RecoveryResult {
	eraseFirst := false
	state := stateAttempting
	var lastResult FlashResult

	for {
		switch state {
		case stateAttempting:
			started := r.clock()
			result := r.executor.Flash(ctx, devType, port, imagePath, eraseFirst)
			r.record(ctx, Attempt{
				Device:     devType,
				Port:       port,
				EraseFirst: eraseFirst,
				Result:     result,
				Duration:   r.clock().Sub(started),
				StartedAt:  started,
			})
			if result.OK {
				log.Info().
					Str("device", string(devType)).
					Str("port", port).
					Msg("flash complete")
				return RecoverySucceeded
			}
			log.Warn().
				Str("device", string(devType)).
				Str("port", port).
				Str("reason", result.Reason.String()).
				Msg("flash attempt failed")
			lastResult = result
			if result.Reason == FailureDisconnected {
				state = stateAwaitingReconnect
			} else {
				state = stateAwaitingChoice
			}

		case stateAwaitingChoice:
			switch r.prompter.Prompt(failurePrompt(devType, port, lastResult.Describe())) {
			case ChoiceErase:
				eraseFirst = true
				state = stateAttempting
			case ChoiceSkip:
				return RecoverySkipped
			case ChoiceRescan:
				return RecoveryRescan
			case ChoiceQuit:
				return RecoveryAbort
			default:
				eraseFirst = false
				state = stateAttempting
			}

		case stateAwaitingReconnect:
			switch r.prompter.Prompt(disconnectPrompt(port)) {
			case ChoiceQuit:
				return RecoveryAbort
			default:
				return RecoveryRescan
			}
		}
	}
}

func (r *RecoveryController) record(ctx context.Context, attempt Attempt) {
	if err := r.recorder.RecordAttempt(ctx, attempt); err != nil {
		log.Debug().Err(err).Msg("record flash attempt failed")
	}
}
