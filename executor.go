package flasher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Timeouts for the two mutating tool primitives.
const (
	DefaultEraseTimeout = 120 * time.Second
	DefaultWriteTimeout = 300 * time.Second
)

// FailureReason classifies why a flash attempt failed.
type FailureReason int

const (
	// FailureNone means the attempt succeeded.
	FailureNone FailureReason = iota
	// FailureDisconnected means the port vanished from enumeration.
	FailureDisconnected
	// FailureEraseFailed means the erase primitive exited nonzero.
	FailureEraseFailed
	// FailureEraseTimedOut means the erase primitive exceeded its bound.
	FailureEraseTimedOut
	// FailureConnectFailed means the tool could not enter the bootloader.
	FailureConnectFailed
	// FailureConnectTimedOut means the tool's connection handshake timed out.
	FailureConnectTimedOut
	// FailurePortBusy means the port is held by another program.
	FailurePortBusy
	// FailureOperationTimedOut means the write exceeded its overall bound.
	FailureOperationTimedOut
	// FailureUnknown covers any other nonzero exit.
	FailureUnknown
)

func (r FailureReason) String() string {
	switch r {
	case FailureNone:
		return "none"
	case FailureDisconnected:
		return "disconnected"
	case FailureEraseFailed:
		return "erase_failed"
	case FailureEraseTimedOut:
		return "erase_timed_out"
	case FailureConnectFailed:
		return "connect_failed"
	case FailureConnectTimedOut:
		return "connect_timed_out"
	case FailurePortBusy:
		return "port_busy"
	case FailureOperationTimedOut:
		return "operation_timed_out"
	default:
		return "unknown"
	}
}

// FlashResult is the outcome of one flash attempt.
type FlashResult struct {
	OK       bool
	Reason   FailureReason
	ExitCode int
}

// Describe returns the operator-facing explanation of the result.
func (r FlashResult) Describe() string {
	switch r.Reason {
	case FailureNone:
		return "flash complete"
	case FailureDisconnected:
		return "Device disconnected"
	case FailureEraseFailed:
		return "Erase failed"
	case FailureEraseTimedOut:
		return "Erase timed out"
	case FailureConnectFailed:
		return "Failed to connect (device not in download mode?)"
	case FailureConnectTimedOut:
		return "Connection timed out"
	case FailurePortBusy:
		return "Permission denied (port in use by another program?)"
	case FailureOperationTimedOut:
		return "Flash operation timed out"
	default:
		return fmt.Sprintf("Flash failed (exit code %d)", r.ExitCode)
	}
}

// FlashTool exposes the flashing tool's mutating primitives. Both return the
// process exit code and its captured output; a non-nil error signals that the
// invocation could not run or exceeded its bound.
type FlashTool interface {
	Erase(ctx context.Context, port, chip, baud string, timeout time.Duration) (int, string, error)
	WriteImage(ctx context.Context, port, chip, baud, flashFreq, address, imagePath string, timeout time.Duration, onLine func(string)) (int, string, error)
}

// Executor performs one flash attempt on one port. It is the only component
// that mutates physical device state and must never run twice concurrently on
// the same port.
type Executor struct {
	tool         FlashTool
	lister       PortLister
	eraseTimeout time.Duration
	writeTimeout time.Duration

	// Progress receives connection and write progress lines from the tool.
	// Observational only; it never influences control flow.
	Progress func(line string)
}

// NewExecutor builds an Executor with the default erase and write bounds.
func NewExecutor(tool FlashTool, lister PortLister) *Executor {
	return &Executor{
		tool:         tool,
		lister:       lister,
		eraseTimeout: DefaultEraseTimeout,
		writeTimeout: DefaultWriteTimeout,
	}
}

// Flash erases (optionally) then writes image onto the device at port. The
// port is reverified against a fresh enumeration immediately before any tool
// invocation: the interval since the last scan is unbounded operator
// think-time, so a stale snapshot cannot be trusted.
func (e *Executor) Flash(ctx context.Context, devType DeviceType, port, imagePath string, eraseFirst bool) FlashResult {
	cfg := devType.Config()

	if !portPresent(e.lister, port) {
		return FlashResult{Reason: FailureDisconnected}
	}

	if eraseFirst {
		code, out, err := e.tool.Erase(ctx, port, cfg.Chip, cfg.Baud, e.eraseTimeout)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return e.failure(port, FlashResult{Reason: FailureEraseTimedOut})
			}
			log.Debug().Err(err).Str("port", port).Msg("erase invocation failed")
			return e.failure(port, FlashResult{Reason: FailureEraseFailed, ExitCode: code})
		}
		if code != 0 {
			log.Debug().Int("exit_code", code).Str("output", tail(out, 400)).Msg("erase exited nonzero")
			return e.failure(port, FlashResult{Reason: FailureEraseFailed, ExitCode: code})
		}
	}

	code, out, err := e.tool.WriteImage(ctx, port, cfg.Chip, cfg.Baud, cfg.FlashFreq,
		FlashBaseAddress, imagePath, e.writeTimeout, e.progressLine)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return e.failure(port, FlashResult{Reason: FailureOperationTimedOut})
		}
		log.Debug().Err(err).Str("port", port).Msg("write invocation failed")
		return e.failure(port, FlashResult{Reason: FailureUnknown, ExitCode: code})
	}
	if code == 0 {
		return FlashResult{OK: true}
	}
	return e.failure(port, classifyFailure(out, code))
}

// failure downgrades any failure to Disconnected when the port is gone from a
// fresh enumeration: a yanked cable makes the tool report arbitrary errors,
// and a disconnect must never be conflated with a genuine flash failure.
func (e *Executor) failure(port string, res FlashResult) FlashResult {
	if res.Reason != FailureDisconnected && !portPresent(e.lister, port) {
		return FlashResult{Reason: FailureDisconnected}
	}
	return res
}

func (e *Executor) progressLine(line string) {
	if e.Progress == nil {
		return
	}
	if strings.Contains(line, "Writing") || strings.Contains(line, "Connecting") {
		e.Progress(line)
	}
}

// classifyFailure maps captured tool output to a failure reason, checking
// known markers in priority order.
func classifyFailure(output string, exitCode int) FlashResult {
	lower := strings.ToLower(output)
	switch {
	case strings.Contains(lower, "failed to connect"):
		return FlashResult{Reason: FailureConnectFailed, ExitCode: exitCode}
	case strings.Contains(lower, "timed out"):
		return FlashResult{Reason: FailureConnectTimedOut, ExitCode: exitCode}
	case strings.Contains(lower, "permission"):
		return FlashResult{Reason: FailurePortBusy, ExitCode: exitCode}
	default:
		return FlashResult{Reason: FailureUnknown, ExitCode: exitCode}
	}
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
