package flasher

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ErrAborted is returned when the operator quits mid-session.
var ErrAborted = errors.New("session aborted by operator")

// deviceScanner produces a fresh snapshot; satisfied by *Scanner.
type deviceScanner interface {
	Scan(ctx context.Context) DeviceSnapshot
}

// deviceRecovery drives one device's attempt sequence; satisfied by
// *RecoveryController.
type deviceRecovery interface {
	Run(ctx context.Context, devType DeviceType, port, imagePath string) RecoveryResult
}

// Session orchestrates the whole flash run: scan, flash each pending device
// present in the snapshot, and loop until every device type is terminal or
// the operator stops. All cross-attempt state (per-type outcomes) lives here.
type Session struct {
	scanner  deviceScanner
	recovery deviceRecovery
	prompter Prompter
	images   map[DeviceType]string
	ports    map[DeviceType]string
	out      io.Writer
}

// NewSession wires an orchestrator. images must hold a local firmware path
// for every supported device type; resolving them is the caller's fatal
// precondition, not a per-attempt concern.
func NewSession(scanner deviceScanner, recovery deviceRecovery, prompter Prompter, images map[DeviceType]string) *Session {
	return &Session{
		scanner:  scanner,
		recovery: recovery,
		prompter: prompter,
		images:   images,
		ports:    make(map[DeviceType]string),
		out:      io.Discard,
	}
}

// PortFor returns the port a device type was last attempted on, or "".
func (s *Session) PortFor(dev DeviceType) string {
	return s.ports[dev]
}

// SetOutput directs operator-facing status text (not prompts) to w.
func (s *Session) SetOutput(w io.Writer) {
	if w != nil {
		s.out = w
	}
}

// Run drives the session until every device type is terminal, the operator
// declines to keep waiting, or the operator aborts. The returned outcomes are
// valid in every case; ErrAborted reports an operator quit.
func (s *Session) Run(ctx context.Context) (map[DeviceType]FlashOutcome, error) {
	outcomes := make(map[DeviceType]FlashOutcome, len(AllDeviceTypes()))
	for _, dev := range AllDeviceTypes() {
		outcomes[dev] = OutcomePending
	}

	for {
		fmt.Fprintln(s.out, "[4/5] Scanning for Biscuit devices...")
		snapshot := s.scanner.Scan(ctx)

		if len(snapshot) == 0 {
			if s.prompter.Prompt(noDevicesPrompt()) == ChoiceQuit {
				return outcomes, ErrAborted
			}
			continue
		}

		fmt.Fprintln(s.out)
		for _, dev := range AllDeviceTypes() {
			if port, ok := snapshot[dev]; ok {
				fmt.Fprintf(s.out, "      Found %s on %s\n", dev.Label(), port.Device)
			}
		}
		fmt.Fprintln(s.out)
		fmt.Fprintln(s.out, "[5/5] Flashing firmware...")
		fmt.Fprintln(s.out)

		for _, dev := range AllDeviceTypes() {
			if outcomes[dev].Terminal() {
				continue
			}
			port, ok := snapshot[dev]
			if !ok {
				continue
			}
			fmt.Fprintf(s.out, "[%s] Flashing %s on %s...\n", dev.Label(), dev.Config().Name, port.Device)
			s.ports[dev] = port.Device

			switch s.recovery.Run(ctx, dev, port.Device, s.images[dev]) {
			case RecoverySucceeded:
				outcomes[dev] = OutcomeSucceeded
				fmt.Fprintf(s.out, "      %s flash complete!\n", dev.Label())
			case RecoverySkipped:
				outcomes[dev] = OutcomeSkipped
				fmt.Fprintf(s.out, "      Skipping %s\n", dev.Label())
			case RecoveryRescan:
				log.Info().Str("device", string(dev)).Msg("rescan requested")
			case RecoveryAbort:
				return outcomes, ErrAborted
			}
			fmt.Fprintln(s.out)
		}

		pending := pendingTypes(outcomes)
		if len(pending) == 0 {
			return outcomes, nil
		}
		attempted := false
		for _, dev := range pending {
			if _, ok := snapshot[dev]; ok {
				attempted = true
			}
		}
		if !attempted && len(pending) < len(outcomes) {
			// Partial progress: some device already terminal, the rest never
			// seen. Let the operator decide whether to keep waiting; anything
			// but an explicit rescan (finish, quit, end of input) stops here.
			if s.prompter.Prompt(waitingPrompt(pending)) != ChoiceRescan {
				return outcomes, nil
			}
		}
	}
}

func pendingTypes(outcomes map[DeviceType]FlashOutcome) []DeviceType {
	var pending []DeviceType
	for _, dev := range AllDeviceTypes() {
		if !outcomes[dev].Terminal() {
			pending = append(pending, dev)
		}
	}
	return pending
}

// AnySucceeded reports whether at least one device type was flashed; the
// session exit code follows it.
func AnySucceeded(outcomes map[DeviceType]FlashOutcome) bool {
	for _, outcome := range outcomes {
		if outcome == OutcomeSucceeded {
			return true
		}
	}
	return false
}
