package flasher

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultClassifyTimeout bounds a single chip identification probe.
const DefaultClassifyTimeout = 15 * time.Second

// IdentifyTool is the flashing tool's read-identity primitive. It returns
// whatever the tool printed; a non-nil error means the invocation itself
// failed or timed out.
type IdentifyTool interface {
	Identify(ctx context.Context, port string, timeout time.Duration) (string, error)
}

// Classifier probes a serial port and maps the tool's output to a device type.
type Classifier struct {
	tool    IdentifyTool
	timeout time.Duration
}

// NewClassifier builds a Classifier with the default probe timeout.
func NewClassifier(tool IdentifyTool) *Classifier {
	return &Classifier{tool: tool, timeout: DefaultClassifyTimeout}
}

// Classify identifies the chip on port. Classification failure is a normal
// DeviceUnknown result, never an error: a port that does not respond, times
// out, or carries an unsupported chip is simply not one of ours.
func (c *Classifier) Classify(ctx context.Context, port string) DeviceType {
	if c == nil || c.tool == nil {
		return DeviceUnknown
	}
	out, err := c.tool.Identify(ctx, port, c.timeout)
	if err != nil {
		log.Debug().Err(err).Str("port", port).Msg("chip identification failed")
		return DeviceUnknown
	}
	return classifyOutput(out)
}

// classifyOutput matches known chip-family substrings case-insensitively.
// Other C-series chips (C3, C6, ...) are deliberately Unknown: they are
// same-vendor low-power variants, not the scanner module.
func classifyOutput(out string) DeviceType {
	s := strings.ToLower(out)
	switch {
	case strings.Contains(s, "esp32-c5") || strings.Contains(s, "esp32c5"):
		return DeviceScanner
	case strings.Contains(s, "esp32-c") || strings.Contains(s, "esp32c"):
		return DeviceUnknown
	case strings.Contains(s, "esp32-d") || strings.Contains(s, "esp32"):
		// ESP32-D0WD-V3 and other plain ESP32 variants are WROOM gateways.
		return DeviceGateway
	default:
		return DeviceUnknown
	}
}
