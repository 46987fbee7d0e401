package flasher

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultProbePause is the rest between classification probes, long enough for
// a device to recover from the reset pulse a probe triggers.
const DefaultProbePause = 500 * time.Millisecond

// ChipProber classifies the chip on one port.
type ChipProber interface {
	Classify(ctx context.Context, port string) DeviceType
}

// Scanner walks the attached serial ports and builds a snapshot mapping each
// supported device type to at most one port.
type Scanner struct {
	lister PortLister
	prober ChipProber
	pause  time.Duration
	sleep  func(time.Duration)
}

// NewScanner builds a Scanner with the default inter-probe pause.
func NewScanner(lister PortLister, prober ChipProber) *Scanner {
	return &Scanner{
		lister: lister,
		prober: prober,
		pause:  DefaultProbePause,
		sleep:  time.Sleep,
	}
}

// Scan enumerates and classifies ports, returning a fresh snapshot. Ports are
// probed highest numeric suffix first; the first port found for a type wins
// and scanning stops early once both types are assigned.
func (s *Scanner) Scan(ctx context.Context) DeviceSnapshot {
	snapshot := make(DeviceSnapshot, 2)
	if s == nil || s.lister == nil || s.prober == nil {
		return snapshot
	}
	ports := sortPortsDesc(s.lister.ListPorts())
	if len(ports) == 0 {
		return snapshot
	}

	for i, port := range ports {
		devType := s.prober.Classify(ctx, port.Device)
		switch devType {
		case DeviceScanner, DeviceGateway:
			if _, taken := snapshot[devType]; taken {
				log.Debug().
					Str("port", port.Device).
					Str("device", string(devType)).
					Msg("device type already assigned, keeping first match")
			} else {
				snapshot[devType] = port
				log.Info().
					Str("port", port.Device).
					Str("device", string(devType)).
					Msg("device detected")
			}
		default:
			log.Debug().Str("port", port.Device).Msg("not a supported device or not responding")
		}

		if len(snapshot) == len(deviceConfigs) {
			break
		}
		if i < len(ports)-1 && s.pause > 0 {
			s.sleep(s.pause)
		}
	}
	return snapshot
}
