package flasher

import (
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// PortLister enumerates currently attached serial ports.
type PortLister interface {
	ListPorts() []Port
}

// SerialPortLister lists ports via the platform serial enumerator.
type SerialPortLister struct{}

// ListPorts returns the attached serial ports. Enumeration failure degrades to
// an empty result so discovery reports "no devices found" instead of crashing.
func (SerialPortLister) ListPorts() []Port {
	details, err := enumerator.GetDetailedPortsList()
	if err == nil {
		result := make([]Port, 0, len(details))
		for _, d := range details {
			if d == nil || strings.TrimSpace(d.Name) == "" {
				continue
			}
			result = append(result, Port{Device: d.Name, Description: d.Product})
		}
		return result
	}
	log.Debug().Err(err).Msg("detailed port enumeration failed, falling back to plain list")

	names, err := serial.GetPortsList()
	if err != nil {
		log.Warn().Err(err).Msg("serial port enumeration failed")
		return nil
	}
	result := make([]Port, 0, len(names))
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			continue
		}
		result = append(result, Port{Device: name})
	}
	return result
}

// portNumber extracts the concatenated digits from a port identifier, so
// "COM12" yields 12 and "/dev/ttyUSB0" yields 0. Identifiers without digits
// yield 0.
func portNumber(device string) int {
	n := 0
	found := false
	for _, r := range device {
		if r < '0' || r > '9' {
			continue
		}
		found = true
		n = n*10 + int(r-'0')
		if n > 1<<30 {
			// Guard against pathological identifiers overflowing the sort key.
			return 1 << 30
		}
	}
	if !found {
		return 0
	}
	return n
}

// sortPortsDesc orders ports by numeric suffix descending. Platforms that
// allocate increasing identifiers hand out the highest number to the most
// recently connected device, so probing it first finds fresh hardware sooner.
func sortPortsDesc(ports []Port) []Port {
	sorted := append([]Port(nil), ports...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return portNumber(sorted[i].Device) > portNumber(sorted[j].Device)
	})
	return sorted
}

// portPresent reports whether device is among the currently attached ports.
func portPresent(lister PortLister, device string) bool {
	if lister == nil {
		return false
	}
	for _, p := range lister.ListPorts() {
		if p.Device == device {
			return true
		}
	}
	return false
}
