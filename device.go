package flasher

// DeviceType identifies one of the two hardware roles a Biscuit ships with.
type DeviceType string

const (
	// DeviceScanner is the ESP32-C5 scanner module.
	DeviceScanner DeviceType = "c5"
	// DeviceGateway is the ESP32-WROOM BLE gateway module.
	DeviceGateway DeviceType = "wroom"
	// DeviceUnknown marks a port that did not classify as either role.
	DeviceUnknown DeviceType = ""
)

// AllDeviceTypes returns the device types in flash order.
func AllDeviceTypes() []DeviceType {
	return []DeviceType{DeviceScanner, DeviceGateway}
}

// DeviceConfig holds the fixed esptool parameters for one device type.
// Loaded once at process start and never mutated.
type DeviceConfig struct {
	Chip      string
	Baud      string
	FlashFreq string
	Name      string
}

var deviceConfigs = map[DeviceType]DeviceConfig{
	DeviceScanner: {
		Chip:      "esp32c5",
		Baud:      "460800",
		FlashFreq: "80m",
		Name:      "C5 Scanner",
	},
	DeviceGateway: {
		Chip:      "esp32",
		Baud:      "921600",
		FlashFreq: "40m",
		Name:      "WROOM BLE Gateway",
	},
}

// Config returns the flash configuration for the device type.
func (t DeviceType) Config() DeviceConfig {
	return deviceConfigs[t]
}

// Label returns a short uppercase tag used in operator output.
func (t DeviceType) Label() string {
	switch t {
	case DeviceScanner:
		return "C5"
	case DeviceGateway:
		return "WROOM"
	default:
		return "UNKNOWN"
	}
}

// FlashBaseAddress is where merged firmware images are written on both chips.
const FlashBaseAddress = "0x0"

// Port describes one attached serial port. Ports are ephemeral: they may
// appear or disappear between enumerations and are only ever referenced,
// never owned.
type Port struct {
	Device      string
	Description string
}

// DeviceSnapshot maps each device type to the port it was found on during one
// scan. A type absent from the map was not found. Snapshots are never mutated
// in place; each scan produces a fresh one.
type DeviceSnapshot map[DeviceType]Port

// FlashOutcome is the per-device-type session status.
type FlashOutcome int

const (
	// OutcomePending means the device type has not reached a terminal state.
	OutcomePending FlashOutcome = iota
	// OutcomeSucceeded means the device was flashed. Terminal.
	OutcomeSucceeded
	// OutcomeSkipped means the operator chose to skip the device. Terminal.
	OutcomeSkipped
)

func (o FlashOutcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "pending"
	}
}

// Terminal reports whether the outcome is final for the session.
func (o FlashOutcome) Terminal() bool {
	return o == OutcomeSucceeded || o == OutcomeSkipped
}
