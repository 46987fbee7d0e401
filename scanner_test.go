package flasher

import (
	"context"
	"testing"
	"time"
)

type fakeProber struct {
	byPort map[string]DeviceType
	probed []string
}

func (f *fakeProber) Classify(ctx context.Context, port string) DeviceType {
	f.probed = append(f.probed, port)
	return f.byPort[port]
}

func newTestScanner(lister PortLister, prober ChipProber) (*Scanner, *[]time.Duration) {
	var sleeps []time.Duration
	s := NewScanner(lister, prober)
	s.sleep = func(d time.Duration) { sleeps = append(sleeps, d) }
	return s, &sleeps
}

func TestScanEmptyEnumeration(t *testing.T) {
	s, _ := newTestScanner(&fakeLister{}, &fakeProber{})
	snapshot := s.Scan(context.Background())
	if len(snapshot) != 0 {
		t.Fatalf("snapshot should be empty, got %v", snapshot)
	}
}

func TestScanProbesHighestPortFirst(t *testing.T) {
	lister := &fakeLister{ports: []Port{{Device: "COM3"}, {Device: "COM12"}, {Device: "COM5"}}}
	prober := &fakeProber{byPort: map[string]DeviceType{}}
	s, _ := newTestScanner(lister, prober)
	s.Scan(context.Background())

	want := []string{"COM12", "COM5", "COM3"}
	if len(prober.probed) != len(want) {
		t.Fatalf("probed %v, want %v", prober.probed, want)
	}
	for i, port := range want {
		if prober.probed[i] != port {
			t.Fatalf("probe order %v, want %v", prober.probed, want)
		}
	}
}

func TestScanStopsEarlyWhenBothFound(t *testing.T) {
	lister := &fakeLister{ports: []Port{
		{Device: "COM8"}, {Device: "COM7"}, {Device: "COM2"}, {Device: "COM1"},
	}}
	prober := &fakeProber{byPort: map[string]DeviceType{
		"COM8": DeviceScanner,
		"COM7": DeviceGateway,
	}}
	s, sleeps := newTestScanner(lister, prober)
	snapshot := s.Scan(context.Background())

	if len(prober.probed) != 2 {
		t.Fatalf("expected early stop after 2 probes, probed %v", prober.probed)
	}
	if snapshot[DeviceScanner].Device != "COM8" || snapshot[DeviceGateway].Device != "COM7" {
		t.Fatalf("unexpected snapshot: %v", snapshot)
	}
	// One pause between the two probes, none after the stop.
	if len(*sleeps) != 1 {
		t.Fatalf("sleeps = %v, want exactly one inter-probe pause", *sleeps)
	}
}

func TestScanFirstFoundWinsPerType(t *testing.T) {
	lister := &fakeLister{ports: []Port{{Device: "COM9"}, {Device: "COM4"}, {Device: "COM2"}}}
	prober := &fakeProber{byPort: map[string]DeviceType{
		"COM9": DeviceScanner,
		"COM4": DeviceScanner,
		"COM2": DeviceGateway,
	}}
	s, _ := newTestScanner(lister, prober)
	snapshot := s.Scan(context.Background())

	if snapshot[DeviceScanner].Device != "COM9" {
		t.Fatalf("scanner should keep first match COM9, got %s", snapshot[DeviceScanner].Device)
	}
	if snapshot[DeviceGateway].Device != "COM2" {
		t.Fatalf("gateway should be COM2, got %s", snapshot[DeviceGateway].Device)
	}
}

func TestScanNeverAssignsOnePortTwice(t *testing.T) {
	lister := &fakeLister{ports: []Port{{Device: "COM6"}, {Device: "COM5"}}}
	prober := &fakeProber{byPort: map[string]DeviceType{
		"COM6": DeviceScanner,
		"COM5": DeviceGateway,
	}}
	s, _ := newTestScanner(lister, prober)
	snapshot := s.Scan(context.Background())

	seen := make(map[string]DeviceType)
	for dev, port := range snapshot {
		if prev, dup := seen[port.Device]; dup {
			t.Fatalf("port %s assigned to both %s and %s", port.Device, prev, dev)
		}
		seen[port.Device] = dev
	}
}

func TestScanNoPauseAfterLastPort(t *testing.T) {
	lister := &fakeLister{ports: []Port{{Device: "COM2"}, {Device: "COM1"}}}
	prober := &fakeProber{byPort: map[string]DeviceType{}}
	s, sleeps := newTestScanner(lister, prober)
	s.Scan(context.Background())

	if len(*sleeps) != 1 {
		t.Fatalf("sleeps = %v, want one pause between two probes", *sleeps)
	}
	if (*sleeps)[0] != DefaultProbePause {
		t.Fatalf("pause = %v, want %v", (*sleeps)[0], DefaultProbePause)
	}
}
