package rtc

import (
	"github.com/pion/mediadevices"

	"github.com/imtaco/voice-client-exp/voice/devices"
)

// DeviceEnumerator lists host devices through the mediadevices drivers.
type DeviceEnumerator struct{}

func NewDeviceEnumerator() *DeviceEnumerator {
	return &DeviceEnumerator{}
}

// Enumerate maps the platform's device list onto registry entries. The
// drivers report devices in platform preference order; the first of each
// kind is marked default.
func (DeviceEnumerator) Enumerate() ([]devices.Info, error) {
	seen := map[devices.Kind]bool{}
	out := make([]devices.Info, 0)
	for _, d := range mediadevices.EnumerateDevices() {
		kind, ok := mapKind(d.Kind)
		if !ok {
			continue
		}
		out = append(out, devices.Info{
			ID:      d.DeviceID,
			Label:   d.Label,
			Kind:    kind,
			Default: !seen[kind],
		})
		seen[kind] = true
	}
	return out, nil
}

func mapKind(t mediadevices.MediaDeviceType) (devices.Kind, bool) {
	switch t {
	case mediadevices.AudioInput:
		return devices.KindAudioInput, true
	case mediadevices.AudioOutput:
		return devices.KindAudioOutput, true
	case mediadevices.VideoInput:
		return devices.KindVideoInput, true
	default:
		return "", false
	}
}
