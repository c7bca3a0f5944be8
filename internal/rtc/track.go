package rtc

import (
	"sync/atomic"

	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"
)

// captureTrack wraps a mediadevices capture. Transmission is gated by the
// producer detaching from the sender; SetEnabled only records the intent so
// status reads stay truthful.
type captureTrack struct {
	t        mediadevices.Track
	disabled atomic.Bool
	stopped  atomic.Bool
}

func (c *captureTrack) ID() string   { return c.t.ID() }
func (c *captureTrack) Kind() string { return c.t.Kind().String() }

func (c *captureTrack) SetEnabled(enabled bool) {
	c.disabled.Store(!enabled)
}

func (c *captureTrack) Stop() {
	if c.stopped.CompareAndSwap(false, true) {
		_ = c.t.Close()
	}
}

// remoteTrack wraps a received RTP track.
type remoteTrack struct {
	t        *webrtc.TrackRemote
	disabled atomic.Bool
}

func (r *remoteTrack) ID() string   { return r.t.ID() }
func (r *remoteTrack) Kind() string { return r.t.Kind().String() }

func (r *remoteTrack) SetEnabled(enabled bool) {
	r.disabled.Store(!enabled)
}

// Stop is a no-op; the receiver owns the track's lifetime.
func (r *remoteTrack) Stop() {}
