// Package rtc implements the media engine on top of pion: ORTC-style
// transports toward the voice router, opus capture through mediadevices, and
// drain sinks for received audio.
package rtc

import (
	"context"
	"encoding/json"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"

	"github.com/imtaco/voice-client-exp/internal/errors"
	"github.com/imtaco/voice-client-exp/internal/log"
	"github.com/imtaco/voice-client-exp/voice"
	"github.com/imtaco/voice-client-exp/voice/session"
)

const (
	ErrNoDevice errors.Code = "no_media_device"
	ErrCapture  errors.Code = "capture_failed"
)

// Engine is the production session.Media implementation. One engine is shared
// across sessions; devices and transports are created per connection.
type Engine struct {
	api      *webrtc.API
	selector *mediadevices.CodecSelector
	logger   *log.Logger
}

func NewEngine(logger *log.Logger) (*Engine, error) {
	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, errors.Wrap(ErrCapture, err, "opus encoder params")
	}

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithAudioEncoders(&opusParams),
	)

	me := &webrtc.MediaEngine{}
	selector.Populate(me)

	return &Engine{
		api:      webrtc.NewAPI(webrtc.WithMediaEngine(me)),
		selector: selector,
		logger:   logger,
	}, nil
}

// NewDevice prepares a device for one voice router. An audio-only client
// accepts the router's capabilities as offered, so they are echoed back on
// the capability announcement.
func (e *Engine) NewDevice(routerCaps json.RawMessage) (session.Device, error) {
	return &device{
		engine: e,
		caps:   routerCaps,
	}, nil
}

// OpenMicrophone captures an opus-encodable audio track from the given input
// device, or the platform default when deviceID is empty.
func (e *Engine) OpenMicrophone(_ context.Context, deviceID string) (session.Track, error) {
	constraints := mediadevices.MediaStreamConstraints{
		Codec: e.selector,
		Audio: func(c *mediadevices.MediaTrackConstraints) {
			if deviceID != "" {
				c.DeviceID = prop.String(deviceID)
			}
		},
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, errors.Wrap(voice.ErrDeviceUnavailable, err, "open microphone")
	}
	tracks := stream.GetAudioTracks()
	if len(tracks) == 0 {
		return nil, errors.New(voice.ErrDeviceUnavailable, "no audio track captured")
	}

	track := tracks[0]
	track.OnEnded(func(err error) {
		if err != nil {
			e.logger.Warn("capture track ended", log.Error(err))
		}
	})
	e.logger.Info("microphone captured",
		log.String("device_id", deviceID), log.String("track_id", track.ID()))
	return &captureTrack{t: track}, nil
}

// NewSink attaches a drain to a received track so RTP keeps flowing; playback
// routing follows the OS default output unless re-routed.
func (e *Engine) NewSink(track session.Track) (session.Sink, error) {
	rt, ok := track.(*remoteTrack)
	if !ok {
		return nil, errors.New(ErrCapture, "sink requires a received track")
	}
	return newSink(rt, e.logger.Module("Sink")), nil
}

