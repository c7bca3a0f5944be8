package session

import (
	"context"
	"encoding/json"
)

// Media is the engine facade the controller drives. The production
// implementation lives in internal/rtc on top of pion; tests substitute
// in-memory fakes.
type Media interface {
	// NewDevice prepares a fresh device loaded with the server's router
	// capabilities.
	NewDevice(routerCaps json.RawMessage) (Device, error)

	// OpenMicrophone captures an audio track from the given input device,
	// or the platform default when deviceID is empty.
	OpenMicrophone(ctx context.Context, deviceID string) (Track, error)

	// NewSink attaches a playback sink to a received track.
	NewSink(track Track) (Sink, error)
}

// Device creates transports against server-side transport descriptions.
type Device interface {
	RTPCapabilities() json.RawMessage
	CreateSendTransport(info TransportInfo) (Transport, error)
	CreateRecvTransport(info TransportInfo) (Transport, error)
}

// Transport is one side of a media transport pair. LocalDTLSParameters are
// published to the server before Connect establishes ICE and DTLS.
type Transport interface {
	ID() string
	LocalDTLSParameters() (json.RawMessage, error)
	Connect(info TransportInfo) error
	Produce(track Track) (Producer, ProduceInfo, error)
	Consume(info ConsumerInfo) (Consumer, error)
	Close()
}

// ProduceInfo carries what the server needs to accept a local producer.
type ProduceInfo struct {
	Kind          string
	RTPParameters json.RawMessage
}

// Producer is a locally published track. Pausing stops RTP without releasing
// the capture.
type Producer interface {
	Pause()
	Resume()
	Close()
}

// Consumer is a remotely produced track materialized locally.
type Consumer interface {
	ID() string
	ProducerID() string
	Track() Track
	Close()
}

// Track is a live media track, captured or received.
type Track interface {
	ID() string
	Kind() string
	SetEnabled(enabled bool)
	Stop()
}

// Sink plays a received track out of an audio output device.
type Sink interface {
	SetMuted(muted bool)
	SetOutputDevice(deviceID string) error
	Play() error
	Close()
}
