// Package voice holds the shared domain types of the voice client: voice
// states as carried by the application gateway, connection status, and the
// error taxonomy used across the session and coordinator packages.
package voice

import (
	"context"

	"github.com/imtaco/voice-client-exp/internal/errors"
)

type UserID string
type SpaceID string
type ChannelID string

// ConnectionStatus is the externally visible state of the voice connection.
type ConnectionStatus string

const (
	StatusIdle         ConnectionStatus = "idle"
	StatusSignaling    ConnectionStatus = "signaling"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusFailed       ConnectionStatus = "failed"
	StatusReconnecting ConnectionStatus = "reconnecting"
)

// Error codes for the voice subsystem.
//
// Cancelled marks work whose attempt generation went stale; it is swallowed
// locally and never surfaces as a user-visible failure. Signaling failures are
// the only class reported upward.
const (
	ErrCancelled         errors.Code = "cancelled"
	ErrSignaling         errors.Code = "signaling_failure"
	ErrDeviceUnavailable errors.Code = "device_unavailable"
	ErrTimeout           errors.Code = "timeout"
)

// State is one user's voice state within a space, as synchronized over the
// application gateway. A nil ChannelID means the user is in no voice channel.
type State struct {
	UserID    UserID     `json:"userId"`
	SpaceID   SpaceID    `json:"spaceId"`
	ChannelID *ChannelID `json:"channelId"`
	SelfMute  bool       `json:"selfMute"`
	SelfDeaf  bool       `json:"selfDeaf"`
	SpaceMute bool       `json:"spaceMute"`
	SpaceDeaf bool       `json:"spaceDeaf"`
}

// InChannel reports whether the state places the user in a voice channel.
func (s *State) InChannel() bool {
	return s.ChannelID != nil && *s.ChannelID != ""
}

// StateCommand is the outgoing voice-state update broadcast to the gateway.
// A nil ChannelID announces leaving voice.
type StateCommand struct {
	SpaceID   SpaceID    `json:"spaceId"`
	ChannelID *ChannelID `json:"channelId"`
	SelfMute  bool       `json:"selfMute"`
	SelfDeaf  bool       `json:"selfDeaf"`
}

// ServerUpdate announces the signaling endpoint and session token for a
// space's voice server.
type ServerUpdate struct {
	SpaceID  SpaceID `json:"spaceId"`
	Endpoint string  `json:"endpoint"`
	Token    string  `json:"token"`
}

//go:generate mockgen -source=types.go -destination=mocks/voice.go -package=mocks

// Gateway is the outbound half of the application gateway: broadcasting this
// client's voice state to the rest of the system.
type Gateway interface {
	SendVoiceState(ctx context.Context, cmd StateCommand) error
}

// EventSink receives the inbound gateway event stream relevant to voice.
// Implemented by the coordinator; driven by the gateway client.
type EventSink interface {
	OnVoiceServerUpdate(update ServerUpdate)
	OnVoiceStateSync(channelID ChannelID, states []State)
	OnVoiceStateUpdate(state State)
}
