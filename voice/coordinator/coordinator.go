// Package coordinator is the top level of the voice client: it decides when
// to join and leave channels, merges the user's mute/deafen intent with
// space-enforced policy, tracks channel rosters, and drives the media session
// controller.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/imtaco/voice-client-exp/internal/errors"
	"github.com/imtaco/voice-client-exp/internal/log"
	"github.com/imtaco/voice-client-exp/internal/retry"
	"github.com/imtaco/voice-client-exp/internal/scheduler"
	"github.com/imtaco/voice-client-exp/internal/token"
	"github.com/imtaco/voice-client-exp/voice"
	"github.com/imtaco/voice-client-exp/voice/devices"
	"github.com/imtaco/voice-client-exp/voice/roster"
)

const (
	keyKeepAlive = "keepalive"
	keyReconnect = "reconnect"
)

// Session is the media session surface the coordinator drives; implemented
// by session.Controller.
type Session interface {
	Connect(ctx context.Context, endpoint, token string) error
	Disconnect()
	Connected() bool
	SetSelfMute(muted bool)
	SetSelfDeaf(deafened bool)
	SetInputDevice(ctx context.Context, deviceID string) error
	SetOutputDevice(deviceID string) error
	OnDisconnected(f func(err error))
}

type Config struct {
	UserID  voice.UserID
	Session Session
	Gateway voice.Gateway
	Roster  *roster.Roster
	Devices *devices.Registry
	Logger  *log.Logger

	// All optional; production defaults apply when zero.
	Clock             clockwork.Clock
	ServerWaitTimeout time.Duration
	ServerWaitPoll    time.Duration
	KeepAliveInterval time.Duration
	ReconnectRetry    retry.Retry
}

// Snapshot is the read-only view exposed for display and the control API.
type Snapshot struct {
	Status    voice.ConnectionStatus `json:"status"`
	SpaceID   voice.SpaceID          `json:"spaceId,omitempty"`
	ChannelID voice.ChannelID        `json:"channelId,omitempty"`
	SelfMute  bool                   `json:"selfMute"`
	SelfDeaf  bool                   `json:"selfDeaf"`
	SpaceMute bool                   `json:"spaceMute"`
	SpaceDeaf bool                   `json:"spaceDeaf"`
}

type Coordinator struct {
	userID   voice.UserID
	sess     Session
	gateway  voice.Gateway
	roster   *roster.Roster
	registry *devices.Registry
	logger   *log.Logger

	clock             clockwork.Clock
	sched             *scheduler.KeyedScheduler
	reconnectRetry    retry.Retry
	serverWaitTimeout time.Duration
	serverWaitPoll    time.Duration
	keepAliveInterval time.Duration

	group singleflight.Group

	mu        sync.Mutex
	status    voice.ConnectionStatus
	joined    bool
	spaceID   voice.SpaceID
	channelID voice.ChannelID
	endpoint  string
	token     string

	preferredMute bool
	preferredDeaf bool
	forcedMute    bool
	forcedDeaf    bool
	effectiveMute bool
	effectiveDeaf bool
}

func New(cfg Config) *Coordinator {
	if cfg.Session == nil || cfg.Gateway == nil || cfg.Roster == nil ||
		cfg.Devices == nil || cfg.Logger == nil || cfg.UserID == "" {
		panic("coordinator: user id, session, gateway, roster, devices and logger are required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.ServerWaitTimeout == 0 {
		cfg.ServerWaitTimeout = 10 * time.Second
	}
	if cfg.ServerWaitPoll == 0 {
		cfg.ServerWaitPoll = 250 * time.Millisecond
	}
	if cfg.KeepAliveInterval == 0 {
		cfg.KeepAliveInterval = 30 * time.Second
	}
	if cfg.ReconnectRetry == nil {
		cfg.ReconnectRetry = retry.New(cfg.Logger.Module("Retry"),
			500*time.Millisecond, 8*time.Second, 45*time.Second)
	}

	c := &Coordinator{
		userID:            cfg.UserID,
		sess:              cfg.Session,
		gateway:           cfg.Gateway,
		roster:            cfg.Roster,
		registry:          cfg.Devices,
		logger:            cfg.Logger,
		clock:             cfg.Clock,
		sched:             scheduler.NewKeyedScheduler(cfg.Logger.Module("Sched")),
		reconnectRetry:    cfg.ReconnectRetry,
		serverWaitTimeout: cfg.ServerWaitTimeout,
		serverWaitPoll:    cfg.ServerWaitPoll,
		keepAliveInterval: cfg.KeepAliveInterval,
		status:            voice.StatusIdle,
	}
	c.sess.OnDisconnected(c.onSessionLost)
	return c
}

// Run consumes scheduled work (keep-alives, reconnect attempts) until the
// context ends.
func (c *Coordinator) Run(ctx context.Context) error {
	defer c.sched.Shutdown()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case key := <-c.sched.Chan():
			switch key {
			case keyKeepAlive:
				c.keepAlive(ctx)
			case keyReconnect:
				c.reconnect(ctx)
			}
		}
	}
}

func (c *Coordinator) Status() voice.ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		Status:    c.status,
		SelfMute:  c.effectiveMute,
		SelfDeaf:  c.effectiveDeaf,
		SpaceMute: c.forcedMute,
		SpaceDeaf: c.forcedDeaf,
	}
	if c.joined {
		s.SpaceID = c.spaceID
		s.ChannelID = c.channelID
	}
	return s
}

// Join enters a voice channel. Joining the channel we are already in is a
// no-op; any other active channel is left first so at most one is active.
func (c *Coordinator) Join(ctx context.Context, spaceID voice.SpaceID, channelID voice.ChannelID) error {
	c.mu.Lock()
	if c.joined && c.spaceID == spaceID && c.channelID == channelID {
		c.mu.Unlock()
		return nil
	}
	alreadyJoined := c.joined
	c.mu.Unlock()

	if alreadyJoined {
		if err := c.Leave(ctx); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.joined = true
	c.spaceID = spaceID
	c.channelID = channelID
	c.endpoint = ""
	c.token = ""
	c.setStatusLocked(voice.StatusSignaling)
	cmd := c.stateCommandLocked()
	mute, deaf := c.effectiveMute, c.effectiveDeaf
	c.mu.Unlock()

	joinsStarted.Add(ctx, 1)

	c.pushPreferences(ctx, mute, deaf)

	if err := c.gateway.SendVoiceState(ctx, cmd); err != nil {
		c.failJoin()
		return errors.Wrap(voice.ErrSignaling, err, "announce voice state")
	}

	if err := c.waitForServer(ctx); err != nil {
		c.failJoin()
		return err
	}

	if err := c.connect(ctx); err != nil {
		if errors.Is(err, voice.ErrCancelled) {
			return err
		}
		c.failJoin()
		return err
	}
	return nil
}

// Leave exits the current channel. A no-op when not joined.
func (c *Coordinator) Leave(ctx context.Context) error {
	c.mu.Lock()
	if !c.joined {
		c.mu.Unlock()
		return nil
	}
	c.joined = false
	spaceID := c.spaceID
	c.endpoint = ""
	c.token = ""
	c.recomputeEffectiveLocked()
	cmd := voice.StateCommand{
		SpaceID:  spaceID,
		SelfMute: c.effectiveMute,
		SelfDeaf: c.effectiveDeaf,
	}
	c.setStatusLocked(voice.StatusIdle)
	c.mu.Unlock()

	c.sched.Cancel(keyKeepAlive)
	c.sched.Cancel(keyReconnect)
	c.roster.RemoveMember(spaceID, c.userID)
	c.sess.Disconnect()

	if err := c.gateway.SendVoiceState(ctx, cmd); err != nil {
		c.logger.Warn("announce leave failed", log.Error(err))
	}
	return nil
}

// SetMute toggles the user's mute preference. Ignored while the space forces
// mute. Unmuting while deafened also clears the deafen preference.
func (c *Coordinator) SetMute(ctx context.Context, muted bool) {
	c.mu.Lock()
	if c.forcedMute {
		c.mu.Unlock()
		return
	}
	c.preferredMute = muted
	if !muted && c.preferredDeaf && !c.forcedDeaf {
		c.preferredDeaf = false
	}
	c.applyAndBroadcastLocked(ctx)
}

// SetDeaf toggles the user's deafen preference. Ignored while the space
// forces deafen. Deafening also forces mute on.
func (c *Coordinator) SetDeaf(ctx context.Context, deafened bool) {
	c.mu.Lock()
	if c.forcedDeaf {
		c.mu.Unlock()
		return
	}
	c.preferredDeaf = deafened
	if deafened {
		c.preferredMute = true
	}
	c.applyAndBroadcastLocked(ctx)
}

// SetInputDevice selects the capture device and propagates it into the live
// session.
func (c *Coordinator) SetInputDevice(ctx context.Context, deviceID string) error {
	if err := c.registry.Select(ctx, devices.KindAudioInput, deviceID); err != nil {
		return err
	}
	return c.sess.SetInputDevice(ctx, deviceID)
}

// SetOutputDevice selects the playback device and reroutes live sinks.
func (c *Coordinator) SetOutputDevice(ctx context.Context, deviceID string) error {
	if err := c.registry.Select(ctx, devices.KindAudioOutput, deviceID); err != nil {
		return err
	}
	return c.sess.SetOutputDevice(deviceID)
}

// OnVoiceServerUpdate records the signaling target. A join waiting for the
// server picks it up; a reconnecting session retries immediately.
func (c *Coordinator) OnVoiceServerUpdate(update voice.ServerUpdate) {
	c.mu.Lock()
	if !c.joined || update.SpaceID != c.spaceID {
		c.mu.Unlock()
		return
	}
	c.endpoint = update.Endpoint
	c.token = update.Token
	reconnecting := c.status == voice.StatusReconnecting
	c.mu.Unlock()

	if reconnecting {
		c.sched.Enqueue(keyReconnect, 0)
	}
}

// OnVoiceStateSync replaces one channel's roster with a gateway snapshot.
func (c *Coordinator) OnVoiceStateSync(channelID voice.ChannelID, states []voice.State) {
	c.roster.SyncChannel(channelID, states)
	for _, st := range states {
		if st.UserID == c.userID {
			c.applyPolicy(st)
		}
	}
}

// OnVoiceStateUpdate folds a single-user delta into the roster and, for the
// local user, re-applies space policy to the live session.
func (c *Coordinator) OnVoiceStateUpdate(state voice.State) {
	c.roster.Apply(state)
	if state.UserID == c.userID {
		c.applyPolicy(state)
	}
}

// applyPolicy recomputes the effective flags from space-forced policy and the
// user's preference, then pushes them into the session.
func (c *Coordinator) applyPolicy(state voice.State) {
	c.mu.Lock()
	c.forcedMute = state.SpaceMute
	c.forcedDeaf = state.SpaceDeaf
	c.recomputeEffectiveLocked()
	mute, deaf := c.effectiveMute, c.effectiveDeaf
	c.mu.Unlock()

	c.sess.SetSelfMute(mute)
	c.sess.SetSelfDeaf(deaf)
}

// applyAndBroadcastLocked finishes a preference change: recompute, release
// the lock, apply to the session, and broadcast when in a channel.
func (c *Coordinator) applyAndBroadcastLocked(ctx context.Context) {
	c.recomputeEffectiveLocked()
	mute, deaf := c.effectiveMute, c.effectiveDeaf
	inChannel := c.joined
	cmd := c.stateCommandLocked()
	c.mu.Unlock()

	c.sess.SetSelfMute(mute)
	c.sess.SetSelfDeaf(deaf)
	if inChannel {
		if err := c.gateway.SendVoiceState(ctx, cmd); err != nil {
			c.logger.Warn("broadcast voice state failed", log.Error(err))
		}
	}
}

// recomputeEffectiveLocked enforces the flag rules: forced overrides
// preferred, and deafen implies mute.
func (c *Coordinator) recomputeEffectiveLocked() {
	c.effectiveDeaf = c.forcedDeaf || c.preferredDeaf
	c.effectiveMute = c.forcedMute || c.preferredMute || c.effectiveDeaf
}

func (c *Coordinator) stateCommandLocked() voice.StateCommand {
	cmd := voice.StateCommand{
		SpaceID:  c.spaceID,
		SelfMute: c.effectiveMute,
		SelfDeaf: c.effectiveDeaf,
	}
	if c.joined {
		ch := c.channelID
		cmd.ChannelID = &ch
	}
	return cmd
}

func (c *Coordinator) pushPreferences(ctx context.Context, mute, deaf bool) {
	if input := c.registry.Selected(devices.KindAudioInput); input != "" {
		if err := c.sess.SetInputDevice(ctx, input); err != nil {
			c.logger.Warn("push input device failed", log.Error(err))
		}
	}
	if output := c.registry.Selected(devices.KindAudioOutput); output != "" {
		if err := c.sess.SetOutputDevice(output); err != nil {
			c.logger.Warn("push output device failed", log.Error(err))
		}
	}
	c.sess.SetSelfMute(mute)
	c.sess.SetSelfDeaf(deaf)
}

// waitForServer polls until the voice server push arrives. Polling instead of
// a single timer lets the wait complete early and lets an abandoned join bail
// out between ticks.
func (c *Coordinator) waitForServer(ctx context.Context) error {
	deadline := c.clock.Now().Add(c.serverWaitTimeout)
	for {
		c.mu.Lock()
		joined := c.joined
		endpoint := c.endpoint
		c.mu.Unlock()

		if !joined {
			return errors.New(voice.ErrCancelled, "join abandoned")
		}
		if endpoint != "" {
			return nil
		}
		if c.clock.Now().After(deadline) {
			return errors.Newf(voice.ErrTimeout,
				"voice server did not answer within %s", c.serverWaitTimeout)
		}

		select {
		case <-ctx.Done():
			return errors.Wrap(voice.ErrCancelled, ctx.Err(), "join cancelled")
		case <-c.clock.After(c.serverWaitPoll):
		}
	}
}

// connect delegates to the media session. Concurrent callers (a join racing a
// server push, reconnect timers) are coalesced onto one in-flight attempt.
func (c *Coordinator) connect(ctx context.Context) error {
	c.mu.Lock()
	if !c.joined {
		c.mu.Unlock()
		return errors.New(voice.ErrCancelled, "not joined")
	}
	endpoint := c.endpoint
	sessionToken := c.token
	c.setStatusLocked(voice.StatusConnecting)
	c.mu.Unlock()

	if claims, err := token.Peek(sessionToken); err == nil && claims.Expired(c.clock.Now()) {
		return errors.New(voice.ErrSignaling, "session token already expired")
	}

	key := fmt.Sprintf("%s|%s", endpoint, sessionToken)
	_, err, _ := c.group.Do(key, func() (interface{}, error) {
		return nil, c.sess.Connect(ctx, endpoint, sessionToken)
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.setStatusLocked(voice.StatusConnected)
	c.mu.Unlock()

	c.sched.Enqueue(keyKeepAlive, c.keepAliveInterval)
	return nil
}

// keepAlive re-broadcasts the current voice state so the signaling server
// does not expire a silent session, then re-arms itself.
func (c *Coordinator) keepAlive(ctx context.Context) {
	c.mu.Lock()
	if !c.joined {
		c.mu.Unlock()
		return
	}
	cmd := c.stateCommandLocked()
	c.mu.Unlock()

	if err := c.gateway.SendVoiceState(ctx, cmd); err != nil {
		c.logger.Warn("keep-alive failed", log.Error(err))
	}
	keepAlivesSent.Add(ctx, 1)
	c.sched.Enqueue(keyKeepAlive, c.keepAliveInterval)
}

// onSessionLost handles an unsolicited disconnect from the media session.
// The reconnect is scheduled, never run synchronously, so tight failure
// loops cannot recurse.
func (c *Coordinator) onSessionLost(err error) {
	c.mu.Lock()
	if !c.joined {
		c.setStatusLocked(voice.StatusIdle)
		c.mu.Unlock()
		return
	}
	c.setStatusLocked(voice.StatusReconnecting)
	c.mu.Unlock()

	c.logger.Warn("voice session lost, scheduling reconnect", log.Error(err))
	c.sched.Enqueue(keyReconnect, 0)
}

// reconnect retries the media connect with bounded backoff. Exhausting the
// retries parks the coordinator in failed rather than reconnecting forever.
func (c *Coordinator) reconnect(ctx context.Context) {
	c.mu.Lock()
	if !c.joined {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	reconnectsStarted.Add(ctx, 1)
	err := c.reconnectRetry.Do(ctx, func() error {
		c.mu.Lock()
		joined := c.joined
		c.mu.Unlock()
		if !joined {
			return nil
		}
		return c.connect(ctx)
	})
	if err != nil && !errors.Is(err, voice.ErrCancelled) {
		c.logger.Error("reconnect attempts exhausted", log.Error(err))
		c.failJoin()
	}
}

// failJoin parks the coordinator in failed and clears the membership, so a
// later Join of the same channel starts over instead of short-circuiting on
// the already-joined check.
func (c *Coordinator) failJoin() {
	c.mu.Lock()
	c.joined = false
	c.endpoint = ""
	c.token = ""
	c.setStatusLocked(voice.StatusFailed)
	c.mu.Unlock()

	c.sched.Cancel(keyKeepAlive)
	c.sched.Cancel(keyReconnect)
	c.sess.Disconnect()
}

func (c *Coordinator) setStatusLocked(status voice.ConnectionStatus) {
	if c.status == status {
		return
	}
	c.logger.Info("connection status",
		log.String("from", string(c.status)), log.String("to", string(status)))
	c.status = status
}
