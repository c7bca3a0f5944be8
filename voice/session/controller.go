// Package session owns the media session against one voice server: the
// signaling channel, the send/receive transports, the microphone producer and
// every remote consumer. All teardown paths are best effort and never fail.
package session

import (
	"context"
	"encoding/json"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/imtaco/voice-client-exp/internal/errors"
	"github.com/imtaco/voice-client-exp/internal/log"
	intotel "github.com/imtaco/voice-client-exp/internal/otel"
	"github.com/imtaco/voice-client-exp/internal/signaling"
	"github.com/imtaco/voice-client-exp/voice"
)

var tracer = otel.Tracer("voiceclient.session")

// DialFunc opens a signaling stream toward an endpoint. Injected so tests can
// substitute an in-memory stream.
type DialFunc func(ctx context.Context, endpoint, token string, logger *log.Logger) (signaling.ObjectStream, error)

type consumerEntry struct {
	consumer Consumer
	sink     Sink
}

// Controller drives the lifecycle of a single voice media session.
//
// Every connection attempt carries an epoch. Async continuations capture the
// epoch they started under and re-check it before touching state, so a newer
// attempt (or an explicit Disconnect, which also bumps the epoch) silently
// invalidates everything in flight instead of racing it.
type Controller struct {
	media  Media
	dial   DialFunc
	logger *log.Logger

	mu    sync.Mutex
	epoch uint64

	endpoint string
	token    string

	ch        *signaling.Channel
	device    Device
	sendT     Transport
	recvT     Transport
	producer  Producer
	micTrack  Track
	consumers map[string]*consumerEntry

	selfMute     bool
	selfDeaf     bool
	inputDevice  string
	outputDevice string

	onDisconnected func(err error)
}

func NewController(media Media, dial DialFunc, logger *log.Logger) *Controller {
	if media == nil || logger == nil {
		panic("session: media and logger are required")
	}
	if dial == nil {
		dial = signaling.Dial
	}
	return &Controller{
		media:     media,
		dial:      dial,
		logger:    logger,
		consumers: map[string]*consumerEntry{},
	}
}

// OnDisconnected registers the callback fired when the session dies from
// underneath us. It is not fired for Disconnect or for a superseding Connect.
func (c *Controller) OnDisconnected(f func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnected = f
}

// Connected reports whether a live signaling channel is held.
func (c *Controller) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ch != nil && !c.ch.Closed()
}

// Muted reports the effective mute preference, including the degraded state
// entered when microphone capture fails.
func (c *Controller) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selfMute
}

// Deafened reports whether playback sinks are muted.
func (c *Controller) Deafened() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selfDeaf
}

// ConsumerCount returns the number of active remote consumers.
func (c *Controller) ConsumerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.consumers)
}

// Connect establishes a media session against the given voice server. If a
// live session for the same endpoint and token exists it is left untouched.
// Otherwise any previous session is torn down silently and a fresh attempt
// runs the full setup sequence.
func (c *Controller) Connect(ctx context.Context, endpoint, token string) (err error) {
	ctx, span := intotel.StartSpan(ctx, tracer, "session.connect",
		attribute.String("endpoint", endpoint))
	defer func() {
		intotel.RecordError(span, err)
		span.End()
	}()

	c.mu.Lock()
	if c.ch != nil && !c.ch.Closed() && c.endpoint == endpoint && c.token == token {
		c.mu.Unlock()
		return nil
	}
	c.epoch++
	epoch := c.epoch
	cleanup := c.detachLocked()
	c.endpoint = endpoint
	c.token = token
	c.mu.Unlock()
	cleanup()

	connectsStarted.Add(ctx, 1)

	stream, err := c.dial(ctx, endpoint, token, c.logger.Module("Stream"))
	if err != nil {
		return c.failAttempt(ctx, epoch, errors.Wrap(voice.ErrSignaling, err, "dial voice server"))
	}

	ch := signaling.NewChannel(stream, c.logger.Module("Chan"))
	ch.OnPush(func(op string, data json.RawMessage) {
		c.handlePush(epoch, op, data)
	})
	ch.OnClosed(func(err error) {
		c.handleChannelClosed(epoch, err)
	})
	if err := ch.Open(ctx); err != nil {
		return c.failAttempt(ctx, epoch, errors.Wrap(voice.ErrSignaling, err, "open signaling channel"))
	}

	if err := c.storeIfCurrent(epoch, func() { c.ch = ch }); err != nil {
		ch.CancelAll(errors.New(voice.ErrCancelled, "attempt superseded"))
		_ = ch.Close()
		return err
	}

	if err := c.setup(ctx, epoch, ch); err != nil {
		return c.failAttempt(ctx, epoch, err)
	}

	connectsSucceeded.Add(ctx, 1)
	return nil
}

// Disconnect tears the session down in place. The channel's close
// notification is suppressed by the epoch bump; the disconnected callback
// does not fire.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	c.epoch++
	cleanup := c.detachLocked()
	c.mu.Unlock()
	cleanup()
}

// SetSelfMute applies the mute preference to the live producer, if any.
func (c *Controller) SetSelfMute(muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selfMute = muted
	if c.producer != nil {
		if muted {
			c.producer.Pause()
		} else {
			c.producer.Resume()
		}
	}
	if c.micTrack != nil {
		c.micTrack.SetEnabled(!muted)
	}
}

// SetSelfDeaf mutes or unmutes every playback sink.
func (c *Controller) SetSelfDeaf(deafened bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selfDeaf = deafened
	for _, e := range c.consumers {
		e.sink.SetMuted(deafened)
	}
}

// SetInputDevice records the preferred capture device and, when a session is
// live, restarts the microphone on it.
func (c *Controller) SetInputDevice(ctx context.Context, deviceID string) error {
	c.mu.Lock()
	c.inputDevice = deviceID
	live := c.sendT != nil
	c.mu.Unlock()
	if !live {
		return nil
	}
	return c.RestartMic(ctx)
}

// SetOutputDevice records the preferred playback device and re-routes every
// live sink to it.
func (c *Controller) SetOutputDevice(deviceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outputDevice = deviceID
	for id, e := range c.consumers {
		if err := e.sink.SetOutputDevice(deviceID); err != nil {
			c.logger.Warn("reroute sink failed",
				log.String("producer_id", id), log.Error(err))
		}
	}
	return nil
}

// RestartMic discards the current producer and capture track and rebuilds
// them from the currently selected input device.
func (c *Controller) RestartMic(ctx context.Context) error {
	c.mu.Lock()
	epoch := c.epoch
	ready := c.ch != nil && !c.ch.Closed() && c.sendT != nil
	producer, track := c.producer, c.micTrack
	c.producer, c.micTrack = nil, nil
	c.mu.Unlock()

	if producer != nil {
		producer.Close()
	}
	if track != nil {
		track.Stop()
	}
	if !ready {
		return nil
	}
	micRestarts.Add(ctx, 1)
	return c.startMic(ctx, epoch)
}

// setup runs the connection handshake: router capabilities, both transports,
// the capability announcement and the initial microphone publish.
func (c *Controller) setup(ctx context.Context, epoch uint64, ch *signaling.Channel) error {
	var routerCaps json.RawMessage
	if err := ch.Request(ctx, signaling.OpGetRTPCapabilities, nil, &routerCaps); err != nil {
		return errors.Wrap(voice.ErrSignaling, err, "get router capabilities")
	}

	dev, err := c.media.NewDevice(routerCaps)
	if err != nil {
		return errors.Wrap(voice.ErrSignaling, err, "load device")
	}
	if err := c.storeIfCurrent(epoch, func() { c.device = dev }); err != nil {
		return err
	}

	recvT, err := c.openTransport(ctx, epoch, ch, dev, directionReceive)
	if err != nil {
		return err
	}
	if err := c.storeIfCurrent(epoch, func() { c.recvT = recvT }); err != nil {
		recvT.Close()
		return err
	}

	if err := ch.Request(ctx, signaling.OpSetRTPCapabilities,
		setRTPCapabilitiesRequest{RTPCapabilities: dev.RTPCapabilities()}, nil); err != nil {
		return errors.Wrap(voice.ErrSignaling, err, "announce capabilities")
	}

	sendT, err := c.openTransport(ctx, epoch, ch, dev, directionSend)
	if err != nil {
		return err
	}
	if err := c.storeIfCurrent(epoch, func() { c.sendT = sendT }); err != nil {
		sendT.Close()
		return err
	}

	return c.startMic(ctx, epoch)
}

// openTransport requests a server transport, publishes the local DTLS
// parameters and connects toward the server side.
func (c *Controller) openTransport(
	ctx context.Context,
	epoch uint64,
	ch *signaling.Channel,
	dev Device,
	direction string,
) (Transport, error) {
	var info TransportInfo
	if err := ch.Request(ctx, signaling.OpCreateTransport,
		createTransportRequest{Direction: direction}, &info); err != nil {
		return nil, errors.Wrapf(voice.ErrSignaling, err, "create %s transport", direction)
	}
	if err := c.ensureCurrent(epoch); err != nil {
		return nil, err
	}

	var t Transport
	var err error
	if direction == directionSend {
		t, err = dev.CreateSendTransport(info)
	} else {
		t, err = dev.CreateRecvTransport(info)
	}
	if err != nil {
		return nil, errors.Wrapf(voice.ErrSignaling, err, "build %s transport", direction)
	}

	dtls, err := t.LocalDTLSParameters()
	if err != nil {
		t.Close()
		return nil, errors.Wrap(voice.ErrSignaling, err, "local dtls parameters")
	}
	if err := ch.Request(ctx, signaling.OpConnectTransport,
		connectTransportRequest{TransportID: info.ID, DTLSParameters: dtls}, nil); err != nil {
		t.Close()
		return nil, errors.Wrapf(voice.ErrSignaling, err, "connect %s transport", direction)
	}
	if err := c.ensureCurrent(epoch); err != nil {
		t.Close()
		return nil, err
	}
	if err := t.Connect(info); err != nil {
		t.Close()
		return nil, errors.Wrapf(voice.ErrSignaling, err, "start %s transport", direction)
	}
	return t, nil
}

// startMic captures the selected input device and publishes it. A capture
// failure degrades to a muted session instead of failing the connect.
func (c *Controller) startMic(ctx context.Context, epoch uint64) error {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return errCancelled()
	}
	input := c.inputDevice
	ch := c.ch
	sendT := c.sendT
	c.mu.Unlock()

	track, err := c.media.OpenMicrophone(ctx, input)
	if err != nil || track == nil {
		c.logger.Warn("microphone unavailable, joining muted",
			log.String("input_device", input), log.Error(err))
		micFailures.Add(ctx, 1)
		_ = c.storeIfCurrent(epoch, func() { c.selfMute = true })
		return nil
	}
	if err := c.ensureCurrent(epoch); err != nil {
		track.Stop()
		return err
	}

	producer, prod, err := sendT.Produce(track)
	if err != nil {
		track.Stop()
		return errors.Wrap(voice.ErrSignaling, err, "produce microphone")
	}

	var res produceResponse
	if err := ch.Request(ctx, signaling.OpProduce, produceRequest{
		TransportID:   sendT.ID(),
		Kind:          prod.Kind,
		RTPParameters: prod.RTPParameters,
	}, &res); err != nil {
		producer.Close()
		track.Stop()
		return errors.Wrap(voice.ErrSignaling, err, "announce producer")
	}

	adopted := c.storeIfCurrent(epoch, func() {
		c.producer = producer
		c.micTrack = track
		if c.selfMute {
			producer.Pause()
			track.SetEnabled(false)
		}
	})
	if adopted != nil {
		producer.Close()
		track.Stop()
		return adopted
	}
	c.logger.Info("microphone published", log.String("producer_id", res.ID))
	return nil
}

func (c *Controller) handlePush(epoch uint64, op string, data json.RawMessage) {
	switch op {
	case signaling.OpNewProducer:
		var p newProducerPush
		if err := json.Unmarshal(data, &p); err != nil {
			c.logger.Warn("bad NewProducer push", log.Error(err))
			return
		}
		// consume issues requests of its own; it must leave the read loop.
		go c.consume(context.Background(), epoch, p.ProducerID)
	case signaling.OpProducerClosed:
		var p producerClosedPush
		if err := json.Unmarshal(data, &p); err != nil {
			c.logger.Warn("bad ProducerClosed push", log.Error(err))
			return
		}
		c.removeConsumer(p.ProducerID)
	default:
		c.logger.Debug("unhandled push", log.String("op", op))
	}
}

// consume materializes a remote producer locally: consume request, receiver
// and sink creation, then the resume acknowledgement.
func (c *Controller) consume(ctx context.Context, epoch uint64, producerID string) {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	ch := c.ch
	recvT := c.recvT
	deaf := c.selfDeaf
	output := c.outputDevice
	_, exists := c.consumers[producerID]
	c.mu.Unlock()
	if exists || ch == nil || recvT == nil {
		return
	}

	var info ConsumerInfo
	if err := ch.Request(ctx, signaling.OpConsume,
		consumeRequest{ProducerID: producerID}, &info); err != nil {
		c.logger.Warn("consume request failed",
			log.String("producer_id", producerID), log.Error(err))
		return
	}
	if c.ensureCurrent(epoch) != nil {
		return
	}

	consumer, err := recvT.Consume(info)
	if err != nil {
		c.logger.Warn("build consumer failed",
			log.String("producer_id", producerID), log.Error(err))
		return
	}
	sink, err := c.media.NewSink(consumer.Track())
	if err != nil {
		consumer.Close()
		c.logger.Warn("build sink failed",
			log.String("producer_id", producerID), log.Error(err))
		return
	}
	if output != "" {
		if err := sink.SetOutputDevice(output); err != nil {
			c.logger.Warn("route sink failed",
				log.String("output_device", output), log.Error(err))
		}
	}
	sink.SetMuted(deaf)
	if err := sink.Play(); err != nil {
		// playback may be refused by the platform; the consumer still counts
		c.logger.Warn("sink playback refused", log.Error(err))
	}

	if err := c.storeIfCurrent(epoch, func() {
		c.consumers[producerID] = &consumerEntry{consumer: consumer, sink: sink}
	}); err != nil {
		sink.Close()
		consumer.Close()
		return
	}
	consumersActive.Add(ctx, 1)

	if err := ch.Request(ctx, signaling.OpResumeConsumer,
		resumeConsumerRequest{ConsumerID: info.ID}, nil); err != nil {
		c.logger.Warn("resume consumer failed",
			log.String("consumer_id", info.ID), log.Error(err))
	}
}

// removeConsumer drops one remote producer's consumer and sink. Unknown ids
// are ignored.
func (c *Controller) removeConsumer(producerID string) {
	c.mu.Lock()
	e, ok := c.consumers[producerID]
	if ok {
		delete(c.consumers, producerID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	e.sink.Close()
	e.consumer.Close()
	consumersActive.Add(context.Background(), -1)
}

// handleChannelClosed reacts to the signaling channel dying. Stale epochs
// mean the teardown was deliberate and the notification is swallowed.
func (c *Controller) handleChannelClosed(epoch uint64, err error) {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	c.epoch++
	cleanup := c.detachLocked()
	cb := c.onDisconnected
	c.mu.Unlock()
	cleanup()

	sessionDrops.Add(context.Background(), 1)
	c.logger.Warn("voice session lost", log.Error(err))
	if cb != nil {
		cb(err)
	}
}

// failAttempt cleans up a failed connect unless a newer attempt already owns
// the state, and returns the original error.
func (c *Controller) failAttempt(ctx context.Context, epoch uint64, err error) error {
	connectsFailed.Add(ctx, 1)
	c.mu.Lock()
	cleanup := func() {}
	if c.epoch == epoch {
		c.epoch++
		cleanup = c.detachLocked()
	}
	c.mu.Unlock()
	cleanup()
	return err
}

// detachLocked strips every held resource off the controller and returns a
// closure that releases them. Callers bump the epoch first so the channel
// close handler and in-flight continuations go stale, then run the closure
// outside the lock because the channel fires its close handler synchronously.
func (c *Controller) detachLocked() func() {
	ch := c.ch
	producer := c.producer
	track := c.micTrack
	sendT := c.sendT
	recvT := c.recvT
	entries := c.consumers

	c.ch = nil
	c.producer = nil
	c.micTrack = nil
	c.sendT = nil
	c.recvT = nil
	c.device = nil
	c.consumers = map[string]*consumerEntry{}

	return func() {
		if ch != nil {
			ch.CancelAll(errCancelled())
			_ = ch.Close()
		}
		for _, e := range entries {
			e.sink.Close()
			e.consumer.Close()
		}
		if producer != nil {
			producer.Close()
		}
		if track != nil {
			track.Stop()
		}
		if sendT != nil {
			sendT.Close()
		}
		if recvT != nil {
			recvT.Close()
		}
		if n := len(entries); n > 0 {
			consumersActive.Add(context.Background(), int64(-n))
		}
	}
}

func (c *Controller) ensureCurrent(epoch uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return errCancelled()
	}
	return nil
}

func (c *Controller) storeIfCurrent(epoch uint64, apply func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return errCancelled()
	}
	apply()
	return nil
}

func errCancelled() error {
	return errors.New(voice.ErrCancelled, "connection attempt superseded")
}
