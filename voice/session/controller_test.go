package session

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/imtaco/voice-client-exp/internal/errors"
	"github.com/imtaco/voice-client-exp/internal/log"
	"github.com/imtaco/voice-client-exp/internal/signaling"
	"github.com/imtaco/voice-client-exp/voice"
)

const (
	waitFor = 2 * time.Second
	tick    = 10 * time.Millisecond
)

type wireRequest struct {
	ID   string          `json:"id"`
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

// scriptedStream emulates the voice server end of a signaling stream: every
// written request is answered by an op handler, pushes are injected by tests.
type scriptedStream struct {
	mu       sync.Mutex
	handlers map[string]func(req wireRequest) ([]byte, bool)
	requests []wireRequest
	inbound  chan []byte
	done     chan struct{}
	once     sync.Once
}

func newScriptedStream() *scriptedStream {
	s := &scriptedStream{
		handlers: map[string]func(wireRequest) ([]byte, bool){},
		inbound:  make(chan []byte, 32),
		done:     make(chan struct{}),
	}
	return s
}

func (s *scriptedStream) Open(_ context.Context) error { return nil }

func (s *scriptedStream) Write(_ context.Context, obj interface{}) error {
	raw, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	var req wireRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return err
	}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	h := s.handlers[req.Op]
	s.mu.Unlock()

	var resp []byte
	ok := true
	if h != nil {
		resp, ok = h(req)
	} else {
		resp = defaultResponse(req)
	}
	if ok {
		s.deliver(respondOK(req.ID, resp))
	} else {
		s.deliver(respondErr(req.ID, resp))
	}
	return nil
}

func (s *scriptedStream) Read(ctx context.Context, v interface{}) error {
	select {
	case raw := <-s.inbound:
		return json.Unmarshal(raw, v)
	case <-s.done:
		return io.EOF
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *scriptedStream) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func (s *scriptedStream) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *scriptedStream) deliver(raw []byte) {
	select {
	case s.inbound <- raw:
	case <-s.done:
	}
}

func (s *scriptedStream) push(op string, data string) {
	s.deliver([]byte(`{"op":"` + op + `","data":` + data + `}`))
}

func (s *scriptedStream) handle(op string, h func(wireRequest) ([]byte, bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[op] = h
}

func (s *scriptedStream) ops() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.requests))
	for i, r := range s.requests {
		out[i] = r.Op
	}
	return out
}

func (s *scriptedStream) countOp(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		if r.Op == op {
			n++
		}
	}
	return n
}

func defaultResponse(req wireRequest) []byte {
	switch req.Op {
	case signaling.OpGetRTPCapabilities:
		return []byte(`{"codecs":[{"mimeType":"audio/opus"}]}`)
	case signaling.OpCreateTransport:
		var body createTransportRequest
		_ = json.Unmarshal(req.Data, &body)
		return []byte(`{"id":"t-` + body.Direction + `","iceParameters":{},"iceCandidates":[],"dtlsParameters":{}}`)
	case signaling.OpProduce:
		return []byte(`{"id":"srv-prod-1"}`)
	case signaling.OpConsume:
		var body consumeRequest
		_ = json.Unmarshal(req.Data, &body)
		return []byte(`{"id":"cons-` + body.ProducerID + `","producerId":"` + body.ProducerID + `","kind":"audio","rtpParameters":{}}`)
	default:
		return []byte(`{}`)
	}
}

func respondOK(id string, data []byte) []byte {
	return []byte(`{"id":"` + id + `","ok":true,"data":` + string(data) + `}`)
}

func respondErr(id string, body []byte) []byte {
	return []byte(`{"id":"` + id + `","ok":false,"error":` + string(body) + `}`)
}

type fakeTrack struct {
	mu      sync.Mutex
	id      string
	enabled bool
	stopped bool
}

func (t *fakeTrack) ID() string   { return t.id }
func (t *fakeTrack) Kind() string { return "audio" }
func (t *fakeTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}
func (t *fakeTrack) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}
func (t *fakeTrack) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}
func (t *fakeTrack) isEnabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

type fakeProducer struct {
	mu     sync.Mutex
	paused bool
	closed bool
}

func (p *fakeProducer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
}
func (p *fakeProducer) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = false
}
func (p *fakeProducer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}
func (p *fakeProducer) isPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}
func (p *fakeProducer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type fakeConsumer struct {
	id         string
	producerID string
	track      *fakeTrack
	mu         sync.Mutex
	closed     bool
}

func (c *fakeConsumer) ID() string         { return c.id }
func (c *fakeConsumer) ProducerID() string { return c.producerID }
func (c *fakeConsumer) Track() Track       { return c.track }
func (c *fakeConsumer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}
func (c *fakeConsumer) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeSink struct {
	mu     sync.Mutex
	muted  bool
	output string
	played bool
	closed bool
}

func (s *fakeSink) SetMuted(muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = muted
}
func (s *fakeSink) SetOutputDevice(deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.output = deviceID
	return nil
}
func (s *fakeSink) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.played = true
	return nil
}
func (s *fakeSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}
func (s *fakeSink) isMuted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}
func (s *fakeSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
func (s *fakeSink) outputDevice() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.output
}

type fakeTransport struct {
	id     string
	mu     sync.Mutex
	closed bool
}

func (t *fakeTransport) ID() string { return t.id }
func (t *fakeTransport) LocalDTLSParameters() (json.RawMessage, error) {
	return json.RawMessage(`{"role":"client"}`), nil
}
func (t *fakeTransport) Connect(_ TransportInfo) error { return nil }
func (t *fakeTransport) Produce(track Track) (Producer, ProduceInfo, error) {
	return &fakeProducer{}, ProduceInfo{
		Kind:          track.Kind(),
		RTPParameters: json.RawMessage(`{}`),
	}, nil
}
func (t *fakeTransport) Consume(info ConsumerInfo) (Consumer, error) {
	return &fakeConsumer{
		id:         info.ID,
		producerID: info.ProducerID,
		track:      &fakeTrack{id: "remote-" + info.ProducerID, enabled: true},
	}, nil
}
func (t *fakeTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
}
func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type fakeDevice struct {
	caps  json.RawMessage
	sendT *fakeTransport
	recvT *fakeTransport
}

func (d *fakeDevice) RTPCapabilities() json.RawMessage { return d.caps }
func (d *fakeDevice) CreateSendTransport(info TransportInfo) (Transport, error) {
	d.sendT = &fakeTransport{id: info.ID}
	return d.sendT, nil
}
func (d *fakeDevice) CreateRecvTransport(info TransportInfo) (Transport, error) {
	d.recvT = &fakeTransport{id: info.ID}
	return d.recvT, nil
}

type fakeMedia struct {
	mu        sync.Mutex
	micErr    error
	device    *fakeDevice
	tracks    []*fakeTrack
	producers []*fakeProducer
	sinks     []*fakeSink
	mics      []string
}

func (m *fakeMedia) NewDevice(routerCaps json.RawMessage) (Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.device = &fakeDevice{caps: routerCaps}
	return m.device, nil
}

func (m *fakeMedia) OpenMicrophone(_ context.Context, deviceID string) (Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mics = append(m.mics, deviceID)
	if m.micErr != nil {
		return nil, m.micErr
	}
	t := &fakeTrack{id: "mic", enabled: true}
	m.tracks = append(m.tracks, t)
	return t, nil
}

func (m *fakeMedia) NewSink(_ Track) (Sink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &fakeSink{}
	m.sinks = append(m.sinks, s)
	return s, nil
}

func (m *fakeMedia) lastSink() *fakeSink {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sinks) == 0 {
		return nil
	}
	return m.sinks[len(m.sinks)-1]
}

func (m *fakeMedia) lastTrack() *fakeTrack {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.tracks) == 0 {
		return nil
	}
	return m.tracks[len(m.tracks)-1]
}

func (m *fakeMedia) micOpens() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.mics...)
}

type ControllerSuite struct {
	suite.Suite

	media   *fakeMedia
	streams []*scriptedStream
	ctrl    *Controller
}

func TestControllerSuite(t *testing.T) {
	suite.Run(t, new(ControllerSuite))
}

func (s *ControllerSuite) SetupTest() {
	s.media = &fakeMedia{}
	s.streams = nil
	s.ctrl = NewController(s.media, s.dialStub, log.NewTest(s.T()))
}

func (s *ControllerSuite) dialStub(
	_ context.Context, _, _ string, _ *log.Logger,
) (signaling.ObjectStream, error) {
	st := newScriptedStream()
	s.streams = append(s.streams, st)
	return st, nil
}

func (s *ControllerSuite) connect() *scriptedStream {
	err := s.ctrl.Connect(context.Background(), "wss://voice.example", "tok-1")
	s.Require().NoError(err)
	return s.streams[len(s.streams)-1]
}

func (s *ControllerSuite) TestConnectRunsSetupSequence() {
	st := s.connect()

	s.Equal([]string{
		signaling.OpGetRTPCapabilities,
		signaling.OpCreateTransport,
		signaling.OpConnectTransport,
		signaling.OpSetRTPCapabilities,
		signaling.OpCreateTransport,
		signaling.OpConnectTransport,
		signaling.OpProduce,
	}, st.ops())

	s.True(s.ctrl.Connected())
	s.False(s.ctrl.Muted())
	s.Require().NotNil(s.media.device.sendT)
	s.Require().NotNil(s.media.device.recvT)
	s.Equal("t-send", s.media.device.sendT.ID())
	s.Equal("t-receive", s.media.device.recvT.ID())
}

func (s *ControllerSuite) TestConnectIsIdempotentForSameTarget() {
	s.connect()
	err := s.ctrl.Connect(context.Background(), "wss://voice.example", "tok-1")
	s.Require().NoError(err)
	s.Len(s.streams, 1)
}

func (s *ControllerSuite) TestConnectSupersedesPreviousSessionSilently() {
	var dropped int
	s.ctrl.OnDisconnected(func(error) { dropped++ })

	old := s.connect()
	err := s.ctrl.Connect(context.Background(), "wss://voice2.example", "tok-2")
	s.Require().NoError(err)

	s.Len(s.streams, 2)
	s.True(old.closed())
	s.True(s.ctrl.Connected())
	s.Equal(0, dropped)
}

func (s *ControllerSuite) TestCreateTransportFailureFailsConnect() {
	st := newScriptedStream()
	st.handle(signaling.OpCreateTransport, func(wireRequest) ([]byte, bool) {
		return []byte(`{"code":"no_capacity","message":"router full"}`), false
	})
	s.ctrl.dial = func(
		_ context.Context, _, _ string, _ *log.Logger,
	) (signaling.ObjectStream, error) {
		return st, nil
	}

	err := s.ctrl.Connect(context.Background(), "wss://voice.example", "tok-1")
	s.Require().Error(err)
	s.True(errors.Is(err, voice.ErrSignaling))
	s.False(s.ctrl.Connected())
	s.True(st.closed())
}

func (s *ControllerSuite) TestMicFailureDegradesToMuted() {
	s.media.micErr = errors.New(voice.ErrDeviceUnavailable, "no mic")

	st := s.connect()

	s.True(s.ctrl.Connected())
	s.True(s.ctrl.Muted())
	s.Equal(0, st.countOp(signaling.OpProduce))
}

func (s *ControllerSuite) TestConnectWhileMutedPublishesPausedMic() {
	s.ctrl.SetSelfMute(true)

	st := s.connect()

	s.True(s.ctrl.Connected())
	s.True(s.ctrl.Muted())
	s.Equal(1, st.countOp(signaling.OpProduce))

	track := s.media.lastTrack()
	s.Require().NotNil(track)
	s.False(track.isEnabled())
}

func (s *ControllerSuite) TestSetSelfMutePausesAndResumesProducer() {
	s.connect()
	s.Require().NotNil(s.media.device.sendT)

	s.ctrl.SetSelfMute(true)
	track := s.media.lastTrack()
	s.Require().NotNil(track)
	s.Eventually(func() bool { return s.ctrl.Muted() }, waitFor, tick)

	s.ctrl.SetSelfMute(false)
	s.False(s.ctrl.Muted())
	s.False(track.isStopped())
}

func (s *ControllerSuite) TestNewProducerPushMaterializesConsumer() {
	st := s.connect()

	st.push(signaling.OpNewProducer, `{"producerId":"p1"}`)

	s.Eventually(func() bool { return s.ctrl.ConsumerCount() == 1 }, waitFor, tick)
	s.Eventually(func() bool { return st.countOp(signaling.OpResumeConsumer) == 1 }, waitFor, tick)

	sink := s.media.lastSink()
	s.Require().NotNil(sink)
	s.False(sink.isMuted())
}

func (s *ControllerSuite) TestDuplicateNewProducerPushIsIgnored() {
	st := s.connect()

	st.push(signaling.OpNewProducer, `{"producerId":"p1"}`)
	s.Eventually(func() bool { return s.ctrl.ConsumerCount() == 1 }, waitFor, tick)

	st.push(signaling.OpNewProducer, `{"producerId":"p1"}`)
	s.Never(func() bool { return s.ctrl.ConsumerCount() > 1 }, 200*time.Millisecond, tick)
	s.Equal(1, st.countOp(signaling.OpConsume))
}

func (s *ControllerSuite) TestProducerClosedPushRemovesConsumer() {
	st := s.connect()

	st.push(signaling.OpNewProducer, `{"producerId":"p1"}`)
	s.Eventually(func() bool { return s.ctrl.ConsumerCount() == 1 }, waitFor, tick)
	sink := s.media.lastSink()

	st.push(signaling.OpProducerClosed, `{"producerId":"p1"}`)
	s.Eventually(func() bool { return s.ctrl.ConsumerCount() == 0 }, waitFor, tick)
	s.True(sink.isClosed())

	// unknown producer id is a no-op
	st.push(signaling.OpProducerClosed, `{"producerId":"p9"}`)
	s.Never(func() bool { return s.ctrl.ConsumerCount() != 0 }, 200*time.Millisecond, tick)
}

func (s *ControllerSuite) TestSetSelfDeafMutesSinksAndNewConsumersStartMuted() {
	st := s.connect()

	st.push(signaling.OpNewProducer, `{"producerId":"p1"}`)
	s.Eventually(func() bool { return s.ctrl.ConsumerCount() == 1 }, waitFor, tick)
	first := s.media.lastSink()

	s.ctrl.SetSelfDeaf(true)
	s.True(first.isMuted())

	st.push(signaling.OpNewProducer, `{"producerId":"p2"}`)
	s.Eventually(func() bool { return s.ctrl.ConsumerCount() == 2 }, waitFor, tick)
	s.True(s.media.lastSink().isMuted())

	s.ctrl.SetSelfDeaf(false)
	s.False(first.isMuted())
	s.False(s.media.lastSink().isMuted())
}

func (s *ControllerSuite) TestSetOutputDeviceRoutesLiveSinks() {
	st := s.connect()
	st.push(signaling.OpNewProducer, `{"producerId":"p1"}`)
	s.Eventually(func() bool { return s.ctrl.ConsumerCount() == 1 }, waitFor, tick)

	s.Require().NoError(s.ctrl.SetOutputDevice("spk-2"))
	s.Equal("spk-2", s.media.lastSink().outputDevice())

	// later consumers route to the selected device on creation
	st.push(signaling.OpNewProducer, `{"producerId":"p2"}`)
	s.Eventually(func() bool { return s.ctrl.ConsumerCount() == 2 }, waitFor, tick)
	s.Equal("spk-2", s.media.lastSink().outputDevice())
}

func (s *ControllerSuite) TestSetInputDeviceRestartsMicrophone() {
	st := s.connect()
	oldTrack := s.media.lastTrack()
	s.Require().NotNil(oldTrack)

	s.Require().NoError(s.ctrl.SetInputDevice(context.Background(), "mic-2"))

	s.True(oldTrack.isStopped())
	s.Equal([]string{"", "mic-2"}, s.media.micOpens())
	s.Equal(2, st.countOp(signaling.OpProduce))
}

func (s *ControllerSuite) TestDisconnectSuppressesCloseNotification() {
	var dropped int
	s.ctrl.OnDisconnected(func(error) { dropped++ })

	st := s.connect()
	track := s.media.lastTrack()

	s.ctrl.Disconnect()

	s.False(s.ctrl.Connected())
	s.True(st.closed())
	s.True(track.isStopped())
	s.Never(func() bool { return dropped > 0 }, 200*time.Millisecond, tick)
}

func (s *ControllerSuite) TestStreamDeathFiresDisconnectedOnce() {
	errs := make(chan error, 4)
	s.ctrl.OnDisconnected(func(err error) { errs <- err })

	st := s.connect()
	track := s.media.lastTrack()

	_ = st.Close()

	select {
	case err := <-errs:
		s.Require().Error(err)
	case <-time.After(waitFor):
		s.FailNow("disconnect callback never fired")
	}
	s.Eventually(func() bool { return !s.ctrl.Connected() }, waitFor, tick)
	s.True(track.isStopped())
	s.Never(func() bool { return len(errs) > 0 }, 200*time.Millisecond, tick)
}
