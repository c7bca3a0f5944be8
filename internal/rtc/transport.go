package rtc

import (
	"encoding/json"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"

	"github.com/imtaco/voice-client-exp/internal/errors"
	"github.com/imtaco/voice-client-exp/voice"
	"github.com/imtaco/voice-client-exp/voice/session"
)

type device struct {
	engine *Engine
	caps   json.RawMessage
}

func (d *device) RTPCapabilities() json.RawMessage {
	return d.caps
}

func (d *device) CreateSendTransport(info session.TransportInfo) (session.Transport, error) {
	return d.newTransport(info)
}

func (d *device) CreateRecvTransport(info session.TransportInfo) (session.Transport, error) {
	return d.newTransport(info)
}

// newTransport builds the ICE gatherer, ICE transport and DTLS transport for
// one server-side transport and gathers local candidates up front so the DTLS
// parameters are complete before publishing.
func (d *device) newTransport(info session.TransportInfo) (session.Transport, error) {
	api := d.engine.api

	gatherer, err := api.NewICEGatherer(webrtc.ICEGatherOptions{})
	if err != nil {
		return nil, errors.Wrap(voice.ErrSignaling, err, "ice gatherer")
	}
	ice := api.NewICETransport(gatherer)
	dtls, err := api.NewDTLSTransport(ice, nil)
	if err != nil {
		return nil, errors.Wrap(voice.ErrSignaling, err, "dtls transport")
	}

	if err := gatherer.Gather(); err != nil {
		return nil, errors.Wrap(voice.ErrSignaling, err, "gather candidates")
	}

	return &transport{
		id:       info.ID,
		api:      api,
		gatherer: gatherer,
		ice:      ice,
		dtls:     dtls,
	}, nil
}

type transport struct {
	id       string
	api      *webrtc.API
	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport

	mu     sync.Mutex
	closed bool
}

func (t *transport) ID() string { return t.id }

func (t *transport) LocalDTLSParameters() (json.RawMessage, error) {
	params, err := t.dtls.GetLocalParameters()
	if err != nil {
		return nil, errors.Wrap(voice.ErrSignaling, err, "local dtls parameters")
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, errors.Wrap(voice.ErrSignaling, err, "encode dtls parameters")
	}
	return raw, nil
}

// Connect starts ICE and DTLS toward the server side described by info. The
// client always takes the controlling role; voice routers run ice-lite.
func (t *transport) Connect(info session.TransportInfo) error {
	var iceParams webrtc.ICEParameters
	if err := json.Unmarshal(info.ICEParameters, &iceParams); err != nil {
		return errors.Wrap(voice.ErrSignaling, err, "decode ice parameters")
	}
	var candidates []webrtc.ICECandidate
	if err := json.Unmarshal(info.ICECandidates, &candidates); err != nil {
		return errors.Wrap(voice.ErrSignaling, err, "decode ice candidates")
	}
	var dtlsParams webrtc.DTLSParameters
	if err := json.Unmarshal(info.DTLSParameters, &dtlsParams); err != nil {
		return errors.Wrap(voice.ErrSignaling, err, "decode dtls parameters")
	}

	if err := t.ice.SetRemoteCandidates(candidates); err != nil {
		return errors.Wrap(voice.ErrSignaling, err, "set remote candidates")
	}
	role := webrtc.ICERoleControlling
	if err := t.ice.Start(t.gatherer, iceParams, &role); err != nil {
		return errors.Wrap(voice.ErrSignaling, err, "start ice")
	}
	if err := t.dtls.Start(dtlsParams); err != nil {
		return errors.Wrap(voice.ErrSignaling, err, "start dtls")
	}
	return nil
}

func (t *transport) Produce(track session.Track) (session.Producer, session.ProduceInfo, error) {
	ct, ok := track.(*captureTrack)
	if !ok {
		return nil, session.ProduceInfo{}, errors.New(ErrCapture, "produce requires a captured track")
	}

	sender, err := t.api.NewRTPSender(ct.t, t.dtls)
	if err != nil {
		return nil, session.ProduceInfo{}, errors.Wrap(voice.ErrSignaling, err, "rtp sender")
	}
	params := sender.GetParameters()
	if err := sender.Send(params); err != nil {
		return nil, session.ProduceInfo{}, errors.Wrap(voice.ErrSignaling, err, "start sender")
	}

	raw, err := json.Marshal(params)
	if err != nil {
		_ = sender.Stop()
		return nil, session.ProduceInfo{}, errors.Wrap(voice.ErrSignaling, err, "encode rtp parameters")
	}
	return &producer{sender: sender, track: ct.t}, session.ProduceInfo{
		Kind:          webrtc.RTPCodecTypeAudio.String(),
		RTPParameters: raw,
	}, nil
}

func (t *transport) Consume(info session.ConsumerInfo) (session.Consumer, error) {
	receiver, err := t.api.NewRTPReceiver(webrtc.RTPCodecTypeAudio, t.dtls)
	if err != nil {
		return nil, errors.Wrap(voice.ErrSignaling, err, "rtp receiver")
	}
	recvParams, err := parseReceiveParameters(info.RTPParameters)
	if err != nil {
		return nil, err
	}
	if err := receiver.Receive(recvParams); err != nil {
		return nil, errors.Wrap(voice.ErrSignaling, err, "start receiver")
	}

	return &consumer{
		id:         info.ID,
		producerID: info.ProducerID,
		receiver:   receiver,
		track:      &remoteTrack{t: receiver.Track()},
	}, nil
}

func (t *transport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	_ = t.dtls.Stop()
	_ = t.ice.Stop()
	_ = t.gatherer.Close()
}

// parseReceiveParameters maps the router's consumer rtpParameters onto the
// decoding parameters the receiver needs. Only the encodings matter here; the
// codec set was fixed at capability exchange.
func parseReceiveParameters(raw json.RawMessage) (webrtc.RTPReceiveParameters, error) {
	var body struct {
		Encodings []struct {
			SSRC uint32 `json:"ssrc"`
			RID  string `json:"rid"`
		} `json:"encodings"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return webrtc.RTPReceiveParameters{}, errors.Wrap(voice.ErrSignaling, err, "decode rtp parameters")
	}
	if len(body.Encodings) == 0 {
		return webrtc.RTPReceiveParameters{}, errors.New(voice.ErrSignaling, "rtp parameters without encodings")
	}

	encodings := make([]webrtc.RTPDecodingParameters, 0, len(body.Encodings))
	for _, enc := range body.Encodings {
		encodings = append(encodings, webrtc.RTPDecodingParameters{
			RTPCodingParameters: webrtc.RTPCodingParameters{
				SSRC: webrtc.SSRC(enc.SSRC),
				RID:  enc.RID,
			},
		})
	}
	return webrtc.RTPReceiveParameters{Encodings: encodings}, nil
}

type producer struct {
	sender *webrtc.RTPSender
	track  mediadevices.Track

	mu     sync.Mutex
	paused bool
	closed bool
}

// Pause detaches the capture track from the sender so no RTP leaves the box;
// the capture itself stays open for instant resume.
func (p *producer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused || p.closed {
		return
	}
	p.paused = true
	_ = p.sender.ReplaceTrack(nil)
}

func (p *producer) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.paused || p.closed {
		return
	}
	p.paused = false
	_ = p.sender.ReplaceTrack(p.track)
}

func (p *producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	_ = p.sender.Stop()
}

type consumer struct {
	id         string
	producerID string
	receiver   *webrtc.RTPReceiver
	track      *remoteTrack

	closeOnce sync.Once
}

func (c *consumer) ID() string { return c.id }

func (c *consumer) ProducerID() string { return c.producerID }

func (c *consumer) Track() session.Track { return c.track }

func (c *consumer) Close() {
	c.closeOnce.Do(func() {
		_ = c.receiver.Stop()
	})
}
