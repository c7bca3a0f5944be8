package session

import "encoding/json"

// Wire bodies of the signaling operations. RTP, ICE and DTLS parameter blobs
// are negotiated opaquely: the server and the media engine agree on their
// shape, the controller only shuttles them.

type createTransportRequest struct {
	Direction string `json:"direction"`
}

const (
	directionSend    = "send"
	directionReceive = "receive"
)

// TransportInfo is the server side of a transport as returned by
// CreateTransport: its id plus the ICE/DTLS parameters the local transport
// connects toward.
type TransportInfo struct {
	ID             string          `json:"id"`
	ICEParameters  json.RawMessage `json:"iceParameters"`
	ICECandidates  json.RawMessage `json:"iceCandidates"`
	DTLSParameters json.RawMessage `json:"dtlsParameters"`
}

type connectTransportRequest struct {
	TransportID    string          `json:"transportId"`
	DTLSParameters json.RawMessage `json:"dtlsParameters"`
}

type setRTPCapabilitiesRequest struct {
	RTPCapabilities json.RawMessage `json:"rtpCapabilities"`
}

type produceRequest struct {
	TransportID   string          `json:"transportId"`
	Kind          string          `json:"kind"`
	RTPParameters json.RawMessage `json:"rtpParameters"`
}

type produceResponse struct {
	ID string `json:"id"`
}

type consumeRequest struct {
	ProducerID string `json:"producerId"`
}

// ConsumerInfo describes a server-created consumer to be materialized on the
// receive transport.
type ConsumerInfo struct {
	ID            string          `json:"id"`
	ProducerID    string          `json:"producerId"`
	Kind          string          `json:"kind"`
	RTPParameters json.RawMessage `json:"rtpParameters"`
}

type resumeConsumerRequest struct {
	ConsumerID string `json:"consumerId"`
}

type newProducerPush struct {
	ProducerID string `json:"producerId"`
}

type producerClosedPush struct {
	ProducerID string `json:"producerId"`
}
