package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/imtaco/voice-client-exp/internal/errors"
)

type frameType int

const (
	frameUnknown  frameType = iota
	frameResponse frameType = iota
	framePush     frameType = iota
)

// Request opcodes understood by the voice signaling server.
const (
	OpGetRTPCapabilities = "GetRTPCapabilities"
	OpCreateTransport    = "CreateTransport"
	OpConnectTransport   = "ConnectTransport"
	OpSetRTPCapabilities = "SetRTPCapabilities"
	OpProduce            = "Produce"
	OpConsume            = "Consume"
	OpResumeConsumer     = "ResumeConsumer"
)

// Push opcodes delivered without a correlation id.
const (
	OpNewProducer    = "NewProducer"
	OpProducerClosed = "ProducerClosed"
)

// request is the outgoing envelope: {id, op, data}.
type request struct {
	ID   string           `json:"id"`
	Op   string           `json:"op"`
	Data *json.RawMessage `json:"data,omitempty"`
}

// frame is any inbound envelope. A frame carrying an id is a response to an
// outstanding request; a frame without one is a server push.
type frame struct {
	ID    string           `json:"id,omitempty"`
	Op    string           `json:"op,omitempty"`
	OK    *bool            `json:"ok,omitempty"`
	Data  *json.RawMessage `json:"data,omitempty"`
	Error *ServerError     `json:"error,omitempty"`
}

func (f *frame) kind() frameType {
	switch {
	case f.ID != "" && f.OK != nil:
		return frameResponse
	case f.ID == "" && f.Op != "":
		return framePush
	default:
		return frameUnknown
	}
}

// ServerError is the error object a rejected request carries.
type ServerError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *ServerError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("signaling error: %s", e.Message)
	}
	return fmt.Sprintf("signaling error: %s (%s)", e.Message, e.Code)
}

func newRequest(op string, params interface{}) (*request, error) {
	req := &request{
		ID: uuid.New().String(),
		Op: op,
	}
	if params == nil {
		return req, nil
	}
	bs, err := json.Marshal(params)
	if err != nil {
		return nil, errors.Wrap(ErrMarshal, err, "failed to marshal request data")
	}
	raw := json.RawMessage(bs)
	req.Data = &raw
	return req, nil
}
