package signaling

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"

	"github.com/imtaco/voice-client-exp/internal/errors"
	"github.com/imtaco/voice-client-exp/internal/log"
)

const (
	ErrClosed    errors.Code = "signaling_closed"
	ErrCancelled errors.Code = "signaling_cancelled"
	ErrMarshal   errors.Code = "marshal_error"
)

// ObjectStream is the framed JSON transport a Channel runs over.
type ObjectStream interface {
	Open(ctx context.Context) error
	Read(ctx context.Context, v interface{}) error
	Write(ctx context.Context, obj interface{}) error
	io.Closer
}

// PushHandler receives server pushes ({op, data} frames without an id).
type PushHandler func(op string, data json.RawMessage)

// CloseHandler is invoked exactly once per Channel when the underlying stream
// dies. err is nil for a locally initiated Close.
type CloseHandler func(err error)

type outcome struct {
	data json.RawMessage
	err  error
}

type doneChan chan outcome

// Channel correlates request/response envelopes over an ObjectStream and
// dispatches uncorrelated pushes. At most one pending request exists per id;
// a response either resolves or rejects it, and CancelAll rejects every
// still-pending request so no caller waits forever across a teardown.
type Channel struct {
	stream   ObjectStream
	sendLock sync.Mutex
	closed   atomic.Bool
	pendings sync.Map // map[string]doneChan

	onPush    PushHandler
	onClose   CloseHandler
	closeOnce sync.Once
	logger    *log.Logger
}

func NewChannel(stream ObjectStream, logger *log.Logger) *Channel {
	if logger == nil {
		panic("logger cannot be nil")
	}
	return &Channel{
		stream: stream,
		logger: logger,
	}
}

// OnPush must be set before Open.
func (c *Channel) OnPush(h PushHandler) {
	c.onPush = h
}

// OnClosed must be set before Open.
func (c *Channel) OnClosed(h CloseHandler) {
	c.onClose = h
}

func (c *Channel) Open(ctx context.Context) error {
	if err := c.stream.Open(ctx); err != nil {
		return err
	}
	go c.readLoop(ctx)
	return nil
}

func (c *Channel) Closed() bool {
	return c.closed.Load()
}

// Request sends {id, op, data} and blocks until the matching response, the
// context deadline, or a bulk cancellation. result may be nil.
func (c *Channel) Request(ctx context.Context, op string, params, result interface{}) error {
	req, err := newRequest(op, params)
	if err != nil {
		return err
	}

	done, err := c.send(ctx, req)
	if err != nil {
		requestsFailed.Add(ctx, 1)
		return err
	}
	requestsSent.Add(ctx, 1)

	select {
	case <-ctx.Done():
		c.pendings.Delete(req.ID)
		return ctx.Err()

	case out, ok := <-done:
		if !ok || out.err != nil {
			if !ok {
				return errors.New(ErrClosed, "channel closed while waiting for response")
			}
			return out.err
		}
		if out.data != nil && result != nil {
			return json.Unmarshal(out.data, result)
		}
		return nil
	}
}

// CancelAll rejects every pending request with reason. Used by every teardown
// path; safe to call more than once.
func (c *Channel) CancelAll(reason error) {
	keys := make([]string, 0)
	c.pendings.Range(func(key, _ interface{}) bool {
		keys = append(keys, key.(string))
		return true
	})
	for _, key := range keys {
		if done := c.popPending(key); done != nil {
			done <- outcome{err: reason}
			close(done)
		}
	}
}

// Close tears the stream down locally. The close handler fires with a nil
// error so the owner can tell a deliberate close from a socket failure.
func (c *Channel) Close() error {
	return c.close(nil)
}

func (c *Channel) close(err error) error {
	if !c.closed.CompareAndSwap(false, true) {
		return errors.New(ErrClosed, "already closed")
	}

	reason := err
	if reason == nil {
		reason = errors.New(ErrCancelled, "channel closed")
	}
	c.CancelAll(reason)

	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		c.logger.Warn("signaling channel closed abnormally", log.Error(err))
	}

	streamErr := c.stream.Close()
	c.closeOnce.Do(func() {
		if c.onClose != nil {
			c.onClose(err)
		}
	})
	return streamErr
}

func (c *Channel) readLoop(ctx context.Context) {
	for {
		var f frame
		if err := c.stream.Read(ctx, &f); err != nil {
			_ = c.close(err)
			return
		}

		switch f.kind() {
		case frameResponse:
			done := c.popPending(f.ID)
			if done == nil {
				c.logger.Debug("ignore response with unmatched id", log.String("id", f.ID))
				continue
			}
			done <- responseOutcome(&f)
			close(done)

		case framePush:
			pushesReceived.Add(ctx, 1)
			if c.onPush == nil {
				c.logger.Debug("push dropped, no handler", log.String("op", f.Op))
				continue
			}
			var data json.RawMessage
			if f.Data != nil {
				data = *f.Data
			}
			c.onPush(f.Op, data)

		default:
			c.logger.Warn("ignore invalid frame: neither response nor push")
		}
	}
}

func responseOutcome(f *frame) outcome {
	if f.OK != nil && *f.OK {
		var data json.RawMessage
		if f.Data != nil {
			data = *f.Data
		}
		return outcome{data: data}
	}
	if f.Error != nil {
		return outcome{err: f.Error}
	}
	return outcome{err: &ServerError{Message: "request rejected"}}
}

func (c *Channel) send(ctx context.Context, req *request) (doneChan, error) {
	// not allow concurrent sends
	c.sendLock.Lock()
	defer c.sendLock.Unlock()

	if c.closed.Load() {
		return nil, errors.New(ErrClosed, "channel closed")
	}

	done := make(doneChan, 1)
	c.pendings.Store(req.ID, done)

	if err := c.stream.Write(ctx, req); err != nil {
		c.pendings.Delete(req.ID)
		return nil, err
	}
	return done, nil
}

func (c *Channel) popPending(id string) doneChan {
	v, ok := c.pendings.LoadAndDelete(id)
	if !ok {
		return nil
	}
	return v.(doneChan)
}
