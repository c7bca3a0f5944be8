package signaling

import (
	"context"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/imtaco/voice-client-exp/internal/errors"
	"github.com/imtaco/voice-client-exp/internal/log"
)

const (
	ErrBufferFull errors.Code = "buffer_full"
)

const (
	pingInterval = 10 * time.Second
	pingTimeout  = 3 * time.Second
	writeTimeout = 3 * time.Second
	bufMessages  = 16
)

// Dial opens a websocket to the signaling endpoint, carrying the session token
// as a query parameter. It returns once the socket is open; a handshake
// failure is returned directly.
func Dial(ctx context.Context, endpoint, token string, logger *log.Logger) (ObjectStream, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, errors.Wrap(ErrClosed, err, "invalid signaling endpoint")
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	return newStream(conn, logger), nil
}

func newStream(conn *websocket.Conn, logger *log.Logger) *wsStream {
	return &wsStream{
		conn:   conn,
		chBuf:  make(chan func() error, bufMessages),
		logger: logger,
	}
}

// wsStream adapts a websocket connection to ObjectStream. Writes are queued
// onto a single pump goroutine that also drives keepalive pings.
type wsStream struct {
	conn  *websocket.Conn
	chBuf chan func() error

	connCtx   context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	logger    *log.Logger
}

func (ws *wsStream) Write(ctx context.Context, obj interface{}) error {
	select {
	case <-ctx.Done():
		return net.ErrClosed
	default:
	}

	action := func() error {
		ctx, cancel := context.WithTimeout(ctx, writeTimeout)
		defer cancel()
		return wsjson.Write(ctx, ws.conn, obj)
	}

	select {
	case ws.chBuf <- action:
		return nil
	default:
		ws.close(ErrBufferFull)
		return ErrBufferFull
	}
}

func (ws *wsStream) Read(ctx context.Context, v interface{}) error {
	// read failure leads to connection close
	if err := wsjson.Read(ctx, ws.conn, v); err != nil {
		ws.close(err)
		return err
	}
	return nil
}

func (ws *wsStream) Open(ctx context.Context) error {
	ws.connCtx, ws.cancel = context.WithCancel(ctx)

	go func() {
		err := ws.writePump(ws.connCtx)
		ws.close(err)
	}()

	return nil
}

func (ws *wsStream) Close() error {
	ws.close(nil)
	return nil
}

func (ws *wsStream) close(err error) {
	ws.closeOnce.Do(func() {
		aborted := false
		code := websocket.StatusNormalClosure

		switch {
		case err == nil:
			ws.logger.Debug("stream closed normally")
		case func() bool { closeErr, ok := errors.As[*websocket.CloseError](err); return ok && closeErr != nil }():
			closeErr, _ := errors.As[websocket.CloseError](err)
			ws.logger.Debug("stream closed by peer", log.Any("code", closeErr.Code))
			aborted = true
		case errors.Is(err, net.ErrClosed):
			aborted = true
		case errors.Is(err, ErrBufferFull):
			ws.logger.Warn("stream closed due to buffer full")
			code = websocket.StatusPolicyViolation
		default:
			ws.logger.Warn("stream closed due to unknown error", log.Error(err))
			code = websocket.StatusInternalError
		}

		if aborted {
			_ = ws.conn.CloseNow()
		} else {
			_ = ws.conn.Close(code, "bye")
		}
		if ws.cancel != nil {
			ws.cancel()
		}
	})
}

func (ws *wsStream) writePump(ctx context.Context) error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := ws.ping(ctx); err != nil {
				return err
			}
		case action, ok := <-ws.chBuf:
			if !ok {
				return net.ErrClosed
			}
			if err := action(); err != nil {
				return err
			}
		}
	}
}

func (ws *wsStream) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	return ws.conn.Ping(ctx)
}
