// Package gateway maintains the persistent connection to the application
// gateway: voice server announcements and voice-state events flow in, this
// client's voice-state updates flow out.
package gateway

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/imtaco/voice-client-exp/internal/errors"
	"github.com/imtaco/voice-client-exp/internal/log"
	"github.com/imtaco/voice-client-exp/voice"
)

const (
	ErrNotConnected errors.Code = "gateway_not_connected"
	ErrBadURL       errors.Code = "gateway_bad_url"
)

const (
	opVoiceServerUpdate = "VoiceServerUpdate"
	opVoiceStateSync    = "VoiceStateSync"
	opVoiceStateUpdate  = "VoiceStateUpdate"

	dialTimeout  = 10 * time.Second
	writeTimeout = 5 * time.Second
)

type Config struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`

	SendRate  float64 `mapstructure:"send_rate"`
	SendBurst int     `mapstructure:"send_burst"`

	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

func Setup(v *viper.Viper, prefix string) {
	p := func(key string) string { return prefix + "." + key }

	v.SetDefault(p("url"), "")
	v.SetDefault(p("token"), "")
	v.SetDefault(p("send_rate"), 2.0)
	v.SetDefault(p("send_burst"), 5)
	v.SetDefault(p("initial_backoff"), "500ms")
	v.SetDefault(p("max_backoff"), "15s")
}

// event is the gateway's wire envelope in both directions.
type event struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data,omitempty"`
}

type stateSyncBody struct {
	ChannelID voice.ChannelID `json:"channelId"`
	States    []voice.State   `json:"states"`
}

// Client implements voice.Gateway over a websocket that reconnects forever
// with exponential backoff. Outgoing updates are rate limited; bursts of
// mute toggles must not flood the gateway.
type Client struct {
	cfg     *Config
	sink    voice.EventSink
	logger  *log.Logger
	limiter *rate.Limiter

	mu   sync.Mutex
	conn *websocket.Conn
}

func New(cfg *Config, sink voice.EventSink, logger *log.Logger) *Client {
	if cfg == nil || sink == nil || logger == nil {
		panic("gateway: config, sink and logger are required")
	}
	return &Client{
		cfg:     cfg,
		sink:    sink,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(cfg.SendRate), cfg.SendBurst),
	}
}

// Run keeps the gateway connection alive until the context ends. Dial
// failures and dropped connections retry forever with backoff; the backoff
// resets after each successful dial.
func (c *Client) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff
	b.MaxInterval = c.cfg.MaxBackoff
	b.MaxElapsedTime = 0

	for {
		conn, err := c.dial(ctx)
		if err == nil {
			b.Reset()
			c.setConn(conn)
			err = c.readLoop(ctx, conn)
			c.setConn(nil)
			_ = conn.Close(websocket.StatusNormalClosure, "bye")
			reconnects.Add(ctx, 1)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("gateway connection lost, retrying", log.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.NextBackOff()):
		}
	}
}

// SendVoiceState broadcasts this client's voice state to the gateway.
func (c *Client) SendVoiceState(ctx context.Context, cmd voice.StateCommand) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(ErrNotConnected, err, "rate limit wait")
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New(ErrNotConnected, "gateway connection is down")
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return errors.Wrap(ErrNotConnected, err, "encode voice state")
	}

	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(wctx, conn, &event{Op: opVoiceStateUpdate, Data: data}); err != nil {
		return errors.Wrap(ErrNotConnected, err, "send voice state")
	}
	updatesSent.Add(ctx, 1)
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, errors.Wrap(ErrBadURL, err, "parse gateway url")
	}
	q := u.Query()
	q.Set("token", c.cfg.Token)
	u.RawQuery = q.Encode()

	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	c.logger.Info("gateway connected", log.String("url", c.cfg.URL))
	return conn, nil
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		var evt event
		if err := wsjson.Read(ctx, conn, &evt); err != nil {
			return err
		}
		eventsReceived.Add(ctx, 1)
		c.dispatch(evt)
	}
}

func (c *Client) dispatch(evt event) {
	switch evt.Op {
	case opVoiceServerUpdate:
		var update voice.ServerUpdate
		if err := json.Unmarshal(evt.Data, &update); err != nil {
			c.logger.Warn("bad VoiceServerUpdate event", log.Error(err))
			return
		}
		c.sink.OnVoiceServerUpdate(update)

	case opVoiceStateSync:
		var body stateSyncBody
		if err := json.Unmarshal(evt.Data, &body); err != nil {
			c.logger.Warn("bad VoiceStateSync event", log.Error(err))
			return
		}
		c.sink.OnVoiceStateSync(body.ChannelID, body.States)

	case opVoiceStateUpdate:
		var state voice.State
		if err := json.Unmarshal(evt.Data, &state); err != nil {
			c.logger.Warn("bad VoiceStateUpdate event", log.Error(err))
			return
		}
		c.sink.OnVoiceStateUpdate(state)

	default:
		c.logger.Debug("unhandled gateway event", log.String("op", evt.Op))
	}
}
