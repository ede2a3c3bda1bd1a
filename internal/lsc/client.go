// Package lsc implements the Live Stream Client: an optional duplex
// session that receives events without requiring inbound HTTP,
// reconnecting with exponential backoff unless closed by the caller.
package lsc

import (
	"context"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// Handler processes one received event and reports a status and id
// back to the client for logging.
type Handler func(ctx context.Context, raw []byte) (status string, eventID string)

// Callbacks are the session lifecycle hooks.
type Callbacks struct {
	OnReady func(secret string)
	OnError func(err error)
	OnClose func(code int, reason string)
}

// Client maintains a duplex connection authenticated with an account's
// secret key, reconnecting with exponential backoff unless closed by the
// caller.
type Client struct {
	url       string
	secretKey string
	dialer    *websocket.Dialer
	handler   Handler
	callbacks Callbacks

	closed chan struct{}
}

// New constructs a Client that dials url, authenticating with secretKey.
func New(url, secretKey string, handler Handler, callbacks Callbacks) *Client {
	return &Client{
		url:       url,
		secretKey: secretKey,
		dialer:    websocket.DefaultDialer,
		handler:   handler,
		callbacks: callbacks,
		closed:    make(chan struct{}),
	}
}

// Run connects and processes events until ctx is canceled or Close is
// called, reconnecting with exponential backoff on any non-caller-
// initiated disconnect.
func (c *Client) Run(ctx context.Context) error {
	policy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	return backoff.Retry(func() error {
		select {
		case <-c.closed:
			return backoff.Permanent(nil)
		default:
		}

		err := c.runOnce(ctx)
		if err == nil {
			return nil
		}
		select {
		case <-c.closed:
			return backoff.Permanent(nil)
		default:
		}
		if c.callbacks.OnError != nil {
			c.callbacks.OnError(err)
		}
		log.WithError(err).Warn("live stream connection dropped, reconnecting")
		return err
	}, policy)
}

func (c *Client) runOnce(ctx context.Context) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.secretKey)

	conn, _, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return err
	}
	defer conn.Close()

	if c.callbacks.OnReady != nil {
		c.callbacks.OnReady(c.secretKey)
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-c.closed:
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		close(done)
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			closeErr, ok := err.(*websocket.CloseError)
			if ok && c.callbacks.OnClose != nil {
				c.callbacks.OnClose(closeErr.Code, closeErr.Text)
			}
			select {
			case <-done:
				return nil
			default:
				return err
			}
		}

		status, eventID := c.handler(ctx, raw)
		log.WithField("event_id", eventID).WithField("status", status).Debug("live stream event handled")
	}
}

// Close stops Run from reconnecting and closes the active connection.
func (c *Client) Close() {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
}
