// Package gateway connects the relay to a chat platform bridge over a
// websocket. The bridge pushes user messages as frames and accepts reply
// frames (text, audio, image, presence) addressed to a chat.
//
// The client keeps one connection at a time and re-dials after failures
// until its context ends. Replies go through whichever connection is
// current when they are sent.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrNotConnected is returned when sending while no connection is up.
var ErrNotConnected = errors.New("gateway: not connected")

// Handler receives inbound messages. It is called from the connection's
// read loop and must not block for long.
type Handler interface {
	HandleInbound(ctx context.Context, in *Inbound, r *Replier)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, in *Inbound, r *Replier)

func (f HandlerFunc) HandleInbound(ctx context.Context, in *Inbound, r *Replier) {
	f(ctx, in, r)
}

// Config configures a Client.
type Config struct {
	// URL is the bridge websocket endpoint (ws:// or wss://). Required.
	URL string
	// Token is sent as a Bearer authorization header when set.
	Token string
	// Codec encodes outbound frames. Default JSON.
	Codec Codec

	// RedialDelay is the pause between connection attempts. Default 3s.
	RedialDelay time.Duration
	// PingInterval is the keepalive period. Default 30s.
	PingInterval time.Duration
	// WriteTimeout bounds a single frame write. Default 10s.
	WriteTimeout time.Duration

	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
	Logger *slog.Logger
}

// Client is a reconnecting gateway connection.
type Client struct {
	cfg    Config
	logger *slog.Logger

	mu   sync.Mutex
	sess *session
}

type session struct {
	conn    *websocket.Conn
	timeout time.Duration

	wmu sync.Mutex
}

func (s *session) write(messageType int, data []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(s.timeout))
	return s.conn.WriteMessage(messageType, data)
}

func (s *session) ping() error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.timeout))
}

// NewClient validates cfg and returns an unconnected client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("gateway: url is required")
	}
	if cfg.Codec == nil {
		cfg.Codec = JSON
	}
	if cfg.RedialDelay <= 0 {
		cfg.RedialDelay = 3 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, logger: logger.With("gateway", cfg.URL)}, nil
}

// Run connects and delivers inbound messages to h until ctx is done, then
// returns ctx.Err().
func (c *Client) Run(ctx context.Context, h Handler) error {
	for {
		err := c.runSession(ctx, h)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("gateway: disconnected", "error", err, "redial_in", c.cfg.RedialDelay)
		t := time.NewTimer(c.cfg.RedialDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (c *Client) runSession(ctx context.Context, h Handler) error {
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	conn, resp, err := c.cfg.Dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("gateway: dial: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("gateway: dial: %w", err)
	}
	sess := &session{conn: conn, timeout: c.cfg.WriteTimeout}
	c.setSession(sess)
	c.logger.Info("gateway: connected", "codec", c.cfg.Codec.Name())

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.keepalive(ctx, sess, done)
	}()
	defer func() {
		c.clearSession(sess)
		close(done)
		conn.Close()
		wg.Wait()
	}()

	readTimeout := 3 * c.cfg.PingInterval
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("gateway: read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		f, err := decodeFrame(mt, data)
		if err != nil {
			c.logger.Warn("gateway: dropping frame", "error", err)
			continue
		}
		switch f.Type {
		case TypeMessage:
			if f.From == "" {
				c.logger.Warn("gateway: message without sender", "id", f.ID)
				continue
			}
			h.HandleInbound(ctx, inboundFromFrame(f), c.Replier(f.From))
		case TypeError:
			c.logger.Error("gateway: bridge error", "id", f.ID, "error", f.Error)
		default:
			c.logger.Debug("gateway: ignoring frame", "type", f.Type, "id", f.ID)
		}
	}
}

// keepalive pings the bridge and closes the connection when ctx ends, which
// unblocks the read loop.
func (c *Client) keepalive(ctx context.Context, sess *session, done <-chan struct{}) {
	t := time.NewTicker(c.cfg.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			sess.wmu.Lock()
			sess.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			sess.wmu.Unlock()
			sess.conn.Close()
			return
		case <-t.C:
			if err := sess.ping(); err != nil {
				c.logger.Warn("gateway: ping failed", "error", err)
				sess.conn.Close()
				return
			}
		}
	}
}

func (c *Client) setSession(s *session) {
	c.mu.Lock()
	c.sess = s
	c.mu.Unlock()
}

func (c *Client) clearSession(s *session) {
	c.mu.Lock()
	if c.sess == s {
		c.sess = nil
	}
	c.mu.Unlock()
}

// Connected reports whether a connection is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess != nil
}

// Send writes a frame on the current connection. Frames without an ID get
// one.
func (c *Client) Send(ctx context.Context, f *Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return ErrNotConnected
	}
	if f.ID == "" {
		f.ID = newFrameID()
	}
	data, err := c.cfg.Codec.Marshal(f)
	if err != nil {
		return fmt.Errorf("gateway: encode %s frame: %w", f.Type, err)
	}
	if err := sess.write(c.cfg.Codec.MessageType(), data); err != nil {
		return fmt.Errorf("gateway: send %s frame: %w", f.Type, err)
	}
	return nil
}

// Replier returns a Replier addressing chat.
func (c *Client) Replier(chat string) *Replier {
	return &Replier{client: c, to: chat}
}
