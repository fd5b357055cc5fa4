package streaming

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"vokey/log"

	"nhooyr.io/websocket"
)

const (
	DialTimeout      = 10 * time.Second
	HandshakeTimeout = 5 * time.Second
	incomingCap      = 100
)

// DefaultBackoff holds the delays before each retry of the initial connect.
var DefaultBackoff = []time.Duration{200 * time.Millisecond, 500 * time.Millisecond, 1000 * time.Millisecond}

var (
	ErrMissingAPIKey    = errors.New("streaming: OPENAI_API_KEY not set")
	ErrHandshakeTimeout = errors.New("streaming: handshake timeout")
	ErrNotConnected     = errors.New("streaming: not connected")
	ErrClosedEarly      = errors.New("streaming: connection closed during handshake")
)

type Config struct {
	URL     string
	APIKey  string
	Model   string
	Backoff []time.Duration

	DialTimeout      time.Duration
	HandshakeTimeout time.Duration
	HTTPClient       *http.Client
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = RealtimeURL
	}
	if c.Model == "" {
		c.Model = TranscriptionModel
	}
	if c.Backoff == nil {
		c.Backoff = DefaultBackoff
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DialTimeout
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = HandshakeTimeout
	}
	return c
}

// Session is the part of a connected client the pipeline depends on.
type Session interface {
	SessionID() string
	SendAudio(ctx context.Context, samples []int16) error
	Commit(ctx context.Context) error
	TakeIncoming() (<-chan ServerEvent, bool)
	Close() error
}

// Client owns one realtime transcription connection. Sending and receiving
// run independently; the receive side is a goroutine feeding a channel that
// can be handed to another goroutine once via TakeIncoming.
type Client struct {
	conn      *websocket.Conn
	ctx       context.Context
	cancel    context.CancelFunc
	sessionID string

	incoming chan ServerEvent
	taken    atomic.Bool
	recvDone chan struct{}

	mu        sync.Mutex
	recvErr   error
	closed    bool
	closeOnce sync.Once
}

// Connect dials and completes the handshake, retrying the whole sequence
// len(cfg.Backoff) times. A session that drops later is never redialed.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	attempts := len(cfg.Backoff) + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := cfg.Backoff[attempt-1]
			log.Infof("realtime: retrying connect in %s (attempt %d/%d)", delay, attempt+1, attempts)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		c, err := dial(ctx, cfg)
		if err == nil {
			return c, nil
		}
		log.Warnf("realtime: connect attempt %d failed: %v", attempt+1, err)
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("realtime connect failed after %d attempts: %w", attempts, lastErr)
}

func dial(parent context.Context, cfg Config) (*Client, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+cfg.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	dialCtx, dialCancel := context.WithTimeout(parent, cfg.DialTimeout)
	conn, _, err := websocket.Dial(dialCtx, cfg.URL, &websocket.DialOptions{
		HTTPHeader: headers,
		HTTPClient: cfg.HTTPClient,
	})
	dialCancel()
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	conn.SetReadLimit(1 << 20)

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:     conn,
		ctx:      ctx,
		cancel:   cancel,
		incoming: make(chan ServerEvent, incomingCap),
		recvDone: make(chan struct{}),
	}

	id, err := c.awaitCreated(parent, cfg.HandshakeTimeout)
	if err != nil {
		cancel()
		conn.Close(websocket.StatusNormalClosure, "")
		return nil, err
	}
	c.sessionID = id
	log.Infof("realtime: session created %s", id)

	go c.receive()

	if err := c.configure(parent, cfg); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// awaitCreated reads frames directly until session.created arrives.
func (c *Client) awaitCreated(parent context.Context, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return "", fmt.Errorf("waiting for session.created: %w", ErrHandshakeTimeout)
			}
			return "", fmt.Errorf("waiting for session.created: %w", err)
		}
		ev, err := ParseServerEvent(data)
		if err != nil {
			log.Warnf("realtime: %v", err)
			continue
		}
		switch e := ev.(type) {
		case SessionCreated:
			return e.Session.ID, nil
		case ServerError:
			return "", fmt.Errorf("session rejected: %w", e.Err)
		}
	}
}

func (c *Client) configure(parent context.Context, cfg Config) error {
	msg, err := EncodeSessionUpdate(DefaultSessionConfig(cfg.Model))
	if err != nil {
		return err
	}
	if err := c.write(parent, msg); err != nil {
		return fmt.Errorf("session.update: %w", err)
	}

	timer := time.NewTimer(cfg.HandshakeTimeout)
	defer timer.Stop()
	for {
		select {
		case ev, ok := <-c.incoming:
			if !ok {
				return ErrClosedEarly
			}
			switch e := ev.(type) {
			case SessionUpdated:
				log.Infof("realtime: session configured %v", e.Session.Modalities)
				return nil
			case ServerError:
				return fmt.Errorf("session.update rejected: %w", e.Err)
			}
		case <-timer.C:
			return fmt.Errorf("waiting for session.updated: %w", ErrHandshakeTimeout)
		case <-parent.Done():
			return parent.Err()
		}
	}
}

func (c *Client) receive() {
	defer close(c.recvDone)
	defer close(c.incoming)
	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			if !closed {
				c.recvErr = err
			}
			c.mu.Unlock()
			if !closed {
				log.Warnf("realtime: receive ended: %v", err)
			}
			return
		}
		ev, err := ParseServerEvent(data)
		if err != nil {
			log.Warnf("realtime: %v", err)
			continue
		}
		select {
		case c.incoming <- ev:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) write(ctx context.Context, msg []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrNotConnected
	}
	return c.conn.Write(ctx, websocket.MessageText, msg)
}

func (c *Client) SessionID() string { return c.sessionID }

func (c *Client) SendAudio(ctx context.Context, samples []int16) error {
	msg, err := EncodeAudioAppend(samples)
	if err != nil {
		return err
	}
	return c.write(ctx, msg)
}

func (c *Client) Commit(ctx context.Context) error {
	msg, err := EncodeCommit()
	if err != nil {
		return err
	}
	return c.write(ctx, msg)
}

func (c *Client) Clear(ctx context.Context) error {
	msg, err := EncodeClear()
	if err != nil {
		return err
	}
	return c.write(ctx, msg)
}

// Recv returns the next inbound event. It reports false once the channel has
// been taken, the connection ended, or ctx is done.
func (c *Client) Recv(ctx context.Context) (ServerEvent, bool) {
	if c.taken.Load() {
		return nil, false
	}
	select {
	case ev, ok := <-c.incoming:
		return ev, ok
	case <-ctx.Done():
		return nil, false
	}
}

// TakeIncoming transfers the inbound channel to the caller. Only the first
// call succeeds.
func (c *Client) TakeIncoming() (<-chan ServerEvent, bool) {
	if !c.taken.CompareAndSwap(false, true) {
		return nil, false
	}
	return c.incoming, true
}

// Err returns the error that ended the receive loop, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recvErr
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.cancel()
		err = c.conn.Close(websocket.StatusNormalClosure, "")
		<-c.recvDone
	})
	return err
}
