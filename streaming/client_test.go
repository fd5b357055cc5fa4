package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

// fakeRealtime speaks enough of the realtime protocol for client tests.
type fakeRealtime struct {
	srv *httptest.Server

	// skipCreated makes the server never send session.created.
	skipCreated bool
	rejectAuth  bool
	// failFirst rejects this many upgrade attempts with 503.
	failFirst int32

	attempts atomic.Int32
	mu       sync.Mutex
	received []string
	appended int
	header   http.Header
}

func newFakeRealtime(t *testing.T, configure func(f *fakeRealtime)) *fakeRealtime {
	t.Helper()
	f := &fakeRealtime{}
	if configure != nil {
		configure(f)
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeRealtime) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *fakeRealtime) config() Config {
	return Config{
		URL:              f.url(),
		APIKey:           "sk-test",
		Backoff:          []time.Duration{time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond},
		HandshakeTimeout: 300 * time.Millisecond,
	}
}

func (f *fakeRealtime) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.received...)
}

func (f *fakeRealtime) handle(w http.ResponseWriter, r *http.Request) {
	n := f.attempts.Add(1)
	if n <= f.failFirst {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	f.mu.Lock()
	f.header = r.Header.Clone()
	f.mu.Unlock()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	ctx := r.Context()

	send := func(v any) {
		data, _ := json.Marshal(v)
		conn.Write(ctx, websocket.MessageText, data)
	}

	if f.rejectAuth {
		send(map[string]any{"type": "error", "error": map[string]any{"type": "invalid_request_error", "code": "invalid_api_key", "message": "Incorrect API key"}})
		return
	}
	if !f.skipCreated {
		send(map[string]any{"type": "rate_limits.updated"})
		send(map[string]any{"type": "session.created", "session": map[string]any{"id": "sess_fake"}})
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg struct {
			Type string `json:"type"`
		}
		json.Unmarshal(data, &msg)
		f.mu.Lock()
		f.received = append(f.received, msg.Type)
		if msg.Type == TypeAudioAppend {
			f.appended++
		}
		f.mu.Unlock()

		switch msg.Type {
		case TypeSessionUpdate:
			send(map[string]any{"type": "session.updated", "session": map[string]any{"id": "sess_fake", "modalities": []string{"text"}}})
		case TypeAudioCommit:
			send(map[string]any{"type": TypeAudioCommitted, "item_id": "it_1"})
			send(map[string]any{"type": TypeTranscriptionDelta, "item_id": "it_1", "delta": "Hello"})
			send(map[string]any{"type": TypeTranscriptionDelta, "item_id": "it_1", "delta": " world"})
			send(map[string]any{"type": TypeTranscriptionCompleted, "item_id": "it_1", "transcript": "Hello world."})
		}
	}
}

func TestConnectHandshake(t *testing.T) {
	f := newFakeRealtime(t, nil)
	c, err := Connect(context.Background(), f.config())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if c.SessionID() != "sess_fake" {
		t.Errorf("session id = %q", c.SessionID())
	}
	f.mu.Lock()
	auth := f.header.Get("Authorization")
	beta := f.header.Get("OpenAI-Beta")
	f.mu.Unlock()
	if auth != "Bearer sk-test" || beta != "realtime=v1" {
		t.Errorf("headers: auth=%q beta=%q", auth, beta)
	}
	if got := f.types(); len(got) != 1 || got[0] != TypeSessionUpdate {
		t.Errorf("server received %v", got)
	}
}

func TestConnectMissingKey(t *testing.T) {
	_, err := Connect(context.Background(), Config{URL: "ws://127.0.0.1:1"})
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("err = %v", err)
	}
}

func TestConnectRetriesThenSucceeds(t *testing.T) {
	f := newFakeRealtime(t, func(f *fakeRealtime) { f.failFirst = 2 })
	c, err := Connect(context.Background(), f.config())
	if err != nil {
		t.Fatal(err)
	}
	c.Close()
	if n := f.attempts.Load(); n != 3 {
		t.Errorf("attempts = %d, want 3", n)
	}
}

func TestConnectGivesUpAfterRetries(t *testing.T) {
	f := newFakeRealtime(t, func(f *fakeRealtime) { f.failFirst = 100 })
	cfg := f.config()
	start := time.Now()
	_, err := Connect(context.Background(), cfg)
	if err == nil {
		t.Fatal("expected failure")
	}
	if n := f.attempts.Load(); n != 4 {
		t.Errorf("attempts = %d, want 1 + 3 retries", n)
	}
	if time.Since(start) < 6*time.Millisecond {
		t.Error("backoff delays were skipped")
	}
}

func TestConnectHandshakeTimeout(t *testing.T) {
	f := newFakeRealtime(t, func(f *fakeRealtime) { f.skipCreated = true })
	cfg := f.config()
	cfg.Backoff = []time.Duration{}
	_, err := Connect(context.Background(), cfg)
	if !errors.Is(err, ErrHandshakeTimeout) {
		t.Errorf("err = %v, want handshake timeout", err)
	}
}

func TestConnectRejected(t *testing.T) {
	f := newFakeRealtime(t, func(f *fakeRealtime) { f.rejectAuth = true })
	cfg := f.config()
	cfg.Backoff = []time.Duration{}
	_, err := Connect(context.Background(), cfg)
	if err == nil || !strings.Contains(err.Error(), "Incorrect API key") {
		t.Errorf("err = %v", err)
	}
}

func TestClientSendAndReceive(t *testing.T) {
	f := newFakeRealtime(t, nil)
	c, err := Connect(context.Background(), f.config())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := c.SendAudio(ctx, make([]int16, 2400)); err != nil {
		t.Fatal(err)
	}
	if err := c.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	agg := NewAggregator()
	for !agg.IsComplete() {
		ev, ok := c.Recv(ctx)
		if !ok {
			t.Fatal("receive ended before completion")
		}
		switch e := ev.(type) {
		case TranscriptionDelta:
			agg.ProcessDelta(e.Delta)
		case TranscriptionCompleted:
			agg.ProcessCompleted(e.Transcript)
		}
	}
	if agg.CurrentText() != "Hello world." || agg.DeltaCount() != 2 {
		t.Errorf("text %q deltas %d", agg.CurrentText(), agg.DeltaCount())
	}
}

func TestTakeIncomingOnce(t *testing.T) {
	f := newFakeRealtime(t, nil)
	c, err := Connect(context.Background(), f.config())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	ch, ok := c.TakeIncoming()
	if !ok || ch == nil {
		t.Fatal("first take failed")
	}
	if _, ok := c.TakeIncoming(); ok {
		t.Error("second take succeeded")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if ev, ok := c.Recv(ctx); ok || ev != nil {
		t.Errorf("Recv after take returned %v", ev)
	}

	c.Commit(context.Background())
	select {
	case ev := <-ch:
		if ev == nil {
			t.Error("nil event")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("taken channel received nothing")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	f := newFakeRealtime(t, nil)
	c, err := Connect(context.Background(), f.config())
	if err != nil {
		t.Fatal(err)
	}
	c.Close()
	c.Close()
	if err := c.SendAudio(context.Background(), []int16{1}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("send after close: %v", err)
	}
}
