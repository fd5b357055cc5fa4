package transcriber

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"vokey/audio"
)

func TestNetworkMetricsSum(t *testing.T) {
	m := &NetworkMetrics{
		ConnWait:   10 * time.Millisecond,
		DNS:        20 * time.Millisecond,
		TCP:        30 * time.Millisecond,
		TLS:        40 * time.Millisecond,
		ReqHeaders: 5 * time.Millisecond,
		ReqBody:    15 * time.Millisecond,
		TTFB:       50 * time.Millisecond,
		Download:   25 * time.Millisecond,
	}
	got := m.Sum()
	want := 195 * time.Millisecond
	if got != want {
		t.Errorf("Sum() = %v, want %v", got, want)
	}
}

func TestFirstNonEmpty(t *testing.T) {
	h := http.Header{}
	h.Set("X-Rate-Limit", "100")

	if got := firstNonEmpty(h, "X-Missing", "X-Rate-Limit"); got != "100" {
		t.Errorf("got %q, want %q", got, "100")
	}
	if got := firstNonEmpty(h, "X-A", "X-B"); got != "?" {
		t.Errorf("got %q, want %q", got, "?")
	}
}

func writeRecording(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rec.wav")
	w, err := audio.CreateWriter(path, 16000)
	if err != nil {
		t.Fatal(err)
	}
	samples := make([]int16, 8000)
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(2*math.Pi*200*float64(i)/16000))
	}
	if err := w.Write(samples); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Finalize(); err != nil {
		t.Fatal(err)
	}
	return path
}

type captured struct {
	auth     string
	fields   map[string]string
	filename string
	fileLen  int
}

func whisperServer(t *testing.T, status int, reply any) (*httptest.Server, *captured) {
	t.Helper()
	c := &captured{fields: map[string]string{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "HEAD" {
			return
		}
		c.auth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Errorf("parsing form: %v", err)
		}
		for k, v := range r.MultipartForm.Value {
			c.fields[k] = v[0]
		}
		if fh := r.MultipartForm.File["file"]; len(fh) > 0 {
			c.filename = fh[0].Filename
			f, _ := fh[0].Open()
			data, _ := io.ReadAll(f)
			c.fileLen = len(data)
		}
		w.Header().Set("x-ratelimit-remaining-requests", "99")
		w.Header().Set("x-ratelimit-limit-requests", "100")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(reply)
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

func TestOpenAITranscribe(t *testing.T) {
	srv, c := whisperServer(t, http.StatusOK, map[string]any{
		"text":     "  hello world ",
		"duration": 0.5,
		"segments": []map[string]any{
			{"text": "hello", "no_speech_prob": 0.1, "avg_logprob": -0.2},
			{"text": "world", "no_speech_prob": 0.3, "avg_logprob": -0.4},
		},
	})

	o := NewOpenAI("sk-test", Config{APIURL: srv.URL, Language: "en"})
	res, err := o.Transcribe(context.Background(), writeRecording(t))
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "hello world" {
		t.Errorf("Text = %q", res.Text)
	}
	if res.NoSpeechProb == nil || *res.NoSpeechProb != 0.3 {
		t.Errorf("NoSpeechProb = %v, want max segment 0.3", res.NoSpeechProb)
	}
	if math.Abs(res.AvgLogProb+0.3) > 1e-9 {
		t.Errorf("AvgLogProb = %v", res.AvgLogProb)
	}
	if len(res.Segments) != 2 || res.RateLimit != "99/100" {
		t.Errorf("segments=%d ratelimit=%q", len(res.Segments), res.RateLimit)
	}
	if res.Batch == nil || res.Batch.Format != "flac" || res.Batch.AudioLengthS != 0.5 {
		t.Errorf("Batch = %+v", res.Batch)
	}

	if c.auth != "Bearer sk-test" {
		t.Errorf("auth = %q", c.auth)
	}
	want := map[string]string{
		"model":           "whisper-1",
		"response_format": "verbose_json",
		"temperature":     "0",
		"language":        "en",
	}
	for k, v := range want {
		if c.fields[k] != v {
			t.Errorf("field %s = %q, want %q", k, c.fields[k], v)
		}
	}
	if c.filename != "audio.flac" || c.fileLen == 0 {
		t.Errorf("file = %q (%d bytes)", c.filename, c.fileLen)
	}
}

func TestGroqUploadsWAV(t *testing.T) {
	srv, c := whisperServer(t, http.StatusOK, map[string]any{"text": "hi"})
	path := writeRecording(t)

	g := NewGroq("gsk", Config{APIURL: srv.URL, Format: "wav"})
	res, err := g.Transcribe(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if c.fields["model"] != "whisper-large-v3-turbo" {
		t.Errorf("model = %q", c.fields["model"])
	}
	if _, ok := c.fields["language"]; ok {
		t.Error("language sent without being configured")
	}
	if c.filename != "audio.wav" || c.fileLen != audio.WAVHeaderSize+16000 {
		t.Errorf("file = %q (%d bytes)", c.filename, c.fileLen)
	}
	if res.NoSpeechProb != nil {
		t.Errorf("NoSpeechProb = %v, want nil without segments", *res.NoSpeechProb)
	}
}

func TestTranscribeAPIError(t *testing.T) {
	srv, _ := whisperServer(t, http.StatusUnauthorized, map[string]any{"error": "bad key"})
	o := NewOpenAI("sk", Config{APIURL: srv.URL})
	_, err := o.Transcribe(context.Background(), writeRecording(t))
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Errorf("err = %v, want 401", err)
	}
}

func TestTranscribeAPIErrorMessage(t *testing.T) {
	srv, _ := whisperServer(t, http.StatusBadRequest, map[string]any{
		"error": map[string]any{"message": "file too short"},
	})
	g := NewGroq("gsk", Config{APIURL: srv.URL})
	_, err := g.Transcribe(context.Background(), writeRecording(t))
	if err == nil || err.Error() != "groq API error 400: file too short" {
		t.Errorf("err = %v", err)
	}
}

func TestTranscribeMissingFile(t *testing.T) {
	o := NewOpenAI("sk", Config{APIURL: "http://127.0.0.1:1"})
	if _, err := o.Transcribe(context.Background(), filepath.Join(t.TempDir(), "nope.wav")); err == nil {
		t.Error("missing recording accepted")
	}
}

func TestTranscribeCanceled(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	o := NewOpenAI("sk", Config{APIURL: srv.URL})
	if _, err := o.Transcribe(ctx, writeRecording(t)); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestDeepgramTranscribe(t *testing.T) {
	var gotQuery, gotAuth, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		w.Write([]byte(`{"metadata":{"duration":0.5},"results":{"channels":[{"alternatives":[{"transcript":"deep words","confidence":0.93}]}]}}`))
	}))
	defer srv.Close()

	d := NewDeepgram("dg", Config{APIURL: srv.URL, Language: "de"})
	res, err := d.Transcribe(context.Background(), writeRecording(t))
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "deep words" || res.Confidence != 0.93 {
		t.Errorf("result = %+v", res)
	}
	if gotAuth != "Token dg" || gotType != "audio/flac" {
		t.Errorf("auth=%q type=%q", gotAuth, gotType)
	}
	if !strings.Contains(gotQuery, "language=de") || !strings.Contains(gotQuery, "model=nova-3") {
		t.Errorf("query = %q", gotQuery)
	}
}

func TestDeepgramErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"err_code":"INVALID_AUTH","err_msg":"bad key"}`))
	}))
	defer srv.Close()

	d := NewDeepgram("dg", Config{APIURL: srv.URL})
	_, err := d.Transcribe(context.Background(), writeRecording(t))
	if err == nil || !strings.Contains(err.Error(), "INVALID_AUTH") || !strings.Contains(err.Error(), "bad key") {
		t.Errorf("err = %v", err)
	}
}

func TestDeepgramEmptyResults(t *testing.T) {
	var r deepgramResponse
	if alt := r.best(); alt.Transcript != "" || alt.Confidence != 0 {
		t.Errorf("best = %+v", alt)
	}
}

func TestNewPicksProvider(t *testing.T) {
	tests := []struct {
		name     string
		env      map[string]string
		provider string
		want     string
		wantErr  error
	}{
		{"openai first", map[string]string{"OPENAI_API_KEY": "a", "GROQ_API_KEY": "b"}, "", "openai", nil},
		{"groq only", map[string]string{"GROQ_API_KEY": "b"}, "", "groq", nil},
		{"explicit deepgram", map[string]string{"OPENAI_API_KEY": "a", "DEEPGRAM_API_KEY": "c"}, "deepgram", "deepgram", nil},
		{"no keys", nil, "", "", ErrNoAPIKey},
		{"explicit without key", map[string]string{"OPENAI_API_KEY": "a"}, "groq", "", ErrNoAPIKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"OPENAI_API_KEY", "GROQ_API_KEY", "DEEPGRAM_API_KEY"} {
				t.Setenv(k, tt.env[k])
			}
			tr, err := New(Config{Provider: tt.provider})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if tr.Name() != tt.want {
				t.Errorf("Name() = %q, want %q", tr.Name(), tt.want)
			}
		})
	}

	t.Run("unknown format", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "a")
		if _, err := New(Config{Format: "ogg"}); !errors.Is(err, ErrUnknownFormat) {
			t.Errorf("err = %v", err)
		}
	})
}

func TestFormatMetrics(t *testing.T) {
	p := 0.25
	lines := FormatMetrics(&Result{
		Metrics:      &NetworkMetrics{TTFB: 10 * time.Millisecond, ConnReused: true},
		NoSpeechProb: &p,
		Batch:        &BatchStats{AudioLengthS: 1.5, Format: "flac"},
	})
	joined := strings.Join(lines, "\n")
	for _, want := range []string{"format:     flac", "(reused)", "ttfb:       10ms", "no_speech:  0.250"} {
		if !strings.Contains(joined, want) {
			t.Errorf("missing %q in:\n%s", want, joined)
		}
	}
	if FormatMetrics(&Result{}) != nil {
		t.Error("expected nil lines without batch stats")
	}
}

func TestFakeRecordsCalls(t *testing.T) {
	f := NewFake("canned", nil).WithNoSpeechProb(0.9)
	res, err := f.Transcribe(context.Background(), "/tmp/a.wav")
	if err != nil || res.Text != "canned" || *res.NoSpeechProb != 0.9 {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	if calls := f.Calls(); len(calls) != 1 || calls[0] != "/tmp/a.wav" {
		t.Errorf("calls = %v", calls)
	}

	boom := errors.New("boom")
	if _, err := NewFake("", boom).Transcribe(context.Background(), "x"); !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
}

func TestTracedClientRetriesStaleConn(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		io.Copy(io.Discard, r.Body)
		if n == 2 {
			// simulate a server that dropped the idle keep-alive connection
			conn, _, err := w.(http.Hijacker).Hijack()
			if err == nil {
				conn.Close()
			}
			return
		}
		w.Write([]byte(`{"text":"ok"}`))
	}))
	defer srv.Close()

	c := NewTracedClient("")
	post := func() (*TracedResponse, error) {
		req, err := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader("audio"))
		if err != nil {
			t.Fatal(err)
		}
		return c.Do(req)
	}

	first, err := post()
	if err != nil {
		t.Fatal(err)
	}
	if first.Metrics.Retried {
		t.Error("first request marked as retried")
	}

	second, err := post()
	if err != nil {
		t.Fatalf("request on stale connection failed: %v", err)
	}
	if !second.Metrics.Retried || string(second.Body) != `{"text":"ok"}` {
		t.Errorf("second = %+v body %q", second.Metrics, second.Body)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("server saw %d requests, want 3", n)
	}
}

func TestTracedClientCapsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, maxResponseBytes+10))
	}))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	if _, err := NewTracedClient("").Do(req); err == nil {
		t.Error("oversized body accepted")
	}
}

func TestWarmUnreachable(t *testing.T) {
	c := NewTracedClient("http://127.0.0.1:1")
	if d := c.Warm(context.Background()); d != 0 {
		t.Errorf("Warm = %s, want 0", d)
	}
	if d := NewTracedClient("").Warm(context.Background()); d != 0 {
		t.Errorf("Warm without URL = %s", d)
	}
}
