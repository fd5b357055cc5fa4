package transcriber

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"
)

var (
	ErrNoAPIKey      = errors.New("transcriber: no API key")
	ErrUnknownFormat = errors.New("transcriber: unknown upload format")
)

type NetworkMetrics struct {
	DNS         time.Duration
	ConnWait    time.Duration
	TCP         time.Duration
	TLS         time.Duration
	ReqHeaders  time.Duration
	ReqBody     time.Duration
	TTFB        time.Duration
	Download    time.Duration
	Total       time.Duration
	ConnReused  bool
	TLSProtocol string
	// Retried is set when the first attempt died on a stale reused connection.
	Retried bool
}

func (m *NetworkMetrics) Sum() time.Duration {
	return m.ConnWait + m.DNS + m.TCP + m.TLS + m.ReqHeaders + m.ReqBody + m.TTFB + m.Download
}

func firstNonEmpty(h http.Header, keys ...string) string {
	for _, k := range keys {
		if v := h.Get(k); v != "" {
			return v
		}
	}
	return "?"
}

// Segment mirrors one entry of a verbose_json reply.
type Segment struct {
	Text             string  `json:"text"`
	NoSpeechProb     float64 `json:"no_speech_prob"`
	AvgLogProb       float64 `json:"avg_logprob"`
	CompressionRatio float64 `json:"compression_ratio"`
	Temperature      float64 `json:"temperature"`
	Start            float64 `json:"start"`
	End              float64 `json:"end"`
}

type Result struct {
	Text    string
	Metrics *NetworkMetrics
	// NoSpeechProb is the highest per-segment no-speech probability, nil
	// when the provider reports none.
	NoSpeechProb *float64
	RateLimit    string
	Confidence   float64
	AvgLogProb   float64
	Duration     float64
	Segments     []Segment
	Batch        *BatchStats
}

// Transcriber turns a finished recording into text.
type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, path string) (*Result, error)
}

type Config struct {
	Provider string // "openai", "groq", "deepgram" or "" for the first key found
	Language string
	Format   string // "flac" or "wav"
	// APIURL overrides the provider endpoint.
	APIURL string
}

type baseTranscriber struct {
	client *TracedClient
	apiURL string
	apiKey string
	lang   string
	format string
}

// Warm pre-opens the TLS connection while the user is still speaking and
// returns the handshake time.
func (b *baseTranscriber) Warm() time.Duration { return b.client.Warm(context.Background()) }

func (b *baseTranscriber) SetLanguage(lang string) { b.lang = lang }

func (b *baseTranscriber) GetLanguage() string { return b.lang }

func newBase(apiURL, override, apiKey string, cfg Config) baseTranscriber {
	if override != "" {
		apiURL = override
	}
	format := cfg.Format
	if format == "" {
		format = "flac"
	}
	return baseTranscriber{
		client: NewTracedClient(apiURL),
		apiURL: apiURL,
		apiKey: apiKey,
		lang:   cfg.Language,
		format: format,
	}
}

// New picks a backend from cfg.Provider and the API keys in the environment.
func New(cfg Config) (Transcriber, error) {
	switch cfg.Format {
	case "", "flac", "wav":
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, cfg.Format)
	}

	keys := map[string]string{
		"openai":   os.Getenv("OPENAI_API_KEY"),
		"groq":     os.Getenv("GROQ_API_KEY"),
		"deepgram": os.Getenv("DEEPGRAM_API_KEY"),
	}
	provider := cfg.Provider
	if provider == "" {
		for _, p := range []string{"openai", "groq", "deepgram"} {
			if keys[p] != "" {
				provider = p
				break
			}
		}
		if provider == "" {
			return nil, fmt.Errorf("%w: set OPENAI_API_KEY, GROQ_API_KEY or DEEPGRAM_API_KEY", ErrNoAPIKey)
		}
	}

	key, known := keys[provider]
	if !known {
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
	if key == "" {
		return nil, fmt.Errorf("%w for %s", ErrNoAPIKey, provider)
	}
	switch provider {
	case "groq":
		return NewGroq(key, cfg), nil
	case "deepgram":
		return NewDeepgram(key, cfg), nil
	default:
		return NewOpenAI(key, cfg), nil
	}
}
