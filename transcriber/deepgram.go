package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

const (
	deepgramAPIURL = "https://api.deepgram.com/v1/listen"
	deepgramModel  = "nova-3"
)

// Deepgram posts the raw recording body; it reports confidence instead of
// per-segment no-speech probabilities.
type Deepgram struct {
	baseTranscriber
}

func NewDeepgram(apiKey string, cfg Config) *Deepgram {
	return &Deepgram{baseTranscriber: newBase(deepgramAPIURL, cfg.APIURL, apiKey, cfg)}
}

func (d *Deepgram) Name() string { return "deepgram" }

type deepgramAlternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

type deepgramResponse struct {
	Metadata struct {
		Duration float64 `json:"duration"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			Alternatives []deepgramAlternative `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// best is the top alternative of the first channel; recordings are mono.
func (r *deepgramResponse) best() deepgramAlternative {
	if len(r.Results.Channels) == 0 || len(r.Results.Channels[0].Alternatives) == 0 {
		return deepgramAlternative{}
	}
	return r.Results.Channels[0].Alternatives[0]
}

type deepgramError struct {
	Code    string `json:"err_code"`
	Message string `json:"err_msg"`
}

func deepgramFailure(status int, body []byte) error {
	var e deepgramError
	if json.Unmarshal(body, &e) == nil && e.Message != "" {
		return fmt.Errorf("deepgram API error %d (%s): %s", status, e.Code, e.Message)
	}
	return fmt.Errorf("deepgram API error %d: %s", status, string(body))
}

func (d *Deepgram) endpoint() string {
	q := url.Values{
		"model":        {deepgramModel},
		"smart_format": {"true"},
	}
	if d.lang == "" {
		q.Set("detect_language", "true")
	} else {
		q.Set("language", d.lang)
	}
	return d.apiURL + "?" + q.Encode()
}

func deepgramRateLimit(h http.Header) string {
	remaining := firstNonEmpty(h, "x-dg-ratelimit-remaining", "x-ratelimit-remaining", "ratelimit-remaining")
	limit := firstNonEmpty(h, "x-dg-ratelimit-limit", "x-ratelimit-limit", "ratelimit-limit")
	return remaining + "/" + limit
}

func (d *Deepgram) Transcribe(ctx context.Context, path string) (*Result, error) {
	up, err := prepareUpload(path, d.format)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint(), bytes.NewReader(up.data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Token "+d.apiKey)
	req.Header.Set("Content-Type", up.contentType())

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, deepgramFailure(resp.StatusCode, resp.Body)
	}
	var parsed deepgramResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, fmt.Errorf("deepgram response parse error: %w", err)
	}
	alt := parsed.best()
	return finish(d.Name(), up, &Result{
		Text:       alt.Transcript,
		Metrics:    resp.Metrics,
		RateLimit:  deepgramRateLimit(resp.Header),
		Confidence: alt.Confidence,
		Duration:   parsed.Metadata.Duration,
	}), nil
}
