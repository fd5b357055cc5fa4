package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
)

const openAIURL = "https://api.openai.com/v1/audio/transcriptions"

type OpenAI struct {
	baseTranscriber
}

func NewOpenAI(apiKey string, cfg Config) *OpenAI {
	return &OpenAI{baseTranscriber: newBase(openAIURL, cfg.APIURL, apiKey, cfg)}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Transcribe(ctx context.Context, path string) (*Result, error) {
	up, err := prepareUpload(path, o.format)
	if err != nil {
		return nil, err
	}
	res, err := whisperRequest(ctx, &o.baseTranscriber, o.Name(), "whisper-1", up)
	if err != nil {
		return nil, err
	}
	return finish(o.Name(), up, res), nil
}

type whisperResponse struct {
	Text     string    `json:"text"`
	Duration float64   `json:"duration"`
	Segments []Segment `json:"segments"`
}

// scores returns the worst segment's no-speech probability and the mean
// log probability. The probability is nil without segments.
func (r *whisperResponse) scores() (*float64, float64) {
	if len(r.Segments) == 0 {
		return nil, 0
	}
	var worst, sum float64
	for _, seg := range r.Segments {
		worst = max(worst, seg.NoSpeechProb)
		sum += seg.AvgLogProb
	}
	return &worst, sum / float64(len(r.Segments))
}

// whisperForm builds the multipart body shared by OpenAI-compatible
// endpoints.
func whisperForm(up *upload, model, lang string) ([]byte, string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", "audio."+up.format)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(up.data); err != nil {
		return nil, "", err
	}
	fields := [][2]string{
		{"model", model},
		{"response_format", "verbose_json"},
		{"temperature", "0"},
	}
	if lang != "" {
		fields = append(fields, [2]string{"language", lang})
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return body.Bytes(), w.FormDataContentType(), nil
}

// whisperFailure prefers the message of an {"error":{"message":...}} body.
func whisperFailure(provider string, status int, body []byte) error {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error.Message != "" {
		return fmt.Errorf("%s API error %d: %s", provider, status, e.Error.Message)
	}
	return fmt.Errorf("%s API error %d: %s", provider, status, bytes.TrimSpace(body))
}

// whisperRequest posts an upload to an OpenAI-compatible transcription
// endpoint and parses its verbose_json reply.
func whisperRequest(ctx context.Context, b *baseTranscriber, provider, model string, up *upload) (*Result, error) {
	form, contentType, err := whisperForm(up, model, b.lang)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.apiURL, bytes.NewReader(form))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+b.apiKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, whisperFailure(provider, resp.StatusCode, resp.Body)
	}
	var parsed whisperResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, fmt.Errorf("%s response parse error: %w", provider, err)
	}
	noSpeech, avgLogProb := parsed.scores()
	return &Result{
		Text:         parsed.Text,
		Metrics:      resp.Metrics,
		RateLimit:    firstNonEmpty(resp.Header, "x-ratelimit-remaining-requests") + "/" + firstNonEmpty(resp.Header, "x-ratelimit-limit-requests"),
		NoSpeechProb: noSpeech,
		AvgLogProb:   avgLogProb,
		Duration:     parsed.Duration,
		Segments:     parsed.Segments,
	}, nil
}
