package transcriber

import "context"

const groqURL = "https://api.groq.com/openai/v1/audio/transcriptions"

type Groq struct {
	baseTranscriber
}

func NewGroq(apiKey string, cfg Config) *Groq {
	return &Groq{baseTranscriber: newBase(groqURL, cfg.APIURL, apiKey, cfg)}
}

func (g *Groq) Name() string { return "groq" }

func (g *Groq) Transcribe(ctx context.Context, path string) (*Result, error) {
	up, err := prepareUpload(path, g.format)
	if err != nil {
		return nil, err
	}
	res, err := whisperRequest(ctx, &g.baseTranscriber, g.Name(), "whisper-large-v3-turbo", up)
	if err != nil {
		return nil, err
	}
	return finish(g.Name(), up, res), nil
}
