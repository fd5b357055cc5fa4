package transcriber

import (
	"fmt"
	"os"
	"strings"
	"time"

	"vokey/audio"
	"vokey/encoder"
	"vokey/log"
)

type BatchStats struct {
	AudioLengthS     float64
	RawSizeKB        float64
	CompressedSizeKB float64
	CompressionPct   float64
	EncodeTimeMs     float64
	DNSTimeMs        float64
	TLSTimeMs        float64
	TTFBMs           float64
	TotalTimeMs      float64
	ConnReused       bool
	TLSProtocol      string
	Format           string
}

// upload is a recording prepared for a single POST.
type upload struct {
	data       []byte
	format     string
	sampleRate int
	samples    uint64
	rawBytes   int
	encodeTime time.Duration
}

func (u *upload) contentType() string {
	if u.format == "flac" {
		return "audio/flac"
	}
	return "audio/wav"
}

func prepareUpload(path, format string) (*upload, error) {
	switch format {
	case "flac":
		res, err := encoder.EncodeFile(path)
		if err != nil {
			return nil, fmt.Errorf("encoding %s: %w", path, err)
		}
		return &upload{
			data:       res.Data,
			format:     res.Format,
			sampleRate: res.SampleRate,
			samples:    res.Samples,
			rawBytes:   res.RawBytes,
			encodeTime: res.EncodeTime,
		}, nil
	case "wav":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		samples, rate, err := audio.ReadWAV(path)
		if err != nil {
			return nil, err
		}
		return &upload{
			data:       data,
			format:     "wav",
			sampleRate: rate,
			samples:    uint64(len(samples)),
			rawBytes:   len(samples) * 2,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// finish fills in batch stats on a provider result and logs them.
func finish(provider string, up *upload, result *Result) *Result {
	result.Text = strings.TrimSpace(result.Text)

	encodedSize := float64(len(up.data))
	compressionPct := 0.0
	if up.rawBytes > 0 {
		compressionPct = (1.0 - encodedSize/float64(up.rawBytes)) * 100
	}
	audioDuration := 0.0
	if up.sampleRate > 0 {
		audioDuration = float64(up.samples) / float64(up.sampleRate)
	}
	net := result.Metrics
	if net == nil {
		net = &NetworkMetrics{}
	}

	result.Batch = &BatchStats{
		AudioLengthS:     audioDuration,
		RawSizeKB:        float64(up.rawBytes) / 1024,
		CompressedSizeKB: encodedSize / 1024,
		CompressionPct:   compressionPct,
		EncodeTimeMs:     float64(up.encodeTime.Milliseconds()),
		DNSTimeMs:        float64(net.DNS.Milliseconds()),
		TLSTimeMs:        float64(net.TLS.Milliseconds()),
		TTFBMs:           float64(net.TTFB.Milliseconds()),
		TotalTimeMs:      float64(net.Sum().Milliseconds()),
		ConnReused:       net.ConnReused,
		TLSProtocol:      net.TLSProtocol,
		Format:           up.format,
	}

	nsp := 0.0
	if result.NoSpeechProb != nil {
		nsp = *result.NoSpeechProb
	}
	log.TranscriptionMetrics(log.TranscriptionData{
		Provider:     provider,
		Format:       up.format,
		AudioS:       audioDuration,
		UploadKB:     encodedSize / 1024,
		EncodeMs:     float64(up.encodeTime.Milliseconds()),
		DNSMs:        float64(net.DNS.Milliseconds()),
		TLSMs:        float64(net.TLS.Milliseconds()),
		TTFBMs:       float64(net.TTFB.Milliseconds()),
		TotalMs:      float64(net.Sum().Milliseconds()),
		ConnReused:   net.ConnReused,
		NoSpeechProb: nsp,
		Chars:        len(result.Text),
	})
	return result
}

// FormatMetrics renders a result's timings as aligned lines for the TUI.
func FormatMetrics(result *Result) []string {
	if result == nil || result.Batch == nil {
		return nil
	}
	b := result.Batch
	metrics := result.Metrics
	if metrics == nil {
		metrics = &NetworkMetrics{}
	}

	reusedStatus := ""
	if metrics.ConnReused {
		reusedStatus = " (reused)"
	}

	lines := []string{
		fmt.Sprintf("audio:      %.1fs | %.1f KB → %.1f KB (%.0f%% smaller)",
			b.AudioLengthS, b.RawSizeKB, b.CompressedSizeKB, b.CompressionPct),
		fmt.Sprintf("format:     %s", b.Format),
		fmt.Sprintf("encode:     %.0fms", b.EncodeTimeMs),
		fmt.Sprintf("conn_wait:  %dms%s", metrics.ConnWait.Milliseconds(), reusedStatus),
		fmt.Sprintf("dns:        %dms", metrics.DNS.Milliseconds()),
		fmt.Sprintf("tcp:        %dms", metrics.TCP.Milliseconds()),
		fmt.Sprintf("tls:        %dms", metrics.TLS.Milliseconds()),
		fmt.Sprintf("req_head:   %dms", metrics.ReqHeaders.Milliseconds()),
		fmt.Sprintf("req_body:   %dms", metrics.ReqBody.Milliseconds()),
		fmt.Sprintf("ttfb:       %dms", metrics.TTFB.Milliseconds()),
		fmt.Sprintf("download:   %dms", metrics.Download.Milliseconds()),
		fmt.Sprintf("total:      %dms", metrics.Sum().Milliseconds()),
	}
	if result.Duration > 0 {
		lines = append(lines, fmt.Sprintf("api_dur:    %.2fs", result.Duration))
	}
	if result.NoSpeechProb != nil {
		lines = append(lines, fmt.Sprintf("no_speech:  %.3f", *result.NoSpeechProb))
	}
	if result.Confidence > 0 {
		lines = append(lines, fmt.Sprintf("confidence: %.4f", result.Confidence))
	}
	return lines
}
