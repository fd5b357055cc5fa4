package log

import "time"

func StateTransition(from, to string, inPrev time.Duration) {
	if !ready() {
		return
	}
	diagLog.Info().
		Str("from", from).
		Str("to", to).
		Int64("in_prev_ms", inPrev.Milliseconds()).
		Msg("state_transition")
}

type VADData struct {
	TotalFrames    int
	SpeechFrames   int
	TotalSamples   int
	IgnoredSamples int
	PeakAbs        int
	RMS            float64
	SpeechRatio    float64
	RMSToPeak      float64
	AbsMeanToPeak  float64
	CrestFactor    float64
	DurationMs     int64
	Proceed        bool
}

func VADResult(d VADData) {
	if !ready() {
		return
	}
	diagLog.Info().
		Int("ignored_samples", d.IgnoredSamples).
		Int("total_samples", d.TotalSamples).
		Int("speech_frames", d.SpeechFrames).
		Int("total_frames", d.TotalFrames).
		Float64("ratio", d.SpeechRatio).
		Float64("rms", d.RMS).
		Int("peak_abs", d.PeakAbs).
		Float64("rms_peak", d.RMSToPeak).
		Float64("abs_mean_peak", d.AbsMeanToPeak).
		Float64("crest_factor", d.CrestFactor).
		Int64("duration_ms", d.DurationMs).
		Bool("proceed", d.Proceed).
		Msg("short_clip_vad")
}

type StreamMetricsData struct {
	SessionID    string
	ConnectMs    float64
	TotalMs      float64
	AudioS       float64
	SentChunks   int
	SentKB       float64
	DroppedIn    int
	RecvMessages int
	RecvDeltas   int
	RecvFinal    int
	Commits      int
}

func StreamMetrics(m StreamMetricsData) {
	if !ready() {
		return
	}
	diagLog.Info().
		Str("session", m.SessionID).
		Float64("connect_ms", m.ConnectMs).
		Float64("total_ms", m.TotalMs).
		Float64("audio_s", m.AudioS).
		Int("sent_chunks", m.SentChunks).
		Float64("sent_kb", m.SentKB).
		Int("dropped_in", m.DroppedIn).
		Int("recv_messages", m.RecvMessages).
		Int("recv_deltas", m.RecvDeltas).
		Int("recv_final", m.RecvFinal).
		Int("commits", m.Commits).
		Msg("stream_transcription")
}

func RecoveryAttempt(id string, attempt, max int, delay time.Duration, err error) {
	if !ready() {
		return
	}
	ev := diagLog.Warn().
		Str("id", id).
		Int("attempt", attempt).
		Int("max", max).
		Int64("delay_ms", delay.Milliseconds())
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg("stream_recovery")
}

type TranscriptionData struct {
	Provider     string
	Format       string
	AudioS       float64
	UploadKB     float64
	EncodeMs     float64
	DNSMs        float64
	TLSMs        float64
	TTFBMs       float64
	TotalMs      float64
	ConnReused   bool
	NoSpeechProb float64
	Chars        int
}

func TranscriptionMetrics(m TranscriptionData) {
	if !ready() {
		return
	}
	connStatus := "new"
	if m.ConnReused {
		connStatus = "reused"
	}
	diagLog.Info().
		Str("provider", m.Provider).
		Str("format", m.Format).
		Str("conn", connStatus).
		Float64("audio_s", m.AudioS).
		Float64("upload_kb", m.UploadKB).
		Float64("encode_ms", m.EncodeMs).
		Float64("dns_ms", m.DNSMs).
		Float64("tls_ms", m.TLSMs).
		Float64("ttfb_ms", m.TTFBMs).
		Float64("total_ms", m.TotalMs).
		Float64("no_speech_prob", m.NoSpeechProb).
		Int("chars", m.Chars).
		Msg("transcription")
}

func SettingsChanged(field string, old, new any) {
	if !ready() {
		return
	}
	diagLog.Info().
		Str("field", field).
		Interface("old", old).
		Interface("new", new).
		Msg("settings_changed")
}
