package streaming

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
)

const (
	RealtimeURL        = "wss://api.openai.com/v1/realtime?model=gpt-4o-realtime-preview-2024-12-17"
	TranscriptionModel = "whisper-1"
)

// Client message types.
const (
	TypeSessionUpdate = "session.update"
	TypeAudioAppend   = "input_audio_buffer.append"
	TypeAudioCommit   = "input_audio_buffer.commit"
	TypeAudioClear    = "input_audio_buffer.clear"
)

// Server message types.
const (
	TypeSessionCreated         = "session.created"
	TypeSessionUpdated         = "session.updated"
	TypeError                  = "error"
	TypeTranscriptionDelta     = "conversation.item.input_audio_transcription.delta"
	TypeTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	TypeAudioCommitted         = "input_audio_buffer.committed"
	TypeAudioCleared           = "input_audio_buffer.cleared"
	TypeSpeechStarted          = "input_audio_buffer.speech_started"
	TypeSpeechStopped          = "input_audio_buffer.speech_stopped"
)

type SessionConfig struct {
	Modalities              []string             `json:"modalities,omitempty"`
	InputAudioFormat        string               `json:"input_audio_format,omitempty"`
	InputAudioTranscription *TranscriptionConfig `json:"input_audio_transcription,omitempty"`
	// TurnDetection is always serialized; null disables server-side VAD.
	TurnDetection *TurnDetection `json:"turn_detection"`
}

type TranscriptionConfig struct {
	Model string `json:"model"`
}

type TurnDetection struct {
	Type string `json:"type"`
}

// DefaultSessionConfig asks for text-only transcription of pcm16 input with
// commits driven by the client.
func DefaultSessionConfig(model string) SessionConfig {
	if model == "" {
		model = TranscriptionModel
	}
	return SessionConfig{
		Modalities:              []string{"text"},
		InputAudioFormat:        "pcm16",
		InputAudioTranscription: &TranscriptionConfig{Model: model},
	}
}

type sessionUpdateMsg struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

type audioAppendMsg struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type bareMsg struct {
	Type string `json:"type"`
}

func EncodeSessionUpdate(cfg SessionConfig) ([]byte, error) {
	return json.Marshal(sessionUpdateMsg{Type: TypeSessionUpdate, Session: cfg})
}

func EncodeAudioAppend(samples []int16) ([]byte, error) {
	return json.Marshal(audioAppendMsg{Type: TypeAudioAppend, Audio: EncodePCM16(samples)})
}

func EncodeCommit() ([]byte, error) {
	return json.Marshal(bareMsg{Type: TypeAudioCommit})
}

func EncodeClear() ([]byte, error) {
	return json.Marshal(bareMsg{Type: TypeAudioClear})
}

// EncodePCM16 returns base64 of the samples as little-endian 16-bit PCM.
func EncodePCM16(samples []int16) string {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

func DecodePCM16(s string) ([]int16, error) {
	buf, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(buf)%2 != 0 {
		return nil, fmt.Errorf("odd pcm16 payload length %d", len(buf))
	}
	out := make([]int16, len(buf)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(buf[i*2:]))
	}
	return out, nil
}

type SessionInfo struct {
	ID         string   `json:"id"`
	Model      string   `json:"model,omitempty"`
	Modalities []string `json:"modalities,omitempty"`
}

type ErrorInfo struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e ErrorInfo) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ServerEvent is one parsed inbound message.
type ServerEvent interface {
	EventType() string
}

type SessionCreated struct{ Session SessionInfo }
type SessionUpdated struct{ Session SessionInfo }
type ServerError struct{ Err ErrorInfo }
type TranscriptionDelta struct {
	ItemID string
	Delta  string
}
type TranscriptionCompleted struct {
	ItemID     string
	Transcript string
}
type BufferCommitted struct {
	ItemID         string
	PreviousItemID string
}
type BufferCleared struct{}
type SpeechStarted struct{ AudioStartMs int64 }
type SpeechStopped struct{ AudioEndMs int64 }

// Unknown is any message whose type this client does not handle.
type Unknown struct{ Type string }

func (SessionCreated) EventType() string         { return TypeSessionCreated }
func (SessionUpdated) EventType() string         { return TypeSessionUpdated }
func (ServerError) EventType() string            { return TypeError }
func (TranscriptionDelta) EventType() string     { return TypeTranscriptionDelta }
func (TranscriptionCompleted) EventType() string { return TypeTranscriptionCompleted }
func (BufferCommitted) EventType() string        { return TypeAudioCommitted }
func (BufferCleared) EventType() string          { return TypeAudioCleared }
func (SpeechStarted) EventType() string          { return TypeSpeechStarted }
func (SpeechStopped) EventType() string          { return TypeSpeechStopped }
func (u Unknown) EventType() string              { return u.Type }

type envelope struct {
	Type string `json:"type"`
}

// ParseServerEvent decodes one inbound text frame. Only malformed JSON is an
// error; an unrecognized type yields Unknown without looking at its body.
func ParseServerEvent(data []byte) (ServerEvent, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse server event: %w", err)
	}

	var ev ServerEvent
	var err error
	switch env.Type {
	case TypeSessionCreated:
		var m struct {
			Session SessionInfo `json:"session"`
		}
		err = json.Unmarshal(data, &m)
		ev = SessionCreated{Session: m.Session}
	case TypeSessionUpdated:
		var m struct {
			Session SessionInfo `json:"session"`
		}
		err = json.Unmarshal(data, &m)
		ev = SessionUpdated{Session: m.Session}
	case TypeError:
		var m struct {
			Error ErrorInfo `json:"error"`
		}
		err = json.Unmarshal(data, &m)
		ev = ServerError{Err: m.Error}
	case TypeTranscriptionDelta:
		var m struct {
			ItemID string `json:"item_id"`
			Delta  string `json:"delta"`
		}
		err = json.Unmarshal(data, &m)
		ev = TranscriptionDelta{ItemID: m.ItemID, Delta: m.Delta}
	case TypeTranscriptionCompleted:
		var m struct {
			ItemID     string `json:"item_id"`
			Transcript string `json:"transcript"`
		}
		err = json.Unmarshal(data, &m)
		ev = TranscriptionCompleted{ItemID: m.ItemID, Transcript: m.Transcript}
	case TypeAudioCommitted:
		var m struct {
			ItemID         string `json:"item_id"`
			PreviousItemID string `json:"previous_item_id"`
		}
		err = json.Unmarshal(data, &m)
		ev = BufferCommitted{ItemID: m.ItemID, PreviousItemID: m.PreviousItemID}
	case TypeAudioCleared:
		ev = BufferCleared{}
	case TypeSpeechStarted:
		var m struct {
			AudioStartMs int64 `json:"audio_start_ms"`
		}
		err = json.Unmarshal(data, &m)
		ev = SpeechStarted{AudioStartMs: m.AudioStartMs}
	case TypeSpeechStopped:
		var m struct {
			AudioEndMs int64 `json:"audio_end_ms"`
		}
		err = json.Unmarshal(data, &m)
		ev = SpeechStopped{AudioEndMs: m.AudioEndMs}
	default:
		return Unknown{Type: env.Type}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", env.Type, err)
	}
	return ev, nil
}
