// Package workflow holds the recording lifecycle as a pure reducer. Every
// other component either drives it with events or executes the effects it
// returns.
package workflow

import (
	"time"

	"github.com/google/uuid"
)

// ID correlates every command and event belonging to one recording attempt.
type ID = uuid.UUID

// NewID is swapped in tests that need deterministic ids.
var NewID = uuid.New

const (
	MaxRecording  = 120 * time.Second
	DismissAfter  = 3 * time.Second
	TickInterval  = time.Second
	LongRecording = 30 * time.Second
)

type NoSpeechSource int

const (
	DurationThreshold NoSpeechSource = iota
	ShortClipVAD
	ProviderNoSpeechProb
)

func (s NoSpeechSource) String() string {
	switch s {
	case DurationThreshold:
		return "duration"
	case ShortClipVAD:
		return "vad"
	case ProviderNoSpeechProb:
		return "openai"
	}
	return "unknown"
}

type State interface {
	Name() string
	recordingID() (ID, bool)
}

type Idle struct{}

type Arming struct {
	ID ID
}

type Recording struct {
	ID          ID
	Path        string
	StartedAt   time.Time
	PartialText string
}

type Stopping struct {
	ID          ID
	Path        string
	PartialText string
}

type Transcribing struct {
	ID          ID
	Path        string
	PartialText string
}

type NoSpeech struct {
	ID      ID
	Path    string
	Source  NoSpeechSource
	Message string
}

type Done struct {
	ID   ID
	Text string
}

type Error struct {
	Message      string
	LastGoodText string
}

func (Idle) Name() string         { return "idle" }
func (Arming) Name() string       { return "arming" }
func (Recording) Name() string    { return "recording" }
func (Stopping) Name() string     { return "stopping" }
func (Transcribing) Name() string { return "transcribing" }
func (NoSpeech) Name() string     { return "no_speech" }
func (Done) Name() string         { return "done" }
func (Error) Name() string        { return "error" }

func (Idle) recordingID() (ID, bool)           { return uuid.Nil, false }
func (s Arming) recordingID() (ID, bool)       { return s.ID, true }
func (s Recording) recordingID() (ID, bool)    { return s.ID, true }
func (s Stopping) recordingID() (ID, bool)     { return s.ID, true }
func (s Transcribing) recordingID() (ID, bool) { return s.ID, true }
func (s NoSpeech) recordingID() (ID, bool)     { return s.ID, true }
func (s Done) recordingID() (ID, bool)         { return s.ID, true }
func (Error) recordingID() (ID, bool)          { return uuid.Nil, false }

// CurrentID returns the recording id tracked by s, if any.
func CurrentID(s State) (ID, bool) {
	return s.recordingID()
}

// partialText is the best transcript known for s, used as the fallback
// carried into Error.
func partialText(s State) string {
	switch st := s.(type) {
	case Recording:
		return st.PartialText
	case Stopping:
		return st.PartialText
	case Transcribing:
		return st.PartialText
	}
	return ""
}
