package workflow

import "time"

type Event interface {
	event()
}

// Toggle is the user trigger: start from a resting state, stop while recording.
type Toggle struct{}

type Cancel struct{}

// Exit ends the state loop. The reducer itself ignores it.
type Exit struct{}

type DoneTimeout struct{ ID ID }

type RecordingTick struct {
	ID  ID
	Now time.Time
}

type AudioStartOk struct {
	ID   ID
	Path string
	At   time.Time
}

type AudioStartFail struct {
	ID  ID
	Err string
}

type AudioStopOk struct{ ID ID }

type AudioStopFail struct {
	ID  ID
	Err string
}

type NoSpeechDetected struct {
	ID      ID
	Source  NoSpeechSource
	Message string
}

type TranscribeOk struct {
	ID   ID
	Text string
}

// TranscribeFail carries Partial, the streaming transcript collected before
// the batch call failed.
type TranscribeFail struct {
	ID      ID
	Err     string
	Partial string
}

// AudioFailed reports a recording abandoned by the capture side after it
// started, for example when stream recovery gave up.
type AudioFailed struct {
	ID   ID
	Path string
	Err  string
}

// ForceError is accepted from any state. It carries no id and is meant for
// fault injection, not for outcomes of a specific recording.
type ForceError struct{ Message string }

// PartialDelta carries the aggregated streaming transcript so far.
type PartialDelta struct {
	ID   ID
	Text string
}

func (Toggle) event()           {}
func (Cancel) event()           {}
func (Exit) event()             {}
func (DoneTimeout) event()      {}
func (RecordingTick) event()    {}
func (AudioStartOk) event()     {}
func (AudioStartFail) event()   {}
func (AudioStopOk) event()      {}
func (AudioStopFail) event()    {}
func (NoSpeechDetected) event() {}
func (TranscribeOk) event()     {}
func (TranscribeFail) event()   {}
func (AudioFailed) event()      {}
func (ForceError) event()       {}
func (PartialDelta) event()     {}

// eventID returns the correlation id carried by ev. Trigger-style events
// carry none.
func eventID(ev Event) (ID, bool) {
	switch e := ev.(type) {
	case DoneTimeout:
		return e.ID, true
	case RecordingTick:
		return e.ID, true
	case AudioStartOk:
		return e.ID, true
	case AudioStartFail:
		return e.ID, true
	case AudioStopOk:
		return e.ID, true
	case AudioStopFail:
		return e.ID, true
	case NoSpeechDetected:
		return e.ID, true
	case TranscribeOk:
		return e.ID, true
	case TranscribeFail:
		return e.ID, true
	case AudioFailed:
		return e.ID, true
	case PartialDelta:
		return e.ID, true
	}
	var zero ID
	return zero, false
}

func EventName(ev Event) string {
	switch ev.(type) {
	case Toggle:
		return "toggle"
	case Cancel:
		return "cancel"
	case Exit:
		return "exit"
	case DoneTimeout:
		return "done_timeout"
	case RecordingTick:
		return "recording_tick"
	case AudioStartOk:
		return "audio_start_ok"
	case AudioStartFail:
		return "audio_start_fail"
	case AudioStopOk:
		return "audio_stop_ok"
	case AudioStopFail:
		return "audio_stop_fail"
	case NoSpeechDetected:
		return "no_speech_detected"
	case TranscribeOk:
		return "transcribe_ok"
	case TranscribeFail:
		return "transcribe_fail"
	case AudioFailed:
		return "audio_failed"
	case ForceError:
		return "force_error"
	case PartialDelta:
		return "partial_delta"
	}
	return "unknown"
}
