package workflow

import "time"

type Effect interface {
	effect()
}

type StartAudio struct{ ID ID }

// StopAudio asks the capture thread to stop. Discard is set when the
// recording is abandoned and must not be gated or transcribed.
type StopAudio struct {
	ID      ID
	Discard bool
}

type StartTranscription struct {
	ID      ID
	Path    string
	Partial string
}

type CopyToClipboard struct {
	ID   ID
	Text string
}

type StartDoneTimeout struct {
	ID    ID
	After time.Duration
}

type StartRecordingTick struct{ ID ID }

type CleanupReason int

const (
	CleanupCancelled CleanupReason = iota
	CleanupFailed
	CleanupDismissed
)

func (r CleanupReason) String() string {
	switch r {
	case CleanupCancelled:
		return "cancelled"
	case CleanupFailed:
		return "failed"
	case CleanupDismissed:
		return "dismissed"
	}
	return "unknown"
}

// Cleanup releases whatever the recording still holds. Path is empty when no
// file was created yet.
type Cleanup struct {
	ID     ID
	Path   string
	Reason CleanupReason
}

// EmitUI asks the UI sink to render the current state.
type EmitUI struct{}

func (StartAudio) effect()         {}
func (StopAudio) effect()          {}
func (StartTranscription) effect() {}
func (CopyToClipboard) effect()    {}
func (StartDoneTimeout) effect()   {}
func (StartRecordingTick) effect() {}
func (Cleanup) effect()            {}
func (EmitUI) effect()             {}
