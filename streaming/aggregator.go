package streaming

import (
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"vokey/log"
)

// Aggregator merges streaming transcription events into the best text known
// so far. Deltas within a segment are appended verbatim. A completed event is
// authoritative for its segment and replaces that segment's deltas; text of
// earlier completed segments is kept as a prefix.
type Aggregator struct {
	mu         sync.Mutex
	committed  string // completed segments before the current one
	partial    string
	final      string
	complete   bool
	deltaCount int
}

func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// ProcessDelta appends delta and returns the current text. Empty deltas are
// ignored and not counted.
func (a *Aggregator) ProcessDelta(delta string) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	if delta == "" {
		return a.currentLocked()
	}
	if a.complete {
		// a new segment after a completed one
		a.committed = joinSegments(a.committed, a.final)
		a.final = ""
		a.partial = ""
		a.complete = false
	}
	a.partial += delta
	a.deltaCount++
	if a.deltaCount%10 == 0 {
		log.Debugf("aggregator: %d deltas, %d chars", a.deltaCount, len(a.partial))
	}
	return a.currentLocked()
}

func (a *Aggregator) ProcessCompleted(transcript string) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	log.Infof("aggregator: completed with %d chars (had %d deltas, %d partial chars)",
		len(transcript), a.deltaCount, len(a.partial))
	a.final = transcript
	a.partial = ""
	a.complete = true
	return a.currentLocked()
}

func (a *Aggregator) CurrentText() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentLocked()
}

func (a *Aggregator) currentLocked() string {
	if a.complete {
		return joinSegments(a.committed, a.final)
	}
	return joinSegments(a.committed, a.partial)
}

func (a *Aggregator) HasText() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.complete || a.partial != "" || a.committed != ""
}

func (a *Aggregator) IsComplete() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.complete
}

func (a *Aggregator) DeltaCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.deltaCount
}

// PartialText is the text built from deltas, earlier segments included. It
// is empty right after a completed event.
func (a *Aggregator) PartialText() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.complete {
		return ""
	}
	return joinSegments(a.committed, a.partial)
}

// FinalText returns the completed transcript and whether one arrived.
func (a *Aggregator) FinalText() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.complete {
		return "", false
	}
	return joinSegments(a.committed, a.final), true
}

func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.committed = ""
	a.partial = ""
	a.final = ""
	a.complete = false
	a.deltaCount = 0
}

// joinSegments inserts a space unless either side already has whitespace at
// the boundary.
func joinSegments(prev, next string) string {
	if prev == "" {
		return next
	}
	if next == "" {
		return prev
	}
	last, _ := utf8.DecodeLastRuneInString(prev)
	first, _ := utf8.DecodeRuneInString(next)
	if unicode.IsSpace(last) || unicode.IsSpace(first) {
		return prev + next
	}
	return strings.Join([]string{prev, next}, " ")
}
