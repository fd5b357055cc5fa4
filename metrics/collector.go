// Package metrics tracks per-cycle timings and recent errors.
package metrics

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"vokey/log"
)

const (
	MaxCycleHistory = 50
	MaxErrorHistory = 20
)

type CycleMetrics struct {
	CycleID                 string    `json:"cycle_id"`
	StartedAt               time.Time `json:"started_at"`
	RecordingDurationMs     int64     `json:"recording_duration_ms"`
	AudioFileSizeBytes      int64     `json:"audio_file_size_bytes"`
	TranscriptionDurationMs int64     `json:"transcription_duration_ms"`
	TranscriptLengthChars   int       `json:"transcript_length_chars"`
	TotalCycleMs            int64     `json:"total_cycle_ms"`
	Success                 bool      `json:"success"`
	ErrorMessage            string    `json:"error_message,omitempty"`
}

type ErrorRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"error_type"`
	Message   string    `json:"message"`
	CycleID   string    `json:"cycle_id,omitempty"`
}

type Summary struct {
	TotalCycles                int64        `json:"total_cycles"`
	SuccessfulCycles           int64        `json:"successful_cycles"`
	FailedCycles               int64        `json:"failed_cycles"`
	AvgRecordingDurationMs     int64        `json:"avg_recording_duration_ms"`
	AvgTranscriptionDurationMs int64        `json:"avg_transcription_duration_ms"`
	AvgTotalCycleMs            int64        `json:"avg_total_cycle_ms"`
	LastError                  *ErrorRecord `json:"last_error,omitempty"`
}

type cycle struct {
	id                   uuid.UUID
	startedAt            time.Time
	recordingStarted     time.Time
	recordingDuration    time.Duration
	fileSize             int64
	transcriptionStarted time.Time
	transcriptionDur     time.Duration
	chars                int
}

func (c *cycle) toMetrics(now time.Time, success bool, msg string) CycleMetrics {
	return CycleMetrics{
		CycleID:                 c.id.String(),
		StartedAt:               c.startedAt,
		RecordingDurationMs:     c.recordingDuration.Milliseconds(),
		AudioFileSizeBytes:      c.fileSize,
		TranscriptionDurationMs: c.transcriptionDur.Milliseconds(),
		TranscriptLengthChars:   c.chars,
		TotalCycleMs:            now.Sub(c.startedAt).Milliseconds(),
		Success:                 success,
		ErrorMessage:            msg,
	}
}

// Collector keeps at most one cycle in flight. Histories are newest first.
type Collector struct {
	mu         sync.Mutex
	now        func() time.Time
	prom       *Prom
	history    []CycleMetrics
	errors     []ErrorRecord
	current    *cycle
	total      int64
	successful int64
}

func NewCollector() *Collector {
	return &Collector{now: time.Now}
}

// WithClock replaces the time source. Tests only.
func (c *Collector) WithClock(now func() time.Time) *Collector {
	c.now = now
	return c
}

// Export mirrors every hook into p.
func (c *Collector) Export(p *Prom) *Collector {
	c.prom = p
	return c
}

// StartCycle begins tracking id. An unfinished previous cycle is recorded as
// failed.
func (c *Collector) StartCycle(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if old := c.current; old != nil {
		log.Warnf("metrics: discarding in-progress cycle %s to start %s", old.id, id)
		c.addHistory(old.toMetrics(now, false, "discarded: new cycle started"))
		c.prom.cycleEnded("discarded", now.Sub(old.startedAt))
	}
	c.current = &cycle{id: id, startedAt: now}
	c.total++
	c.prom.cycleStarted()
}

func (c *Collector) RecordingStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		c.current.recordingStarted = c.now()
	}
}

func (c *Collector) RecordingStopped(fileSize int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.current
	if cur == nil {
		return
	}
	if !cur.recordingStarted.IsZero() {
		cur.recordingDuration = c.now().Sub(cur.recordingStarted)
	}
	cur.fileSize = fileSize
	log.Infof("metrics: recording stopped for cycle %s, duration %s, size %d bytes",
		cur.id, cur.recordingDuration, fileSize)
	c.prom.recordingStopped(cur.recordingDuration, fileSize)
}

// RecordingDuration returns the last stopped recording length of the active
// cycle, or false.
func (c *Collector) RecordingDuration() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || c.current.recordingDuration == 0 {
		return 0, false
	}
	return c.current.recordingDuration, true
}

func (c *Collector) TranscriptionStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		c.current.transcriptionStarted = c.now()
	}
}

func (c *Collector) TranscriptionCompleted(chars int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.current
	if cur == nil {
		return
	}
	if !cur.transcriptionStarted.IsZero() {
		cur.transcriptionDur = c.now().Sub(cur.transcriptionStarted)
	}
	cur.chars = chars
	c.prom.transcribed(cur.transcriptionDur)
}

func (c *Collector) CycleCompleted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.current
	if cur == nil {
		return
	}
	c.current = nil
	now := c.now()
	m := cur.toMetrics(now, true, "")
	log.Infof("metrics: cycle %s completed, total %dms (record %dms + transcribe %dms)",
		m.CycleID, m.TotalCycleMs, m.RecordingDurationMs, m.TranscriptionDurationMs)
	c.addHistory(m)
	c.successful++
	c.prom.cycleEnded("completed", now.Sub(cur.startedAt))
}

func (c *Collector) CycleFailed(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var id string
	if cur := c.current; cur != nil {
		c.current = nil
		id = cur.id.String()
		now := c.now()
		m := cur.toMetrics(now, false, msg)
		log.Warnf("metrics: cycle %s failed after %dms: %s", id, m.TotalCycleMs, msg)
		c.addHistory(m)
		c.prom.cycleEnded("failed", now.Sub(cur.startedAt))
	}
	c.recordError("cycle", msg, id)
}

// CycleCancelled drops the active cycle without history; it no longer counts
// toward the total.
func (c *Collector) CycleCancelled() {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.current
	if cur == nil {
		return
	}
	c.current = nil
	if c.total > 0 {
		c.total--
	}
	log.Debugf("metrics: cycle %s cancelled", cur.id)
	c.prom.cycleEnded("cancelled", c.now().Sub(cur.startedAt))
}

func (c *Collector) RecordError(errType, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var id string
	if c.current != nil {
		id = c.current.id.String()
	}
	c.recordError(errType, msg, id)
}

// IsActive reports whether id is the cycle in flight.
func (c *Collector) IsActive(id uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil && c.current.id == id
}

func (c *Collector) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Summary{
		TotalCycles:      c.total,
		SuccessfulCycles: c.successful,
		FailedCycles:     max(c.total-c.successful, 0),
	}
	var n, rec, tr, tot int64
	for _, m := range c.history {
		if !m.Success {
			continue
		}
		n++
		rec += m.RecordingDurationMs
		tr += m.TranscriptionDurationMs
		tot += m.TotalCycleMs
	}
	if n > 0 {
		s.AvgRecordingDurationMs = rec / n
		s.AvgTranscriptionDurationMs = tr / n
		s.AvgTotalCycleMs = tot / n
	}
	if len(c.errors) > 0 {
		e := c.errors[0]
		s.LastError = &e
	}
	return s
}

func (c *Collector) History() []CycleMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]CycleMetrics(nil), c.history...)
}

func (c *Collector) Errors() []ErrorRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ErrorRecord(nil), c.errors...)
}

func (c *Collector) recordError(errType, msg, id string) {
	c.errors = append([]ErrorRecord{{Timestamp: c.now(), Type: errType, Message: msg, CycleID: id}}, c.errors...)
	if len(c.errors) > MaxErrorHistory {
		c.errors = c.errors[:MaxErrorHistory]
	}
	c.prom.errored(errType)
}

func (c *Collector) addHistory(m CycleMetrics) {
	c.history = append([]CycleMetrics{m}, c.history...)
	if len(c.history) > MaxCycleHistory {
		c.history = c.history[:MaxCycleHistory]
	}
}
