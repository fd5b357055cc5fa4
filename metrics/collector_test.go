package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *clock { return &clock{t: time.Unix(1700000000, 0)} }

func newTestCollector(c *clock) *Collector { return NewCollector().WithClock(c.now) }

func runCycle(col *Collector, clk *clock, recMs, trMs int, chars int) uuid.UUID {
	id := uuid.New()
	col.StartCycle(id)
	col.RecordingStarted()
	clk.advance(time.Duration(recMs) * time.Millisecond)
	col.RecordingStopped(int64(recMs) * 96)
	col.TranscriptionStarted()
	clk.advance(time.Duration(trMs) * time.Millisecond)
	col.TranscriptionCompleted(chars)
	col.CycleCompleted()
	return id
}

func TestCompletedCycle(t *testing.T) {
	clk := newClock()
	col := newTestCollector(clk)
	id := runCycle(col, clk, 2000, 500, 42)

	h := col.History()
	if len(h) != 1 {
		t.Fatalf("history = %d", len(h))
	}
	m := h[0]
	if m.CycleID != id.String() || !m.Success || m.RecordingDurationMs != 2000 ||
		m.TranscriptionDurationMs != 500 || m.TotalCycleMs != 2500 || m.TranscriptLengthChars != 42 {
		t.Errorf("metrics = %+v", m)
	}
	s := col.Summary()
	if s.TotalCycles != 1 || s.SuccessfulCycles != 1 || s.FailedCycles != 0 || s.AvgTotalCycleMs != 2500 {
		t.Errorf("summary = %+v", s)
	}
	if col.IsActive(id) {
		t.Error("completed cycle still active")
	}
}

func TestFailedCycleRecordsError(t *testing.T) {
	clk := newClock()
	col := newTestCollector(clk)
	id := uuid.New()
	col.StartCycle(id)
	if !col.IsActive(id) {
		t.Fatal("cycle not active")
	}
	col.CycleFailed("upload failed")

	s := col.Summary()
	if s.FailedCycles != 1 || s.LastError == nil || s.LastError.Message != "upload failed" ||
		s.LastError.CycleID != id.String() || s.LastError.Type != "cycle" {
		t.Errorf("summary = %+v", s)
	}
	if h := col.History(); len(h) != 1 || h[0].Success {
		t.Errorf("history = %+v", h)
	}
}

func TestCancelledCycleNotCounted(t *testing.T) {
	col := newTestCollector(newClock())
	col.StartCycle(uuid.New())
	col.CycleCancelled()

	s := col.Summary()
	if s.TotalCycles != 0 || len(col.History()) != 0 {
		t.Errorf("summary = %+v", s)
	}
	col.CycleCancelled()
}

func TestStartDiscardsUnfinished(t *testing.T) {
	col := newTestCollector(newClock())
	first := uuid.New()
	col.StartCycle(first)
	col.StartCycle(uuid.New())

	h := col.History()
	if len(h) != 1 || h[0].CycleID != first.String() || h[0].Success {
		t.Errorf("history = %+v", h)
	}
	if s := col.Summary(); s.TotalCycles != 2 {
		t.Errorf("total = %d", s.TotalCycles)
	}
}

func TestHooksWithoutCycleAreIgnored(t *testing.T) {
	col := newTestCollector(newClock())
	col.RecordingStarted()
	col.RecordingStopped(10)
	col.TranscriptionStarted()
	col.TranscriptionCompleted(5)
	col.CycleCompleted()
	if s := col.Summary(); s.TotalCycles != 0 || s.SuccessfulCycles != 0 {
		t.Errorf("summary = %+v", s)
	}
	if _, ok := col.RecordingDuration(); ok {
		t.Error("duration without cycle")
	}
}

func TestHistoryBounded(t *testing.T) {
	clk := newClock()
	col := newTestCollector(clk)
	for i := range MaxCycleHistory + 10 {
		runCycle(col, clk, 100+i, 10, 1)
	}
	h := col.History()
	if len(h) != MaxCycleHistory {
		t.Fatalf("history = %d", len(h))
	}
	if h[0].RecordingDurationMs <= h[len(h)-1].RecordingDurationMs {
		t.Error("history not newest first")
	}

	for i := range MaxErrorHistory + 5 {
		col.RecordError("audio", fmt.Sprintf("e%d", i))
	}
	errs := col.Errors()
	if len(errs) != MaxErrorHistory || errs[0].Message != fmt.Sprintf("e%d", MaxErrorHistory+4) {
		t.Errorf("errors = %d, newest %q", len(errs), errs[0].Message)
	}
}

func TestPromExport(t *testing.T) {
	clk := newClock()
	p := NewProm()
	col := newTestCollector(clk).Export(p)
	runCycle(col, clk, 1000, 200, 3)
	col.StartCycle(uuid.New())
	col.CycleCancelled()
	col.RecordError("clipboard", "denied")

	if got := testutil.ToFloat64(p.CyclesStarted); got != 2 {
		t.Errorf("started = %v", got)
	}
	if got := testutil.ToFloat64(p.CyclesEnded.WithLabelValues("completed")); got != 1 {
		t.Errorf("completed = %v", got)
	}
	if got := testutil.ToFloat64(p.CyclesEnded.WithLabelValues("cancelled")); got != 1 {
		t.Errorf("cancelled = %v", got)
	}
	if got := testutil.ToFloat64(p.Errors.WithLabelValues("clipboard")); got != 1 {
		t.Errorf("errors = %v", got)
	}

	srv := httptest.NewServer(Handler(col, p))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "vokey_cycles_started_total 2") {
		t.Errorf("metrics output missing counter:\n%s", body)
	}

	resp, err = http.Get(srv.URL + "/summary")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var s Summary
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		t.Fatal(err)
	}
	if s.SuccessfulCycles != 1 || s.LastError == nil || s.LastError.Type != "clipboard" {
		t.Errorf("summary = %+v", s)
	}
}
