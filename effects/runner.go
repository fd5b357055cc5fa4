// Package effects executes workflow effects and reports their outcomes as
// workflow events.
package effects

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"vokey/audio"
	"vokey/config"
	"vokey/log"
	"vokey/streaming"
	"vokey/transcriber"
	"vokey/vad"
	"vokey/workflow"
)

// StreamFinalWait bounds how long transcription waits for the streaming
// session's completed transcript.
const StreamFinalWait = 1500 * time.Millisecond

type Recorder interface {
	Start(id uuid.UUID, sinks audio.Sinks) (audio.StartInfo, error)
	Stop() (audio.StopInfo, error)
}

type Clipboard interface {
	Deliver(ctx context.Context, text string, paste bool) error
}

type Metrics interface {
	StartCycle(id uuid.UUID)
	RecordingStarted()
	RecordingStopped(fileSize int64)
	TranscriptionStarted()
	TranscriptionCompleted(chars int)
	CycleCompleted()
	CycleFailed(msg string)
	CycleCancelled()
	RecordError(errType, msg string)
	IsActive(id uuid.UUID) bool
}

type GateFunc func(ctx context.Context, path string, opts vad.Options, th vad.Thresholds) vad.Verdict

type Deps struct {
	Recorder    Recorder
	Transcriber transcriber.Transcriber
	Clipboard   Clipboard
	Metrics     Metrics
	Settings    func() config.Settings
	// Dial opens a realtime session; nil disables streaming.
	Dial     streaming.DialFunc
	Waveform *audio.Waveform
	// RecordingsDir is swept after every cycle.
	RecordingsDir string
	Gate          GateFunc
	Now           func() time.Time
	TickInterval  time.Duration
	FinalWait     time.Duration
}

type cycle struct {
	id        workflow.ID
	settings  config.Settings
	path      string
	recording bool
	discarded bool
	pipeline  *streaming.Pipeline
	errCh     chan audio.RecorderError
	stopTick  chan struct{}
	tickOnce  sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	lastErr   string
}

func (c *cycle) endTick() {
	c.tickOnce.Do(func() { close(c.stopTick) })
}

// Runner is driven by the state loop. Audio effects and cleanups run in
// order on one worker; the rest run on their own goroutines.
type Runner struct {
	deps   Deps
	events chan<- workflow.Event
	ctx    context.Context
	cancel context.CancelFunc
	queue  chan workflow.Effect
	wave   chan []int16
	wg     sync.WaitGroup

	mu     sync.Mutex
	cycles map[workflow.ID]*cycle
}

func NewRunner(deps Deps, events chan<- workflow.Event) *Runner {
	if deps.Settings == nil {
		deps.Settings = config.Defaults
	}
	if deps.Gate == nil {
		deps.Gate = vad.Gate
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.TickInterval <= 0 {
		deps.TickInterval = workflow.TickInterval
	}
	if deps.FinalWait <= 0 {
		deps.FinalWait = StreamFinalWait
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		deps:   deps,
		events: events,
		ctx:    ctx,
		cancel: cancel,
		queue:  make(chan workflow.Effect, 16),
		cycles: make(map[workflow.ID]*cycle),
	}
	if deps.Waveform != nil {
		r.wave = make(chan []int16, 64)
		r.goFunc(func() { deps.Waveform.Run(ctx, r.wave) })
	}
	r.goFunc(r.worker)
	return r
}

func (r *Runner) goFunc(fn func()) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fn()
	}()
}

// Run dispatches eff. It never blocks on the effect itself. EmitUI is the
// state loop's business and is ignored here.
func (r *Runner) Run(eff workflow.Effect) {
	switch e := eff.(type) {
	case workflow.StartAudio, workflow.StopAudio, workflow.Cleanup:
		select {
		case r.queue <- eff:
		case <-r.ctx.Done():
		}
	case workflow.StartTranscription:
		r.goFunc(func() { r.transcribe(e) })
	case workflow.CopyToClipboard:
		r.goFunc(func() { r.copyText(e) })
	case workflow.StartDoneTimeout:
		r.goFunc(func() { r.doneTimeout(e) })
	case workflow.StartRecordingTick:
		r.startTick(e.ID)
	case workflow.EmitUI:
	default:
		log.Warnf("effects: unhandled effect %T", eff)
	}
}

// Close stops timers and in-flight work and waits for every goroutine.
func (r *Runner) Close() {
	r.cancel()
	r.mu.Lock()
	for _, c := range r.cycles {
		c.cancel()
		c.endTick()
		if c.pipeline != nil {
			c.pipeline.Abort()
		}
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Runner) post(ev workflow.Event) {
	select {
	case r.events <- ev:
	case <-r.ctx.Done():
	}
}

func (r *Runner) lookup(id workflow.ID) *cycle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cycles[id]
}

func (r *Runner) setErr(c *cycle, msg string) {
	r.mu.Lock()
	c.lastErr = msg
	r.mu.Unlock()
}

func (r *Runner) worker() {
	for {
		select {
		case <-r.ctx.Done():
			r.drain()
			return
		case eff := <-r.queue:
			switch e := eff.(type) {
			case workflow.StartAudio:
				r.startAudio(e.ID)
			case workflow.StopAudio:
				r.stopAudio(e)
			case workflow.Cleanup:
				r.cleanup(e)
			}
		}
	}
}

// drain finishes stops and cleanups queued before Close. Starts are dropped.
func (r *Runner) drain() {
	for {
		select {
		case eff := <-r.queue:
			switch e := eff.(type) {
			case workflow.StopAudio:
				r.stopAudio(e)
			case workflow.Cleanup:
				r.cleanup(e)
			}
		default:
			return
		}
	}
}

func (r *Runner) startAudio(id workflow.ID) {
	s := r.deps.Settings()
	ctx, cancel := context.WithCancel(r.ctx)
	c := &cycle{
		id:       id,
		settings: s,
		errCh:    make(chan audio.RecorderError, 1),
		stopTick: make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	r.mu.Lock()
	r.cycles[id] = c
	r.mu.Unlock()

	if m := r.deps.Metrics; m != nil {
		m.StartCycle(id)
	}
	if r.deps.Waveform != nil {
		r.deps.Waveform.Reset()
	}

	sinks := audio.Sinks{Waveform: r.wave, Errors: c.errCh}
	var pipeline *streaming.Pipeline
	if s.StreamingEnabled && r.deps.Dial != nil {
		pipeline = streaming.NewPipeline(func(text string) {
			r.post(workflow.PartialDelta{ID: id, Text: text})
		})
		sinks.Stream = pipeline.Sink()
	}

	info, err := r.deps.Recorder.Start(id, sinks)
	if err != nil {
		if pipeline != nil {
			pipeline.Abort()
		}
		msg := fmt.Sprintf("Could not start recording: %v", err)
		r.setErr(c, msg)
		if m := r.deps.Metrics; m != nil {
			m.RecordError("audio", err.Error())
		}
		r.post(workflow.AudioStartFail{ID: id, Err: msg})
		return
	}

	c.path = info.Path
	c.recording = true
	if pipeline != nil {
		// the device decides the rate, so the session starts only now
		if err := pipeline.Start(info.SampleRate, r.deps.Dial); err != nil {
			log.Warnf("streaming off for recording %s: %v", id, err)
			pipeline.Abort()
		} else {
			r.mu.Lock()
			c.pipeline = pipeline
			r.mu.Unlock()
		}
	}
	if m := r.deps.Metrics; m != nil {
		m.RecordingStarted()
	}
	r.goFunc(func() { r.watchRecorder(c) })
	r.post(workflow.AudioStartOk{ID: id, Path: info.Path, At: r.deps.Now()})
}

// watchRecorder reports an abandoned recording as AudioFailed. The event
// carries the cycle id, so a failure that outlives its cycle is dropped by
// the reducer.
func (r *Runner) watchRecorder(c *cycle) {
	select {
	case <-c.ctx.Done():
	case rerr := <-c.errCh:
		if r.lookup(c.id) != c {
			return
		}
		msg := fmt.Sprintf("Recording failed: %v", rerr.Err)
		r.setErr(c, msg)
		if m := r.deps.Metrics; m != nil {
			m.RecordError("audio", rerr.Err.Error())
		}
		r.post(workflow.AudioFailed{ID: c.id, Path: rerr.Path, Err: msg})
	}
}

func (r *Runner) stopAudio(e workflow.StopAudio) {
	c := r.lookup(e.ID)
	if c == nil || !c.recording {
		return
	}
	c.recording = false
	c.endTick()
	if e.Discard {
		c.discarded = true
	}

	info, err := r.deps.Recorder.Stop()
	if c.pipeline != nil {
		// the capture thread has stopped writing into the sink
		if e.Discard || err != nil {
			c.pipeline.Abort()
		} else {
			c.pipeline.Finish()
		}
	}
	if err != nil {
		if errors.Is(err, audio.ErrNotRecording) && e.Discard {
			return
		}
		msg := fmt.Sprintf("Could not stop recording: %v", err)
		r.setErr(c, msg)
		if m := r.deps.Metrics; m != nil {
			m.RecordError("audio", err.Error())
		}
		if !e.Discard {
			r.post(workflow.AudioStopFail{ID: e.ID, Err: msg})
		}
		return
	}
	if info.Path != "" {
		c.path = info.Path
	}
	if m := r.deps.Metrics; m != nil {
		m.RecordingStopped(info.Bytes)
	}
	if e.Discard {
		return
	}

	r.goFunc(func() { r.gate(c, info) })
}

// gate decides whether the stopped recording is worth transcribing.
func (r *Runner) gate(c *cycle, info audio.StopInfo) {
	s := c.settings
	durMs := info.Duration.Milliseconds()

	if durMs < int64(s.MinTranscribeMs) {
		r.abortStream(c)
		r.post(workflow.NoSpeechDetected{
			ID:      c.id,
			Source:  workflow.DurationThreshold,
			Message: fmt.Sprintf("Recording too short (%d ms)", durMs),
		})
		return
	}

	if s.ShortClipVADEnabled && durMs < int64(s.VADCheckMaxMs) {
		th := vad.Thresholds{MinSpeechFrames: s.VADMinSpeechFrames, MaxCrestFactor: s.VADMaxCrestFactor}
		v := r.deps.Gate(c.ctx, info.Path, vad.Options{IgnoreStartMs: s.VADIgnoreStartMs}, th)
		if !v.Proceed {
			r.abortStream(c)
			msg := "No speech detected"
			if v.Err != nil {
				log.Warnf("vad gate failed closed for %s: %v", c.id, v.Err)
			}
			r.post(workflow.NoSpeechDetected{ID: c.id, Source: workflow.ShortClipVAD, Message: msg})
			return
		}
	}

	r.post(workflow.AudioStopOk{ID: c.id})
}

func (r *Runner) abortStream(c *cycle) {
	if c.pipeline != nil {
		c.pipeline.Abort()
	}
}

func (r *Runner) transcribe(e workflow.StartTranscription) {
	c := r.lookup(e.ID)
	ctx := r.ctx
	s := r.deps.Settings()
	var pipeline *streaming.Pipeline
	if c != nil {
		ctx = c.ctx
		s = c.settings
		pipeline = c.pipeline
	}
	m := r.deps.Metrics
	if m != nil {
		m.TranscriptionStarted()
	}

	partial := e.Partial
	if pipeline != nil {
		if text := pipeline.WaitFinal(r.deps.FinalWait); text != "" {
			partial = text
		}
		pipeline.Abort()
	}

	res, err := r.deps.Transcriber.Transcribe(ctx, e.Path)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		msg := fmt.Sprintf("Transcription failed: %v", err)
		if c != nil {
			r.setErr(c, msg)
		}
		if m != nil {
			m.RecordError("transcription", err.Error())
		}
		r.post(workflow.TranscribeFail{ID: e.ID, Err: msg, Partial: partial})
		return
	}

	text := strings.TrimSpace(res.Text)
	if res.NoSpeechProb != nil && *res.NoSpeechProb >= s.NoSpeechProbThreshold &&
		len([]rune(text)) <= s.NoSpeechMaxChars {
		r.post(workflow.NoSpeechDetected{
			ID:      e.ID,
			Source:  workflow.ProviderNoSpeechProb,
			Message: fmt.Sprintf("No speech detected (p=%.2f)", *res.NoSpeechProb),
		})
		return
	}
	if text == "" {
		r.post(workflow.NoSpeechDetected{ID: e.ID, Source: workflow.ProviderNoSpeechProb, Message: "Empty transcript"})
		return
	}

	if m != nil {
		m.TranscriptionCompleted(len([]rune(text)))
	}
	r.post(workflow.TranscribeOk{ID: e.ID, Text: text})
}

func (r *Runner) copyText(e workflow.CopyToClipboard) {
	s := r.deps.Settings()
	if c := r.lookup(e.ID); c != nil {
		s = c.settings
	}
	log.TranscriptionText(e.Text)
	if r.deps.Clipboard != nil {
		if err := r.deps.Clipboard.Deliver(r.ctx, e.Text, s.AutoPaste); err != nil {
			log.Warnf("clipboard delivery failed: %v", err)
			if m := r.deps.Metrics; m != nil {
				m.RecordError("clipboard", err.Error())
			}
		}
	}
	if m := r.deps.Metrics; m != nil && m.IsActive(e.ID) {
		m.CycleCompleted()
	}
}

func (r *Runner) doneTimeout(e workflow.StartDoneTimeout) {
	t := time.NewTimer(e.After)
	defer t.Stop()
	select {
	case <-t.C:
		r.post(workflow.DoneTimeout{ID: e.ID})
	case <-r.ctx.Done():
	}
}

func (r *Runner) startTick(id workflow.ID) {
	c := r.lookup(id)
	if c == nil {
		return
	}
	r.goFunc(func() {
		t := time.NewTicker(r.deps.TickInterval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				r.post(workflow.RecordingTick{ID: id, Now: r.deps.Now()})
			case <-c.stopTick:
				return
			case <-r.ctx.Done():
				return
			}
		}
	})
}

func (r *Runner) cleanup(e workflow.Cleanup) {
	r.mu.Lock()
	c := r.cycles[e.ID]
	delete(r.cycles, e.ID)
	r.mu.Unlock()

	path := e.Path
	var settings config.Settings
	if c != nil {
		c.cancel()
		c.endTick()
		r.abortStream(c)
		if path == "" {
			path = c.path
		}
		settings = c.settings
	} else {
		settings = r.deps.Settings()
	}

	if m := r.deps.Metrics; m != nil && m.IsActive(e.ID) {
		switch e.Reason {
		case workflow.CleanupFailed:
			msg := "failed"
			if c != nil {
				r.mu.Lock()
				if c.lastErr != "" {
					msg = c.lastErr
				}
				r.mu.Unlock()
			}
			m.CycleFailed(msg)
		default:
			m.CycleCancelled()
		}
	}

	if e.Reason == workflow.CleanupCancelled && path != "" {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warnf("removing cancelled recording %s: %v", path, err)
		}
	}

	if r.deps.RecordingsDir != "" {
		keep := audio.MaxRecordings(settings.MaxRecordings)
		if n, err := audio.CleanupOldRecordings(r.deps.RecordingsDir, keep); err != nil {
			log.Warnf("recording retention: %v", err)
		} else if n > 0 {
			log.Debugf("removed %d old recordings", n)
		}
	}
}
