package streaming

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"vokey/log"
)

const (
	// preconnectSeconds bounds how much audio is held while the session is
	// still handshaking.
	preconnectSeconds = 15
	sinkCap           = 256
	commitGrace       = 2 * time.Second
)

type DialFunc func(ctx context.Context) (Session, error)

// Dialer returns a DialFunc that connects with cfg.
func Dialer(cfg Config) DialFunc {
	return func(ctx context.Context) (Session, error) {
		return Connect(ctx, cfg)
	}
}

type Stats struct {
	SessionID    string
	ConnectDur   time.Duration
	SessionDur   time.Duration
	SentChunks   int
	SentSamples  int
	Buffered     int
	Evicted      int
	RecvMessages int
	RecvDeltas   int
	RecvFinal    int
	Commits      int
}

func (s Stats) audioSeconds() float64 {
	return float64(s.SentSamples) / TargetSampleRate
}

// Pipeline carries one recording's audio to a realtime session and folds the
// returned transcription events into an Aggregator. Any failure only ends the
// pipeline; it never touches the recording itself.
type Pipeline struct {
	sourceRate int
	sink       chan []int16
	finish     chan struct{}
	finishOnce sync.Once
	ctx        context.Context
	cancel     context.CancelFunc
	agg        *Aggregator
	onText     func(string)

	done      chan struct{}
	completed chan struct{}
	compOnce  sync.Once

	mu      sync.Mutex
	err     error
	stats   Stats
	started time.Time
}

// ErrUnsupportedRate is returned by Start for capture rates that are not a
// whole multiple of TargetSampleRate.
var ErrUnsupportedRate = errors.New("streaming: unsupported capture rate")

// SupportedRate reports whether rate can be downsampled to TargetSampleRate
// by averaging.
func SupportedRate(rate int) bool {
	return rate > 0 && rate%TargetSampleRate == 0
}

// NewPipeline returns an idle pipeline whose Sink can be handed to the
// capture side before the capture rate is known.
func NewPipeline(onText func(string)) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		sink:      make(chan []int16, sinkCap),
		finish:    make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		agg:       NewAggregator(),
		onText:    onText,
		done:      make(chan struct{}),
		completed: make(chan struct{}),
	}
}

// Start begins dialing. Audio already in Sink, and anything pushed before
// the session is ready, is buffered and sent once it is. A pipeline that
// failed to Start must not be waited on.
func (p *Pipeline) Start(sourceRate int, dial DialFunc) error {
	if !SupportedRate(sourceRate) {
		p.cancel()
		return fmt.Errorf("%w: %d Hz", ErrUnsupportedRate, sourceRate)
	}
	p.sourceRate = sourceRate
	p.started = time.Now()
	go p.run(dial)
	return nil
}

// StartPipeline is NewPipeline followed by Start.
func StartPipeline(sourceRate int, dial DialFunc, onText func(string)) (*Pipeline, error) {
	p := NewPipeline(onText)
	if err := p.Start(sourceRate, dial); err != nil {
		return nil, err
	}
	return p, nil
}

// Sink is where the capture thread drops samples. Senders must not block.
func (p *Pipeline) Sink() chan<- []int16 { return p.sink }

func (p *Pipeline) Aggregator() *Aggregator { return p.agg }

func (p *Pipeline) Text() string { return p.agg.CurrentText() }

// Finish signals end of audio: the remainder is flushed and committed.
// Call it only after the capture thread stopped writing into Sink.
func (p *Pipeline) Finish() {
	p.finishOnce.Do(func() { close(p.finish) })
}

// Abort tears the session down without committing.
func (p *Pipeline) Abort() {
	p.cancel()
	p.Finish()
}

// WaitFinal blocks until the completed transcript arrives, the pipeline ends,
// or timeout passes, and returns the best text available.
func (p *Pipeline) WaitFinal(timeout time.Duration) string {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-p.completed:
	case <-p.done:
	case <-t.C:
	}
	return p.agg.CurrentText()
}

// Wait blocks until the pipeline has fully shut down.
func (p *Pipeline) Wait() (Stats, error) {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats, p.err
}

func (p *Pipeline) setErr(err error) {
	p.mu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.mu.Unlock()
}

func (p *Pipeline) run(dial DialFunc) {
	defer close(p.done)
	defer p.cancel()

	type dialResult struct {
		s   Session
		err error
	}
	connected := make(chan dialResult, 1)
	go func() {
		s, err := dial(p.ctx)
		connected <- dialResult{s, err}
	}()

	chunker := NewChunker(p.sourceRate, TargetSampleRate, ChunkMs)
	pending := NewBuffer(preconnectSeconds, TargetSampleRate, ChunkMs)
	evicted := 0
	hold := func(samples []int16) {
		for _, chunk := range chunker.Push(samples) {
			if pending.Len() == pending.Cap() {
				evicted++
			}
			pending.Push(chunk)
		}
	}

	var session Session
	finished := false
wait:
	for {
		select {
		case samples := <-p.sink:
			hold(samples)
		case <-p.finish:
			finished = true
		case r := <-connected:
			if r.err != nil {
				p.setErr(r.err)
				log.Warnf("streaming disabled for this recording: %v", r.err)
				p.drainSink()
				return
			}
			session = r.s
			break wait
		}
		if finished {
			// keep waiting for the dial: the buffered audio is still useful
			select {
			case r := <-connected:
				if r.err != nil {
					p.setErr(r.err)
					log.Warnf("streaming disabled for this recording: %v", r.err)
					return
				}
				session = r.s
				break wait
			case <-p.ctx.Done():
				return
			}
		}
	}
	defer session.Close()

	p.mu.Lock()
	p.stats.SessionID = session.SessionID()
	p.stats.ConnectDur = time.Since(p.started)
	p.stats.Buffered = pending.Len()
	p.stats.Evicted = evicted
	p.mu.Unlock()

	consumerDone := make(chan struct{})
	if events, ok := session.TakeIncoming(); ok {
		go func() {
			defer close(consumerDone)
			p.consume(events)
		}()
	} else {
		close(consumerDone)
	}

	if err := p.send(session, chunker, pending, finished); err != nil {
		p.setErr(err)
		log.Warnf("streaming send failed, falling back to batch only: %v", err)
		return
	}

	// give the server a moment to deliver the completed transcript
	select {
	case <-p.completed:
	case <-consumerDone:
	case <-time.After(commitGrace):
	case <-p.ctx.Done():
	}

	p.mu.Lock()
	p.stats.SessionDur = time.Since(p.started)
	stats := p.stats
	p.mu.Unlock()
	log.StreamMetrics(log.StreamMetricsData{
		SessionID:    stats.SessionID,
		ConnectMs:    float64(stats.ConnectDur.Milliseconds()),
		TotalMs:      float64(stats.SessionDur.Milliseconds()),
		AudioS:       stats.audioSeconds(),
		SentChunks:   stats.SentChunks,
		SentKB:       float64(stats.SentSamples*2) / 1024,
		DroppedIn:    stats.Evicted,
		RecvMessages: stats.RecvMessages,
		RecvDeltas:   stats.RecvDeltas,
		RecvFinal:    stats.RecvFinal,
		Commits:      stats.Commits,
	})
}

func (p *Pipeline) send(session Session, chunker *Chunker, pending *Buffer, finished bool) error {
	sendChunk := func(samples []int16) error {
		if err := session.SendAudio(p.ctx, samples); err != nil {
			return err
		}
		p.mu.Lock()
		p.stats.SentChunks++
		p.stats.SentSamples += len(samples)
		p.mu.Unlock()
		return nil
	}

	for _, c := range pending.DrainAll() {
		if err := sendChunk(c.Samples); err != nil {
			return err
		}
	}

	for !finished {
		select {
		case samples := <-p.sink:
			for _, chunk := range chunker.Push(samples) {
				if err := sendChunk(chunk); err != nil {
					return err
				}
			}
		case <-p.finish:
			finished = true
		case <-p.ctx.Done():
			return p.ctx.Err()
		}
	}
	if p.ctx.Err() != nil {
		return p.ctx.Err()
	}

	// samples that raced with Finish
	for {
		select {
		case samples := <-p.sink:
			for _, chunk := range chunker.Push(samples) {
				if err := sendChunk(chunk); err != nil {
					return err
				}
			}
			continue
		default:
		}
		break
	}

	if tail := chunker.Flush(); tail != nil {
		if err := sendChunk(tail); err != nil {
			return err
		}
	}
	if err := session.Commit(p.ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	p.mu.Lock()
	p.stats.Commits++
	p.mu.Unlock()
	return nil
}

func (p *Pipeline) consume(events <-chan ServerEvent) {
	for ev := range events {
		p.mu.Lock()
		p.stats.RecvMessages++
		p.mu.Unlock()

		switch e := ev.(type) {
		case TranscriptionDelta:
			if e.Delta == "" {
				continue
			}
			text := p.agg.ProcessDelta(e.Delta)
			p.mu.Lock()
			p.stats.RecvDeltas++
			p.mu.Unlock()
			p.emit(text)
		case TranscriptionCompleted:
			text := p.agg.ProcessCompleted(strings.TrimSpace(e.Transcript))
			p.mu.Lock()
			p.stats.RecvFinal++
			p.mu.Unlock()
			p.emit(text)
			p.compOnce.Do(func() { close(p.completed) })
		case ServerError:
			log.Warnf("realtime server error: %v", e.Err)
		case Unknown:
			log.Debugf("realtime: ignoring %s", e.Type)
		}
	}
}

func (p *Pipeline) emit(text string) {
	if p.onText != nil {
		p.onText(text)
	}
}

func (p *Pipeline) drainSink() {
	for {
		select {
		case <-p.sink:
		default:
			return
		}
	}
}
