package clipboard

import (
	"context"
	"errors"
	"time"

	"vokey/log"
)

var (
	ErrSinkClosed = errors.New("clipboard: sink closed")
	ErrTimeout    = errors.New("clipboard: write did not finish in time")
)

// DefaultGrace bounds how long Deliver waits for the clipboard goroutine.
const DefaultGrace = 2 * time.Second

// Backend is the platform clipboard plus the paste keystroke.
type Backend interface {
	Copy(text string) error
	Paste() error
}

type system struct{}

func (system) Copy(text string) error { return Copy(text) }

func (system) Paste() error { return Paste() }

// System returns the real clipboard backend.
func System() Backend { return system{} }

type request struct {
	text  string
	paste bool
	done  chan error
}

// Sink owns the clipboard from a single goroutine. Some platform clipboard
// APIs must not be shared across threads, and a write may need to stay
// owned briefly so other applications can read it.
type Sink struct {
	backend Backend
	grace   time.Duration
	pasteIn time.Duration
	reqs    chan request
	stop    chan struct{}
	done    chan struct{}
}

type SinkConfig struct {
	Backend Backend
	// Grace is the longest Deliver blocks. Zero means DefaultGrace.
	Grace time.Duration
	// PasteDelay separates the copy from the paste keystroke.
	PasteDelay time.Duration
}

func NewSink(cfg SinkConfig) *Sink {
	if cfg.Backend == nil {
		cfg.Backend = System()
	}
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	s := &Sink{
		backend: cfg.Backend,
		grace:   cfg.Grace,
		pasteIn: cfg.PasteDelay,
		reqs:    make(chan request),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *Sink) loop() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case r := <-s.reqs:
			r.done <- s.deliver(r)
		}
	}
}

func (s *Sink) deliver(r request) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.New("clipboard: backend panicked")
			log.Errorf("clipboard panic: %v", p)
		}
	}()
	if err := s.backend.Copy(r.text); err != nil {
		return err
	}
	if !r.paste {
		return nil
	}
	if s.pasteIn > 0 {
		time.Sleep(s.pasteIn)
	}
	if err := s.backend.Paste(); err != nil {
		log.Warnf("paste failed: %v", err)
	}
	return nil
}

// Deliver copies text and optionally pastes it. It waits at most the grace
// window; a slow write keeps running on the sink goroutine.
func (s *Sink) Deliver(ctx context.Context, text string, paste bool) error {
	r := request{text: text, paste: paste, done: make(chan error, 1)}
	timer := time.NewTimer(s.grace)
	defer timer.Stop()

	select {
	case s.reqs <- r:
	case <-s.stop:
		return ErrSinkClosed
	case <-timer.C:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-r.done:
		return err
	case <-timer.C:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the goroutine after any in-flight write.
func (s *Sink) Close() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	<-s.done
}
