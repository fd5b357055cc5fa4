package audio

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"vokey/log"
)

const (
	commandCap = 8
	errorPoll  = 50 * time.Millisecond
)

// DefaultRecoveryDelays are the waits before each attempt to reopen a stream
// that died mid-recording.
var DefaultRecoveryDelays = []time.Duration{100 * time.Millisecond, 300 * time.Millisecond, 900 * time.Millisecond}

// Sinks are optional taps on the captured audio. Sends never block; a full
// channel drops the chunk.
type Sinks struct {
	Stream   chan<- []int16
	Waveform chan<- []int16
	Errors   chan<- RecorderError
}

// RecorderError reports a recording the recorder had to give up on. Whatever
// was captured before the failure is already finalized at Path.
type RecorderError struct {
	ID   uuid.UUID
	Path string
	Err  error
}

func (e RecorderError) Error() string {
	return fmt.Sprintf("recording %s: %v", e.ID, e.Err)
}

func (e RecorderError) Unwrap() error { return e.Err }

type StartInfo struct {
	Path       string
	SampleRate int
	Device     string
}

type StopInfo struct {
	ID uuid.UUID
	FileInfo
}

type RecorderConfig struct {
	Dir            string
	Cache          *ConfigCache
	RecoveryDelays []time.Duration
	Now            func() time.Time
}

// Recorder owns the capture stream on one locked OS thread. All interaction
// goes through its bounded command channel.
type Recorder struct {
	ctx   Context
	cfg   RecorderConfig
	cmds  chan command
	done  chan struct{}
	state atomic.Pointer[session]
}

type command interface{ isCommand() }

type startCmd struct {
	id    uuid.UUID
	sinks Sinks
	reply chan startReply
}

type startReply struct {
	info StartInfo
	err  error
}

type stopCmd struct {
	reply chan stopReply
}

type stopReply struct {
	info StopInfo
	err  error
}

type shutdownCmd struct {
	reply chan struct{}
}

func (startCmd) isCommand()    {}
func (stopCmd) isCommand()     {}
func (shutdownCmd) isCommand() {}

// session is one active recording.
type session struct {
	id     uuid.UUID
	writer *Writer
	sinks  Sinks
	config DeviceConfig
	dev    CaptureDevice
	errCh  chan error

	// disabled stops the callback after the writer failed.
	disabled atomic.Bool
	failOnce sync.Once
}

func NewRecorder(ctx Context, cfg RecorderConfig) *Recorder {
	if cfg.Cache == nil {
		cfg.Cache = NewConfigCache(ctx, "", DefaultSampleRate)
	}
	if cfg.RecoveryDelays == nil {
		cfg.RecoveryDelays = DefaultRecoveryDelays
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	r := &Recorder{
		ctx:  ctx,
		cfg:  cfg,
		cmds: make(chan command, commandCap),
		done: make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *Recorder) send(cmd command) error {
	select {
	case <-r.done:
		return ErrThreadClosed
	default:
	}
	select {
	case r.cmds <- cmd:
		return nil
	case <-r.done:
		return ErrThreadClosed
	}
}

// Start begins recording id into a new file.
func (r *Recorder) Start(id uuid.UUID, sinks Sinks) (StartInfo, error) {
	reply := make(chan startReply, 1)
	if err := r.send(startCmd{id: id, sinks: sinks, reply: reply}); err != nil {
		return StartInfo{}, err
	}
	select {
	case res := <-reply:
		return res.info, res.err
	case <-r.done:
		return StartInfo{}, ErrThreadClosed
	}
}

// Stop finalizes the active recording.
func (r *Recorder) Stop() (StopInfo, error) {
	reply := make(chan stopReply, 1)
	if err := r.send(stopCmd{reply: reply}); err != nil {
		return StopInfo{}, err
	}
	select {
	case res := <-reply:
		return res.info, res.err
	case <-r.done:
		return StopInfo{}, ErrThreadClosed
	}
}

// Shutdown finalizes any active recording and ends the thread. Later calls
// return immediately.
func (r *Recorder) Shutdown() {
	reply := make(chan struct{})
	if err := r.send(shutdownCmd{reply: reply}); err != nil {
		return
	}
	select {
	case <-reply:
	case <-r.done:
	}
	<-r.done
}

// Recording reports whether a recording is active.
func (r *Recorder) Recording() bool {
	return r.state.Load() != nil
}

func (r *Recorder) loop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(r.done)

	poll := time.NewTicker(errorPoll)
	defer poll.Stop()

	for {
		select {
		case cmd := <-r.cmds:
			switch c := cmd.(type) {
			case startCmd:
				info, err := r.start(c.id, c.sinks)
				c.reply <- startReply{info, err}
			case stopCmd:
				info, err := r.stop()
				c.reply <- stopReply{info, err}
			case shutdownCmd:
				if r.state.Load() != nil {
					if _, err := r.stop(); err != nil {
						log.Warnf("finalizing recording on shutdown: %v", err)
					}
				}
				close(c.reply)
				return
			}
		case <-poll.C:
			s := r.state.Load()
			if s == nil {
				continue
			}
			select {
			case err := <-s.errCh:
				r.recoverStream(s, err)
			default:
			}
		}
	}
}

func (r *Recorder) start(id uuid.UUID, sinks Sinks) (StartInfo, error) {
	if r.state.Load() != nil {
		return StartInfo{}, ErrAlreadyRecording
	}
	cfg, err := r.cfg.Cache.Get()
	if err != nil {
		return StartInfo{}, err
	}

	path := RecordingPath(r.cfg.Dir, id, r.cfg.Now())
	w, err := CreateWriter(path, int(cfg.SampleRate))
	if err != nil {
		return StartInfo{}, err
	}

	s := &session{
		id:     id,
		writer: w,
		sinks:  sinks,
		config: cfg,
		errCh:  make(chan error, 1),
	}
	dev, err := r.open(s)
	if err != nil {
		r.cfg.Cache.Invalidate()
		w.Finalize()
		os.Remove(path)
		return StartInfo{}, err
	}
	s.dev = dev
	r.state.Store(s)

	log.Infof("recording %s started on %s at %d Hz", id, cfg.DeviceName(), cfg.SampleRate)
	return StartInfo{Path: path, SampleRate: int(cfg.SampleRate), Device: cfg.DeviceName()}, nil
}

// open builds and starts a stream that feeds s.
func (r *Recorder) open(s *session) (CaptureDevice, error) {
	dev, err := r.ctx.NewCapture(s.config.Device, s.config.capture())
	if err != nil {
		return nil, fmt.Errorf("opening capture: %w", err)
	}
	dev.SetCallback(s.onData)
	dev.SetErrorCallback(s.reportError)
	if err := dev.Start(); err != nil {
		dev.ClearCallback()
		dev.Close()
		return nil, fmt.Errorf("starting capture: %w", err)
	}
	return dev, nil
}

func (r *Recorder) stop() (StopInfo, error) {
	s := r.state.Load()
	if s == nil {
		return StopInfo{}, ErrNotRecording
	}
	r.state.Store(nil)

	if s.dev != nil {
		s.dev.Stop()
		s.dev.ClearCallback()
		s.dev.Close()
	}
	info, err := s.writer.Finalize()
	if err != nil {
		return StopInfo{ID: s.id, FileInfo: info}, err
	}
	log.Infof("recording %s stopped: %.2fs, %d samples, %d bytes", s.id, info.Duration.Seconds(), info.Samples, info.Bytes)
	return StopInfo{ID: s.id, FileInfo: info}, nil
}

// recoverStream replaces a dead stream while keeping the writer and sinks. After the
// last attempt fails the recording is finalized and reported on the error sink.
func (r *Recorder) recoverStream(s *session, cause error) {
	log.Warnf("capture stream for %s failed: %v", s.id, cause)

	dead := s.dev
	s.dev = nil
	if dead != nil {
		dead.ClearCallback()
		go dead.Close()
	}
	if s.disabled.Load() {
		r.abandon(s, cause)
		return
	}

	delays := r.cfg.RecoveryDelays
	for i, delay := range delays {
		log.RecoveryAttempt(s.id.String(), i+1, len(delays), delay, cause)
		time.Sleep(delay)

		r.cfg.Cache.Invalidate()
		if cfg, err := r.cfg.Cache.Get(); err == nil {
			// the writer's rate is fixed for the file
			cfg.SampleRate = s.config.SampleRate
			s.config = cfg
		}
		dev, err := r.open(s)
		if err == nil {
			s.dev = dev
			log.Infof("capture stream for %s recovered on attempt %d", s.id, i+1)
			return
		}
		cause = err
	}
	r.abandon(s, fmt.Errorf("%w: %v", ErrRecoveryExhausted, cause))
}

func (r *Recorder) abandon(s *session, cause error) {
	r.state.Store(nil)
	info, err := s.writer.Finalize()
	if err != nil {
		log.Warnf("finalizing abandoned recording %s: %v", s.id, err)
	}
	log.Errorf("recording %s abandoned after %.2fs: %v", s.id, info.Duration.Seconds(), cause)
	if s.sinks.Errors != nil {
		select {
		case s.sinks.Errors <- RecorderError{ID: s.id, Path: info.Path, Err: cause}:
		default:
			log.Warn("recorder error sink full")
		}
	}
}

// onData runs on the audio backend's thread. It never blocks and never
// lets a panic escape.
func (s *session) onData(data []byte, _ uint32) {
	defer func() {
		if p := recover(); p != nil {
			s.fail(fmt.Errorf("capture callback panic: %v", p))
		}
	}()
	if s.disabled.Load() || len(data) < 2 {
		return
	}

	samples := MixToMono(BytesToSamples(data), int(s.config.Channels))
	if err := s.writer.Write(samples); err != nil {
		s.fail(err)
		return
	}
	forward(s.sinks.Stream, samples)
	forward(s.sinks.Waveform, samples)
}

func forward(ch chan<- []int16, samples []int16) {
	if ch == nil {
		return
	}
	cp := make([]int16, len(samples))
	copy(cp, samples)
	select {
	case ch <- cp:
	default:
	}
}

// fail disables the callback and reports err once.
func (s *session) fail(err error) {
	s.failOnce.Do(func() {
		s.disabled.Store(true)
		s.reportError(err)
	})
}

func (s *session) reportError(err error) {
	select {
	case s.errCh <- err:
	default:
	}
}
