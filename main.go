package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"vokey/audio"
	"vokey/beep"
	"vokey/clipboard"
	"vokey/config"
	"vokey/doctor"
	"vokey/effects"
	"vokey/hotkey"
	"vokey/log"
	"vokey/metrics"
	"vokey/notify"
	"vokey/shutdown"
	"vokey/streaming"
	"vokey/transcriber"
	"vokey/workflow"
)

var version = "dev"

type options struct {
	logPath     string
	configDir   string
	device      string
	setup       bool
	provider    string
	lang        string
	format      string
	stream      bool
	noStream    bool
	paste       bool
	metricsAddr string
	pprof       string
	noTUI       bool
	test        bool
	fakeText    string
	longPress   time.Duration
	doctor      bool
}

func parseFlags() options {
	var o options
	flag.StringVar(&o.logPath, "logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	flag.StringVar(&o.configDir, "config", "", "settings directory (default: OS config dir)")
	flag.StringVar(&o.device, "device", "", "Use named microphone device")
	flag.BoolVar(&o.setup, "setup", false, "Select microphone device interactively")
	flag.StringVar(&o.provider, "provider", "", "Batch provider: openai, groq or deepgram (default: first key found)")
	flag.StringVar(&o.lang, "lang", "", "Language code for transcription (e.g., en, es). Empty = auto-detect")
	flag.StringVar(&o.format, "format", "", "Upload format: flac or wav")
	flag.BoolVar(&o.stream, "stream", false, "Force realtime streaming on")
	flag.BoolVar(&o.noStream, "nostream", false, "Force realtime streaming off")
	flag.BoolVar(&o.paste, "paste", false, "Paste into the focused window after copying")
	flag.StringVar(&o.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g., :9464)")
	flag.StringVar(&o.pprof, "pprof", "", "Enable pprof profiling server (e.g., localhost:6060)")
	flag.BoolVar(&o.noTUI, "notui", false, "Run without the terminal UI")
	flag.BoolVar(&o.test, "test", false, "Test mode (headless, stdin-driven, replays the WAV given as argument)")
	flag.StringVar(&o.fakeText, "fake-text", "", "Test mode transcript when no API key is set")
	flag.DurationVar(&o.longPress, "longpress", hotkey.DefaultLongPress, "Hold longer than this to push-to-talk")
	flag.BoolVar(&o.doctor, "doctor", false, "Run system diagnostics and exit")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("vokey %s\n", version)
		os.Exit(0)
	}
	return o
}

func initCrashLog() {
	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
	debug.SetCrashOutput(crashFile, debug.CrashOptions{})
}

// loadSettings merges settings.yaml, the environment and command line
// overrides. Overrides are not written back.
func loadSettings(o options) (*config.Store, error) {
	dir, err := config.Dir(o.configDir)
	if err != nil {
		return nil, err
	}
	if loaded, err := config.LoadEnv(dir); err != nil {
		log.Warnf("loading .env: %v", err)
	} else if len(loaded) > 0 {
		log.Infof("env loaded from %v", loaded)
	}

	path := filepath.Join(dir, config.FileName)
	s, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
		log.Warnf("settings: %v", err)
	}
	config.ApplyEnv(&s)

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "provider":
			s.Provider = o.provider
		case "lang":
			s.Language = o.lang
		case "format":
			s.UploadFormat = o.format
		case "stream":
			s.StreamingEnabled = o.stream
		case "nostream":
			s.StreamingEnabled = !o.noStream
		case "paste":
			s.AutoPaste = o.paste
		}
	})
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return config.NewStore(path, s), nil
}

func newTranscriber(o options, s config.Settings) (transcriber.Transcriber, error) {
	tr, err := transcriber.New(transcriber.Config{
		Provider: s.Provider,
		Language: s.Language,
		Format:   s.UploadFormat,
	})
	if o.test && (o.fakeText != "" || errors.Is(err, transcriber.ErrNoAPIKey)) {
		text := o.fakeText
		if text == "" {
			text = "test transcript"
		}
		return transcriber.NewFake(text, nil), nil
	}
	return tr, err
}

// streamDialer returns nil when realtime streaming cannot run.
// streamDialer is nil without a key. Whether a cycle streams is decided per
// cycle from the live settings.
func streamDialer() streaming.DialFunc {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		log.Info("streaming disabled: OPENAI_API_KEY not set")
		return nil
	}
	return streaming.Dialer(streaming.Config{APIKey: key})
}

func modeLineText(tr transcriber.Transcriber, s config.Settings, dial streaming.DialFunc) string {
	label := tr.Name()
	if s.Language != "" {
		label += " (" + s.Language + ")"
	}
	if dial != nil && s.StreamingEnabled {
		label += " + stream"
	}
	return fmt.Sprintf("[%s | %s]", s.UploadFormat, label)
}

func run() {
	o := parseFlags()

	logPath, err := log.ResolveDir(o.logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		os.Exit(1)
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}
	initCrashLog()
	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()

	if o.pprof != "" {
		go func() {
			fmt.Fprintf(os.Stderr, "pprof server listening on http://%s/debug/pprof/\n", o.pprof)
			if err := http.ListenAndServe(o.pprof, nil); err != nil {
				fmt.Fprintf(os.Stderr, "pprof server error: %v\n", err)
			}
		}()
	}

	store, err := loadSettings(o)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	settings := store.Get()

	if o.doctor {
		os.Exit(doctor.Run(settings))
	}

	tr, err := newTranscriber(o, settings)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if w, ok := tr.(interface{ Warm() time.Duration }); ok && !o.test {
		go func() { log.Infof("connection warmed in %s", w.Warm()) }()
	}
	dial := streamDialer()
	log.SessionStart(tr.Name(), settings.UploadFormat, dial != nil && settings.StreamingEnabled)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var actx audio.Context
	var fake *audio.FakeContext
	sampleRate := audio.DefaultSampleRate
	if o.test {
		if flag.NArg() == 0 {
			fmt.Fprintln(os.Stderr, "Usage: vokey -test <wav-file>")
			os.Exit(1)
		}
		fake, err = audio.NewFakeContext(flag.Arg(0), true)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading WAV: %v\n", err)
			os.Exit(1)
		}
		actx, sampleRate = fake, fake.SampleRate()
	} else {
		actx, err = audio.NewContext()
		if err != nil {
			log.Errorf("audio context init error: %v", err)
			fmt.Fprintf(os.Stderr, "Error initializing audio context: %v\n", err)
			os.Exit(1)
		}
	}
	defer actx.Close()

	if o.setup && o.device == "" {
		dev, err := audio.SelectDevice(actx)
		if err != nil {
			fmt.Printf("Warning: device selection failed: %v\n", err)
		} else if dev != nil {
			o.device = dev.Name
		}
	}
	cache := audio.NewConfigCache(actx, o.device, uint32(sampleRate))

	recDir, err := audio.RecordingsDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if n, err := audio.CleanupOldRecordings(recDir, audio.MaxRecordings(settings.MaxRecordings)); err != nil {
		log.Warnf("recording retention: %v", err)
	} else if n > 0 {
		log.Infof("removed %d old recordings", n)
	}

	recorder := audio.NewRecorder(actx, audio.RecorderConfig{Dir: recDir, Cache: cache})
	defer recorder.Shutdown()

	prom := metrics.NewProm()
	collector := metrics.NewCollector().Export(prom)
	if o.metricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, o.metricsAddr, collector, prom); err != nil {
				log.Errorf("metrics server: %v", err)
			}
		}()
	}

	if settings.AutoPaste && !o.test {
		if err := clipboard.Init(); err != nil {
			fmt.Printf("Warning: paste init failed: %v\n", err)
		}
	}
	sink := clipboard.NewSink(clipboard.SinkConfig{PasteDelay: 50 * time.Millisecond})
	defer sink.Close()

	wave := audio.NewWaveform()
	events := make(chan workflow.Event, 64)
	runner := effects.NewRunner(effects.Deps{
		Recorder:      recorder,
		Transcriber:   tr,
		Clipboard:     sink,
		Metrics:       collector,
		Settings:      store.Get,
		Dial:          dial,
		Waveform:      wave,
		RecordingsDir: recDir,
	}, events)
	defer runner.Close()

	m := newMachine(runner, events)
	m.cues = beep.New(settings.Beep && !o.test)
	m.notifier = notify.New(settings.Notify && !o.test)
	send := func(ev workflow.Event) { m.Send(ctx, ev) }

	var hk hotkey.Hotkey
	var fakeHK *hotkey.FakeHotkey
	if o.test {
		fakeHK = hotkey.NewFake()
		hk = fakeHK
	} else {
		hk = hotkey.New()
	}
	if err := hk.Register(); err != nil {
		log.Errorf("hotkey register error: %v", err)
		fmt.Printf("Error registering hotkey: %v\n", err)
		os.Exit(1)
	}
	defer hk.Unregister()

	hy := hotkey.NewHybrid(ctx, hk, o.longPress)
	go func() {
		for a := range actionsUntil(ctx, hy) {
			if a.Kind == hotkey.Stop {
				log.Info("hotkey_stop_" + string(a.Mode))
			}
			send(workflow.Toggle{})
		}
	}()

	shutdown.Watch(ctx, func(sig os.Signal) {
		log.Infof("received %s, shutting down", sig)
		send(workflow.Exit{})
	})

	if o.test {
		go driveStdin(ctx, os.Stdin, m, fakeHK, fake)
	} else if !o.noTUI {
		tuiMu.Lock()
		modeLine := func(s config.Settings) string { return modeLineText(tr, s, dial) }
		tuiProgram = NewTUIProgram(wave, collector.Summary, store, modeLine, send)
		tuiMu.Unlock()
		m.render = renderState
		go func() {
			if _, err := tuiProgram.Run(); err != nil {
				log.Errorf("TUI error: %v", err)
			}
			send(workflow.Exit{})
		}()
		tuiSend(ModeLineMsg{Text: modeLine(settings)})
		if dc, err := cache.Get(); err == nil {
			tuiSend(DeviceLineMsg{Text: "mic: " + dc.DeviceName()})
		}
	}

	m.Run(ctx)
	cancel()
	log.SessionEnd(int(collector.Summary().SuccessfulCycles))
	if tuiProgram != nil {
		tuiProgram.Quit()
	}
}

// actionsUntil adapts the hybrid controller's channel to ctx.
func actionsUntil(ctx context.Context, hy *hotkey.Hybrid) <-chan hotkey.Action {
	out := make(chan hotkey.Action)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-hy.Done():
				return
			case a := <-hy.Actions():
				select {
				case out <- a:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
