package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vokey/log"
)

// Prom holds the exported series. A nil *Prom ignores every update.
type Prom struct {
	Registry *prometheus.Registry

	CyclesStarted   prometheus.Counter
	CyclesEnded     *prometheus.CounterVec
	CycleDuration   prometheus.Histogram
	RecordingLength prometheus.Histogram
	RecordingBytes  prometheus.Histogram
	Transcription   prometheus.Histogram
	Errors          *prometheus.CounterVec
}

func NewProm() *Prom {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Prom{
		Registry: reg,
		CyclesStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "vokey_cycles_started_total",
			Help: "Recording cycles started",
		}),
		CyclesEnded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vokey_cycles_ended_total",
			Help: "Recording cycles ended, by outcome",
		}, []string{"outcome"}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vokey_cycle_duration_seconds",
			Help:    "Time from hotkey press to cycle end",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		RecordingLength: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vokey_recording_duration_seconds",
			Help:    "Length of captured recordings",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		RecordingBytes: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vokey_recording_size_bytes",
			Help:    "Size of finalized WAV files",
			Buckets: prometheus.ExponentialBuckets(16*1024, 2, 10),
		}),
		Transcription: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vokey_transcription_duration_seconds",
			Help:    "Batch transcription request time",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		Errors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vokey_errors_total",
			Help: "Recorded errors, by type",
		}, []string{"type"}),
	}
}

func (p *Prom) cycleStarted() {
	if p != nil {
		p.CyclesStarted.Inc()
	}
}

func (p *Prom) cycleEnded(outcome string, d time.Duration) {
	if p == nil {
		return
	}
	p.CyclesEnded.WithLabelValues(outcome).Inc()
	if outcome != "cancelled" {
		p.CycleDuration.Observe(d.Seconds())
	}
}

func (p *Prom) recordingStopped(d time.Duration, size int64) {
	if p == nil {
		return
	}
	p.RecordingLength.Observe(d.Seconds())
	p.RecordingBytes.Observe(float64(size))
}

func (p *Prom) transcribed(d time.Duration) {
	if p != nil {
		p.Transcription.Observe(d.Seconds())
	}
}

func (p *Prom) errored(errType string) {
	if p != nil {
		p.Errors.WithLabelValues(errType).Inc()
	}
}

// Handler serves /metrics from p and /summary, /history, /errors from c.
func Handler(c *Collector, p *Prom) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(p.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/summary", func(w http.ResponseWriter, _ *http.Request) { writeJSON(w, c.Summary()) })
	mux.HandleFunc("/history", func(w http.ResponseWriter, _ *http.Request) { writeJSON(w, c.History()) })
	mux.HandleFunc("/errors", func(w http.ResponseWriter, _ *http.Request) { writeJSON(w, c.Errors()) })
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Serve runs the metrics endpoint until ctx is done.
func Serve(ctx context.Context, addr string, c *Collector, p *Prom) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      Handler(c, p),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	log.Infof("metrics listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
