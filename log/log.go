// Package log owns vokey's two log files: diagnostics_log.txt (zerolog
// console lines) and transcribe_log.txt (one tab-separated line per
// delivered transcript). Every helper is a no-op until Init succeeds.
package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	diagName       = "diagnostics_log.txt"
	transcribeName = "transcribe_log.txt"

	// diagnostics_log.txt is moved aside to .1 at Init once it grows past this
	rotateBytes = 10 << 20
)

var (
	diagLog        zerolog.Logger
	diagFile       *os.File
	transcribeFile *os.File
	logMu          sync.Mutex
	readyFlag      atomic.Bool
	pid            int
	dir            string
)

func ready() bool { return readyFlag.Load() }

// ResolveDir picks the log directory: the -logpath flag, then
// VOKEY_LOG_PATH, then the OS default.
func ResolveDir(flagPath string) (string, error) {
	if flagPath != "" {
		return absPath(flagPath)
	}
	if envPath := os.Getenv("VOKEY_LOG_PATH"); envPath != "" {
		return absPath(envPath)
	}
	return getDefaultDir()
}

func absPath(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) { dir = d }

func Dir() string { return dir }

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

// ParseLevel maps VOKEY_LOG_LEVEL values onto zerolog levels. Empty means
// info.
func ParseLevel(s string) (zerolog.Level, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.InfoLevel, fmt.Errorf("invalid log level %q", s)
	}
	return lvl, nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}
	pid = os.Getpid()

	diagPath := filepath.Join(dir, diagName)
	rotate(diagPath)

	var err error
	diagFile, err = os.OpenFile(diagPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	transcribeFile, err = os.OpenFile(filepath.Join(dir, transcribeName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		diagFile.Close()
		return err
	}

	lvl, lvlErr := ParseLevel(os.Getenv("VOKEY_LOG_LEVEL"))
	diagLog = zerolog.New(zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05.000",
		NoColor:    true,
	}).Level(lvl).With().Timestamp().Int("pid", pid).Logger()

	readyFlag.Store(true)
	if lvlErr != nil {
		diagLog.Warn().Msg(lvlErr.Error() + ", using info")
	}
	return nil
}

func rotate(path string) {
	fi, err := os.Stat(path)
	if err != nil || fi.Size() < rotateBytes {
		return
	}
	os.Rename(path, path+".1")
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	readyFlag.Store(false)
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if transcribeFile != nil {
		transcribeFile.Close()
		transcribeFile = nil
	}
}

func msgAt(lvl zerolog.Level, msg string) {
	if !ready() {
		return
	}
	diagLog.WithLevel(lvl).Msg(msg)
}

func logf(lvl zerolog.Level, format string, args ...any) {
	if !ready() {
		return
	}
	diagLog.WithLevel(lvl).Msg(fmt.Sprintf(format, args...))
}

func Debugf(format string, args ...any) { logf(zerolog.DebugLevel, format, args...) }
func Info(msg string)                   { msgAt(zerolog.InfoLevel, msg) }
func Infof(format string, args ...any)  { logf(zerolog.InfoLevel, format, args...) }
func Warn(msg string)                   { msgAt(zerolog.WarnLevel, msg) }
func Warnf(format string, args ...any)  { logf(zerolog.WarnLevel, format, args...) }
func Error(msg string)                  { msgAt(zerolog.ErrorLevel, msg) }
func Errorf(format string, args ...any) { logf(zerolog.ErrorLevel, format, args...) }

// TranscriptionText appends text to transcribe_log.txt. Newlines are
// flattened so every transcript stays on one line.
func TranscriptionText(text string) {
	if !ready() {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	if transcribeFile == nil {
		return
	}
	text = strings.ReplaceAll(strings.ReplaceAll(text, "\r", " "), "\n", " ")
	fmt.Fprintf(transcribeFile, "%s\t[%d]\t%s\n", time.Now().Format("2006-01-02 15:04:05"), pid, text)
}

func SessionStart(provider, format string, streaming bool) {
	if !ready() {
		return
	}
	diagLog.Info().
		Str("provider", provider).
		Str("format", format).
		Bool("streaming", streaming).
		Msg("session_start")
}

func SessionEnd(count int) {
	if !ready() {
		return
	}
	diagLog.Info().Int("count", count).Msg("session_end")
}
