package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"vokey/log"
)

const DefaultMaxRecordings = 5

// RecordingsDir returns the directory recordings are written to, creating it.
// VOKEY_RECORDINGS_DIR overrides the platform default.
func RecordingsDir() (string, error) {
	dir := os.Getenv("VOKEY_RECORDINGS_DIR")
	if dir == "" {
		base, err := dataDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(base, "vokey", "recordings")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating recordings dir: %w", err)
	}
	return dir, nil
}

func dataDir() (string, error) {
	if runtime.GOOS == "linux" {
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return xdg, nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".local", "share"), nil
	}
	return os.UserCacheDir()
}

// RecordingPath names a recording <unix_ts>_<id>.wav inside dir.
func RecordingPath(dir string, id uuid.UUID, now time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("%d_%s.wav", now.Unix(), id))
}

// MaxRecordings reads VOKEY_MAX_RECORDINGS, falling back to def on absence or
// garbage.
func MaxRecordings(def int) int {
	v := strings.TrimSpace(os.Getenv("VOKEY_MAX_RECORDINGS"))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		log.Warnf("ignoring VOKEY_MAX_RECORDINGS=%q", v)
		return def
	}
	return n
}

// CleanupOldRecordings deletes all but the newest keep .wav files in dir and
// returns how many were removed.
func CleanupOldRecordings(dir string, keep int) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	type rec struct {
		path string
		mod  time.Time
	}
	var recs []rec
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".wav" {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			log.Warnf("stat %s: %v", e.Name(), err)
			continue
		}
		recs = append(recs, rec{filepath.Join(dir, e.Name()), fi.ModTime()})
	}
	if len(recs) <= keep {
		return 0, nil
	}

	sort.Slice(recs, func(i, j int) bool { return recs[i].mod.After(recs[j].mod) })
	removed := 0
	for _, r := range recs[keep:] {
		if err := os.Remove(r.path); err != nil {
			log.Warnf("removing old recording %s: %v", r.path, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		log.Infof("removed %d old recordings", removed)
	}
	return removed, nil
}
