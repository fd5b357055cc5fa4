package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// LoadEnv reads .env files from the working directory and the settings dir.
// Variables already set in the environment win. Returns the files loaded.
func LoadEnv(settingsDir string) ([]string, error) {
	var loaded []string
	candidates := []string{".env"}
	if settingsDir != "" {
		candidates = append(candidates, filepath.Join(settingsDir, ".env"))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return loaded, err
		}
		loaded = append(loaded, p)
	}
	return loaded, nil
}

// ApplyEnv overlays environment overrides onto s.
func ApplyEnv(s *Settings) {
	if v, err := strconv.Atoi(os.Getenv("VOKEY_MAX_RECORDINGS")); err == nil && v >= 0 {
		s.MaxRecordings = v
	}
}
