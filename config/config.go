// Package config holds the persisted user settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const FileName = "settings.yaml"

// Settings is read once at the start of every recording cycle.
type Settings struct {
	MinTranscribeMs     int  `yaml:"min_transcribe_ms"`
	ShortClipVADEnabled bool `yaml:"short_clip_vad_enabled"`
	VADCheckMaxMs       int  `yaml:"vad_check_max_ms"`
	VADIgnoreStartMs    int  `yaml:"vad_ignore_start_ms"`
	StreamingEnabled    bool `yaml:"streaming_enabled"`

	VADMinSpeechFrames    int     `yaml:"vad_min_speech_frames"`
	VADMaxCrestFactor     float64 `yaml:"vad_max_crest_factor"`
	NoSpeechProbThreshold float64 `yaml:"no_speech_prob_threshold"`
	NoSpeechMaxChars      int     `yaml:"no_speech_max_chars"`
	MaxRecordings         int     `yaml:"max_recordings"`

	Provider     string `yaml:"provider"`
	Language     string `yaml:"language"`
	UploadFormat string `yaml:"upload_format"`
	AutoPaste    bool   `yaml:"auto_paste"`
	Beep         bool   `yaml:"beep"`
	Notify       bool   `yaml:"notify"`
}

func Defaults() Settings {
	return Settings{
		MinTranscribeMs:       500,
		ShortClipVADEnabled:   true,
		VADCheckMaxMs:         1500,
		VADIgnoreStartMs:      80,
		StreamingEnabled:      true,
		VADMinSpeechFrames:    3,
		VADMaxCrestFactor:     12.0,
		NoSpeechProbThreshold: 0.8,
		NoSpeechMaxChars:      12,
		MaxRecordings:         5,
		UploadFormat:          "flac",
		Beep:                  true,
		Notify:                true,
	}
}

func (s *Settings) Validate() error {
	if s.MinTranscribeMs < 0 {
		return fmt.Errorf("min_transcribe_ms cannot be negative, got %d", s.MinTranscribeMs)
	}
	if s.VADCheckMaxMs < 0 {
		return fmt.Errorf("vad_check_max_ms cannot be negative, got %d", s.VADCheckMaxMs)
	}
	if s.VADIgnoreStartMs < 0 {
		return fmt.Errorf("vad_ignore_start_ms cannot be negative, got %d", s.VADIgnoreStartMs)
	}
	if s.VADMinSpeechFrames < 0 {
		return fmt.Errorf("vad_min_speech_frames cannot be negative, got %d", s.VADMinSpeechFrames)
	}
	if s.VADMaxCrestFactor <= 0 {
		return fmt.Errorf("vad_max_crest_factor must be positive, got %f", s.VADMaxCrestFactor)
	}
	if s.NoSpeechProbThreshold < 0 || s.NoSpeechProbThreshold > 1 {
		return fmt.Errorf("no_speech_prob_threshold must be between 0 and 1, got %f", s.NoSpeechProbThreshold)
	}
	if s.NoSpeechMaxChars < 0 {
		return fmt.Errorf("no_speech_max_chars cannot be negative, got %d", s.NoSpeechMaxChars)
	}
	if s.MaxRecordings < 0 {
		return fmt.Errorf("max_recordings cannot be negative, got %d", s.MaxRecordings)
	}
	switch s.UploadFormat {
	case "flac", "wav":
	default:
		return fmt.Errorf("upload_format must be 'flac' or 'wav', got '%s'", s.UploadFormat)
	}
	switch s.Provider {
	case "", "openai", "groq", "deepgram":
	default:
		return fmt.Errorf("unknown provider '%s'", s.Provider)
	}
	return nil
}

// Dir resolves the settings directory: flag, then VOKEY_CONFIG_DIR, then the
// OS user config dir.
func Dir(flagPath string) (string, error) {
	if flagPath != "" {
		return filepath.Abs(flagPath)
	}
	if env := os.Getenv("VOKEY_CONFIG_DIR"); env != "" {
		return filepath.Abs(env)
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "vokey"), nil
}

// Load reads settings from path. A missing file yields the defaults; keys
// absent from the file keep their default values.
func Load(path string) (Settings, error) {
	s := Defaults()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("failed to read settings %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Defaults(), fmt.Errorf("failed to parse settings %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return Defaults(), fmt.Errorf("settings validation failed: %w", err)
	}
	return s, nil
}

// Save writes settings through a temp file and rename.
func Save(path string, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(&s)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create settings dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".settings-*.yaml")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}
