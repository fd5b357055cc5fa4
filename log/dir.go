package log

import (
	"os"
	"path/filepath"
	"runtime"
)

// getDefaultDir is ~/Library/Logs/vokey on macOS, %LocalAppData%\vokey\logs
// on Windows and $XDG_CONFIG_HOME/vokey/logs elsewhere.
func getDefaultDir() (string, error) {
	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Logs", "vokey"), nil
	case "windows":
		// UserCacheDir is %LocalAppData% on Windows
		base, err := os.UserCacheDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(base, "vokey", "logs"), nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "vokey", "logs"), nil
}
