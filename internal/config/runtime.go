package config

import (
	"os"
	"path/filepath"
)

// RuntimeConfig holds the filesystem layout the server operates on. The
// sessions directory is written by the task-mind CLI and other agent
// launchers; this process only ever reads it.
type RuntimeConfig struct {
	HomeDir     string
	DataDir     string // ~/.task-mind
	SessionsDir string // ~/.task-mind/sessions/claude
}

// Runtime is the process-wide runtime configuration instance.
var Runtime *RuntimeConfig

func init() {
	Runtime = DetectRuntime()
}

// DetectRuntime resolves the data directories for the current user.
func DetectRuntime() *RuntimeConfig {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = os.Getenv("HOME")
		if homeDir == "" {
			homeDir = "."
		}
	}

	dataDir := filepath.Join(homeDir, ".task-mind")

	return &RuntimeConfig{
		HomeDir:     homeDir,
		DataDir:     dataDir,
		SessionsDir: filepath.Join(dataDir, "sessions", "claude"),
	}
}

// ConfigFilePath returns the default location of the server config file.
func (rc *RuntimeConfig) ConfigFilePath() string {
	return filepath.Join(rc.DataDir, "config.yaml")
}
