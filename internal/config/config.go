package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Worker  WorkerConfig
	Convert ConvertConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port           int
	Token          string
	MaxUploadBytes int
}

type StorageConfig struct {
	DataDir     string
	UploadDir   string
	ArtifactDir string
}

// Uploads returns the upload directory, defaulting to DataDir/uploads.
func (s StorageConfig) Uploads() string {
	if s.UploadDir != "" {
		return s.UploadDir
	}
	return filepath.Join(s.DataDir, "uploads")
}

// Artifacts returns the directory for extracted images, defaulting to
// DataDir/images.
func (s StorageConfig) Artifacts() string {
	if s.ArtifactDir != "" {
		return s.ArtifactDir
	}
	return filepath.Join(s.DataDir, "images")
}

type WorkerConfig struct {
	PollInterval time.Duration
	Progress     bool
}

type ConvertConfig struct {
	Backend        string
	Timeout        time.Duration
	ThumbnailWidth int
	PDFToText      string
	PDFInfo        string
	PDFImages      string
	PDFToPPM       string
	DOCX2Txt       string
	XLSX2CSV       string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:           8080,
			MaxUploadBytes: 50 << 20,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Worker: WorkerConfig{
			PollInterval: 5 * time.Second,
			Progress:     true,
		},
		Convert: ConvertConfig{
			Backend:        "native",
			Timeout:        60 * time.Second,
			ThumbnailWidth: 300,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "docparse-data"
		}
	}
	return filepath.Join(dir, "docparse")
}

// DotEnvFile is loaded into the environment before overrides are applied,
// when it exists. Variables already set in the environment win.
const DotEnvFile = ".env"

// Load reads configuration from the JSON file at
// $XDG_CONFIG_HOME/docparse/config.json, then applies DOCPARSE_* environment
// variables (including any from a .env file in the working directory).
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()), DotEnvFile)
}

func loadWith(b ConfigBackend, envFile string) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}
	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("server.max_upload_bytes must be positive")
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir must be set")
	}
	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("worker.poll_interval must be positive")
	}
	switch c.Convert.Backend {
	case "native", "cli":
	default:
		return fmt.Errorf("convert.backend %q must be \"native\" or \"cli\"", c.Convert.Backend)
	}
	if c.Convert.Timeout < 0 {
		return fmt.Errorf("convert.timeout must not be negative")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q must be debug, info, warn or error", c.Log.Level)
	}
	return nil
}
