package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// memBackend is an in-memory ConfigBackend for tests.
type memBackend struct {
	data map[string]any
}

func newMemBackend(kv map[string]any) *memBackend {
	if kv == nil {
		kv = map[string]any{}
	}
	return &memBackend{data: kv}
}

func (m *memBackend) GetString(key string) (string, bool, error) {
	v, ok := m.data[key]
	if !ok {
		return "", false, nil
	}
	s, _ := v.(string)
	return s, true, nil
}

func (m *memBackend) GetInt(key string) (int, bool, error) {
	v, ok := m.data[key]
	if !ok {
		return 0, false, nil
	}
	i, _ := v.(int)
	return i, true, nil
}

func (m *memBackend) SetString(key, val string) error { m.data[key] = val; return nil }
func (m *memBackend) SetInt(key string, val int) error { m.data[key] = val; return nil }
func (m *memBackend) Delete(key string) error          { delete(m.data, key); return nil }

// clearEnv blanks every DOCPARSE_* variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("XDG_DATA_HOME", "/var/lib/test")

	cfg, err := loadWith(newMemBackend(nil), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.MaxUploadBytes != 50<<20 {
		t.Errorf("Server.MaxUploadBytes = %d", cfg.Server.MaxUploadBytes)
	}
	if cfg.Storage.DataDir != "/var/lib/test/docparse" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Storage.Uploads() != "/var/lib/test/docparse/uploads" {
		t.Errorf("Uploads() = %q", cfg.Storage.Uploads())
	}
	if cfg.Storage.Artifacts() != "/var/lib/test/docparse/images" {
		t.Errorf("Artifacts() = %q", cfg.Storage.Artifacts())
	}
	if cfg.Worker.PollInterval != 5*time.Second || !cfg.Worker.Progress {
		t.Errorf("Worker = %+v", cfg.Worker)
	}
	if cfg.Convert.Backend != "native" || cfg.Convert.Timeout != time.Minute || cfg.Convert.ThumbnailWidth != 300 {
		t.Errorf("Convert = %+v", cfg.Convert)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

func TestBackendValues(t *testing.T) {
	clearEnv(t)
	b := newMemBackend(map[string]any{
		"server.port":          9090,
		"storage.upload_dir":   "/srv/uploads",
		"worker.poll_interval": "250ms",
		"worker.progress":      "false",
		"convert.backend":      "cli",
		"convert.xlsx2csv":     "/opt/bin/xlsx2csv",
	})

	cfg, err := loadWith(b, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d", cfg.Server.Port)
	}
	if cfg.Storage.Uploads() != "/srv/uploads" {
		t.Errorf("Uploads() = %q", cfg.Storage.Uploads())
	}
	if cfg.Worker.PollInterval != 250*time.Millisecond || cfg.Worker.Progress {
		t.Errorf("Worker = %+v", cfg.Worker)
	}
	if cfg.Convert.Backend != "cli" || cfg.Convert.XLSX2CSV != "/opt/bin/xlsx2csv" {
		t.Errorf("Convert = %+v", cfg.Convert)
	}
}

func TestBadBackendValueKeepsDefault(t *testing.T) {
	clearEnv(t)
	cfg, err := loadWith(newMemBackend(map[string]any{"convert.timeout": "soon"}), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Convert.Timeout != time.Minute {
		t.Errorf("Convert.Timeout = %v, want default", cfg.Convert.Timeout)
	}
}

func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("DOCPARSE_SERVER_PORT", "7000")
	t.Setenv("DOCPARSE_SERVER_TOKEN", "secret")
	t.Setenv("DOCPARSE_CONVERT_TIMEOUT", "2m")

	cfg, err := loadWith(newMemBackend(map[string]any{"server.port": 9090}), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 7000 {
		t.Errorf("Server.Port = %d, want env value 7000", cfg.Server.Port)
	}
	if cfg.Server.Token != "secret" {
		t.Errorf("Server.Token = %q", cfg.Server.Token)
	}
	if cfg.Convert.Timeout != 2*time.Minute {
		t.Errorf("Convert.Timeout = %v", cfg.Convert.Timeout)
	}
}

func TestDotEnvFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("DOCPARSE_LOG_LEVEL=debug\nDOCPARSE_SERVER_PORT=6000\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	// an explicit environment value beats the file
	t.Setenv("DOCPARSE_SERVER_PORT", "6500")
	t.Cleanup(func() { os.Unsetenv("DOCPARSE_LOG_LEVEL") })
	os.Unsetenv("DOCPARSE_LOG_LEVEL")

	cfg, err := loadWith(newMemBackend(nil), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug from .env", cfg.Log.Level)
	}
	if cfg.Server.Port != 6500 {
		t.Errorf("Server.Port = %d, want 6500", cfg.Server.Port)
	}
}

func TestMissingDotEnvIsIgnored(t *testing.T) {
	clearEnv(t)
	if _, err := loadWith(newMemBackend(nil), filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("missing .env should be ignored: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"upload", func(c *Config) { c.Server.MaxUploadBytes = 0 }, "max_upload_bytes"},
		{"poll", func(c *Config) { c.Worker.PollInterval = 0 }, "poll_interval"},
		{"backend", func(c *Config) { c.Convert.Backend = "magic" }, "convert.backend"},
		{"timeout", func(c *Config) { c.Convert.Timeout = -time.Second }, "convert.timeout"},
		{"log", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error mentioning %q", err, tt.want)
			}
		})
	}
	if err := defaults().Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestSetKey(t *testing.T) {
	b := newMemBackend(nil)

	if err := setKeyIn(b, "server.port", "9000"); err != nil {
		t.Fatalf("setKeyIn: %v", err)
	}
	if b.data["server.port"] != 9000 {
		t.Errorf("server.port stored as %v", b.data["server.port"])
	}
	if err := setKeyIn(b, "worker.poll_interval", "1s"); err != nil {
		t.Fatalf("setKeyIn: %v", err)
	}
	if err := setKeyIn(b, "worker.poll_interval", "often"); err == nil {
		t.Error("expected error for invalid duration")
	}
	if err := setKeyIn(b, "server.token", "x"); err == nil || !strings.Contains(err.Error(), "DOCPARSE_SERVER_TOKEN") {
		t.Errorf("expected secret rejection, got %v", err)
	}
	if err := setKeyIn(b, "no.such.key", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestFileBackendRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docparse", "config.json")
	b := newFileBackend(path)
	if err := b.SetInt("server.port", 8181); err != nil {
		t.Fatal(err)
	}
	if err := b.SetString("convert.backend", "cli"); err != nil {
		t.Fatal(err)
	}

	reloaded := newFileBackend(path)
	if v, ok, err := reloaded.GetInt("server.port"); err != nil || !ok || v != 8181 {
		t.Errorf("GetInt = %d, %v, %v", v, ok, err)
	}
	if v, ok, _ := reloaded.GetString("convert.backend"); !ok || v != "cli" {
		t.Errorf("GetString = %q, %v", v, ok)
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Server.Token = "hunter2"
	for _, ki := range ShowAll(cfg) {
		if ki.Key == "server.token" || ki.Value == "hunter2" {
			t.Errorf("secret leaked in ShowAll: %+v", ki)
		}
	}
	for _, k := range ValidKeys() {
		if k == "server.token" {
			t.Error("secret listed in ValidKeys")
		}
	}
	if len(ValidKeys()) != len(specs)-1 {
		t.Errorf("ValidKeys() = %d keys, want %d", len(ValidKeys()), len(specs)-1)
	}
}
