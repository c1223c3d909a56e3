package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

func stringKey(key, env string, field func(cfg *Config) *string) keySpec {
	return keySpec{
		key: key, typ: kString, env: env,
		apply:   func(cfg *Config, v any) { *field(cfg) = v.(string) },
		extract: func(cfg Config) any { return *field(&cfg) },
	}
}

func intKey(key, env string, field func(cfg *Config) *int) keySpec {
	return keySpec{
		key: key, typ: kInt, env: env,
		apply:   func(cfg *Config, v any) { *field(cfg) = v.(int) },
		extract: func(cfg Config) any { return *field(&cfg) },
	}
}

func durationKey(key, env string, field func(cfg *Config) *time.Duration) keySpec {
	return keySpec{
		key: key, typ: kDuration, env: env,
		apply:   func(cfg *Config, v any) { *field(cfg) = v.(time.Duration) },
		extract: func(cfg Config) any { return *field(&cfg) },
	}
}

var specs = []keySpec{
	intKey("server.port", "DOCPARSE_SERVER_PORT", func(c *Config) *int { return &c.Server.Port }),
	{
		key: "server.token", typ: kString, env: "DOCPARSE_SERVER_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	intKey("server.max_upload_bytes", "DOCPARSE_SERVER_MAX_UPLOAD_BYTES", func(c *Config) *int { return &c.Server.MaxUploadBytes }),
	stringKey("storage.data_dir", "DOCPARSE_STORAGE_DATA_DIR", func(c *Config) *string { return &c.Storage.DataDir }),
	stringKey("storage.upload_dir", "DOCPARSE_STORAGE_UPLOAD_DIR", func(c *Config) *string { return &c.Storage.UploadDir }),
	stringKey("storage.artifact_dir", "DOCPARSE_STORAGE_ARTIFACT_DIR", func(c *Config) *string { return &c.Storage.ArtifactDir }),
	durationKey("worker.poll_interval", "DOCPARSE_WORKER_POLL_INTERVAL", func(c *Config) *time.Duration { return &c.Worker.PollInterval }),
	{
		key: "worker.progress", typ: kBool, env: "DOCPARSE_WORKER_PROGRESS",
		apply:   func(cfg *Config, v any) { cfg.Worker.Progress = v.(bool) },
		extract: func(cfg Config) any { return cfg.Worker.Progress },
	},
	stringKey("convert.backend", "DOCPARSE_CONVERT_BACKEND", func(c *Config) *string { return &c.Convert.Backend }),
	durationKey("convert.timeout", "DOCPARSE_CONVERT_TIMEOUT", func(c *Config) *time.Duration { return &c.Convert.Timeout }),
	intKey("convert.thumbnail_width", "DOCPARSE_CONVERT_THUMBNAIL_WIDTH", func(c *Config) *int { return &c.Convert.ThumbnailWidth }),
	stringKey("convert.pdftotext", "DOCPARSE_CONVERT_PDFTOTEXT", func(c *Config) *string { return &c.Convert.PDFToText }),
	stringKey("convert.pdfinfo", "DOCPARSE_CONVERT_PDFINFO", func(c *Config) *string { return &c.Convert.PDFInfo }),
	stringKey("convert.pdfimages", "DOCPARSE_CONVERT_PDFIMAGES", func(c *Config) *string { return &c.Convert.PDFImages }),
	stringKey("convert.pdftoppm", "DOCPARSE_CONVERT_PDFTOPPM", func(c *Config) *string { return &c.Convert.PDFToPPM }),
	stringKey("convert.docx2txt", "DOCPARSE_CONVERT_DOCX2TXT", func(c *Config) *string { return &c.Convert.DOCX2Txt }),
	stringKey("convert.xlsx2csv", "DOCPARSE_CONVERT_XLSX2CSV", func(c *Config) *string { return &c.Convert.XLSX2CSV }),
	stringKey("log.level", "DOCPARSE_LOG_LEVEL", func(c *Config) *string { return &c.Log.Level }),
}

// parseValue converts a raw string to the Go type of typ.
func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
