package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds the engine configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath        string `json:"db_path"`
	WorkDir       string `json:"work_dir"`
	LogLevel      string `json:"log_level"`
	StepTimeoutMS int64  `json:"step_timeout_ms"`
	MaxOutputSize int64  `json:"max_output_size"`
	MCP           bool   `json:"mcp"`
}

func defaultConfig() Config {
	return Config{
		DBPath:        filepath.Join(seqrunDir(), "seqrun.db"),
		WorkDir:       filepath.Join(seqrunDir(), "work"),
		LogLevel:      "info",
		StepTimeoutMS: 30000,
	}
}

func seqrunDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".seqrun"
	}
	return filepath.Join(home, ".seqrun")
}

func settingsPath() string {
	return filepath.Join(seqrunDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("SEQRUN_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("SEQRUN_WORK_DIR"); v != "" {
		cfg.WorkDir = v
	}
	if v := os.Getenv("SEQRUN_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SEQRUN_STEP_TIMEOUT_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.StepTimeoutMS = n
		}
	}
	if v := os.Getenv("SEQRUN_MAX_OUTPUT_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxOutputSize = n
		}
	}
	if v := os.Getenv("SEQRUN_MCP"); v != "" {
		cfg.MCP = v == "true" || v == "1"
	}

	return cfg
}
