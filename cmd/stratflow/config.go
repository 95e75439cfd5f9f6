package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all stratflow server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr       string `json:"listen_addr"`
	DBPath           string `json:"db_path"`
	LogLevel         string `json:"log_level"`
	PoolSize         int    `json:"pool_size"`
	PollIntervalSecs int    `json:"poll_interval_secs"`
	AutosaveSecs     int    `json:"autosave_secs"`
	Scheduler        bool   `json:"scheduler"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr:       ":4200",
		DBPath:           filepath.Join(stratflowDir(), "stratflow.db"),
		LogLevel:         "info",
		PoolSize:         4,
		PollIntervalSecs: 2,
		AutosaveSecs:     30,
		Scheduler:        true,
	}
}

func stratflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".stratflow"
	}
	return filepath.Join(home, ".stratflow")
}

func settingsPath() string {
	return filepath.Join(stratflowDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("STRATFLOW_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("STRATFLOW_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("STRATFLOW_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("STRATFLOW_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := os.Getenv("STRATFLOW_POLL_INTERVAL_SECS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PollIntervalSecs = n
		}
	}
	if v := os.Getenv("STRATFLOW_AUTOSAVE_SECS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.AutosaveSecs = n
		}
	}
	if v := os.Getenv("STRATFLOW_SCHEDULER"); v != "" {
		cfg.Scheduler = v == "true" || v == "1"
	}

	return cfg
}
