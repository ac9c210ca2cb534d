package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the asyncflow CLI configuration.
// Priority: env vars > .env > settings.json > defaults.
type Config struct {
	LogLevel      string   `json:"log_level"`
	PoolSize      int      `json:"pool_size"`
	SignalTimeout Duration `json:"signal_timeout"`
	WSURL         string   `json:"ws_url"`
}

// Duration is a time.Duration written as a Go duration string in JSON.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func defaultConfig() Config {
	return Config{
		LogLevel:      "info",
		PoolSize:      10,
		SignalTimeout: Duration(30 * time.Second),
	}
}

func asyncflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".asyncflow"
	}
	return filepath.Join(home, ".asyncflow")
}

func settingsPath() string {
	return filepath.Join(asyncflowDir(), "settings.json")
}

func binDir() string {
	return filepath.Join(asyncflowDir(), "bin")
}

func loadConfig() Config {
	return loadConfigFrom(settingsPath(), ".env")
}

func loadConfigFrom(settings, dotenv string) Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settings); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: .env (ignore if missing). Real env vars win over it.
	fileEnv, _ := godotenv.Read(dotenv)
	lookup := func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		return fileEnv[key]
	}

	// Layer 4: env vars override.
	if v := lookup("ASYNCFLOW_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := lookup("ASYNCFLOW_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := lookup("ASYNCFLOW_SIGNAL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SignalTimeout = Duration(d)
		}
	}
	if v := lookup("ASYNCFLOW_WS_URL"); v != "" {
		cfg.WSURL = v
	}

	return cfg
}
