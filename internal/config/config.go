package config

import (
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	BaseURL         string
	Static          bool
	AutoInstantiate bool

	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	RetryBackoff   []time.Duration
	MaxFrameSize   int

	HealthInterval         time.Duration
	HealthTimeout          time.Duration
	HealthDownWindow       time.Duration
	HealthDownFailures     int
	HealthRecoverSuccesses int

	HistoryDBPath    string
	HistoryRetention time.Duration
}

func DefaultConfig() Config {
	return Config{
		BaseURL:                "http://127.0.0.1:2718",
		ConnectTimeout:         3 * time.Second,
		WriteTimeout:           5 * time.Second,
		RetryBackoff:           []time.Duration{250 * time.Millisecond, 1 * time.Second, 4 * time.Second},
		MaxFrameSize:           1 << 20,
		HealthInterval:         500 * time.Millisecond,
		HealthTimeout:          60 * time.Second,
		HealthDownWindow:       30 * time.Second,
		HealthDownFailures:     3,
		HealthRecoverSuccesses: 2,
		HistoryDBPath:          defaultHistoryDBPath(),
		HistoryRetention:       7 * 24 * time.Hour,
	}
}

func defaultHistoryDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "kernel-history.db"
	}
	return filepath.Join(home, ".local", "state", "marimo", "kernel-history.db")
}
