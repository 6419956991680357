package scheduler

import (
	"time"

	"github.com/smallbiznis/railmeter/internal/config"
)

// Config controls scheduler intervals and job toggles.
type Config struct {
	RunInterval    time.Duration
	JobTimeout     time.Duration
	LockTTL        time.Duration
	Repair         bool
	PushgatewayURL string
	RemoteWriteURL string
	RemoteWriteKey string
	Service        string
	Environment    string
	EnabledJobs    []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval: 15 * time.Minute,
		JobTimeout:  5 * time.Minute,
		Repair:      true,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:    cfg.Reconcile.Interval,
		Repair:         cfg.Reconcile.Repair,
		PushgatewayURL: cfg.Reconcile.PushgatewayURL,
		RemoteWriteURL: cfg.Reconcile.RemoteWriteURL,
		RemoteWriteKey: cfg.Reconcile.RemoteWriteToken,
		Service:        cfg.AppName,
		Environment:    cfg.Environment,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = c.JobTimeout + 30*time.Second
	}
	return c
}
