package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// MeteringConfig is the seed catalog and default quota policy loaded from metering.yml.
type MeteringConfig struct {
	DefaultPlan  string           `mapstructure:"defaultPlan"`
	Events       []EventSeed      `mapstructure:"events"`
	Capabilities []CapabilitySeed `mapstructure:"capabilities"`
	Plans        []PlanSeed       `mapstructure:"plans"`
	DailyLimits  map[string]int   `mapstructure:"dailyLimits"`
}

type EventSeed struct {
	Key                string `mapstructure:"key"`
	UnitName           string `mapstructure:"unitName"`
	DisplayName        string `mapstructure:"displayName"`
	Description        string `mapstructure:"description"`
	CreditsPerUnit     string `mapstructure:"creditsPerUnit"`
	ListPricePerCredit string `mapstructure:"listPricePerCredit"`
	Billable           bool   `mapstructure:"billable"`
}

type CapabilitySeed struct {
	Key         string `mapstructure:"key"`
	Description string `mapstructure:"description"`
}

type PlanSeed struct {
	ID                    string    `mapstructure:"id"`
	Name                  string    `mapstructure:"name"`
	IncludedCredits       string    `mapstructure:"includedCredits"`
	OveragePricePerCredit string    `mapstructure:"overagePricePerCredit"`
	Capabilities          []string  `mapstructure:"capabilities"`
	Caps                  []CapSeed `mapstructure:"caps"`
}

type CapSeed struct {
	EventKey string `mapstructure:"eventKey"`
	Limit    int64  `mapstructure:"limit"`
}

// DefaultMeteringConfig mirrors the catalog shipped with every new deployment.
func DefaultMeteringConfig() MeteringConfig {
	allCaps := []string{"chat", "tools", "briefs", "notifications", "kpi_ingest", "kpi_read"}
	return MeteringConfig{
		DefaultPlan: "starter",
		Events: []EventSeed{
			{Key: "assistant_query", UnitName: "call", DisplayName: "Assistant query", Description: "Conversational assistant request", CreditsPerUnit: "1.0", ListPricePerCredit: "0.02", Billable: true},
			{Key: "tool_invocation", UnitName: "call", DisplayName: "Tool invocation", Description: "Tool executed through the gateway", CreditsPerUnit: "2.0", ListPricePerCredit: "0.02", Billable: true},
			{Key: "daily_brief_generated", UnitName: "brief", DisplayName: "Daily brief", Description: "Daily brief generated for a tenant", CreditsPerUnit: "5.0", ListPricePerCredit: "0.02", Billable: true},
			{Key: "notification_enqueued", UnitName: "notification", DisplayName: "Notification", Description: "Notification placed in the outbox", CreditsPerUnit: "0.2", ListPricePerCredit: "0.02", Billable: true},
			{Key: "kpi_definition_created", UnitName: "kpi", DisplayName: "KPI definition", Description: "KPI definition created", CreditsPerUnit: "0.5", ListPricePerCredit: "0.02", Billable: true},
			{Key: "kpi_points_ingested", UnitName: "row", DisplayName: "KPI points", Description: "KPI data points ingested", CreditsPerUnit: "0.001", ListPricePerCredit: "0.02", Billable: true},
		},
		Capabilities: []CapabilitySeed{
			{Key: "chat", Description: "Conversational assistant"},
			{Key: "tools", Description: "Tool invocation"},
			{Key: "briefs", Description: "Daily brief generation"},
			{Key: "notifications", Description: "Notification delivery"},
			{Key: "kpi_ingest", Description: "KPI ingestion"},
			{Key: "kpi_read", Description: "KPI read access"},
		},
		Plans: []PlanSeed{
			{
				ID: "starter", Name: "Starter", IncludedCredits: "500", OveragePricePerCredit: "0.02",
				Capabilities: allCaps,
				Caps: []CapSeed{
					{EventKey: "daily_brief_generated", Limit: 50},
					{EventKey: "tool_invocation", Limit: 2000},
				},
			},
			{ID: "growth", Name: "Growth", IncludedCredits: "2000", OveragePricePerCredit: "0.015", Capabilities: allCaps},
			{ID: "scale", Name: "Scale", IncludedCredits: "10000", OveragePricePerCredit: "0.01", Capabilities: allCaps},
		},
		DailyLimits: map[string]int{
			"assistant_query":       100,
			"tool_invocation":       100,
			"daily_brief_generated": 10,
			"notification_enqueued": 500,
		},
	}
}

type MeteringConfigHolder struct {
	current atomic.Value // holds MeteringConfig
}

// NewMeteringConfigHolder loads metering.yml and keeps it fresh on file changes.
func NewMeteringConfigHolder(log *zap.Logger) (*MeteringConfigHolder, error) {
	log = log.Named("config.metering")

	v := viper.New()
	v.SetConfigName("metering")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/railmeter")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetEnvPrefix("RAILMETER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	holder := &MeteringConfigHolder{}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		log.Info("metering config not found, using built-in defaults")
		holder.current.Store(DefaultMeteringConfig())
		return holder, nil
	}

	cfg, err := decodeMeteringConfig(v)
	if err != nil {
		return nil, err
	}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeMeteringConfig(v)
		if err != nil {
			log.Warn("metering config reload rejected", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("metering config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

// NewStaticMeteringConfigHolder wraps a fixed config, mainly for tests.
func NewStaticMeteringConfigHolder(cfg MeteringConfig) *MeteringConfigHolder {
	holder := &MeteringConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *MeteringConfigHolder) Get() MeteringConfig {
	return h.current.Load().(MeteringConfig)
}

// DailyLimit returns the deployment-wide default for a legacy activity type.
func (h *MeteringConfigHolder) DailyLimit(activityType string) (int, bool) {
	limit, ok := h.Get().DailyLimits[activityType]
	return limit, ok
}

func decodeMeteringConfig(v *viper.Viper) (MeteringConfig, error) {
	var cfg MeteringConfig
	if err := v.UnmarshalKey("metering", &cfg); err != nil {
		return MeteringConfig{}, err
	}

	defaults := DefaultMeteringConfig()
	if cfg.DefaultPlan == "" {
		cfg.DefaultPlan = defaults.DefaultPlan
	}
	if len(cfg.Events) == 0 {
		cfg.Events = defaults.Events
	}
	if len(cfg.Capabilities) == 0 {
		cfg.Capabilities = defaults.Capabilities
	}
	if len(cfg.Plans) == 0 {
		cfg.Plans = defaults.Plans
	}
	if cfg.DailyLimits == nil {
		cfg.DailyLimits = map[string]int{}
	}
	for activity, limit := range defaults.DailyLimits {
		if _, ok := cfg.DailyLimits[activity]; !ok {
			cfg.DailyLimits[activity] = limit
		}
	}

	if err := ValidateMeteringConfig(cfg); err != nil {
		return MeteringConfig{}, err
	}
	return cfg, nil
}

func ValidateMeteringConfig(cfg MeteringConfig) error {
	if strings.TrimSpace(cfg.DefaultPlan) == "" {
		return errors.New("metering.defaultPlan is required")
	}

	events := make(map[string]struct{}, len(cfg.Events))
	for _, e := range cfg.Events {
		if strings.TrimSpace(e.Key) == "" {
			return errors.New("metering.events: key is required")
		}
		if err := nonNegativeDecimal(e.CreditsPerUnit); err != nil {
			return fmt.Errorf("metering.events[%s].creditsPerUnit: %w", e.Key, err)
		}
		if err := nonNegativeDecimal(e.ListPricePerCredit); err != nil {
			return fmt.Errorf("metering.events[%s].listPricePerCredit: %w", e.Key, err)
		}
		events[e.Key] = struct{}{}
	}

	capabilities := make(map[string]struct{}, len(cfg.Capabilities))
	for _, c := range cfg.Capabilities {
		capabilities[c.Key] = struct{}{}
	}

	defaultFound := false
	for _, p := range cfg.Plans {
		if p.ID == cfg.DefaultPlan {
			defaultFound = true
		}
		if err := nonNegativeDecimal(p.IncludedCredits); err != nil {
			return fmt.Errorf("metering.plans[%s].includedCredits: %w", p.ID, err)
		}
		if err := nonNegativeDecimal(p.OveragePricePerCredit); err != nil {
			return fmt.Errorf("metering.plans[%s].overagePricePerCredit: %w", p.ID, err)
		}
		for _, c := range p.Capabilities {
			if _, ok := capabilities[c]; !ok {
				return fmt.Errorf("metering.plans[%s]: unknown capability %q", p.ID, c)
			}
		}
		for _, c := range p.Caps {
			if _, ok := events[c.EventKey]; !ok {
				return fmt.Errorf("metering.plans[%s]: cap on unknown event %q", p.ID, c.EventKey)
			}
			if c.Limit < 0 {
				return fmt.Errorf("metering.plans[%s]: negative cap for %q", p.ID, c.EventKey)
			}
		}
	}
	if !defaultFound {
		return fmt.Errorf("metering.defaultPlan %q is not a configured plan", cfg.DefaultPlan)
	}

	for activity, limit := range cfg.DailyLimits {
		if limit < 0 {
			return fmt.Errorf("metering.dailyLimits[%s] cannot be negative", activity)
		}
	}
	return nil
}

func nonNegativeDecimal(raw string) error {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	if d.IsNegative() {
		return errors.New("must not be negative")
	}
	return nil
}
