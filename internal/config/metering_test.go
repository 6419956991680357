package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMeteringConfigIsValid(t *testing.T) {
	cfg := DefaultMeteringConfig()
	require.NoError(t, ValidateMeteringConfig(cfg))
	assert.Equal(t, "starter", cfg.DefaultPlan)
	assert.Equal(t, 500, cfg.DailyLimits["notification_enqueued"])
}

func TestValidateMeteringConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*MeteringConfig)
		errMsg string
	}{
		{
			name:   "missing default plan",
			mutate: func(c *MeteringConfig) { c.DefaultPlan = "enterprise" },
			errMsg: "not a configured plan",
		},
		{
			name:   "negative weight",
			mutate: func(c *MeteringConfig) { c.Events[0].CreditsPerUnit = "-1" },
			errMsg: "must not be negative",
		},
		{
			name:   "unknown capability",
			mutate: func(c *MeteringConfig) { c.Plans[0].Capabilities = append(c.Plans[0].Capabilities, "teleport") },
			errMsg: "unknown capability",
		},
		{
			name:   "cap on unknown event",
			mutate: func(c *MeteringConfig) { c.Plans[0].Caps = []CapSeed{{EventKey: "nope", Limit: 1}} },
			errMsg: "cap on unknown event",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultMeteringConfig()
			tt.mutate(&cfg)
			err := ValidateMeteringConfig(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestStaticHolderDailyLimit(t *testing.T) {
	holder := NewStaticMeteringConfigHolder(DefaultMeteringConfig())

	limit, ok := holder.DailyLimit("daily_brief_generated")
	require.True(t, ok)
	assert.Equal(t, 10, limit)

	_, ok = holder.DailyLimit("unknown")
	assert.False(t, ok)
}
