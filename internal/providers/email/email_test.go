package email

import (
	"context"
	"testing"

	"github.com/smallbiznis/railmeter/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderDailyBrief(t *testing.T) {
	body, err := render("daily_brief", map[string]string{
		"Date":     "2025-03-14",
		"Headline": "<b>hi</b>",
		"PlanID":   "starter",
	})
	require.NoError(t, err)
	assert.Contains(t, body, "Daily brief for 2025-03-14")
	assert.Contains(t, body, "&lt;b&gt;hi&lt;/b&gt;")
}

func TestRenderUnknownTemplate(t *testing.T) {
	_, err := render("missing", nil)
	assert.Error(t, err)
}

func TestNewFromConfigWithoutHost(t *testing.T) {
	p := NewFromConfig(config.Config{})
	assert.ErrorIs(t, p.Send(context.Background(), Message{To: []string{"a@b.test"}}), ErrNotConfigured)
}
