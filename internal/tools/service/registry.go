package service

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	toolsdomain "github.com/smallbiznis/railmeter/internal/tools/domain"
)

type tool struct {
	descriptor toolsdomain.Descriptor
	handler    toolsdomain.Handler
}

var registry = map[string]tool{
	"echo": {
		descriptor: toolsdomain.Descriptor{Name: "echo", Description: "Returns the payload unchanged"},
		handler:    echo,
	},
	"sum": {
		descriptor: toolsdomain.Descriptor{Name: "sum", Description: "Adds a list of decimal numbers"},
		handler:    sum,
	},
	"time_now": {
		descriptor: toolsdomain.Descriptor{Name: "time_now", Description: "Returns the current UTC time"},
		handler:    timeNow,
	},
}

func descriptors() []toolsdomain.Descriptor {
	out := make([]toolsdomain.Descriptor, 0, len(registry))
	for _, t := range registry {
		out = append(out, t.descriptor)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func echo(_ context.Context, _ time.Time, payload json.RawMessage) (any, error) {
	if len(payload) == 0 {
		return json.RawMessage("null"), nil
	}
	return payload, nil
}

type sumPayload struct {
	Numbers []decimal.Decimal `json:"numbers"`
}

func sum(_ context.Context, _ time.Time, payload json.RawMessage) (any, error) {
	var in sumPayload
	if err := json.Unmarshal(payload, &in); err != nil {
		return nil, toolsdomain.ErrInvalidPayload
	}
	total := decimal.Zero
	for _, n := range in.Numbers {
		total = total.Add(n)
	}
	return map[string]any{"sum": total, "count": len(in.Numbers)}, nil
}

func timeNow(_ context.Context, now time.Time, _ json.RawMessage) (any, error) {
	return map[string]string{"now": now.UTC().Format(time.RFC3339)}, nil
}
