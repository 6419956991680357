package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		message string
		want    Intent
	}{
		{"help", Intent{Command: CommandHelp}},
		{"  HELP me  ", Intent{Command: CommandHelp}},
		{"list tools", Intent{Command: CommandListTools}},
		{"tools?", Intent{Command: CommandListTools}},
		{"usage", Intent{Command: CommandUsage}},
		{"How much have I used?", Intent{Command: CommandUsage}},
		{"limits", Intent{Command: CommandLimits}},
		{"echo Hello World", Intent{Command: CommandEcho, Argument: "Hello World"}},
		{"echo: spaced", Intent{Command: CommandEcho, Argument: "spaced"}},
		{"echo", Intent{Command: CommandEcho}},
		{"echoes", Intent{Command: CommandUnknown}},
		{"toolsmith", Intent{Command: CommandUnknown}},
		{"", Intent{Command: CommandUnknown}},
		{"what is the weather", Intent{Command: CommandUnknown}},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.message))
		})
	}
}
