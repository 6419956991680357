package domain

import (
	"strings"
	"unicode"
)

type Command string

const (
	CommandHelp      Command = "help"
	CommandListTools Command = "list_tools"
	CommandUsage     Command = "usage"
	CommandLimits    Command = "limits"
	CommandEcho      Command = "echo"
	CommandUnknown   Command = "unknown"
)

// Intent is the parsed form of a chat message.
type Intent struct {
	Command  Command `json:"command"`
	Argument string  `json:"argument,omitempty"`
}

var keywords = []struct {
	command Command
	words   []string
}{
	{CommandHelp, []string{"help", "commands", "what can you do"}},
	{CommandListTools, []string{"list tools", "tools", "which tools"}},
	{CommandUsage, []string{"usage", "credits", "how much have i used"}},
	{CommandLimits, []string{"limits", "quota", "daily limit"}},
}

// Parse maps free text to a command. It has no side effects.
func Parse(message string) Intent {
	text := strings.TrimSpace(message)
	if text == "" {
		return Intent{Command: CommandUnknown}
	}

	lower := strings.ToLower(text)
	if rest, ok := cutWord(lower, text, "echo"); ok {
		return Intent{Command: CommandEcho, Argument: rest}
	}

	normalized := strings.Join(strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ")
	for _, k := range keywords {
		for _, w := range k.words {
			if normalized == w || strings.HasPrefix(normalized, w+" ") {
				return Intent{Command: k.command}
			}
		}
	}
	return Intent{Command: CommandUnknown}
}

// cutWord strips a leading command word, preserving the original casing of the rest.
func cutWord(lower, original, word string) (string, bool) {
	if lower == word {
		return "", true
	}
	if !strings.HasPrefix(lower, word) {
		return "", false
	}
	next := rune(lower[len(word)])
	if !unicode.IsSpace(next) && next != ':' {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(original[len(word):], ":")), true
}
