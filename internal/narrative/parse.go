package narrative

import (
	"fmt"
	"regexp"
	"strings"
)

// Option is a reader choice offered at the end of a generated segment
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Continuation is a parsed generated segment
type Continuation struct {
	Content string   `json:"content"`
	Choices []Option `json:"choices"`
}

var bulletPrefix = regexp.MustCompile(`^[-*]\s*`)

// DefaultOptions are offered when the model returns no bulleted choices
func DefaultOptions() []Option {
	return []Option{
		{ID: "default-1", Text: "Continue the adventure"},
		{ID: "default-2", Text: "Take a different approach"},
	}
}

func isBullet(line string) bool {
	t := strings.TrimSpace(line)
	return strings.HasPrefix(t, "-") || strings.HasPrefix(t, "*")
}

// ParseContinuation splits model output into prose and bulleted choices.
// Choices are numbered from zero in the order they appear.
func ParseContinuation(text string) *Continuation {
	var prose []string
	var choices []Option
	for _, line := range strings.Split(text, "\n") {
		if !isBullet(line) {
			prose = append(prose, line)
			continue
		}
		choices = append(choices, Option{
			ID:   fmt.Sprintf("choice-%d", len(choices)),
			Text: strings.TrimSpace(bulletPrefix.ReplaceAllString(strings.TrimSpace(line), "")),
		})
	}
	if len(choices) == 0 {
		choices = DefaultOptions()
	}
	return &Continuation{
		Content: strings.TrimSpace(strings.Join(prose, "\n")),
		Choices: choices,
	}
}
