package scene

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/qninhdt/lumen-tales/server/internal/story"
)

var (
	quotedDialogue  = regexp.MustCompile(`"[^"]*"`)
	sentenceBreak   = regexp.MustCompile(`[.!?]+`)
	nonVisualClause []*regexp.Regexp
)

var nonVisualPhrases = []string{
	"thought", "wondered", "remembered", "felt like", "decided",
	"considered", "planned", "knew", "understood", "realized",
}

var visualDescriptors = []string{
	"looked", "appeared", "seemed", "wore", "dressed",
	"decorated", "colored", "shaped", "designed", "built",
	"tall", "short", "large", "small", "bright", "dark",
	"red", "blue", "green", "yellow", "black", "white",
	"glowing", "shining", "gleaming", "sparkling",
}

func init() {
	for _, phrase := range nonVisualPhrases {
		nonVisualClause = append(nonVisualClause, regexp.MustCompile(`(?i)[^.]*`+regexp.QuoteMeta(phrase)+`[^.]*\.`))
	}
}

// ExtractVisualElements keeps the three most visually descriptive sentences of
// text. Dialogue and sentences about thoughts are dropped first.
func ExtractVisualElements(text string) string {
	processed := quotedDialogue.ReplaceAllString(text, "")
	for _, re := range nonVisualClause {
		processed = re.ReplaceAllString(processed, "")
	}

	type scored struct {
		sentence string
		score    int
	}
	var sentences []scored
	for _, part := range sentenceBreak.Split(processed, -1) {
		if strings.TrimSpace(part) == "" {
			continue
		}
		lower := strings.ToLower(part)
		score := 0
		for _, d := range visualDescriptors {
			if strings.Contains(lower, d) {
				score++
			}
		}
		sentences = append(sentences, scored{part, score})
	}

	sort.SliceStable(sentences, func(i, j int) bool { return sentences[i].score > sentences[j].score })

	top := make([]string, 0, 3)
	for i := 0; i < len(sentences) && i < 3; i++ {
		top = append(top, strings.TrimSpace(sentences[i].sentence))
	}
	return strings.Join(top, ". ") + "."
}

// OptimizeSceneDescription turns a scene into a compact visual description
func OptimizeSceneDescription(s *story.Scene) string {
	var b strings.Builder
	if s.Setting != "" {
		fmt.Fprintf(&b, "%s, ", s.Setting)
	}
	if s.Time != "" {
		fmt.Fprintf(&b, "%s, ", s.Time)
	}
	if s.Mood != "" {
		fmt.Fprintf(&b, "%s atmosphere, ", s.Mood)
	}
	b.WriteString(ExtractVisualElements(s.Content))
	return strings.TrimSpace(b.String())
}

// characterSummary is the one-line description used in scene prompts
func characterSummary(c story.Character) string {
	if c.Description != "" {
		return c.Description
	}
	return "A character named " + c.Name
}

// orderCharacters lists characters in scene order, then the rest by id
func orderCharacters(s *story.Scene, characters map[string]story.Character) []story.Character {
	out := make([]story.Character, 0, len(characters))
	used := make(map[string]bool, len(characters))
	for _, id := range s.Characters {
		if c, ok := characters[id]; ok && !used[id] {
			used[id] = true
			out = append(out, c)
		}
	}
	var rest []string
	for id := range characters {
		if !used[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	for _, id := range rest {
		out = append(out, characters[id])
	}
	return out
}

// BuildPrompt composes the scene illustration prompt
func BuildPrompt(s *story.Scene, characters []story.Character) string {
	lines := make([]string, 0, len(characters))
	for _, c := range characters {
		lines = append(lines, c.Name+": "+characterSummary(c))
	}
	return fmt.Sprintf("Scene: %s\n\nCharacters: %s\n\nCreate a detailed, high-quality digital illustration of this scene.",
		OptimizeSceneDescription(s), strings.Join(lines, "; "))
}
