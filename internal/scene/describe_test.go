package scene

import (
	"testing"

	"github.com/qninhdt/lumen-tales/server/internal/story"
	"github.com/stretchr/testify/assert"
)

const towerContent = `The tower looked tall and dark against the red sky. "Run!" she shouted. ` +
	`She thought about home. A small bird sang. The bright lanterns were glowing.`

func TestExtractVisualElements(t *testing.T) {
	got := ExtractVisualElements(towerContent)
	assert.Equal(t, "The tower looked tall and dark against the red sky. The bright lanterns were glowing. A small bird sang.", got)
}

func TestExtractVisualElementsStableTies(t *testing.T) {
	got := ExtractVisualElements("One door. Two doors. Three doors. Four doors.")
	assert.Equal(t, "One door. Two doors. Three doors.", got)
}

func TestExtractVisualElementsDropsCognitiveSentences(t *testing.T) {
	got := ExtractVisualElements("He REALIZED the gate was red. The wall was white.")
	assert.Equal(t, "The wall was white.", got)
}

func TestExtractVisualElementsEmpty(t *testing.T) {
	assert.Equal(t, ".", ExtractVisualElements(`"Only dialogue."`))
}

func TestOptimizeSceneDescription(t *testing.T) {
	s := &story.Scene{Setting: "ruined tower", Time: "dusk", Mood: "ominous", Content: towerContent}

	got := OptimizeSceneDescription(s)
	assert.Equal(t, "ruined tower, dusk, ominous atmosphere, The tower looked tall and dark against the red sky. "+
		"The bright lanterns were glowing. A small bird sang.", got)
}

func TestBuildPrompt(t *testing.T) {
	s := &story.Scene{ID: "s1", Content: "A small bird sang.", Characters: []string{"ren", "mira"}}
	chars := map[string]story.Character{
		"mira": {ID: "mira", Name: "Mira", Description: "A wandering cartographer"},
		"ren":  {ID: "ren", Name: "Ren"},
		"zed":  {ID: "zed", Name: "Zed", Description: "A silent guard"},
	}

	got := BuildPrompt(s, orderCharacters(s, chars))
	assert.Equal(t, "Scene: A small bird sang.\n\nCharacters: Ren: A character named Ren; Mira: A wandering cartographer; "+
		"Zed: A silent guard\n\nCreate a detailed, high-quality digital illustration of this scene.", got)
}
