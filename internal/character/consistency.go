package character

import (
	"context"
	"strings"

	"github.com/qninhdt/lumen-tales/server/internal/story"
)

// Scorer rates how well an image still depicts a character, in [0,1]
type Scorer interface {
	Score(ctx context.Context, c *story.Character, img *Image) (float64, error)
}

// AttributeScorer compares the character snapshot an image was rendered from
// with the current character. Name, description and every attribute key count
// equally.
type AttributeScorer struct{}

func (AttributeScorer) Score(ctx context.Context, c *story.Character, img *Image) (float64, error) {
	then := img.Character
	keys := make(map[string]bool)
	for _, k := range c.Attributes.Keys() {
		keys[k] = true
	}
	for _, k := range then.Attributes.Keys() {
		keys[k] = true
	}

	total := 2 + len(keys)
	matched := 0
	if strings.EqualFold(c.Name, then.Name) {
		matched++
	}
	if c.Description == then.Description {
		matched++
	}
	for k := range keys {
		if strings.EqualFold(c.Attributes.Get(k), then.Attributes.Get(k)) {
			matched++
		}
	}
	return float64(matched) / float64(total), nil
}

// VerifyConsistency scores img against c; higher is more consistent
func (e *Engine) VerifyConsistency(ctx context.Context, c *story.Character, img *Image) (float64, error) {
	score, err := e.scorer.Score(ctx, c, img)
	if err != nil {
		return 0, err
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, nil
}

const (
	distinctiveThreshold = 0.85
	anchorThreshold      = 0.6
)

// OptimizeCharacterModel suggests a trait overlay from historical consistency
// scores. Low averages ask the generator for more distinctive, anchored renders.
func (e *Engine) OptimizeCharacterModel(c *story.Character, scores []float64) story.CharacterPatch {
	avg := 0.0
	for _, s := range scores {
		avg += s
	}
	if len(scores) > 0 {
		avg /= float64(len(scores))
	}

	traits := append([]string(nil), c.Traits...)
	add := func(t string) {
		for _, existing := range traits {
			if strings.EqualFold(existing, t) {
				return
			}
		}
		traits = append(traits, t)
	}

	if len(scores) == 0 || avg < distinctiveThreshold {
		add("distinctive")
	}
	if len(scores) > 0 && avg < anchorThreshold {
		add("signature outfit")
	}

	if len(traits) == len(c.Traits) {
		return story.CharacterPatch{}
	}
	return story.CharacterPatch{Traits: traits}
}
