package character

import (
	"context"
	"testing"

	"github.com/qninhdt/lumen-tales/server/internal/story"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyConsistency(t *testing.T) {
	e := NewEngine(&fakeGenerator{})
	ctx := context.Background()
	c := mira()

	img, err := e.GenerateCharacterImage(ctx, c, "joy", Default, Default)
	require.NoError(t, err)

	score, err := e.VerifyConsistency(ctx, c, img)
	require.NoError(t, err)
	assert.Equal(t, 1.0, score)

	changed := mira()
	changed.Attributes.HairColor = "black"
	lower, err := e.VerifyConsistency(ctx, changed, img)
	require.NoError(t, err)
	assert.Less(t, lower, score)
	assert.GreaterOrEqual(t, lower, 0.0)
}

func TestOptimizeCharacterModel(t *testing.T) {
	e := NewEngine(&fakeGenerator{})

	patch := e.OptimizeCharacterModel(&story.Character{}, []float64{0.5, 0.4})
	assert.Equal(t, []string{"distinctive", "signature outfit"}, patch.Traits)

	patch = e.OptimizeCharacterModel(&story.Character{Traits: []string{"brave"}}, nil)
	assert.Equal(t, []string{"brave", "distinctive"}, patch.Traits)

	patch = e.OptimizeCharacterModel(&story.Character{Traits: []string{"Distinctive"}}, []float64{0.8})
	assert.Nil(t, patch.Traits)

	patch = e.OptimizeCharacterModel(&story.Character{}, []float64{0.95, 0.9})
	assert.Nil(t, patch.Traits)
}
