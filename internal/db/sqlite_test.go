package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/qninhdt/lumen-tales/server/internal/apperr"
	"github.com/qninhdt/lumen-tales/server/internal/story"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleStory() *story.Story {
	return &story.Story{
		ID:              "story1",
		Title:           "The Lost Key",
		AuthorID:        "author1",
		StartingSceneID: "s1",
		Variables:       story.Variables{"gold": float64(3)},
		Scenes: map[string]story.Scene{
			"s1": {Content: "A hall.", Choices: []story.Choice{{ID: "c1", Text: "Enter", NextSceneID: "s2"}}},
			"s2": {Content: "The end."},
		},
	}
}

func TestStoryRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SaveStory(ctx, sampleStory()))

	got, err := db.GetStory(ctx, "story1")
	require.NoError(t, err)
	assert.Equal(t, "The Lost Key", got.Title)
	assert.Equal(t, "s1", got.Scenes["s1"].ID)
	assert.Equal(t, float64(3), got.Variables["gold"])

	list, err := db.ListStories(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].SceneCount)
	assert.Equal(t, "author1", list[0].AuthorID)
}

func TestSaveStoryRejectsInvalid(t *testing.T) {
	db := newTestDB(t)
	s := sampleStory()
	s.StartingSceneID = "missing"

	err := db.SaveStory(context.Background(), s)
	assert.True(t, apperr.IsValidation(err))
}

func TestGetStoryNotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetStory(context.Background(), "nope")
	assert.True(t, apperr.IsNotFound(err))
	assert.Equal(t, apperr.CodeStoryNotFound, apperr.CodeOf(err))
}

func TestProgressStore(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	key := story.ProgressKey("story1")

	got, err := db.GetProgress(ctx, "u1", key)
	require.NoError(t, err)
	assert.Nil(t, got)

	p := story.NewProgress("u1", sampleStory(), time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	p.Variables["hasKey"] = true
	require.NoError(t, db.SaveProgress(ctx, "u1", key, p))

	got, err = db.GetProgress(ctx, "u1", key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "s1", got.CurrentSceneID)
	assert.Equal(t, true, got.Variables["hasKey"])

	other, err := db.GetProgress(ctx, "u2", key)
	require.NoError(t, err)
	assert.Nil(t, other)

	require.NoError(t, db.DeleteProgress(ctx, "u1", key))
	got, err = db.GetProgress(ctx, "u1", key)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestTokenBalances(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	balance, err := db.Balance(ctx, "u1", story.TokenLumen)
	require.NoError(t, err)
	assert.Zero(t, balance)

	_, err = db.Credit(ctx, "u1", story.TokenLumen, 40)
	require.NoError(t, err)
	balance, err = db.Credit(ctx, "u1", story.TokenLumen, -15)
	require.NoError(t, err)
	assert.Equal(t, int64(25), balance)

	other, err := db.Balance(ctx, "u1", story.TokenStory)
	require.NoError(t, err)
	assert.Zero(t, other)
}
