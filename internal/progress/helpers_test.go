package progress

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/qninhdt/lumen-tales/server/internal/apperr"
	"github.com/qninhdt/lumen-tales/server/internal/branch"
	"github.com/qninhdt/lumen-tales/server/internal/story"
)

type memStories struct {
	stories map[string]*story.Story
}

func (m *memStories) GetStory(ctx context.Context, id string) (*story.Story, error) {
	s, ok := m.stories[id]
	if !ok {
		return nil, apperr.NotFound(apperr.CodeStoryNotFound, "story not found: "+id)
	}
	return s, nil
}

type memStore struct {
	mu      sync.Mutex
	data    map[string]*story.Progress
	saves   int
	failing bool
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]*story.Progress)}
}

func (m *memStore) GetProgress(ctx context.Context, userID, key string) (*story.Progress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.data[userID+"/"+key]
	if !ok {
		return nil, nil
	}
	return p.Clone(), nil
}

func (m *memStore) SaveProgress(ctx context.Context, userID, key string, p *story.Progress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errors.New("disk full")
	}
	m.saves++
	m.data[userID+"/"+key] = p.Clone()
	return nil
}

func (m *memStore) DeleteProgress(ctx context.Context, userID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errors.New("disk full")
	}
	delete(m.data, userID+"/"+key)
	return nil
}

func (m *memStore) stored(userID, storyID string) *story.Progress {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[userID+"/"+story.ProgressKey(storyID)]
}

// createTestStory builds s1 -(c1)-> s2 plus a key branch through s3
func createTestStory() *story.Story {
	return &story.Story{
		ID:              "story1",
		Title:           "The Lost Key",
		StartingSceneID: "s1",
		Variables:       story.Variables{"gold": float64(5), "visitedTavern": false},
		Characters: map[string]story.Character{
			"alex": {ID: "alex", Name: "Alex"},
		},
		Scenes: map[string]story.Scene{
			"s1": {
				ID:      "s1",
				Content: "A hall.",
				Choices: []story.Choice{
					{ID: "c1", Text: "Enter", NextSceneID: "s2"},
					{
						ID:          "take-key",
						Text:        "Take the key",
						NextSceneID: "s3",
						Consequences: &story.Consequences{
							VariableChanges: story.Variables{"hasKey": true},
							CharacterChanges: map[string]story.CharacterPatch{
								"alex": {Traits: []string{"hopeful"}},
							},
						},
					},
					{ID: "broken", Text: "Jump", NextSceneID: "nowhere"},
					{ID: "paid", Text: "Bribe", NextSceneID: "s2", RequiredTokens: 50},
				},
			},
			"s2": {ID: "s2", Content: "The end."},
			"s3": {
				ID:      "s3",
				Content: "A locked door.",
				Choices: []story.Choice{
					{
						ID:                 "open",
						Text:               "Open it",
						NextSceneID:        "s1",
						DefaultNextSceneID: "s1",
						ConditionalBranches: []story.ConditionalBranch{
							{
								Conditions:  []story.Condition{{VariableName: "hasKey", Operator: story.OpEqual, Value: true}},
								NextSceneID: "s2",
							},
						},
					},
				},
			},
		},
	}
}

type fixedLedger struct {
	balance int64
}

func (f fixedLedger) Balance(ctx context.Context, userID string, token story.TokenType) (int64, error) {
	return f.balance, nil
}

func newTestController(store *memStore, opts ...Option) *Controller {
	stories := &memStories{stories: map[string]*story.Story{"story1": createTestStory()}}
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	opts = append([]Option{WithClock(func() time.Time { return clock })}, opts...)
	return NewController(stories, store, branch.NewManager(branch.WithLedger(fixedLedger{balance: 10})), opts...)
}
