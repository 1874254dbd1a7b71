package render

import (
	"context"
	"fmt"

	"github.com/qninhdt/lumen-tales/server/internal/apperr"
	"github.com/qninhdt/lumen-tales/server/internal/emotion"
	"github.com/qninhdt/lumen-tales/server/internal/logger"
	"github.com/qninhdt/lumen-tales/server/internal/progress"
	"github.com/qninhdt/lumen-tales/server/internal/scene"
	"github.com/qninhdt/lumen-tales/server/internal/story"
	"go.uber.org/zap"
)

// EmotionMapper maps a character's feeling in a scene
type EmotionMapper interface {
	MapCharacterEmotion(c *story.Character, s *story.Scene, dialogue string) emotion.Analysis
}

// SceneRenderer draws a scene and the portraits of its characters
type SceneRenderer interface {
	RenderScene(ctx context.Context, s *story.Scene, characters map[string]story.Character, emotions map[string]string) (*scene.Rendering, error)
}

// Bundle holds the derived artifacts of one scene entry
type Bundle struct {
	Job       *progress.ArtifactJob       `json:"job"`
	Emotions  map[string]emotion.Analysis `json:"emotions"`
	Rendering *scene.Rendering            `json:"rendering"`
}

// Pipeline turns artifact jobs into emotion maps and illustrations
type Pipeline struct {
	stories  progress.StoryRepository
	queue    *progress.JobQueue
	emotions EmotionMapper
	renderer SceneRenderer
	logger   *zap.Logger
}

// NewPipeline creates a pipeline draining queue
func NewPipeline(stories progress.StoryRepository, queue *progress.JobQueue, emotions EmotionMapper, renderer SceneRenderer, log *zap.Logger) *Pipeline {
	return &Pipeline{
		stories:  stories,
		queue:    queue,
		emotions: emotions,
		renderer: renderer,
		logger:   logger.OrNop(log).Named("render"),
	}
}

// Render builds the artifacts of a single job. Characters appear with the
// session overlay captured when the scene was entered.
func (p *Pipeline) Render(ctx context.Context, job *progress.ArtifactJob) (*Bundle, error) {
	s, err := p.stories.GetStory(ctx, job.StoryID)
	if err != nil {
		return nil, err
	}
	sc, ok := s.Scene(job.SceneID)
	if !ok {
		return nil, apperr.NotFound(apperr.CodeSceneNotFound, fmt.Sprintf("scene %s not found", job.SceneID))
	}

	overlay := story.Progress{CharacterStates: job.CharacterStates}
	present := make(map[string]story.Character, len(sc.Characters))
	analyses := make(map[string]emotion.Analysis, len(sc.Characters))
	labels := make(map[string]string, len(sc.Characters))
	for _, id := range sc.Characters {
		base, ok := s.Character(id)
		if !ok {
			p.logger.Warn("Scene references unknown character", zap.String("scene", sc.ID), zap.String("character", id))
			continue
		}
		c := overlay.ResolveCharacter(*base)
		present[id] = c

		analysis := p.emotions.MapCharacterEmotion(&c, sc, "")
		analyses[id] = analysis
		labels[id] = analysis.PrimaryEmotion
	}

	rendering, err := p.renderer.RenderScene(ctx, sc, present, labels)
	if err != nil {
		return nil, err
	}
	return &Bundle{Job: job, Emotions: analyses, Rendering: rendering}, nil
}

// RenderPending drains the session's jobs and renders each entered scene once,
// keeping the most recent job per scene.
func (p *Pipeline) RenderPending(ctx context.Context, userID, storyID string) ([]*Bundle, error) {
	jobs := p.queue.DrainSession(userID, storyID)

	latest := make(map[string]int, len(jobs))
	for i, job := range jobs {
		latest[job.SceneID] = i
	}

	bundles := make([]*Bundle, 0, len(latest))
	for i, job := range jobs {
		if latest[job.SceneID] != i {
			continue
		}
		b, err := p.Render(ctx, job)
		if err != nil {
			// remaining jobs go back so a retry can pick them up
			for j := i; j < len(jobs); j++ {
				if latest[jobs[j].SceneID] == j {
					p.queue.Enqueue(jobs[j])
				}
			}
			return bundles, err
		}
		bundles = append(bundles, b)
	}
	return bundles, nil
}
