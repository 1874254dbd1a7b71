package progress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/qninhdt/lumen-tales/server/internal/apperr"
	"github.com/qninhdt/lumen-tales/server/internal/branch"
	"github.com/qninhdt/lumen-tales/server/internal/logger"
	"github.com/qninhdt/lumen-tales/server/internal/metrics"
	"github.com/qninhdt/lumen-tales/server/internal/story"
	"go.uber.org/zap"
)

// StoryRepository loads stories. A missing story is an apperr NotFound.
type StoryRepository interface {
	GetStory(ctx context.Context, id string) (*story.Story, error)
}

// ProgressStore persists progress per user under story.ProgressKey.
// GetProgress returns nil, nil when nothing is stored.
type ProgressStore interface {
	GetProgress(ctx context.Context, userID, key string) (*story.Progress, error)
	SaveProgress(ctx context.Context, userID, key string, p *story.Progress) error
	DeleteProgress(ctx context.Context, userID, key string) error
}

// Rules resolves choices against session state
type Rules interface {
	DetermineNextScene(choice *story.Choice, vars story.Variables) string
	IsChoiceAvailable(ctx context.Context, choice *story.Choice, p *story.Progress) (bool, error)
}

// ChoiceOption is a choice of the current scene as offered to the reader
type ChoiceOption struct {
	ID             string `json:"id"`
	Text           string `json:"text"`
	RequiredTokens int    `json:"required_tokens,omitempty"`
	Available      bool   `json:"available"`
}

// Snapshot is the reader-facing view of a session
type Snapshot struct {
	Status    story.Status    `json:"status"`
	StoryID   string          `json:"story_id"`
	Scene     *story.Scene    `json:"scene"`
	Choices   []ChoiceOption  `json:"choices"`
	Progress  *story.Progress `json:"progress"`
	Persisted bool            `json:"persisted"`
}

type session struct {
	story    *story.Story
	scene    *story.Scene
	progress *story.Progress
	// unsaved marks progress seeded by a reset that is not persisted yet
	unsaved bool
}

// Controller drives reading sessions. Mutations of one (user, story) session
// are serialized; different sessions proceed independently.
type Controller struct {
	stories  StoryRepository
	store    ProgressStore
	rules    Rules
	queue    *JobQueue
	locks    *sessionLocks
	mu       sync.RWMutex
	sessions map[string]*session
	now      func() time.Time
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// Option configures a Controller
type Option func(*Controller)

// WithQueue sets the artifact job queue
func WithQueue(q *JobQueue) Option {
	return func(c *Controller) { c.queue = q }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.logger = logger.OrNop(l).Named("progress") }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// NewController creates a controller
func NewController(stories StoryRepository, store ProgressStore, rules Rules, opts ...Option) *Controller {
	c := &Controller{
		stories:  stories,
		store:    store,
		rules:    rules,
		locks:    newSessionLocks(),
		sessions: make(map[string]*session),
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.queue == nil {
		c.queue = NewJobQueue(0, 0)
	}
	return c
}

// Queue returns the artifact job queue
func (c *Controller) Queue() *JobQueue {
	return c.queue
}

func sessionKey(userID, storyID string) string {
	return userID + "\x00" + storyID
}

func (c *Controller) get(key string) *session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessions[key]
}

func (c *Controller) put(key string, s *session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[key] = s
}

func (c *Controller) loadStory(ctx context.Context, storyID string) (*story.Story, *story.Scene, error) {
	s, err := c.stories.GetStory(ctx, storyID)
	if err != nil {
		return nil, nil, err
	}
	start, ok := s.Scene(s.StartingSceneID)
	if !ok {
		return nil, nil, apperr.NotFound(apperr.CodeSceneNotFound,
			fmt.Sprintf("starting scene %s not found in story %s", s.StartingSceneID, s.ID))
	}
	return s, start, nil
}

// StartStory begins a fresh session at the starting scene and persists it
func (c *Controller) StartStory(ctx context.Context, userID, storyID string) (*Snapshot, error) {
	release := c.locks.acquire(sessionKey(userID, storyID))
	defer release()
	return c.start(ctx, userID, storyID)
}

func (c *Controller) start(ctx context.Context, userID, storyID string) (*Snapshot, error) {
	s, start, err := c.loadStory(ctx, storyID)
	if err != nil {
		return nil, err
	}

	p := story.NewProgress(userID, s, c.now())
	if err := c.store.SaveProgress(ctx, userID, story.ProgressKey(s.ID), p); err != nil {
		return nil, fmt.Errorf("failed to save progress: %w", err)
	}

	sess := &session{story: s, scene: start, progress: p}
	c.put(sessionKey(userID, storyID), sess)
	c.enqueue(sess, ReasonStart)

	c.logger.Info("Story started", zap.String("user", userID), zap.String("story", storyID))
	return c.snapshot(ctx, sess)
}

// Resume restores persisted progress. A saved scene that no longer exists
// falls back to the starting scene; with nothing saved this starts the story.
func (c *Controller) Resume(ctx context.Context, userID, storyID string) (*Snapshot, error) {
	release := c.locks.acquire(sessionKey(userID, storyID))
	defer release()

	s, start, err := c.loadStory(ctx, storyID)
	if err != nil {
		return nil, err
	}

	saved, err := c.store.GetProgress(ctx, userID, story.ProgressKey(s.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to load progress: %w", err)
	}
	if saved == nil {
		return c.start(ctx, userID, storyID)
	}

	saved.UserID = userID
	saved.StoryID = s.ID
	scene, ok := s.Scene(saved.CurrentSceneID)
	if !ok {
		c.logger.Warn("Saved scene missing, resuming at start",
			zap.String("story", s.ID), zap.String("scene", saved.CurrentSceneID))
		fixed := saved.Clone()
		fixed.CurrentSceneID = start.ID
		fixed.LastReadAt = c.now()
		if err := c.store.SaveProgress(ctx, userID, story.ProgressKey(s.ID), fixed); err != nil {
			return nil, fmt.Errorf("failed to save progress: %w", err)
		}
		saved, scene = fixed, start
	}

	sess := &session{story: s, scene: scene, progress: saved}
	c.put(sessionKey(userID, storyID), sess)
	c.enqueue(sess, ReasonResume)
	return c.snapshot(ctx, sess)
}

// MakeChoice applies a choice of the current scene and persists the result.
// On any failure the session and the stored progress are left as they were.
func (c *Controller) MakeChoice(ctx context.Context, userID, storyID, choiceID string) (*Snapshot, error) {
	key := sessionKey(userID, storyID)
	release := c.locks.acquire(key)
	defer release()

	sess := c.get(key)
	if sess == nil || sess.story == nil || sess.scene == nil || sess.progress == nil {
		c.metrics.Choice("no_session")
		return nil, apperr.State(apperr.CodeNoActiveStory, "no active story or scene")
	}

	choice, ok := sess.scene.FindChoice(choiceID)
	if !ok {
		c.metrics.Choice("invalid")
		return nil, apperr.Validation(apperr.CodeChoiceNotFound,
			fmt.Sprintf("choice %s not found in scene %s", choiceID, sess.scene.ID))
	}

	available, err := c.rules.IsChoiceAvailable(ctx, choice, sess.progress)
	if err != nil {
		return nil, err
	}
	if !available {
		c.metrics.Choice("unavailable")
		return nil, apperr.Validation(apperr.CodeInsufficientTokens,
			fmt.Sprintf("choice %s requires %d tokens", choice.ID, choice.RequiredTokens))
	}

	targetID := c.rules.DetermineNextScene(choice, sess.progress.Variables)
	target, ok := sess.story.Scene(targetID)
	if !ok {
		c.metrics.Choice("invalid")
		return nil, apperr.Validation(apperr.CodeSceneNotFound,
			fmt.Sprintf("scene %s not found", targetID))
	}

	now := c.now()
	next := sess.progress.Clone()
	if choice.Consequences != nil {
		next.ApplyCharacterChanges(choice.Consequences.CharacterChanges)
	}
	next.Variables = branch.UpdateVariables(choice, next.Variables)
	next.ChoiceHistory = append(next.ChoiceHistory, story.ChoiceRecord{
		SceneID:   sess.scene.ID,
		ChoiceID:  choice.ID,
		Timestamp: now,
	})
	next.VisitedScenes = append(next.VisitedScenes, target.ID)
	next.CurrentSceneID = target.ID
	next.TokensSpent += choice.RequiredTokens
	next.LastReadAt = now
	if target.IsTerminal() {
		next.AddEnding(target.ID)
	}

	if err := c.store.SaveProgress(ctx, userID, story.ProgressKey(sess.story.ID), next); err != nil {
		c.metrics.Choice("error")
		return nil, fmt.Errorf("failed to save progress: %w", err)
	}

	updated := &session{story: sess.story, scene: target, progress: next}
	c.put(key, updated)
	c.enqueue(updated, ReasonChoice)
	c.metrics.Choice("ok")

	c.logger.Debug("Choice applied",
		zap.String("user", userID),
		zap.String("story", storyID),
		zap.String("choice", choice.ID),
		zap.String("scene", target.ID))
	return c.snapshot(ctx, updated)
}

// Reset discards persisted progress and places the session back at the
// starting scene. Nothing is persisted until the next choice.
func (c *Controller) Reset(ctx context.Context, userID, storyID string) (*Snapshot, error) {
	key := sessionKey(userID, storyID)
	release := c.locks.acquire(key)
	defer release()

	s, start, err := c.loadStory(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if err := c.store.DeleteProgress(ctx, userID, story.ProgressKey(s.ID)); err != nil {
		return nil, fmt.Errorf("failed to delete progress: %w", err)
	}

	sess := &session{
		story:    s,
		scene:    start,
		progress: story.NewProgress(userID, s, c.now()),
		unsaved:  true,
	}
	c.put(key, sess)
	c.enqueue(sess, ReasonReset)
	return c.snapshot(ctx, sess)
}

// Current returns the in-memory session
func (c *Controller) Current(ctx context.Context, userID, storyID string) (*Snapshot, error) {
	key := sessionKey(userID, storyID)
	release := c.locks.acquire(key)
	defer release()

	sess := c.get(key)
	if sess == nil {
		return nil, apperr.State(apperr.CodeNoActiveStory, "no active story or scene")
	}
	return c.snapshot(ctx, sess)
}

func (c *Controller) enqueue(sess *session, reason string) {
	c.queue.Enqueue(&ArtifactJob{
		UserID:          sess.progress.UserID,
		StoryID:         sess.story.ID,
		SceneID:         sess.scene.ID,
		Reason:          reason,
		CharacterStates: sess.progress.Clone().CharacterStates,
		EnqueuedAt:      c.now(),
	})
}

func (c *Controller) snapshot(ctx context.Context, sess *session) (*Snapshot, error) {
	snap := &Snapshot{
		Status:    story.StatusInProgress,
		StoryID:   sess.story.ID,
		Scene:     sess.scene,
		Choices:   make([]ChoiceOption, 0, len(sess.scene.Choices)),
		Progress:  sess.progress.Clone(),
		Persisted: !sess.unsaved,
	}
	if sess.scene.IsTerminal() {
		snap.Status = story.StatusEnded
	}
	for i := range sess.scene.Choices {
		choice := &sess.scene.Choices[i]
		available, err := c.rules.IsChoiceAvailable(ctx, choice, sess.progress)
		if err != nil {
			return nil, err
		}
		snap.Choices = append(snap.Choices, ChoiceOption{
			ID:             choice.ID,
			Text:           choice.Text,
			RequiredTokens: choice.RequiredTokens,
			Available:      available,
		})
	}
	return snap, nil
}
