package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/qninhdt/lumen-tales/server/internal/apperr"
	"github.com/qninhdt/lumen-tales/server/internal/branch"
	"github.com/qninhdt/lumen-tales/server/internal/character"
	"github.com/qninhdt/lumen-tales/server/internal/db"
	"github.com/qninhdt/lumen-tales/server/internal/emotion"
	"github.com/qninhdt/lumen-tales/server/internal/imagegen"
	"github.com/qninhdt/lumen-tales/server/internal/metrics"
	mw "github.com/qninhdt/lumen-tales/server/internal/middleware"
	"github.com/qninhdt/lumen-tales/server/internal/narrative"
	"github.com/qninhdt/lumen-tales/server/internal/progress"
	"github.com/qninhdt/lumen-tales/server/internal/render"
	"github.com/qninhdt/lumen-tales/server/internal/scene"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeImages struct {
	characters atomic.Int32
	scenes     atomic.Int32
}

func (f *fakeImages) GenerateCharacterImage(ctx context.Context, req imagegen.CharacterRequest) (string, error) {
	f.characters.Add(1)
	return "https://img.example/" + req.Character.ID + "/" + req.Emotion + ".png", nil
}

func (f *fakeImages) GenerateSceneImage(ctx context.Context, req imagegen.SceneRequest) (string, error) {
	f.scenes.Add(1)
	return "https://img.example/scene/" + req.Scene.ID + ".png", nil
}

type fakeContinuer struct {
	context string
	choice  string
	err     error
}

func (f *fakeContinuer) Continue(ctx context.Context, storyContext, choiceText string) (*narrative.Continuation, error) {
	f.context = storyContext
	f.choice = choiceText
	if f.err != nil {
		return nil, f.err
	}
	return narrative.ParseContinuation("The door creaked open.\n- Step inside\n- Turn back"), nil
}

const testOperatorKey = "op-key"

type testEnv struct {
	server *Server
	images *fakeImages
}

func newTestEnv(t *testing.T, continuer Continuer) *testEnv {
	t.Helper()
	database, err := db.NewDB(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	images := &fakeImages{}

	characters := character.NewEngine(images, character.WithMetrics(m))
	emotions := emotion.NewMapper(emotion.Config{}, nil, m)
	scenes := scene.NewMatcher(images, characters, scene.Config{}, nil, m)
	rules := branch.NewManager(branch.WithLedger(database))
	controller := progress.NewController(database, database, rules, progress.WithMetrics(m))

	deps := Deps{
		Stories:     database,
		Progress:    controller,
		Rules:       rules,
		Emotions:    emotions,
		Characters:  characters,
		Scenes:      scenes,
		Pipeline:    render.NewPipeline(database, controller.Queue(), emotions, scenes, nil),
		Tokens:      database,
		Limiter:     mw.NewRateLimiter(1000, 1000),
		Gatherer:    reg,
		OperatorKey: testOperatorKey,
	}
	if continuer != nil {
		deps.Continuer = continuer
	}
	return &testEnv{server: NewServer(deps), images: images}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

func (e *testEnv) do(t *testing.T, method, path, userID string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	if method == http.MethodDelete || strings.HasPrefix(path, "/api/users/") {
		req.Header.Set(mw.OperatorKeyHeader, testOperatorKey)
	}
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)

	var env envelope
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

const storyDoc = `{
	"id": "story1",
	"title": "The Lost Key",
	"starting_scene_id": "s1",
	"variables": {"gold": 5},
	"characters": {"alex": {"name": "Alex", "description": "A curious student"}},
	"scenes": {
		"s1": {
			"title": "The Hall",
			"content": "Alex stood in the hall, full of hope.",
			"characters": ["alex"],
			"choices": [
				{"id": "c1", "text": "Open the door", "next_scene_id": "s2"},
				{"id": "lost", "text": "Wander off", "next_scene_id": "nowhere"}
			]
		},
		"s2": {"title": "The End", "content": "The door opened onto a garden."}
	}
}`

func (e *testEnv) importStory(t *testing.T) {
	t.Helper()
	rec, env := e.do(t, http.MethodPost, "/api/stories", "", storyDoc)
	require.Equal(t, http.StatusCreated, rec.Code, env.Error)
}

func TestImportAndFetchStory(t *testing.T) {
	env := newTestEnv(t, nil)
	env.importStory(t)

	rec, resp := env.do(t, http.MethodGet, "/api/stories", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []db.StorySummary
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "The Lost Key", list[0].Title)
	assert.Equal(t, 2, list[0].SceneCount)

	rec, resp = env.do(t, http.MethodGet, "/api/stories/story1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(resp.Data), `"starting_scene_id":"s1"`)

	rec, resp = env.do(t, http.MethodGet, "/api/stories/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apperr.CodeStoryNotFound, resp.Code)
}

func TestImportRejectsInvalidStories(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, resp := env.do(t, http.MethodPost, "/api/stories", "", `{"id": "s", "scenes": {}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperr.CodeInvalidStory, resp.Code)

	badGuard := `{"id": "g", "starting_scene_id": "a", "scenes": {"a": {"choices": [
		{"id": "x", "text": "x", "conditional_branches": [{"guard": "gold >", "next_scene_id": "a"}]}
	]}}}`
	rec, resp = env.do(t, http.MethodPost, "/api/stories", "", badGuard)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperr.CodeInvalidStory, resp.Code)

	rec, resp = env.do(t, http.MethodPost, "/api/stories", "", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperr.CodeInvalidInput, resp.Code)
}

func TestAnalysisAndPaths(t *testing.T) {
	env := newTestEnv(t, nil)
	env.importStory(t)

	rec, resp := env.do(t, http.MethodGet, "/api/stories/story1/analysis", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report branch.Report
	require.NoError(t, json.Unmarshal(resp.Data, &report))
	assert.Equal(t, []string{"nowhere"}, report.MissingScenes)

	rec, resp = env.do(t, http.MethodGet, "/api/stories/story1/paths", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var paths branch.PathResult
	require.NoError(t, json.Unmarshal(resp.Data, &paths))
	assert.Contains(t, paths.Paths, []string{"s1", "s2"})

	rec, _ = env.do(t, http.MethodGet, "/api/stories/story1/paths?start=ghost", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReadingSession(t *testing.T) {
	env := newTestEnv(t, nil)
	env.importStory(t)

	rec, _ := env.do(t, http.MethodPost, "/api/stories/story1/start", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, resp := env.do(t, http.MethodPost, "/api/stories/story1/start", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code, resp.Error)
	var snap progress.Snapshot
	require.NoError(t, json.Unmarshal(resp.Data, &snap))
	assert.Equal(t, "s1", snap.Scene.ID)
	assert.Len(t, snap.Choices, 2)

	rec, resp = env.do(t, http.MethodPost, "/api/stories/story1/choices", "u1", map[string]string{"choice_id": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperr.CodeChoiceNotFound, resp.Code)

	rec, resp = env.do(t, http.MethodPost, "/api/stories/story1/choices", "u1", map[string]string{"choice_id": "lost"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperr.CodeSceneNotFound, resp.Code)

	rec, resp = env.do(t, http.MethodPost, "/api/stories/story1/choices", "u2", map[string]string{"choice_id": "c1"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, apperr.CodeNoActiveStory, resp.Code)

	rec, resp = env.do(t, http.MethodPost, "/api/stories/story1/choices", "u1", map[string]string{"choice_id": "c1"})
	require.Equal(t, http.StatusOK, rec.Code, resp.Error)
	require.NoError(t, json.Unmarshal(resp.Data, &snap))
	assert.Equal(t, "s2", snap.Scene.ID)
	assert.Equal(t, []string{"s1", "s2"}, snap.Progress.VisitedScenes)
	assert.Equal(t, []string{"s2"}, snap.Progress.CompletedEndings)

	rec, resp = env.do(t, http.MethodGet, "/api/stories/story1/progress", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(resp.Data, &snap))
	assert.Equal(t, "s2", snap.Progress.CurrentSceneID)

	rec, resp = env.do(t, http.MethodPost, "/api/stories/story1/reset", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(resp.Data, &snap))
	assert.Equal(t, "s1", snap.Scene.ID)
	assert.Empty(t, snap.Progress.ChoiceHistory)
}

func TestArtifacts(t *testing.T) {
	env := newTestEnv(t, nil)
	env.importStory(t)

	env.do(t, http.MethodPost, "/api/stories/story1/start", "u1", nil)
	env.do(t, http.MethodPost, "/api/stories/story1/choices", "u1", map[string]string{"choice_id": "c1"})

	rec, resp := env.do(t, http.MethodGet, "/api/stories/story1/artifacts", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code, resp.Error)
	var bundles []json.RawMessage
	require.NoError(t, json.Unmarshal(resp.Data, &bundles))
	assert.Len(t, bundles, 2)
	assert.Equal(t, int32(2), env.images.scenes.Load())

	rec, resp = env.do(t, http.MethodGet, "/api/stories/story1/artifacts", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(resp.Data, &bundles))
	assert.Empty(t, bundles)
}

func TestEmotionAndImages(t *testing.T) {
	env := newTestEnv(t, nil)
	env.importStory(t)

	rec, resp := env.do(t, http.MethodPost, "/api/emotion/analyze", "", map[string]string{"text": "She felt pure joy and delight."})
	require.Equal(t, http.StatusOK, rec.Code)
	var analysis emotion.Analysis
	require.NoError(t, json.Unmarshal(resp.Data, &analysis))
	assert.Equal(t, "joy", analysis.PrimaryEmotion)

	rec, _ = env.do(t, http.MethodPost, "/api/emotion/analyze", "", map[string]string{"text": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body := map[string]string{"story_id": "story1", "character_id": "alex", "emotion": "joy", "outfit": "coat", "scene": "hall"}
	rec, resp = env.do(t, http.MethodPost, "/api/images/character", "", body)
	require.Equal(t, http.StatusOK, rec.Code, resp.Error)
	var img character.Image
	require.NoError(t, json.Unmarshal(resp.Data, &img))
	assert.Equal(t, "https://img.example/alex/joy.png", img.ImageURL)

	env.do(t, http.MethodPost, "/api/images/character", "", body)
	assert.Equal(t, int32(1), env.images.characters.Load())

	body["emotion"] = ""
	rec, resp = env.do(t, http.MethodPost, "/api/images/character", "", body)
	require.Equal(t, http.StatusOK, rec.Code, resp.Error)
	require.NoError(t, json.Unmarshal(resp.Data, &img))
	assert.Equal(t, "neutral", img.Emotion)
	assert.Equal(t, "https://img.example/alex/neutral.png", img.ImageURL)
	assert.NotContains(t, img.Prompt, "A  ")

	body["emotion"] = "smug"
	rec, resp = env.do(t, http.MethodPost, "/api/images/character", "", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperr.CodeInvalidInput, resp.Code)
	assert.Equal(t, int32(2), env.images.characters.Load())

	rec, resp = env.do(t, http.MethodGet, "/api/emotion/labels", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var labels []string
	require.NoError(t, json.Unmarshal(resp.Data, &labels))
	assert.Contains(t, labels, "neutral")
	assert.Len(t, labels, 9)

	body["emotion"] = "joy"
	body["character_id"] = "ghost"
	rec, resp = env.do(t, http.MethodPost, "/api/images/character", "", body)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apperr.CodeCharacterNotFound, resp.Code)

	rec, resp = env.do(t, http.MethodPost, "/api/images/scene", "", map[string]string{"story_id": "story1", "scene_id": "s1"})
	require.Equal(t, http.StatusOK, rec.Code, resp.Error)
	var sceneImg scene.Image
	require.NoError(t, json.Unmarshal(resp.Data, &sceneImg))
	assert.Equal(t, []string{"alex"}, sceneImg.CharacterIDs)
}

func TestContinueStory(t *testing.T) {
	env := newTestEnv(t, nil)
	env.importStory(t)
	rec, _ := env.do(t, http.MethodPost, "/api/stories/story1/continue", "u1", map[string]string{"choice_text": "Knock"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	cont := &fakeContinuer{}
	env = newTestEnv(t, cont)
	env.importStory(t)
	env.do(t, http.MethodPost, "/api/stories/story1/start", "u1", nil)
	env.do(t, http.MethodPost, "/api/stories/story1/choices", "u1", map[string]string{"choice_id": "c1"})

	rec, resp := env.do(t, http.MethodPost, "/api/stories/story1/continue", "u1", map[string]string{"choice_text": "Knock"})
	require.Equal(t, http.StatusOK, rec.Code, resp.Error)
	var out narrative.Continuation
	require.NoError(t, json.Unmarshal(resp.Data, &out))
	assert.Equal(t, "The door creaked open.", out.Content)
	assert.Len(t, out.Choices, 2)
	assert.Equal(t, "Knock", cont.choice)
	assert.Equal(t, "Alex stood in the hall, full of hope.\n\nThe door opened onto a garden.", cont.context)

	cont.err = apperr.GenerationFailed("failed to generate story continuation", errors.New("upstream 500"))
	rec, resp = env.do(t, http.MethodPost, "/api/stories/story1/continue", "u1", map[string]string{"choice_text": "Knock"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, apperr.CodeGenerationFailed, resp.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, resp := env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	env.importStory(t)
	env.do(t, http.MethodPost, "/api/stories/story1/start", "u1", nil)
	env.do(t, http.MethodPost, "/api/stories/story1/choices", "u1", map[string]string{"choice_id": "c1"})

	rec, _ = env.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `lumen_choices_total{outcome="ok"} 1`)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(apperr.Validation(apperr.CodeInvalidInput, "x")))
	assert.Equal(t, http.StatusNotFound, statusFor(apperr.NotFound(apperr.CodeStoryNotFound, "x")))
	assert.Equal(t, http.StatusConflict, statusFor(apperr.State(apperr.CodeNoActiveStory, "x")))
	assert.Equal(t, http.StatusBadGateway, statusFor(apperr.GenerationFailed("x", nil)))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}
