package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/qninhdt/lumen-tales/server/internal/apperr"
	mw "github.com/qninhdt/lumen-tales/server/internal/middleware"
	"github.com/qninhdt/lumen-tales/server/internal/progress"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gatedStoryDoc = `{
	"id": "toll",
	"title": "The Toll Bridge",
	"starting_scene_id": "bank",
	"scenes": {
		"bank": {
			"content": "A troll guards the bridge.",
			"choices": [
				{"id": "pay", "text": "Pay the toll", "next_scene_id": "across", "required_tokens": 30},
				{"id": "swim", "text": "Swim", "next_scene_id": "across"}
			]
		},
		"across": {"content": "You reach the far bank."}
	}
}`

func TestGatedChoiceAfterCredit(t *testing.T) {
	env := newTestEnv(t, nil)
	rec, resp := env.do(t, http.MethodPost, "/api/stories", "", gatedStoryDoc)
	require.Equal(t, http.StatusCreated, rec.Code, resp.Error)

	rec, resp = env.do(t, http.MethodPost, "/api/stories/toll/start", "reader", nil)
	require.Equal(t, http.StatusOK, rec.Code, resp.Error)

	rec, resp = env.do(t, http.MethodPost, "/api/stories/toll/choices", "reader", map[string]string{"choice_id": "pay"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperr.CodeInsufficientTokens, resp.Code)

	rec, resp = env.do(t, http.MethodPost, "/api/users/reader/tokens", "", map[string]int64{"amount": 20})
	require.Equal(t, http.StatusOK, rec.Code, resp.Error)
	var bal balanceResponse
	require.NoError(t, json.Unmarshal(resp.Data, &bal))
	assert.Equal(t, int64(20), bal.Balance)

	rec, resp = env.do(t, http.MethodPost, "/api/stories/toll/choices", "reader", map[string]string{"choice_id": "pay"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperr.CodeInsufficientTokens, resp.Code)

	env.do(t, http.MethodPost, "/api/users/reader/tokens", "", map[string]int64{"amount": 10})

	rec, resp = env.do(t, http.MethodGet, "/api/tokens", "reader", nil)
	require.Equal(t, http.StatusOK, rec.Code, resp.Error)
	require.NoError(t, json.Unmarshal(resp.Data, &bal))
	assert.Equal(t, int64(30), bal.Balance)
	assert.Equal(t, "reader", bal.UserID)

	rec, resp = env.do(t, http.MethodPost, "/api/stories/toll/choices", "reader", map[string]string{"choice_id": "pay"})
	require.Equal(t, http.StatusOK, rec.Code, resp.Error)
	var snap progress.Snapshot
	require.NoError(t, json.Unmarshal(resp.Data, &snap))
	assert.Equal(t, "across", snap.Scene.ID)

	// other readers are still gated
	env.do(t, http.MethodPost, "/api/stories/toll/start", "other", nil)
	rec, resp = env.do(t, http.MethodPost, "/api/stories/toll/choices", "other", map[string]string{"choice_id": "pay"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperr.CodeInsufficientTokens, resp.Code)
}

func TestCreditTokensValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, resp := env.do(t, http.MethodPost, "/api/users/reader/tokens", "", map[string]int64{"amount": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperr.CodeInvalidInput, resp.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/users/reader/tokens", "", map[string]int64{"amount": maxCredit + 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, resp = env.do(t, http.MethodPost, "/api/users/reader/tokens", "", map[string]int64{"amount": -5})
	require.Equal(t, http.StatusOK, rec.Code, resp.Error)
	var bal balanceResponse
	require.NoError(t, json.Unmarshal(resp.Data, &bal))
	assert.Equal(t, int64(-5), bal.Balance)

	rec, _ = env.do(t, http.MethodGet, "/api/tokens", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOperatorRoutesNeedKey(t *testing.T) {
	env := newTestEnv(t, nil)
	env.importStory(t)

	for _, key := range []string{"", "wrong"} {
		req := httptest.NewRequest(http.MethodPost, "/api/users/reader/tokens", strings.NewReader(`{"amount": 100}`))
		if key != "" {
			req.Header.Set(mw.OperatorKeyHeader, key)
		}
		rec := httptest.NewRecorder()
		env.server.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		req = httptest.NewRequest(http.MethodDelete, "/api/stories/story1", nil)
		if key != "" {
			req.Header.Set(mw.OperatorKeyHeader, key)
		}
		rec = httptest.NewRecorder()
		env.server.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec, _ := env.do(t, http.MethodGet, "/api/stories/story1", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDeleteStory(t *testing.T) {
	env := newTestEnv(t, nil)
	env.importStory(t)

	body := map[string]string{"story_id": "story1", "character_id": "alex", "emotion": "joy"}
	rec, resp := env.do(t, http.MethodPost, "/api/images/character", "", body)
	require.Equal(t, http.StatusOK, rec.Code, resp.Error)
	require.Len(t, env.server.deps.Characters.Images("alex"), 1)

	rec, resp = env.do(t, http.MethodDelete, "/api/stories/story1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, resp.Error)
	assert.Empty(t, env.server.deps.Characters.Images("alex"))

	rec, resp = env.do(t, http.MethodGet, "/api/stories/story1", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apperr.CodeStoryNotFound, resp.Code)

	rec, resp = env.do(t, http.MethodDelete, "/api/stories/story1", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apperr.CodeStoryNotFound, resp.Code)
}
