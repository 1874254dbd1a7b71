package api

import (
	"net/http"
	"strings"

	"github.com/qninhdt/lumen-tales/server/internal/apperr"
	"github.com/qninhdt/lumen-tales/server/internal/emotion"
	"github.com/qninhdt/lumen-tales/server/internal/validation"
)

func (s *Server) emotionLabels(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, emotion.BasicEmotions())
}

func (s *Server) analyzeEmotion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := validation.ValidateText("text", req.Text); err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, s.deps.Emotions.AnalyzeTextEmotion(req.Text))
}

// characterImage renders a character portrait for an emotion, outfit and setting
func (s *Server) characterImage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StoryID     string `json:"story_id"`
		CharacterID string `json:"character_id"`
		Emotion     string `json:"emotion"`
		Outfit      string `json:"outfit"`
		Scene       string `json:"scene"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := validation.ValidateStoryID(req.StoryID); err != nil {
		s.fail(w, r, err)
		return
	}
	label := strings.ToLower(strings.TrimSpace(req.Emotion))
	if label == "" {
		label = emotion.Neutral
	}
	if !emotion.IsBasicEmotion(label) {
		s.fail(w, r, apperr.Validation(apperr.CodeInvalidInput, "unknown emotion: "+req.Emotion))
		return
	}

	st, err := s.deps.Stories.GetStory(r.Context(), req.StoryID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	c, ok := st.Character(req.CharacterID)
	if !ok {
		s.fail(w, r, apperr.NotFound(apperr.CodeCharacterNotFound, "character not found: "+req.CharacterID))
		return
	}

	img, err := s.deps.Characters.GenerateCharacterImage(r.Context(), c, label, req.Outfit, req.Scene)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, img)
}

func (s *Server) sceneImage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StoryID string `json:"story_id"`
		SceneID string `json:"scene_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := validation.ValidateStoryID(req.StoryID); err != nil {
		s.fail(w, r, err)
		return
	}

	st, err := s.deps.Stories.GetStory(r.Context(), req.StoryID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	sc, ok := st.Scene(req.SceneID)
	if !ok {
		s.fail(w, r, apperr.NotFound(apperr.CodeSceneNotFound, "scene not found: "+req.SceneID))
		return
	}

	img, err := s.deps.Scenes.GenerateSceneImage(r.Context(), sc, st.Characters)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, img)
}
