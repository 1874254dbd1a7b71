package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/qninhdt/lumen-tales/server/internal/apperr"
	"github.com/qninhdt/lumen-tales/server/internal/branch"
	"github.com/qninhdt/lumen-tales/server/internal/story"
	"github.com/qninhdt/lumen-tales/server/internal/validation"
	"go.uber.org/zap"
)

// importStory validates and stores a story document
func (s *Server) importStory(w http.ResponseWriter, r *http.Request) {
	var st story.Story
	if !decode(w, r, &st) {
		return
	}

	if st.ID == "" {
		st.ID = uuid.New().String()
	} else if err := validation.ValidateStoryID(st.ID); err != nil {
		s.fail(w, r, err)
		return
	}
	now := time.Now().UTC()
	if st.CreatedAt.IsZero() {
		st.CreatedAt = now
	}
	st.UpdatedAt = now

	st.Normalize()
	if err := st.Validate(); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.deps.Rules.ValidateGuards(&st); err != nil {
		s.fail(w, r, apperr.New(apperr.KindValidation, apperr.CodeInvalidStory, err.Error(), err))
		return
	}

	if err := s.deps.Stories.SaveStory(r.Context(), &st); err != nil {
		s.fail(w, r, err)
		return
	}

	report := branch.AnalyzeStoryLogic(&st, s.deps.Paths)
	s.logger.Info("Story imported",
		zap.String("story", st.ID),
		zap.Int("scenes", len(st.Scenes)),
		zap.Int("dead_ends", len(report.DeadEnds)),
		zap.Int("missing_scenes", len(report.MissingScenes)))

	writeData(w, http.StatusCreated, map[string]interface{}{
		"story":    st,
		"analysis": report,
	})
}

func (s *Server) listStories(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Stories.ListStories(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, list)
}

// loadStory resolves the {id} URL parameter to a stored story
func (s *Server) loadStory(w http.ResponseWriter, r *http.Request) (*story.Story, bool) {
	id := chi.URLParam(r, "id")
	if err := validation.ValidateStoryID(id); err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	st, err := s.deps.Stories.GetStory(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	return st, true
}

func (s *Server) getStory(w http.ResponseWriter, r *http.Request) {
	st, ok := s.loadStory(w, r)
	if !ok {
		return
	}
	writeData(w, http.StatusOK, st)
}

// deleteStory removes a story and forgets the portraits of its characters
func (s *Server) deleteStory(w http.ResponseWriter, r *http.Request) {
	st, ok := s.loadStory(w, r)
	if !ok {
		return
	}
	if err := s.deps.Stories.DeleteStory(r.Context(), st.ID); err != nil {
		s.fail(w, r, err)
		return
	}
	for id := range st.Characters {
		s.deps.Characters.ForgetCharacter(id)
	}
	s.logger.Info("Story deleted", zap.String("story", st.ID), zap.Int("characters", len(st.Characters)))
	writeData(w, http.StatusOK, map[string]string{"id": st.ID})
}

func (s *Server) analyzeStory(w http.ResponseWriter, r *http.Request) {
	st, ok := s.loadStory(w, r)
	if !ok {
		return
	}
	writeData(w, http.StatusOK, branch.AnalyzeStoryLogic(st, s.deps.Paths))
}

func (s *Server) storyPaths(w http.ResponseWriter, r *http.Request) {
	st, ok := s.loadStory(w, r)
	if !ok {
		return
	}
	opts := s.deps.Paths
	if start := r.URL.Query().Get("start"); start != "" {
		if _, exists := st.Scene(start); !exists {
			s.fail(w, r, apperr.NotFound(apperr.CodeSceneNotFound, "scene not found: "+start))
			return
		}
		opts.Start = start
	}
	writeData(w, http.StatusOK, branch.EnumeratePaths(st, opts))
}
