package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/qninhdt/lumen-tales/server/internal/progress"
	"github.com/qninhdt/lumen-tales/server/internal/validation"
)

// maxContextScenes bounds how much of the reading history is sent as context
const maxContextScenes = 5

// sessionStoryID validates the {id} URL parameter of a session route
func (s *Server) sessionStoryID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if err := validation.ValidateStoryID(id); err != nil {
		s.fail(w, r, err)
		return "", false
	}
	return id, true
}

type sessionOp func(r *http.Request, userID, storyID string) (*progress.Snapshot, error)

func (s *Server) runSession(w http.ResponseWriter, r *http.Request, op sessionOp) {
	storyID, ok := s.sessionStoryID(w, r)
	if !ok {
		return
	}
	snap, err := op(r, getUserID(r), storyID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, snap)
}

func (s *Server) startStory(w http.ResponseWriter, r *http.Request) {
	s.runSession(w, r, func(r *http.Request, userID, storyID string) (*progress.Snapshot, error) {
		return s.deps.Progress.StartStory(r.Context(), userID, storyID)
	})
}

func (s *Server) resumeStory(w http.ResponseWriter, r *http.Request) {
	s.runSession(w, r, func(r *http.Request, userID, storyID string) (*progress.Snapshot, error) {
		return s.deps.Progress.Resume(r.Context(), userID, storyID)
	})
}

func (s *Server) currentProgress(w http.ResponseWriter, r *http.Request) {
	s.runSession(w, r, func(r *http.Request, userID, storyID string) (*progress.Snapshot, error) {
		return s.deps.Progress.Current(r.Context(), userID, storyID)
	})
}

func (s *Server) resetProgress(w http.ResponseWriter, r *http.Request) {
	s.runSession(w, r, func(r *http.Request, userID, storyID string) (*progress.Snapshot, error) {
		return s.deps.Progress.Reset(r.Context(), userID, storyID)
	})
}

// makeChoice applies a choice of the current scene
func (s *Server) makeChoice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChoiceID string `json:"choice_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := validation.ValidateChoiceID(req.ChoiceID); err != nil {
		s.fail(w, r, err)
		return
	}

	s.runSession(w, r, func(r *http.Request, userID, storyID string) (*progress.Snapshot, error) {
		return s.deps.Progress.MakeChoice(r.Context(), userID, storyID, req.ChoiceID)
	})
}

// artifacts renders the scenes entered since the last call
func (s *Server) artifacts(w http.ResponseWriter, r *http.Request) {
	storyID, ok := s.sessionStoryID(w, r)
	if !ok {
		return
	}
	bundles, err := s.deps.Pipeline.RenderPending(r.Context(), getUserID(r), storyID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, bundles)
}

// continueStory asks the text model for the next segment after a free-form action
func (s *Server) continueStory(w http.ResponseWriter, r *http.Request) {
	if s.deps.Continuer == nil {
		writeError(w, http.StatusServiceUnavailable, "Narrative continuation is not configured", "")
		return
	}

	var req struct {
		ChoiceText string `json:"choice_text"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := validation.ValidateText("choice_text", req.ChoiceText); err != nil {
		s.fail(w, r, err)
		return
	}

	storyID, ok := s.sessionStoryID(w, r)
	if !ok {
		return
	}
	snap, err := s.deps.Progress.Current(r.Context(), getUserID(r), storyID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	st, err := s.deps.Stories.GetStory(r.Context(), storyID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	visited := snap.Progress.VisitedScenes
	if len(visited) > maxContextScenes {
		visited = visited[len(visited)-maxContextScenes:]
	}
	parts := make([]string, 0, len(visited))
	for _, id := range visited {
		if sc, ok := st.Scene(id); ok && sc.Content != "" {
			parts = append(parts, sc.Content)
		}
	}

	cont, err := s.deps.Continuer.Continue(r.Context(), strings.Join(parts, "\n\n"), req.ChoiceText)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, cont)
}
