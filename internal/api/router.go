package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/qninhdt/lumen-tales/server/internal/apperr"
	"github.com/qninhdt/lumen-tales/server/internal/branch"
	"github.com/qninhdt/lumen-tales/server/internal/character"
	"github.com/qninhdt/lumen-tales/server/internal/db"
	"github.com/qninhdt/lumen-tales/server/internal/emotion"
	"github.com/qninhdt/lumen-tales/server/internal/logger"
	mw "github.com/qninhdt/lumen-tales/server/internal/middleware"
	"github.com/qninhdt/lumen-tales/server/internal/narrative"
	"github.com/qninhdt/lumen-tales/server/internal/progress"
	"github.com/qninhdt/lumen-tales/server/internal/render"
	"github.com/qninhdt/lumen-tales/server/internal/scene"
	"github.com/qninhdt/lumen-tales/server/internal/story"
	"go.uber.org/zap"
)

// StoryStore persists story documents
type StoryStore interface {
	SaveStory(ctx context.Context, s *story.Story) error
	GetStory(ctx context.Context, id string) (*story.Story, error)
	ListStories(ctx context.Context) ([]db.StorySummary, error)
	DeleteStory(ctx context.Context, id string) error
}

// Continuer writes the next story segment
type Continuer interface {
	Continue(ctx context.Context, storyContext, choiceText string) (*narrative.Continuation, error)
}

// Deps are the collaborators of the API server. Continuer and Tokens may be
// nil when no text model or ledger is configured. An empty OperatorKey
// disables the operator routes.
type Deps struct {
	Stories     StoryStore
	Progress    *progress.Controller
	Rules       *branch.Manager
	Emotions    *emotion.Mapper
	Characters  *character.Engine
	Scenes      *scene.Matcher
	Pipeline    *render.Pipeline
	Continuer   Continuer
	Tokens      TokenLedger
	Auth        *mw.Authenticator
	Limiter     *mw.RateLimiter
	Gatherer    prometheus.Gatherer
	Paths       branch.PathOptions
	OperatorKey string
	MaxBody     int64
	Logger      *zap.Logger
}

// Server handles HTTP requests
type Server struct {
	router chi.Router
	deps   Deps
	logger *zap.Logger
}

// NewServer creates a new API server
func NewServer(deps Deps) *Server {
	if deps.MaxBody <= 0 {
		deps.MaxBody = 1024 * 1024
	}
	if deps.Limiter == nil {
		deps.Limiter = mw.NewRateLimiter(100, 1)
	}
	if deps.Auth == nil {
		deps.Auth = mw.NewAuthenticator("", deps.Logger)
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		router: chi.NewRouter(),
		deps:   deps,
		logger: logger.OrNop(deps.Logger).Named("api"),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.deps.Limiter.Middleware)
	s.router.Use(mw.SecurityHeadersMiddleware)
	s.router.Use(mw.MaxBodySizeMiddleware(s.deps.MaxBody))

	s.router.Get("/healthz", s.health)
	s.router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))

	s.router.Group(func(r chi.Router) {
		r.Use(middleware.SetHeader("Content-Type", "application/json"))

		r.Post("/api/stories", s.importStory)
		r.Get("/api/stories", s.listStories)
		r.Get("/api/stories/{id}", s.getStory)
		r.Get("/api/stories/{id}/analysis", s.analyzeStory)
		r.Get("/api/stories/{id}/paths", s.storyPaths)

		r.Get("/api/emotion/labels", s.emotionLabels)
		r.Post("/api/emotion/analyze", s.analyzeEmotion)
		r.Post("/api/images/character", s.characterImage)
		r.Post("/api/images/scene", s.sceneImage)

		// Reading sessions need an identity
		r.Group(func(r chi.Router) {
			r.Use(s.deps.Auth.Middleware)
			r.Post("/api/stories/{id}/start", s.startStory)
			r.Post("/api/stories/{id}/resume", s.resumeStory)
			r.Get("/api/stories/{id}/progress", s.currentProgress)
			r.Post("/api/stories/{id}/choices", s.makeChoice)
			r.Post("/api/stories/{id}/reset", s.resetProgress)
			r.Get("/api/stories/{id}/artifacts", s.artifacts)
			r.Post("/api/stories/{id}/continue", s.continueStory)
			r.Get("/api/tokens", s.tokenBalance)
		})

		r.Group(func(r chi.Router) {
			r.Use(mw.RequireOperatorKey(s.deps.OperatorKey))
			r.Delete("/api/stories/{id}", s.deleteStory)
			r.Post("/api/users/{userID}/tokens", s.creditTokens)
		})
	})
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Response wraps API responses
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeData(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, Response{Success: true, Data: data})
}

// writeError writes an error response (sanitized)
func writeError(w http.ResponseWriter, status int, message, code string) {
	if status >= 500 && status != http.StatusBadGateway && status != http.StatusServiceUnavailable {
		message = "Internal server error"
		code = ""
	}
	writeJSON(w, status, Response{
		Success: false,
		Error:   message,
		Code:    code,
	})
}

// statusFor maps an error kind to its HTTP status
func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindState:
		return http.StatusConflict
	case apperr.KindGenerationFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err using its kind; untyped errors are logged and hidden
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		s.logger.Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
		writeError(w, status, "Internal server error", "")
		return
	}
	if status >= 500 {
		s.logger.Warn("Upstream failure", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeError(w, status, appErr.Message, appErr.Code)
}

// decode reads a JSON body into v
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large", "BODY_TOO_LARGE")
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid request body", apperr.CodeInvalidInput)
		return false
	}
	return true
}

// getUserID extracts user ID from context
func getUserID(r *http.Request) string {
	return mw.UserID(r.Context())
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]string{"status": "ok"})
}
