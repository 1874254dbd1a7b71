package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/qninhdt/lumen-tales/server/internal/apperr"
	"github.com/qninhdt/lumen-tales/server/internal/story"
	"go.uber.org/zap"
)

const (
	// maxCredit bounds a single credit or debit
	maxCredit       = 1_000_000
	maxUserIDLength = 128
)

// TokenLedger holds reader token balances
type TokenLedger interface {
	Balance(ctx context.Context, userID string, token story.TokenType) (int64, error)
	Credit(ctx context.Context, userID string, token story.TokenType, amount int64) (int64, error)
}

type balanceResponse struct {
	UserID    string          `json:"user_id"`
	TokenType story.TokenType `json:"token_type"`
	Balance   int64           `json:"balance"`
}

func (s *Server) ledgerConfigured(w http.ResponseWriter) bool {
	if s.deps.Tokens == nil {
		writeError(w, http.StatusServiceUnavailable, "Token ledger is not configured", "")
		return false
	}
	return true
}

// tokenBalance reports the caller's LUMEN balance
func (s *Server) tokenBalance(w http.ResponseWriter, r *http.Request) {
	if !s.ledgerConfigured(w) {
		return
	}
	userID := getUserID(r)
	balance, err := s.deps.Tokens.Balance(r.Context(), userID, story.TokenLumen)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, balanceResponse{UserID: userID, TokenType: story.TokenLumen, Balance: balance})
}

// creditTokens adds (or with a negative amount removes) LUMEN from a reader
func (s *Server) creditTokens(w http.ResponseWriter, r *http.Request) {
	if !s.ledgerConfigured(w) {
		return
	}
	var req struct {
		Amount int64 `json:"amount"`
	}
	if !decode(w, r, &req) {
		return
	}

	userID := chi.URLParam(r, "userID")
	if userID == "" || len(userID) > maxUserIDLength {
		s.fail(w, r, apperr.Validation(apperr.CodeInvalidInput, "invalid user id"))
		return
	}
	if req.Amount == 0 || req.Amount > maxCredit || req.Amount < -maxCredit {
		s.fail(w, r, apperr.Validation(apperr.CodeInvalidInput, "amount must be non-zero and at most 1000000 in magnitude"))
		return
	}

	balance, err := s.deps.Tokens.Credit(r.Context(), userID, story.TokenLumen, req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("Tokens credited",
		zap.String("user", userID),
		zap.Int64("amount", req.Amount),
		zap.Int64("balance", balance))
	writeData(w, http.StatusOK, balanceResponse{UserID: userID, TokenType: story.TokenLumen, Balance: balance})
}
