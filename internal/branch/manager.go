package branch

import (
	"context"
	"fmt"
	"time"

	"github.com/qninhdt/lumen-tales/server/internal/logger"
	"github.com/qninhdt/lumen-tales/server/internal/story"
	"go.uber.org/zap"
)

// Ledger reports token balances held by a user
type Ledger interface {
	Balance(ctx context.Context, userID string, token story.TokenType) (int64, error)
}

// Manager resolves branch destinations and choice availability
type Manager struct {
	guards *guardSet
	ledger Ledger
	logger *zap.Logger
}

// Option configures a Manager
type Option func(*Manager)

// WithLedger wires token balance checks into IsChoiceAvailable
func WithLedger(l Ledger) Option {
	return func(m *Manager) { m.ledger = l }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = logger.OrNop(l).Named("branch") }
}

// WithGuardTimeout bounds guard expression evaluation
func WithGuardTimeout(d time.Duration) Option {
	return func(m *Manager) { m.guards = newGuardSet(d) }
}

// NewManager creates a branch manager
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		guards: newGuardSet(defaultGuardTimeout),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// EvaluateConditionalBranch reports whether a branch applies. A branch without
// conditions or guard is unconditional.
func (m *Manager) EvaluateConditionalBranch(b story.ConditionalBranch, vars story.Variables) bool {
	if len(b.Conditions) > 0 {
		var ok bool
		if b.LogicOperator == story.LogicOr {
			for _, c := range b.Conditions {
				if EvaluateCondition(c, vars) {
					ok = true
					break
				}
			}
		} else {
			ok = true
			for _, c := range b.Conditions {
				if !EvaluateCondition(c, vars) {
					ok = false
					break
				}
			}
		}
		if !ok {
			return false
		}
	}

	if b.Guard != "" {
		ok, err := m.guards.eval(b.Guard, vars)
		if err != nil {
			m.logger.Warn("Guard rejected", zap.String("guard", b.Guard), zap.Error(err))
			return false
		}
		return ok
	}
	return true
}

// DetermineNextScene returns the target of the first matching branch, falling
// back to the default target and then the plain next scene.
func (m *Manager) DetermineNextScene(choice *story.Choice, vars story.Variables) string {
	for _, b := range choice.ConditionalBranches {
		if m.EvaluateConditionalBranch(b, vars) {
			return b.NextSceneID
		}
	}
	if choice.DefaultNextSceneID != "" {
		return choice.DefaultNextSceneID
	}
	return choice.NextSceneID
}

// UpdateVariables returns vars with the choice's variable changes laid over it
func UpdateVariables(choice *story.Choice, vars story.Variables) story.Variables {
	if choice.Consequences == nil || len(choice.Consequences.VariableChanges) == 0 {
		return vars.Clone()
	}
	return vars.Merge(choice.Consequences.VariableChanges)
}

// IsChoiceAvailable checks a choice's token requirement against the reader's
// LUMEN balance. Without a ledger every choice is available.
func (m *Manager) IsChoiceAvailable(ctx context.Context, choice *story.Choice, p *story.Progress) (bool, error) {
	if choice.RequiredTokens <= 0 || m.ledger == nil {
		return true, nil
	}

	balance, err := m.ledger.Balance(ctx, p.UserID, story.TokenLumen)
	if err != nil {
		return false, fmt.Errorf("failed to read token balance: %w", err)
	}
	return balance >= int64(choice.RequiredTokens), nil
}
