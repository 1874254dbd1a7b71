package branch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/qninhdt/lumen-tales/server/internal/story"
)

const defaultGuardTimeout = 100 * time.Millisecond

// guardSet compiles branch guard expressions once and evaluates them with a time budget
type guardSet struct {
	programs map[string]*vm.Program
	timeout  time.Duration
	mu       sync.RWMutex
}

func newGuardSet(timeout time.Duration) *guardSet {
	if timeout <= 0 {
		timeout = defaultGuardTimeout
	}
	return &guardSet{
		programs: make(map[string]*vm.Program),
		timeout:  timeout,
	}
}

// compile returns the cached program for source
func (g *guardSet) compile(source string) (*vm.Program, error) {
	g.mu.RLock()
	program, ok := g.programs[source]
	g.mu.RUnlock()
	if ok {
		return program, nil
	}

	program, err := expr.Compile(source, expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("invalid guard %q: %w", source, err)
	}

	g.mu.Lock()
	g.programs[source] = program
	g.mu.Unlock()
	return program, nil
}

// eval runs a guard against vars
func (g *guardSet) eval(source string, vars story.Variables) (bool, error) {
	program, err := g.compile(source)
	if err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()

	resultChan := make(chan interface{}, 1)
	errChan := make(chan error, 1)

	env := map[string]interface{}(vars.Clone())
	go func() {
		result, err := vm.Run(program, env)
		if err != nil {
			errChan <- err
		} else {
			resultChan <- result
		}
	}()

	select {
	case <-ctx.Done():
		return false, fmt.Errorf("guard evaluation timeout")
	case err := <-errChan:
		return false, fmt.Errorf("guard evaluation error: %w", err)
	case result := <-resultChan:
		b, ok := result.(bool)
		if !ok {
			return false, fmt.Errorf("guard did not evaluate to boolean")
		}
		return b, nil
	}
}

// ValidateGuards compiles every guard in s and reports the first failure
func (m *Manager) ValidateGuards(s *story.Story) error {
	for _, id := range s.SceneIDs() {
		scene := s.Scenes[id]
		for _, choice := range scene.Choices {
			for _, b := range choice.ConditionalBranches {
				if b.Guard == "" {
					continue
				}
				if _, err := m.guards.compile(b.Guard); err != nil {
					return fmt.Errorf("scene %s choice %s: %w", id, choice.ID, err)
				}
			}
		}
	}
	return nil
}
