package story

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/qninhdt/lumen-tales/server/internal/apperr"
)

// TokenType identifies a ledger token
type TokenType string

const (
	TokenLumen     TokenType = "LUMEN"
	TokenStory     TokenType = "STORY"
	TokenCharacter TokenType = "CHARACTER"
)

// Relationship links a character to another character
type Relationship struct {
	CharacterID string `json:"character_id"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Strength    int    `json:"strength"` // 0-100
}

// Character is an authored participant of a story
type Character struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Description   string            `json:"description"`
	Backstory     string            `json:"backstory,omitempty"`
	Traits        []string          `json:"traits"`
	Attributes    Attributes        `json:"attributes"`
	Emotions      map[string]string `json:"emotions,omitempty"` // emotion label -> image reference
	Relationships []Relationship    `json:"relationships,omitempty"`
	ImageURL      string            `json:"image_url,omitempty"`
	TokenID       string            `json:"token_id,omitempty"`
	CreatorID     string            `json:"creator_id,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// HasTrait reports whether the character carries trait, ignoring case
func (c *Character) HasTrait(trait string) bool {
	for _, t := range c.Traits {
		if strings.EqualFold(t, trait) {
			return true
		}
	}
	return false
}

// LogicOperator combines the conditions of a branch
type LogicOperator string

const (
	LogicAnd LogicOperator = "AND"
	LogicOr  LogicOperator = "OR"
)

// Operator compares a story variable to a literal
type Operator string

const (
	OpEqual          Operator = "=="
	OpNotEqual       Operator = "!="
	OpGreater        Operator = ">"
	OpLess           Operator = "<"
	OpGreaterOrEqual Operator = ">="
	OpLessOrEqual    Operator = "<="
	OpContains       Operator = "contains"
	OpNotContains    Operator = "not-contains"
)

// Condition is a single predicate over story variables
type Condition struct {
	VariableName string      `json:"variable_name"`
	Operator     Operator    `json:"operator"`
	Value        interface{} `json:"value"`
}

// ConditionalBranch is a predicate-guarded alternate destination.
// Guard is an optional expr-lang expression over the variables, ANDed with Conditions.
type ConditionalBranch struct {
	Conditions    []Condition   `json:"conditions"`
	LogicOperator LogicOperator `json:"logic_operator"`
	Guard         string        `json:"guard,omitempty"`
	NextSceneID   string        `json:"next_scene_id"`
}

// Consequences are applied to progress when a choice is made
type Consequences struct {
	CharacterChanges map[string]CharacterPatch `json:"character_changes,omitempty"`
	VariableChanges  Variables                 `json:"variable_changes,omitempty"`
}

// Choice is a labeled edge between scenes. A choice with conditional
// branches resolves its destination from session state.
type Choice struct {
	ID                  string              `json:"id"`
	Text                string              `json:"text"`
	NextSceneID         string              `json:"next_scene_id"`
	RequiredTokens      int                 `json:"required_tokens,omitempty"`
	Consequences        *Consequences       `json:"consequences,omitempty"`
	ConditionalBranches []ConditionalBranch `json:"conditional_branches,omitempty"`
	DefaultNextSceneID  string              `json:"default_next_scene_id,omitempty"`
}

// Targets returns every scene id the choice can lead to, in declaration order
func (c *Choice) Targets() []string {
	var targets []string
	seen := make(map[string]bool)
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			targets = append(targets, id)
		}
	}
	for _, b := range c.ConditionalBranches {
		add(b.NextSceneID)
	}
	add(c.DefaultNextSceneID)
	add(c.NextSceneID)
	return targets
}

// Scene is a narrative node
type Scene struct {
	ID                 string            `json:"id"`
	Title              string            `json:"title"`
	Content            string            `json:"content"`
	Setting            string            `json:"setting,omitempty"`
	Time               string            `json:"time,omitempty"`
	Mood               string            `json:"mood,omitempty"`
	Characters         []string          `json:"characters"`
	Choices            []Choice          `json:"choices"`
	ParentID           string            `json:"parent_id,omitempty"`
	ImageURL           string            `json:"image_url,omitempty"`
	BackgroundImageURL string            `json:"background_image_url,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// IsTerminal reports whether the scene ends the story
func (s *Scene) IsTerminal() bool {
	return len(s.Choices) == 0
}

// FindChoice returns the choice with the given id
func (s *Scene) FindChoice(id string) (*Choice, bool) {
	for i := range s.Choices {
		if s.Choices[i].ID == id {
			return &s.Choices[i], true
		}
	}
	return nil, false
}

// Story is a directed graph of scenes plus its cast and initial variables
type Story struct {
	ID              string               `json:"id"`
	Title           string               `json:"title"`
	Description     string               `json:"description,omitempty"`
	AuthorID        string               `json:"author_id,omitempty"`
	CoverImage      string               `json:"cover_image,omitempty"`
	Tags            []string             `json:"tags,omitempty"`
	Characters      map[string]Character `json:"characters"`
	Scenes          map[string]Scene     `json:"scenes"`
	StartingSceneID string               `json:"starting_scene_id"`
	Variables       Variables            `json:"variables"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

// UnmarshalJSON accepts root_scene_id as an alias of starting_scene_id
func (s *Story) UnmarshalJSON(data []byte) error {
	type Alias Story
	aux := &struct {
		*Alias
		RootSceneID string `json:"root_scene_id"`
	}{
		Alias: (*Alias)(s),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if s.StartingSceneID == "" {
		s.StartingSceneID = aux.RootSceneID
	}
	return nil
}

// Scene returns the scene with the given id
func (s *Story) Scene(id string) (*Scene, bool) {
	scene, ok := s.Scenes[id]
	if !ok {
		return nil, false
	}
	return &scene, true
}

// Character returns the character with the given id
func (s *Story) Character(id string) (*Character, bool) {
	c, ok := s.Characters[id]
	if !ok {
		return nil, false
	}
	return &c, true
}

// SceneIDs returns all scene ids in sorted order
func (s *Story) SceneIDs() []string {
	ids := make([]string, 0, len(s.Scenes))
	for id := range s.Scenes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Normalize fills ids from map keys and allocates nil maps
func (s *Story) Normalize() {
	if s.Scenes == nil {
		s.Scenes = make(map[string]Scene)
	}
	if s.Characters == nil {
		s.Characters = make(map[string]Character)
	}
	if s.Variables == nil {
		s.Variables = make(Variables)
	}
	for key, scene := range s.Scenes {
		if scene.ID == "" {
			scene.ID = key
			s.Scenes[key] = scene
		}
	}
	for key, c := range s.Characters {
		if c.ID == "" {
			c.ID = key
			s.Characters[key] = c
		}
	}
}

// Validate checks the hard invariants of a story. Dangling choice targets are
// structural defects reported by branch analysis, not validation failures.
func (s *Story) Validate() error {
	if s.ID == "" {
		return apperr.Validation(apperr.CodeInvalidStory, "story id is required")
	}
	if len(s.Scenes) == 0 {
		return apperr.Validation(apperr.CodeInvalidStory, "story has no scenes")
	}
	if _, ok := s.Scenes[s.StartingSceneID]; !ok {
		return apperr.Validation(apperr.CodeInvalidStory,
			fmt.Sprintf("starting scene %q is not a scene of the story", s.StartingSceneID))
	}
	for key, scene := range s.Scenes {
		if scene.ID != key {
			return apperr.Validation(apperr.CodeInvalidStory,
				fmt.Sprintf("scene keyed %q has id %q", key, scene.ID))
		}
		seen := make(map[string]bool, len(scene.Choices))
		for _, choice := range scene.Choices {
			if choice.ID == "" {
				return apperr.Validation(apperr.CodeInvalidStory,
					fmt.Sprintf("scene %q has a choice without id", key))
			}
			if seen[choice.ID] {
				return apperr.Validation(apperr.CodeInvalidStory,
					fmt.Sprintf("scene %q has duplicate choice %q", key, choice.ID))
			}
			seen[choice.ID] = true
			if choice.RequiredTokens < 0 {
				return apperr.Validation(apperr.CodeInvalidStory,
					fmt.Sprintf("choice %q has negative required tokens", choice.ID))
			}
		}
	}
	for key, c := range s.Characters {
		if c.ID != key {
			return apperr.Validation(apperr.CodeInvalidStory,
				fmt.Sprintf("character keyed %q has id %q", key, c.ID))
		}
	}
	return nil
}
