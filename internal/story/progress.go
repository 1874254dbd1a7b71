package story

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a reading session
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusEnded      Status = "ended"
)

// ChoiceRecord is one entry of the choice history
type ChoiceRecord struct {
	SceneID   string    `json:"scene_id"`
	ChoiceID  string    `json:"choice_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Progress is the per-user, per-story session state
type Progress struct {
	UserID           string                    `json:"user_id"`
	StoryID          string                    `json:"story_id"`
	CurrentSceneID   string                    `json:"current_scene_id"`
	VisitedScenes    []string                  `json:"visited_scenes"`
	CharacterStates  map[string]CharacterPatch `json:"character_states"`
	Variables        Variables                 `json:"variables"`
	ChoiceHistory    []ChoiceRecord            `json:"choice_history"`
	TokensSpent      int                       `json:"tokens_spent"`
	CompletedEndings []string                  `json:"completed_endings"`
	LastReadAt       time.Time                 `json:"last_read_at"`
}

// ProgressKey returns the persistence key of a story's progress
func ProgressKey(storyID string) string {
	return "story_progress_" + storyID
}

// NewProgress seeds fresh progress at the starting scene of s
func NewProgress(userID string, s *Story, now time.Time) *Progress {
	p := &Progress{
		UserID:           userID,
		StoryID:          s.ID,
		CurrentSceneID:   s.StartingSceneID,
		VisitedScenes:    []string{s.StartingSceneID},
		CharacterStates:  make(map[string]CharacterPatch),
		Variables:        s.Variables.Clone(),
		ChoiceHistory:    make([]ChoiceRecord, 0),
		CompletedEndings: make([]string, 0),
		LastReadAt:       now,
	}
	if scene, ok := s.Scene(s.StartingSceneID); ok && scene.IsTerminal() {
		p.AddEnding(scene.ID)
	}
	return p
}

// Clone returns a deep copy
func (p *Progress) Clone() *Progress {
	out := *p
	out.VisitedScenes = append([]string(nil), p.VisitedScenes...)
	out.ChoiceHistory = append([]ChoiceRecord(nil), p.ChoiceHistory...)
	out.CompletedEndings = append([]string(nil), p.CompletedEndings...)
	out.Variables = p.Variables.Clone()
	out.CharacterStates = make(map[string]CharacterPatch, len(p.CharacterStates))
	for id, patch := range p.CharacterStates {
		out.CharacterStates[id] = patch.Merge(CharacterPatch{})
	}
	return &out
}

// ApplyCharacterChanges merges changes per character into CharacterStates
func (p *Progress) ApplyCharacterChanges(changes map[string]CharacterPatch) {
	if p.CharacterStates == nil {
		p.CharacterStates = make(map[string]CharacterPatch)
	}
	for id, change := range changes {
		p.CharacterStates[id] = p.CharacterStates[id].Merge(change)
	}
}

// HasCompleted reports whether the ending scene was reached
func (p *Progress) HasCompleted(sceneID string) bool {
	for _, id := range p.CompletedEndings {
		if id == sceneID {
			return true
		}
	}
	return false
}

// AddEnding records a terminal scene once
func (p *Progress) AddEnding(sceneID string) {
	if !p.HasCompleted(sceneID) {
		p.CompletedEndings = append(p.CompletedEndings, sceneID)
	}
}

// ResolveCharacter returns the base character with this session's overlay applied
func (p *Progress) ResolveCharacter(base Character) Character {
	patch, ok := p.CharacterStates[base.ID]
	if !ok {
		return base
	}
	return patch.Apply(base)
}

// UnmarshalJSON implements json.Unmarshaler; nil collections become empty
func (p *Progress) UnmarshalJSON(data []byte) error {
	type Alias Progress
	aux := &struct{ *Alias }{Alias: (*Alias)(p)}

	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	if p.VisitedScenes == nil {
		p.VisitedScenes = make([]string, 0)
	}
	if p.CharacterStates == nil {
		p.CharacterStates = make(map[string]CharacterPatch)
	}
	if p.Variables == nil {
		p.Variables = make(Variables)
	}
	if p.ChoiceHistory == nil {
		p.ChoiceHistory = make([]ChoiceRecord, 0)
	}
	if p.CompletedEndings == nil {
		p.CompletedEndings = make([]string, 0)
	}
	return nil
}
