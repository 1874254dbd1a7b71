package branch

import (
	"reflect"
	"testing"

	"github.com/qninhdt/lumen-tales/server/internal/story"
)

func scene(id string, targets ...string) story.Scene {
	s := story.Scene{ID: id, Choices: []story.Choice{}}
	for i, target := range targets {
		s.Choices = append(s.Choices, story.Choice{ID: id + "-" + string(rune('a'+i)), NextSceneID: target})
	}
	return s
}

func buildStory(start string, scenes ...story.Scene) *story.Story {
	s := &story.Story{ID: "graph", StartingSceneID: start, Scenes: make(map[string]story.Scene)}
	for _, sc := range scenes {
		s.Scenes[sc.ID] = sc
	}
	return s
}

// TestFindAllPathsSingleScene tests a lone terminal scene
func TestFindAllPathsSingleScene(t *testing.T) {
	s := buildStory("only", scene("only"))
	paths := FindAllPaths(s, "", DefaultMaxDepth)

	if len(paths) != 1 || !reflect.DeepEqual(paths[0], []string{"only"}) {
		t.Errorf("Expected [[only]], got %v", paths)
	}
}

// TestFindAllPathsCycle tests two-cycle truncation and circular reporting
func TestFindAllPathsCycle(t *testing.T) {
	s := buildStory("A", scene("A", "B"), scene("B", "A"))
	paths := FindAllPaths(s, "", DefaultMaxDepth)

	want := []string{"A", "B", "A", Truncated}
	if len(paths) != 1 || !reflect.DeepEqual(paths[0], want) {
		t.Fatalf("Expected [%v], got %v", want, paths)
	}

	report := AnalyzeStoryLogic(s, PathOptions{})
	if len(report.CircularPaths) != 1 || report.CircularPaths[0] != "A -> B -> A -> ..." {
		t.Errorf("Expected circular path 'A -> B -> A -> ...', got %v", report.CircularPaths)
	}
}

// TestFindAllPathsInvalidAndDepth tests the invalid-scene and depth sentinels
func TestFindAllPathsInvalidAndDepth(t *testing.T) {
	s := buildStory("s1", scene("s1", "s2", "ghost"), scene("s2", "s3"), scene("s3", "s4"), scene("s4"))

	paths := FindAllPaths(s, "", 1)
	want := [][]string{
		{"s1", "s2", "s3", Truncated},
		{"s1", "ghost", InvalidScene},
	}
	if !reflect.DeepEqual(paths, want) {
		t.Errorf("Expected %v, got %v", want, paths)
	}

	report := AnalyzeStoryLogic(s, PathOptions{MaxDepth: 1})
	if len(report.CircularPaths) != 0 {
		t.Errorf("Expected depth truncation not to count as a cycle, got %v", report.CircularPaths)
	}
}

// TestAnalyzeStoryLogic tests the four diagnostics
func TestAnalyzeStoryLogic(t *testing.T) {
	s := buildStory("start",
		scene("start", "middle", "missing"),
		scene("middle", "end", "start"),
		scene("end"),
		scene("orphan", "end"),
	)

	report := AnalyzeStoryLogic(s, PathOptions{})

	if !reflect.DeepEqual(report.UnreachableScenes, []string{"orphan"}) {
		t.Errorf("Expected unreachable [orphan], got %v", report.UnreachableScenes)
	}
	if !reflect.DeepEqual(report.DeadEnds, []string{"end"}) {
		t.Errorf("Expected dead ends [end], got %v", report.DeadEnds)
	}
	if !reflect.DeepEqual(report.MissingScenes, []string{"missing"}) {
		t.Errorf("Expected missing [missing], got %v", report.MissingScenes)
	}
	if !reflect.DeepEqual(report.CircularPaths, []string{"start -> middle -> start -> ..."}) {
		t.Errorf("Unexpected circular paths %v", report.CircularPaths)
	}
	if report.PathsExhausted {
		t.Error("Expected enumeration to finish within budget")
	}
}

// TestAnalyzeStoryLogicBudget tests the path budget fallback to reachability
func TestAnalyzeStoryLogicBudget(t *testing.T) {
	s := buildStory("a", scene("a", "b", "c"), scene("b", "d"), scene("c", "d"), scene("d"), scene("lost"))

	result := EnumeratePaths(s, PathOptions{MaxPaths: 1})
	if !result.Exhausted || len(result.Paths) != 1 {
		t.Fatalf("Expected one path and exhaustion, got %d paths exhausted=%v", len(result.Paths), result.Exhausted)
	}

	report := AnalyzeStoryLogic(s, PathOptions{MaxPaths: 1})
	if !report.PathsExhausted {
		t.Error("Expected exhausted flag")
	}
	if !reflect.DeepEqual(report.UnreachableScenes, []string{"lost"}) {
		t.Errorf("Expected unreachable [lost], got %v", report.UnreachableScenes)
	}
}

// TestEnumerateFollowsBranchTargets tests that conditional targets are explored
func TestEnumerateFollowsBranchTargets(t *testing.T) {
	s := buildStory("hub", scene("vault"), scene("street"))
	s.Scenes["hub"] = story.Scene{ID: "hub", Choices: []story.Choice{{
		ID:                  "open",
		ConditionalBranches: []story.ConditionalBranch{{NextSceneID: "vault"}},
		DefaultNextSceneID:  "street",
	}}}

	reach := Reachable(s, "")
	if !reach["vault"] || !reach["street"] {
		t.Errorf("Expected both branch targets reachable, got %v", reach)
	}
	if got := len(FindAllPaths(s, "", DefaultMaxDepth)); got != 2 {
		t.Errorf("Expected 2 paths, got %d", got)
	}
}

// TestChoiceWithoutTargetIsInvalid tests that a choice leading nowhere is not an ending
func TestChoiceWithoutTargetIsInvalid(t *testing.T) {
	s := buildStory("gate", scene("yard"))
	s.Scenes["gate"] = story.Scene{ID: "gate", Choices: []story.Choice{
		{ID: "climb"},
		{ID: "walk", NextSceneID: "yard"},
	}}

	paths := FindAllPaths(s, "", DefaultMaxDepth)
	want := [][]string{
		{"gate", "", InvalidScene},
		{"gate", "yard"},
	}
	if !reflect.DeepEqual(paths, want) {
		t.Errorf("Expected %v, got %v", want, paths)
	}

	report := AnalyzeStoryLogic(s, PathOptions{})
	if !reflect.DeepEqual(report.MissingScenes, []string{""}) {
		t.Errorf("Expected the empty target reported missing, got %q", report.MissingScenes)
	}
	if !reflect.DeepEqual(report.DeadEnds, []string{"yard"}) {
		t.Errorf("Expected dead ends [yard], got %v", report.DeadEnds)
	}
	if len(report.UnreachableScenes) != 0 {
		t.Errorf("Expected no unreachable scenes, got %v", report.UnreachableScenes)
	}
}
