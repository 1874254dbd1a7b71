package branch

import (
	"strings"

	"github.com/qninhdt/lumen-tales/server/internal/story"
)

// Path sentinels
const (
	Truncated    = "..."
	InvalidScene = "INVALID_SCENE"
)

// DefaultMaxDepth bounds path enumeration depth
const DefaultMaxDepth = 10

// PathOptions bounds path enumeration
type PathOptions struct {
	Start    string // defaults to the story's starting scene
	MaxDepth int    // defaults to DefaultMaxDepth
	MaxPaths int    // 0 means unlimited
}

// PathResult is the outcome of an enumeration
type PathResult struct {
	Paths [][]string `json:"paths"`
	// Exhausted is set when MaxPaths stopped the walk early
	Exhausted bool `json:"exhausted"`
}

// FindAllPaths enumerates every choice path from start, depth first
func FindAllPaths(s *story.Story, start string, maxDepth int) [][]string {
	return EnumeratePaths(s, PathOptions{Start: start, MaxDepth: maxDepth}).Paths
}

// EnumeratePaths walks every choice branch. A path ends at a terminal scene,
// with Truncated when it is too deep or revisits a scene, or with InvalidScene
// when it reaches an id the story does not define.
func EnumeratePaths(s *story.Story, opts PathOptions) PathResult {
	start := opts.Start
	if start == "" {
		start = s.StartingSceneID
	}
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	w := &walker{story: s, maxDepth: maxDepth, maxPaths: opts.MaxPaths}
	w.traverse(start, nil, 0)
	return PathResult{Paths: w.paths, Exhausted: w.exhausted}
}

type walker struct {
	story     *story.Story
	maxDepth  int
	maxPaths  int
	paths     [][]string
	exhausted bool
}

func (w *walker) emit(path []string, tail ...string) {
	if w.maxPaths > 0 && len(w.paths) >= w.maxPaths {
		w.exhausted = true
		return
	}
	out := make([]string, 0, len(path)+len(tail))
	out = append(out, path...)
	out = append(out, tail...)
	w.paths = append(w.paths, out)
}

func (w *walker) traverse(sceneID string, path []string, depth int) {
	if w.exhausted {
		return
	}
	if depth > w.maxDepth || containsID(path, sceneID) {
		w.emit(path, sceneID, Truncated)
		return
	}

	scene, ok := w.story.Scenes[sceneID]
	if !ok {
		w.emit(path, sceneID, InvalidScene)
		return
	}

	next := append(append([]string(nil), path...), sceneID)
	for _, choice := range scene.Choices {
		for _, target := range choiceTargets(&choice) {
			w.traverse(target, next, depth+1)
			if w.exhausted {
				return
			}
		}
	}
	if len(scene.Choices) == 0 {
		w.emit(next)
	}
}

// choiceTargets is Targets with a choice that leads nowhere reported as the
// empty scene id, so it surfaces as an invalid scene instead of an ending
func choiceTargets(c *story.Choice) []string {
	if targets := c.Targets(); len(targets) > 0 {
		return targets
	}
	return []string{""}
}

// Reachable returns the scene ids reachable from start without enumeration
func Reachable(s *story.Story, start string) map[string]bool {
	if start == "" {
		start = s.StartingSceneID
	}
	seen := make(map[string]bool)
	queue := []string{start}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		scene, ok := s.Scenes[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		for _, choice := range scene.Choices {
			queue = append(queue, choice.Targets()...)
		}
	}
	return seen
}

// Report lists the structural defects of a story graph
type Report struct {
	UnreachableScenes []string `json:"unreachable_scenes"`
	DeadEnds          []string `json:"dead_ends"`
	MissingScenes     []string `json:"missing_scenes"`
	CircularPaths     []string `json:"circular_paths"`
	// PathsExhausted is set when enumeration hit its path budget; reachability
	// was then computed by graph search.
	PathsExhausted bool `json:"paths_exhausted"`
}

// AnalyzeStoryLogic reports unreachable scenes, dead ends, missing targets and cycles
func AnalyzeStoryLogic(s *story.Story, opts PathOptions) Report {
	result := EnumeratePaths(s, opts)
	report := Report{
		UnreachableScenes: make([]string, 0),
		DeadEnds:          make([]string, 0),
		MissingScenes:     make([]string, 0),
		CircularPaths:     make([]string, 0),
		PathsExhausted:    result.Exhausted,
	}

	var reachable map[string]bool
	if result.Exhausted {
		reachable = Reachable(s, opts.Start)
	} else {
		reachable = make(map[string]bool)
		for _, path := range result.Paths {
			for _, id := range path {
				reachable[id] = true
			}
		}
	}

	seenMissing := make(map[string]bool)
	for _, id := range s.SceneIDs() {
		scene := s.Scenes[id]
		if !reachable[id] {
			report.UnreachableScenes = append(report.UnreachableScenes, id)
		}
		if scene.IsTerminal() {
			report.DeadEnds = append(report.DeadEnds, id)
		}
		for _, choice := range scene.Choices {
			for _, target := range choiceTargets(&choice) {
				if _, ok := s.Scenes[target]; !ok && !seenMissing[target] {
					seenMissing[target] = true
					report.MissingScenes = append(report.MissingScenes, target)
				}
			}
		}
	}

	seenCycle := make(map[string]bool)
	for _, path := range result.Paths {
		if !isCycle(path) {
			continue
		}
		rendered := strings.Join(path, " -> ")
		if !seenCycle[rendered] {
			seenCycle[rendered] = true
			report.CircularPaths = append(report.CircularPaths, rendered)
		}
	}
	return report
}

// isCycle reports whether path was truncated because it revisited a scene
func isCycle(path []string) bool {
	n := len(path)
	if n < 3 || path[n-1] != Truncated || containsID(path, InvalidScene) {
		return false
	}
	return containsID(path[:n-2], path[n-2])
}

func containsID(path []string, id string) bool {
	for _, p := range path {
		if p == id {
			return true
		}
	}
	return false
}
