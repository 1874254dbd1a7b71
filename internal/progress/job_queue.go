package progress

import (
	"container/list"
	"sync"
	"time"

	"github.com/qninhdt/lumen-tales/server/internal/story"
)

// Reasons a scene was entered
const (
	ReasonStart  = "start"
	ReasonResume = "resume"
	ReasonChoice = "choice"
	ReasonReset  = "reset"
)

// ArtifactJob asks for the derived artifacts of a scene a reader entered
type ArtifactJob struct {
	UserID          string                          `json:"user_id"`
	StoryID         string                          `json:"story_id"`
	SceneID         string                          `json:"scene_id"`
	Reason          string                          `json:"reason"`
	CharacterStates map[string]story.CharacterPatch `json:"character_states"`
	EnqueuedAt      time.Time                       `json:"enqueued_at"`
}

// Default bounds of a JobQueue
const (
	DefaultQueueCapacity = 1024
	DefaultJobMaxAge     = 30 * time.Minute
)

type jobKey struct {
	userID, storyID, sceneID string
}

func (j *ArtifactJob) key() jobKey {
	return jobKey{j.UserID, j.StoryID, j.SceneID}
}

// JobQueue accumulates artifact jobs until a renderer drains them. It keeps
// only the latest job per (user, story, scene) and holds at most capacity
// jobs. Jobs enqueued more than maxAge before the newest job are forgotten.
type JobQueue struct {
	mu       sync.Mutex
	pending  *list.List // *ArtifactJob, oldest first
	index    map[jobKey]*list.Element
	capacity int
	maxAge   time.Duration
}

// NewJobQueue creates a queue; non-positive bounds take the defaults
func NewJobQueue(capacity int, maxAge time.Duration) *JobQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	if maxAge <= 0 {
		maxAge = DefaultJobMaxAge
	}
	return &JobQueue{
		pending:  list.New(),
		index:    make(map[jobKey]*list.Element),
		capacity: capacity,
		maxAge:   maxAge,
	}
}

// Enqueue adds a job, replacing an older pending job for the same scene.
// A job older than the pending one for its scene is dropped.
func (jq *JobQueue) Enqueue(job *ArtifactJob) {
	jq.mu.Lock()
	defer jq.mu.Unlock()

	if elem, ok := jq.index[job.key()]; ok {
		if elem.Value.(*ArtifactJob).EnqueuedAt.After(job.EnqueuedAt) {
			return
		}
		jq.remove(elem)
	}
	jq.index[job.key()] = jq.pending.PushBack(job)

	jq.expire(job.EnqueuedAt)
	for jq.pending.Len() > jq.capacity {
		jq.remove(jq.pending.Front())
	}
}

// expire drops jobs enqueued before now-maxAge; callers hold jq.mu
func (jq *JobQueue) expire(now time.Time) {
	cutoff := now.Add(-jq.maxAge)
	for elem := jq.pending.Front(); elem != nil; elem = jq.pending.Front() {
		if !elem.Value.(*ArtifactJob).EnqueuedAt.Before(cutoff) {
			return
		}
		jq.remove(elem)
	}
}

func (jq *JobQueue) remove(elem *list.Element) {
	job := jq.pending.Remove(elem).(*ArtifactJob)
	delete(jq.index, job.key())
}

// DrainSession pops the pending jobs of one reading session, oldest first
func (jq *JobQueue) DrainSession(userID, storyID string) []*ArtifactJob {
	jq.mu.Lock()
	defer jq.mu.Unlock()

	var jobs []*ArtifactJob
	for elem := jq.pending.Front(); elem != nil; {
		next := elem.Next()
		job := elem.Value.(*ArtifactJob)
		if job.UserID == userID && job.StoryID == storyID {
			jobs = append(jobs, job)
			jq.remove(elem)
		}
		elem = next
	}
	return jobs
}

// Count returns the number of pending jobs
func (jq *JobQueue) Count() int {
	jq.mu.Lock()
	defer jq.mu.Unlock()
	return jq.pending.Len()
}
