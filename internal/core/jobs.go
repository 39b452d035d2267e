package core

// jobs.go keeps the in-memory registry of ingestion jobs.
//
// A job is registered when a stable file begins processing and stays
// queryable for the retention period after it reaches a terminal stage.
// Cancellation is cooperative: RequestCancel sets a flag that the engine
// checks at every batch boundary.

import (
	"context"
	"fmt"
	"hash/fnv"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultJobRetention is how long finished jobs stay queryable.
const DefaultJobRetention = 10 * time.Minute

type job struct {
	canceled atomic.Bool
	done     chan struct{}

	mu        sync.Mutex
	status    JobStatus
	listeners []chan JobStatus
}

// snapshot returns a copy safe to hand to callers.
func (j *job) snapshot() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.copyStatus()
}

func (j *job) copyStatus() JobStatus {
	st := j.status
	st.Percent = st.progress()
	st.Rejected = append([]RejectedBatch(nil), j.status.Rejected...)
	st.Candidates = append([]SchemaCandidate(nil), j.status.Candidates...)
	return st
}

// update applies fn and fans the new status out to subscribers.
// Slow subscribers miss intermediate updates.
func (j *job) update(fn func(*JobStatus)) {
	j.mu.Lock()
	defer j.mu.Unlock()

	fn(&j.status)
	st := j.copyStatus()
	for _, ch := range j.listeners {
		select {
		case ch <- st:
		default:
		}
	}
}

// finish closes subscriber channels and releases waiters.
func (j *job) finish() {
	j.mu.Lock()
	for _, ch := range j.listeners {
		close(ch)
	}
	j.listeners = nil
	j.mu.Unlock()

	close(j.done)
}

// Jobs is the registry of running and recently finished ingestion jobs.
type Jobs struct {
	mu        sync.RWMutex
	jobs      map[string]*job
	retention time.Duration
}

// NewJobs creates a registry keeping finished jobs for retention.
func NewJobs(retention time.Duration) *Jobs {
	if retention <= 0 {
		retention = DefaultJobRetention
	}
	return &Jobs{
		jobs:      make(map[string]*job),
		retention: retention,
	}
}

// JobKey derives the key for path from its file name.
func JobKey(path string) string {
	return filepath.Base(path)
}

// register creates a job for path. The key is the file name, suffixed with
// a short path hash when another active file already uses that name.
func (r *Jobs) register(path string, batchSize int) (*job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := JobKey(path)
	if existing, ok := r.jobs[key]; ok && !existing.snapshot().Done {
		if existing.snapshot().Path == path {
			return nil, fmt.Errorf("%w: %s", ErrJobActive, path)
		}
		key = fmt.Sprintf("%s-%08x", key, pathHash(path))
		if other, ok := r.jobs[key]; ok && !other.snapshot().Done {
			return nil, fmt.Errorf("%w: %s", ErrJobActive, path)
		}
	}

	j := &job{
		done: make(chan struct{}),
		status: JobStatus{
			Key:       key,
			RunID:     uuid.NewString(),
			Path:      path,
			BatchSize: batchSize,
			Stage:     StageStarting,
			StartedAt: time.Now(),
		},
	}
	r.jobs[key] = j
	return j, nil
}

// release schedules removal of a finished job after the retention period.
func (r *Jobs) release(j *job) {
	key := j.snapshot().Key
	time.AfterFunc(r.retention, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.jobs[key] == j {
			delete(r.jobs, key)
		}
	})
}

func pathHash(path string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(path))
	return h.Sum32()
}

func (r *Jobs) get(key string) (*job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	j, ok := r.jobs[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, key)
	}
	return j, nil
}

// GetStatus returns the current status of a job without blocking.
func (r *Jobs) GetStatus(key string) (JobStatus, error) {
	j, err := r.get(key)
	if err != nil {
		return JobStatus{}, err
	}
	return j.snapshot(), nil
}

// RequestCancel asks a running job to stop at the next batch boundary.
// Returns false if the job is unknown or already finished.
func (r *Jobs) RequestCancel(key string) bool {
	j, err := r.get(key)
	if err != nil {
		return false
	}
	if j.snapshot().Done {
		return false
	}
	j.canceled.Store(true)
	return true
}

// CancelAll requests cancellation of every running job.
func (r *Jobs) CancelAll() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, j := range r.jobs {
		if !j.snapshot().Done {
			j.canceled.Store(true)
			n++
		}
	}
	return n
}

// Subscribe returns a channel receiving status updates for a job.
// The current status is delivered first; the channel is closed when the
// job finishes.
func (r *Jobs) Subscribe(key string) (<-chan JobStatus, error) {
	j, err := r.get(key)
	if err != nil {
		return nil, err
	}

	ch := make(chan JobStatus, 16)

	j.mu.Lock()
	defer j.mu.Unlock()
	ch <- j.copyStatus()
	if j.status.Done {
		close(ch)
		return ch, nil
	}
	j.listeners = append(j.listeners, ch)
	return ch, nil
}

// Wait blocks until the job finishes or ctx ends.
func (r *Jobs) Wait(ctx context.Context, key string) (JobStatus, error) {
	j, err := r.get(key)
	if err != nil {
		return JobStatus{}, err
	}
	select {
	case <-j.done:
		return j.snapshot(), nil
	case <-ctx.Done():
		return j.snapshot(), ctx.Err()
	}
}

// List returns all known jobs, oldest first.
func (r *Jobs) List() []JobStatus {
	r.mu.RLock()
	out := make([]JobStatus, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j.snapshot())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, k int) bool {
		if !out[i].StartedAt.Equal(out[k].StartedAt) {
			return out[i].StartedAt.Before(out[k].StartedAt)
		}
		return out[i].Key < out[k].Key
	})
	return out
}
