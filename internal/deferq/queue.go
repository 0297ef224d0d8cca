// Package deferq holds conversational work that could not be served
// immediately because the AI dependency was overloaded. Jobs are queued
// per requester, bounded in count and age, and drained one at a time by
// a background worker.
package deferq

import (
	"sync"
	"time"
)

// Job is one deferred conversational request. Created by the handler on
// deferral; owned and destroyed by the drain worker.
type Job struct {
	ID          string
	Key         string // channel + author composite
	CommunityID string
	ChannelID   string
	AuthorID    string
	Prompt      string
	// Captured context frozen at enqueue time: the reply chain and the
	// system instructions active when the user asked.
	ReplyChain   []string
	SystemPrompt string
	EnqueuedAt   time.Time
}

// Queue is a per-requester-key FIFO with a per-key capacity bound and a
// job TTL. The bound is per key, not global: one noisy requester must
// not starve the rest.
type Queue struct {
	mu     sync.Mutex
	jobs   map[string][]Job
	perKey int
	ttl    time.Duration
	now    func() time.Time
}

// New creates a Queue holding at most perKey jobs per requester, each
// living at most ttl before being discarded unexecuted.
func New(perKey int, ttl time.Duration) *Queue {
	return &Queue{
		jobs:   make(map[string][]Job),
		perKey: perKey,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Enqueue adds a job for its requester key. It returns the 1-based
// queue position, or ok=false when that key is already at capacity —
// the caller must surface the rejection to the user.
func (q *Queue) Enqueue(job Job) (position int, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	pending := q.jobs[job.Key]
	if len(pending) >= q.perKey {
		return 0, false
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = q.now()
	}
	q.jobs[job.Key] = append(pending, job)
	return len(q.jobs[job.Key]), true
}

// Next purges expired jobs across all keys, drops keys left empty, and
// pops exactly one pending job from one key. Selection follows map
// iteration order; strict cross-key fairness is not required. ok=false
// means nothing is pending.
func (q *Queue) Next() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.now().Add(-q.ttl)
	for key, pending := range q.jobs {
		kept := pending[:0]
		for _, j := range pending {
			if j.EnqueuedAt.After(cutoff) {
				kept = append(kept, j)
			}
		}
		if len(kept) == 0 {
			delete(q.jobs, key)
			continue
		}
		q.jobs[key] = kept
	}

	for key, pending := range q.jobs {
		job := pending[0]
		if len(pending) == 1 {
			delete(q.jobs, key)
		} else {
			q.jobs[key] = pending[1:]
		}
		return job, true
	}
	return Job{}, false
}

// Len reports the total number of pending jobs, expired or not.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, pending := range q.jobs {
		n += len(pending)
	}
	return n
}
