package internal

import "sync"

// Job is a unit of work handed to the event loop from another goroutine.
type Job func() error

// AsyncJobQueue collects jobs pushed from any goroutine until the owning loop
// drains them with ForEach.
type AsyncJobQueue struct {
	lock sync.Locker
	jobs []Job
}

// NewAsyncJobQueue returns an empty queue guarded by a spinlock.
func NewAsyncJobQueue() AsyncJobQueue {
	return AsyncJobQueue{lock: Spinlock()}
}

// Push appends job and returns the queue length after the push. A result of 1
// means the queue was empty and the consumer needs waking.
func (q *AsyncJobQueue) Push(job Job) (jobsNum int) {
	q.lock.Lock()
	q.jobs = append(q.jobs, job)
	jobsNum = len(q.jobs)
	q.lock.Unlock()
	return
}

// Len returns the number of queued jobs.
func (q *AsyncJobQueue) Len() (n int) {
	q.lock.Lock()
	n = len(q.jobs)
	q.lock.Unlock()
	return
}

// Discard drops every pending job without running it and returns how many
// were dropped.
func (q *AsyncJobQueue) Discard() (n int) {
	q.lock.Lock()
	n = len(q.jobs)
	q.jobs = nil
	q.lock.Unlock()
	return
}

// ForEach swaps out the pending jobs and runs them in push order. The first
// error stops the batch; jobs after it are discarded.
func (q *AsyncJobQueue) ForEach() (err error) {
	q.lock.Lock()
	jobs := q.jobs
	q.jobs = nil
	q.lock.Unlock()
	for i := range jobs {
		if err = jobs[i](); err != nil {
			return err
		}
	}
	return
}
