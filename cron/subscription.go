package cron

import "sync"

// JobStatus is the state of a scheduled job handle.
type JobStatus string

const (
	JobScheduled JobStatus = "scheduled"
	JobRunning   JobStatus = "running"
	JobIdle      JobStatus = "idle"
	JobCompleted JobStatus = "completed"
	JobCanceled  JobStatus = "canceled"
	JobFailed    JobStatus = "failed"
	JobStopped   JobStatus = "stopped"
)

// IsTerminal reports whether the job will never run again.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobCompleted, JobCanceled, JobFailed, JobStopped:
		return true
	default:
		return false
	}
}

// Handle controls one scheduled job.
type Handle interface {
	Cancel()
	Status() JobStatus
	Err() error
	Done() <-chan struct{}
	ID() int64
}

type jobHandle struct {
	scheduler *Scheduler
	id        int64
	entryID   int
	done      chan struct{}

	mu     sync.RWMutex
	status JobStatus
	err    error
	once   sync.Once
}

func (h *jobHandle) Cancel() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		if h.scheduler != nil {
			h.scheduler.removeHandle(h.id)
		}
		h.setTerminal(JobCanceled, nil)
	})
}

func (h *jobHandle) Status() JobStatus {
	if h == nil {
		return JobStopped
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

// Err is the error of the last failed run.
func (h *jobHandle) Err() error {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.err
}

func (h *jobHandle) Done() <-chan struct{} {
	if h == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return h.done
}

func (h *jobHandle) ID() int64 {
	if h == nil {
		return 0
	}
	return h.id
}

func (h *jobHandle) setStatus(status JobStatus, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status.IsTerminal() {
		return
	}
	h.status = status
	h.err = err
}

func (h *jobHandle) setTerminal(status JobStatus, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status.IsTerminal() {
		return
	}
	h.status = status
	h.err = err
	close(h.done)
}
