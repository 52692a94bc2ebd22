package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"taxrollsync/pkg/domain"
)

// JobKind names a background operation.
type JobKind string

const (
	JobLogin  JobKind = "login"
	JobSave   JobKind = "save"
	JobUpload JobKind = "upload"
	JobSubmit JobKind = "submit"
)

// JobStatus describes the lifecycle stage of a job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// ErrWorkerStopped is returned for jobs enqueued after Stop.
var ErrWorkerStopped = errors.New("session worker stopped")

// Job tracks one background operation.
type Job struct {
	ID          string     `json:"id"`
	Kind        JobKind    `json:"kind"`
	Module      string     `json:"module,omitempty"`
	Actor       string     `json:"actor,omitempty"`
	Status      JobStatus  `json:"status"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (j *Job) copy() Job {
	out := *j
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// Completion is delivered once per job when it finishes.
type Completion struct {
	Job     Job
	Session *Session
	Save    *SaveResult
	Submit  *SubmitResult
	Err     error
}

// AuditLogger records job audit entries.
type AuditLogger interface {
	Record(ctx context.Context, entry AuditEntry)
}

// AuditEntry captures the audit trail of a job transition.
type AuditEntry struct {
	ID         string         `json:"id"`
	Job        string         `json:"job"`
	Action     JobKind        `json:"action"`
	Actor      string         `json:"actor"`
	Status     JobStatus      `json:"status"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Worker runs session operations off the caller's goroutine, one goroutine
// per job, and reports each result on Completions.
type Worker struct {
	svc   *Service
	audit AuditLogger
	out   chan Completion

	mu      sync.RWMutex
	jobs    map[string]*Job
	stopped bool

	abandon chan struct{}
	wg      sync.WaitGroup
}

// NewWorker constructs a worker whose completion channel holds buffer results.
func NewWorker(svc *Service, audit AuditLogger, buffer int) *Worker {
	if buffer <= 0 {
		buffer = 16
	}
	return &Worker{
		svc:     svc,
		audit:   audit,
		out:     make(chan Completion, buffer),
		jobs:    make(map[string]*Job),
		abandon: make(chan struct{}),
	}
}

// Completions delivers finished jobs. It is closed by Stop once every job
// has reported.
func (w *Worker) Completions() <-chan Completion { return w.out }

// Login authenticates in the background.
func (w *Worker) Login(identity, secret string) (Job, error) {
	return w.enqueue(JobLogin, "", identity, func(ctx context.Context) Completion {
		sess, err := w.svc.Login(ctx, identity, secret)
		return Completion{Session: sess, Err: err}
	})
}

// Save replicates a copy of rows for module in the background.
func (w *Worker) Save(module domain.ModuleID, rows [][]string) (Job, error) {
	cp := make([][]string, len(rows))
	for i, r := range rows {
		cp[i] = slices.Clone(r)
	}
	return w.enqueue(JobSave, string(module), w.actor(), func(ctx context.Context) Completion {
		res, err := w.svc.Save(ctx, module, cp)
		return Completion{Save: &res, Err: err}
	})
}

// Upload saves a workbook's rows in the background.
func (w *Worker) Upload(data []byte) (Job, error) {
	module := ""
	if sc, err := w.svc.uploadSchema(); err == nil {
		module = string(sc.Module)
	}
	return w.enqueue(JobUpload, module, w.actor(), func(ctx context.Context) Completion {
		res, err := w.svc.Upload(ctx, bytes.NewReader(data))
		return Completion{Save: &res, Err: err}
	})
}

// Submit exports and dispatches the ledger in the background.
func (w *Worker) Submit() (Job, error) {
	return w.enqueue(JobSubmit, "", w.actor(), func(ctx context.Context) Completion {
		res, err := w.svc.Submit(ctx)
		if err != nil {
			return Completion{Err: err}
		}
		return Completion{Submit: &res}
	})
}

// Get returns a snapshot of the job record.
func (w *Worker) Get(id string) (Job, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	job, ok := w.jobs[id]
	if !ok {
		return Job{}, false
	}
	return job.copy(), true
}

// Stop refuses new jobs and waits for running ones; started jobs are never
// cancelled. When ctx expires first, Stop returns and the completions of jobs
// still running are dropped.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		close(w.out)
		return nil
	case <-ctx.Done():
		close(w.abandon)
		go func() {
			<-done
			close(w.out)
		}()
		return ctx.Err()
	}
}

func (w *Worker) actor() string {
	if sess, err := w.svc.Current(); err == nil {
		return sess.Identity()
	}
	return ""
}

func (w *Worker) enqueue(kind JobKind, module, actor string, run func(context.Context) Completion) (Job, error) {
	now := time.Now().UTC()
	job := &Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		Module:    module,
		Actor:     actor,
		Status:    JobStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return Job{}, ErrWorkerStopped
	}
	w.jobs[job.ID] = job
	queued := job.copy()
	w.wg.Add(1)
	w.mu.Unlock()

	w.record(queued)
	go w.process(job.ID, run)
	return queued, nil
}

func (w *Worker) process(id string, run func(context.Context) Completion) {
	defer w.wg.Done()
	ctx := context.Background()
	w.updateStatus(id, JobStatusRunning, "")

	c := w.runSafely(ctx, run)
	if c.Err != nil {
		c.Job = w.updateStatus(id, JobStatusFailed, c.Err.Error())
	} else {
		c.Job = w.updateStatus(id, JobStatusSucceeded, "")
	}
	select {
	case w.out <- c:
	case <-w.abandon:
	}
}

func (w *Worker) runSafely(ctx context.Context, run func(context.Context) Completion) (c Completion) {
	defer func() {
		if r := recover(); r != nil {
			c = Completion{Err: fmt.Errorf("job panicked: %v", r)}
		}
	}()
	return run(ctx)
}

func (w *Worker) updateStatus(id string, status JobStatus, msg string) Job {
	now := time.Now().UTC()
	w.mu.Lock()
	job := w.jobs[id]
	job.Status = status
	job.Error = msg
	job.UpdatedAt = now
	if status == JobStatusSucceeded || status == JobStatusFailed {
		job.CompletedAt = &now
	}
	snapshot := job.copy()
	w.mu.Unlock()
	w.record(snapshot)
	return snapshot
}

func (w *Worker) record(job Job) {
	if w.audit == nil {
		return
	}
	var meta map[string]any
	if job.Module != "" || job.Error != "" {
		meta = map[string]any{}
		if job.Module != "" {
			meta["module"] = job.Module
		}
		if job.Error != "" {
			meta["error"] = job.Error
		}
	}
	w.audit.Record(context.Background(), AuditEntry{
		ID:         uuid.NewString(),
		Job:        job.ID,
		Action:     job.Kind,
		Actor:      job.Actor,
		Status:     job.Status,
		Metadata:   meta,
		OccurredAt: job.UpdatedAt,
	})
}

// MemoryAuditLog stores audit entries in memory.
type MemoryAuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
}

// Record implements AuditLogger.
func (l *MemoryAuditLog) Record(_ context.Context, entry AuditEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
}

// Entries returns a copy of the recorded audit entries.
func (l *MemoryAuditLog) Entries() []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]AuditEntry(nil), l.entries...)
}
