package pipeline_manager

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pendo/climate-assistant/services/rag_service"
)

type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusNotFound   JobStatus = "not_found"
)

type TaskType string

const (
	TaskPDF     TaskType = "pdf"
	TaskWebsite TaskType = "website"
	TaskResume  TaskType = "resume"
)

// Task is one unit of ingestion work. Content carries raw bytes for file
// tasks; URL carries the address for website tasks.
type Task struct {
	Type        TaskType
	Content     []byte
	URL         string
	Metadata    rag_service.DocumentMetadata
	TargetTable string
}

// Job tracks a task through the queue. Records live in memory for the
// lifetime of the process and are never deleted; a restart loses them,
// which is an accepted limitation of the design.
type Job struct {
	ID          string                     `json:"id"`
	Status      JobStatus                  `json:"status"`
	TaskType    TaskType                   `json:"task_type"`
	TargetTable string                     `json:"target_table,omitempty"`
	Title       string                     `json:"title,omitempty"`
	UserID      string                     `json:"user_id,omitempty"`
	QueuedAt    time.Time                  `json:"queued_at"`
	StartedAt   time.Time                  `json:"started_at,omitempty"`
	CompletedAt time.Time                  `json:"completed_at,omitempty"`
	Result      *rag_service.ProcessResult `json:"result,omitempty"`
}

// Processor is the slice of the RAG service the workers drive.
type Processor interface {
	ProcessPDF(ctx context.Context, content []byte, meta rag_service.DocumentMetadata, targetTable string) rag_service.ProcessResult
	ProcessWebsite(ctx context.Context, rawURL string, meta rag_service.DocumentMetadata, targetTable string) rag_service.ProcessResult
	ProcessResume(ctx context.Context, content []byte, filename, userID string) rag_service.ProcessResult
}

type queuedTask struct {
	jobID string
	task  Task
}

// Manager owns the bounded FIFO queue and the fixed worker pool. Each job
// is processed end to end by exactly one worker, so the only shared state
// is the job map behind its RWMutex.
type Manager struct {
	processor Processor
	queue     chan queuedTask
	workers   int
	logger    *slog.Logger

	mu   sync.RWMutex
	jobs map[string]*Job
}

func New(processor Processor, workers, queueCapacity int, logger *slog.Logger) *Manager {
	if workers <= 0 {
		workers = 2
	}
	if queueCapacity <= 0 {
		queueCapacity = 256
	}
	return &Manager{
		processor: processor,
		queue:     make(chan queuedTask, queueCapacity),
		workers:   workers,
		logger:    logger,
		jobs:      make(map[string]*Job),
	}
}

// Start launches the worker pool. Workers run until ctx is cancelled; a
// worker mid-task at shutdown is abandoned along with its network calls.
func (m *Manager) Start(ctx context.Context) {
	for i := 0; i < m.workers; i++ {
		go m.worker(ctx, i)
	}
	m.logger.Info("Pipeline workers started", slog.Int("worker_count", m.workers))
}

// Enqueue registers a job and places the task on the queue, returning
// immediately. When the queue is full the job is rejected rather than
// blocking the request handler.
func (m *Manager) Enqueue(task Task) (string, error) {
	switch task.Type {
	case TaskPDF, TaskWebsite, TaskResume:
	default:
		return "", fmt.Errorf("unsupported task type: %s", task.Type)
	}

	jobID := uuid.New().String()
	job := &Job{
		ID:          jobID,
		Status:      StatusQueued,
		TaskType:    task.Type,
		TargetTable: task.TargetTable,
		Title:       task.Metadata.Title,
		UserID:      task.Metadata.UserID,
		QueuedAt:    time.Now(),
	}

	m.mu.Lock()
	m.jobs[jobID] = job
	m.mu.Unlock()

	select {
	case m.queue <- queuedTask{jobID: jobID, task: task}:
	default:
		// The caller never learns this id, so a failed record would only
		// clutter job listings. Drop it.
		m.mu.Lock()
		delete(m.jobs, jobID)
		m.mu.Unlock()
		return "", fmt.Errorf("processing queue is full")
	}

	return jobID, nil
}

// GetJob returns a snapshot of a job. Unknown ids yield a not_found record
// rather than an error.
func (m *Manager) GetJob(jobID string) Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if job, ok := m.jobs[jobID]; ok {
		return *job
	}
	return Job{ID: jobID, Status: StatusNotFound}
}

// ListJobs returns jobs newest first. A non-empty userID restricts the view
// to that user's jobs; a non-empty status filters by status.
func (m *Manager) ListJobs(status JobStatus, userID string, limit, offset int) ([]Job, int) {
	m.mu.RLock()
	jobs := make([]Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		if userID != "" && job.UserID != userID {
			continue
		}
		if status != "" && job.Status != status {
			continue
		}
		jobs = append(jobs, *job)
	}
	m.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].QueuedAt.After(jobs[j].QueuedAt)
	})

	total := len(jobs)
	if offset >= total {
		return []Job{}, total
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return jobs[offset:end], total
}

// JobCount returns the number of tracked jobs, for health reporting.
func (m *Manager) JobCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.jobs)
}

func (m *Manager) WorkerCount() int { return m.workers }

func (m *Manager) worker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case qt := <-m.queue:
			m.process(ctx, id, qt)
		}
	}
}

func (m *Manager) process(ctx context.Context, workerID int, qt queuedTask) {
	// A panicking task must not take the worker down with it.
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Worker recovered from panic",
				slog.Int("worker", workerID),
				slog.String("job_id", qt.jobID),
				slog.Any("panic", r))
			m.setStatus(qt.jobID, StatusFailed, &rag_service.ProcessResult{
				Success: false,
				Error:   fmt.Sprintf("internal error: %v", r),
			})
		}
	}()

	m.markStarted(qt.jobID)

	var result rag_service.ProcessResult
	switch qt.task.Type {
	case TaskPDF:
		result = m.processor.ProcessPDF(ctx, qt.task.Content, qt.task.Metadata, qt.task.TargetTable)
	case TaskWebsite:
		result = m.processor.ProcessWebsite(ctx, qt.task.URL, qt.task.Metadata, qt.task.TargetTable)
	case TaskResume:
		result = m.processor.ProcessResume(ctx, qt.task.Content, qt.task.Metadata.Filename, qt.task.Metadata.UserID)
	}

	status := StatusCompleted
	if !result.Success {
		status = StatusFailed
	}
	m.setStatus(qt.jobID, status, &result)

	m.logger.Info("Job finished",
		slog.Int("worker", workerID),
		slog.String("job_id", qt.jobID),
		slog.String("task_type", string(qt.task.Type)),
		slog.String("status", string(status)))
}

func (m *Manager) markStarted(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[jobID]; ok {
		job.Status = StatusProcessing
		job.StartedAt = time.Now()
	}
}

func (m *Manager) setStatus(jobID string, status JobStatus, result *rag_service.ProcessResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[jobID]; ok {
		job.Status = status
		job.CompletedAt = time.Now()
		job.Result = result
	}
}
