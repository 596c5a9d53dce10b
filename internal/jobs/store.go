// Package jobs implements the persistent job queue behind the pipeline
// worker: a sqlite-backed job store, a bounded-concurrency queue, and the
// loopback HTTP API used to submit and poll jobs.
package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Job lifecycle statuses. A job moves pending → queued → running →
// processing → completed | failed. Restart recovery re-queues anything
// non-terminal.
const (
	StatusPending    = "pending"
	StatusQueued     = "queued"
	StatusRunning    = "running"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Job types accepted by the worker.
const (
	TypeProcessSession = "process_session"
	TypeReinterpret    = "reinterpret"
)

// ErrNotFound is returned when a job ID does not exist.
var ErrNotFound = errors.New("jobs: job not found")

// Job is one pipeline job row. InputData and ResultData are JSON documents
// stored as text.
type Job struct {
	ID          string    `gorm:"primaryKey" json:"job_id"`
	JobType     string    `gorm:"index" json:"job_type"`
	Status      string    `gorm:"index" json:"status"`
	CurrentStep string    `json:"current_step,omitempty"`
	InputData   string    `json:"-"`
	ResultData  string    `json:"-"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Input decodes the job's input document.
func (j *Job) Input() (map[string]any, error) {
	out := map[string]any{}
	if j.InputData == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(j.InputData), &out); err != nil {
		return nil, fmt.Errorf("jobs: decode input of %s: %w", j.ID, err)
	}
	return out, nil
}

// Terminal reports whether the job reached a final status.
func (j *Job) Terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// Store persists jobs in sqlite.
type Store struct {
	db *gorm.DB
}

// Open opens (and migrates) the job database at path. Use ":memory:" for
// tests.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("jobs: open database %q: %w", path, err)
	}
	if err := db.AutoMigrate(&Job{}); err != nil {
		return nil, fmt.Errorf("jobs: migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Create inserts a new pending job with the given input document.
func (s *Store) Create(jobType string, input map[string]any) (*Job, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("jobs: encode input: %w", err)
	}
	job := &Job{
		ID:          uuid.NewString(),
		JobType:     jobType,
		Status:      StatusPending,
		CurrentStep: "init",
		InputData:   string(data),
	}
	if err := s.db.Create(job).Error; err != nil {
		return nil, fmt.Errorf("jobs: insert job: %w", err)
	}
	return job, nil
}

// Get loads one job by ID.
func (s *Store) Get(id string) (*Job, error) {
	var job Job
	err := s.db.First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("jobs: load job %s: %w", id, err)
	}
	return &job, nil
}

// SetStatus updates a job's status and current step.
func (s *Store) SetStatus(id, status, step string) error {
	return s.update(id, map[string]any{"status": status, "current_step": step})
}

// SetStep updates only the current step; the job stays in its status.
func (s *Store) SetStep(id, step string) error {
	return s.update(id, map[string]any{"current_step": step})
}

// Complete stores the result document and marks the job completed. The
// result is written in the same update as the status so a poller never sees
// completed without data.
func (s *Store) Complete(id string, result any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("jobs: encode result: %w", err)
	}
	return s.update(id, map[string]any{
		"status":       StatusCompleted,
		"current_step": "done",
		"result_data":  string(data),
	})
}

// Fail marks the job failed with an error message.
func (s *Store) Fail(id, msg string) error {
	return s.update(id, map[string]any{
		"status": StatusFailed,
		"error":  msg,
	})
}

// Unfinished lists jobs that were in flight when the process last stopped,
// oldest first, so they can be re-queued.
func (s *Store) Unfinished() ([]Job, error) {
	var out []Job
	err := s.db.
		Where("status IN ?", []string{StatusPending, StatusQueued, StatusRunning, StatusProcessing}).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("jobs: list unfinished: %w", err)
	}
	return out, nil
}

// Recent lists the most recently updated jobs, up to limit.
func (s *Store) Recent(limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []Job
	if err := s.db.Order("updated_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("jobs: list recent: %w", err)
	}
	return out, nil
}

// Ping verifies database connectivity, for readiness checks.
func (s *Store) Ping() error {
	db, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("jobs: underlying db: %w", err)
	}
	return db.Ping()
}

func (s *Store) update(id string, fields map[string]any) error {
	res := s.db.Model(&Job{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("jobs: update job %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
