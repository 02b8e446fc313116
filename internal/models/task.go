package models

import (
	"net/url"

	"gorm.io/gorm"
)

// TaskStatus represents the current status of a transcription task.
type TaskStatus string

const (
	// TaskStatusProcessing indicates segments are still being transcribed.
	TaskStatusProcessing TaskStatus = "processing"
	// TaskStatusCompleted indicates the final transcript has been assembled.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed permanently.
	TaskStatusFailed TaskStatus = "failed"
)

// DeliveryStatus represents the outcome of the client webhook delivery.
type DeliveryStatus string

const (
	// DeliveryStatusPending indicates no delivery has been attempted yet.
	DeliveryStatusPending DeliveryStatus = "pending"
	// DeliveryStatusDelivered indicates at least one attempt got a 2xx.
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	// DeliveryStatusFailed indicates every attempt failed.
	DeliveryStatusFailed DeliveryStatus = "failed"
)

// Task represents one client transcription request: a single audio
// upload split into segments, with a callback URL for the result.
type Task struct {
	BaseModel

	// ClientCallbackURL is where the final result is POSTed.
	ClientCallbackURL string `gorm:"not null;size:2048" json:"client_callback_url"`

	// OriginalFilename is the name of the uploaded audio file.
	OriginalFilename string `gorm:"not null;size:512" json:"original_filename"`

	// Status indicates the current status of the task. Terminal statuses
	// (completed, failed) are never left once entered.
	Status TaskStatus `gorm:"not null;default:'processing';size:20;index" json:"status"`

	// TotalSegments is set once after the split step and never changes.
	TotalSegments int `gorm:"default:0" json:"total_segments"`

	// CompletedSegments counts segments whose transcript has arrived.
	// Monotone non-decreasing; incremented atomically by the repository.
	CompletedSegments int `gorm:"default:0" json:"completed_segments"`

	// FinalTranscript is the assembled chronological transcript.
	// Set iff Status is completed.
	FinalTranscript string `json:"final_transcript,omitempty"`

	// ErrorMessage explains a failed task. Set iff Status is failed.
	ErrorMessage string `gorm:"size:4096" json:"error_message,omitempty"`

	// CompletedAt is when the task reached a terminal status.
	CompletedAt *Time `json:"completed_at,omitempty"`

	// DeliveryStatus summarizes the outbound webhook outcome so operators
	// can see why a notification never landed. Kept separate from
	// ErrorMessage, which records upstream processing failures.
	DeliveryStatus DeliveryStatus `gorm:"default:'pending';size:20" json:"delivery_status"`

	// DeliveryAttempts is the number of outbound attempts made.
	DeliveryAttempts int `gorm:"default:0" json:"delivery_attempts"`

	// DeliveryError holds the last delivery error, if any.
	DeliveryError string `gorm:"size:4096" json:"delivery_error,omitempty"`
}

// TableName returns the table name for Task.
func (Task) TableName() string {
	return "tasks"
}

// IsTerminal returns true once the task is completed or failed.
func (t *Task) IsTerminal() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusFailed
}

// MarkCompleted records the final transcript and completion time.
func (t *Task) MarkCompleted(transcript string) {
	t.Status = TaskStatusCompleted
	t.FinalTranscript = transcript
	now := Now()
	t.CompletedAt = &now
}

// MarkFailed records a permanent failure.
func (t *Task) MarkFailed(message string) {
	t.Status = TaskStatusFailed
	t.ErrorMessage = message
	now := Now()
	t.CompletedAt = &now
}

// ProcessingTimeMs returns the wall time from creation to completion,
// or 0 while the task is still processing.
func (t *Task) ProcessingTimeMs() int64 {
	if t.CompletedAt == nil {
		return 0
	}
	return t.CompletedAt.Sub(t.CreatedAt).Milliseconds()
}

// Validate performs basic validation on the task.
func (t *Task) Validate() error {
	if t.ClientCallbackURL == "" {
		return ErrCallbackURLRequired
	}
	if u, err := url.Parse(t.ClientCallbackURL); err != nil || u.Scheme == "" || u.Host == "" {
		return ErrInvalidURL
	}
	if t.OriginalFilename == "" {
		return ErrFilenameRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the task and generates ULID.
func (t *Task) BeforeCreate(tx *gorm.DB) error {
	if err := t.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if t.Status == "" {
		t.Status = TaskStatusProcessing
	}
	if t.DeliveryStatus == "" {
		t.DeliveryStatus = DeliveryStatusPending
	}
	return t.Validate()
}
