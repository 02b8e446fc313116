package models

import (
	"gorm.io/gorm"
)

// SegmentStatus represents the current status of an audio segment.
type SegmentStatus string

const (
	// SegmentStatusPending indicates the segment has not been dispatched.
	SegmentStatusPending SegmentStatus = "pending"
	// SegmentStatusProcessing indicates the segment is with the provider.
	SegmentStatusProcessing SegmentStatus = "processing"
	// SegmentStatusCompleted indicates the transcript has arrived.
	SegmentStatusCompleted SegmentStatus = "completed"
	// SegmentStatusFailed indicates transcription failed permanently.
	SegmentStatusFailed SegmentStatus = "failed"
)

// Segment represents one time-bounded slice of a task's audio. The set
// of segments for a task is fixed after the split step; only status and
// result fields change afterwards.
type Segment struct {
	BaseModel

	// TaskID is the owning task.
	TaskID ULID `gorm:"not null;type:varchar(26);index" json:"task_id"`

	// BlobPath locates the segment audio in the blob store, e.g.
	// segments/<taskId>/segment_3.mp3.
	BlobPath string `gorm:"not null;size:1024" json:"blob_path"`

	// StartSeconds and EndSeconds bound the slice within the original
	// audio. Non-negative, start < end.
	StartSeconds float64 `gorm:"not null" json:"start_seconds"`
	EndSeconds   float64 `gorm:"not null" json:"end_seconds"`

	// Status follows pending -> processing -> (completed|failed).
	Status SegmentStatus `gorm:"not null;default:'pending';size:20;index" json:"status"`

	// TranscriptText is the provider's transcript for this slice.
	TranscriptText string `json:"transcript_text,omitempty"`

	// ProviderRequestID is the token the provider returned at dispatch
	// and will echo in its completion callback. Set before the segment
	// can receive any callback.
	ProviderRequestID string `gorm:"size:255;index" json:"provider_request_id,omitempty"`

	// LanguageCode is the detected language, when reported.
	LanguageCode string `gorm:"size:16" json:"language_code,omitempty"`

	// ErrorMessage explains a failed segment.
	ErrorMessage string `gorm:"size:4096" json:"error_message,omitempty"`

	// CompletedAt is when the segment reached a terminal status.
	CompletedAt *Time `json:"completed_at,omitempty"`
}

// TableName returns the table name for Segment.
func (Segment) TableName() string {
	return "segments"
}

// IsTerminal returns true once the segment is completed or failed.
func (s *Segment) IsTerminal() bool {
	return s.Status == SegmentStatusCompleted || s.Status == SegmentStatusFailed
}

// Duration returns the slice length in seconds.
func (s *Segment) Duration() float64 {
	return s.EndSeconds - s.StartSeconds
}

// MarkCompleted records the transcript and completion time.
func (s *Segment) MarkCompleted(text, languageCode string) {
	s.Status = SegmentStatusCompleted
	s.TranscriptText = text
	if languageCode != "" {
		s.LanguageCode = languageCode
	}
	now := Now()
	s.CompletedAt = &now
}

// MarkFailed records a permanent transcription failure.
func (s *Segment) MarkFailed(message string) {
	s.Status = SegmentStatusFailed
	s.ErrorMessage = message
	now := Now()
	s.CompletedAt = &now
}

// Validate performs basic validation on the segment.
func (s *Segment) Validate() error {
	if s.TaskID.IsZero() {
		return ErrTaskIDRequired
	}
	if s.BlobPath == "" {
		return ErrBlobPathRequired
	}
	if s.StartSeconds < 0 || s.EndSeconds < 0 {
		return ErrNegativeTime
	}
	if s.EndSeconds <= s.StartSeconds {
		return ErrInvalidTimeRange
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the segment and generates ULID.
func (s *Segment) BeforeCreate(tx *gorm.DB) error {
	if err := s.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if s.Status == "" {
		s.Status = SegmentStatusPending
	}
	return s.Validate()
}
