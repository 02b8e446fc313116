// Package handlers provides HTTP API handlers for transcribebridge.
package handlers

import (
	"errors"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/transcribebridge/transcribebridge/internal/models"
)

// toHumaError maps an application error to the HTTP status it declares.
// Untyped errors become 500s without leaking their message.
func toHumaError(err error) error {
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return huma.NewError(appErr.HTTPStatus, appErr.Message)
	}
	return huma.Error500InternalServerError("internal error")
}

// SegmentSummary is the API shape of one segment.
type SegmentSummary struct {
	ID                string  `json:"id"`
	BlobPath          string  `json:"blob_path"`
	StartSeconds      float64 `json:"start_seconds"`
	EndSeconds        float64 `json:"end_seconds"`
	Status            string  `json:"status"`
	ProviderRequestID string  `json:"provider_request_id,omitempty"`
	ErrorMessage      string  `json:"error_message,omitempty"`
}

// TaskSummary is the API shape of one task.
type TaskSummary struct {
	ID                string           `json:"id"`
	Status            string           `json:"status"`
	OriginalFilename  string           `json:"original_filename"`
	ClientCallbackURL string           `json:"client_callback_url"`
	TotalSegments     int              `json:"total_segments"`
	CompletedSegments int              `json:"completed_segments"`
	FinalTranscript   string           `json:"final_transcript,omitempty"`
	ErrorMessage      string           `json:"error_message,omitempty"`
	DeliveryStatus    string           `json:"delivery_status"`
	DeliveryAttempts  int              `json:"delivery_attempts"`
	CreatedAt         string           `json:"created_at"`
	CompletedAt       string           `json:"completed_at,omitempty"`
	Segments          []SegmentSummary `json:"segments,omitempty"`
}

func segmentSummary(segment *models.Segment) SegmentSummary {
	return SegmentSummary{
		ID:                segment.ID.String(),
		BlobPath:          segment.BlobPath,
		StartSeconds:      segment.StartSeconds,
		EndSeconds:        segment.EndSeconds,
		Status:            string(segment.Status),
		ProviderRequestID: segment.ProviderRequestID,
		ErrorMessage:      segment.ErrorMessage,
	}
}

func taskSummary(task *models.Task, segments []*models.Segment) TaskSummary {
	summary := TaskSummary{
		ID:                task.ID.String(),
		Status:            string(task.Status),
		OriginalFilename:  task.OriginalFilename,
		ClientCallbackURL: task.ClientCallbackURL,
		TotalSegments:     task.TotalSegments,
		CompletedSegments: task.CompletedSegments,
		FinalTranscript:   task.FinalTranscript,
		ErrorMessage:      task.ErrorMessage,
		DeliveryStatus:    string(task.DeliveryStatus),
		DeliveryAttempts:  task.DeliveryAttempts,
		CreatedAt:         task.CreatedAt.UTC().Format(time.RFC3339),
	}
	if task.CompletedAt != nil {
		summary.CompletedAt = task.CompletedAt.UTC().Format(time.RFC3339)
	}
	for _, segment := range segments {
		summary.Segments = append(summary.Segments, segmentSummary(segment))
	}
	return summary
}
