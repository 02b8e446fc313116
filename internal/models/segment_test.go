package models

import (
	"errors"
	"testing"
)

func TestSegment_Validate(t *testing.T) {
	taskID := NewULID()

	tests := []struct {
		name    string
		segment *Segment
		wantErr error
	}{
		{
			name:    "missing task ID",
			segment: &Segment{BlobPath: "segments/x/segment_0.mp3", StartSeconds: 0, EndSeconds: 900},
			wantErr: ErrTaskIDRequired,
		},
		{
			name:    "missing blob path",
			segment: &Segment{TaskID: taskID, StartSeconds: 0, EndSeconds: 900},
			wantErr: ErrBlobPathRequired,
		},
		{
			name:    "negative start",
			segment: &Segment{TaskID: taskID, BlobPath: "segments/x/segment_0.mp3", StartSeconds: -1, EndSeconds: 900},
			wantErr: ErrNegativeTime,
		},
		{
			name:    "end before start",
			segment: &Segment{TaskID: taskID, BlobPath: "segments/x/segment_0.mp3", StartSeconds: 900, EndSeconds: 900},
			wantErr: ErrInvalidTimeRange,
		},
		{
			name:    "valid segment",
			segment: &Segment{TaskID: taskID, BlobPath: "segments/x/segment_0.mp3", StartSeconds: 0, EndSeconds: 900},
			wantErr: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.segment.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("expected error %v, got nil", tt.wantErr)
				} else if !errors.Is(err, tt.wantErr) {
					t.Errorf("expected error %v, got %v", tt.wantErr, err)
				}
			}
		})
	}
}

func TestSegment_Lifecycle(t *testing.T) {
	seg := &Segment{Status: SegmentStatusPending}
	if seg.IsTerminal() {
		t.Error("pending segment must not be terminal")
	}

	seg.Status = SegmentStatusProcessing
	if seg.IsTerminal() {
		t.Error("processing segment must not be terminal")
	}

	seg.MarkCompleted("hello", "en")
	if seg.Status != SegmentStatusCompleted {
		t.Errorf("expected completed, got %s", seg.Status)
	}
	if seg.TranscriptText != "hello" || seg.LanguageCode != "en" {
		t.Errorf("unexpected result fields: %q %q", seg.TranscriptText, seg.LanguageCode)
	}
	if seg.CompletedAt == nil {
		t.Error("expected CompletedAt to be set")
	}
	if !seg.IsTerminal() {
		t.Error("completed segment must be terminal")
	}

	failed := &Segment{Status: SegmentStatusProcessing}
	failed.MarkFailed("provider rejected audio")
	if failed.Status != SegmentStatusFailed || failed.ErrorMessage == "" {
		t.Errorf("unexpected failed state: %s %q", failed.Status, failed.ErrorMessage)
	}
}

func TestSegment_Duration(t *testing.T) {
	seg := &Segment{StartSeconds: 15, EndSeconds: 30}
	if got := seg.Duration(); got != 15 {
		t.Errorf("expected 15s, got %v", got)
	}
}
