// Package assembler stitches per-segment transcripts into one final
// transcript, in audio order, with warnings for suspicious timeline shapes.
package assembler

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/transcribebridge/transcribebridge/internal/models"
)

// ErrEmptyTranscript is returned when no segment contributed any text.
var ErrEmptyTranscript = errors.New("no completed segments with transcript text")

// maxAdjacentGapSeconds is the largest gap between adjacent segments that
// passes without a warning. Splitting leaves sub-second seams; anything
// larger suggests audio was lost.
const maxAdjacentGapSeconds = 1.0

// defaultLanguageCode is used when no segment reported a language.
const defaultLanguageCode = "en"

// placeholderConfidence is reported until the provider exposes a usable
// per-transcript confidence score.
const placeholderConfidence = 1.0

// WarningKind classifies a timeline anomaly.
type WarningKind string

const (
	WarningGap     WarningKind = "gap"
	WarningOverlap WarningKind = "overlap"
)

// Warning flags a timeline anomaly between two adjacent segments. The
// transcript is still assembled; warnings are advisory.
type Warning struct {
	Kind          WarningKind `json:"kind"`
	PrevSegmentID models.ULID `json:"prev_segment_id"`
	NextSegmentID models.ULID `json:"next_segment_id"`
	Seconds       float64     `json:"seconds"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s of %.2fs between segments %s and %s", w.Kind, w.Seconds, w.PrevSegmentID, w.NextSegmentID)
}

// Metadata summarizes the assembled transcript.
type Metadata struct {
	// TotalDuration spans from the earliest contributing segment's start
	// to the latest one's end, in seconds.
	TotalDuration float64 `json:"total_duration"`
	LanguageCode  string  `json:"language_code"`
	Confidence    float64 `json:"confidence"`
	WordCount     int     `json:"word_count"`
	SegmentCount  int     `json:"segment_count"`
}

// Result is an assembled transcript with its metadata and warnings.
type Result struct {
	Transcript string
	Metadata   Metadata
	Warnings   []Warning
}

// Readiness reports whether a task's segments are all accounted for.
// Failed segments do not block readiness; the completion policy decides
// what to do about them.
type Readiness struct {
	Ready             bool
	MissingSegmentIDs []models.ULID
}

// Assembler builds final transcripts from segment rows.
type Assembler struct {
	logger *slog.Logger
}

// New creates an assembler.
func New(logger *slog.Logger) *Assembler {
	return &Assembler{logger: logger}
}

// Assemble joins the completed segments' transcripts in start-time order.
// Segments that are not completed, or whose text trims to nothing, are
// skipped. Assembly is deterministic: the same segments always produce the
// same result.
func (a *Assembler) Assemble(segments []*models.Segment) (*Result, error) {
	usable := make([]*models.Segment, 0, len(segments))
	for _, segment := range segments {
		if segment.Status != models.SegmentStatusCompleted {
			continue
		}
		if strings.TrimSpace(segment.TranscriptText) == "" {
			continue
		}
		usable = append(usable, segment)
	}
	if len(usable) == 0 {
		return nil, ErrEmptyTranscript
	}

	sort.SliceStable(usable, func(i, j int) bool {
		return usable[i].StartSeconds < usable[j].StartSeconds
	})

	var warnings []Warning
	parts := make([]string, 0, len(usable))
	minStart := usable[0].StartSeconds
	maxEnd := usable[0].EndSeconds
	languageCode := ""

	for i, segment := range usable {
		parts = append(parts, strings.TrimSpace(segment.TranscriptText))
		if segment.EndSeconds > maxEnd {
			maxEnd = segment.EndSeconds
		}
		if languageCode == "" && segment.LanguageCode != "" {
			languageCode = segment.LanguageCode
		}

		if i == 0 {
			continue
		}
		prev := usable[i-1]
		gap := segment.StartSeconds - prev.EndSeconds
		switch {
		case gap > maxAdjacentGapSeconds:
			warnings = append(warnings, Warning{
				Kind:          WarningGap,
				PrevSegmentID: prev.ID,
				NextSegmentID: segment.ID,
				Seconds:       gap,
			})
		case gap < 0:
			warnings = append(warnings, Warning{
				Kind:          WarningOverlap,
				PrevSegmentID: prev.ID,
				NextSegmentID: segment.ID,
				Seconds:       -gap,
			})
		}
	}

	if languageCode == "" {
		languageCode = defaultLanguageCode
	}

	transcript := strings.Join(parts, " ")
	result := &Result{
		Transcript: transcript,
		Metadata: Metadata{
			TotalDuration: maxEnd - minStart,
			LanguageCode:  languageCode,
			Confidence:    placeholderConfidence,
			WordCount:     len(strings.Fields(transcript)),
			SegmentCount:  len(usable),
		},
		Warnings: warnings,
	}

	for _, warning := range warnings {
		a.logger.Warn("transcript timeline anomaly",
			slog.String("kind", string(warning.Kind)),
			slog.String("prev_segment_id", warning.PrevSegmentID.String()),
			slog.String("next_segment_id", warning.NextSegmentID.String()),
			slog.Float64("seconds", warning.Seconds),
		)
	}
	return result, nil
}

// CheckReady reports whether every segment has reached a terminal status.
// Pending and processing segments are listed as missing.
func (a *Assembler) CheckReady(segments []*models.Segment) Readiness {
	readiness := Readiness{Ready: true}
	for _, segment := range segments {
		if !segment.IsTerminal() {
			readiness.Ready = false
			readiness.MissingSegmentIDs = append(readiness.MissingSegmentIDs, segment.ID)
		}
	}
	return readiness
}
