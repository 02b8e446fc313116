package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/transcribebridge/transcribebridge/internal/models"
	"github.com/transcribebridge/transcribebridge/internal/provider"
	"github.com/transcribebridge/transcribebridge/internal/repository"
)

// providerSignatureHeader carries the provider's callback signature
// ("t=<unix>,v0=<hex>" over "<t>.<body>").
const providerSignatureHeader = "Elevenlabs-Signature"

// maxCallbackBody bounds the provider callback payload.
const maxCallbackBody = 1 << 20

// completionEventType marks a finished transcription callback.
const completionEventType = "speech_to_text_transcription"

// CompletionChecker re-evaluates a task after a segment settles.
// Satisfied by *coordinator.Coordinator.
type CompletionChecker interface {
	CheckTaskCompletion(ctx context.Context, taskID models.ULID) error
}

// WebhookHandler receives transcription callbacks from the provider. It is
// a raw chi handler rather than a Huma operation: signature verification
// needs the exact body bytes.
type WebhookHandler struct {
	segments    repository.SegmentRepository
	tasks       repository.TaskRepository
	coordinator CompletionChecker
	secret      string
	logger      *slog.Logger
}

// NewWebhookHandler creates a new provider webhook handler. An empty
// secret disables signature verification; every accepted callback is then
// logged with a warning.
func NewWebhookHandler(segments repository.SegmentRepository, tasks repository.TaskRepository, coordinator CompletionChecker, secret string, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		segments:    segments,
		tasks:       tasks,
		coordinator: coordinator,
		secret:      secret,
		logger:      logger,
	}
}

// RegisterRoutes mounts the webhook receiver on the router.
func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/provider", h.HandleProviderCallback)
}

// callbackPayload is the provider's callback body.
type callbackPayload struct {
	Type           string `json:"type"`
	EventTimestamp int64  `json:"event_timestamp"`
	Data           struct {
		RequestID     string `json:"request_id"`
		Error         string `json:"error,omitempty"`
		Transcription *struct {
			Text         string `json:"text"`
			LanguageCode string `json:"language_code"`
		} `json:"transcription,omitempty"`
	} `json:"data"`
}

// HandleProviderCallback processes one callback. Unknown request IDs and
// callbacks for already-terminal segments are acknowledged with 200 so the
// provider stops redelivering; only malformed or unauthenticated requests
// are rejected.
func (h *WebhookHandler) HandleProviderCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		http.Error(w, "reading body", http.StatusBadRequest)
		return
	}

	if h.secret == "" {
		h.logger.Warn("provider webhook secret not configured, accepting unverified callback")
	} else {
		header := r.Header.Get(providerSignatureHeader)
		if err := provider.VerifyCallback(h.secret, header, body); err != nil {
			h.logger.Warn("provider callback rejected",
				slog.String("error", err.Error()),
			)
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	var payload callbackPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if payload.Type == "" || payload.Data.RequestID == "" {
		http.Error(w, "missing type or request_id", http.StatusBadRequest)
		return
	}

	if !strings.HasPrefix(payload.Type, completionEventType) {
		h.logger.Debug("ignoring provider event",
			slog.String("type", payload.Type),
		)
		w.WriteHeader(http.StatusOK)
		return
	}

	ctx := r.Context()
	segment, err := h.resolveSegment(ctx, r, payload.Data.RequestID)
	if err != nil {
		http.Error(w, "resolving segment", http.StatusInternalServerError)
		return
	}
	if segment == nil {
		// The task may already be cleaned up, or the callback belongs to
		// another deployment. Acknowledge so the provider stops retrying.
		h.logger.Info("callback for unknown request id",
			slog.String("provider_request_id", payload.Data.RequestID),
		)
		w.WriteHeader(http.StatusOK)
		return
	}

	if segment.IsTerminal() {
		h.logger.Debug("duplicate callback for settled segment",
			slog.String("segment_id", segment.ID.String()),
		)
		w.WriteHeader(http.StatusOK)
		return
	}

	isFailure := payload.Data.Error != "" || strings.Contains(payload.Type, "failed")
	switch {
	case isFailure:
		message := payload.Data.Error
		if message == "" {
			message = "provider reported transcription failure"
		}
		segment.MarkFailed(message)
	case payload.Data.Transcription == nil:
		http.Error(w, "missing transcription", http.StatusBadRequest)
		return
	default:
		segment.MarkCompleted(payload.Data.Transcription.Text, payload.Data.Transcription.LanguageCode)
	}

	if err := h.segments.Update(ctx, segment); err != nil {
		h.logger.Error("persisting segment result failed",
			slog.String("segment_id", segment.ID.String()),
			slog.String("error", err.Error()),
		)
		http.Error(w, "persisting result", http.StatusInternalServerError)
		return
	}

	h.logger.Info("provider callback applied",
		slog.String("segment_id", segment.ID.String()),
		slog.String("task_id", segment.TaskID.String()),
		slog.String("status", string(segment.Status)),
	)

	if segment.Status == models.SegmentStatusCompleted {
		// Progress counter only; the coordinator recounts from the segment
		// table before finalizing, so a miss here self-corrects.
		if err := h.tasks.IncrementCompletedSegments(ctx, segment.TaskID); err != nil {
			h.logger.Warn("incrementing completed segment counter failed",
				slog.String("task_id", segment.TaskID.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := h.coordinator.CheckTaskCompletion(ctx, segment.TaskID); err != nil {
		// The segment result is already durable; the next completion
		// check picks the task up.
		h.logger.Error("completion check failed",
			slog.String("task_id", segment.TaskID.String()),
			slog.String("error", err.Error()),
		)
	}

	w.WriteHeader(http.StatusOK)
}

// resolveSegment finds the callback's segment. The segmentId query
// parameter wins when present; a disagreement with the request-id lookup
// is logged but not fatal.
func (h *WebhookHandler) resolveSegment(ctx context.Context, r *http.Request, requestID string) (*models.Segment, error) {
	byRequest, err := h.segments.FindByProviderRequestID(ctx, requestID)
	if err != nil {
		return nil, err
	}

	segmentParam := r.URL.Query().Get("segmentId")
	if segmentParam == "" {
		return byRequest, nil
	}

	segmentID, err := models.ParseULID(segmentParam)
	if err != nil {
		h.logger.Warn("ignoring malformed segmentId parameter",
			slog.String("segment_id", segmentParam),
		)
		return byRequest, nil
	}

	byParam, err := h.segments.GetByID(ctx, segmentID)
	if err != nil {
		return nil, err
	}
	if byParam == nil {
		return byRequest, nil
	}

	if byRequest != nil && byRequest.ID != byParam.ID {
		h.logger.Warn("segmentId parameter disagrees with request id lookup",
			slog.String("param_segment_id", byParam.ID.String()),
			slog.String("lookup_segment_id", byRequest.ID.String()),
			slog.String("provider_request_id", requestID),
		)
	}
	return byParam, nil
}
