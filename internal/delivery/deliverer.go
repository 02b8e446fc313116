// Package delivery posts final task results to the client's callback URL.
// Deliveries are signed, retried on a jittered exponential schedule, and
// their outcome is recorded on the task for operators to inspect.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/transcribebridge/transcribebridge/internal/assembler"
	"github.com/transcribebridge/transcribebridge/internal/config"
	"github.com/transcribebridge/transcribebridge/internal/models"
	"github.com/transcribebridge/transcribebridge/internal/repository"
	"github.com/transcribebridge/transcribebridge/pkg/httpclient"
)

// BreakerName is the circuit breaker dependency name for client callbacks.
const BreakerName = "client-webhook"

// Outbound headers.
const (
	headerSignature = "X-Webhook-Signature"
	headerTimestamp = "X-Webhook-Timestamp"
	headerAttempt   = "X-Webhook-Attempt"
)

// Metadata mirrors the assembled transcript summary in the payload.
type Metadata struct {
	TotalDuration float64 `json:"totalDuration"`
	LanguageCode  string  `json:"languageCode"`
	Confidence    float64 `json:"confidence"`
	WordCount     int     `json:"wordCount"`
	SegmentCount  int     `json:"segmentCount"`
}

// Payload is the JSON body POSTed to the client callback URL. Transcription
// and Metadata are present only for completed tasks, Error only for failed
// ones. The body is marshaled once; every attempt sends identical bytes.
type Payload struct {
	TaskID           string    `json:"taskId"`
	Status           string    `json:"status"`
	OriginalFilename string    `json:"originalFilename"`
	CompletedAt      time.Time `json:"completedAt"`
	ProcessingTimeMs int64     `json:"processingTimeMs,omitempty"`
	Transcription    string    `json:"transcription,omitempty"`
	Metadata         *Metadata `json:"metadata,omitempty"`
	Error            string    `json:"error,omitempty"`
}

// Deliverer sends result webhooks to clients.
type Deliverer struct {
	cfg    config.DeliveryConfig
	http   *httpclient.Client
	tasks  repository.TaskRepository
	logger *slog.Logger

	// Swappable for tests.
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
}

// New creates a deliverer. The breaker is the shared "client-webhook"
// breaker from the manager; retries are scheduled here rather than inside
// the HTTP client so the attempt headers and outcome accounting stay exact.
func New(cfg config.DeliveryConfig, breaker *httpclient.CircuitBreaker, tasks repository.TaskRepository, logger *slog.Logger) *Deliverer {
	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = cfg.Timeout
	httpCfg.RetryAttempts = 0
	httpCfg.Logger = logger

	return &Deliverer{
		cfg:    cfg,
		http:   httpclient.NewWithBreaker(httpCfg, breaker),
		tasks:  tasks,
		logger: logger,
		now:    time.Now,
		sleep:  sleepContext,
		jitter: rand.Float64,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// BuildPayload constructs the callback body for a terminal task. result is
// required for completed tasks and ignored for failed ones.
func BuildPayload(task *models.Task, result *assembler.Result) (*Payload, error) {
	if !task.IsTerminal() {
		return nil, fmt.Errorf("task %s is not terminal", task.ID)
	}

	payload := &Payload{
		TaskID:           task.ID.String(),
		Status:           string(task.Status),
		OriginalFilename: task.OriginalFilename,
		ProcessingTimeMs: task.ProcessingTimeMs(),
	}
	if task.CompletedAt != nil {
		payload.CompletedAt = *task.CompletedAt
	}

	switch task.Status {
	case models.TaskStatusCompleted:
		if result == nil {
			return nil, fmt.Errorf("completed task %s has no assembled result", task.ID)
		}
		payload.Transcription = result.Transcript
		payload.Metadata = &Metadata{
			TotalDuration: result.Metadata.TotalDuration,
			LanguageCode:  result.Metadata.LanguageCode,
			Confidence:    result.Metadata.Confidence,
			WordCount:     result.Metadata.WordCount,
			SegmentCount:  result.Metadata.SegmentCount,
		}
	case models.TaskStatusFailed:
		payload.Error = task.ErrorMessage
	}
	return payload, nil
}

// Deliver posts the task's result to its callback URL, retrying up to the
// configured attempt budget, and records the outcome on the task. The
// returned error reflects the recording step; a delivery that exhausts its
// attempts is not an error here, it is an outcome.
func (d *Deliverer) Deliver(ctx context.Context, task *models.Task, result *assembler.Result) error {
	payload, err := BuildPayload(task, result)
	if err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}
	signature := Sign(d.cfg.SigningSecret, body)

	logger := d.logger.With(
		slog.String("task_id", task.ID.String()),
		slog.String("callback_url", task.ClientCallbackURL),
	)

	attempts := 0
	delivered := false
	lastError := ""

	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := d.attemptDelay(attempt)
			logger.Debug("webhook retry scheduled",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
			)
			if err := d.sleep(ctx, delay); err != nil {
				lastError = err.Error()
				break
			}
		}

		attempts = attempt
		attemptErr := d.attempt(ctx, task.ClientCallbackURL, body, signature, attempt)
		if attemptErr == nil {
			delivered = true
			logger.Info("webhook delivered", slog.Int("attempt", attempt))
			break
		}

		lastError = attemptErr.Error()
		logger.Warn("webhook attempt failed",
			slog.Int("attempt", attempt),
			slog.String("error", lastError),
		)
	}

	status := models.DeliveryStatusFailed
	if delivered {
		status = models.DeliveryStatusDelivered
		lastError = ""
	} else {
		logger.Error("webhook delivery exhausted",
			slog.Int("attempts", attempts),
			slog.String("error", lastError),
		)
	}

	if err := d.tasks.RecordDeliveryOutcome(ctx, task.ID, status, attempts, lastError); err != nil {
		return fmt.Errorf("recording delivery outcome: %w", err)
	}
	return nil
}

// attempt performs one signed POST. Success is any 2xx response.
func (d *Deliverer) attempt(ctx context.Context, url string, body []byte, signature string, attempt int) error {
	attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerSignature, signature)
	req.Header.Set(headerTimestamp, strconv.FormatInt(d.now().UnixMilli(), 10))
	req.Header.Set(headerAttempt, strconv.Itoa(attempt))

	resp, err := d.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return errors.New("timeout")
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// attemptDelay computes the pause before attempt k (k >= 2):
// min(base * 2^(k-2), max) with +/-25% jitter, floored at the base delay.
func (d *Deliverer) attemptDelay(attempt int) time.Duration {
	base := d.cfg.BaseDelayMs
	for i := 2; i < attempt; i++ {
		base *= 2
		if base >= d.cfg.MaxDelayMs {
			base = d.cfg.MaxDelayMs
			break
		}
	}
	if base > d.cfg.MaxDelayMs {
		base = d.cfg.MaxDelayMs
	}

	jittered := float64(base) * (0.75 + 0.5*d.jitter())
	ms := int(jittered)
	if ms < d.cfg.BaseDelayMs {
		ms = d.cfg.BaseDelayMs
	}
	return time.Duration(ms) * time.Millisecond
}
