// Package provider wraps the external speech-to-text service. Segments are
// dispatched as multipart uploads; results normally arrive later through the
// inbound webhook, but the provider may also answer inline for short audio.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/transcribebridge/transcribebridge/internal/config"
	"github.com/transcribebridge/transcribebridge/internal/models"
	"github.com/transcribebridge/transcribebridge/pkg/httpclient"
)

// BreakerName identifies the provider's shared circuit breaker.
const BreakerName = "transcription-provider"

// apiKeyHeader carries the provider API key on every request.
const apiKeyHeader = "xi-api-key"

// DispatchResult is the synchronous reply to a segment dispatch. Exactly one
// of RequestID or Text is populated: a RequestID means the provider accepted
// the job and will call back, inline Text means transcription already
// finished.
type DispatchResult struct {
	RequestID    string
	Text         string
	LanguageCode string
}

// Async reports whether the result will arrive via webhook callback.
func (r *DispatchResult) Async() bool {
	return r.RequestID != ""
}

// Client dispatches segment audio to the transcription provider.
type Client struct {
	cfg    config.ProviderConfig
	http   *httpclient.Client
	logger *slog.Logger
}

// NewClient creates a provider client sharing the given circuit breaker.
// The client does not retry: retry scheduling belongs to the segment queue,
// which classifies failures and applies its own backoff budget.
func NewClient(cfg config.ProviderConfig, breaker *httpclient.CircuitBreaker, logger *slog.Logger) *Client {
	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = cfg.Timeout
	httpCfg.RetryAttempts = 0
	httpCfg.Logger = logger

	return &Client{
		cfg:    cfg,
		http:   httpclient.NewWithBreaker(httpCfg, breaker),
		logger: logger,
	}
}

// dispatchResponse is the provider's synchronous reply shape. Asynchronous
// acceptance carries task_id; synchronous mode carries the transcript inline.
type dispatchResponse struct {
	TaskID       string `json:"task_id"`
	Text         string `json:"text"`
	LanguageCode string `json:"language_code"`
}

type providerError struct {
	Detail struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"detail"`
}

// Dispatch uploads segment audio for transcription. The provider is asked to
// deliver the result via webhook; the callback URL itself is preconfigured on
// the provider side, so only the flag travels with the request.
func (c *Client) Dispatch(ctx context.Context, audio io.Reader, filename string) (*DispatchResult, error) {
	body, contentType, err := c.buildMultipart(audio, filename)
	if err != nil {
		return nil, fmt.Errorf("building dispatch request: %w", err)
	}

	endpoint, err := url.JoinPath(c.cfg.BaseURL, "/v1/speech-to-text")
	if err != nil {
		return nil, fmt.Errorf("building dispatch URL: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("creating dispatch request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(apiKeyHeader, c.cfg.APIKey)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.classifyTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, models.NewExternalServiceError("reading provider response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.classifyStatusError(resp, raw)
	}

	var parsed dispatchResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, models.NewExternalServiceError("decoding provider response", err)
	}

	result := &DispatchResult{
		RequestID:    parsed.TaskID,
		Text:         parsed.Text,
		LanguageCode: parsed.LanguageCode,
	}
	if result.RequestID == "" && result.Text == "" {
		return nil, models.NewExternalServiceError("provider response carried neither request ID nor transcript", nil)
	}

	c.logger.Debug("segment dispatched",
		slog.String("filename", filename),
		slog.Bool("async", result.Async()),
		slog.Duration("duration", time.Since(start)),
	)
	return result, nil
}

// buildMultipart assembles the dispatch form. The audio part is declared
// audio/mpeg; segments are always normalized to MP3 before dispatch.
func (c *Client) buildMultipart(audio io.Reader, filename string) (io.Reader, string, error) {
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	go func() {
		err := func() error {
			header := textproto.MIMEHeader{}
			header.Set("Content-Disposition",
				fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(filename)))
			header.Set("Content-Type", "audio/mpeg")

			part, err := writer.CreatePart(header)
			if err != nil {
				return err
			}
			if _, err := io.Copy(part, audio); err != nil {
				return err
			}

			fields := map[string]string{
				"model_id": c.cfg.ModelID,
				"webhook":  "true",
			}
			if c.cfg.LanguageCode != "" {
				fields["language_code"] = c.cfg.LanguageCode
			}
			if c.cfg.Diarize {
				fields["diarize"] = "true"
			}
			if c.cfg.TagAudioEvents {
				fields["tag_audio_events"] = "true"
			}
			for name, value := range fields {
				if err := writer.WriteField(name, value); err != nil {
					return err
				}
			}
			return writer.Close()
		}()
		pw.CloseWithError(err)
	}()

	return pr, writer.FormDataContentType(), nil
}

func escapeQuotes(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

// classifyTransportError maps transport-level failures into the error
// taxonomy the queue's retry classifier understands.
func (c *Client) classifyTransportError(err error) error {
	switch {
	case errors.Is(err, httpclient.ErrCircuitOpen):
		return models.NewCircuitOpenError(BreakerName, err)
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewTimeoutError("provider request timed out", err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return models.NewExternalServiceError("provider request failed", err)
	}
}

// classifyStatusError maps non-2xx provider replies into the error taxonomy.
func (c *Client) classifyStatusError(resp *http.Response, raw []byte) error {
	message := providerMessage(raw)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return models.NewAuthenticationError(message, nil)
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return models.NewValidationError(message, nil)
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := 0
		if v := resp.Header.Get("Retry-After"); v != "" {
			retryAfter, _ = strconv.Atoi(v)
		}
		return models.NewRateLimitError(message, retryAfter, nil)
	case resp.StatusCode == http.StatusRequestTimeout:
		return models.NewTimeoutError(message, nil)
	case resp.StatusCode >= 500:
		return models.NewExternalServiceError(message, nil)
	default:
		return models.NewBusinessLogicError(message, nil)
	}
}

// providerMessage extracts a human-readable message from an error body,
// falling back to the raw body when it isn't the documented shape.
func providerMessage(raw []byte) string {
	var parsed providerError
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Detail.Message != "" {
		return parsed.Detail.Message
	}
	if len(raw) > 0 {
		const maxLen = 256
		s := string(raw)
		if len(s) > maxLen {
			s = s[:maxLen]
		}
		return s
	}
	return "provider request rejected"
}
