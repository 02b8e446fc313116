package httpclient

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryDelay = 5 * time.Millisecond
	cfg.RetryMaxDelay = 20 * time.Millisecond
	return cfg
}

func TestClient_Get_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("hello"))
	}))
	defer server.Close()

	client := New(testConfig())
	resp, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
	assert.Equal(t, CircuitClosed, client.CircuitState())
}

func TestClient_SetsUserAgent(t *testing.T) {
	var gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(testConfig())
	resp, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, DefaultUserAgentHeader, gotUA)
}

func TestClient_RetriesOnServerError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("recovered"))
	}))
	defer server.Close()

	client := New(testConfig())
	resp, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_MaxRetriesExceeded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.RetryAttempts = 2
	client := New(cfg)

	_, err := client.Get(context.Background(), server.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMaxRetries)
}

func TestClient_NoRetryReturnsRetryableStatus(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	// With retries disabled the caller owns the schedule, so a 429 must
	// come back as a response rather than being swallowed as an error.
	cfg := testConfig()
	cfg.RetryAttempts = 0
	client := New(cfg)

	resp, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "7", resp.Header.Get("Retry-After"))
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	client := New(testConfig())
	resp, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(testConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.Get(ctx, server.URL)
	require.Error(t, err)
}

func TestClient_GzipDecompression(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		gw := gzip.NewWriter(&buf)
		gw.Write([]byte("compressed payload"))
		gw.Close()

		w.Header().Set("Content-Encoding", "gzip")
		w.WriteHeader(http.StatusOK)
		w.Write(buf.Bytes())
	}))
	defer server.Close()

	client := New(testConfig())
	resp, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "compressed payload", string(body))
}

func TestClient_BrotliDecompression(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		bw := brotli.NewWriter(&buf)
		bw.Write([]byte("brotli payload"))
		bw.Close()

		w.Header().Set("Content-Encoding", "br")
		w.WriteHeader(http.StatusOK)
		w.Write(buf.Bytes())
	}))
	defer server.Close()

	client := New(testConfig())
	resp, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "brotli payload", string(body))
}

func TestClient_MaxResponseSize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write(bytes.Repeat([]byte("x"), 2048))
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.MaxResponseSize = 1024
	client := New(cfg)

	resp, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	_, err = io.ReadAll(resp.Body)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrResponseTooLarge)
}

func TestClient_CircuitOpensAfterFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.RetryAttempts = 0
	breaker := NewCircuitBreaker(3, time.Minute, 1)
	client := NewWithBreaker(cfg, breaker)

	for i := 0; i < 3; i++ {
		client.Get(context.Background(), server.URL)
	}
	assert.Equal(t, CircuitOpen, client.CircuitState())

	// With the circuit open, requests fail fast.
	_, err := client.Get(context.Background(), server.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMaxRetries)
	assert.Contains(t, err.Error(), ErrCircuitOpen.Error())
}

func TestClient_SharedBreaker(t *testing.T) {
	breaker := NewCircuitBreaker(2, time.Minute, 1)
	cfg := testConfig()
	cfg.RetryAttempts = 0

	a := NewWithBreaker(cfg, breaker)
	b := NewWithBreaker(cfg, breaker)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	a.Get(context.Background(), server.URL)
	b.Get(context.Background(), server.URL)

	// Failures from both clients trip the shared breaker.
	assert.Equal(t, CircuitOpen, a.CircuitState())
	assert.Equal(t, CircuitOpen, b.CircuitState())
}

func TestCircuitBreaker_Transitions(t *testing.T) {
	cb := NewCircuitBreaker(2, 30*time.Millisecond, 1)
	assert.Equal(t, CircuitClosed, cb.State())

	cb.RecordFailure()
	assert.Equal(t, CircuitClosed, cb.State())
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())

	// Open circuit rejects immediately.
	assert.False(t, cb.Allow())

	// After the recovery timeout, the first caller becomes the probe.
	time.Sleep(40 * time.Millisecond)
	assert.True(t, cb.Allow())
	assert.Equal(t, CircuitHalfOpen, cb.State())

	// Only one probe allowed.
	assert.False(t, cb.Allow())

	// Probe success closes the circuit and resets the failure count.
	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Zero(t, cb.Failures())
}

func TestCircuitBreaker_ProbeFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(1, 30*time.Millisecond, 1)

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())

	time.Sleep(40 * time.Millisecond)
	require.True(t, cb.Allow())
	assert.Equal(t, CircuitHalfOpen, cb.State())

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())

	// The recovery clock restarted; still rejecting.
	assert.False(t, cb.Allow())
}

func TestCircuitBreaker_ExpectedErrorsDoNotTrip(t *testing.T) {
	cb := NewCircuitBreakerWithConfig(&CircuitBreakerProfileConfig{
		FailureThreshold: 2,
		RecoveryTimeout:  time.Minute,
		HalfOpenMax:      1,
		ExpectedErrors:   []string{"invalid api key", "unprocessable"},
	})

	for i := 0; i < 10; i++ {
		cb.RecordError(errors.New("provider rejected request: Invalid API key"))
	}
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Zero(t, cb.Failures())

	stats := cb.Stats()
	assert.Equal(t, int64(10), stats.TotalExpectedErrors)
	assert.Zero(t, stats.TotalFailures)

	// Unexpected errors still trip it.
	cb.RecordError(errors.New("dial tcp: connection refused"))
	cb.RecordError(errors.New("dial tcp: connection refused"))
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute, 1)
	cb.RecordFailure()
	require.Equal(t, CircuitOpen, cb.State())

	cb.Reset()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.True(t, cb.Allow())
}

func TestCircuitBreaker_Stats(t *testing.T) {
	cb := NewCircuitBreaker(5, time.Minute, 1)

	cb.RecordSuccess()
	cb.RecordSuccess()
	cb.RecordFailure()

	stats := cb.Stats()
	assert.Equal(t, CircuitClosed, stats.State)
	assert.Equal(t, 1, stats.ConsecutiveFailures)
	assert.Equal(t, int64(3), stats.TotalRequests)
	assert.Equal(t, int64(2), stats.TotalSuccesses)
	assert.Equal(t, int64(1), stats.TotalFailures)
}

func TestCircuitBreaker_NextProbeAt(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute, 1)
	cb.RecordFailure()

	stats := cb.Stats()
	assert.Equal(t, CircuitOpen, stats.State)
	assert.False(t, stats.NextProbeAt.IsZero())
	assert.WithinDuration(t, time.Now().Add(time.Minute), stats.NextProbeAt, 5*time.Second)
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	cb := NewCircuitBreaker(100, time.Minute, 1)

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 100; j++ {
				if cb.Allow() {
					if j%2 == 0 {
						cb.RecordSuccess()
					} else {
						cb.RecordFailure()
					}
				}
			}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	stats := cb.Stats()
	assert.Equal(t, int64(800), stats.TotalRequests)
}
