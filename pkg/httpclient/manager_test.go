package httpclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_GetOrCreate_SharesInstance(t *testing.T) {
	m := NewCircuitBreakerManager(nil)

	a := m.GetOrCreate("transcription-provider")
	b := m.GetOrCreate("transcription-provider")
	assert.Same(t, a, b)

	other := m.GetOrCreate("client-webhook")
	assert.NotSame(t, a, other)
}

func TestManager_ProfileOverridesGlobal(t *testing.T) {
	cfg := DefaultCircuitBreakerConfig()
	cfg.Global.FailureThreshold = 5
	cfg.Profiles = map[string]CircuitBreakerProfileConfig{
		"transcription-provider": {
			FailureThreshold: 10,
			ExpectedErrors:   []string{"invalid api key"},
		},
	}

	m := NewCircuitBreakerManager(&cfg)

	provider := m.GetOrCreate("transcription-provider").Config()
	assert.Equal(t, 10, provider.FailureThreshold)
	assert.Equal(t, DefaultCircuitTimeout, provider.RecoveryTimeout) // inherited
	assert.Equal(t, []string{"invalid api key"}, provider.ExpectedErrors)

	generic := m.GetOrCreate("client-webhook").Config()
	assert.Equal(t, 5, generic.FailureThreshold)
	assert.Empty(t, generic.ExpectedErrors)
}

func TestManager_Get(t *testing.T) {
	m := NewCircuitBreakerManager(nil)

	assert.Nil(t, m.Get("unknown"))

	created := m.GetOrCreate("transcription-provider")
	assert.Same(t, created, m.Get("transcription-provider"))
}

func TestManager_UpdateServiceConfig_PreservesState(t *testing.T) {
	m := NewCircuitBreakerManager(nil)

	breaker := m.GetOrCreate("transcription-provider")
	breaker.RecordFailure()
	breaker.RecordFailure()
	require.Equal(t, 2, breaker.Failures())

	m.UpdateServiceConfig("transcription-provider", CircuitBreakerProfileConfig{
		FailureThreshold: 20,
		RecoveryTimeout:  2 * time.Minute,
	})

	// State survives the config swap.
	assert.Equal(t, 2, breaker.Failures())
	assert.Equal(t, 20, breaker.Config().FailureThreshold)
	assert.Equal(t, 2*time.Minute, breaker.Config().RecoveryTimeout)
}

func TestManager_Names(t *testing.T) {
	m := NewCircuitBreakerManager(nil)
	m.GetOrCreate("transcription-provider")
	m.GetOrCreate("client-webhook")

	names := m.Names()
	assert.ElementsMatch(t, []string{"transcription-provider", "client-webhook"}, names)
}

func TestManager_GetAllStats(t *testing.T) {
	m := NewCircuitBreakerManager(nil)
	m.GetOrCreate("transcription-provider").RecordFailure()
	m.GetOrCreate("client-webhook").RecordSuccess()

	stats := m.GetAllStats()
	require.Len(t, stats, 2)
	assert.Equal(t, int64(1), stats["transcription-provider"].TotalFailures)
	assert.Equal(t, int64(1), stats["client-webhook"].TotalSuccesses)
}

func TestManager_GetStats(t *testing.T) {
	m := NewCircuitBreakerManager(nil)

	_, ok := m.GetStats("unknown")
	assert.False(t, ok)

	m.GetOrCreate("transcription-provider").RecordSuccess()
	stats, ok := m.GetStats("transcription-provider")
	require.True(t, ok)
	assert.Equal(t, int64(1), stats.TotalSuccesses)
}

func TestManager_ResetBreaker(t *testing.T) {
	m := NewCircuitBreakerManager(nil)

	assert.False(t, m.ResetBreaker("unknown"))

	breaker := m.GetOrCreate("transcription-provider")
	for i := 0; i < DefaultCircuitThreshold; i++ {
		breaker.RecordFailure()
	}
	require.Equal(t, CircuitOpen, breaker.State())

	assert.True(t, m.ResetBreaker("transcription-provider"))
	assert.Equal(t, CircuitClosed, breaker.State())
}

func TestManager_ResetAll(t *testing.T) {
	m := NewCircuitBreakerManager(nil)
	a := m.GetOrCreate("transcription-provider")
	b := m.GetOrCreate("client-webhook")

	for i := 0; i < DefaultCircuitThreshold; i++ {
		a.RecordFailure()
		b.RecordFailure()
	}

	count := m.ResetAll()
	assert.Equal(t, 2, count)
	assert.Equal(t, CircuitClosed, a.State())
	assert.Equal(t, CircuitClosed, b.State())
}

func TestManager_GetConfig_IncludesActiveBreakers(t *testing.T) {
	m := NewCircuitBreakerManager(nil)
	m.GetOrCreate("transcription-provider")

	cfg := m.GetConfig()
	_, ok := cfg.Profiles["transcription-provider"]
	assert.True(t, ok)
}
