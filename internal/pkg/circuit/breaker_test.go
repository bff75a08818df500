package circuit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cb := NewCircuitBreaker("toolserver", 2, time.Minute)
	cb.now = func() time.Time { return now }
	cb.SetStateChangeHandler(func(string, State, State) {})

	boom := errors.New("boom")
	assert.ErrorIs(t, cb.Guard(func() error { return boom }), boom)
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, cb.Guard(func() error { return boom }), boom)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Guard(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)

	now = now.Add(2 * time.Minute)
	assert.NoError(t, cb.Guard(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cb := NewCircuitBreaker("toolserver", 1, time.Second)
	cb.now = func() time.Time { return now }
	cb.SetStateChangeHandler(func(string, State, State) {})

	cb.RecordFailure()
	assert.False(t, cb.Allow())
	now = now.Add(2 * time.Second)
	assert.True(t, cb.Allow())
	assert.Equal(t, StateHalfOpen, cb.State())
	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_DisabledAndNil(t *testing.T) {
	cb := NewCircuitBreaker("off", 0, time.Second)
	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	assert.True(t, cb.Allow())

	var nilCB *CircuitBreaker
	assert.True(t, nilCB.Allow())
	assert.NoError(t, nilCB.Guard(func() error { return nil }))
}
