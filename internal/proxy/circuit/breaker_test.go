package circuit

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b := New("backend-a", Config{FailureThreshold: 3, SuccessThreshold: 1, Timeout: time.Minute}, zerolog.Nop())

	for i := 0; i < 2; i++ {
		assert.True(t, b.Allow())
		b.RecordFailure()
	}
	assert.Equal(t, StateClosed, b.State())

	assert.True(t, b.Allow())
	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_RefusesWhileOpen(t *testing.T) {
	b := New("backend-a", Config{FailureThreshold: 1, Timeout: time.Minute}, zerolog.Nop())
	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	b := New("backend-a", Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Millisecond}, zerolog.Nop())
	b.RecordFailure()
	time.Sleep(5 * time.Millisecond)

	assert.True(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.State())
	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := New("backend-a", Config{FailureThreshold: 1, Timeout: time.Millisecond}, zerolog.Nop())
	b.RecordFailure()
	time.Sleep(5 * time.Millisecond)

	assert.True(t, b.Allow())
	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_Execute(t *testing.T) {
	b := New("backend-a", DefaultConfig(), zerolog.Nop())
	err := b.Execute(func() error { return nil })
	assert.NoError(t, err)

	boom := errors.New("boom")
	err = b.Execute(func() error { return boom })
	assert.ErrorIs(t, err, boom)
}
