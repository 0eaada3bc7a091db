package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errBoom = errors.New("boom")

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(maxFailures int, timeout time.Duration) (*CircuitBreaker, *clock, *[]State) {
	var transitions []State
	cb := NewCircuitBreaker(Settings{
		Name:        "test",
		MaxFailures: maxFailures,
		Timeout:     timeout,
		OnStateChange: func(_ string, _, to State) {
			transitions = append(transitions, to)
		},
	})
	c := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb.now = c.now
	return cb, c, &transitions
}

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	cb, _, _ := newTestBreaker(3, time.Minute)
	fail := func() error { return errBoom }

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(fail), errBoom)
	}
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb, _, _ := newTestBreaker(2, time.Minute)

	_ = cb.Execute(func() error { return errBoom })
	_ = cb.Execute(func() error { return nil })
	_ = cb.Execute(func() error { return errBoom })
	assert.Equal(t, StateClosed, cb.State())
}

func TestHalfOpenTrial(t *testing.T) {
	cb, c, transitions := newTestBreaker(1, time.Minute)

	_ = cb.Execute(func() error { return errBoom })
	assert.Equal(t, StateOpen, cb.State())

	c.advance(time.Minute)
	assert.Equal(t, StateHalfOpen, cb.State())

	// failed trial re-opens
	assert.ErrorIs(t, cb.Execute(func() error { return errBoom }), errBoom)
	assert.Equal(t, StateOpen, cb.State())

	c.advance(time.Minute)
	assert.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())

	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateOpen, StateHalfOpen, StateClosed}, *transitions)
}

func TestIntervalForgetsOldFailures(t *testing.T) {
	cb, c, _ := newTestBreaker(2, time.Minute)
	cb.settings.Interval = 10 * time.Second

	_ = cb.Execute(func() error { return errBoom })
	c.advance(11 * time.Second)
	_ = cb.Execute(func() error { return errBoom })
	assert.Equal(t, StateClosed, cb.State())

	_ = cb.Execute(func() error { return errBoom })
	assert.Equal(t, StateOpen, cb.State())
}
