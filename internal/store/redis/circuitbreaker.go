package redis

import (
	"errors"
	"sync"
	"time"
)

// State is the breaker position. Its value is exported as the breaker gauge.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

var stateNames = [...]string{"closed", "open", "half-open"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// ErrCircuitOpen is returned without calling Redis while writes are shed.
var ErrCircuitOpen = errors.New("redis writes shed: circuit open")

// CircuitBreaker guards the Redis sink. A run of failed batches sheds writes
// for a cooldown; afterwards a single trial batch decides whether the sink is
// back.
type CircuitBreaker struct {
	mu        sync.Mutex
	state     State
	streak    int // consecutive failures
	threshold int
	cooldown  time.Duration
	openedAt  time.Time
	trial     bool // a half-open call is running
	now       func() time.Time

	// OnStateChange runs with the breaker locked.
	OnStateChange func(from, to State)
}

// NewCircuitBreaker trips after threshold consecutive failures and sheds
// writes for cooldown.
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		threshold: max(threshold, 1),
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Execute calls fn unless writes are being shed, and records its outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn()
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cooldown {
		cb.moveTo(StateHalfOpen)
	}
	switch {
	case cb.state == StateOpen, cb.state == StateHalfOpen && cb.trial:
		return ErrCircuitOpen
	case cb.state == StateHalfOpen:
		cb.trial = true
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.trial = false
	if err == nil {
		cb.streak = 0
		cb.moveTo(StateClosed)
		return
	}
	cb.streak++
	if cb.state == StateHalfOpen || cb.streak >= cb.threshold {
		cb.openedAt = cb.now()
		cb.moveTo(StateOpen)
	}
}

// CurrentState reports the breaker position.
func (cb *CircuitBreaker) CurrentState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) moveTo(to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	if cb.OnStateChange != nil {
		cb.OnStateChange(from, to)
	}
}
