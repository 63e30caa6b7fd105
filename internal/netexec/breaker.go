package netexec

import (
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerState mirrors gobreaker's three states under the §3 names.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateHalfOpen
	StateOpen
)

// domainBreaker wraps a gobreaker.CircuitBreaker with the typed Execute
// signature this package's HTTP-response fetches need, plus
// RecordSuccess/RecordFailure, which Executor.Execute uses to report
// outcomes without going through the breaker's Execute.
type domainBreaker struct {
	cb *gobreaker.CircuitBreaker
}

func newDomainBreaker(domain string, failureThreshold uint32, recoveryTimeout time.Duration, halfOpenMax uint32) *domainBreaker {
	settings := gobreaker.Settings{
		Name:        domain,
		MaxRequests: halfOpenMax,
		Interval:    0, // never reset closed-state counts on a timer; only consecutive failures matter
		Timeout:     recoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failureThreshold
		},
	}
	return &domainBreaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *domainBreaker) State() BreakerState {
	switch b.cb.State() {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Execute runs fn through the breaker. Because gobreaker counts any
// returned error as a failure, and §4.1 requires cancellations and
// rate-limit responses to *not* count against the breaker, callers that
// need that distinction (Executor.Execute) bypass this and call
// RecordSuccess/RecordFailure directly instead. Nothing in this package
// calls this Execute at present.
func (b *domainBreaker) Execute(fn func() (*http.Response, error)) (*http.Response, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		if v == nil {
			return nil, err
		}
	}
	resp, _ := v.(*http.Response)
	return resp, err
}

func (b *domainBreaker) RecordSuccess() {
	_, _ = b.cb.Execute(func() (interface{}, error) { return nil, nil })
}

func (b *domainBreaker) RecordFailure() {
	_, _ = b.cb.Execute(func() (interface{}, error) { return nil, errForcedFailure })
}

var errForcedFailure = &forcedFailure{}

type forcedFailure struct{}

func (*forcedFailure) Error() string { return "recorded failure" }

// BreakerRegistry keeps one domainBreaker per domain, created lazily.
type BreakerRegistry struct {
	mu               sync.Mutex
	breakers         map[string]*domainBreaker
	failureThreshold uint32
	recoveryTimeout  time.Duration
	halfOpenMax      uint32
}

func newBreakerRegistry(failureThreshold uint32, recoveryTimeout time.Duration, halfOpenMax uint32) *BreakerRegistry {
	return &BreakerRegistry{
		breakers:         make(map[string]*domainBreaker),
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		halfOpenMax:      halfOpenMax,
	}
}

func (r *BreakerRegistry) get(domain string) *domainBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[domain]
	if !ok {
		b = newDomainBreaker(domain, r.failureThreshold, r.recoveryTimeout, r.halfOpenMax)
		r.breakers[domain] = b
	}
	return b
}

func (r *BreakerRegistry) snapshot() map[string]BreakerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]BreakerState, len(r.breakers))
	for domain, b := range r.breakers {
		out[domain] = b.State()
	}
	return out
}
