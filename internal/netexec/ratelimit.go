package netexec

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// rateState is the last-observed rate-limit window for one domain.
type rateState struct {
	remaining int
	limit     int
	resetAt   time.Time
	haveData  bool
}

// limiterRegistry harvests X-RateLimit-* headers and advises throttling.
// Per §5, the throttle decision is advisory and may be observed stale
// without correctness loss, so a plain mutex-guarded map is sufficient.
type limiterRegistry struct {
	mu     sync.Mutex
	states map[string]*rateState
}

func newLimiterRegistry() *limiterRegistry {
	return &limiterRegistry{states: make(map[string]*rateState)}
}

func (r *limiterRegistry) harvest(domain string, h http.Header) {
	remaining, okR := parseIntHeader(h, "X-RateLimit-Remaining")
	limit, okL := parseIntHeader(h, "X-RateLimit-Limit")
	if !okR && !okL {
		return
	}
	resetAt := time.Time{}
	if resetRaw := h.Get("X-RateLimit-Reset"); resetRaw != "" {
		if secs, err := strconv.ParseInt(resetRaw, 10, 64); err == nil {
			resetAt = time.Unix(secs, 0)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[domain]
	if !ok {
		st = &rateState{}
		r.states[domain] = st
	}
	if okR {
		st.remaining = remaining
	}
	if okL {
		st.limit = limit
	}
	if !resetAt.IsZero() {
		st.resetAt = resetAt
	}
	st.haveData = true
}

func parseIntHeader(h http.Header, key string) (int, bool) {
	v := h.Get(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// throttleIfNeeded sleeps per §4.1: below 20% of limit remaining it
// sleeps briefly; at zero remaining it waits until reset, capped at 60s.
func (r *limiterRegistry) throttleIfNeeded(domain string) {
	r.mu.Lock()
	st, ok := r.states[domain]
	var remaining, limit int
	var resetAt time.Time
	if ok && st.haveData {
		remaining, limit, resetAt = st.remaining, st.limit, st.resetAt
	}
	r.mu.Unlock()
	if !ok || limit <= 0 {
		return
	}

	if remaining <= 0 {
		wait := time.Until(resetAt)
		if wait <= 0 {
			return
		}
		if wait > 60*time.Second {
			wait = 60 * time.Second
		}
		time.Sleep(wait)
		return
	}

	if float64(remaining) < 0.2*float64(limit) {
		time.Sleep(200 * time.Millisecond)
	}
}
