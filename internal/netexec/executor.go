// Package netexec implements the shared offline-detecting, circuit-broken,
// rate-limit-aware request executor (§4.1). Every outward call the core
// makes — to the model hub, to the package index, to a release host — is
// routed through an Executor so connectivity state, per-domain circuit
// breakers and rate-limit throttling are applied uniformly.
package netexec

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pumas-ai/pumas-launcher/internal/coreerr"
)

// Connectivity is the process-wide online/offline signal (§3).
type Connectivity int32

const (
	ConnUnknown Connectivity = iota
	ConnChecking
	ConnOnline
	ConnOffline
)

func (c Connectivity) String() string {
	switch c {
	case ConnChecking:
		return "checking"
	case ConnOnline:
		return "online"
	case ConnOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// Source is the §9 capability set that lets multiple remote providers
// (hub, package index) share one Executor.
type Source interface {
	ID() string
	Domains() []string
	OnNetworkRestored()
	OnCircuitOpen(domain string)
}

// ProbeURL is one lightweight connectivity-check target.
type ProbeURL struct {
	URL     string
	Timeout time.Duration
}

// Status is a point-in-time snapshot for observability/diagnostics.
type Status struct {
	Connectivity Connectivity
	Breakers     map[string]BreakerState
}

// Executor is the C1 façade. All fields are safe for concurrent use.
type Executor struct {
	httpClient *http.Client
	breakers   *BreakerRegistry
	limiters   *limiterRegistry

	connectivity atomic.Int32
	lastCheck    atomic.Int64 // unix nanos

	recheckWindow time.Duration
	probeURLs     []ProbeURL

	mu      sync.RWMutex
	sources map[string]Source
}

// Config configures an Executor's policy knobs; zero values take the
// documented §4.1 defaults.
type Config struct {
	RecheckWindow       time.Duration
	ProbeURLs           []ProbeURL
	FailureThreshold    uint32
	RecoveryTimeout     time.Duration
	HalfOpenMaxRequests uint32
	HTTPTimeout         time.Duration
}

func (c Config) withDefaults() Config {
	if c.RecheckWindow == 0 {
		c.RecheckWindow = 30 * time.Second
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.RecoveryTimeout == 0 {
		c.RecoveryTimeout = 30 * time.Second
	}
	if c.HalfOpenMaxRequests == 0 {
		c.HalfOpenMaxRequests = 1
	}
	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = 30 * time.Second
	}
	if len(c.ProbeURLs) == 0 {
		c.ProbeURLs = []ProbeURL{
			{URL: "https://huggingface.co/api/models?limit=1", Timeout: 5 * time.Second},
			{URL: "https://pypi.org/simple/", Timeout: 5 * time.Second},
		}
	}
	return c
}

// New constructs an Executor. It starts in ConnUnknown and does not probe
// until CheckConnectivity is called explicitly or by the coordinator's
// background monitor.
func New(cfg Config) *Executor {
	cfg = cfg.withDefaults()
	e := &Executor{
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		breakers:   newBreakerRegistry(cfg.FailureThreshold, cfg.RecoveryTimeout, cfg.HalfOpenMaxRequests),
		limiters:   newLimiterRegistry(),
		recheckWindow: cfg.RecheckWindow,
		probeURLs:     cfg.ProbeURLs,
		sources:       make(map[string]Source),
	}
	e.connectivity.Store(int32(ConnUnknown))
	return e
}

// RegisterSource wires a remote provider so it receives restored/open
// notifications for the domains it owns.
func (e *Executor) RegisterSource(s Source) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sources[s.ID()] = s
}

// FetchFunc performs the actual network call; it should classify its own
// errors loosely (timeouts, connection refused) — Execute does the rest
// of the §4.1(d) retryability classification via the *http.Response it's
// given, when present.
type FetchFunc func(ctx context.Context) (*http.Response, error)

// CachedFunc returns previously cached data, or (nil, false) if there is
// none.
type CachedFunc func() (any, bool)

// Execute runs fetch under the executor's connectivity/circuit/rate-limit
// policy. getCached is consulted when the executor is offline, when the
// domain's circuit is open, and when the fetch fails; a cancelled context
// or a rate-limited response returns its error without consulting it.
func (e *Executor) Execute(ctx context.Context, domain, cacheKey string, fetch FetchFunc, getCached CachedFunc) (*http.Response, any, error) {
	if ctx.Err() != nil {
		return nil, nil, coreerr.New(coreerr.KindCancelled, "netexec.Execute", ctx.Err())
	}

	if e.Connectivity() == ConnOffline && !e.recheckDue() {
		if v, ok := tryCache(getCached); ok {
			return nil, v, nil
		}
		return nil, nil, coreerr.New(coreerr.KindCircuitOpen, "netexec.Execute", errors.New("offline, no cache"))
	}

	b := e.breakers.get(domain)
	if b.State() == StateOpen {
		e.notifyCircuitOpen(domain)
		if v, ok := tryCache(getCached); ok {
			return nil, v, nil
		}
		return nil, nil, coreerr.New(coreerr.KindCircuitOpen, "netexec.Execute", errors.New("circuit open for "+domain))
	}

	e.limiters.throttleIfNeeded(domain)

	// fetch is called directly rather than through the breaker's own
	// Execute wrapper: gobreaker would record every non-nil error as a
	// failure, but §4.1 requires cancellations and 429s to never count
	// against the breaker. RecordSuccess/RecordFailure below apply that
	// distinction explicitly.
	resp, err := fetch(ctx)
	if err == nil && resp != nil && resp.StatusCode >= 400 {
		if resp.Body != nil {
			resp.Body.Close()
		}
		err = errors.New("unexpected status " + strconv.Itoa(resp.StatusCode))
	}
	if err != nil {
		if coreerr.Cancelled(err) {
			return nil, nil, coreerr.New(coreerr.KindCancelled, "netexec.Execute", err)
		}
		kind := classifyErr(resp, err)
		switch kind {
		case coreerr.KindRateLimited:
			// §4.1(d) / §9: Retry-After is authoritative and this call is
			// never auto-retried; it does not count as a breaker failure.
			ra := retryAfterSeconds(resp)
			return nil, nil, coreerr.NewRateLimited("netexec.Execute", ra, err)
		case coreerr.KindNetworkTransient:
			b.RecordFailure()
			if b.State() == StateOpen {
				e.notifyCircuitOpen(domain)
			}
		}
		if v, ok := tryCache(getCached); ok {
			slog.Warn("netexec: serving cached result after failure", "domain", domain, "cache_key", cacheKey, "error", err)
			return nil, v, nil
		}
		return nil, nil, coreerr.New(kind, "netexec.Execute", err)
	}

	if resp != nil {
		e.limiters.harvest(domain, resp.Header)
	}
	b.RecordSuccess()
	return resp, nil, nil
}

func tryCache(getCached CachedFunc) (any, bool) {
	if getCached == nil {
		return nil, false
	}
	return getCached()
}

func classifyErr(resp *http.Response, err error) coreerr.Kind {
	if resp != nil {
		return coreerr.ClassifyHTTP(resp.StatusCode)
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return coreerr.KindNetworkTransient
	}
	return coreerr.KindNetworkTransient
}

func retryAfterSeconds(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return secs
}

func (e *Executor) notifyCircuitOpen(domain string) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, s := range e.sources {
		for _, d := range s.Domains() {
			if d == domain {
				s.OnCircuitOpen(domain)
			}
		}
	}
}

func (e *Executor) notifyRestored() {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, s := range e.sources {
		s.OnNetworkRestored()
	}
}

// RecordSuccess/RecordFailure report a breaker outcome for domain
// directly, without going through Execute. Nothing in this module calls
// them at present.
func (e *Executor) RecordSuccess(domain string) { e.breakers.get(domain).RecordSuccess() }
func (e *Executor) RecordFailure(domain string) { e.breakers.get(domain).RecordFailure() }

// Connectivity returns the current connectivity snapshot.
func (e *Executor) Connectivity() Connectivity {
	return Connectivity(e.connectivity.Load())
}

func (e *Executor) recheckDue() bool {
	last := e.lastCheck.Load()
	return last == 0 || time.Since(time.Unix(0, last)) >= e.recheckWindow
}

// CheckConnectivity probes the configured lightweight URLs with short
// timeouts (§4.1) and updates the process-wide connectivity state.
// Concurrent callers may observe each other's interim "checking" state
// but converge to the same final value (§5).
func (e *Executor) CheckConnectivity(ctx context.Context) Connectivity {
	e.connectivity.Store(int32(ConnChecking))
	online := false
	for _, p := range e.probeURLs {
		pctx, cancel := context.WithTimeout(ctx, p.Timeout)
		req, err := http.NewRequestWithContext(pctx, http.MethodHead, p.URL, nil)
		if err == nil {
			resp, err := e.httpClient.Do(req)
			if err == nil {
				resp.Body.Close()
				online = true
			}
		}
		cancel()
		if online {
			break
		}
	}
	prev := e.Connectivity()
	next := ConnOffline
	if online {
		next = ConnOnline
	}
	e.connectivity.Store(int32(next))
	e.lastCheck.Store(time.Now().UnixNano())
	if prev == ConnOffline && next == ConnOnline {
		e.notifyRestored()
	}
	return next
}

// Status returns a snapshot of connectivity and all known breaker states.
func (e *Executor) Status() Status {
	return Status{
		Connectivity: e.Connectivity(),
		Breakers:     e.breakers.snapshot(),
	}
}
