// Package resolver produces the playable stream URL.  A resolution
// logs in to the portal, runs the extractors over the dashboard and
// caches the result for a fixed window.
//
// The attempt time is recorded when a resolution starts, not when it
// succeeds, so a failing portal is contacted at most once per window.
// Concurrent cache misses share a single resolution.
package resolver

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	ncerr "autologin/internal/errors"
	"autologin/internal/metrics"
	"autologin/internal/retry"
	"autologin/util"
)

const (
	// DefaultTTL covers roughly two refreshes per day.
	DefaultTTL = 11 * time.Hour
	// DefaultTimeout bounds one full resolution.
	DefaultTimeout = 30 * time.Second
)

// Options configures a Resolver.  Zero values select defaults.
type Options struct {
	TTL        time.Duration
	Timeout    time.Duration
	Clock      clockwork.Clock
	Extractors []Extractor
	Breaker    *retry.CircuitBreaker
	Metrics    *metrics.Collector
	Logger     *util.Logger
}

// Resolver caches the last resolved stream URL.  It is safe for
// concurrent use.
type Resolver struct {
	auth       Authenticator
	ttl        time.Duration
	timeout    time.Duration
	clock      clockwork.Clock
	extractors []Extractor
	breaker    *retry.CircuitBreaker
	metrics    *metrics.Collector
	logger     *util.Logger

	group singleflight.Group

	mu         sync.Mutex
	lastURL    string
	lastUpdate time.Time
}

// New creates a Resolver that authenticates through auth.
func New(auth Authenticator, opts Options) *Resolver {
	r := &Resolver{
		auth:       auth,
		ttl:        opts.TTL,
		timeout:    opts.Timeout,
		clock:      opts.Clock,
		extractors: opts.Extractors,
		breaker:    opts.Breaker,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
	}
	if r.ttl <= 0 {
		r.ttl = DefaultTTL
	}
	if r.timeout <= 0 {
		r.timeout = DefaultTimeout
	}
	if r.clock == nil {
		r.clock = clockwork.NewRealClock()
	}
	if len(r.extractors) == 0 {
		r.extractors = DefaultExtractors()
	}
	if r.breaker == nil {
		cfg := retry.DefaultCircuitBreakerConfig()
		cfg.Clock = r.clock
		r.breaker = retry.NewCircuitBreaker(cfg)
	}
	if r.logger == nil {
		r.logger = util.NewLogger(0)
	}
	return r
}

// Resolve returns the stream URL, from the cache when the last attempt
// is younger than the TTL.  ok is false when no URL is available; the
// cause has already been logged.
func (r *Resolver) Resolve(ctx context.Context) (string, bool) {
	if url, ok := r.cached(); ok {
		r.metrics.CacheHit()
		r.logger.Debug("stream url served from cache")
		return url, true
	}
	r.metrics.CacheMiss()

	ch := r.group.DoChan("stream", func() (interface{}, error) {
		// A cache miss that waited for an in-flight resolution may now
		// be satisfied.
		if url, ok := r.cached(); ok {
			return url, nil
		}
		r.mu.Lock()
		r.lastUpdate = r.clock.Now()
		r.mu.Unlock()

		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return r.resolve(rctx)
	})

	select {
	case <-ctx.Done():
		return "", false
	case res := <-ch:
		if res.Err != nil {
			return "", false
		}
		return res.Val.(string), true
	}
}

func (r *Resolver) cached() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastURL == "" || r.lastUpdate.IsZero() {
		return "", false
	}
	if r.clock.Since(r.lastUpdate) >= r.ttl {
		return "", false
	}
	return r.lastURL, true
}

// resolve performs one authenticated fetch and runs the extractors.
func (r *Resolver) resolve(ctx context.Context) (string, error) {
	start := r.clock.Now()
	r.logger.Info("resolving stream url (%s login)", r.auth.Name())

	var body string
	err := r.breaker.Execute(func() error {
		var err error
		body, err = r.auth.Dashboard(ctx)
		return err
	})
	if err != nil {
		r.metrics.Resolution(false)
		r.metrics.RecordError(err.Error())
		switch {
		case errors.Is(err, ncerr.ErrCircuitOpen):
			r.logger.Warn("portal unavailable, skipping resolution: %v", err)
		default:
			r.logger.Error("resolution failed: %v", err)
		}
		return "", err
	}

	for _, ex := range r.extractors {
		url, ok := ex.Extract(body)
		if !ok || url == "" {
			r.logger.Debug("extractor %s: no match", ex.Name())
			continue
		}
		r.mu.Lock()
		r.lastURL = url
		r.mu.Unlock()
		r.metrics.Resolution(true)
		r.logger.Info("stream url resolved by %s in %v: %s", ex.Name(),
			r.clock.Since(start).Truncate(time.Millisecond), url)
		return url, nil
	}

	r.metrics.Resolution(false)
	r.metrics.RecordError(ncerr.ErrExtractionFailed.Error())
	r.logger.Warn("no stream url found in dashboard (%d bytes); dumping body:\n%s", len(body), body)
	return "", ncerr.ErrExtractionFailed
}

// Invalidate clears the cached URL and attempt time and closes the
// breaker, so the next Resolve goes to the portal.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.lastURL = ""
	r.lastUpdate = time.Time{}
	r.mu.Unlock()
	r.breaker.Reset()
}

// State is a point-in-time view of the cache.
type State struct {
	URL        string    `json:"url,omitempty"`
	LastUpdate time.Time `json:"last_update,omitempty"`
	Age        string    `json:"age,omitempty"`
	Fresh      bool      `json:"fresh"`
	Breaker    string    `json:"breaker"`
	Failures   int       `json:"breaker_failures"`
}

// Snapshot returns the current cache state.
func (r *Resolver) Snapshot() State {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := State{URL: r.lastURL, LastUpdate: r.lastUpdate, Breaker: r.breaker.CurrentState().String(), Failures: r.breaker.Failures()}
	if !r.lastUpdate.IsZero() {
		age := r.clock.Since(r.lastUpdate)
		s.Age = age.Truncate(time.Second).String()
		s.Fresh = r.lastURL != "" && age < r.ttl
	}
	return s
}
