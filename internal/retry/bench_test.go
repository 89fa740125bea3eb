package retry

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	ncerr "autologin/internal/errors"
)

// A broker dial that connects on the first try.
func BenchmarkBrokerDial_Connected(b *testing.B) {
	bo := DefaultBackoff()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bo.Do(ctx, func(_ int) error { return nil }) //nolint:errcheck
	}
}

// A broker that answered without a credential pair: marked permanent
// by the client, so no second attempt.
func BenchmarkBrokerDial_NoCredentials(b *testing.B) {
	bo := DefaultBackoff()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bo.Do(ctx, func(_ int) error { //nolint:errcheck
			return Permanent(ncerr.ErrNoCredentials)
		})
	}
}

// An error the broker classifier rejects, e.g. a failed SSH login.
func BenchmarkBrokerDial_ClassifiedFatal(b *testing.B) {
	bo := DefaultBackoff()
	ctx := context.Background()
	authErr := ncerr.WrapSSH("auth", "bastion", 22, ncerr.ErrAuthFailed)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bo.Do(ctx, func(_ int) error { return authErr }) //nolint:errcheck
	}
}

// Classification cost of a refused dial, which the client retries.
func BenchmarkIsRetryable_Refused(b *testing.B) {
	refused := ncerr.Wrap("dial", "127.0.0.1:7000",
		&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = DefaultBackoff().Retryable(refused)
	}
}

// The portal is down and the circuit is open: every resolution is
// rejected without a request.
func BenchmarkPortalBreaker_Open(b *testing.B) {
	cfg := DefaultCircuitBreakerConfig()
	cfg.Clock = clockwork.NewFakeClock()
	cb := NewCircuitBreaker(cfg)
	down := errors.New("503 from portal")
	for i := 0; i < cfg.MaxFailures; i++ {
		cb.Execute(func() error { return down }) //nolint:errcheck
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cb.Execute(func() error { return nil }) //nolint:errcheck
	}
}

// One full outage cycle: trip, wait out the open period on the fake
// clock, recover through the half-open trial call.
func BenchmarkPortalBreaker_OutageCycle(b *testing.B) {
	clock := clockwork.NewFakeClock()
	cfg := DefaultCircuitBreakerConfig()
	cfg.Clock = clock
	cb := NewCircuitBreaker(cfg)
	down := errors.New("503 from portal")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for j := 0; j < cfg.MaxFailures; j++ {
			cb.Execute(func() error { return down }) //nolint:errcheck
		}
		clock.Advance(cfg.ResetTimeout + time.Second)
		cb.Execute(func() error { return nil }) //nolint:errcheck
	}
}
