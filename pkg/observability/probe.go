package observability

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// errNotProbed is reported before the first probe has completed
var errNotProbed = errors.New("provider not probed yet")

// ProviderProbe checks the identity provider on a cron schedule and keeps
// the last result, so readiness checks never wait on the provider.
type ProviderProbe struct {
	target  Pinger
	timeout time.Duration
	metrics *Metrics
	logger  *Logger

	mu      sync.RWMutex
	lastErr error
	lastAt  time.Time
	cron    *cron.Cron
}

// NewProviderProbe creates a probe of target
func NewProviderProbe(target Pinger, timeout time.Duration, metrics *Metrics, logger *Logger) *ProviderProbe {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = Discard()
	}
	return &ProviderProbe{
		target:  target,
		timeout: timeout,
		metrics: metrics,
		logger:  logger,
		lastErr: errNotProbed,
	}
}

// Run probes once and records the result
func (p *ProviderProbe) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	err := p.target.Ping(ctx)
	p.metrics.RecordProviderProbe(time.Since(start), err)

	p.mu.Lock()
	changed := p.lastAt.IsZero() || (p.lastErr == nil) != (err == nil)
	p.lastErr = err
	p.lastAt = time.Now()
	p.mu.Unlock()

	if changed {
		if err != nil {
			p.logger.WithError(err).Warn("Identity provider unreachable")
		} else {
			p.logger.Info("Identity provider reachable")
		}
	}
	return err
}

// Start probes immediately and then on schedule, e.g. "@every 30s"
func (p *ProviderProbe) Start(schedule string) error {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		defer RecoverPanic(p.logger, "provider probe")
		_ = p.Run(context.Background())
	}); err != nil {
		return fmt.Errorf("invalid probe schedule %q: %w", schedule, err)
	}

	p.mu.Lock()
	p.cron = c
	p.mu.Unlock()

	go func() {
		defer RecoverPanic(p.logger, "provider probe")
		_ = p.Run(context.Background())
	}()
	c.Start()
	return nil
}

// Stop stops the schedule and waits for a running probe
func (p *ProviderProbe) Stop(ctx context.Context) error {
	p.mu.RLock()
	c := p.cron
	p.mu.RUnlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ping reports the last probe result
func (p *ProviderProbe) Ping(context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastErr
}

// LastProbe returns when the provider was last probed
func (p *ProviderProbe) LastProbe() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastAt
}
