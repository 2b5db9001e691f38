package llm

import (
	"context"
	"sync"
	"time"
)

// Sender is the opaque model API contract: one request in, one response or
// classified error out. GollmClient is the production implementation.
type Sender interface {
	Send(ctx context.Context, req Request) (*Response, error)
}

// FallbackPolicy configures the automatic downgrade to the flash variant.
type FallbackPolicy struct {
	Threshold int           // consecutive rate-limit failures before switching
	Window    time.Duration // sliding window the failures must fall within
}

// DefaultFallbackPolicy returns the default fallback policy.
func DefaultFallbackPolicy() FallbackPolicy {
	return FallbackPolicy{Threshold: 3, Window: 2 * time.Minute}
}

// Controller wraps a Sender with retry and model fallback. Requests go out
// against the active variant; sustained rate limiting of the primary variant
// switches the session to the flash variant. The switch is one-directional:
// it never reverts on its own, avoiding oscillation.
type Controller struct {
	sender Sender
	retry  RetryPolicy
	policy FallbackPolicy

	mu             sync.Mutex
	active         string
	fallbackActive bool
	rateLimitHits  []time.Time
	onSwitch       func(from, to string)
	now            func() time.Time
}

// NewController creates a Controller using the primary variant.
func NewController(sender Sender, retry RetryPolicy, policy FallbackPolicy) *Controller {
	return &Controller{
		sender: sender,
		retry:  retry,
		policy: policy,
		active: ModelPrimary,
		now:    time.Now,
	}
}

// SetOnSwitch registers a callback invoked when the active variant changes
// due to fallback. Used by the agent loop for user-visible notification.
func (c *Controller) SetOnSwitch(fn func(from, to string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSwitch = fn
}

// ActiveModel returns the variant subsequent requests will use.
func (c *Controller) ActiveModel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// FallbackActive reports whether the session has downgraded to flash.
func (c *Controller) FallbackActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fallbackActive
}

// SetActiveModel explicitly selects a variant (the /m command). An explicit
// choice clears the fallback flag and rate-limit bookkeeping.
func (c *Controller) SetActiveModel(model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = model
	c.fallbackActive = false
	c.rateLimitHits = nil
}

// Restore reinstates variant state from a persisted session.
func (c *Controller) Restore(model string, fallbackActive bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if model != "" {
		c.active = model
	}
	c.fallbackActive = fallbackActive
	c.rateLimitHits = nil
}

// Reset restores the primary variant. Called on session reset.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = ModelPrimary
	c.fallbackActive = false
	c.rateLimitHits = nil
}

// Send issues the request through the retry policy against the active
// variant. Each attempt re-reads the active variant, so a fallback switch
// triggered mid-retry takes effect on the next attempt.
func (c *Controller) Send(ctx context.Context, req Request) (*Response, error) {
	return Retry(ctx, c.retry, func(ctx context.Context) (*Response, error) {
		r := req
		r.Model = c.ActiveModel()
		resp, err := c.sender.Send(ctx, r)
		if err != nil {
			c.recordFailure(err)
			return nil, err
		}
		c.recordSuccess()
		return resp, nil
	})
}

// recordFailure tracks consecutive rate-limit failures of the primary
// variant and flips to flash once the threshold is crossed inside the
// sliding window.
func (c *Controller) recordFailure(err error) {
	if !IsRateLimit(err) {
		c.mu.Lock()
		c.rateLimitHits = nil
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	if c.fallbackActive || c.active != ModelPrimary {
		c.mu.Unlock()
		return
	}

	now := c.now()
	c.rateLimitHits = append(c.rateLimitHits, now)
	cutoff := now.Add(-c.policy.Window)
	kept := c.rateLimitHits[:0]
	for _, t := range c.rateLimitHits {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	c.rateLimitHits = kept

	if len(c.rateLimitHits) < c.policy.Threshold {
		c.mu.Unlock()
		return
	}

	from := c.active
	c.active = ModelFlash
	c.fallbackActive = true
	c.rateLimitHits = nil
	onSwitch := c.onSwitch
	c.mu.Unlock()

	if onSwitch != nil {
		onSwitch(from, ModelFlash)
	}
}

func (c *Controller) recordSuccess() {
	c.mu.Lock()
	c.rateLimitHits = nil
	c.mu.Unlock()
}
