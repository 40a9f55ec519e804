package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/koscakluka/ema-realtime/core/session"
	"golang.org/x/sync/singleflight"
)

var ErrCoolingDown = errors.New("bootstrap cooling down after a failure")

const flightKey = "session"

// Coalescer shares one in-flight bootstrap between concurrent callers and
// refuses new attempts for a while after one fails.
type Coalescer struct {
	bootstrapper session.Bootstrapper
	cooldown     time.Duration

	group singleflight.Group

	mu       sync.Mutex
	failedAt time.Time
	lastErr  error
}

func Coalesce(bootstrapper session.Bootstrapper, cooldown time.Duration) *Coalescer {
	return &Coalescer{bootstrapper: bootstrapper, cooldown: cooldown}
}

// Bootstrap starts an attempt if none is in flight, or attaches to the
// running one. A caller whose ctx ends stops waiting but leaves the attempt
// running for the others.
func (c *Coalescer) Bootstrap(ctx context.Context) (session.Config, error) {
	c.mu.Lock()
	if c.lastErr != nil && time.Since(c.failedAt) < c.cooldown {
		err := c.lastErr
		c.mu.Unlock()
		return session.Config{}, fmt.Errorf("%w: %w", ErrCoolingDown, err)
	}
	c.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	result := c.group.DoChan(flightKey, func() (any, error) {
		cfg, err := c.bootstrapper.Bootstrap(detached)

		c.mu.Lock()
		if err != nil {
			c.failedAt = time.Now()
			c.lastErr = err
		} else {
			c.lastErr = nil
		}
		c.mu.Unlock()

		return cfg, err
	})

	select {
	case res := <-result:
		if res.Shared {
			logger.Debug("joined in-flight bootstrap")
		}
		if res.Err != nil {
			return session.Config{}, res.Err
		}
		return res.Val.(session.Config), nil
	case <-ctx.Done():
		return session.Config{}, ctx.Err()
	}
}

// Forget detaches the in-flight attempt so the next call starts a new one.
func (c *Coalescer) Forget() {
	c.group.Forget(flightKey)
}
