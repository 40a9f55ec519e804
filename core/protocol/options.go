package protocol

import "time"

const (
	defaultMaxSendFailures = 3
	defaultWriteTimeout    = 5 * time.Second
	defaultMessageBuffer   = 256
)

type ClientOption func(*Client)

// WithQuietEventTypes replaces the event types excluded from per-message
// logging.
func WithQuietEventTypes(types ...string) ClientOption {
	return func(c *Client) {
		c.quiet = make(map[string]struct{}, len(types))
		for _, t := range types {
			c.quiet[t] = struct{}{}
		}
	}
}

func WithMessageBuffer(size int) ClientOption {
	return func(c *Client) {
		if size > 0 {
			c.messages = make(chan Message, size)
		}
	}
}

// WithMaxSendFailures sets how many consecutive failed writes mark the
// connection Failed.
func WithMaxSendFailures(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.maxSendFailures = n
		}
	}
}

func WithWriteTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.writeTimeout = timeout
	}
}
