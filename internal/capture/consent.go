package capture

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Consents are single-use capture permission tokens.
type Consents struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	tokens map[string]time.Time
}

func NewConsents(ttl time.Duration) *Consents {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Consents{ttl: ttl, now: time.Now, tokens: make(map[string]time.Time)}
}

// Issue grants a new token.
func (c *Consents) Issue() (string, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gcLocked()
	token := uuid.NewString()
	exp := c.now().Add(c.ttl)
	c.tokens[token] = exp
	return token, exp
}

// Consume reports whether token was valid and makes it unusable.
func (c *Consents) Consume(token string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	exp, ok := c.tokens[token]
	delete(c.tokens, token)
	return ok && c.now().Before(exp)
}

func (c *Consents) gcLocked() {
	now := c.now()
	for t, exp := range c.tokens {
		if !now.Before(exp) {
			delete(c.tokens, t)
		}
	}
}
