// Package resiliency wraps http.Client with the failure-handling patterns
// the ledger gateway boundary needs: bounded exponential backoff with
// jitter, circuit breaking, and client-side rate limiting.
package resiliency

import (
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Client retries transient failures and sheds load when the upstream is
// unhealthy. Requests must carry a context; retries stop as soon as it is
// done.
type Client struct {
	client     *http.Client
	maxRetries int
	baseDelay  time.Duration
	breaker    *CircuitBreaker
	limiter    *rate.Limiter
}

// NewClient builds a client with sane gateway defaults: 3 retries, 100ms
// base delay, a 5-failure breaker, and 20 req/s sustained.
func NewClient(name string) *Client {
	return &Client{
		client:     &http.Client{Timeout: 30 * time.Second},
		maxRetries: 3,
		baseDelay:  100 * time.Millisecond,
		breaker:    NewCircuitBreaker(name, 5, 10*time.Second),
		limiter:    rate.NewLimiter(rate.Limit(20), 40),
	}
}

// WithRetries overrides the retry budget.
func (c *Client) WithRetries(n int, baseDelay time.Duration) *Client {
	c.maxRetries = n
	c.baseDelay = baseDelay
	return c
}

// WithHTTPClient swaps the underlying transport, mainly for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.client = hc
	return c
}

// Do executes the request, retrying network errors and 5xx responses with
// exponential backoff plus jitter. 4xx responses are returned as-is: the
// request is wrong, not the network.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	if !c.breaker.Allow() {
		return nil, fmt.Errorf("circuit breaker open for %s", c.breaker.name)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var resp *http.Response
	var err error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		resp, err = c.client.Do(req)
		if err == nil && resp.StatusCode < 500 {
			c.breaker.Success()
			return resp, nil
		}
		if resp != nil {
			_ = resp.Body.Close()
		}
		if attempt == c.maxRetries {
			break
		}

		backoff := time.Duration(math.Pow(2, float64(attempt))) * c.baseDelay
		jitter := time.Duration(0)
		if n, jerr := rand.Int(rand.Reader, big.NewInt(int64(c.baseDelay/2)+1)); jerr == nil {
			jitter = time.Duration(n.Int64())
		}

		select {
		case <-ctx.Done():
			c.breaker.Failure()
			return nil, ctx.Err()
		case <-time.After(backoff + jitter):
		}
	}

	c.breaker.Failure()
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("upstream returned %d after %d attempts", resp.StatusCode, c.maxRetries+1)
}

// CircuitBreaker is a minimal closed/open/half-open state machine.
type CircuitBreaker struct {
	mu           sync.Mutex
	name         string
	failureCount int
	threshold    int
	lastFailure  time.Time
	resetTimeout time.Duration
	open         bool
}

func NewCircuitBreaker(name string, threshold int, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{name: name, threshold: threshold, resetTimeout: timeout}
}

// Allow reports whether a request may proceed. An open breaker transitions
// to half-open after the reset timeout and lets one probe through.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.open {
		if time.Since(cb.lastFailure) > cb.resetTimeout {
			cb.open = false
			cb.failureCount = cb.threshold - 1
			return true
		}
		return false
	}
	return true
}

func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount = 0
	cb.open = false
}

func (cb *CircuitBreaker) Failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount++
	cb.lastFailure = time.Now()
	if cb.failureCount >= cb.threshold {
		cb.open = true
	}
}
