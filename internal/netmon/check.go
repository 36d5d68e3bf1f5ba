package netmon

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// CheckResult is the outcome of one reachability check.
type CheckResult struct {
	Reachable bool
	RTT       time.Duration
}

// Checker checks whether the remote authority is reachable.
type Checker interface {
	Check(ctx context.Context) (CheckResult, error)
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) (CheckResult, error)

// Check calls f.
func (f CheckerFunc) Check(ctx context.Context) (CheckResult, error) { return f(ctx) }

// HTTPChecker issues HEAD requests to URL. Any response below 500 counts
// as reachable.
type HTTPChecker struct {
	URL     string
	Client  *http.Client
	Timeout time.Duration
}

// NewHTTPChecker returns a checker for url with a 5 second timeout.
func NewHTTPChecker(url string) *HTTPChecker {
	return &HTTPChecker{URL: url, Client: http.DefaultClient, Timeout: 5 * time.Second}
}

// Check sends one HEAD request and measures its round trip.
func (p *HTTPChecker) Check(ctx context.Context) (CheckResult, error) {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return CheckResult{}, fmt.Errorf("build health request: %w", err)
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	start := time.Now()
	resp, err := client.Do(req)
	rtt := time.Since(start)
	if err != nil {
		return CheckResult{RTT: rtt}, fmt.Errorf("health check %s: %w", p.URL, err)
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return CheckResult{RTT: rtt}, fmt.Errorf("health check %s: status %d", p.URL, resp.StatusCode)
	}
	return CheckResult{Reachable: true, RTT: rtt}, nil
}
