package providers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/optiinfra/optiinfra/internal/apperrors"
)

// httpClient is the shared transport for the REST/GraphQL providers.
// Transient failures retry with exponential backoff behind a per-provider
// circuit breaker; a per-provider token bucket paces requests.
type httpClient struct {
	client *http.Client

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	limiters map[string]*rate.Limiter
}

func newHTTPClient() *httpClient {
	return &httpClient{
		client:   &http.Client{Timeout: 30 * time.Second},
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		limiters: make(map[string]*rate.Limiter),
	}
}

func (h *httpClient) breaker(provider string) *gobreaker.CircuitBreaker {
	h.mu.Lock()
	defer h.mu.Unlock()
	cb, ok := h.breakers[provider]
	if !ok {
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    provider,
			Timeout: 30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
		})
		h.breakers[provider] = cb
	}
	return cb
}

func (h *httpClient) limiter(provider string) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.limiters[provider]
	if !ok {
		l = rate.NewLimiter(rate.Limit(5), 10)
		h.limiters[provider] = l
	}
	return l
}

// do issues the request with pacing, breaker, and retry. headers are
// applied per attempt; the body is replayed from the byte slice.
func (h *httpClient) do(ctx context.Context, provider, method, url string, body []byte, headers map[string]string) ([]byte, error) {
	if err := h.limiter(provider).Wait(ctx); err != nil {
		return nil, err
	}

	var out []byte
	attempt := func() error {
		result, err := h.breaker(provider).Execute(func() (interface{}, error) {
			return h.once(ctx, method, url, body, headers)
		})
		if err != nil {
			return err
		}
		out = result.([]byte)
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(attempt, policy); err != nil {
		return nil, err
	}
	return out, nil
}

func (h *httpClient) once(ctx context.Context, method, url string, body []byte, headers map[string]string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindTransient, "providers", "request failed")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindTransient, "providers", "read response")
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, backoff.Permanent(apperrors.Newf(apperrors.KindCredential, "providers",
			"auth refused: %s %s -> %d", method, url, resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, apperrors.Newf(apperrors.KindTransient, "providers",
			"%s %s -> %d", method, url, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, backoff.Permanent(apperrors.Newf(apperrors.KindValidation, "providers",
			"%s %s -> %d: %s", method, url, resp.StatusCode, truncate(data, 200)))
	}
	return data, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return fmt.Sprintf("%s...", b[:n])
}
