package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sony/gobreaker"

	"github.com/i474232898/weather-etl/internal/weather"
)

// HTTPClientConfig bundles the HTTP client used for outbound provider calls.
type HTTPClientConfig struct {
	Client *http.Client
}

var (
	errUnexpected   = errors.New("unexpected status code")
	errCircuitOpen  = errors.New("circuit breaker open")
	errNoHTTPClient = errors.New("http client not configured")
)

// doRequest executes a single HTTP request through the circuit breaker. It
// never retries; non-2xx responses come back as *weather.FetchError.
func doRequest(
	ctx context.Context,
	cfg HTTPClientConfig,
	cb *gobreaker.CircuitBreaker,
	buildRequest func(ctx context.Context) (*http.Request, error),
) (*http.Response, error) {
	if cfg.Client == nil {
		return nil, &weather.FetchError{Err: errNoHTTPClient}
	}

	req, err := buildRequest(ctx)
	if err != nil {
		return nil, &weather.FetchError{Err: err}
	}

	result, err := cb.Execute(func() (interface{}, error) {
		resp, execErr := cfg.Client.Do(req)
		if execErr != nil {
			return nil, &weather.FetchError{Err: execErr}
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			// Drain so the connection can be reused.
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			return nil, &weather.FetchError{
				StatusCode: resp.StatusCode,
				Err:        fmt.Errorf("%w: %d", errUnexpected, resp.StatusCode),
			}
		}

		return resp, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &weather.FetchError{Err: fmt.Errorf("%w: %v", errCircuitOpen, err)}
		}
		return nil, err
	}

	resp, ok := result.(*http.Response)
	if !ok {
		return nil, &weather.FetchError{Err: fmt.Errorf("unexpected result type from circuit breaker")}
	}
	return resp, nil
}
