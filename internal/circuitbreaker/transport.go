package circuitbreaker

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPWrapper wraps an http.Client with a circuit breaker. 5xx responses count
// as breaker failures; 4xx responses do not trip it.
type HTTPWrapper struct {
	client *http.Client
	cb     *CircuitBreaker
}

// NewHTTPWrapper builds a breaker-guarded HTTP client for one collaborator.
func NewHTTPWrapper(client *http.Client, name string, settings Settings, logger *zap.Logger) *HTTPWrapper {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPWrapper{
		client: client,
		cb:     New(name, settings, logger),
	}
}

// Do executes the request through the breaker. When the breaker rejected the
// call the response is nil and the error is ErrOpen or ErrTooManyRequests.
func (hw *HTTPWrapper) Do(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := hw.cb.Execute(req.Context(), func() error {
		var callErr error
		resp, callErr = hw.client.Do(req)
		if callErr != nil {
			return callErr
		}
		if resp.StatusCode >= 500 {
			return &httpStatusError{code: resp.StatusCode}
		}
		return nil
	})

	// A 5xx tripped the breaker accounting but the response is still valid
	// for the caller to inspect.
	if _, ok := err.(*httpStatusError); ok {
		return resp, nil
	}
	return resp, err
}

// Breaker exposes the underlying breaker, mainly for health reporting.
func (hw *HTTPWrapper) Breaker() *CircuitBreaker { return hw.cb }

type httpStatusError struct{ code int }

func (e *httpStatusError) Error() string { return http.StatusText(e.code) }

// Transport adapts a breaker to http.RoundTripper so SDK-owned clients
// (openai, finnhub) ride the same breaker as hand-rolled ones.
type Transport struct {
	Base http.RoundTripper
	CB   *CircuitBreaker
}

// NewTransport wraps base (http.DefaultTransport when nil) with cb.
func NewTransport(base http.RoundTripper, cb *CircuitBreaker) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{Base: base, CB: cb}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := t.CB.Execute(req.Context(), func() error {
		var callErr error
		resp, callErr = t.Base.RoundTrip(req)
		if callErr != nil {
			return callErr
		}
		if resp.StatusCode >= 500 {
			return &httpStatusError{code: resp.StatusCode}
		}
		return nil
	})
	if _, ok := err.(*httpStatusError); ok {
		return resp, nil
	}
	return resp, err
}
