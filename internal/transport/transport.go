// Package transport performs single HTTP exchanges for the dispatcher and
// classifies their failures, so the retry layer can tell a transient network
// fault from a broken upstream.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhaquet-w6d/opa-httpsend/internal/descriptor"
)

// Error is a transport-layer failure: the exchange did not complete. A
// completed exchange with a 4xx or 5xx status is not an Error, those are data
// for the caller.
type Error struct {
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Retryable {
		return fmt.Sprintf("transport error (retryable): %v", e.Err)
	}
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Result is one completed exchange, with the body fully drained.
type Result struct {
	StatusCode int
	Status     string
	Headers    http.Header
	RawBody    []byte
}

type Transport struct {
	client         *http.Client
	attemptTimeout time.Duration
	logger         *zerolog.Logger
}

func New(client *http.Client, attemptTimeout time.Duration, logger *zerolog.Logger) *Transport {
	// The transport owns redirect handling, the underlying client must
	// return 3xx responses verbatim.
	c := *client
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return &Transport{&c, attemptTimeout, logger}
}

// Attempt performs one round-trip against target. Method, headers and body
// are passed explicitly rather than read from the descriptor because the
// redirect follower rewrites them between hops.
func (t *Transport) Attempt(
	ctx context.Context,
	desc *descriptor.Descriptor,
	target *url.URL,
	method string,
	headers http.Header,
	body []byte,
) (*Result, error) {
	timeout := t.attemptTimeout
	if desc.Timeout > 0 {
		timeout = desc.Timeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return nil, &Error{false, err}
	}
	for name, values := range headers {
		req.Header[name] = values
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, classify(ctx, err)
	}

	rawBody, err := io.ReadAll(resp.Body)
	if closeErr := resp.Body.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, classify(ctx, err)
	}

	t.logger.Debug().
		Str("method", method).
		Stringer("url", target).
		Int("status", resp.StatusCode).
		Msg("exchange completed")

	return &Result{resp.StatusCode, resp.Status, resp.Header, rawBody}, nil
}

// classify marks connection failures, DNS failures and timeouts as retryable.
// A cancellation from the caller and malformed response framing are not: the
// former must abort promptly, the latter will not get better on retry.
func classify(ctx context.Context, err error) *Error {
	if errors.Is(err, context.Canceled) && errors.Is(ctx.Err(), context.Canceled) {
		return &Error{false, err}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{true, err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{true, err}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &Error{true, err}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &Error{true, err}
	}

	return &Error{false, err}
}
