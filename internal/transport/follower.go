package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/nhaquet-w6d/opa-httpsend/internal/descriptor"
)

type TooManyRedirectsError struct {
	Hops int
}

func (e *TooManyRedirectsError) Error() string {
	return fmt.Sprintf("stopped after %d redirects", e.Hops)
}

// Follower drives Transport through a redirect chain. When the descriptor
// does not enable redirects, a 3xx response is returned verbatim.
type Follower struct {
	transport *Transport
	maxHops   int
	logger    *zerolog.Logger
}

func NewFollower(transport *Transport, maxHops int, logger *zerolog.Logger) *Follower {
	return &Follower{transport, maxHops, logger}
}

func (f *Follower) Do(ctx context.Context, desc *descriptor.Descriptor) (*Result, error) {
	target := desc.URL
	method := desc.Method
	headers := desc.Headers.Clone()
	body := desc.Body

	for hops := 0; ; hops++ {
		result, err := f.transport.Attempt(ctx, desc, target, method, headers, body)
		if err != nil {
			return nil, err
		}

		location := redirectTarget(result, desc.EnableRedirect)
		if location == "" {
			return result, nil
		}

		if hops >= f.maxHops {
			return nil, &TooManyRedirectsError{hops + 1}
		}

		next, err := url.Parse(location)
		if err != nil {
			return nil, &Error{false, fmt.Errorf("invalid Location header %q: %w", location, err)}
		}
		target = target.ResolveReference(next)

		// 307 and 308 preserve the method and body. The historical codes
		// rewrite POST to GET and drop the body, matching what browsers
		// and net/http do.
		switch result.StatusCode {
		case http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		default:
			if method == http.MethodPost {
				method = http.MethodGet
			}
			body = nil
			headers.Del("Content-Type")
			headers.Del("Content-Length")
		}

		f.logger.Debug().
			Int("hop", hops+1).
			Stringer("target", target).
			Msg("following redirect")
	}
}

func redirectTarget(result *Result, enabled bool) string {
	if !enabled {
		return ""
	}

	switch result.StatusCode {
	case http.StatusMovedPermanently,
		http.StatusFound,
		http.StatusSeeOther,
		http.StatusTemporaryRedirect,
		http.StatusPermanentRedirect:
		return result.Headers.Get("Location")
	default:
		return ""
	}
}
