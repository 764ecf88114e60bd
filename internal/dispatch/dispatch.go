// Package dispatch is the entry point of the request execution subsystem: it
// validates a raw descriptor, consults the response cache, drives the retry
// and redirect layers over the transport, decodes the body and hands one
// normalized response back to the evaluator.
package dispatch

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/nhaquet-w6d/opa-httpsend/internal/config"
	"github.com/nhaquet-w6d/opa-httpsend/internal/decode"
	"github.com/nhaquet-w6d/opa-httpsend/internal/descriptor"
	"github.com/nhaquet-w6d/opa-httpsend/internal/respcache"
	"github.com/nhaquet-w6d/opa-httpsend/internal/retry"
	"github.com/nhaquet-w6d/opa-httpsend/internal/transport"
)

type Options struct {
	Client   *http.Client
	Cache    respcache.Cache
	Config   *config.Config
	Logger   *zerolog.Logger
	Registry prometheus.Registerer
	// Random is the jitter source, rand.Float64 when nil.
	Random func() float64
}

// Dispatcher is safe for concurrent use, the evaluator may run many Send
// calls in parallel. No lock is held across network I/O, the cache backends
// synchronize internally.
type Dispatcher struct {
	follower *transport.Follower
	cache    respcache.Cache
	policy   retry.Policy
	limiter  *rate.Limiter
	metrics  *metrics
	logger   *zerolog.Logger
	ttl      time.Duration
	random   func() float64
}

func New(opts Options) *Dispatcher {
	transportLogger := opts.Logger.With().Str("component", "transport").Logger()
	t := transport.New(opts.Client, opts.Config.Transport.AttemptTimeout.Duration, &transportLogger)

	var limiter *rate.Limiter
	if opts.Config.RateLimit.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(
			rate.Limit(opts.Config.RateLimit.RequestsPerSecond),
			opts.Config.RateLimit.Burst,
		)
	}

	random := opts.Random
	if random == nil {
		random = rand.Float64
	}

	return &Dispatcher{
		follower: transport.NewFollower(t, opts.Config.Transport.MaxRedirects, &transportLogger),
		cache:    opts.Cache,
		policy: retry.Policy{
			InitialBackoff: opts.Config.Retry.InitialBackoff.Duration,
			MaxBackoff:     opts.Config.Retry.MaxBackoff.Duration,
			Multiplier:     opts.Config.Retry.Multiplier,
			Jitter:         opts.Config.Retry.Jitter,
		},
		limiter: limiter,
		metrics: newMetrics(opts.Registry),
		logger:  opts.Logger,
		ttl:     opts.Config.Cache.TTL.Duration,
		random:  random,
	}
}

// Send executes one request descriptor. It returns either a complete record
// or a typed error, never both. Records served from the cache are
// structurally identical to freshly computed ones.
func (d *Dispatcher) Send(ctx context.Context, raw map[string]any) (*respcache.Record, error) {
	logger := d.logger.With().Str("id", xid.New().String()).Logger()

	desc, err := descriptor.Parse(raw, &logger)
	if err != nil {
		d.metrics.dispatches.WithLabelValues("invalid_descriptor").Inc()
		return nil, err
	}

	logger.UpdateContext(func(c zerolog.Context) zerolog.Context {
		return c.Str("method", desc.Method).Str("url", desc.URL.Redacted())
	})

	var cacheKey string
	if desc.Cache {
		cacheKey = desc.CacheKey()
		if record, found := d.cache.Lookup(cacheKey, desc.ForceCache); found {
			logger.Debug().Msg("serving response from cache")
			d.metrics.cacheEvents.WithLabelValues("hit").Inc()
			d.metrics.dispatches.WithLabelValues("success").Inc()
			return record, nil
		}
		d.metrics.cacheEvents.WithLabelValues("miss").Inc()
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			d.metrics.dispatches.WithLabelValues("canceled").Inc()
			return nil, err
		}
	}

	result, err := d.execute(ctx, desc, &logger)
	if err != nil {
		d.metrics.dispatches.WithLabelValues(outcome(err)).Inc()
		return nil, err
	}

	mode := decode.SelectMode(
		desc.ForceJSONDecode,
		desc.ForceYAMLDecode,
		result.Headers.Get("Content-Type"),
	)
	body, err := decode.Decode(result.RawBody, mode)
	if err != nil {
		d.metrics.dispatches.WithLabelValues("decode_error").Inc()
		return nil, err
	}

	now := time.Now().UTC()
	record := &respcache.Record{
		Status:     result.Status,
		StatusCode: result.StatusCode,
		Headers:    result.Headers,
		RawBody:    string(result.RawBody),
		Body:       body,
		StoredAt:   now,
		ExpiresAt:  now.Add(d.ttl),
	}

	if desc.Cache {
		if err := d.cache.Store(cacheKey, record, d.ttl); err != nil {
			logger.Error().Err(err).Msg("Error saving response in the cache")
		} else {
			d.metrics.cacheEvents.WithLabelValues("store").Inc()
		}
	}

	d.metrics.dispatches.WithLabelValues("success").Inc()
	return record, nil
}

func (d *Dispatcher) execute(
	ctx context.Context,
	desc *descriptor.Descriptor,
	logger *zerolog.Logger,
) (*transport.Result, error) {
	attemptsMade := 0

	return retry.Do(
		ctx,
		d.policy,
		1+desc.MaxRetryAttempts,
		d.random,
		logger,
		func(ctx context.Context) (*transport.Result, error) {
			if attemptsMade > 0 {
				d.metrics.retries.Inc()
			}
			attemptsMade++
			d.metrics.attempts.Inc()

			start := time.Now()
			result, err := d.follower.Do(ctx, desc)
			d.metrics.attemptDuration.Observe(time.Since(start).Seconds())
			return result, err
		},
	)
}

func outcome(err error) string {
	var exhausted *retry.ExhaustedError
	var tooManyRedirects *transport.TooManyRedirectsError
	var transportErr *transport.Error

	switch {
	case errors.As(err, &exhausted):
		return "retries_exhausted"
	case errors.As(err, &tooManyRedirects):
		return "too_many_redirects"
	case errors.As(err, &transportErr):
		return "transport_error"
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
