package descriptor_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhaquet-w6d/opa-httpsend/internal/descriptor"
	"github.com/nhaquet-w6d/opa-httpsend/internal/testutils"
)

func TestParsesACompleteDescriptor(t *testing.T) {
	t.Parallel()

	desc, err := descriptor.Parse(map[string]any{
		"method":             "POST",
		"url":                "https://example.org/api?key=value",
		"headers":            map[string]any{"x-token": "secret"},
		"raw_body":           "payload",
		"cache":              true,
		"force_cache":        true,
		"force_json_decode":  true,
		"enable_redirect":    true,
		"max_retry_attempts": 2,
		"timeout":            "5s",
	}, testutils.TestLogger(t))
	require.NoError(t, err)

	assert.Equal(t, "POST", desc.Method)
	assert.Equal(t, "https://example.org/api?key=value", desc.URL.String())
	assert.Equal(t, "secret", desc.Headers.Get("X-Token"))
	assert.Equal(t, []byte("payload"), desc.Body)
	assert.True(t, desc.Cache)
	assert.True(t, desc.ForceCache)
	assert.True(t, desc.ForceJSONDecode)
	assert.False(t, desc.ForceYAMLDecode)
	assert.True(t, desc.EnableRedirect)
	assert.Equal(t, 2, desc.MaxRetryAttempts)
	assert.Equal(t, 5*time.Second, desc.Timeout)
}

func TestDefaultsAreConservative(t *testing.T) {
	t.Parallel()

	desc, err := descriptor.Parse(map[string]any{
		"method": "GET",
		"url":    "http://example.org",
	}, testutils.TestLogger(t))
	require.NoError(t, err)

	assert.False(t, desc.Cache)
	assert.False(t, desc.ForceCache)
	assert.False(t, desc.ForceJSONDecode)
	assert.False(t, desc.ForceYAMLDecode)
	assert.False(t, desc.EnableRedirect)
	assert.Zero(t, desc.MaxRetryAttempts)
	assert.Zero(t, desc.Timeout)
	assert.Nil(t, desc.Body)
}

func TestStructuredBodyIsSerializedAsJSON(t *testing.T) {
	t.Parallel()

	desc, err := descriptor.Parse(map[string]any{
		"method": "POST",
		"url":    "http://example.org",
		"body":   map[string]any{"a": 1},
	}, testutils.TestLogger(t))
	require.NoError(t, err)

	assert.JSONEq(t, `{"a": 1}`, string(desc.Body))
	assert.Equal(t, "application/json", desc.Headers.Get("Content-Type"))
}

func TestStructuredBodyKeepsExplicitContentType(t *testing.T) {
	t.Parallel()

	desc, err := descriptor.Parse(map[string]any{
		"method":  "POST",
		"url":     "http://example.org",
		"headers": map[string]any{"Content-Type": "application/vnd.api+json"},
		"body":    []any{1, 2},
	}, testutils.TestLogger(t))
	require.NoError(t, err)

	assert.Equal(t, "application/vnd.api+json", desc.Headers.Get("Content-Type"))
}

func TestTimeoutAcceptsNanoseconds(t *testing.T) {
	t.Parallel()

	desc, err := descriptor.Parse(map[string]any{
		"method":  "GET",
		"url":     "http://example.org",
		"timeout": 1500000000,
	}, testutils.TestLogger(t))
	require.NoError(t, err)

	assert.Equal(t, 1500*time.Millisecond, desc.Timeout)
}

func TestRejectsInvalidDescriptors(t *testing.T) {
	t.Parallel()

	for name, tc := range map[string]struct {
		raw   map[string]any
		field string
	}{
		"missing method": {
			map[string]any{"url": "http://example.org"},
			"(root)",
		},
		"unknown method": {
			map[string]any{"method": "FROB", "url": "http://example.org"},
			"method",
		},
		"method of the wrong type": {
			map[string]any{"method": 42, "url": "http://example.org"},
			"method",
		},
		"relative url": {
			map[string]any{"method": "GET", "url": "/relative"},
			"url",
		},
		"unsupported scheme": {
			map[string]any{"method": "GET", "url": "ftp://example.org"},
			"url",
		},
		"unparsable url": {
			map[string]any{"method": "GET", "url": "http://exa mple.org/%zz"},
			"url",
		},
		"non-string header value": {
			map[string]any{
				"method":  "GET",
				"url":     "http://example.org",
				"headers": map[string]any{"x-count": 3},
			},
			"headers",
		},
		"negative retry attempts": {
			map[string]any{
				"method":             "GET",
				"url":                "http://example.org",
				"max_retry_attempts": -1,
			},
			"max_retry_attempts",
		},
		"body and raw_body together": {
			map[string]any{
				"method":   "POST",
				"url":      "http://example.org",
				"body":     map[string]any{"a": 1},
				"raw_body": "payload",
			},
			"body",
		},
		"invalid timeout string": {
			map[string]any{"method": "GET", "url": "http://example.org", "timeout": "fast"},
			"timeout",
		},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := descriptor.Parse(tc.raw, testutils.TestLogger(t))

			var invalidErr *descriptor.InvalidDescriptorError
			require.ErrorAs(t, err, &invalidErr)
			assert.Contains(t, invalidErr.Field, tc.field)
		})
	}
}

func TestRejectsUnimplementedOptions(t *testing.T) {
	t.Parallel()

	for _, option := range []string{
		"tls_ca_cert", "tls_insecure_skip_verify", "caching_mode", "raise_error",
	} {
		t.Run(option, func(t *testing.T) {
			t.Parallel()

			_, err := descriptor.Parse(map[string]any{
				"method": "GET",
				"url":    "http://example.org",
				option:   true,
			}, testutils.TestLogger(t))

			var invalidErr *descriptor.InvalidDescriptorError
			require.ErrorAs(t, err, &invalidErr)
			assert.Equal(t, option, invalidErr.Field)
			assert.Contains(t, invalidErr.Error(), "option unimplemented")
		})
	}
}

func TestIgnoresUnknownFields(t *testing.T) {
	t.Parallel()

	// A misspelled flag is ignored, not an error. It is only surfaced in
	// the logs.
	desc, err := descriptor.Parse(map[string]any{
		"method": "GET",
		"url":    "http://example.org",
		"cahce":  true,
	}, testutils.TestLogger(t))
	require.NoError(t, err)
	assert.False(t, desc.Cache)
}

func TestCacheKeyIsHeaderOrderIndependent(t *testing.T) {
	t.Parallel()

	first, err := descriptor.Parse(map[string]any{
		"method":  "GET",
		"url":     "http://example.org",
		"headers": map[string]any{"a": "1", "b": "2", "c": "3"},
	}, testutils.TestLogger(t))
	require.NoError(t, err)

	second, err := descriptor.Parse(map[string]any{
		"method":  "GET",
		"url":     "http://example.org",
		"headers": map[string]any{"c": "3", "a": "1", "b": "2"},
	}, testutils.TestLogger(t))
	require.NoError(t, err)

	assert.Equal(t, first.CacheKey(), second.CacheKey())
}

func TestCacheKeyCoversIdentityFields(t *testing.T) {
	t.Parallel()

	base := map[string]any{
		"method":   "POST",
		"url":      "http://example.org",
		"headers":  map[string]any{"a": "1"},
		"raw_body": "payload",
	}
	baseKey := parseKey(t, base)

	for name, variant := range map[string]map[string]any{
		"different method": {
			"method": "PUT", "url": "http://example.org",
			"headers": map[string]any{"a": "1"}, "raw_body": "payload",
		},
		"different url": {
			"method": "POST", "url": "http://example.org/other",
			"headers": map[string]any{"a": "1"}, "raw_body": "payload",
		},
		"different headers": {
			"method": "POST", "url": "http://example.org",
			"headers": map[string]any{"a": "2"}, "raw_body": "payload",
		},
		"different body": {
			"method": "POST", "url": "http://example.org",
			"headers": map[string]any{"a": "1"}, "raw_body": "other",
		},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			assert.NotEqual(t, baseKey, parseKey(t, variant))
		})
	}
}

func TestCacheKeyIgnoresBehavioralFlags(t *testing.T) {
	t.Parallel()

	plain := parseKey(t, map[string]any{"method": "GET", "url": "http://example.org"})
	flagged := parseKey(t, map[string]any{
		"method": "GET", "url": "http://example.org",
		"cache": true, "enable_redirect": true, "max_retry_attempts": 3,
	})

	assert.Equal(t, plain, flagged)
}

func parseKey(t *testing.T, raw map[string]any) string {
	t.Helper()

	desc, err := descriptor.Parse(raw, testutils.TestLogger(t))
	require.NoError(t, err)
	return desc.CacheKey()
}

func TestAllStandardMethodsAreAccepted(t *testing.T) {
	t.Parallel()

	for _, method := range []string{
		http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions,
	} {
		_, err := descriptor.Parse(map[string]any{
			"method": method,
			"url":    "http://example.org",
		}, testutils.TestLogger(t))
		require.NoError(t, err)
	}
}
