// Package descriptor parses and validates the declarative request values
// handed to the http.send builtin, before any network I/O happens.
package descriptor

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

type InvalidDescriptorError struct {
	Field  string
	Reason string
}

func (e *InvalidDescriptorError) Error() string {
	return fmt.Sprintf("invalid request descriptor: field %q: %s", e.Field, e.Reason)
}

type Descriptor struct {
	Method           string
	URL              *url.URL
	Headers          http.Header
	Body             []byte
	Cache            bool
	ForceCache       bool
	ForceJSONDecode  bool
	ForceYAMLDecode  bool
	EnableRedirect   bool
	MaxRetryAttempts int
	// Timeout overrides the configured per-attempt timeout. Zero means use
	// the default.
	Timeout time.Duration
}

const schema = `{
	"type": "object",
	"required": ["method", "url"],
	"properties": {
		"method": {"type": "string"},
		"url": {"type": "string"},
		"headers": {"type": "object", "additionalProperties": {"type": "string"}},
		"body": {},
		"raw_body": {"type": "string"},
		"cache": {"type": "boolean"},
		"force_cache": {"type": "boolean"},
		"force_json_decode": {"type": "boolean"},
		"force_yaml_decode": {"type": "boolean"},
		"enable_redirect": {"type": "boolean"},
		"max_retry_attempts": {"type": "integer", "minimum": 0},
		"timeout": {"type": ["string", "integer"]}
	}
}`

var schemaLoader = gojsonschema.NewStringLoader(schema)

var allowedMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodPatch:   true,
	http.MethodDelete:  true,
	http.MethodOptions: true,
}

// Options the original engine accepts but this subsystem does not implement.
// They are rejected explicitly so a policy relying on them fails loudly
// instead of silently running without TLS material.
var unimplementedOptions = []string{
	"tls_use_system_cert",
	"tls_ca_cert",
	"tls_ca_cert_file",
	"tls_ca_cert_env_variable",
	"tls_client_key",
	"tls_client_key_file",
	"tls_client_key_env_variable",
	"tls_insecure_skip_verify",
	"tls_server_name",
	"caching_mode",
	"force_cache_duration_seconds",
	"raise_error",
}

var knownFields = map[string]bool{
	"method":             true,
	"url":                true,
	"headers":            true,
	"body":               true,
	"raw_body":           true,
	"cache":              true,
	"force_cache":        true,
	"force_json_decode":  true,
	"force_yaml_decode":  true,
	"enable_redirect":    true,
	"max_retry_attempts": true,
	"timeout":            true,
}

// Parse validates a raw descriptor value and returns the immutable form used
// for the rest of the dispatch. Unknown fields are ignored with a warning, so
// a misspelled flag never fails a policy but is visible in the logs.
func Parse(raw map[string]any, logger *zerolog.Logger) (*Descriptor, error) {
	for _, option := range unimplementedOptions {
		if _, ok := raw[option]; ok {
			return nil, &InvalidDescriptorError{option, "option unimplemented"}
		}
	}

	for field := range raw {
		if !knownFields[field] {
			logger.Warn().
				Str("field", field).
				Msg("Unknown field in request descriptor, ignoring")
		}
	}

	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewGoLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("unable to validate request descriptor: %w", err)
	}
	if !result.Valid() {
		desc := result.Errors()[0]
		return nil, &InvalidDescriptorError{desc.Field(), desc.Description()}
	}

	d := &Descriptor{Headers: http.Header{}}

	if err := d.parseMethodAndURL(raw); err != nil {
		return nil, err
	}

	if headers, ok := raw["headers"].(map[string]any); ok {
		for key, value := range headers {
			d.Headers.Set(key, value.(string))
		}
	}

	if err := d.parseBody(raw); err != nil {
		return nil, err
	}

	d.Cache, _ = raw["cache"].(bool)
	d.ForceCache, _ = raw["force_cache"].(bool)
	d.ForceJSONDecode, _ = raw["force_json_decode"].(bool)
	d.ForceYAMLDecode, _ = raw["force_yaml_decode"].(bool)
	d.EnableRedirect, _ = raw["enable_redirect"].(bool)

	if retries, ok := raw["max_retry_attempts"]; ok {
		d.MaxRetryAttempts = asInt(retries)
	}

	if timeout, ok := raw["timeout"]; ok {
		if err := d.parseTimeout(timeout); err != nil {
			return nil, err
		}
	}

	return d, nil
}

func (d *Descriptor) parseMethodAndURL(raw map[string]any) error {
	method := raw["method"].(string)
	if !allowedMethods[method] {
		return &InvalidDescriptorError{"method", fmt.Sprintf("unknown method %q", method)}
	}
	d.Method = method

	target, err := url.Parse(raw["url"].(string))
	if err != nil {
		return &InvalidDescriptorError{"url", err.Error()}
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return &InvalidDescriptorError{
			"url",
			fmt.Sprintf("must be an absolute http or https url, got scheme %q", target.Scheme),
		}
	}
	if target.Host == "" {
		return &InvalidDescriptorError{"url", "missing host"}
	}
	d.URL = target

	return nil
}

func (d *Descriptor) parseBody(raw map[string]any) error {
	body, hasBody := raw["body"]
	rawBody, hasRawBody := raw["raw_body"]

	switch {
	case hasBody && hasRawBody:
		return &InvalidDescriptorError{"body", "body and raw_body are mutually exclusive"}
	case hasBody:
		serialized, err := json.Marshal(body)
		if err != nil {
			return &InvalidDescriptorError{"body", err.Error()}
		}
		d.Body = serialized
		if d.Headers.Get("Content-Type") == "" {
			d.Headers.Set("Content-Type", "application/json")
		}
	case hasRawBody:
		d.Body = []byte(rawBody.(string))
	}

	return nil
}

func (d *Descriptor) parseTimeout(value any) error {
	switch timeout := value.(type) {
	case string:
		parsed, err := time.ParseDuration(timeout)
		if err != nil {
			return &InvalidDescriptorError{"timeout", err.Error()}
		}
		d.Timeout = parsed
	default:
		// Bare numbers are nanoseconds, matching the engine's convention
		// for durations.
		d.Timeout = time.Duration(asInt(value))
	}

	return nil
}

func asInt(value any) int {
	switch v := value.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		parsed, _ := v.Int64()
		return int(parsed)
	default:
		return 0
	}
}
