// Package decode turns raw response bodies into structured values. The mode
// is a pure function of the descriptor flags and the Content-Type header, so
// decoding behaves identically whether a response came off the wire or out of
// the cache.
package decode

import (
	"encoding/json"
	"fmt"
	"mime"
	"strings"

	"gopkg.in/yaml.v3"
)

type Mode int

const (
	// Raw leaves the body as opaque bytes.
	Raw Mode = iota
	// SniffedJSON and SniffedYAML decode best-effort: a parse failure falls
	// back to the raw body instead of failing the dispatch.
	SniffedJSON
	SniffedYAML
	// ForcedJSON and ForcedYAML are caller assertions about the body format,
	// a parse failure is fatal.
	ForcedJSON
	ForcedYAML
)

type Error struct {
	Format string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("unable to decode response body as %s: %v", e.Format, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// SelectMode resolves the decode strategy. Forced flags win over the
// Content-Type header, and JSON wins when both forced flags are set.
func SelectMode(forceJSON, forceYAML bool, contentType string) Mode {
	switch {
	case forceJSON:
		return ForcedJSON
	case forceYAML:
		return ForcedYAML
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return Raw
	}

	switch {
	case isJSONMediaType(mediaType):
		return SniffedJSON
	case isYAMLMediaType(mediaType):
		return SniffedYAML
	default:
		return Raw
	}
}

// Decode parses raw according to mode. A nil value with a nil error means the
// body stays raw. Empty bodies never produce a structured value.
func Decode(raw []byte, mode Mode) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	switch mode {
	case ForcedJSON:
		value, err := decodeJSON(raw)
		if err != nil {
			return nil, &Error{"json", err}
		}
		return value, nil
	case ForcedYAML:
		// YAML is a superset of JSON, so this accepts JSON bodies too.
		value, err := decodeYAML(raw)
		if err != nil {
			return nil, &Error{"yaml", err}
		}
		return value, nil
	case SniffedJSON:
		value, err := decodeJSON(raw)
		if err != nil {
			return nil, nil
		}
		return value, nil
	case SniffedYAML:
		value, err := decodeYAML(raw)
		if err != nil {
			return nil, nil
		}
		return value, nil
	default:
		return nil, nil
	}
}

func decodeJSON(raw []byte) (any, error) {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, err
	}
	return value, nil
}

func decodeYAML(raw []byte) (any, error) {
	var value any
	if err := yaml.Unmarshal(raw, &value); err != nil {
		return nil, err
	}
	return value, nil
}

func isJSONMediaType(mediaType string) bool {
	return mediaType == "application/json" ||
		mediaType == "text/json" ||
		strings.HasSuffix(mediaType, "+json")
}

func isYAMLMediaType(mediaType string) bool {
	return mediaType == "application/yaml" ||
		mediaType == "application/x-yaml" ||
		mediaType == "text/yaml" ||
		strings.HasSuffix(mediaType, "+yaml")
}
