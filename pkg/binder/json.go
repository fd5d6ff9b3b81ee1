package binder

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
)

// MaxJSONSize caps request bodies read by JSON.
const MaxJSONSize = 1 << 20

// JSONOption tunes the JSON binder.
type JSONOption func(*jsonConfig)

type jsonConfig struct {
	allowUnknown bool
}

// AllowUnknownFields makes the binder skip fields the target does not
// declare instead of rejecting the body.
func AllowUnknownFields() JSONOption {
	return func(c *jsonConfig) { c.allowUnknown = true }
}

// JSON decodes the request body into v. By default it is strict: unknown
// fields and trailing data are rejected. A missing Content-Type is accepted
// as JSON.
func JSON(opts ...JSONOption) func(r *http.Request, v any) error {
	var cfg jsonConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return func(r *http.Request, v any) error {
		if ct := r.Header.Get("Content-Type"); ct != "" {
			mediaType, _, err := mime.ParseMediaType(ct)
			if err != nil || mediaType != "application/json" {
				return invalid(ErrUnsupportedMediaType, "got %q, expected application/json", ct)
			}
		}
		if r.Body == nil {
			return invalid(ErrFailedToParseJSON, "empty body")
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, MaxJSONSize+1))
		if err != nil {
			return invalid(ErrFailedToParseJSON, "read body: %v", err)
		}
		if len(body) > MaxJSONSize {
			return invalid(ErrFailedToParseJSON, "body exceeds %d bytes", MaxJSONSize)
		}

		dec := json.NewDecoder(bytes.NewReader(body))
		if !cfg.allowUnknown {
			dec.DisallowUnknownFields()
		}
		if err := dec.Decode(v); err != nil {
			if errors.Is(err, io.EOF) {
				return invalid(ErrFailedToParseJSON, "empty body")
			}
			return invalid(ErrFailedToParseJSON, "%v", err)
		}
		if dec.More() {
			return invalid(ErrFailedToParseJSON, "unexpected data after JSON object")
		}
		return nil
	}
}
