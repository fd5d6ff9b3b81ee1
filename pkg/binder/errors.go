package binder

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidRequest is joined into every error produced by a binder so callers
// can map binding failures to a client error with a single errors.Is check.
var ErrInvalidRequest = errors.New("invalid request")

var (
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrFailedToParseJSON    = errors.New("failed to parse JSON request body")
	ErrFailedToParsePath    = errors.New("failed to parse path parameters")
	ErrInvalidTarget        = errors.New("bind target must be a non-nil pointer to struct")
)

// ValidationError maps a request field name to its failure messages.
type ValidationError map[string][]string

func (v ValidationError) Error() string {
	if len(v) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(v))
	for f := range v {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s %s", f, strings.Join(v[f], ", ")))
	}
	return strings.Join(parts, "; ")
}

// Is lets errors.Is(err, ErrInvalidRequest) match validation failures.
func (v ValidationError) Is(target error) bool {
	return target == ErrInvalidRequest
}

func (v ValidationError) add(field, msg string) {
	v[field] = append(v[field], msg)
}

func invalid(kind error, format string, args ...any) error {
	return errors.Join(ErrInvalidRequest, kind, fmt.Errorf(format, args...))
}
