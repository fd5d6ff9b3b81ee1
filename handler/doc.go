// Package handler provides generic, typed HTTP handlers.
//
// A HandlerFunc receives a Context and a request value populated by binders,
// and returns a Response. Wrap adapts it to http.HandlerFunc. Failures from
// binders, handlers (via Error) or rendering go to a single ErrorHandler,
// which answers with a JSON body of the form {"error": "..."}.
package handler
