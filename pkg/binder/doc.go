// Package binder turns HTTP requests into typed request structs.
//
// Binders share the signature func(*http.Request, any) error and are applied
// in order by handler.Wrap:
//
//	handler.Wrap(h, handler.WithBinders[handler.Context, UpdateMetadataRequest](
//		binder.JSON(),
//		binder.Validate(),
//	))
//
// Every failure matches errors.Is(err, ErrInvalidRequest) and is reported to
// the client as 400 Bad Request.
package binder
