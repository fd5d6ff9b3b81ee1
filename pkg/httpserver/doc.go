// Package httpserver runs the API's http.Server with context-driven graceful
// shutdown and provides the liveness and readiness probe handlers.
//
//	srv := httpserver.New(cfg.HTTP, httpserver.WithLogger(log))
//	g.Go(srv.Runner(ctx, router))
//
// Run does not install signal handlers; cancel ctx (for example with
// signal.NotifyContext) to stop the server.
package httpserver
