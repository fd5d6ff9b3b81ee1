// Package logger builds the process-wide slog.Logger.
//
// New returns a logger configured through functional options. The output
// format follows the deployment environment: human-readable text in
// development, JSON everywhere else. Request-scoped values such as the
// request id are injected by context extractors at log time:
//
//	log := logger.New(
//		logger.WithEnvironment(cfg.Env, "minutes-api"),
//		logger.WithContextExtractors(logger.RequestIDExtractor()),
//	)
//	log.InfoContext(ctx, "profile synced", logger.UserID(id), logger.Plan(plan))
//
// The attribute helpers in attr.go keep key names consistent across
// packages. Helpers taking an error or an id return an empty slog.Attr for
// nil input, which slog drops from the record.
package logger
