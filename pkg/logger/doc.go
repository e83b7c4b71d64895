// Package logger builds the slog.Logger shared by every delivery component
// and provides attribute helpers so keys stay consistent across packages.
//
// New returns a logger configured by functional options. The handler is
// wrapped in a decorator that appends attributes carried by the context, so
// a batch id attached once with WithAttrs shows up on every record logged
// while that batch is processed:
//
//	log := logger.New(logger.WithEnvironment(os.Getenv("APP_ENV"), "notifyd"))
//	ctx = logger.WithAttrs(ctx, logger.BatchID(batch.ID))
//	log.LogAttrs(ctx, slog.LevelInfo, "batch delivered", logger.Count(len(batch.Items)))
package logger
