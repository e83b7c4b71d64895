// Package httpserver runs the daemon's HTTP surface with graceful shutdown
// and provides liveness and readiness handlers.
//
//	srv := httpserver.New(cfg.HTTP, router, httpserver.WithLogger(log))
//	if err := srv.Run(ctx); err != nil {
//		return err
//	}
//
// Run returns once ctx is cancelled and in-flight requests have finished
// or ShutdownTimeout elapsed. Signal handling belongs to the caller,
// usually via signal.NotifyContext in main.
package httpserver
