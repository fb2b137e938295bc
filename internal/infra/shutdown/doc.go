// Package shutdown provides graceful shutdown for crdtsync.
//
// This package handles process termination:
//
//   - Signal handling (SIGINT, SIGTERM) and programmatic Trigger
//   - A shared timeout for all cleanup hooks
//   - Named hooks run in reverse registration order
//
// Usage:
//
//	h := shutdown.NewHandler(30*time.Second, logger)
//	h.OnShutdown("http", srv.Shutdown)
//	err := h.Wait()
package shutdown
