// Package bootstrap assembles the service from configuration: storage
// backends, the detection engine, notification workers, and the HTTP API.
// It extracts the initialization logic from main.go into testable,
// composable components.
//
// Usage:
//
//	app, err := bootstrap.NewApp(ctx, configPath)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := app.Start(); err != nil {
//	    log.Fatal(err)
//	}
//
//	// Wait for shutdown signal
//	app.WaitForShutdown()
//	app.Shutdown()
package bootstrap
