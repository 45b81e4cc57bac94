// Package bootstrap provides application initialization and lifecycle management.
// It builds the stores, the ingestion pipeline and the scheduler from configuration
// so that main.go and the CLI share one composition root.
//
// Usage:
//
//	app, err := bootstrap.NewApp(ctx, configPath)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer app.Shutdown()
//
//	if err := app.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	// Wait for shutdown signal
//	app.WaitForShutdown()
package bootstrap
