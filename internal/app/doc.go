// Package app wires keyledger together: configuration, logging, telemetry,
// the storage backend, the license components and the ops HTTP server.
//
// # Initialization Flow
//
//  1. Load configuration (defaults, YAML file, environment)
//  2. Initialize logging and OpenTelemetry
//  3. Open the store and run migrations
//  4. Build the issuer, redeemer and query around the store
//  5. Set up the ops router (/healthz, /readyz, /metrics)
//
// # Usage
//
//	application, err := app.New(ctx, cfg, logger)
//	if err != nil {
//	    return err
//	}
//	defer application.Close(context.Background())
//	return application.Serve(ctx)
//
// Commands that only need the license service (issue, redeem, ...) use
// application.License and never call Serve.
//
// # Error Handling
//
// All initialization errors are returned to the caller. The app does not call
// os.Exit, allowing the main function to control the exit process.
package app
