// Package app wires the license server together: configuration, logging,
// telemetry, the record store, the external authority, the license engine and
// the HTTP router.
//
// # Initialization Flow
//
//	1. Load configuration from environment and an optional YAML file
//	2. Initialize logging and OpenTelemetry
//	3. Open the record store and build the authority
//	4. Build the engine and the services around it
//	5. Set up middleware and handlers
//	6. Start the HTTP server
//
// # Usage
//
//	cfg, err := config.LoadFile(path)
//	application, err := app.NewApplication(ctx, cfg)
//	if err := application.Run(ctx); err != nil {
//	    ...
//	}
//
// NewWithDependencies accepts prebuilt collaborators and is what tests use.
//
// # Graceful Shutdown
//
// Run stops on SIGINT or SIGTERM. In-flight requests drain within
// ServerConfig.ShutdownTimeout, then the store is closed and telemetry is
// flushed. The package never calls os.Exit.
package app
