// Package services implements the use-case layer between the HTTP handlers
// and the license engine.
//
// LicenseService turns engine verdicts into wire responses, carries the
// administrative secret checks and logs each operation with the request's
// trace id. HealthService wraps the engine's component health check for the
// readiness and liveness endpoints.
//
// Services depend on small interfaces (LicenseEngine, HealthChecker) so
// handlers and services can be tested with testify mocks.
package services
