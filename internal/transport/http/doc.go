// Package http implements the HTTP handlers of the license server. Handlers
// stay thin: they decode and validate the body, call the service layer and
// render the result. Failures go through errors.ErrorHandler and leave as RFC
// 7807 problem documents.
//
// # Endpoints
//
//	POST /verify                 device activation and verification
//	POST /api/license/verify     same handler, legacy mount
//	POST /admin/suspend          suspend a key (admin secret)
//	POST /admin/reset            return a key to unredeemed (reset secret)
//	GET  /admin/licenses         list every record (admin secret)
//	POST /admin/keys             provision new keys (admin secret)
//	GET  /healthz                readiness: store ping and authority kind
//	GET  /livez                  liveness
//	GET  /version                build information
//	GET  /metrics                Prometheus scrape endpoint
//
// A well-formed verify request always answers 200; the verdict is in the
// body. A body that cannot be decoded answers 400 with
// {"error":"Invalid Request"} alongside the problem members.
package http
