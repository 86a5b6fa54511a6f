// Package server provides the HTTP server implementation for the bp6
// orchestrator API.
//
// The server exposes the session service over a small REST surface plus
// a Server-Sent Events stream, so terminal UIs and scripts can drive
// agent sessions remotely.
//
// # API Endpoints
//
//   - POST /session: create a session (optionally with an initial
//     prompt and queued turns)
//   - GET /session: list sessions; GET /session/{id}: one session
//   - DELETE /session/{id}: terminate a session and its process
//   - POST /session/{id}/message: run or feed a turn
//   - POST /session/{id}/interrupt: SIGINT the live turn
//   - POST /session/{id}/handover: switch to interactive mode
//   - POST /session/{id}/queue: append queued turns
//   - POST /session/{id}/active: mark the session as UI focus
//   - GET /event: SSE stream of all events (?session={id} filters)
//   - GET /backend, /persona, /task: descriptor lists
//   - GET /health: liveness probe
//
// # Event Stream
//
// Every orchestrator event is forwarded to connected SSE clients as a
// frame of the form {"type": "...", "properties": {...}}. Each client
// has a bounded queue; a stalled client drops events instead of
// blocking the publisher, and drops are logged with a running count.
// Heartbeat comments keep idle connections alive through proxies.
//
// # Error Mapping
//
// Service sentinels map to HTTP statuses in writeServiceError: unknown
// session 404, busy slot and interactive-mode conflicts 409, unknown
// backend or persona 400, shutdown in progress 503, everything else
// (spawn failures included) 500. Bodies follow the
// {"error": {"code", "message"}} shape.
//
// # Usage Example
//
//	cfg := server.DefaultConfig()
//	cfg.Port = 8080
//
//	srv := server.New(cfg, appConfig, sessions, backends, personas, feed)
//	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
//		log.Fatal(err)
//	}
package server
