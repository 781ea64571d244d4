// Package http holds the REST handlers. They stay thin: parse the request,
// call a service, and render JSON or a problem document.
//
// Routes:
//
//	GET /api/health, /api/health/ready, /api/health/live
//	GET /api/version, /api/stats, /api/status
//	GET /api/operations, /api/operations/{uid}
//	GET /api/get/{key}[?format=xlsx]
//	GET /metrics
//
// Submission, deletion and admin commands travel over the websocket only.
package http
