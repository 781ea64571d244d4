// Package app wires the stardust service together and owns its lifecycle.
//
// New builds, in order: OpenTelemetry providers, the key-value backend and
// its scoped client, the artifact cache, the websocket hub, the analysis
// pipeline, the operations manager and the services in front of it. It
// then mounts the chi router:
//
//	RequestID → websocket endpoint
//	          → RealIP → OTel → StructuredLogger → Recoverer → SecurityHeaders → CORS → RateLimiter → /api
//	/metrics
//
// Start restores the persisted queue before the listener opens. Stop
// writes a final snapshot; analyses still running are queued again on the
// next start.
package app
