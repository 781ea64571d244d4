// Package services implements the business logic that sits between the
// transports and the operations manager.
//
// # Services
//
//   - Gateway binds websocket clients to the manager: it installs the
//     submit, delete and admin handlers on every connection and answers
//     failures with plain notices on the message channel.
//   - ArtifactService resolves download keys to stored artifacts, shaping
//     CSV artifacts as attachments and optionally as spreadsheets.
//   - HealthService reports liveness, readiness and version.
//
// # Conventions
//
// Services take their collaborators as interfaces and a *slog.Logger in
// their constructors. Errors are returned, never rendered; the HTTP layer
// maps them with the errors package.
package services
