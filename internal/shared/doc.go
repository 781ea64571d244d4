// Package shared holds helpers used across the stardust codebase that do not
// belong to any single domain package.
//
// The testutil subpackage provides a buffered slog handler for asserting on
// log output and a Recorder that captures websocket broadcasts.
package shared
