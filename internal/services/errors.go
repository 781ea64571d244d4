package services

import "errors"

var (
	// ErrInvalidKey is returned for artifact keys that are malformed or
	// reference no known operation.
	ErrInvalidKey = errors.New("invalid artifact key")

	// ErrArtifactNotFound is returned when the key holds nothing.
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrUnsupportedFormat is returned when a conversion is requested for an
	// artifact that cannot be converted.
	ErrUnsupportedFormat = errors.New("unsupported artifact format")
)
