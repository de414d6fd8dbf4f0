// Package provenance inspects images for C2PA content credentials.
package provenance

import (
	"context"

	"verifai/internal/domain"
)

// NoteNotImplemented is reported while manifest verification is unavailable.
const NoteNotImplemented = "C2PA verification not yet implemented"

// Checker inspects image bytes for content credentials.
type Checker interface {
	Check(ctx context.Context, data []byte) (domain.Provenance, error)
}

// StubChecker always reports that no credentials are present.
// TODO: parse JUMBF boxes and validate the embedded C2PA manifest signature.
type StubChecker struct{}

// NewChecker returns the stub checker.
func NewChecker() StubChecker {
	return StubChecker{}
}

// Check implements Checker.
func (StubChecker) Check(ctx context.Context, _ []byte) (domain.Provenance, error) {
	if err := ctx.Err(); err != nil {
		return domain.Provenance{}, err
	}
	return domain.Provenance{
		C2PAPresent: false,
		C2PAValid:   nil,
		Notes:       []string{NoteNotImplemented},
	}, nil
}
