package domain

import (
	"errors"
	"fmt"
)

var (
	ErrAuth              = errors.New("unauthorized")
	ErrMissingCredential = fmt.Errorf("%w: missing bearer token", ErrAuth)
	ErrInvalidCredential = fmt.Errorf("%w: invalid shared secret", ErrAuth)

	ErrInvalidRequest    = errors.New("invalid request")
	ErrAcquisition       = errors.New("image acquisition failed")
	ErrCollaborator      = errors.New("collaborator failed")
	ErrDelivery          = errors.New("callback delivery failed")
	ErrContractViolation = errors.New("contract violation")
)
