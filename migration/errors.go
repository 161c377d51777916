package migration

import (
	"fmt"
	"github.com/pkg/errors"
)

var (
	ErrMalformedVersion  = errors.New("malformed migration version")
	ErrIncompletePair    = errors.New("incomplete migration pair")
	ErrDuplicateVersion  = errors.New("duplicate migration version")
	ErrVersionNotApplied = errors.New("migration version is not applied")
	ErrUnknownVersion    = errors.New("applied migration version is missing from the catalog")
	ErrLockHeld          = errors.New("migrations lock is held by another process")
	ErrAlreadyExists     = errors.New("migration file already exists")
)

// StepError - failure of a single step of an apply call
type StepError struct {
	Version   Version
	Direction Direction
	Err       error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("migration %s failed for version %s: %v", e.Direction, e.Version, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Cause lets errors.Cause from pkg/errors reach the underlying failure
func (e *StepError) Cause() error {
	return e.Err
}
