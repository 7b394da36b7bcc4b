package memory

import (
	"errors"
	"fmt"
)

// Errors.
var (
	ErrInsufficientMemory = errors.New("not enough free memory")
	ErrAccessDenied       = errors.New("access denied to territory")
	ErrAlreadyOwned       = errors.New("territory is already owned")
	ErrInvalidTerritory   = errors.New("invalid territory id")
)

// InsufficientMemoryError reports an empty free list.
type InsufficientMemoryError struct {
	Requested int
	Available int
}

func (e *InsufficientMemoryError) Error() string {
	return fmt.Sprintf("%s: requested %d, available %d", ErrInsufficientMemory, e.Requested, e.Available)
}

// Is lets errors.Is match ErrInsufficientMemory.
func (e *InsufficientMemoryError) Is(target error) bool {
	return target == ErrInsufficientMemory
}

// InvalidTerritoryError reports a territory id outside the slot table.
type InvalidTerritoryError struct {
	ID int
}

func (e *InvalidTerritoryError) Error() string {
	return fmt.Sprintf("%s: %d", ErrInvalidTerritory, e.ID)
}

// Is lets errors.Is match ErrInvalidTerritory.
func (e *InvalidTerritoryError) Is(target error) bool {
	return target == ErrInvalidTerritory
}
