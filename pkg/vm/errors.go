package vm

import (
	"errors"
	"fmt"
)

// Errors.
var (
	ErrOutOfBounds              = errors.New("memory access out of bounds")
	ErrInsufficientResources    = errors.New("insufficient resources")
	ErrInsufficientMemory       = errors.New("insufficient memory for territory allocation")
	ErrTerritoryNotFound        = errors.New("territory not found")
	ErrTerritoryBoundsViolation = errors.New("territory access out of bounds")
	ErrInvalidOpcode            = errors.New("invalid opcode")
)

// OutOfBoundsError reports an instruction address outside the memory buffer.
type OutOfBoundsError struct {
	Index int
	Size  int
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("%s: index %d, size %d", ErrOutOfBounds, e.Index, e.Size)
}

// Is lets errors.Is match ErrOutOfBounds.
func (e *OutOfBoundsError) Is(target error) bool {
	return target == ErrOutOfBounds
}

// InsufficientResourcesError reports a budget too small for an instruction.
type InsufficientResourcesError struct {
	Required  uint32
	Available uint32
}

func (e *InsufficientResourcesError) Error() string {
	return fmt.Sprintf("%s: required %d, available %d", ErrInsufficientResources, e.Required, e.Available)
}

// Is lets errors.Is match ErrInsufficientResources.
func (e *InsufficientResourcesError) Is(target error) bool {
	return target == ErrInsufficientResources
}

// InsufficientMemoryError reports an exhausted territory bump allocator.
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

// TerritoryNotFoundError reports an unknown territory handle.
type TerritoryNotFoundError struct {
	ID TerritoryID
}

func (e *TerritoryNotFoundError) Error() string {
	return fmt.Sprintf("territory %d not found", e.ID)
}

// Is lets errors.Is match ErrTerritoryNotFound.
func (e *TerritoryNotFoundError) Is(target error) bool {
	return target == ErrTerritoryNotFound
}

// TerritoryBoundsError reports an offset at or past the end of a territory.
type TerritoryBoundsError struct {
	Offset int
	Size   int
}

func (e *TerritoryBoundsError) Error() string {
	return fmt.Sprintf("%s: offset %d, territory size %d", ErrTerritoryBoundsViolation, e.Offset, e.Size)
}

// Is lets errors.Is match ErrTerritoryBoundsViolation.
func (e *TerritoryBoundsError) Is(target error) bool {
	return target == ErrTerritoryBoundsViolation
}

// ErrorKind returns a short label for a VM error, used as a metric label.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrInsufficientResources):
		return "insufficient_resources"
	case errors.Is(err, ErrOutOfBounds):
		return "out_of_bounds"
	case errors.Is(err, ErrInsufficientMemory):
		return "insufficient_memory"
	case errors.Is(err, ErrTerritoryNotFound):
		return "territory_not_found"
	case errors.Is(err, ErrTerritoryBoundsViolation):
		return "territory_bounds"
	case errors.Is(err, ErrInvalidOpcode):
		return "invalid_opcode"
	default:
		return "other"
	}
}
