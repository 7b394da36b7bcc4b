package memory

import (
	"math/rand/v2"
	"slices"
)

// DefaultSeed seeds resource densities when no random source is given.
const DefaultSeed = 0xa110c

// Rand supplies resource densities.
type Rand interface {
	Float32() float32
}

// Allocator hands out fixed-size territories from a partitioned address
// space. The slot table is sized once at construction and never grows.
// It is not safe for concurrent use.
type Allocator struct {
	totalSize     int
	territorySize int
	territories   []Territory
	free          []int
	owned         map[OwnerID][]int
}

// NewAllocator partitions totalSize into totalSize/territorySize slots. Any
// remainder is left unused; a non-positive territorySize yields no slots.
// A nil rng selects a PCG generator seeded with DefaultSeed.
func NewAllocator(totalSize, territorySize int, rng Rand) *Allocator {
	if rng == nil {
		rng = rand.New(rand.NewPCG(DefaultSeed, DefaultSeed))
	}

	count := 0
	if territorySize > 0 && totalSize > 0 {
		count = totalSize / territorySize
	}

	a := &Allocator{
		totalSize:     totalSize,
		territorySize: territorySize,
		territories:   make([]Territory, count),
		free:          make([]int, count),
		owned:         make(map[OwnerID][]int),
	}
	for i := 0; i < count; i++ {
		a.territories[i] = NewTerritory(i*territorySize, territorySize, rng.Float32())
		a.free[i] = i
	}
	return a
}

// Allocate gives owner the most recently freed territory and returns its id.
func (a *Allocator) Allocate(owner OwnerID) (int, error) {
	if len(a.free) == 0 {
		return 0, &InsufficientMemoryError{Requested: 1, Available: 0}
	}

	id := a.free[len(a.free)-1]
	if err := a.territories[id].AllocateTo(owner); err != nil {
		return 0, err
	}
	a.free = a.free[:len(a.free)-1]
	a.owned[owner] = append(a.owned[owner], id)
	return id, nil
}

// Deallocate returns a territory held by owner to the free list.
func (a *Allocator) Deallocate(id int, owner OwnerID) error {
	if id < 0 || id >= len(a.territories) {
		return &InvalidTerritoryError{ID: id}
	}

	t := &a.territories[id]
	if current, ok := t.Owner(); !ok || current != owner {
		return ErrAccessDenied
	}

	t.Release()
	a.free = append(a.free, id)

	ids := slices.DeleteFunc(a.owned[owner], func(i int) bool { return i == id })
	if len(ids) == 0 {
		delete(a.owned, owner)
	} else {
		a.owned[owner] = ids
	}
	return nil
}

// DeallocateAll releases every territory held by owner and returns how many
// were freed.
func (a *Allocator) DeallocateAll(owner OwnerID) int {
	ids := slices.Clone(a.owned[owner])
	for _, id := range ids {
		// Cannot fail: ids come from owner's own list.
		_ = a.Deallocate(id, owner)
	}
	return len(ids)
}

// SetProtectionLevel changes the protection of a territory held by owner.
func (a *Allocator) SetProtectionLevel(id int, owner OwnerID, level uint8) error {
	if id < 0 || id >= len(a.territories) {
		return &InvalidTerritoryError{ID: id}
	}
	t := &a.territories[id]
	if current, ok := t.Owner(); !ok || current != owner {
		return ErrAccessDenied
	}
	t.SetProtectionLevel(level)
	return nil
}

// CanAccess reports whether requester may touch address. Addresses outside
// every territory are refused.
func (a *Allocator) CanAccess(address int, requester OwnerID) bool {
	for i := range a.territories {
		if a.territories[i].ContainsAddress(address) {
			return a.territories[i].CanAccess(requester)
		}
	}
	return false
}

// Territory returns a copy of the territory with the given id.
func (a *Allocator) Territory(id int) (Territory, bool) {
	if id < 0 || id >= len(a.territories) {
		return Territory{}, false
	}
	return a.territories[id], true
}

// TerritoriesForOwner returns copies of owner's territories in grant order.
func (a *Allocator) TerritoriesForOwner(owner OwnerID) []Territory {
	ids := a.owned[owner]
	out := make([]Territory, 0, len(ids))
	for _, id := range ids {
		out = append(out, a.territories[id])
	}
	return out
}

// TerritoryIDsForOwner returns the ids held by owner in grant order.
func (a *Allocator) TerritoryIDsForOwner(owner OwnerID) []int {
	return slices.Clone(a.owned[owner])
}

// Available returns the number of free territories.
func (a *Allocator) Available() int {
	return len(a.free)
}

// Total returns the number of territories.
func (a *Allocator) Total() int {
	return len(a.territories)
}

// TerritorySize returns the size of every territory.
func (a *Allocator) TerritorySize() int {
	return a.territorySize
}

// Utilization returns the owned fraction of territories in [0, 1].
func (a *Allocator) Utilization() float32 {
	if len(a.territories) == 0 {
		return 0
	}
	used := len(a.territories) - len(a.free)
	return float32(used) / float32(len(a.territories))
}
