// Package memory partitions a world-level address space into fixed-size
// territories that agents can own.
//
// This is independent of the territories inside a vm.VirtualMachine: the
// allocator never touches VM memory and its owners are agent ids, not
// program ids.
package memory

// Protection levels run from open to fully guarded.
const (
	ProtectionOpen = uint8(0)
	ProtectionMax  = uint8(3)
)

// OwnerID identifies an agent holding territories.
type OwnerID uint32

// Territory is one fixed-size slot of the partitioned address space.
type Territory struct {
	start           int
	size            int
	owner           OwnerID
	owned           bool
	resourceDensity float32
	protectionLevel uint8
}

// NewTerritory creates an unowned, unprotected territory.
func NewTerritory(start, size int, resourceDensity float32) Territory {
	return Territory{
		start:           start,
		size:            size,
		resourceDensity: resourceDensity,
	}
}

// AllocateTo assigns the territory to owner.
func (t *Territory) AllocateTo(owner OwnerID) error {
	if t.owned {
		return ErrAlreadyOwned
	}
	t.owner = owner
	t.owned = true
	return nil
}

// Release clears ownership and drops protection back to open.
func (t *Territory) Release() {
	t.owner = 0
	t.owned = false
	t.protectionLevel = ProtectionOpen
}

// ContainsAddress reports whether address falls in [start, start+size).
func (t *Territory) ContainsAddress(address int) bool {
	return address >= t.start && address < t.start+t.size
}

// CanAccess reports whether requester may use the territory. Protection
// only bites once it has been raised above ProtectionOpen.
func (t *Territory) CanAccess(requester OwnerID) bool {
	if !t.owned {
		return true
	}
	return t.owner == requester || t.protectionLevel == ProtectionOpen
}

// SetProtectionLevel sets the protection level, capped at ProtectionMax.
func (t *Territory) SetProtectionLevel(level uint8) {
	t.protectionLevel = min(level, ProtectionMax)
}

// Start returns the first address of the territory.
func (t *Territory) Start() int { return t.start }

// End returns one past the last address of the territory.
func (t *Territory) End() int { return t.start + t.size }

// Size returns the number of addresses in the territory.
func (t *Territory) Size() int { return t.size }

// Owner returns the owner and whether the territory is owned.
func (t *Territory) Owner() (OwnerID, bool) { return t.owner, t.owned }

// ResourceDensity returns the density drawn at construction.
func (t *Territory) ResourceDensity() float32 { return t.resourceDensity }

// ProtectionLevel returns the current protection level.
func (t *Territory) ProtectionLevel() uint8 { return t.protectionLevel }
