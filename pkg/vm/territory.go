package vm

// TerritoryID is a handle to a VM territory. Ids are assigned sequentially
// and never reused.
type TerritoryID uint32

// territory is a bump-allocated sub-range of VM memory.
type territory struct {
	owner ProgramID
	start int
	size  int
}

// AllocateTerritory reserves size cells for owner directly after the
// previously allocated territory. Territories are never freed; once memory
// is exhausted every further allocation fails until Reset.
func (vm *VirtualMachine) AllocateTerritory(owner ProgramID, size int) (TerritoryID, error) {
	available := len(vm.memory) - vm.allocatedMemory
	if size < 0 || size > available {
		return 0, &InsufficientMemoryError{Requested: size, Available: available}
	}

	id := vm.nextTerritoryID
	vm.territories[id] = territory{
		owner: owner,
		start: vm.allocatedMemory,
		size:  size,
	}
	vm.allocatedMemory += size
	vm.nextTerritoryID++
	return id, nil
}

// AllocatedMemory returns the bump cursor: cells handed out to territories.
func (vm *VirtualMachine) AllocatedMemory() int {
	return vm.allocatedMemory
}

// HasTerritory reports whether id names an allocated territory.
func (vm *VirtualMachine) HasTerritory(id TerritoryID) bool {
	_, ok := vm.territories[id]
	return ok
}

// TerritorySize returns the number of cells in a territory.
func (vm *VirtualMachine) TerritorySize(id TerritoryID) (int, error) {
	t, err := vm.territory(id)
	if err != nil {
		return 0, err
	}
	return t.size, nil
}

// TerritoryOwner returns the program that owns a territory.
func (vm *VirtualMachine) TerritoryOwner(id TerritoryID) (ProgramID, error) {
	t, err := vm.territory(id)
	if err != nil {
		return 0, err
	}
	return t.owner, nil
}

// TerritoryStartAddress returns the first memory address of a territory.
func (vm *VirtualMachine) TerritoryStartAddress(id TerritoryID) (int, error) {
	t, err := vm.territory(id)
	if err != nil {
		return 0, err
	}
	return t.start, nil
}

// WriteTerritoryMemory stores value at offset within a territory.
func (vm *VirtualMachine) WriteTerritoryMemory(id TerritoryID, offset int, value float32) error {
	addr, err := vm.territoryAddress(id, offset)
	if err != nil {
		return err
	}
	vm.memory[addr] = value
	return nil
}

// ReadTerritoryMemory loads the value at offset within a territory.
func (vm *VirtualMachine) ReadTerritoryMemory(id TerritoryID, offset int) (float32, error) {
	addr, err := vm.territoryAddress(id, offset)
	if err != nil {
		return 0, err
	}
	return vm.memory[addr], nil
}

// CrossTerritoryAccessDenied reports whether access between two territories
// must be refused. Access is allowed only when both exist and share an owner.
func (vm *VirtualMachine) CrossTerritoryAccessDenied(id1, id2 TerritoryID) bool {
	t1, ok1 := vm.territories[id1]
	t2, ok2 := vm.territories[id2]
	if !ok1 || !ok2 {
		return true
	}
	return t1.owner != t2.owner
}

func (vm *VirtualMachine) territory(id TerritoryID) (territory, error) {
	t, ok := vm.territories[id]
	if !ok {
		return territory{}, &TerritoryNotFoundError{ID: id}
	}
	return t, nil
}

func (vm *VirtualMachine) territoryAddress(id TerritoryID, offset int) (int, error) {
	t, err := vm.territory(id)
	if err != nil {
		return 0, err
	}
	if offset < 0 || offset >= t.size {
		return 0, &TerritoryBoundsError{Offset: offset, Size: t.size}
	}
	return t.start + offset, nil
}
