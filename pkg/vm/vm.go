// Package vm implements the arena bytecode virtual machine.
//
// The VM owns a flat float32 memory buffer and a single resource budget
// shared by every loaded program. Programs are stepped round-robin, one
// instruction per program per cycle, in ascending program id order.
//
// Memory may additionally be carved into territories: bump-allocated,
// ownership-tagged sub-ranges used as private scratch space by callers.
package vm

import (
	"encoding/binary"
	"math"
	"math/rand/v2"
	"slices"

	"golang.org/x/crypto/sha3"

	"github.com/fortiblox/X1-Arena/internal/types"
)

// Sensor selectors understood by Sense (Addr1).
const (
	SensorResources  = 0
	SensorMemorySize = 1
)

// Scales applied to sensor readings.
const (
	resourceSensorScale = 10000.0
	memorySensorScale   = 1024.0
)

// DefaultSeed seeds the random source when Options.Rand is nil.
const DefaultSeed = 0x5eed

// Rand is the random source used by Mutate and Sense.
// *rand.Rand from math/rand and math/rand/v2 both satisfy it.
type Rand interface {
	Float32() float32
}

// ProgramID identifies a loaded program.
type ProgramID uint32

// Options configures a VirtualMachine.
type Options struct {
	// Resources is the starting budget. Zero selects DefaultResources.
	Resources uint32

	// Rand is the random source. Nil selects a PCG generator seeded with
	// DefaultSeed, so two default VMs behave identically.
	Rand Rand
}

type program struct {
	text []Instruction
	pc   int
}

// VirtualMachine executes arena programs over a bounded memory buffer.
// It is not safe for concurrent use.
type VirtualMachine struct {
	memory     []float32
	cycleCount uint64
	meter      *ResourceMeter
	rng        Rand

	programs map[ProgramID]*program
	order    []ProgramID // ascending

	territories     map[TerritoryID]territory
	nextTerritoryID TerritoryID
	allocatedMemory int
}

// New creates a VM with memorySize zeroed cells.
func New(memorySize int, opts Options) *VirtualMachine {
	if memorySize < 0 {
		memorySize = 0
	}
	resources := opts.Resources
	if resources == 0 {
		resources = DefaultResources
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(DefaultSeed, DefaultSeed))
	}

	return &VirtualMachine{
		memory:      make([]float32, memorySize),
		meter:       NewResourceMeter(resources),
		rng:         rng,
		programs:    make(map[ProgramID]*program),
		territories: make(map[TerritoryID]territory),
	}
}

// MemorySize returns the number of memory cells.
func (vm *VirtualMachine) MemorySize() int {
	return len(vm.memory)
}

// CycleCount returns the number of successfully executed instructions.
func (vm *VirtualMachine) CycleCount() uint64 {
	return vm.cycleCount
}

// AvailableResources returns the unspent budget.
func (vm *VirtualMachine) AvailableResources() uint32 {
	return vm.meter.Remaining()
}

// Meter exposes the resource meter for reporting.
func (vm *VirtualMachine) Meter() *ResourceMeter {
	return vm.meter
}

// ReadMemory returns the value of a memory cell.
func (vm *VirtualMachine) ReadMemory(addr int) (float32, error) {
	if addr < 0 || addr >= len(vm.memory) {
		return 0, &OutOfBoundsError{Index: addr, Size: len(vm.memory)}
	}
	return vm.memory[addr], nil
}

// LoadProgram installs text under id, replacing any previous program with
// that id, and rewinds its program counter to 0.
func (vm *VirtualMachine) LoadProgram(id ProgramID, text []Instruction) {
	if _, ok := vm.programs[id]; !ok {
		i, _ := slices.BinarySearch(vm.order, id)
		vm.order = slices.Insert(vm.order, i, id)
	}
	vm.programs[id] = &program{text: slices.Clone(text)}
}

// ProgramIDs returns the loaded program ids in scheduling order.
func (vm *VirtualMachine) ProgramIDs() []ProgramID {
	return slices.Clone(vm.order)
}

// ProgramCounter returns the next instruction index of a program.
func (vm *VirtualMachine) ProgramCounter(id ProgramID) (int, bool) {
	p, ok := vm.programs[id]
	if !ok {
		return 0, false
	}
	return p.pc, true
}

// Idle reports whether every loaded program has run to completion.
func (vm *VirtualMachine) Idle() bool {
	for _, p := range vm.programs {
		if p.pc < len(p.text) {
			return false
		}
	}
	return true
}

// ExecuteInstruction runs a single instruction against VM memory.
//
// The budget is checked before the addresses, and neither failure changes
// memory, the budget or the cycle count.
func (vm *VirtualMachine) ExecuteInstruction(in Instruction) error {
	if !in.Op.Valid() {
		return ErrInvalidOpcode
	}

	cost := in.Cost()
	if err := vm.meter.Check(cost); err != nil {
		return err
	}

	size := uint64(len(vm.memory))
	if uint64(in.Addr1) >= size || uint64(in.Addr2) >= size {
		return &OutOfBoundsError{
			Index: int(max(in.Addr1, in.Addr2)),
			Size:  len(vm.memory),
		}
	}

	switch in.Op {
	case OpActivate:
		vm.memory[in.Addr2] = activate(vm.memory[in.Addr1])

	case OpMutate:
		offset := (vm.rng.Float32() - 0.5) * in.Param
		vm.memory[in.Addr2] = clamp(vm.memory[in.Addr1]+offset, -1, 1)

	case OpReplicate:
		vm.memory[in.Addr2] = vm.memory[in.Addr1]

	case OpMove:
		// Reserved.

	case OpSense:
		vm.memory[in.Addr2] = vm.sense(in.Addr1)

	case OpNoop:
	}

	if err := vm.meter.Consume(cost); err != nil {
		return err
	}
	vm.cycleCount++
	return nil
}

// ExecuteRoundRobinCycle steps every non-idle program by one instruction,
// visiting programs in ascending id order.
//
// The first failing instruction aborts the cycle: its program counter and
// those of programs not yet visited are left untouched.
func (vm *VirtualMachine) ExecuteRoundRobinCycle() error {
	for _, id := range vm.order {
		p := vm.programs[id]
		if p.pc >= len(p.text) {
			continue
		}
		if err := vm.ExecuteInstruction(p.text[p.pc]); err != nil {
			return err
		}
		p.pc++
	}
	return nil
}

// Reset returns the VM to its freshly constructed state: zeroed memory, a
// full budget and no programs or territories. The random source is kept.
func (vm *VirtualMachine) Reset() {
	clear(vm.memory)
	vm.cycleCount = 0
	vm.meter.Reset()
	vm.programs = make(map[ProgramID]*program)
	vm.order = nil
	vm.territories = make(map[TerritoryID]territory)
	vm.nextTerritoryID = 0
	vm.allocatedMemory = 0
}

// StateHash fingerprints memory and counters with SHA3-256.
func (vm *VirtualMachine) StateHash() types.Hash {
	h := sha3.New256()
	var buf [8]byte
	for _, v := range vm.memory {
		binary.LittleEndian.PutUint32(buf[:4], math.Float32bits(v))
		h.Write(buf[:4])
	}
	binary.LittleEndian.PutUint64(buf[:], vm.cycleCount)
	h.Write(buf[:])
	binary.LittleEndian.PutUint32(buf[:4], vm.meter.Remaining())
	h.Write(buf[:4])
	binary.LittleEndian.PutUint64(buf[:], uint64(vm.allocatedMemory))
	h.Write(buf[:])

	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}

func (vm *VirtualMachine) sense(sensor uint32) float32 {
	switch sensor {
	case SensorResources:
		return float32(vm.meter.Remaining()) / resourceSensorScale
	case SensorMemorySize:
		return float32(len(vm.memory)) / memorySensorScale
	default:
		return vm.rng.Float32()
	}
}

// activate is the saturating activation 2/(1+e^-2x) - 1.
func activate(x float32) float32 {
	return float32(2/(1+math.Exp(-2*float64(x))) - 1)
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
