package arena

import (
	"slices"
	"sync"

	"github.com/fortiblox/X1-Arena/pkg/loader"
	"github.com/fortiblox/X1-Arena/pkg/memory"
	"github.com/fortiblox/X1-Arena/pkg/vm"
)

// AgentID identifies an agent. It doubles as the agent's VM program id and
// its allocator owner id.
type AgentID uint32

func (id AgentID) program() vm.ProgramID { return vm.ProgramID(id) }

func (id AgentID) owner() memory.OwnerID { return memory.OwnerID(id) }

// Agent is a participant in the arena. Each tick it turns its sensor
// readings into a VM program, and reads its outputs back afterwards.
// Its accessors are safe to call while the arena ticks.
type Agent struct {
	ID AgentID

	// mu is the owning arena's lock.
	mu *sync.Mutex

	sensors []float32
	outputs []float32

	// program replaces the generated program when set. Its addresses are
	// offsets into the agent's scratch territory.
	program *loader.Program

	scratch  vm.TerritoryID
	world    int
	hasWorld bool
}

// Sensors returns a copy of the agent's current sensor readings.
func (a *Agent) Sensors() []float32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.sensors)
}

// Outputs returns a copy of the outputs produced by the last tick.
func (a *Agent) Outputs() []float32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.outputs)
}

// Program returns the assigned program, or nil when the agent runs the
// generated one.
func (a *Agent) Program() *loader.Program {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.program
}

// Scratch returns the agent's VM scratch territory.
func (a *Agent) Scratch() vm.TerritoryID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scratch
}

// World returns the allocator territory granted to the agent, if any.
func (a *Agent) World() (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.world, a.hasWorld
}

// generate builds the default per-tick program at scratch base address
// base: one Activate per sensor, both Sense readings, and an optional
// in-place Mutate of the gene cell.
func (a *Agent) generate(base uint32, mutate bool, strength float32) []vm.Instruction {
	n := uint32(min(len(a.sensors), MaxSensors))
	text := make([]vm.Instruction, 0, n+3)
	for i := uint32(0); i < n; i++ {
		text = append(text, vm.NewInstruction(vm.OpActivate, base+scratchSensors+i, base+scratchOutputs+i, 0))
	}
	text = append(text,
		vm.NewInstruction(vm.OpSense, vm.SensorResources, base+scratchResources, 0),
		vm.NewInstruction(vm.OpSense, vm.SensorMemorySize, base+scratchMemory, 0),
	)
	if mutate {
		text = append(text, vm.NewInstruction(vm.OpMutate, base+scratchGene, base+scratchGene, strength))
	}
	return text
}

// relocate rebases a scratch-relative program onto base. Sense keeps its
// first operand, which selects a sensor rather than an address.
func relocate(text []vm.Instruction, base uint32) []vm.Instruction {
	out := make([]vm.Instruction, len(text))
	for i, in := range text {
		if in.Op != vm.OpSense {
			in.Addr1 += base
		}
		in.Addr2 += base
		out[i] = in
	}
	return out
}

// checkScratch verifies that every address operand of text fits in a
// scratch territory of the given size.
func checkScratch(text []vm.Instruction, size int) error {
	limit := uint32(size)
	for i, in := range text {
		if (in.Op != vm.OpSense && in.Addr1 >= limit) || in.Addr2 >= limit {
			return &ScratchBoundsError{Index: i, Instruction: in, Size: size}
		}
	}
	return nil
}
