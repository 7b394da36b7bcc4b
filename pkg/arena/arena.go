// Package arena drives a population of agents against a shared VM.
//
// Every tick, each agent's sensor readings are written into its private VM
// scratch territory and translated into a short program. All programs are
// then stepped round-robin until they finish, the cycle limit is reached or
// the VM budget runs out. Outputs are read back, world territories are
// granted from the allocator, and the tick is summarised into TickStats,
// exported as Prometheus metrics and optionally recorded to a ledger.
//
// Generations bound the VM budget: at each generation boundary the VM is
// reset to a full budget, scratch territories are reallocated and world
// territories are returned to the allocator.
package arena

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/fortiblox/X1-Arena/pkg/ledger"
	"github.com/fortiblox/X1-Arena/pkg/loader"
	"github.com/fortiblox/X1-Arena/pkg/memory"
	"github.com/fortiblox/X1-Arena/pkg/vm"
)

// Errors.
var (
	ErrAgentExists   = errors.New("agent already exists")
	ErrAgentNotFound = errors.New("agent not found")
	ErrNoLibrary     = errors.New("no program library configured")
	ErrScratchBounds = errors.New("program addresses outside scratch territory")
	ErrNoWorld       = errors.New("agent holds no world territory")
)

// ScratchBoundsError reports a program instruction that addresses memory
// beyond the agent's scratch territory.
type ScratchBoundsError struct {
	Index       int
	Instruction vm.Instruction
	Size        int
}

func (e *ScratchBoundsError) Error() string {
	return fmt.Sprintf("instruction %d (%s) outside scratch territory of %d cells",
		e.Index, e.Instruction, e.Size)
}

func (e *ScratchBoundsError) Is(target error) bool {
	return target == ErrScratchBounds
}

// Random source streams, one per consumer, all derived from Config.Seed.
const (
	streamVM uint64 = iota + 1
	streamAllocator
	streamArena
)

// ProgramSource resolves named programs. *library.Store implements it.
type ProgramSource interface {
	GetByName(name string) (*loader.Program, error)
}

// Recorder persists tick records. *ledger.Store implements it.
type Recorder interface {
	Put(rec *ledger.TickRecord) error
}

// Options holds the arena's collaborators. All fields are optional.
type Options struct {
	Logger     *zap.Logger
	Registerer prometheus.Registerer
	Library    ProgramSource
	Ledger     Recorder

	// Now returns the tick completion time. Defaults to time.Now.
	Now func() time.Time
}

// Arena runs agents against a VM and a territory allocator.
type Arena struct {
	mu sync.Mutex

	config    Config
	vm        *vm.VirtualMachine
	allocator *memory.Allocator
	rng       *rand.Rand

	agents map[AgentID]*Agent
	order  []AgentID // ascending

	tick       uint64
	generation uint32

	library ProgramSource
	ledger  Recorder
	metrics *Metrics
	log     *zap.Logger
	now     func() time.Time
}

// New creates an arena with no agents.
func New(config Config, opts Options) (*Arena, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(opts.Registerer)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Arena{
		config: config,
		vm: vm.New(config.MemorySize, vm.Options{
			Resources: config.InitialResources,
			Rand:      rand.New(rand.NewPCG(config.Seed, streamVM)),
		}),
		allocator: memory.NewAllocator(config.MemorySize, config.TerritorySize,
			rand.New(rand.NewPCG(config.Seed, streamAllocator))),
		rng:     rand.New(rand.NewPCG(config.Seed, streamArena)),
		agents:  make(map[AgentID]*Agent),
		library: opts.Library,
		ledger:  opts.Ledger,
		metrics: metrics,
		log:     log,
		now:     now,
	}, nil
}

// Config returns the arena configuration.
func (a *Arena) Config() Config {
	return a.config
}

// VM returns the arena's virtual machine. Callers must not use it
// concurrently with Tick.
func (a *Arena) VM() *vm.VirtualMachine {
	return a.vm
}

// Allocator returns the arena's territory allocator. Callers must not use
// it concurrently with Tick.
func (a *Arena) Allocator() *memory.Allocator {
	return a.allocator
}

// TickCount returns the number of completed ticks.
func (a *Arena) TickCount() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tick
}

// Generation returns the current generation, starting at 0.
func (a *Arena) Generation() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.generation
}

// AddAgent registers an agent and reserves its scratch territory.
func (a *Arena) AddAgent(id AgentID, sensors []float32) (*Agent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.agents[id]; ok {
		return nil, fmt.Errorf("%w: %d", ErrAgentExists, id)
	}

	scratch, err := a.vm.AllocateTerritory(id.program(), a.config.ScratchSize)
	if err != nil {
		return nil, fmt.Errorf("agent %d scratch: %w", id, err)
	}

	ag := &Agent{
		ID:      id,
		mu:      &a.mu,
		sensors: slices.Clone(sensors),
		scratch: scratch,
	}
	a.agents[id] = ag
	i, _ := slices.BinarySearch(a.order, id)
	a.order = slices.Insert(a.order, i, id)

	a.metrics.agents.Set(float64(len(a.order)))
	a.log.Debug("agent added",
		zap.Uint32("agent", uint32(id)),
		zap.Uint32("scratch", uint32(scratch)),
	)
	return ag, nil
}

// Agent returns an agent by id.
func (a *Arena) Agent(id AgentID) (*Agent, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ag, ok := a.agents[id]
	return ag, ok
}

// Agents returns all agents in ascending id order.
func (a *Arena) Agents() []*Agent {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*Agent, len(a.order))
	for i, id := range a.order {
		out[i] = a.agents[id]
	}
	return out
}

// SetSensors replaces an agent's sensor readings for subsequent ticks.
func (a *Arena) SetSensors(id AgentID, sensors []float32) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	ag, ok := a.agents[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrAgentNotFound, id)
	}
	ag.sensors = slices.Clone(sensors)
	return nil
}

// AssignProgram makes an agent run prog instead of its generated program.
// Program addresses are scratch offsets and must fit the scratch
// territory. A nil prog restores the generated program.
func (a *Arena) AssignProgram(id AgentID, prog *loader.Program) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	ag, ok := a.agents[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrAgentNotFound, id)
	}
	if prog != nil {
		if err := checkScratch(prog.Text, a.config.ScratchSize); err != nil {
			return fmt.Errorf("program %s: %w", prog.Name, err)
		}
	}
	ag.program = prog
	return nil
}

// AssignProgramByName resolves name in the library and assigns it.
func (a *Arena) AssignProgramByName(id AgentID, name string) error {
	if a.library == nil {
		return ErrNoLibrary
	}
	prog, err := a.library.GetByName(name)
	if err != nil {
		return err
	}
	return a.AssignProgram(id, prog)
}

// Tick advances the arena by one tick.
func (a *Arena) Tick(ctx context.Context) (*TickStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	next := a.tick + 1
	if tpg := a.config.TicksPerGeneration; tpg > 0 && next > 1 && (next-1)%tpg == 0 {
		if err := a.nextGeneration(); err != nil {
			return nil, fmt.Errorf("tick %d: %w", next, err)
		}
	}

	if err := a.loadPrograms(); err != nil {
		return nil, fmt.Errorf("tick %d: %w", next, err)
	}

	stats := &TickStats{
		Tick:       next,
		Generation: a.generation,
		Agents:     len(a.order),
	}

	startCycles := a.vm.CycleCount()
	if err := a.runPrograms(); err != nil {
		kind := vm.ErrorKind(err)
		a.metrics.instructionErrors.WithLabelValues(kind).Inc()
		if !errors.Is(err, vm.ErrInsufficientResources) {
			return nil, fmt.Errorf("tick %d: %w", next, err)
		}
		stats.Error = kind
		a.log.Debug("tick ended early",
			zap.Uint64("tick", next),
			zap.Error(err),
		)
	}
	stats.Instructions = a.vm.CycleCount() - startCycles

	outputs, err := a.collectOutputs()
	if err != nil {
		return nil, fmt.Errorf("tick %d: %w", next, err)
	}

	grants, err := a.grantTerritories()
	if err != nil {
		return nil, fmt.Errorf("tick %d: %w", next, err)
	}

	a.tick = next

	stats.Grants = grants
	stats.CycleCount = a.vm.CycleCount()
	stats.AvailableResources = a.vm.AvailableResources()
	if limit := a.vm.Meter().Limit(); limit > 0 {
		stats.Efficiency = float32(stats.AvailableResources) / float32(limit)
	}
	stats.Utilization = a.allocator.Utilization()
	stats.OutputMean, stats.OutputStdDev = summarize(outputs)
	stats.StateHash = a.vm.StateHash()
	stats.Time = a.now()

	a.metrics.observe(stats)

	if a.ledger != nil {
		if err := a.ledger.Put(stats.Record()); err != nil {
			return stats, fmt.Errorf("record tick %d: %w", next, err)
		}
	}

	a.log.Debug("tick complete",
		zap.Uint64("tick", next),
		zap.Uint32("generation", stats.Generation),
		zap.Uint64("instructions", stats.Instructions),
		zap.Uint32("resources", stats.AvailableResources),
		zap.Int("grants", stats.Grants),
		zap.Stringer("state", stats.StateHash),
	)
	return stats, nil
}

// Run executes ticks ticks, stopping early when ctx is cancelled or a tick
// fails. It returns the stats of the last completed tick, including one
// whose ledger record could not be written.
func (a *Arena) Run(ctx context.Context, ticks uint64) (*TickStats, error) {
	var last *TickStats
	for i := uint64(0); i < ticks; i++ {
		stats, err := a.Tick(ctx)
		if stats != nil {
			last = stats
		}
		if err != nil {
			return last, err
		}
	}
	return last, nil
}

// AccessMap reports, for every allocator territory in id order, whether
// requester may access it.
func (a *Arena) AccessMap(requester AgentID) []bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]bool, a.allocator.Total())
	for id := range out {
		t, _ := a.allocator.Territory(id)
		out[id] = a.allocator.CanAccess(t.Start(), requester.owner())
	}
	return out
}

// ProtectWorld sets the protection level of the agent's world territory.
func (a *Arena) ProtectWorld(id AgentID, level uint8) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	ag, ok := a.agents[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrAgentNotFound, id)
	}
	if !ag.hasWorld {
		return fmt.Errorf("agent %d: %w", id, ErrNoWorld)
	}
	return a.allocator.SetProtectionLevel(ag.world, id.owner(), level)
}

// nextGeneration refreshes the VM budget and redistributes memory.
func (a *Arena) nextGeneration() error {
	a.vm.Reset()
	for _, id := range a.order {
		ag := a.agents[id]
		scratch, err := a.vm.AllocateTerritory(id.program(), a.config.ScratchSize)
		if err != nil {
			return fmt.Errorf("agent %d scratch: %w", id, err)
		}
		ag.scratch = scratch
		ag.outputs = nil
		if ag.hasWorld {
			a.allocator.DeallocateAll(id.owner())
			ag.world, ag.hasWorld = 0, false
		}
	}

	a.generation++
	a.metrics.generations.Inc()
	a.log.Info("new generation",
		zap.Uint32("generation", a.generation),
		zap.Uint64("tick", a.tick+1),
		zap.Int("agents", len(a.order)),
	)
	return nil
}

// loadPrograms writes sensor readings into scratch territories and loads
// each agent's program for this tick.
func (a *Arena) loadPrograms() error {
	for _, id := range a.order {
		ag := a.agents[id]

		n := min(len(ag.sensors), MaxSensors)
		for i := 0; i < n; i++ {
			if err := a.vm.WriteTerritoryMemory(ag.scratch, scratchSensors+i, ag.sensors[i]); err != nil {
				return fmt.Errorf("agent %d sensors: %w", id, err)
			}
		}

		start, err := a.vm.TerritoryStartAddress(ag.scratch)
		if err != nil {
			return fmt.Errorf("agent %d: %w", id, err)
		}
		base := uint32(start)

		var text []vm.Instruction
		if ag.program != nil {
			text = relocate(ag.program.Text, base)
		} else {
			mutate := a.rng.Float32() < a.config.MutationProbability
			text = ag.generate(base, mutate, a.config.MutationStrength)
		}
		a.vm.LoadProgram(id.program(), text)
	}
	return nil
}

// runPrograms steps the VM until every program is idle or the cycle limit
// is reached.
func (a *Arena) runPrograms() error {
	for cycles := 0; !a.vm.Idle(); cycles++ {
		if a.config.MaxCyclesPerTick > 0 && cycles >= a.config.MaxCyclesPerTick {
			return nil
		}
		if err := a.vm.ExecuteRoundRobinCycle(); err != nil {
			return err
		}
	}
	return nil
}

// collectOutputs reads every agent's outputs from its scratch territory.
func (a *Arena) collectOutputs() ([]float64, error) {
	var all []float64
	for _, id := range a.order {
		ag := a.agents[id]
		n := min(len(ag.sensors), MaxSensors)
		ag.outputs = ag.outputs[:0]
		for i := 0; i < n; i++ {
			v, err := a.vm.ReadTerritoryMemory(ag.scratch, scratchOutputs+i)
			if err != nil {
				return nil, fmt.Errorf("agent %d outputs: %w", id, err)
			}
			ag.outputs = append(ag.outputs, v)
			all = append(all, float64(v))
		}
	}
	return all, nil
}

// grantTerritories offers allocator territories to agents without one.
func (a *Arena) grantTerritories() (int, error) {
	grants := 0
	for _, id := range a.order {
		ag := a.agents[id]
		if ag.hasWorld || a.rng.Float32() >= a.config.GrantProbability {
			continue
		}
		world, err := a.allocator.Allocate(id.owner())
		if errors.Is(err, memory.ErrInsufficientMemory) {
			a.log.Debug("no territory to grant", zap.Uint32("agent", uint32(id)))
			continue
		}
		if err != nil {
			return grants, fmt.Errorf("agent %d grant: %w", id, err)
		}
		ag.world, ag.hasWorld = world, true
		grants++
	}
	return grants, nil
}
