package arena

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/fortiblox/X1-Arena/pkg/vm"
)

// Scratch territory layout, as offsets from the territory start.
const (
	scratchSensors   = 0 // MaxSensors cells
	scratchOutputs   = 4 // MaxSensors cells
	scratchResources = 8
	scratchMemory    = 9
	scratchGene      = 10

	// MaxSensors is the number of sensor readings an agent feeds the VM
	// each tick. Further readings are ignored.
	MaxSensors = 4

	// MinScratchSize is the smallest scratch territory that fits the layout.
	MinScratchSize = 11
)

// ErrInvalidConfig is returned for configurations that cannot run.
var ErrInvalidConfig = errors.New("invalid arena config")

// Config holds simulation configuration. Field names double as TOML keys.
type Config struct {
	// MemorySize is the VM memory size and the allocator address space.
	MemorySize int `toml:"memory_size"`

	// TerritorySize is the allocator slot size.
	TerritorySize int `toml:"territory_size"`

	// Agents is the number of agents the CLI seeds the arena with.
	Agents int `toml:"agents"`

	// ScratchSize is the VM territory size reserved per agent.
	ScratchSize int `toml:"scratch_size"`

	// Ticks is the default run length.
	Ticks uint64 `toml:"ticks"`

	// MaxCyclesPerTick bounds round-robin cycles per tick. Zero runs
	// until every program is idle.
	MaxCyclesPerTick int `toml:"max_cycles_per_tick"`

	// GrantProbability is the per-tick chance that an agent without a
	// world territory is granted one.
	GrantProbability float32 `toml:"grant_probability"`

	// MutationProbability is the per-tick chance that an agent's program
	// carries a Mutate instruction.
	MutationProbability float32 `toml:"mutation_probability"`

	// MutationStrength is the Param of generated Mutate instructions.
	MutationStrength float32 `toml:"mutation_strength"`

	// Seed seeds every random source in the arena.
	Seed uint64 `toml:"seed"`

	// InitialResources is the VM budget at the start of each generation.
	InitialResources uint32 `toml:"initial_resources"`

	// TicksPerGeneration is the generation length. Zero disables
	// generations: the budget is never refreshed.
	TicksPerGeneration uint64 `toml:"ticks_per_generation"`
}

// DefaultConfig returns the default simulation configuration.
func DefaultConfig() Config {
	return Config{
		MemorySize:          2048,
		TerritorySize:       64,
		Agents:              16,
		ScratchSize:         16,
		Ticks:               100,
		GrantProbability:    0.1,
		MutationProbability: 0.01,
		MutationStrength:    0.1,
		Seed:                1,
		InitialResources:    vm.DefaultResources,
		TicksPerGeneration:  1000,
	}
}

// LoadConfig reads a TOML file over DefaultConfig and validates the result.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("cannot read %s: %w", path, err)
	}
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return cfg, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return cfg, fmt.Errorf("%w: unknown key %q in %s", ErrInvalidConfig, undecoded[0].String(), path)
	}
	return cfg, cfg.Validate()
}

// Validate checks that the configuration describes a runnable arena.
func (c Config) Validate() error {
	switch {
	case c.MemorySize <= 0:
		return fmt.Errorf("%w: memory_size must be positive", ErrInvalidConfig)
	case c.TerritorySize <= 0:
		return fmt.Errorf("%w: territory_size must be positive", ErrInvalidConfig)
	case c.Agents < 0:
		return fmt.Errorf("%w: agents must not be negative", ErrInvalidConfig)
	case c.ScratchSize < MinScratchSize:
		return fmt.Errorf("%w: scratch_size must be at least %d", ErrInvalidConfig, MinScratchSize)
	case c.MaxCyclesPerTick < 0:
		return fmt.Errorf("%w: max_cycles_per_tick must not be negative", ErrInvalidConfig)
	case c.InitialResources == 0:
		return fmt.Errorf("%w: initial_resources must be positive", ErrInvalidConfig)
	case c.GrantProbability < 0 || c.GrantProbability > 1:
		return fmt.Errorf("%w: grant_probability must be within [0, 1]", ErrInvalidConfig)
	case c.MutationProbability < 0 || c.MutationProbability > 1:
		return fmt.Errorf("%w: mutation_probability must be within [0, 1]", ErrInvalidConfig)
	case c.Agents*c.ScratchSize > c.MemorySize:
		return fmt.Errorf("%w: %d agents of %d scratch cells exceed memory_size %d",
			ErrInvalidConfig, c.Agents, c.ScratchSize, c.MemorySize)
	}
	return nil
}
