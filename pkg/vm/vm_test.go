package vm

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

// fixedRand always returns the same sample.
type fixedRand float32

func (r fixedRand) Float32() float32 { return float32(r) }

func TestNew(t *testing.T) {
	vm := New(1024, Options{})

	require.Equal(t, 1024, vm.MemorySize())
	require.Equal(t, uint64(0), vm.CycleCount())
	require.Equal(t, DefaultResources, vm.AvailableResources())
	require.True(t, vm.Idle())
}

func TestActivateOnZeroMemory(t *testing.T) {
	vm := New(1024, Options{})

	err := vm.ExecuteInstruction(NewInstruction(OpActivate, 0, 1, 2.0))
	require.NoError(t, err)

	require.Equal(t, uint64(1), vm.CycleCount())
	require.Equal(t, uint32(9999), vm.AvailableResources())

	v, err := vm.ReadMemory(1)
	require.NoError(t, err)
	require.Equal(t, float32(0), v)
}

func TestActivateCurve(t *testing.T) {
	tests := []struct {
		in   float32
		want float64
	}{
		{0, 0},
		{0.5, math.Tanh(0.5)},
		{-0.5, -math.Tanh(0.5)},
		{3, math.Tanh(3)},
		{-40, -1},
	}

	for _, tt := range tests {
		got := activate(tt.in)
		require.InDelta(t, tt.want, float64(got), 1e-6, "activate(%v)", tt.in)
		require.Greater(t, got, float32(-1.0000001))
		require.Less(t, got, float32(1.0000001))
	}
}

func TestActivateReadsSourceCell(t *testing.T) {
	vm := New(16, Options{})
	id, err := vm.AllocateTerritory(0, 4)
	require.NoError(t, err)
	require.NoError(t, vm.WriteTerritoryMemory(id, 0, 1.5))

	require.NoError(t, vm.ExecuteInstruction(NewInstruction(OpActivate, 0, 5, 0)))

	v, err := vm.ReadMemory(5)
	require.NoError(t, err)
	require.InDelta(t, math.Tanh(1.5), float64(v), 1e-6)
}

func TestMutate(t *testing.T) {
	tests := []struct {
		name   string
		sample float32
		source float32
		param  float32
		want   float32
	}{
		{name: "midpoint leaves value", sample: 0.5, source: 0.25, param: 0.4, want: 0.25},
		{name: "low sample subtracts half param", sample: 0, source: 0.25, param: 0.4, want: 0.05},
		{name: "clamped high", sample: 1, source: 0.9, param: 2, want: 1},
		{name: "clamped low", sample: 0, source: -0.9, param: 2, want: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vm := New(8, Options{Rand: fixedRand(tt.sample)})
			id, err := vm.AllocateTerritory(0, 8)
			require.NoError(t, err)
			require.NoError(t, vm.WriteTerritoryMemory(id, 2, tt.source))

			require.NoError(t, vm.ExecuteInstruction(NewInstruction(OpMutate, 2, 3, tt.param)))

			got, err := vm.ReadMemory(3)
			require.NoError(t, err)
			require.InDelta(t, tt.want, got, 1e-6)
			require.Equal(t, DefaultResources-CostMutate, vm.AvailableResources())
		})
	}
}

func TestReplicate(t *testing.T) {
	vm := New(8, Options{})
	id, err := vm.AllocateTerritory(0, 8)
	require.NoError(t, err)
	require.NoError(t, vm.WriteTerritoryMemory(id, 4, 42))

	require.NoError(t, vm.ExecuteInstruction(NewInstruction(OpReplicate, 4, 7, 0)))

	v, err := vm.ReadMemory(7)
	require.NoError(t, err)
	require.Equal(t, float32(42), v)
	require.Equal(t, DefaultResources-CostReplicate, vm.AvailableResources())
}

func TestMoveAndNoop(t *testing.T) {
	vm := New(4, Options{})
	before := vm.StateHash()

	require.NoError(t, vm.ExecuteInstruction(NewInstruction(OpNoop, 0, 0, 0)))
	require.Equal(t, DefaultResources, vm.AvailableResources())
	require.Equal(t, uint64(1), vm.CycleCount())

	require.NoError(t, vm.ExecuteInstruction(NewInstruction(OpMove, 1, 2, 0)))
	require.Equal(t, DefaultResources-CostMove, vm.AvailableResources())
	require.Equal(t, uint64(2), vm.CycleCount())

	for addr := 0; addr < vm.MemorySize(); addr++ {
		v, err := vm.ReadMemory(addr)
		require.NoError(t, err)
		require.Zero(t, v)
	}
	require.NotEqual(t, before, vm.StateHash())
}

func TestSense(t *testing.T) {
	vm := New(2048, Options{Rand: fixedRand(0.75)})

	// Charged after the reading, so sensor 0 sees the full budget.
	require.NoError(t, vm.ExecuteInstruction(NewInstruction(OpSense, SensorResources, 10, 0)))
	v, _ := vm.ReadMemory(10)
	require.Equal(t, float32(1), v)

	require.NoError(t, vm.ExecuteInstruction(NewInstruction(OpSense, SensorMemorySize, 11, 0)))
	v, _ = vm.ReadMemory(11)
	require.Equal(t, float32(2), v)

	require.NoError(t, vm.ExecuteInstruction(NewInstruction(OpSense, 7, 12, 0)))
	v, _ = vm.ReadMemory(12)
	require.Equal(t, float32(0.75), v)

	require.Equal(t, DefaultResources-3*CostSense, vm.AvailableResources())
}

func TestOutOfBounds(t *testing.T) {
	vm := New(10, Options{})

	err := vm.ExecuteInstruction(NewInstruction(OpActivate, 15, 20, 0))
	require.ErrorIs(t, err, ErrOutOfBounds)

	var oob *OutOfBoundsError
	require.True(t, errors.As(err, &oob))
	require.Equal(t, 20, oob.Index)
	require.Equal(t, 10, oob.Size)

	require.Equal(t, uint64(0), vm.CycleCount())
	require.Equal(t, DefaultResources, vm.AvailableResources())
}

func TestOutOfBoundsSingleOperand(t *testing.T) {
	vm := New(10, Options{})

	err := vm.ExecuteInstruction(NewInstruction(OpReplicate, 10, 0, 0))
	var oob *OutOfBoundsError
	require.True(t, errors.As(err, &oob))
	require.Equal(t, 10, oob.Index)
}

func TestInsufficientResources(t *testing.T) {
	vm := New(16, Options{Resources: 12})

	require.NoError(t, vm.ExecuteInstruction(NewInstruction(OpReplicate, 0, 1, 0)))
	require.Equal(t, uint32(2), vm.AvailableResources())
	before := vm.StateHash()

	err := vm.ExecuteInstruction(NewInstruction(OpMutate, 0, 1, 0.5))
	require.ErrorIs(t, err, ErrInsufficientResources)

	var ire *InsufficientResourcesError
	require.True(t, errors.As(err, &ire))
	require.Equal(t, CostMutate, ire.Required)
	require.Equal(t, uint32(2), ire.Available)

	require.Equal(t, before, vm.StateHash())
	require.Equal(t, uint64(1), vm.CycleCount())
}

func TestResourceCheckPrecedesBoundsCheck(t *testing.T) {
	vm := New(4, Options{Resources: 1})

	err := vm.ExecuteInstruction(NewInstruction(OpReplicate, 100, 200, 0))
	require.ErrorIs(t, err, ErrInsufficientResources)
}

func TestInvalidOpcode(t *testing.T) {
	vm := New(4, Options{})

	err := vm.ExecuteInstruction(Instruction{Op: Opcode(42)})
	require.ErrorIs(t, err, ErrInvalidOpcode)
	require.Equal(t, uint64(0), vm.CycleCount())
}

func TestResourcesNeverIncrease(t *testing.T) {
	vm := New(32, Options{Resources: 100})
	program := []Instruction{
		NewInstruction(OpActivate, 0, 1, 0),
		NewInstruction(OpMutate, 1, 2, 0.3),
		NewInstruction(OpReplicate, 2, 3, 0),
		NewInstruction(OpMove, 3, 4, 0),
		NewInstruction(OpSense, 9, 5, 0),
		NewInstruction(OpNoop, 0, 0, 0),
	}

	prev := vm.AvailableResources()
	for i := 0; i < 100; i++ {
		err := vm.ExecuteInstruction(program[i%len(program)])
		if err != nil {
			require.ErrorIs(t, err, ErrInsufficientResources)
			continue
		}
		require.LessOrEqual(t, vm.AvailableResources(), prev)
		prev = vm.AvailableResources()
	}
	require.Less(t, vm.AvailableResources(), uint32(10))
}

func TestLoadProgramReplaces(t *testing.T) {
	vm := New(16, Options{})

	vm.LoadProgram(3, []Instruction{
		NewInstruction(OpNoop, 0, 0, 0),
		NewInstruction(OpNoop, 0, 0, 0),
	})
	require.NoError(t, vm.ExecuteRoundRobinCycle())
	pc, ok := vm.ProgramCounter(3)
	require.True(t, ok)
	require.Equal(t, 1, pc)

	vm.LoadProgram(3, []Instruction{NewInstruction(OpActivate, 0, 1, 0)})
	pc, ok = vm.ProgramCounter(3)
	require.True(t, ok)
	require.Equal(t, 0, pc)
	require.Equal(t, []ProgramID{3}, vm.ProgramIDs())

	_, ok = vm.ProgramCounter(4)
	require.False(t, ok)
}

func TestLoadProgramCopiesText(t *testing.T) {
	vm := New(16, Options{})
	text := []Instruction{NewInstruction(OpNoop, 0, 0, 0)}
	vm.LoadProgram(1, text)

	text[0] = NewInstruction(OpActivate, 99, 99, 0)
	require.NoError(t, vm.ExecuteRoundRobinCycle())
}

func TestRoundRobinCycle(t *testing.T) {
	vm := New(1024, Options{})

	vm.LoadProgram(0, []Instruction{
		NewInstruction(OpActivate, 0, 1, 2.0),
		NewInstruction(OpMutate, 1, 2, 0.1),
	})
	vm.LoadProgram(1, []Instruction{
		NewInstruction(OpReplicate, 0, 1, 2.0),
		NewInstruction(OpActivate, 2, 3, 4.0),
	})

	require.NoError(t, vm.ExecuteRoundRobinCycle())
	require.Equal(t, uint64(2), vm.CycleCount())

	for _, id := range []ProgramID{0, 1} {
		pc, ok := vm.ProgramCounter(id)
		require.True(t, ok)
		require.Equal(t, 1, pc)
	}
	require.False(t, vm.Idle())

	require.NoError(t, vm.ExecuteRoundRobinCycle())
	require.Equal(t, uint64(4), vm.CycleCount())
	require.True(t, vm.Idle())

	// Finished programs stay idle.
	require.NoError(t, vm.ExecuteRoundRobinCycle())
	require.Equal(t, uint64(4), vm.CycleCount())
}

func TestRoundRobinAscendingOrder(t *testing.T) {
	vm := New(16, Options{Rand: fixedRand(0.5)})
	id, err := vm.AllocateTerritory(0, 16)
	require.NoError(t, err)
	require.NoError(t, vm.WriteTerritoryMemory(id, 0, 0.7))

	// Program 2 copies cell 0 to 1; program 9 copies cell 1 to 2. Only
	// ascending order propagates 0.7 to cell 2 within one cycle.
	vm.LoadProgram(9, []Instruction{NewInstruction(OpReplicate, 1, 2, 0)})
	vm.LoadProgram(2, []Instruction{NewInstruction(OpReplicate, 0, 1, 0)})
	require.Equal(t, []ProgramID{2, 9}, vm.ProgramIDs())

	require.NoError(t, vm.ExecuteRoundRobinCycle())

	v, err := vm.ReadMemory(2)
	require.NoError(t, err)
	require.Equal(t, float32(0.7), v)
}

func TestRoundRobinAbortsOnError(t *testing.T) {
	vm := New(8, Options{})

	vm.LoadProgram(1, []Instruction{NewInstruction(OpNoop, 0, 0, 0)})
	vm.LoadProgram(2, []Instruction{NewInstruction(OpActivate, 0, 50, 0)})
	vm.LoadProgram(3, []Instruction{NewInstruction(OpNoop, 0, 0, 0)})

	err := vm.ExecuteRoundRobinCycle()
	require.ErrorIs(t, err, ErrOutOfBounds)
	require.Equal(t, uint64(1), vm.CycleCount())

	pc1, _ := vm.ProgramCounter(1)
	pc2, _ := vm.ProgramCounter(2)
	pc3, _ := vm.ProgramCounter(3)
	require.Equal(t, 1, pc1)
	require.Equal(t, 0, pc2)
	require.Equal(t, 0, pc3)
}

func TestRoundRobinNoPrograms(t *testing.T) {
	vm := New(8, Options{})
	require.NoError(t, vm.ExecuteRoundRobinCycle())
	require.Equal(t, uint64(0), vm.CycleCount())
}

func TestRoundRobinEmptyProgram(t *testing.T) {
	vm := New(8, Options{})
	vm.LoadProgram(1, nil)
	require.True(t, vm.Idle())
	require.NoError(t, vm.ExecuteRoundRobinCycle())
	require.Equal(t, uint64(0), vm.CycleCount())
}

func TestReset(t *testing.T) {
	vm := New(32, Options{})
	fresh := vm.StateHash()

	id, err := vm.AllocateTerritory(1, 8)
	require.NoError(t, err)
	require.NoError(t, vm.WriteTerritoryMemory(id, 0, 0.5))
	vm.LoadProgram(1, []Instruction{NewInstruction(OpReplicate, 0, 9, 0)})
	require.NoError(t, vm.ExecuteRoundRobinCycle())
	require.NotEqual(t, fresh, vm.StateHash())

	vm.Reset()

	require.Equal(t, fresh, vm.StateHash())
	require.Equal(t, DefaultResources, vm.AvailableResources())
	require.Empty(t, vm.ProgramIDs())
	require.False(t, vm.HasTerritory(id))
	require.Equal(t, 0, vm.AllocatedMemory())
	require.Zero(t, vm.Meter().Consumed())
}

func TestStateHashDeterministic(t *testing.T) {
	run := func() *VirtualMachine {
		vm := New(64, Options{})
		vm.LoadProgram(0, []Instruction{
			NewInstruction(OpSense, 5, 0, 0),
			NewInstruction(OpMutate, 0, 1, 0.8),
			NewInstruction(OpActivate, 1, 2, 0),
		})
		for !vm.Idle() {
			require.NoError(t, vm.ExecuteRoundRobinCycle())
		}
		return vm
	}

	require.Equal(t, run().StateHash(), run().StateHash())
}

func TestReadMemoryBounds(t *testing.T) {
	vm := New(4, Options{})

	_, err := vm.ReadMemory(4)
	require.ErrorIs(t, err, ErrOutOfBounds)
	_, err = vm.ReadMemory(-1)
	require.ErrorIs(t, err, ErrOutOfBounds)
}

func TestErrorKind(t *testing.T) {
	require.Equal(t, "none", ErrorKind(nil))
	require.Equal(t, "out_of_bounds", ErrorKind(&OutOfBoundsError{}))
	require.Equal(t, "insufficient_resources", ErrorKind(&InsufficientResourcesError{}))
	require.Equal(t, "territory_bounds", ErrorKind(&TerritoryBoundsError{}))
	require.Equal(t, "other", ErrorKind(errors.New("boom")))
}
