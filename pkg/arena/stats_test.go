package arena

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fortiblox/X1-Arena/pkg/vm"
)

func TestSummarize(t *testing.T) {
	mean, sd := summarize(nil)
	require.Zero(t, mean)
	require.Zero(t, sd)

	mean, sd = summarize([]float64{0.4})
	require.Equal(t, 0.4, mean)
	require.Zero(t, sd)

	mean, sd = summarize([]float64{1, 2, 3, 4})
	require.InDelta(t, 2.5, mean, 1e-12)
	require.InDelta(t, math.Sqrt(5.0/3.0), sd, 1e-12)
}

func TestRelocate(t *testing.T) {
	text := []vm.Instruction{
		vm.NewInstruction(vm.OpReplicate, 0, 4, 0),
		vm.NewInstruction(vm.OpSense, vm.SensorMemorySize, 9, 0),
	}
	out := relocate(text, 24)
	require.Equal(t, uint32(24), out[0].Addr1)
	require.Equal(t, uint32(28), out[0].Addr2)
	require.Equal(t, uint32(vm.SensorMemorySize), out[1].Addr1)
	require.Equal(t, uint32(33), out[1].Addr2)

	// The input is untouched.
	require.Equal(t, uint32(0), text[0].Addr1)
}
