package arena

import (
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/fortiblox/X1-Arena/internal/types"
	"github.com/fortiblox/X1-Arena/pkg/ledger"
)

// TickStats summarises one tick.
type TickStats struct {
	Tick       uint64
	Generation uint32
	Agents     int

	// CycleCount and AvailableResources are read from the VM after the tick.
	CycleCount         uint64
	AvailableResources uint32

	// Instructions is the number of instructions executed this tick.
	Instructions uint64

	// Efficiency is the share of the generation budget still unspent.
	Efficiency float32

	// Utilization is the allocator utilization after grants.
	Utilization float32
	Grants      int

	// Error is the vm.ErrorKind of the failure that ended the tick early,
	// or empty.
	Error string

	OutputMean   float64
	OutputStdDev float64

	StateHash types.Hash
	Time      time.Time
}

// Record converts the stats into a ledger record.
func (s *TickStats) Record() *ledger.TickRecord {
	return &ledger.TickRecord{
		Tick:               s.Tick,
		Generation:         s.Generation,
		Agents:             s.Agents,
		CycleCount:         s.CycleCount,
		Instructions:       s.Instructions,
		AvailableResources: s.AvailableResources,
		Efficiency:         s.Efficiency,
		Utilization:        s.Utilization,
		Grants:             s.Grants,
		Error:              s.Error,
		OutputMean:         s.OutputMean,
		OutputStdDev:       s.OutputStdDev,
		StateHash:          s.StateHash,
		Time:               s.Time.UnixNano(),
	}
}

// summarize returns the sample mean and standard deviation of outputs.
// Fewer than two samples have no spread.
func summarize(outputs []float64) (mean, stddev float64) {
	switch len(outputs) {
	case 0:
		return 0, 0
	case 1:
		return outputs[0], 0
	}
	return stat.MeanStdDev(outputs, nil)
}
