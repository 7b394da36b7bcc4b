// Package ledger provides persistent storage for arena run statistics.
//
// The ledger keeps one record per simulation tick: counters read from the
// VM and the territory allocator after the tick, plus a fingerprint of VM
// state. It never stores VM memory or programs, so a ledger cannot be used
// to resume a run; it exists to compare and audit runs.
//
// The ledger uses BoltDB with records encoded as canonical CBOR.
package ledger

import (
	"encoding/binary"
	"time"

	"github.com/fortiblox/X1-Arena/internal/types"
)

// TickRecord is the statistics snapshot of one arena tick.
type TickRecord struct {
	// Tick is the global tick number. Records are keyed by it.
	Tick uint64 `cbor:"1,keyasint"`

	// Generation is the generation the tick belongs to.
	Generation uint32 `cbor:"2,keyasint"`

	// Agents is the number of agents that ran a program this tick.
	Agents int `cbor:"3,keyasint"`

	// CycleCount is the VM cycle count after the tick.
	CycleCount uint64 `cbor:"4,keyasint"`

	// Instructions is the number of instructions executed during the tick.
	Instructions uint64 `cbor:"5,keyasint"`

	// AvailableResources is the VM budget left after the tick.
	AvailableResources uint32 `cbor:"6,keyasint"`

	// Efficiency is AvailableResources scaled to the starting budget.
	Efficiency float32 `cbor:"7,keyasint"`

	// Utilization is the territory allocator utilization.
	Utilization float32 `cbor:"8,keyasint"`

	// Grants is the number of territories granted during the tick.
	Grants int `cbor:"9,keyasint"`

	// Error is the kind of VM error that ended the tick early, if any.
	Error string `cbor:"10,keyasint,omitempty"`

	// OutputMean and OutputStdDev summarise agent outputs.
	OutputMean   float64 `cbor:"11,keyasint"`
	OutputStdDev float64 `cbor:"12,keyasint"`

	// StateHash fingerprints VM state after the tick.
	StateHash types.Hash `cbor:"13,keyasint"`

	// Time is when the tick completed, in Unix nanoseconds.
	Time int64 `cbor:"14,keyasint"`
}

// Timestamp returns Time as a time.Time.
func (r *TickRecord) Timestamp() time.Time {
	return time.Unix(0, r.Time)
}

// Stats contains ledger statistics.
type Stats struct {
	// FirstTick is the oldest tick still retained.
	FirstTick uint64

	// LatestTick is the most recent tick stored.
	LatestTick uint64

	// RecordCount is the number of records stored.
	RecordCount uint64

	// DatabaseSize is the size of the database file in bytes.
	DatabaseSize int64
}

// tickKey encodes a tick big-endian so BoltDB orders keys numerically.
func tickKey(tick uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, tick)
	return key
}

func decodeTickKey(key []byte) uint64 {
	return binary.BigEndian.Uint64(key)
}
