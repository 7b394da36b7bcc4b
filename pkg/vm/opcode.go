package vm

import (
	"fmt"
	"strings"
)

// Opcode identifies one of the six arena operations.
type Opcode uint8

const (
	OpActivate Opcode = iota
	OpMutate
	OpReplicate
	OpMove
	OpSense
	OpNoop

	numOpcodes
)

// Instruction costs in resource units.
const (
	CostActivate  = uint32(1)
	CostMutate    = uint32(5)
	CostReplicate = uint32(10)
	CostMove      = uint32(2)
	CostSense     = uint32(1)
	CostNoop      = uint32(0)
)

var opcodeCosts = [numOpcodes]uint32{
	OpActivate:  CostActivate,
	OpMutate:    CostMutate,
	OpReplicate: CostReplicate,
	OpMove:      CostMove,
	OpSense:     CostSense,
	OpNoop:      CostNoop,
}

var opcodeNames = [numOpcodes]string{
	OpActivate:  "activate",
	OpMutate:    "mutate",
	OpReplicate: "replicate",
	OpMove:      "move",
	OpSense:     "sense",
	OpNoop:      "noop",
}

// Valid reports whether op is one of the defined opcodes.
func (op Opcode) Valid() bool {
	return op < numOpcodes
}

// Cost returns the resource cost of executing op.
// Undefined opcodes cost nothing; they are rejected before dispatch.
func (op Opcode) Cost() uint32 {
	if !op.Valid() {
		return 0
	}
	return opcodeCosts[op]
}

// String returns the assembler mnemonic.
func (op Opcode) String() string {
	if !op.Valid() {
		return fmt.Sprintf("opcode(%d)", uint8(op))
	}
	return opcodeNames[op]
}

// ParseOpcode resolves a mnemonic, ignoring case.
func ParseOpcode(s string) (Opcode, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range opcodeNames {
		if n == name {
			return Opcode(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidOpcode, s)
}

// Instruction is a single arena instruction. Addresses index the VM memory
// buffer; Param is only read by Mutate.
type Instruction struct {
	Op    Opcode
	Addr1 uint32
	Addr2 uint32
	Param float32
}

// NewInstruction builds an instruction.
func NewInstruction(op Opcode, addr1, addr2 uint32, param float32) Instruction {
	return Instruction{
		Op:    op,
		Addr1: addr1,
		Addr2: addr2,
		Param: param,
	}
}

// Cost returns the resource cost of the instruction.
func (in Instruction) Cost() uint32 {
	return in.Op.Cost()
}

// String renders the instruction in assembler syntax.
func (in Instruction) String() string {
	return fmt.Sprintf("%s %d %d %g", in.Op, in.Addr1, in.Addr2, in.Param)
}
