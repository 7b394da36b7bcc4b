// Package loader turns arena program text and images into VM instructions.
//
// Programs have two external forms:
// - Assembly: one instruction per line, "<mnemonic> <addr1> <addr2> [param]"
// - Images: a fixed little-endian binary layout, zstd-compressed for storage
//
// Every program is identified by the BLAKE3 digest of its binary encoding,
// so the same instruction stream always maps to the same id.
package loader

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/fortiblox/X1-Arena/internal/types"
	"github.com/fortiblox/X1-Arena/pkg/vm"
)

// Program magic bytes.
var programMagic = []byte{'A', 'R', 'N', 'A'}

// Encoding layout.
const (
	formatVersion   = 1
	headerSize      = 4 + 1 + 4 // magic, version, count
	instructionSize = 1 + 4 + 4 + 4
)

// Maximum sizes.
const (
	MaxInstructions = 1 << 20
	MaxImageSize    = headerSize + MaxInstructions*instructionSize
)

// Loader errors.
var (
	ErrInvalidProgram     = errors.New("invalid program encoding")
	ErrUnsupportedVersion = errors.New("unsupported program version")
	ErrTooLarge           = errors.New("program too large")
	ErrSyntax             = errors.New("syntax error")
	ErrUnknownOpcode      = errors.New("unknown opcode")
)

// Assemble parses assembly text. Blank lines and anything after '#' or ';'
// are ignored; the parameter defaults to 0.
func Assemble(r io.Reader) ([]vm.Instruction, error) {
	var text []vm.Instruction

	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		src := sc.Text()
		if i := strings.IndexAny(src, "#;"); i >= 0 {
			src = src[:i]
		}
		fields := strings.Fields(src)
		if len(fields) == 0 {
			continue
		}

		in, err := parseLine(fields)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(text) >= MaxInstructions {
			return nil, fmt.Errorf("%w: more than %d instructions", ErrTooLarge, MaxInstructions)
		}
		text = append(text, in)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read program: %w", err)
	}
	return text, nil
}

// AssembleString parses assembly held in a string.
func AssembleString(src string) ([]vm.Instruction, error) {
	return Assemble(strings.NewReader(src))
}

func parseLine(fields []string) (vm.Instruction, error) {
	if len(fields) < 3 || len(fields) > 4 {
		return vm.Instruction{}, fmt.Errorf("%w: want 3 or 4 fields, got %d", ErrSyntax, len(fields))
	}

	op, err := vm.ParseOpcode(fields[0])
	if err != nil {
		return vm.Instruction{}, fmt.Errorf("%w: %q", ErrUnknownOpcode, fields[0])
	}
	addr1, err := strconv.ParseUint(fields[1], 0, 32)
	if err != nil {
		return vm.Instruction{}, fmt.Errorf("%w: address %q: %v", ErrSyntax, fields[1], err)
	}
	addr2, err := strconv.ParseUint(fields[2], 0, 32)
	if err != nil {
		return vm.Instruction{}, fmt.Errorf("%w: address %q: %v", ErrSyntax, fields[2], err)
	}

	var param float64
	if len(fields) == 4 {
		param, err = strconv.ParseFloat(fields[3], 32)
		if err != nil {
			return vm.Instruction{}, fmt.Errorf("%w: parameter %q: %v", ErrSyntax, fields[3], err)
		}
	}

	return vm.NewInstruction(op, uint32(addr1), uint32(addr2), float32(param)), nil
}

// Disassemble renders instructions as assembly accepted by Assemble.
func Disassemble(text []vm.Instruction) string {
	var b strings.Builder
	for _, in := range text {
		b.WriteString(in.String())
		b.WriteByte('\n')
	}
	return b.String()
}

// Encode serializes instructions into the binary program layout.
func Encode(text []vm.Instruction) []byte {
	buf := make([]byte, headerSize+len(text)*instructionSize)
	copy(buf, programMagic)
	buf[4] = formatVersion
	binary.LittleEndian.PutUint32(buf[5:9], uint32(len(text)))

	off := headerSize
	for _, in := range text {
		buf[off] = byte(in.Op)
		binary.LittleEndian.PutUint32(buf[off+1:], in.Addr1)
		binary.LittleEndian.PutUint32(buf[off+5:], in.Addr2)
		binary.LittleEndian.PutUint32(buf[off+9:], math.Float32bits(in.Param))
		off += instructionSize
	}
	return buf
}

// Decode parses the binary program layout produced by Encode.
func Decode(data []byte) ([]vm.Instruction, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: too short (%d bytes)", ErrInvalidProgram, len(data))
	}
	if !bytes.Equal(data[:4], programMagic) {
		return nil, fmt.Errorf("%w: bad magic", ErrInvalidProgram)
	}
	if data[4] != formatVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, data[4])
	}

	count := binary.LittleEndian.Uint32(data[5:9])
	if count > MaxInstructions {
		return nil, fmt.Errorf("%w: %d instructions", ErrTooLarge, count)
	}
	if want := headerSize + int(count)*instructionSize; len(data) != want {
		return nil, fmt.Errorf("%w: length %d, want %d", ErrInvalidProgram, len(data), want)
	}

	text := make([]vm.Instruction, count)
	off := headerSize
	for i := range text {
		op := vm.Opcode(data[off])
		if !op.Valid() {
			return nil, fmt.Errorf("%w: instruction %d: %d", ErrUnknownOpcode, i, data[off])
		}
		text[i] = vm.NewInstruction(
			op,
			binary.LittleEndian.Uint32(data[off+1:]),
			binary.LittleEndian.Uint32(data[off+5:]),
			math.Float32frombits(binary.LittleEndian.Uint32(data[off+9:])),
		)
		off += instructionSize
	}
	return text, nil
}

// Digest returns the BLAKE3-256 digest of the program encoding.
func Digest(text []vm.Instruction) types.Hash {
	return blake3.Sum256(Encode(text))
}

// EncodeImage encodes and zstd-compresses a program.
func EncodeImage(text []vm.Instruction) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	defer encoder.Close()
	return encoder.EncodeAll(Encode(text), nil), nil
}

// DecodeImage decompresses and decodes a program image.
func DecodeImage(image []byte) ([]vm.Instruction, error) {
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxImageSize))
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer decoder.Close()

	raw, err := decoder.DecodeAll(image, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress: %v", ErrInvalidProgram, err)
	}
	return Decode(raw)
}

// Program is a named, digest-identified instruction stream.
type Program struct {
	Name   string
	Digest types.Hash
	Text   []vm.Instruction
}

// NewProgram wraps text and computes its digest.
func NewProgram(name string, text []vm.Instruction) *Program {
	return &Program{
		Name:   name,
		Digest: Digest(text),
		Text:   text,
	}
}

// LoadFile assembles a program from r under the given name.
func LoadFile(name string, r io.Reader) (*Program, error) {
	text, err := Assemble(r)
	if err != nil {
		return nil, fmt.Errorf("assemble %s: %w", name, err)
	}
	return NewProgram(name, text), nil
}
