package reshook

import (
	"encoding/binary"
	"fmt"
	"math"
	"runtime"
)

const (
	opNearJmp = 0xE9 // jmp rel32
	opPush    = 0x68 // push imm32
	opRet     = 0xC3 // ret
)

// nearJumpSize is the length of the jmp rel32 written over a target.
const nearJumpSize = 5

// Arch encodes the jumps used by the patch engine.
type Arch interface {
	// DisassembleMode is the x86asm decoding mode, 32 or 64.
	DisassembleMode() int
	// NearJump encodes jmp rel32 at from to to, ok is false when out of range.
	NearJump(from, to uintptr) (asm []byte, ok bool)
	// AbsJump encodes a position independent jump to to.
	AbsJump(to uintptr) []byte
	// AbsJumpSize is len(AbsJump(x)).
	AbsJumpSize() int
}

// ArchAMD64 is the x86-64 encoder.
type ArchAMD64 struct{}

func (ArchAMD64) DisassembleMode() int { return 64 }

func (ArchAMD64) NearJump(from, to uintptr) ([]byte, bool) {
	rel := int64(to) - int64(from) - nearJumpSize
	if rel < math.MinInt32 || rel > math.MaxInt32 {
		return nil, false
	}
	asm := make([]byte, nearJumpSize)
	asm[0] = opNearJmp
	binary.LittleEndian.PutUint32(asm[1:], uint32(int32(rel)))
	return asm, true
}

// AbsJump encodes jmp qword ptr [rip+0] followed by the target, no register is clobbered.
func (ArchAMD64) AbsJump(to uintptr) []byte {
	asm := make([]byte, 14)
	asm[0], asm[1] = 0xFF, 0x25
	binary.LittleEndian.PutUint64(asm[6:], uint64(to))
	return asm
}

func (ArchAMD64) AbsJumpSize() int { return 14 }

// Arch386 is the IA-32 encoder.
type Arch386 struct{}

func (Arch386) DisassembleMode() int { return 32 }

// NearJump always reaches on 32-bit since the displacement wraps.
func (Arch386) NearJump(from, to uintptr) ([]byte, bool) {
	asm := make([]byte, nearJumpSize)
	asm[0] = opNearJmp
	binary.LittleEndian.PutUint32(asm[1:], uint32(to)-uint32(from)-nearJumpSize)
	return asm, true
}

// AbsJump encodes push imm32; ret.
func (Arch386) AbsJump(to uintptr) []byte {
	asm := make([]byte, 6)
	asm[0] = opPush
	binary.LittleEndian.PutUint32(asm[1:], uint32(to))
	asm[5] = opRet
	return asm
}

func (Arch386) AbsJumpSize() int { return 6 }

// NativeArch returns the encoder for the running program.
func NativeArch() (Arch, error) {
	switch runtime.GOARCH {
	case "386":
		return Arch386{}, nil
	case "amd64":
		return ArchAMD64{}, nil
	}
	return nil, fmt.Errorf("unsupported arch: %s", runtime.GOARCH)
}
