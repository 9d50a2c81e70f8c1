package reshook

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

// maxStolen bounds how many prologue bytes are read for analysis.
const maxStolen = 32

type info struct {
	length      int
	relocatable bool
}

// ensureLength decodes whole instructions from src until at least size bytes
// are covered. Instructions addressing relative to their own position make
// the result non-relocatable.
func ensureLength(src []byte, size, mode int) (info, error) {
	var inf info
	inf.relocatable = true
	for inf.length < size {
		if inf.length >= len(src) {
			return inf, fmt.Errorf("decode prologue: %w", ErrShortFunction)
		}
		i, err := analysis(src[inf.length:], mode)
		if err != nil {
			return inf, err
		}
		inf.relocatable = inf.relocatable && i.relocatable
		inf.length += i.length
	}
	return inf, nil
}

func analysis(src []byte, mode int) (inf info, err error) {
	inst, err := x86asm.Decode(src, mode)
	if err != nil {
		return inf, fmt.Errorf("decode prologue: %w", err)
	}
	switch inst.Op {
	case x86asm.RET, x86asm.LRET, x86asm.INT:
		return inf, ErrShortFunction
	}
	// int3 decodes as INT 3 on some versions and as a dedicated opcode on others
	if len(src) > 0 && src[0] == 0xCC {
		return inf, ErrShortFunction
	}
	inf.length = inst.Len
	inf.relocatable = true
	for _, a := range inst.Args {
		if a == nil {
			break
		}
		if mem, ok := a.(x86asm.Mem); ok {
			if mem.Base == x86asm.RIP {
				inf.relocatable = false
				return
			}
		} else if _, ok := a.(x86asm.Rel); ok {
			inf.relocatable = false
			return
		}
	}
	return
}
