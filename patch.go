package reshook

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
)

// CodePatcher writes inline jumps into x86 code.
//
// The first instructions of the target are moved into a trampoline that jumps
// back behind them, which keeps the original callable. The target itself only
// ever receives a 5-byte jmp rel32, written with one compare-and-swap of the
// aligned 8-byte word that contains it, so a thread executing the target sees
// either the old or the new prologue and never a mix of both. When the detour
// is out of rel32 range the jump lands on a relay stub allocated near the
// target.
type CodePatcher struct {
	Arch   Arch
	Memory Memory
}

// NewCodePatcher returns a patcher for the running process.
func NewCodePatcher() (*CodePatcher, error) {
	arch, err := NativeArch()
	if err != nil {
		return nil, err
	}
	mem, err := NativeMemory()
	if err != nil {
		return nil, err
	}
	return &CodePatcher{Arch: arch, Memory: mem}, nil
}

// Prepare implements Patcher.
func (p *CodePatcher) Prepare(target, detour uintptr) (Patch, error) {
	if target == 0 || detour == 0 {
		return nil, ErrNullAddress
	}
	word := target &^ 7
	shift := int(target - word)
	if shift+nearJumpSize > 8 {
		return nil, fmt.Errorf("target 0x%X: %w", target, ErrUnalignedTarget)
	}

	head := make([]byte, maxStolen)
	if err := p.Memory.Read(target, head); err != nil {
		return nil, fmt.Errorf("read prologue: %w", err)
	}
	inf, err := ensureLength(head, nearJumpSize, p.Arch.DisassembleMode())
	if err != nil {
		return nil, err
	}
	if !inf.relocatable {
		return nil, ErrRelativeAddr
	}

	cp := &codePatch{mem: p.Memory, target: target, word: word}
	if err := cp.buildTrampoline(p.Arch, head[:inf.length]); err != nil {
		return nil, err
	}
	jmp, ok := p.Arch.NearJump(target, detour)
	if !ok {
		if err := cp.buildRelay(p.Arch, detour); err != nil {
			cp.free()
			return nil, err
		}
		jmp, _ = p.Arch.NearJump(target, cp.relay)
	}

	var cur [8]byte
	if err := p.Memory.Read(word, cur[:]); err != nil {
		cp.free()
		return nil, fmt.Errorf("read patch word: %w", err)
	}
	cp.originalWord = binary.LittleEndian.Uint64(cur[:])
	patched := cur
	copy(patched[shift:], jmp)
	cp.patchedWord = binary.LittleEndian.Uint64(patched[:])
	return cp, nil
}

type codePatch struct {
	mem    Memory
	target uintptr
	word   uintptr

	trampoline uintptr
	trampSize  int
	relay      uintptr
	relaySize  int

	originalWord uint64
	patchedWord  uint64

	mu       sync.Mutex
	released bool
}

func (c *codePatch) buildTrampoline(arch Arch, stolen []byte) error {
	size := len(stolen) + arch.AbsJumpSize()
	addr, err := c.mem.Alloc(0, size)
	if err != nil {
		return fmt.Errorf("allocate trampoline: %w", err)
	}
	code := append(append([]byte{}, stolen...), arch.AbsJump(c.target+uintptr(len(stolen)))...)
	if err := c.mem.Write(addr, code); err != nil {
		c.mem.Free(addr)
		return fmt.Errorf("write trampoline: %w", err)
	}
	if err := c.mem.Seal(addr, size); err != nil {
		c.mem.Free(addr)
		return fmt.Errorf("seal trampoline: %w", err)
	}
	c.mem.FlushInstructionCache(addr, size)
	c.trampoline, c.trampSize = addr, size
	return nil
}

func (c *codePatch) buildRelay(arch Arch, detour uintptr) error {
	size := arch.AbsJumpSize()
	addr, err := c.mem.Alloc(c.target, size)
	if err != nil {
		return fmt.Errorf("allocate relay: %w", err)
	}
	if !reachable(c.target+nearJumpSize, addr) {
		c.mem.Free(addr)
		return fmt.Errorf("relay at 0x%X out of rel32 range of 0x%X", addr, c.target)
	}
	if err := c.mem.Write(addr, arch.AbsJump(detour)); err != nil {
		c.mem.Free(addr)
		return fmt.Errorf("write relay: %w", err)
	}
	if err := c.mem.Seal(addr, size); err != nil {
		c.mem.Free(addr)
		return fmt.Errorf("seal relay: %w", err)
	}
	c.mem.FlushInstructionCache(addr, size)
	c.relay, c.relaySize = addr, size
	return nil
}

func (c *codePatch) Original() uintptr { return c.trampoline }

func (c *codePatch) Apply() error { return c.swap(c.originalWord, c.patchedWord) }

func (c *codePatch) Revert() error { return c.swap(c.patchedWord, c.originalWord) }

func (c *codePatch) swap(from, to uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return ErrHookDisposed
	}
	restore, err := c.mem.Unprotect(c.word, 8)
	if err != nil {
		return fmt.Errorf("unprotect 0x%X: %w", c.word, err)
	}
	swapped, err := c.mem.CompareAndSwapWord(c.word, from, to)
	if rerr := restore(); rerr != nil && err == nil {
		err = fmt.Errorf("reprotect 0x%X: %w", c.word, rerr)
	}
	if err != nil {
		return err
	}
	if !swapped {
		return fmt.Errorf("word 0x%X: %w", c.word, ErrPatchConflict)
	}
	c.mem.FlushInstructionCache(c.word, 8)
	return nil
}

func (c *codePatch) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return nil
	}
	c.released = true
	return c.free()
}

func (c *codePatch) free() error {
	var errs []error
	if c.trampoline != 0 {
		errs = append(errs, c.mem.Free(c.trampoline))
		c.trampoline = 0
	}
	if c.relay != 0 {
		errs = append(errs, c.mem.Free(c.relay))
		c.relay = 0
	}
	return errors.Join(errs...)
}
