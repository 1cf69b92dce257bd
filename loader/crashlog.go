// Package loader populates a target.DebugState from a crash-log text
// dump and, optionally, an ELF program image — the snapshot loader
// external collaborator from spec §1 and §6. Its only contract to the
// rest of the system is to hand back a fully initialized DebugState
// before the dispatch loop starts.
package loader

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"xtensa-gdbstub/target"
)

const (
	regsMarker = "---- begin regs ----"
	coreMarker = "---- begin core ----"
)

// LoadCrashLog reads the textual crash dump at path: a line matching
// regsMarker introduces the register block (pc, ps, sar, vpri (discarded),
// a[0..15], litbase, sr176, sr208 (discarded), each a bare hex number on
// its own token); a line matching coreMarker introduces RAMLEN
// (target.RAMSize) hex byte pairs that overlay the RAM region. It
// returns a DebugState with the RAM region populated and the register
// file set, including the post-load trampoline-frame adjustment from
// spec §6.
func LoadCrashLog(path string) (*target.DebugState, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("loader: open crash log: %w", err)
	}
	defer f.Close()

	state := target.NewDebugState()
	ram := state.Memory.Regions()[0]

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	var tokens *tokenReader
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, regsMarker):
			tokens = newTokenReader(scanner)
			if err := readRegisters(tokens, &state.Regs); err != nil {
				return nil, err
			}
		case strings.HasPrefix(line, coreMarker):
			tokens = newTokenReader(scanner)
			if err := readCore(tokens, ram.Data); err != nil {
				return nil, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("loader: read crash log: %w", err)
	}

	applyTrampolineAdjustment(&state.Regs, ram.Data)
	return state, nil
}

// tokenReader yields whitespace-separated tokens across the remaining
// lines of a bufio.Scanner, mirroring the C loader's use of fscanf's
// free-form whitespace skipping across an already-opened stream.
type tokenReader struct {
	scanner *bufio.Scanner
	fields  []string
	idx     int
}

func newTokenReader(scanner *bufio.Scanner) *tokenReader {
	return &tokenReader{scanner: scanner}
}

func (t *tokenReader) next() (string, error) {
	for t.idx >= len(t.fields) {
		if !t.scanner.Scan() {
			if err := t.scanner.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}
		t.fields = strings.Fields(t.scanner.Text())
		t.idx = 0
	}
	tok := t.fields[t.idx]
	t.idx++
	return tok, nil
}

func (t *tokenReader) nextHex32() (uint32, error) {
	tok, err := t.next()
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(tok, "0x"), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("loader: parse hex register %q: %w", tok, err)
	}
	return uint32(v), nil
}

// readRegisters consumes the order spec §6 names: pc, ps, sar,
// vpri (discarded), a[0..15], litbase, sr176, sr208 (discarded).
func readRegisters(t *tokenReader, r *target.Registers) error {
	var err error
	if r.PC, err = t.nextHex32(); err != nil {
		return err
	}
	if r.PS, err = t.nextHex32(); err != nil {
		return err
	}
	if r.SAR, err = t.nextHex32(); err != nil {
		return err
	}
	if r.VPRI, err = t.nextHex32(); err != nil { // discarded by callers, but still consumed
		return err
	}
	for i := range r.A {
		if r.A[i], err = t.nextHex32(); err != nil {
			return err
		}
	}
	if r.Litbase, err = t.nextHex32(); err != nil {
		return err
	}
	if r.SR176, err = t.nextHex32(); err != nil {
		return err
	}
	if r.SR208, err = t.nextHex32(); err != nil {
		return err
	}
	return nil
}

// readCore consumes RAMLEN hex byte pairs (two hex digits each,
// whitespace-separated or concatenated across lines) into ram.
func readCore(t *tokenReader, ram []byte) error {
	// The dump may pack many byte pairs per line; re-split on a
	// byte-pair boundary rather than assuming one token per byte.
	var pending string
	next := func() (string, error) {
		for len(pending) < 2 {
			tok, err := t.next()
			if err != nil {
				return "", err
			}
			pending += tok
		}
		b := pending[:2]
		pending = pending[2:]
		return b, nil
	}
	for i := 0; i < len(ram); i++ {
		pair, err := next()
		if err != nil {
			return fmt.Errorf("loader: read core byte %d: %w", i, err)
		}
		v, err := strconv.ParseUint(pair, 16, 8)
		if err != nil {
			return fmt.Errorf("loader: parse core byte %d (%q): %w", i, pair, err)
		}
		ram[i] = byte(v)
	}
	return nil
}

// applyTrampolineAdjustment strips the trampoline frame captured by the
// crash dump's preserve_regs call (spec §6): pc is rewritten from the
// 4-byte little-endian word at a[1]+28 in RAM, and a[15] is incremented
// by 0x20. This is opaque to the rest of the system; only the loader
// knows about it.
func applyTrampolineAdjustment(r *target.Registers, ram []byte) {
	off := r.A[1] + 28 - target.RAMBase
	if int(off)+4 <= len(ram) && off < uint32(len(ram)) {
		r.PC = uint32(ram[off]) | uint32(ram[off+1])<<8 | uint32(ram[off+2])<<16 | uint32(ram[off+3])<<24
	}
	r.A[15] += 0x20
}
