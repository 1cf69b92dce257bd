package loader

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xtensa-gdbstub/target"
)

// buildMinimalELF32 writes a minimal valid little-endian ELF32 image with
// a single PT_LOAD program header covering payload, to vaddr. No section
// headers are emitted; the loader only reads program headers (spec §6).
func buildMinimalELF32(t *testing.T, vaddr uint32, payload []byte) string {
	t.Helper()

	const ehsize = 52
	const phentsize = 32
	phoff := uint32(ehsize)
	dataOff := phoff + phentsize

	var buf bytes.Buffer

	ident := [16]byte{0x7f, 'E', 'L', 'F', 1 /* ELFCLASS32 */, 1 /* ELFDATA2LSB */, 1 /* EV_CURRENT */}
	buf.Write(ident[:])
	binary.Write(&buf, binary.LittleEndian, uint16(2))       // e_type = ET_EXEC
	binary.Write(&buf, binary.LittleEndian, uint16(94))      // e_machine (Xtensa-ish placeholder)
	binary.Write(&buf, binary.LittleEndian, uint32(1))       // e_version
	binary.Write(&buf, binary.LittleEndian, vaddr)           // e_entry
	binary.Write(&buf, binary.LittleEndian, phoff)           // e_phoff
	binary.Write(&buf, binary.LittleEndian, uint32(0))       // e_shoff
	binary.Write(&buf, binary.LittleEndian, uint32(0))       // e_flags
	binary.Write(&buf, binary.LittleEndian, uint16(ehsize))  // e_ehsize
	binary.Write(&buf, binary.LittleEndian, uint16(phentsize))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // e_phnum
	binary.Write(&buf, binary.LittleEndian, uint16(0)) // e_shentsize
	binary.Write(&buf, binary.LittleEndian, uint16(0)) // e_shnum
	binary.Write(&buf, binary.LittleEndian, uint16(0)) // e_shstrndx
	require.Equal(t, ehsize, buf.Len())

	binary.Write(&buf, binary.LittleEndian, uint32(1))             // p_type = PT_LOAD
	binary.Write(&buf, binary.LittleEndian, dataOff)                // p_offset
	binary.Write(&buf, binary.LittleEndian, vaddr)                  // p_vaddr
	binary.Write(&buf, binary.LittleEndian, vaddr)                  // p_paddr
	binary.Write(&buf, binary.LittleEndian, uint32(len(payload)))   // p_filesz
	binary.Write(&buf, binary.LittleEndian, uint32(len(payload)))   // p_memsz
	binary.Write(&buf, binary.LittleEndian, uint32(5))              // p_flags (R+X)
	binary.Write(&buf, binary.LittleEndian, uint32(4))              // p_align
	require.Equal(t, int(dataOff), buf.Len())

	buf.Write(payload)

	path := filepath.Join(t.TempDir(), "firmware.elf")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestLoadELFAddsRegion(t *testing.T) {
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	path := buildMinimalELF32(t, 0x40000000, payload)

	state := target.NewDebugState()
	require.NoError(t, LoadELF(state, path))

	regions := state.Memory.Regions()
	require.Len(t, regions, 2) // RAM + the one ELF segment

	seg := regions[1]
	assert.Equal(t, uint32(0x40000000), seg.Base)
	assert.Equal(t, uint32(len(payload)), seg.Size)
	assert.Equal(t, payload, seg.Data)

	got, err := state.Memory.ReadAt(0x40000000, 4)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestLoadELFSkipsZeroVaddrSegments(t *testing.T) {
	path := buildMinimalELF32(t, 0, []byte{1, 2, 3})

	state := target.NewDebugState()
	require.NoError(t, LoadELF(state, path))

	assert.Len(t, state.Memory.Regions(), 1) // RAM only
}
