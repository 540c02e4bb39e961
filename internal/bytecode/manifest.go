// Package bytecode generates and persists the per-build opcode/action
// mapping and S-box pair consumed by internal/vmops and injected into the
// WASM build by internal/wasmgen.
package bytecode

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"git.vmwall.dev/vmwall/internal/vmops"
)

// Manifest is the immutable per-build artifact: which opcode byte triggers
// which of the 19 canonical actions, and the two S-boxes used by actions
// 0/1 (vm_apply / vm_apply_inv).
type Manifest struct {
	OpcodeAction [256]int
	VM           [256]byte
	VMInv        [256]byte
}

// ActionFor and SBox satisfy vmops.Manifest.
func (m *Manifest) ActionFor(op byte) (int, bool) {
	idx := m.OpcodeAction[op]
	if idx == vmops.Unassigned {
		return 0, false
	}
	return idx, true
}

func (m *Manifest) SBox() (*[256]byte, *[256]byte) {
	return &m.VM, &m.VMInv
}

// Bytecodes returns the hex("0x%02x")->action name mapping for the 19
// assigned opcodes, matching the bytecodes.json "bytecodes" field.
func (m *Manifest) Bytecodes() map[string]string {
	out := make(map[string]string, vmops.NumActions)
	for op := 0; op < 256; op++ {
		idx := m.OpcodeAction[op]
		if idx == vmops.Unassigned {
			continue
		}
		out[fmt.Sprintf("0x%02x", op)] = vmops.ActionNames[idx]
	}
	return out
}

// Generate produces a fresh Manifest: a CSPRNG Fisher-Yates shuffle of
// 0..=255 whose first 19 entries become the chosen opcodes (assigned to
// action names in their canonical fixed order), and a second, independent
// shuffle for vm (with vm_inv computed as its inverse permutation).
func Generate() (*Manifest, error) {
	perm, err := shuffledPermutation()
	if err != nil {
		return nil, fmt.Errorf("bytecode: generating opcode permutation: %w", err)
	}

	m := &Manifest{}
	for i := range m.OpcodeAction {
		m.OpcodeAction[i] = vmops.Unassigned
	}
	for i := 0; i < vmops.NumActions; i++ {
		m.OpcodeAction[perm[i]] = i
	}

	vmPerm, err := shuffledPermutation()
	if err != nil {
		return nil, fmt.Errorf("bytecode: generating S-box: %w", err)
	}
	copy(m.VM[:], vmPerm[:])
	inv := vmops.InvertSBox(&m.VM)
	m.VMInv = *inv

	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// validate checks the invariants Generate is supposed to guarantee by
// construction. A violation here means the shuffle/assignment logic above
// is broken, not that the input was bad, so callers should treat it as
// fatal.
func (m *Manifest) validate() error {
	seen := make(map[int]bool, vmops.NumActions)
	assignedCount := 0
	for op := 0; op < 256; op++ {
		idx := m.OpcodeAction[op]
		if idx == vmops.Unassigned {
			continue
		}
		if idx < 0 || idx >= vmops.NumActions {
			return fmt.Errorf("bytecode: opcode 0x%02x maps to out-of-range action %d", op, idx)
		}
		if seen[idx] {
			return fmt.Errorf("bytecode: action %d assigned to more than one opcode", idx)
		}
		seen[idx] = true
		assignedCount++
	}
	if assignedCount != vmops.NumActions {
		return fmt.Errorf("bytecode: expected %d assigned opcodes, got %d", vmops.NumActions, assignedCount)
	}
	for i := 0; i < 256; i++ {
		if m.VMInv[m.VM[i]] != byte(i) {
			return fmt.Errorf("bytecode: vm_inv is not the inverse of vm at index %d", i)
		}
	}
	return nil
}

// shuffledPermutation performs a Fisher-Yates shuffle of 0..=255 using a
// CSPRNG, drawing 32-bit words and rejecting values >= floor(2^32/n)*n at
// each step to avoid modulo bias.
func shuffledPermutation() ([256]byte, error) {
	var out [256]byte
	for i := range out {
		out[i] = byte(i)
	}
	for i := 255; i > 0; i-- {
		n := uint32(i + 1)
		j, err := randUint32Below(n)
		if err != nil {
			return out, err
		}
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// randUint32Below draws a uniformly distributed value in [0, n) from
// crypto/rand, rejecting draws that would introduce modulo bias.
func randUint32Below(n uint32) (uint32, error) {
	if n == 0 {
		return 0, fmt.Errorf("bytecode: randUint32Below(0)")
	}
	limit := (^uint32(0) / n) * n
	var buf [4]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, err
		}
		v := binary.BigEndian.Uint32(buf[:])
		if v < limit {
			return v % n, nil
		}
	}
}
