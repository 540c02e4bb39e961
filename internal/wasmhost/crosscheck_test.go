package wasmhost

import (
	"testing"

	"git.vmwall.dev/vmwall/internal/vmops"
)

// fixtureManifest is a minimal vmops.Manifest fixture, separate from
// internal/bytecode, so randomAdmissibleOps can be exercised without a
// compiled WASM artifact (CrossCheck itself needs a live Runner and is
// left to integration testing against a real build).
type fixtureManifest struct {
	opcodeAction map[byte]int
	vm, vmInv    [256]byte
}

func newFixtureManifest() *fixtureManifest {
	m := &fixtureManifest{opcodeAction: map[byte]int{}}
	for i := 0; i < vmops.NumActions; i++ {
		m.opcodeAction[byte(i)] = i
	}
	for i := 0; i < 256; i++ {
		m.vm[i] = byte(i)
		m.vmInv[i] = byte(i)
	}
	return m
}

func (m *fixtureManifest) ActionFor(op byte) (int, bool) {
	idx, ok := m.opcodeAction[op]
	return idx, ok
}

func (m *fixtureManifest) SBox() (*[256]byte, *[256]byte) {
	return &m.vm, &m.vmInv
}

func TestRandomAdmissibleOpsExcludesFallibleActions(t *testing.T) {
	m := newFixtureManifest()
	for round := 0; round < 50; round++ {
		ops, input, err := randomAdmissibleOps(m)
		if err != nil {
			t.Fatal(err)
		}
		if len(input) == 0 {
			t.Fatal("expected non-empty sample input")
		}
		for _, op := range ops {
			idx, ok := m.ActionFor(op.Op)
			if !ok {
				t.Fatalf("sampled an unassigned opcode %d", op.Op)
			}
			if idx == vmops.ActionToHex || idx == vmops.ActionFromHex || idx == vmops.ActionChaChaDecrypt {
				t.Fatalf("sampled excluded action %d", idx)
			}
		}
	}
}

func TestRandomAdmissibleOpsNoAdmissibleOpcodes(t *testing.T) {
	m := &fixtureManifest{opcodeAction: map[byte]int{
		0: vmops.ActionToHex,
		1: vmops.ActionFromHex,
		2: vmops.ActionChaChaDecrypt,
	}}
	if _, _, err := randomAdmissibleOps(m); err == nil {
		t.Fatal("expected an error when every assigned opcode is excluded")
	}
}
