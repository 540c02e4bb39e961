package wasmhost

import (
	"bytes"
	"crypto/rand"
	"fmt"

	"git.vmwall.dev/vmwall/internal/vmops"
)

// Manifest is the subset of bytecode.Manifest CrossCheck needs; declared
// here (rather than importing internal/bytecode) to keep wasmhost from
// depending on the generator, mirroring vmops.Manifest's own
// structural-typing seam.
type Manifest interface {
	vmops.Manifest
}

// CrossCheck verifies that the compiled module and the manifest it was
// built from agree: the baked-in vm/vm_inv round-trip through vm_get/
// vm_get_inv match the manifest's tables, and reference_run/wasm_run
// produce byte-identical output for a handful of randomly sampled
// operation sequences. Intended to run once at process startup against
// the last-good manifest + WASM pair on disk.
func (r *Runner) CrossCheck(m Manifest, sampleRounds int) error {
	vm, vmInv := m.SBox()

	gotVM, err := r.VMGet()
	if err != nil {
		return fmt.Errorf("wasmhost: cross-check vm_get: %w", err)
	}
	if gotVM != *vm {
		return fmt.Errorf("wasmhost: cross-check failed: module's vm table does not match manifest")
	}

	gotVMInv, err := r.VMGetInv()
	if err != nil {
		return fmt.Errorf("wasmhost: cross-check vm_get_inv: %w", err)
	}
	if gotVMInv != *vmInv {
		return fmt.Errorf("wasmhost: cross-check failed: module's vm_inv table does not match manifest")
	}

	for round := 0; round < sampleRounds; round++ {
		ops, input, err := randomAdmissibleOps(m)
		if err != nil {
			return fmt.Errorf("wasmhost: cross-check sampling round %d: %w", round, err)
		}

		wantOut, err := vmops.Run(input, ops, m)
		if err != nil {
			return fmt.Errorf("wasmhost: cross-check reference run round %d: %w", round, err)
		}
		gotOut, err := r.Run(input, ops)
		if err != nil {
			return fmt.Errorf("wasmhost: cross-check wasm run round %d: %w", round, err)
		}
		if !bytes.Equal(wantOut, gotOut) {
			return fmt.Errorf("wasmhost: cross-check failed round %d: reference_run=%x wasm_run=%x", round, wantOut, gotOut)
		}
	}
	return nil
}

// randomAdmissibleOps draws a small operation sequence avoiding actions
// 7/8/18 (length-changing or fallible), matching the subset the
// quantified invariant in the testable-properties list is defined over.
func randomAdmissibleOps(m vmops.Manifest) ([]vmops.Operation, []byte, error) {
	const excluded7, excluded8, excluded18 = vmops.ActionToHex, vmops.ActionFromHex, vmops.ActionChaChaDecrypt

	var admissible []byte
	for op := 0; op < 256; op++ {
		idx, ok := m.ActionFor(byte(op))
		if !ok {
			continue
		}
		if idx == excluded7 || idx == excluded8 || idx == excluded18 {
			continue
		}
		admissible = append(admissible, byte(op))
	}
	if len(admissible) == 0 {
		return nil, nil, fmt.Errorf("no admissible opcodes in manifest")
	}

	numOps := 2 + int(randByte()%4)
	ops := make([]vmops.Operation, numOps)
	for i := range ops {
		op := admissible[int(randByte())%len(admissible)]
		paramLen := int(randByte() % 8)
		params := make([]byte, paramLen)
		_, _ = rand.Read(params)
		ops[i] = vmops.Operation{Op: op, Params: params}
	}

	input := make([]byte, 8)
	_, _ = rand.Read(input)
	return ops, input, nil
}

func randByte() byte {
	var b [1]byte
	_, _ = rand.Read(b[:])
	return b[0]
}
