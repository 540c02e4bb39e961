package wasmhost

import (
	"fmt"

	"github.com/tetratelabs/wazero/api"

	"git.vmwall.dev/vmwall/internal/vmops"
	"git.vmwall.dev/vmwall/internal/wasmgen"
)

// Run applies ops to input via the compiled module's vm_run export,
// returning the resulting buffer. This is the WASM-side half of the
// reference_run == wasm_run invariant internal/vmops.Run implements on
// the host.
func (r *Runner) Run(input []byte, ops []vmops.Operation) ([]byte, error) {
	var out []byte
	err := r.withInstance(func(mod api.Module) error {
		mem := mod.Memory()
		if len(input) > wasmgen.IOBufSize {
			return fmt.Errorf("wasmhost: input too large (%d > %d)", len(input), wasmgen.IOBufSize)
		}
		if !mem.Write(wasmgen.IOBufAddr, input) {
			return errShortWrite
		}

		encoded := encodeOps(ops)
		if len(encoded) > wasmgen.OpsBufSize {
			return fmt.Errorf("wasmhost: ops stream too large (%d > %d)", len(encoded), wasmgen.OpsBufSize)
		}
		if !mem.Write(wasmgen.OpsBufAddr, encoded) {
			return errShortWrite
		}

		newLen, err := r.call1(mod, "vm_run", uint64(len(input)), uint64(len(encoded)))
		if err != nil {
			return err
		}

		result, ok := mem.Read(wasmgen.IOBufAddr, uint32(newLen))
		if !ok {
			return fmt.Errorf("wasmhost: could not read %d result bytes", newLen)
		}
		out = append([]byte(nil), result...)
		return nil
	})
	return out, err
}

// VMGet / VMGetInv read back the 256-byte S-box baked into the module,
// via the vm_get/vm_get_inv exports, to cross-check against a manifest at
// startup.
func (r *Runner) VMGet() ([256]byte, error)    { return r.read256("vm_get") }
func (r *Runner) VMGetInv() ([256]byte, error) { return r.read256("vm_get_inv") }

func (r *Runner) read256(export string) ([256]byte, error) {
	var out [256]byte
	err := r.withInstance(func(mod api.Module) error {
		n, err := r.call1(mod, export, 0)
		if err != nil {
			return err
		}
		if n != 256 {
			return fmt.Errorf("wasmhost: %s returned %d bytes, want 256", export, n)
		}
		data, ok := mod.Memory().Read(wasmgen.IOBufAddr, 256)
		if !ok {
			return fmt.Errorf("wasmhost: could not read %s output", export)
		}
		copy(out[:], data)
		return nil
	})
	return out, err
}

// CallAction invokes one of the single-action exports (vm_apply, xor_buf,
// crc32, rotl32, …) directly on buf/key, bypassing vm_run's opcode
// dispatch. The startup cross-check does not use it (it compares whole
// vm_run executions); nothing in the module calls it.
func (r *Runner) CallAction(export string, buf, key []byte) ([]byte, error) {
	var out []byte
	err := r.withInstance(func(mod api.Module) error {
		mem := mod.Memory()
		if !mem.Write(wasmgen.IOBufAddr, buf) {
			return errShortWrite
		}
		if len(key) > 0 && !mem.Write(wasmgen.KeyBufAddr, key) {
			return errShortWrite
		}

		n, err := r.call1(mod, export, uint64(len(buf)), uint64(len(key)))
		if err != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("wasmhost: %s reported failure (rc=%d)", export, n)
		}

		data, ok := mem.Read(wasmgen.IOBufAddr, uint32(n))
		if !ok {
			return fmt.Errorf("wasmhost: could not read %s output", export)
		}
		out = append([]byte(nil), data...)
		return nil
	})
	return out, err
}

func (r *Runner) call1(mod api.Module, export string, args ...uint64) (int32, error) {
	fn := mod.ExportedFunction(export)
	if fn == nil {
		return 0, fmt.Errorf("wasmhost: no exported function %q", export)
	}
	results, err := fn.Call(r.ctx, args...)
	if err != nil {
		return 0, fmt.Errorf("wasmhost: calling %s: %w", export, err)
	}
	if len(results) != 1 {
		return 0, fmt.Errorf("wasmhost: %s returned %d results, want 1", export, len(results))
	}
	return int32(uint32(results[0])), nil
}

// encodeOps serializes ops in vm_run's wire format: repeated
// (op, paramLen, params[paramLen]) records.
func encodeOps(ops []vmops.Operation) []byte {
	out := make([]byte, 0, len(ops)*2)
	for _, op := range ops {
		out = append(out, op.Op, byte(len(op.Params)))
		out = append(out, op.Params...)
	}
	return out
}
