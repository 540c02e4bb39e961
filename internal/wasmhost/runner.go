// Package wasmhost loads the compiled per-build VM module and exposes its
// exports as ordinary Go calls, marshaling buffers across the fixed
// linear-memory layout internal/wasmgen bakes into the C template.
package wasmhost

import (
	"context"
	"errors"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"git.vmwall.dev/vmwall/internal/aead"
	"git.vmwall.dev/vmwall/internal/wasmgen"
)

// Runner owns a compiled module and instantiates it per call, mirroring
// the "compile once, instantiate per request" split the rest of the pack's
// WASM glue uses: the compiled module's code/data are shared and
// read-only, each instance gets its own linear memory.
type Runner struct {
	ctx     context.Context
	runtime wazero.Runtime
	module  wazero.CompiledModule
}

// NewRunner compiles wasmBytes and verifies it exports every function name
// in wasmgen.Exports (names only, not signatures) before returning.
// useNativeCompiler selects wazero's ahead-of-time
// compiler vs. its interpreter.
func NewRunner(ctx context.Context, wasmBytes []byte, useNativeCompiler bool) (*Runner, error) {
	var cfg wazero.RuntimeConfig
	if useNativeCompiler {
		cfg = wazero.NewRuntimeConfigCompiler()
	} else {
		cfg = wazero.NewRuntimeConfigInterpreter()
	}
	rt := wazero.NewRuntimeWithConfig(ctx, cfg)

	if err := instantiateHostModule(ctx, rt); err != nil {
		rt.Close(ctx)
		return nil, err
	}

	module, err := rt.CompileModule(ctx, wasmBytes)
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("wasmhost: compiling module: %w", err)
	}

	r := &Runner{ctx: ctx, runtime: rt, module: module}
	if err := r.checkExports(); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func (r *Runner) checkExports() error {
	functions := r.module.ExportedFunctions()
	for _, name := range wasmgen.Exports {
		if _, ok := functions[name]; !ok {
			return fmt.Errorf("wasmhost: module missing required export %q", name)
		}
	}
	return nil
}

func (r *Runner) Close() {
	if r.module != nil {
		r.module.Close(r.ctx)
	}
	r.runtime.Close(r.ctx)
}

// withInstance instantiates a fresh module instance, runs f against it,
// and tears the instance down afterward. Every exported call goes through
// this so concurrent callers never share linear memory.
func (r *Runner) withInstance(f func(mod api.Module) error) error {
	mod, err := r.runtime.InstantiateModule(r.ctx, r.module, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return fmt.Errorf("wasmhost: instantiating module: %w", err)
	}
	defer mod.Close(r.ctx)
	return f(mod)
}

// instantiateHostModule registers the single import the compiled module
// needs: env.chacha_poly_decrypt, backing the WASM side's action 18 with
// the same AEAD primitive internal/aead uses on the host's own encode
// path.
func instantiateHostModule(ctx context.Context, rt wazero.Runtime) error {
	_, err := rt.NewHostModuleBuilder("env").
		NewFunctionBuilder().
		WithFunc(chachaPolyDecryptHostFunc).
		Export("chacha_poly_decrypt").
		Instantiate(ctx)
	if err != nil {
		return fmt.Errorf("wasmhost: registering host import: %w", err)
	}
	return nil
}

// chachaPolyDecryptHostFunc implements env.chacha_poly_decrypt(outPtr,
// outLenPtr, ctPtr, ctLen, keyPtr, ivPtr, tagPtr, aadPtr, aadLen) -> i32.
// aadPtr/aadLen are accepted but unused: every call site in this module
// uses an empty AAD, matching internal/aead's packed envelope.
func chachaPolyDecryptHostFunc(ctx context.Context, mod api.Module, outPtr, outLenPtr, ctPtr, ctLen, keyPtr, ivPtr, tagPtr, aadPtr, aadLen uint32) uint32 {
	mem := mod.Memory()

	key, ok := mem.Read(keyPtr, 32)
	if !ok {
		return 1
	}
	iv, ok := mem.Read(ivPtr, 12)
	if !ok {
		return 1
	}
	tag, ok := mem.Read(tagPtr, 16)
	if !ok {
		return 1
	}
	ct, ok := mem.Read(ctPtr, ctLen)
	if !ok {
		return 1
	}

	plain, err := aead.OpenDetached(key, iv, ct, tag)
	if err != nil {
		return 1
	}
	if !mem.Write(outPtr, plain) {
		return 1
	}
	if !mem.WriteUint32Le(outLenPtr, uint32(len(plain))) {
		return 1
	}
	return 0
}

var errShortWrite = errors.New("wasmhost: could not write module memory")
