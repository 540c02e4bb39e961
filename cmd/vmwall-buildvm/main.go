// Command vmwall-buildvm generates a fresh per-build manifest, injects it
// into the C VM template, and invokes clang to produce the matching
// freestanding wasm32 module. Run once per deployment build; the
// manifest and module it emits must travel together and are verified
// against each other at server startup.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"git.vmwall.dev/vmwall/internal/bytecode"
	"git.vmwall.dev/vmwall/internal/wasmgen"
)

func main() {
	outDir := flag.String("out", ".", "output directory for bytecodes.json, vm.c and vm.wasm")

	flag.Parse()

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatal(fmt.Errorf("creating output directory: %w", err))
	}

	manifest, err := bytecode.Generate()
	if err != nil {
		log.Fatal(fmt.Errorf("generating manifest: %w", err))
	}

	if err := manifest.WriteFile(*outDir); err != nil {
		log.Fatal(fmt.Errorf("writing manifest: %w", err))
	}

	in := wasmgen.TemplateInput{
		OpcodeAction: manifest.OpcodeAction,
		VM:           manifest.VM,
		VMInv:        manifest.VMInv,
	}
	wasmPath, err := wasmgen.Compile(context.Background(), in, *outDir)
	if err != nil {
		log.Fatal(fmt.Errorf("compiling module: %w", err))
	}

	fmt.Printf("wrote %s/bytecodes.json and %s\n", *outDir, wasmPath)
}
