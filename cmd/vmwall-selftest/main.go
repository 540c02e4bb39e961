// Command vmwall-selftest loads a manifest and its matching compiled WASM
// module and runs the same cross-check vmwalld runs at startup, without
// standing up the HTTP server. Intended for CI and for verifying a build
// artifact before it's deployed.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"git.vmwall.dev/vmwall/internal/bytecode"
	"git.vmwall.dev/vmwall/internal/wasmhost"
)

func main() {
	manifestDir := flag.String("manifest-dir", "", "directory holding bytecodes.json")
	wasmPath := flag.String("wasm", "", "path to the compiled vm.wasm")
	rounds := flag.Int("rounds", 256, "number of randomized vm_run/reference_run comparison rounds")
	interpreter := flag.Bool("interpreter", false, "use wazero's interpreter instead of its native compiler")

	flag.Parse()

	if *manifestDir == "" || *wasmPath == "" {
		flag.PrintDefaults()
		os.Exit(2)
	}

	manifest, err := bytecode.ReadFile(*manifestDir)
	if err != nil {
		log.Fatal(fmt.Errorf("reading manifest: %w", err))
	}

	wasmBytes, err := os.ReadFile(*wasmPath)
	if err != nil {
		log.Fatal(fmt.Errorf("reading compiled module: %w", err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	runner, err := wasmhost.NewRunner(ctx, wasmBytes, !*interpreter)
	if err != nil {
		log.Fatal(fmt.Errorf("compiling module: %w", err))
	}
	defer runner.Close()

	if err := runner.CrossCheck(manifest, *rounds); err != nil {
		log.Fatal(fmt.Errorf("cross-check failed: %w", err))
	}

	fmt.Printf("ok: %d opcodes assigned, %d rounds matched reference_run\n", len(manifest.Bytecodes()), *rounds)
}
