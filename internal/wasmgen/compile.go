package wasmgen

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const compileTimeout = 60 * time.Second

// Compile renders the C template for in, writes it to outDir/vm.c, and
// invokes clang to produce outDir/vm.wasm targeting freestanding wasm32.
// On compiler failure the .c file is left on disk and the exact command
// line is included in the returned error so the failure can be
// reproduced manually; the compile step is never retried.
func Compile(ctx context.Context, in TemplateInput, outDir string) (wasmPath string, err error) {
	src, err := Render(in)
	if err != nil {
		return "", err
	}

	cPath := filepath.Join(outDir, "vm.c")
	if err := os.WriteFile(cPath, []byte(src), 0o644); err != nil {
		return "", fmt.Errorf("wasmgen: writing %s: %w", cPath, err)
	}

	wasmPath = filepath.Join(outDir, "vm.wasm")

	args := []string{
		"--target=wasm32",
		"-nostdlib",
		"-Wl,--no-entry",
		"-Wl,--allow-undefined",
		"-Os",
	}
	for _, fn := range Exports {
		args = append(args, "-Wl,--export="+fn)
	}
	args = append(args, "-o", wasmPath, cPath)

	cctx, cancel := context.WithTimeout(ctx, compileTimeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, "clang", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("wasmgen: clang %s failed: %w\nsource kept at %s\noutput:\n%s",
			strings.Join(args, " "), err, cPath, out)
	}
	return wasmPath, nil
}
