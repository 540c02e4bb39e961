package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"git.vmwall.dev/vmwall/internal/bytecode"
	"git.vmwall.dev/vmwall/internal/server"
	"git.vmwall.dev/vmwall/internal/wasmhost"
)

const crossCheckRounds = 32

func setupListener(network, address, socketMode string) (net.Listener, string) {
	formattedAddress := ""
	switch network {
	case "unix":
		formattedAddress = "unix:" + address
	case "tcp":
		formattedAddress = "http://localhost" + address
	default:
		formattedAddress = fmt.Sprintf(`(%s) %s`, network, address)
	}

	listener, err := net.Listen(network, address)
	if err != nil {
		log.Fatal(fmt.Errorf("failed to bind to %s: %w", formattedAddress, err))
	}

	if network == "unix" {
		mode, err := strconv.ParseUint(socketMode, 8, 0)
		if err != nil {
			listener.Close()
			log.Fatal(fmt.Errorf("could not parse socket mode %s: %w", socketMode, err))
		}
		if err := os.Chmod(address, os.FileMode(mode)); err != nil {
			listener.Close()
			log.Fatal(fmt.Errorf("could not change socket mode: %w", err))
		}
	}

	return listener, formattedAddress
}

func main() {
	bind := flag.String("bind", ":8080", "network address to bind HTTP to")
	bindNetwork := flag.String("bind-network", "tcp", "network family to bind HTTP to, e.g. unix, tcp")
	socketMode := flag.String("socket-mode", "0770", "socket mode (permissions) for unix domain sockets")

	slogLevel := flag.String("slog-level", "INFO", "logging level (see https://pkg.go.dev/log/slog#hdr-Levels)")

	settingsPath := flag.String("settings", "", "path to settings YAML file")
	manifestDir := flag.String("manifest-dir", "", "directory holding bytecodes.json (defaults to settings' manifest-dir)")
	wasmPath := flag.String("wasm", "", "path to the compiled vm.wasm (defaults to settings' wasm-path)")
	skipCrossCheck := flag.Bool("skip-crosscheck", false, "skip the startup manifest/module cross-check (not recommended)")

	flag.Parse()

	{
		var programLevel slog.Level
		if err := (&programLevel).UnmarshalText([]byte(*slogLevel)); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "invalid log level %s: %v, using info\n", *slogLevel, err)
			programLevel = slog.LevelInfo
		}
		leveler := &slog.LevelVar{}
		leveler.Set(programLevel)
		h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			AddSource: true,
			Level:     leveler,
		})
		slog.SetDefault(slog.New(h))
	}

	settings, err := server.LoadSettings(*settingsPath)
	if err != nil {
		log.Fatal(fmt.Errorf("failed to load settings: %w", err))
	}

	if *manifestDir == "" {
		*manifestDir = settings.ManifestDir
	}
	if *wasmPath == "" {
		*wasmPath = settings.WasmPath
	}

	manifest, err := bytecode.ReadFile(*manifestDir)
	if err != nil {
		log.Fatal(fmt.Errorf("failed to read manifest: %w", err))
	}

	wasmBytes, err := os.ReadFile(*wasmPath)
	if err != nil {
		log.Fatal(fmt.Errorf("failed to read compiled module: %w", err))
	}

	if !*skipCrossCheck {
		if err := crossCheckStartup(manifest, wasmBytes); err != nil {
			log.Fatal(fmt.Errorf("startup cross-check failed: %w", err))
		}
		slog.Info("startup cross-check passed", "rounds", crossCheckRounds)
	}

	state, err := server.NewState(settings, manifest, wasmBytes)
	if err != nil {
		log.Fatal(fmt.Errorf("failed to create state: %w", err))
	}

	listener, listenUrl := setupListener(*bindNetwork, *bind, *socketMode)
	slog.Info("listening", "url", listenUrl)

	srv := http.Server{Handler: state}
	if err := srv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}

// crossCheckStartup verifies the loaded manifest and compiled module
// agree before a single request is served, per the policy that a
// manifest/module mismatch must never silently serve wrong answers to
// clients.
func crossCheckStartup(manifest *bytecode.Manifest, wasmBytes []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	runner, err := wasmhost.NewRunner(ctx, wasmBytes, true)
	if err != nil {
		return fmt.Errorf("compiling module: %w", err)
	}
	defer runner.Close()

	return runner.CrossCheck(manifest, crossCheckRounds)
}
