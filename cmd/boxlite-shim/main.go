// Command boxlite-shim is the per-box subprocess the runtime spawns to
// drive one box's microVM. It is intentionally small: read the boot spec
// the runtime already computed, pick the platform VMM engine, and run it
// until the guest exits or the runtime asks it to stop.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/boxlite/pkg/log"
	"github.com/cuemby/boxlite/pkg/vmm"
)

func main() {
	boxID := flag.String("box-id", "", "box id this shim drives")
	bootSpecPath := flag.String("boot-spec", "", "path to the boot spec JSON written by the runtime")
	flag.Parse()

	log.Init(log.Config{Level: log.InfoLevel})
	logger := log.WithBoxID(*boxID)

	if *boxID == "" || *bootSpecPath == "" {
		fmt.Fprintln(os.Stderr, "boxlite-shim: --box-id and --boot-spec are required")
		os.Exit(2)
	}

	spec, err := loadBootSpec(*bootSpecPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load boot spec")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	engine := vmm.New()
	logger.Info().Str("kernel", spec.KernelPath).Int("cpus", spec.CPUs).Int("memory_mib", spec.MemoryMiB).Msg("starting vmm engine")

	if err := engine.Run(ctx, spec); err != nil && ctx.Err() == nil {
		logger.Error().Err(err).Msg("vmm engine exited with error")
		os.Exit(1)
	}
	logger.Info().Msg("vmm engine exited")
}

func loadBootSpec(path string) (vmm.BootSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return vmm.BootSpec{}, fmt.Errorf("read boot spec: %w", err)
	}
	var spec vmm.BootSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return vmm.BootSpec{}, fmt.Errorf("parse boot spec: %w", err)
	}
	return spec, nil
}
