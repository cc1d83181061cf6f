package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cuemby/boxlite/pkg/log"
	"github.com/cuemby/boxlite/pkg/runtime"
	"github.com/cuemby/boxlite/pkg/types"
)

var (
	// Version information (set via ldflags during build).
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "boxlite",
	Short:   "Run isolated OCI containers inside per-container microVMs",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("boxlite version %s (%s)\n", Version, Commit))

	rootCmd.PersistentFlags().String("home", defaultHome(), "Runtime home directory")
	rootCmd.PersistentFlags().String("shim-binary", "boxlite-shim", "Path to the boxlite-shim binary")
	rootCmd.PersistentFlags().String("kernel", "", "Path to the guest kernel image")
	rootCmd.PersistentFlags().String("initrd", "", "Path to the guest initrd")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd, listCmd, startCmd, stopCmd, restartCmd, rmCmd, pullCmd)
}

func defaultHome() string {
	if h, err := os.UserHomeDir(); err == nil {
		return h + "/.boxlite"
	}
	return "./.boxlite"
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

func openRuntime(cmd *cobra.Command) (*runtime.Runtime, error) {
	home, _ := cmd.Flags().GetString("home")
	shimBinary, _ := cmd.Flags().GetString("shim-binary")
	kernel, _ := cmd.Flags().GetString("kernel")
	initrd, _ := cmd.Flags().GetString("initrd")

	return runtime.New(home, runtime.BinaryPaths{
		ShimBinary: shimBinary,
		KernelPath: kernel,
		InitrdPath: initrd,
	})
}

var runCmd = &cobra.Command{
	Use:   "run IMAGE",
	Short: "Create and start a box from an OCI image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		image := args[0]
		name, _ := cmd.Flags().GetString("name")
		cpus, _ := cmd.Flags().GetInt("cpus")
		memory, _ := cmd.Flags().GetInt("memory")
		disk, _ := cmd.Flags().GetInt("disk")
		envList, _ := cmd.Flags().GetStringSlice("env")
		volumeList, _ := cmd.Flags().GetStringSlice("volume")
		autoRemove, _ := cmd.Flags().GetBool("rm")

		env, err := parseEnv(envList)
		if err != nil {
			return err
		}
		volumes, err := parseVolumes(volumeList)
		if err != nil {
			return err
		}

		r, err := openRuntime(cmd)
		if err != nil {
			return fmt.Errorf("open runtime: %w", err)
		}
		defer r.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		meta, err := r.Create(ctx, name, types.BoxOptions{
			CPUs:       cpus,
			MemoryMiB:  memory,
			DiskSizeGB: disk,
			Env:        env,
			Rootfs:     types.RootfsSpec{ImageRef: image},
			Volumes:    volumes,
			Network:    types.NetworkIsolated,
			AutoRemove: autoRemove,
		})
		if err != nil {
			return fmt.Errorf("create box: %w", err)
		}

		fmt.Println(meta.ID.String())
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls", "ps"},
	Short:   "List boxes",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		quiet, _ := cmd.Flags().GetBool("quiet")

		r, err := openRuntime(cmd)
		if err != nil {
			return fmt.Errorf("open runtime: %w", err)
		}
		defer r.Close()

		boxes := r.List()
		if !all {
			visible := boxes[:0]
			for _, b := range boxes {
				if b.State == types.StateRunning || b.State == types.StateStarting || b.State == types.StateStopping {
					visible = append(visible, b)
				}
			}
			boxes = visible
		}

		if quiet {
			for _, b := range boxes {
				fmt.Println(b.ID.String())
			}
			return nil
		}

		fmt.Printf("%-28s %-16s %-12s %-9s %s\n", "ID", "NAME", "STATUS", "PID", "IMAGE")
		for _, b := range boxes {
			fmt.Printf("%-28s %-16s %-12s %-9d %s\n",
				b.ID.String(), b.Name, colorState(b.State), b.PID, b.ImageRef)
		}
		return nil
	},
}

func colorState(s types.BoxState) string {
	switch s {
	case types.StateRunning:
		return color.GreenString(string(s))
	case types.StateFailed:
		return color.RedString(string(s))
	case types.StateStarting, types.StateStopping:
		return color.YellowString(string(s))
	default:
		return string(s)
	}
}

var stopCmd = &cobra.Command{
	Use:   "stop BOX...",
	Short: "Gracefully stop one or more running boxes",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		grace, _ := cmd.Flags().GetInt("grace")

		r, err := openRuntime(cmd)
		if err != nil {
			return fmt.Errorf("open runtime: %w", err)
		}
		defer r.Close()

		failed := false
		for _, t := range args {
			ctx, cancel := context.WithTimeout(context.Background(), time.Duration(grace+10)*time.Second)
			err := r.Stop(ctx, t, grace)
			cancel()
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", t, err)
				failed = true
				continue
			}
			fmt.Println(t)
		}
		if failed {
			return fmt.Errorf("one or more boxes failed to stop")
		}
		return nil
	},
}

var startCmd = &cobra.Command{
	Use:   "start BOX...",
	Short: "Start one or more stopped or failed boxes",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRuntime(cmd)
		if err != nil {
			return fmt.Errorf("open runtime: %w", err)
		}
		defer r.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		failed := false
		for _, t := range args {
			if _, err := r.Start(ctx, t); err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", t, err)
				failed = true
				continue
			}
			fmt.Println(t)
		}
		if failed {
			return fmt.Errorf("one or more boxes failed to start")
		}
		return nil
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart BOX...",
	Short: "Stop then start one or more boxes",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		grace, _ := cmd.Flags().GetInt("grace")

		r, err := openRuntime(cmd)
		if err != nil {
			return fmt.Errorf("open runtime: %w", err)
		}
		defer r.Close()

		failed := false
		for _, t := range args {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			_, err := r.Restart(ctx, t, grace)
			cancel()
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", t, err)
				failed = true
				continue
			}
			fmt.Println(t)
		}
		if failed {
			return fmt.Errorf("one or more boxes failed to restart")
		}
		return nil
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm [BOX...]",
	Short: "Remove one or more boxes, or every box with --all",
	Args:  cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		all, _ := cmd.Flags().GetBool("all")

		if !all && len(args) == 0 {
			return fmt.Errorf("requires at least one box id/name, or --all")
		}

		r, err := openRuntime(cmd)
		if err != nil {
			return fmt.Errorf("open runtime: %w", err)
		}
		defer r.Close()

		targets := args
		if all {
			if !force && !confirmRemoveAll(os.Stdin, os.Stderr) {
				return nil
			}
			targets = nil
			for _, b := range r.List() {
				targets = append(targets, b.ID.String())
			}
		}

		ctx := context.Background()
		failed := false
		for _, t := range targets {
			if _, err := r.Remove(ctx, t, force); err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", t, err)
				failed = true
				continue
			}
			fmt.Println(t)
		}
		if failed {
			return fmt.Errorf("one or more boxes failed to remove")
		}
		return nil
	},
}

// confirmRemoveAll prompts on out and reads a line from in, following the
// plain bufio.Reader y/N pattern of cmd/sand/new_cmd.go rather
// than a TTY prompt library. Any answer that isn't case-insensitively "y"
// cancels.
func confirmRemoveAll(in io.Reader, out io.Writer) bool {
	fmt.Fprint(out, "WARNING! This will remove all boxes.\nAre you sure you want to continue? [y/N] ")
	reader := bufio.NewReader(in)
	text, err := reader.ReadString('\n')
	if err != nil && text == "" {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(text), "y")
}

var pullCmd = &cobra.Command{
	Use:   "pull IMAGE",
	Short: "Pull an OCI image into the local cache",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, err := types.ParseImageRef(args[0])
		if err != nil {
			return err
		}

		r, err := openRuntime(cmd)
		if err != nil {
			return fmt.Errorf("open runtime: %w", err)
		}
		defer r.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		cached, err := r.PullImage(ctx, ref)
		if err != nil {
			return fmt.Errorf("pull: %w", err)
		}
		fmt.Println(color.GreenString("✓ pulled %s", cached.Ref.String()))
		fmt.Printf("  Layers: %d\n", len(cached.LayerDigests))
		return nil
	},
}

func init() {
	runCmd.Flags().String("name", "", "Optional unique box name")
	runCmd.Flags().Int("cpus", 1, "Number of vCPUs")
	runCmd.Flags().Int("memory", 512, "Memory in MiB")
	runCmd.Flags().Int("disk", 1, "Persistent disk size in GB")
	runCmd.Flags().StringSlice("env", nil, "Environment variables (KEY=VALUE)")
	runCmd.Flags().StringSliceP("volume", "v", nil, "Host:guest[:ro] volume mounts")
	runCmd.Flags().Bool("rm", false, "Remove the box automatically once it stops")

	listCmd.Flags().BoolP("all", "a", false, "Show every box, including stopped and failed ones")
	listCmd.Flags().BoolP("quiet", "q", false, "Only print box ids")

	stopCmd.Flags().Int("grace", 10, "Seconds to wait for graceful exit before killing")
	restartCmd.Flags().Int("grace", 10, "Seconds to wait for graceful exit before killing")

	rmCmd.Flags().BoolP("force", "f", false, "Remove a box even if it is still running")
	rmCmd.Flags().BoolP("all", "a", false, "Remove every box (prompts for confirmation unless --force)")
}

func parseEnv(entries []string) ([]types.EnvVar, error) {
	env := make([]types.EnvVar, 0, len(entries))
	for _, e := range entries {
		k, v, ok := strings.Cut(e, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --env %q, want KEY=VALUE", e)
		}
		env = append(env, types.EnvVar{Key: k, Value: v})
	}
	return env, nil
}

func parseVolumes(entries []string) ([]types.VolumeSpec, error) {
	volumes := make([]types.VolumeSpec, 0, len(entries))
	for _, e := range entries {
		parts := strings.Split(e, ":")
		if len(parts) < 2 {
			return nil, fmt.Errorf("invalid --volume %q, want host:guest[:ro]", e)
		}
		readOnly := len(parts) > 2 && parts[2] == "ro"
		volumes = append(volumes, types.VolumeSpec{HostPath: parts[0], GuestPath: parts[1], ReadOnly: readOnly})
	}
	return volumes, nil
}
