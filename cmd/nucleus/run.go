package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"nucleus/internal/config"
	"nucleus/internal/journal"
	"nucleus/internal/kernel"
	"nucleus/internal/sim"
	"nucleus/internal/trace"
)

var runCmd = &cobra.Command{
	Use:   "run [flags] [manifest.toml]",
	Short: "Run a workload against a freshly booted core",
	Long: `Run the workload described by a nucleus.toml manifest against a freshly
booted core, verify the recorded completion order against the sequential
model and print a report. Without an argument the manifest is discovered
upward from the current directory.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWorkload,
}

func init() {
	runCmd.Flags().Int64("seed", -1, "override the manifest seed (-1 keeps it)")
	runCmd.Flags().String("journal", "", "record the completion order to this file")
	runCmd.Flags().String("format", "pretty", "report format (pretty|json)")
}

func runWorkload(cmd *cobra.Command, args []string) error {
	cleanup, err := setupTracing(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	// Get flags
	seed, err := cmd.Flags().GetInt64("seed")
	if err != nil {
		return fmt.Errorf("failed to get seed flag: %w", err)
	}

	journalPath, err := cmd.Flags().GetString("journal")
	if err != nil {
		return fmt.Errorf("failed to get journal flag: %w", err)
	}

	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return fmt.Errorf("failed to get format flag: %w", err)
	}
	switch format {
	case "pretty", "json":
		// supported
	default:
		return fmt.Errorf("unsupported format %q (must be pretty or json)", format)
	}

	quiet, err := cmd.Root().PersistentFlags().GetBool("quiet")
	if err != nil {
		return fmt.Errorf("failed to get quiet flag: %w", err)
	}

	timings, err := cmd.Root().PersistentFlags().GetBool("timings")
	if err != nil {
		return fmt.Errorf("failed to get timings flag: %w", err)
	}

	uiValue, err := cmd.Root().PersistentFlags().GetString("ui")
	if err != nil {
		return fmt.Errorf("failed to get ui flag: %w", err)
	}
	mode, err := readUIMode(uiValue)
	if err != nil {
		return err
	}

	cfg, err := loadWorkloadConfig(args)
	if err != nil {
		return err
	}
	if seed >= 0 {
		cfg.Seed = uint64(seed)
	}

	core, err := kernel.Boot(cfg.Kernel(trace.FromContext(cmd.Context())))
	if err != nil {
		return fmt.Errorf("boot failed: %w", err)
	}
	runner := sim.New(core, cfg)

	if journalPath != "" {
		w, err := journal.Create(journalPath, runner.Header())
		if err != nil {
			return fmt.Errorf("failed to create journal: %w", err)
		}
		// Abort is a no-op once the runner has finalized the journal;
		// it only mops up when the run never got that far.
		defer w.Abort()
		runner.Journal = w
	}

	var report *sim.Report
	var runErr error
	if format == "pretty" && mode.wantTUI() {
		report, runErr = runWithUI(cmd.Context(), cfg.Workload, runner)
	} else {
		report, runErr = runner.Run(cmd.Context())
	}
	if runErr != nil {
		// A failed run dumps the flight recorder, when one is wired.
		if ring := trace.Ring(trace.FromContext(cmd.Context())); ring != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), "recent trace window:")
			_ = ring.Dump(cmd.ErrOrStderr(), trace.FormatText)
		}
	}
	if report == nil {
		return runErr
	}

	out := cmd.OutOrStdout()
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
		return runErr
	}

	if !quiet {
		fmt.Fprint(out, report.Text())
		if journalPath != "" && runErr == nil {
			fmt.Fprintf(out, "  journal: %s\n", journalPath)
		}
	}
	if timings {
		printPhaseTimings(out, report.Timings)
	}
	return runErr
}

// loadWorkloadConfig resolves the manifest for a run: an explicit path
// argument wins, otherwise discovery walks up from the working directory.
func loadWorkloadConfig(args []string) (sim.Config, error) {
	if len(args) == 1 {
		m, err := config.Load(args[0])
		if err != nil {
			return sim.Config{}, err
		}
		return sim.FromManifest(m)
	}
	wd, err := os.Getwd()
	if err != nil {
		return sim.Config{}, err
	}
	m, found, err := config.Discover(wd)
	if err != nil {
		return sim.Config{}, err
	}
	if !found {
		return sim.Config{}, fmt.Errorf("no %s found in %s or above (run `nucleus init` to create one)", config.ManifestName, wd)
	}
	return sim.FromManifest(m)
}
