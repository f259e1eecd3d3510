package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"nucleus/internal/kernel"
	"nucleus/internal/sim"
	"nucleus/internal/trace"
)

var stressCmd = &cobra.Command{
	Use:   "stress [flags] [manifest.toml]",
	Short: "Run many independent verified trials of a workload",
	Long: `Run a workload repeatedly, each trial against its own freshly booted
core with a distinct seed, and verify every recorded completion order.
Trials run concurrently up to --jobs; a trial that fails verification is
reported with its seed so the run can be replayed deterministically.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStress,
}

func init() {
	stressCmd.Flags().Int("trials", 16, "number of independent trials")
	stressCmd.Flags().Int("jobs", 0, "maximum concurrent trials (0 = all CPUs)")
	stressCmd.Flags().Uint64("base-seed", 0, "first trial seed (0 = manifest seed); trial i uses base+i")
}

type trialResult struct {
	seed   uint64
	report *sim.Report
	err    error
}

func runStress(cmd *cobra.Command, args []string) error {
	cleanup, err := setupTracing(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	// Get flags
	trials, err := cmd.Flags().GetInt("trials")
	if err != nil {
		return fmt.Errorf("failed to get trials flag: %w", err)
	}

	jobs, err := cmd.Flags().GetInt("jobs")
	if err != nil {
		return fmt.Errorf("failed to get jobs flag: %w", err)
	}

	baseSeed, err := cmd.Flags().GetUint64("base-seed")
	if err != nil {
		return fmt.Errorf("failed to get base-seed flag: %w", err)
	}

	quiet, err := cmd.Root().PersistentFlags().GetBool("quiet")
	if err != nil {
		return fmt.Errorf("failed to get quiet flag: %w", err)
	}

	if trials < 1 {
		return fmt.Errorf("--trials must be at least 1, got %d", trials)
	}

	base, err := loadWorkloadConfig(args)
	if err != nil {
		return err
	}
	if baseSeed == 0 {
		baseSeed = base.Seed
	}

	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}

	// Results (indices are unique per goroutine, no mutex needed)
	results := make([]trialResult, trials)

	g, gctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(min(jobs, trials))

	for i := 0; i < trials; i++ {
		g.Go(func(i int) func() error {
			return func() error {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}

				cfg := base
				cfg.Seed = baseSeed + uint64(i)

				core, err := kernel.Boot(cfg.Kernel(trace.FromContext(gctx)))
				if err != nil {
					return fmt.Errorf("trial %d: boot failed: %w", i, err)
				}

				// A trial that fails verification is a result to report,
				// not a reason to cancel the remaining trials.
				report, err := sim.New(core, cfg).Run(gctx)
				results[i] = trialResult{seed: cfg.Seed, report: report, err: err}
				return nil
			}
		}(i))
	}

	if err := g.Wait(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	var failed []uint64
	for _, res := range results {
		status := "ok"
		if res.err != nil || res.report == nil || !res.report.Verified {
			status = "FAILED"
			failed = append(failed, res.seed)
		}
		if quiet {
			continue
		}
		if res.report == nil {
			fmt.Fprintf(out, "seed %-6d %s: %v\n", res.seed, status, res.err)
			continue
		}
		fmt.Fprintf(out, "seed %-6d %8d records, %6d delivered, %5d dropped  %s\n",
			res.seed, res.report.Records, res.report.Delivered, res.report.Dropped, status)
		if res.err != nil {
			fmt.Fprintf(out, "  %v\n", res.err)
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("%d of %d trials failed verification (seeds %v)", len(failed), trials, failed)
	}
	if !quiet {
		fmt.Fprintf(out, "%d trials verified, seeds %d..%d\n", trials, baseSeed, baseSeed+uint64(trials)-1)
	}
	return nil
}
