package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"nucleus/internal/journal"
	"nucleus/internal/testkit"
)

var replayCmd = &cobra.Command{
	Use:   "replay <journal>",
	Short: "Verify a recorded journal against the sequential model",
	Long: `Read a journal recorded by 'nucleus run --journal' and replay its
completion order against the sequential model: mutual exclusion with FIFO
hand-off, priority delivery and message conservation. These are the same
checks the live verify phase runs.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func runReplay(cmd *cobra.Command, args []string) error {
	path := args[0]

	quiet, err := cmd.Root().PersistentFlags().GetBool("quiet")
	if err != nil {
		return fmt.Errorf("failed to get quiet flag: %w", err)
	}

	hdr, records, sum, err := journal.ReadAll(path)
	if err != nil {
		return fmt.Errorf("failed to read journal: %w", err)
	}

	out := cmd.OutOrStdout()
	if !quiet {
		fmt.Fprintf(out, "journal %s: workload %q, seed %d, %d tasks x %d steps on %d cpus, %d locks, policy %s\n",
			path, hdr.Workload, hdr.Seed, hdr.Tasks, hdr.Steps, hdr.CPUs, hdr.Locks, hdr.Policy)
		fmt.Fprintf(out, "  %d records\n", len(records))
	}

	if err := testkit.VerifyJournal(hdr, records, sum); err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}
	if !quiet {
		fmt.Fprintln(out, "  verified: completion order matches the sequential model")
	}
	return nil
}
