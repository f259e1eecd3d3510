package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"nucleus/internal/version"
)

const versionTagline = "every waiter gets its turn"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show nucleus build fingerprints",
	RunE:  showVersion,
}

func init() {
	versionCmd.Flags().Bool("hash", false, "include git commit hash")
	versionCmd.Flags().Bool("message", false, "include git commit message")
	versionCmd.Flags().Bool("date", false, "include build timestamp")
	versionCmd.Flags().Bool("full", false, "show every recorded build stamp")
	versionCmd.Flags().String("format", "pretty", "output format (pretty|json)")
}

// buildStamp is the version payload both output formats share. Empty
// optional fields stay off the wire and off the screen.
type buildStamp struct {
	Tool    string `json:"tool"`
	Version string `json:"version"`
	Tagline string `json:"tagline"`
	Commit  string `json:"git_commit,omitempty"`
	Message string `json:"git_message,omitempty"`
	Built   string `json:"build_date,omitempty"`
}

func showVersion(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()

	format, err := flags.GetString("format")
	if err != nil {
		return fmt.Errorf("failed to get format flag: %w", err)
	}
	format = strings.ToLower(format)
	if format != "pretty" && format != "json" {
		return fmt.Errorf("unsupported format %q (must be pretty or json)", format)
	}

	readBool := func(name string) (bool, error) {
		v, err := flags.GetBool(name)
		if err != nil {
			return false, fmt.Errorf("failed to get %s flag: %w", name, err)
		}
		return v, nil
	}
	full, err := readBool("full")
	if err != nil {
		return err
	}
	hash, err := readBool("hash")
	if err != nil {
		return err
	}
	message, err := readBool("message")
	if err != nil {
		return err
	}
	date, err := readBool("date")
	if err != nil {
		return err
	}

	stamp := buildStamp{
		Tool:    "nucleus",
		Version: orFallback(strings.TrimSpace(version.Version), "dev"),
		Tagline: versionTagline,
	}
	if hash || full {
		stamp.Commit = orFallback(strings.TrimSpace(version.GitCommit), "unknown")
	}
	if message || full {
		stamp.Message = orFallback(strings.TrimSpace(version.GitMessage), "unknown")
	}
	if date || full {
		stamp.Built = orFallback(strings.TrimSpace(version.BuildDate), "unknown")
	}

	out := cmd.OutOrStdout()
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(stamp)
	}

	fmt.Fprintf(out, "nucleus %s - %s\n", version.Colorize(stamp.Version), stamp.Tagline)
	if stamp.Commit != "" {
		fmt.Fprintf(out, "commit:  %s\n", stamp.Commit)
	}
	if stamp.Message != "" {
		fmt.Fprintf(out, "message: %s\n", stamp.Message)
	}
	if stamp.Built != "" {
		fmt.Fprintf(out, "built:   %s\n", stamp.Built)
	}
	if stamp.Commit == "" && stamp.Message == "" && stamp.Built == "" {
		fmt.Fprintln(out, "set --hash, --message, --date, or --full for more build trivia")
	}
	return nil
}

func orFallback(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
