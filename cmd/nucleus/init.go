package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"nucleus/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init [path|name]",
	Short: "Initialize a new nucleus workload",
	Long: `Initialize a nucleus workload directory by creating a manifest
(nucleus.toml) describing the kernel sizing, inbox policy and operation
mix. If [path|name] is omitted, initializes the current directory. If a
non-existing name is provided, a directory will be created.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

// runInit writes a starter manifest into the target directory, creating
// the directory when needed. The workload takes its name from the
// directory basename; an existing manifest is never overwritten.
func runInit(cmd *cobra.Command, args []string) error {
	target, err := resolveInitTarget(args)
	if err != nil {
		return err
	}
	if err := ensureDir(target); err != nil {
		return err
	}

	manifestPath := filepath.Join(target, config.ManifestName)
	if _, err := os.Stat(manifestPath); err == nil {
		return fmt.Errorf("workload already initialized: %s exists", manifestPath)
	}
	starter := config.Starter(workloadName(target))
	if err := os.WriteFile(manifestPath, []byte(starter), 0o600); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	display := target
	if wd, err := os.Getwd(); err == nil {
		if rel, rerr := filepath.Rel(wd, target); rerr == nil {
			display = rel
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Initialized nucleus workload in %s\n  - %s\n", display, config.ManifestName)
	return nil
}

// resolveInitTarget maps the optional argument to an absolute directory
// path; no argument and "." both mean the working directory.
func resolveInitTarget(args []string) (string, error) {
	if len(args) == 0 || args[0] == "." {
		return os.Getwd()
	}
	if filepath.IsAbs(args[0]) {
		return args[0], nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, args[0]), nil
}

func ensureDir(path string) error {
	st, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %q: %w", path, err)
		}
		return nil
	case err != nil:
		return err
	case !st.IsDir():
		return fmt.Errorf("%q is not a directory", path)
	}
	return nil
}

func workloadName(target string) string {
	name := strings.TrimSpace(filepath.Base(target))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "nucleus-workload"
	}
	return name
}
