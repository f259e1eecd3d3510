// Package config loads nucleus.toml manifests: the kernel sizing, inbox
// policy and workload description the simulator runs from. Discovery
// walks up from the starting directory the way build tools find their
// project file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"fortio.org/safecast"
	"golang.org/x/text/unicode/norm"

	"nucleus/internal/mailbox"
)

// ManifestName is the file name Discover looks for.
const ManifestName = "nucleus.toml"

// Defaults applied to fields a manifest leaves out.
const (
	DefaultCPUs  = 4
	DefaultTasks = 8
	DefaultSteps = 1000
	DefaultLocks = 2
)

// KernelSection sizes the core.
type KernelSection struct {
	CPUs       int `toml:"cpus"`
	SpinBudget int `toml:"spin_budget"`
	WaitSlots  int `toml:"wait_slots"`
}

// MailboxSection configures every task inbox.
type MailboxSection struct {
	Depth  int    `toml:"depth"`
	Policy string `toml:"policy"`
}

// MixSection weights the operations a workload task picks between.
// Weights are relative; all zero means the built-in mix.
type MixSection struct {
	Acquire    int `toml:"acquire"`
	TryAcquire int `toml:"try_acquire"`
	Send       int `toml:"send"`
	Recv       int `toml:"recv"`
	Raise      int `toml:"raise"`
}

// Zero reports whether no weight is set.
func (m MixSection) Zero() bool {
	return m.Acquire == 0 && m.TryAcquire == 0 && m.Send == 0 && m.Recv == 0 && m.Raise == 0
}

// WorkloadSection describes one simulator run.
type WorkloadSection struct {
	Name  string     `toml:"name"`
	Tasks int        `toml:"tasks"`
	Steps int        `toml:"steps"`
	Locks int        `toml:"locks"`
	Seed  int64      `toml:"seed"`
	Mix   MixSection `toml:"mix"`
}

// File is the decoded manifest.
type File struct {
	Kernel   KernelSection   `toml:"kernel"`
	Mailbox  MailboxSection  `toml:"mailbox"`
	Workload WorkloadSection `toml:"workload"`
}

// Manifest is a loaded manifest plus where it came from.
type Manifest struct {
	Path string // absolute path of the manifest file
	Root string // directory containing it
	File File
}

// DecodedPolicy parses the mailbox policy string, defaulting to block.
func (f *File) DecodedPolicy() (mailbox.Policy, error) {
	if f.Mailbox.Policy == "" {
		return mailbox.PolicyBlock, nil
	}
	return mailbox.ParsePolicy(f.Mailbox.Policy)
}

// SeedValue converts the manifest seed for the deterministic RNG streams.
func (f *File) SeedValue() (uint64, error) {
	seed, err := safecast.Conv[uint64](f.Workload.Seed)
	if err != nil {
		return 0, fmt.Errorf("workload.seed must not be negative: %w", err)
	}
	return seed, nil
}

// Find walks up from startDir looking for a manifest. It reports the
// path and whether one was found; an error means the search itself
// failed, not that nothing was found.
func Find(startDir string) (string, bool, error) {
	dir := startDir
	for {
		candidate := filepath.Join(dir, ManifestName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false, nil
		}
		dir = parent
	}
}

// Discover finds and loads the manifest governing startDir.
func Discover(startDir string) (*Manifest, bool, error) {
	path, found, err := Find(startDir)
	if err != nil || !found {
		return nil, found, err
	}
	m, err := Load(path)
	if err != nil {
		return nil, true, err
	}
	return m, true, nil
}

// Load reads and validates the manifest at path.
func Load(path string) (*Manifest, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	var f File
	meta, err := toml.DecodeFile(abs, &f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", abs, err)
	}
	if err := validate(&f, meta); err != nil {
		return nil, fmt.Errorf("%s: %w", abs, err)
	}
	return &Manifest{Path: abs, Root: filepath.Dir(abs), File: f}, nil
}

// Parse decodes and validates manifest bytes without touching the
// filesystem.
func Parse(data []byte) (*File, error) {
	var f File
	meta, err := toml.Decode(string(data), &f)
	if err != nil {
		return nil, err
	}
	if err := validate(&f, meta); err != nil {
		return nil, err
	}
	return &f, nil
}

func validate(f *File, meta toml.MetaData) error {
	if !meta.IsDefined("workload") {
		return errors.New("missing [workload] section")
	}
	if !meta.IsDefined("workload", "name") || f.Workload.Name == "" {
		return errors.New("workload.name is required")
	}
	f.Workload.Name = norm.NFC.String(f.Workload.Name)

	if !meta.IsDefined("workload", "tasks") {
		f.Workload.Tasks = DefaultTasks
	} else if f.Workload.Tasks < 1 {
		return fmt.Errorf("workload.tasks must be at least 1, got %d", f.Workload.Tasks)
	}
	if !meta.IsDefined("workload", "steps") {
		f.Workload.Steps = DefaultSteps
	} else if f.Workload.Steps < 1 {
		return fmt.Errorf("workload.steps must be at least 1, got %d", f.Workload.Steps)
	}
	if !meta.IsDefined("workload", "locks") {
		f.Workload.Locks = DefaultLocks
	} else if f.Workload.Locks < 1 {
		return fmt.Errorf("workload.locks must be at least 1, got %d", f.Workload.Locks)
	}
	if f.Workload.Seed < 0 {
		return fmt.Errorf("workload.seed must not be negative, got %d", f.Workload.Seed)
	}
	mix := f.Workload.Mix
	if mix.Acquire < 0 || mix.TryAcquire < 0 || mix.Send < 0 || mix.Recv < 0 || mix.Raise < 0 {
		return errors.New("workload.mix weights must not be negative")
	}

	if !meta.IsDefined("kernel", "cpus") {
		f.Kernel.CPUs = DefaultCPUs
	} else if f.Kernel.CPUs < 1 {
		return fmt.Errorf("kernel.cpus must be at least 1, got %d", f.Kernel.CPUs)
	}
	if f.Kernel.SpinBudget < 0 {
		return fmt.Errorf("kernel.spin_budget must not be negative, got %d", f.Kernel.SpinBudget)
	}
	if f.Kernel.WaitSlots < 0 {
		return fmt.Errorf("kernel.wait_slots must not be negative, got %d", f.Kernel.WaitSlots)
	}
	if f.Mailbox.Depth < 0 {
		return fmt.Errorf("mailbox.depth must not be negative, got %d", f.Mailbox.Depth)
	}
	if _, err := f.DecodedPolicy(); err != nil {
		return fmt.Errorf("mailbox.policy: %w", err)
	}
	return nil
}

// Starter returns the manifest text `nucleus init` writes for a new
// workload directory.
func Starter(name string) string {
	return fmt.Sprintf(`# nucleus workload manifest
[kernel]
cpus = %d
spin_budget = 128
wait_slots = 64

[mailbox]
depth = 16
policy = "block"

[workload]
name = %q
tasks = %d
steps = %d
locks = %d
seed = 1

[workload.mix]
acquire = 4
try_acquire = 1
send = 3
recv = 3
raise = 1
`, DefaultCPUs, name, DefaultTasks, DefaultSteps, DefaultLocks)
}
