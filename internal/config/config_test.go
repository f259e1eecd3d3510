package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"nucleus/internal/mailbox"
)

const sampleManifest = `# contended counter workload
[kernel]
cpus = 2
spin_budget = 32
wait_slots = 16

[mailbox]
depth = 8
policy = "drop"

[workload]
name = "counter"
tasks = 6
steps = 500
locks = 3
seed = 42

[workload.mix]
acquire = 5
send = 2
recv = 2
`

func TestLoadManifest(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, ManifestName)
	if err := os.WriteFile(path, []byte(sampleManifest), 0o600); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Root != root {
		t.Fatalf("Root = %q, want %q", m.Root, root)
	}
	f := m.File
	if f.Kernel.CPUs != 2 || f.Kernel.SpinBudget != 32 || f.Kernel.WaitSlots != 16 {
		t.Fatalf("kernel section = %+v", f.Kernel)
	}
	if f.Workload.Name != "counter" || f.Workload.Tasks != 6 || f.Workload.Steps != 500 {
		t.Fatalf("workload section = %+v", f.Workload)
	}
	pol, err := f.DecodedPolicy()
	if err != nil {
		t.Fatalf("DecodedPolicy: %v", err)
	}
	if pol != mailbox.PolicyDrop {
		t.Fatalf("policy = %v, want drop", pol)
	}
	seed, err := f.SeedValue()
	if err != nil {
		t.Fatalf("SeedValue: %v", err)
	}
	if seed != 42 {
		t.Fatalf("seed = %d, want 42", seed)
	}
	if f.Workload.Mix.Acquire != 5 || f.Workload.Mix.Raise != 0 {
		t.Fatalf("mix = %+v", f.Workload.Mix)
	}
}

func TestParseAppliesDefaults(t *testing.T) {
	f, err := Parse([]byte("[workload]\nname = \"tiny\"\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Workload.Tasks != DefaultTasks || f.Workload.Steps != DefaultSteps || f.Workload.Locks != DefaultLocks {
		t.Fatalf("workload defaults = %+v", f.Workload)
	}
	if f.Kernel.CPUs != DefaultCPUs {
		t.Fatalf("kernel.cpus default = %d, want %d", f.Kernel.CPUs, DefaultCPUs)
	}
	pol, err := f.DecodedPolicy()
	if err != nil || pol != mailbox.PolicyBlock {
		t.Fatalf("default policy = (%v, %v), want block", pol, err)
	}
	if !f.Workload.Mix.Zero() {
		t.Fatalf("mix should default to zero weights, got %+v", f.Workload.Mix)
	}
}

func TestParseRejectsBadManifests(t *testing.T) {
	cases := []struct {
		name string
		text string
		want string
	}{
		{"no workload", "[kernel]\ncpus = 2\n", "missing [workload]"},
		{"no name", "[workload]\ntasks = 3\n", "workload.name"},
		{"zero tasks", "[workload]\nname = \"x\"\ntasks = 0\n", "workload.tasks"},
		{"zero steps", "[workload]\nname = \"x\"\nsteps = 0\n", "workload.steps"},
		{"negative seed", "[workload]\nname = \"x\"\nseed = -4\n", "workload.seed"},
		{"bad policy", "[mailbox]\npolicy = \"spill\"\n[workload]\nname = \"x\"\n", "mailbox.policy"},
		{"zero cpus", "[kernel]\ncpus = 0\n[workload]\nname = \"x\"\n", "kernel.cpus"},
		{"negative mix", "[workload]\nname = \"x\"\n[workload.mix]\nsend = -1\n", "mix weights"},
	}
	for _, tc := range cases {
		_, err := Parse([]byte(tc.text))
		if err == nil {
			t.Fatalf("%s: Parse succeeded, want error containing %q", tc.name, tc.want)
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: error = %q, want it to mention %q", tc.name, err, tc.want)
		}
	}
}

func TestWorkloadNameIsNormalized(t *testing.T) {
	// e + combining acute composes to a single code point under NFC.
	f, err := Parse([]byte("[workload]\nname = \"café\"\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Workload.Name != "café" {
		t.Fatalf("name = %q, want NFC-composed form", f.Workload.Name)
	}
}

func TestFindWalksUp(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b", "c")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	path := filepath.Join(root, ManifestName)
	if err := os.WriteFile(path, []byte(sampleManifest), 0o600); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	got, found, err := Find(nested)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if !found {
		t.Fatalf("Find did not walk up to the manifest")
	}
	if got != path {
		t.Fatalf("Find = %q, want %q", got, path)
	}

	m, found, err := Discover(nested)
	if err != nil || !found {
		t.Fatalf("Discover = (%v, %v)", found, err)
	}
	if m.Root != root {
		t.Fatalf("Discover Root = %q, want %q", m.Root, root)
	}
}

func TestFindReportsAbsence(t *testing.T) {
	dir := t.TempDir()
	_, found, err := Find(dir)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if found {
		t.Fatalf("Find reported a manifest in an empty tree")
	}
}

func TestStarterIsLoadable(t *testing.T) {
	f, err := Parse([]byte(Starter("demo")))
	if err != nil {
		t.Fatalf("starter manifest does not parse: %v", err)
	}
	if f.Workload.Name != "demo" {
		t.Fatalf("starter name = %q, want demo", f.Workload.Name)
	}
	if f.Workload.Mix.Zero() {
		t.Fatalf("starter mix is empty")
	}
}
