package sim

import (
	"nucleus/internal/config"
	"nucleus/internal/kernel"
	"nucleus/internal/mailbox"
	"nucleus/internal/trace"
)

// Mix weights the operations a workload task picks between. Weights are
// relative; an all-zero mix means DefaultMix.
type Mix struct {
	Acquire    int
	TryAcquire int
	Send       int
	Recv       int
	Raise      int
}

// DefaultMix leans on lock traffic, with enough messaging to keep every
// inbox busy.
func DefaultMix() Mix {
	return Mix{Acquire: 35, TryAcquire: 10, Send: 25, Recv: 25, Raise: 5}
}

func (m Mix) total() int {
	return m.Acquire + m.TryAcquire + m.Send + m.Recv + m.Raise
}

// Config describes one simulator run.
type Config struct {
	Workload string
	Tasks    int
	Steps    int
	Locks    int
	Seed     uint64
	Mix      Mix

	// Kernel sizing; Kernel() hands these to kernel.Boot.
	CPUs          int
	SpinBudget    int
	WaitSlots     int
	MailboxDepth  int
	MailboxPolicy mailbox.Policy
}

func (c Config) normalized() Config {
	if c.Workload == "" {
		c.Workload = "adhoc"
	}
	if c.Tasks <= 0 {
		c.Tasks = config.DefaultTasks
	}
	if c.Steps <= 0 {
		c.Steps = config.DefaultSteps
	}
	if c.Locks <= 0 {
		c.Locks = config.DefaultLocks
	}
	if c.CPUs <= 0 {
		c.CPUs = config.DefaultCPUs
	}
	if c.Mix.total() <= 0 {
		c.Mix = DefaultMix()
	}
	if c.MailboxPolicy == 0 {
		c.MailboxPolicy = mailbox.PolicyBlock
	}
	return c
}

// Kernel maps the run configuration onto boot parameters. Clock, hook
// and default sizing stay with kernel.Boot; the tracer is the caller's.
func (c Config) Kernel(tr trace.Tracer) kernel.Config {
	return kernel.Config{
		CPUs:          c.CPUs,
		SpinBudget:    c.SpinBudget,
		WaitSlots:     c.WaitSlots,
		MailboxDepth:  c.MailboxDepth,
		MailboxPolicy: c.MailboxPolicy,
		Tracer:        tr,
	}
}

// FromManifest maps a loaded manifest onto a run configuration.
func FromManifest(m *config.Manifest) (Config, error) {
	seed, err := m.File.SeedValue()
	if err != nil {
		return Config{}, err
	}
	policy, err := m.File.DecodedPolicy()
	if err != nil {
		return Config{}, err
	}
	w := m.File.Workload
	cfg := Config{
		Workload: w.Name,
		Tasks:    w.Tasks,
		Steps:    w.Steps,
		Locks:    w.Locks,
		Seed:     seed,
		Mix: Mix{
			Acquire:    w.Mix.Acquire,
			TryAcquire: w.Mix.TryAcquire,
			Send:       w.Mix.Send,
			Recv:       w.Mix.Recv,
			Raise:      w.Mix.Raise,
		},
		CPUs:          m.File.Kernel.CPUs,
		SpinBudget:    m.File.Kernel.SpinBudget,
		WaitSlots:     m.File.Kernel.WaitSlots,
		MailboxDepth:  m.File.Mailbox.Depth,
		MailboxPolicy: policy,
	}
	return cfg.normalized(), nil
}
