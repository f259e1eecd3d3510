package trace

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Tracer receives events from the core. Implementations must be safe
// for concurrent Emit calls; everything else runs on the host side.
type Tracer interface {
	Emit(ev *Event)

	// Flush pushes buffered output to its destination.
	Flush() error

	// Close flushes and releases the output.
	Close() error

	Level() Level

	// Enabled is the cheap check emit helpers use before building an
	// event.
	Enabled() bool
}

type nopTracer struct{}

func (nopTracer) Emit(*Event)   {}
func (nopTracer) Flush() error  { return nil }
func (nopTracer) Close() error  { return nil }
func (nopTracer) Level() Level  { return LevelOff }
func (nopTracer) Enabled() bool { return false }

// Nop discards everything. It is what FromContext returns when no
// tracer was attached, so call sites never need a nil check.
var Nop Tracer = nopTracer{}

// StorageMode says where emitted events go.
type StorageMode uint8

const (
	ModeStream StorageMode = iota + 1 // write each event immediately
	ModeRing                          // keep a window in memory
	ModeBoth                          // stream plus window
)

var modeNames = [...]string{"", "stream", "ring", "both"}

func (m StorageMode) String() string {
	if int(m) < len(modeNames) && m > 0 {
		return modeNames[m]
	}
	return "unknown"
}

// ParseMode maps a flag value to a StorageMode, case-insensitively.
func ParseMode(s string) (StorageMode, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i := 1; i < len(modeNames); i++ {
		if name == modeNames[i] {
			return StorageMode(i), nil
		}
	}
	return ModeRing, fmt.Errorf("invalid trace mode %q (expected stream|ring|both)", s)
}

// Config describes the tracer to build.
type Config struct {
	Level      Level
	Mode       StorageMode
	Format     Format        // FormatAuto picks from OutputPath
	Output     io.Writer     // stream destination; nil falls back to OutputPath
	OutputPath string        // "-" or empty selects stderr
	RingSize   int           // window capacity, 0 means 4096
	Heartbeat  time.Duration // 0 disables the heartbeat
}

// New builds a tracer from cfg. LevelOff yields Nop regardless of the
// other fields.
func New(cfg Config) (Tracer, error) {
	if cfg.Level == LevelOff {
		return Nop, nil
	}

	switch cfg.Mode {
	case ModeStream:
		w, err := output(cfg)
		if err != nil {
			return nil, err
		}
		return NewStreamTracer(w, cfg.Level, resolveFormat(cfg)), nil

	case ModeRing:
		return NewRingTracer(cfg.RingSize, cfg.Level), nil

	case ModeBoth:
		w, err := output(cfg)
		if err != nil {
			return nil, err
		}
		stream := NewStreamTracer(w, cfg.Level, resolveFormat(cfg))
		ring := NewRingTracer(cfg.RingSize, cfg.Level)
		return NewMultiTracer(cfg.Level, stream, ring), nil

	default:
		return nil, fmt.Errorf("unknown trace mode: %v", cfg.Mode)
	}
}

// Ring unwraps the flight recorder behind t, if any. It sees through
// MultiTracer so "both" mode still exposes its window.
func Ring(t Tracer) *RingTracer {
	switch tr := t.(type) {
	case *RingTracer:
		return tr
	case *MultiTracer:
		for _, c := range tr.children {
			if r := Ring(c); r != nil {
				return r
			}
		}
	}
	return nil
}

func resolveFormat(cfg Config) Format {
	if cfg.Format != FormatAuto {
		return cfg.Format
	}
	if p := cfg.OutputPath; p != "" && p != "-" {
		if strings.HasSuffix(p, ".ndjson") || strings.HasSuffix(p, ".json") {
			return FormatNDJSON
		}
	}
	return FormatText
}

func output(cfg Config) (io.Writer, error) {
	if cfg.Output != nil {
		return cfg.Output, nil
	}
	if cfg.OutputPath == "" || cfg.OutputPath == "-" {
		return os.Stderr, nil
	}
	f, err := os.Create(cfg.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace output: %w", err)
	}
	return f, nil
}
