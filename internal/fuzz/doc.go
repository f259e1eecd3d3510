// Package fuzztests houses Go fuzz harnesses that exercise the nucleus
// boundary surfaces (TOML manifest -> config, msgpack journal -> reader).
// Its goal is to smoke test robustness and guard against panics or
// allocator explosions on arbitrary inputs.
//
// It does not generate corpora, write files outside the harness, or
// execute the CLI.

package fuzztests
