// Package config models the run-time options spec §9 lists (team_size,
// dir, include_*, instructionGrain, stats.*, dwarfMaxSize, foreign, prefix
// substitutions). cmd/profbuild is the only caller that constructs an
// Options from flags/files (via cobra+viper+yaml.v2); every core package
// only ever sees the already-decoded struct, per spec §1's external-
// collaborator boundary.
package config

import "fmt"

// PrefixSubstitution is one (from, to) path-prefix rewrite rule applied, in
// insertion order, by the resolved-path finalizer (spec §4.3).
type PrefixSubstitution struct {
	From string
	To   string
}

// StatSelection mirrors spec §9's `stats.{sum,mean,min,max,stddev,cfvar}`
// toggles. cmd/profbuild fills it from flags and the config file; no
// pipeline component reads it, and a Metric's statistics are set only by
// calling Metric.AddStat.
type StatSelection struct {
	Sum    bool
	Mean   bool
	Min    bool
	Max    bool
	Stddev bool
	CfVar  bool
}

// Options is the fully-resolved configuration spec §9 describes.
type Options struct {
	// TeamSize bounds the pipeline engine's worker concurrency (spec
	// §5's "team of team_size threads"). Must be >= 1.
	TeamSize int

	// Dir is the non-empty output directory profile.db and cct.db are
	// written to.
	Dir string

	IncludeTraces     bool
	IncludeSources    bool
	IncludeThreadLocal bool

	// InstructionGrain is the instruction-level (vs. line-level) point
	// scope toggle. It is carried in Options but no classifier reads it.
	InstructionGrain bool

	Stats StatSelection

	// DwarfMaxSize caps, in bytes, the total size of a binary's ELF
	// sections above which the direct classifier does not load it; such
	// a Module is left unclassified by that classifier. 0 means no cap.
	DwarfMaxSize int64

	// Foreign enables path-allowlist mode: paths outside Allowlist are
	// reported as non-existent by the resolved-path finalizer instead of
	// being substituted (a supplemented feature; see SPEC_FULL.md).
	Foreign   bool
	Allowlist []string

	Prefixes []PrefixSubstitution
}

// Default returns the zero-configuration Options a single-rank run with no
// config file or flags would use.
func Default() Options {
	return Options{
		TeamSize: 1,
		Stats:    StatSelection{Sum: true},
	}
}

// Validate checks the invariants spec §9 implies (team_size >= 1, dir
// non-empty); cmd/profbuild calls this once after merging flags/file/env.
func (o Options) Validate() error {
	if o.TeamSize < 1 {
		return fmt.Errorf("config: team_size must be >= 1, got %d", o.TeamSize)
	}
	if o.Dir == "" {
		return fmt.Errorf("config: dir must be set")
	}
	return nil
}
