package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/ccprof/profbuild/config"
)

// configName/configType/envPrefix mirror the viper setup in
// Sumatoshi-tech-codefang/internal/config/loader.go: an optional file plus
// PROFBUILD_-prefixed environment overrides, defaults applied first so an
// absent config file is never an error.
const (
	configName = ".profbuild"
	configType = "yaml"
	envPrefix  = "PROFBUILD"
)

type fileConfig struct {
	TeamSize           int      `mapstructure:"team_size" yaml:"team_size"`
	Dir                string   `mapstructure:"dir" yaml:"dir"`
	IncludeTraces      bool     `mapstructure:"include_traces" yaml:"include_traces"`
	IncludeSources     bool     `mapstructure:"include_sources" yaml:"include_sources"`
	IncludeThreadLocal bool     `mapstructure:"include_thread_local" yaml:"include_thread_local"`
	InstructionGrain   bool     `mapstructure:"instruction_grain" yaml:"instruction_grain"`
	DwarfMaxSize       int64    `mapstructure:"dwarf_max_size" yaml:"dwarf_max_size"`
	Foreign            bool     `mapstructure:"foreign" yaml:"foreign"`
	Allowlist          []string `mapstructure:"allowlist" yaml:"allowlist,omitempty"`
	Stats              struct {
		Sum    bool `mapstructure:"sum" yaml:"sum"`
		Mean   bool `mapstructure:"mean" yaml:"mean"`
		Min    bool `mapstructure:"min" yaml:"min"`
		Max    bool `mapstructure:"max" yaml:"max"`
		Stddev bool `mapstructure:"stddev" yaml:"stddev"`
		CfVar  bool `mapstructure:"cfvar" yaml:"cfvar"`
	} `mapstructure:"stats" yaml:"stats"`
	Prefixes []struct {
		From string `mapstructure:"from" yaml:"from"`
		To   string `mapstructure:"to" yaml:"to"`
	} `mapstructure:"prefixes" yaml:"prefixes,omitempty"`
}

// loadOptions merges defaults, an optional config file, and
// PROFBUILD_-prefixed environment variables into a config.Options, per spec
// §9's run-time knobs.
func loadOptions(configPath string) (config.Options, error) {
	v := viper.New()

	def := config.Default()
	v.SetDefault("team_size", def.TeamSize)
	v.SetDefault("stats.sum", def.Stats.Sum)

	v.SetConfigType(configType)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config.Options{}, fmt.Errorf("read config: %w", err)
		}
	}

	var fc fileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return config.Options{}, fmt.Errorf("unmarshal config: %w", err)
	}

	opts := config.Options{
		TeamSize:           fc.TeamSize,
		Dir:                fc.Dir,
		IncludeTraces:      fc.IncludeTraces,
		IncludeSources:     fc.IncludeSources,
		IncludeThreadLocal: fc.IncludeThreadLocal,
		InstructionGrain:   fc.InstructionGrain,
		DwarfMaxSize:       fc.DwarfMaxSize,
		Foreign:            fc.Foreign,
		Allowlist:          fc.Allowlist,
		Stats: config.StatSelection{
			Sum: fc.Stats.Sum, Mean: fc.Stats.Mean, Min: fc.Stats.Min,
			Max: fc.Stats.Max, Stddev: fc.Stats.Stddev, CfVar: fc.Stats.CfVar,
		},
	}
	if opts.TeamSize == 0 {
		opts.TeamSize = def.TeamSize
	}
	for _, p := range fc.Prefixes {
		opts.Prefixes = append(opts.Prefixes, config.PrefixSubstitution{From: p.From, To: p.To})
	}
	return opts, nil
}

// writeDefaultConfigFile renders a commented-free `.profbuild.yaml` seeded
// from config.Default() at path, for `profbuild init-config`. Marshaled with
// gopkg.in/yaml.v2 directly (rather than through viper) since this is a
// one-shot scaffold write, not a merged read.
func writeDefaultConfigFile(path string) error {
	def := config.Default()
	fc := fileConfig{TeamSize: def.TeamSize}
	fc.Stats.Sum = def.Stats.Sum

	out, err := yaml.Marshal(fc)
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func newInitConfigCommand() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "init-config",
		Short: "Write a default .profbuild.yaml config file",
		Long:  `init-config scaffolds a config file seeded from config.Default(), for run's --config flag to pick up.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("init-config: %s already exists", path)
			}
			if err := writeDefaultConfigFile(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", configName+"."+configType, "path to write the default config file")
	return cmd
}
