package main

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ccprof/profbuild/classify"
	"github.com/ccprof/profbuild/config"
	"github.com/ccprof/profbuild/idpack"
	"github.com/ccprof/profbuild/measfmt"
	"github.com/ccprof/profbuild/metrics"
	"github.com/ccprof/profbuild/model"
	"github.com/ccprof/profbuild/pipeline"
	"github.com/ccprof/profbuild/sparsedb"
	"github.com/ccprof/profbuild/xerrors"
	"github.com/ccprof/profbuild/xlog"
)

func newRunCommand() *cobra.Command {
	var (
		configPath  string
		dir         string
		teamSize    int
		logLevel    string
		legacy      bool
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "run [measurement files...]",
		Short: "Build profile.db and cct.db from one or more measurement files",
		Long: `run reads one or more HPCToolkit-style measurement files, builds the
shared calling-context tree (spec §3), runs the wavefront pipeline (spec
§4.4), and writes profile.db and cct.db to --dir.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := loadOptions(configPath)
			if err != nil {
				return err
			}
			if dir != "" {
				opts.Dir = dir
			}
			if teamSize > 0 {
				opts.TeamSize = teamSize
			}
			if err := opts.Validate(); err != nil {
				return xerrors.Fatalf("config: %w", err)
			}

			xlog.Init(xlog.Settings{Level: logLevel})

			var reg *metrics.Registry
			if metricsAddr != "" {
				reg = metrics.New()
				srv := &http.Server{Addr: metricsAddr, Handler: reg.Handler()}
				go func() {
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						xlog.Default().Warningf("metrics server on %s: %v", metricsAddr, err)
					}
				}()
				defer srv.Close()
			}

			return runPipeline(cmd.Context(), opts, args, legacy, reg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file (default: ./.profbuild.yaml)")
	cmd.Flags().StringVar(&dir, "dir", "", "output directory for profile.db/cct.db (overrides config)")
	cmd.Flags().IntVar(&teamSize, "team-size", 0, "worker team size (overrides config)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warning, error")
	cmd.Flags().BoolVar(&legacy, "legacy", false, "treat inputs as legacy (2.0/3.0) measurement files")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "if set, serve Prometheus /metrics on this address for the run's duration")

	return cmd
}

// runPipeline wires one Engine per spec §4: a measfmt.Source per input
// file, the classify chain (struct -> logical -> direct) plus the
// identifier and resolved-path finalizers, idpack.Packer and
// sparsedb.Writer as the two sparse-DB Sinks, then runs the engine and
// writes both database files under opts.Dir.
func runPipeline(ctx context.Context, opts config.Options, paths []string, legacy bool, reg *metrics.Registry) error {
	log := xlog.Default()
	dm := model.NewDataModel()

	structClassifier := classify.NewStructClassifier(dm, func(m *model.Module) string { return m.Path + ".hpcstruct.xml" })
	logicalClassifier := classify.NewLogicalClassifier(dm)
	directClassifier := classify.NewDirectClassifier(dm, opts.DwarfMaxSize)
	identifier := classify.NewIdentifierFinalizer(dm)
	resolvedPath := classify.NewResolvedPathFinalizer(opts)
	resolver := classify.NewCallGraphResolver(structClassifier)

	eng := pipeline.New(pipeline.Config{TeamSize: opts.TeamSize, Log: log, Metrics: reg}, dm)
	eng.AddFinalizer(structClassifier)
	eng.AddFinalizer(logicalClassifier)
	eng.AddFinalizer(directClassifier)
	eng.AddFinalizer(identifier)
	eng.AddFinalizer(resolvedPath)
	eng.AddResolver(resolver)

	for _, p := range paths {
		var src *measfmt.Source
		if legacy {
			src = measfmt.NewLegacy(p)
		} else {
			src = measfmt.New(p)
		}
		eng.AddSource(src)
	}

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return xerrors.Fatalf("profbuild: create output dir: %w", err)
	}

	var profileBytes, cctBytes, idBytes int
	packer := idpack.NewPacker(dm, identifier, func(b []byte) error {
		idBytes = len(b)
		if reg != nil {
			reg.AddBytesWritten("id.db", len(b))
		}
		return os.WriteFile(filepath.Join(opts.Dir, "id.db"), b, 0o644)
	})
	writer := sparsedb.NewWriter(dm, identifier, nil,
		func(b []byte) error {
			profileBytes = len(b)
			if reg != nil {
				reg.AddBytesWritten("profile.db", len(b))
			}
			return os.WriteFile(filepath.Join(opts.Dir, "profile.db"), b, 0o644)
		},
		func(b []byte) error {
			cctBytes = len(b)
			if reg != nil {
				reg.AddBytesWritten("cct.db", len(b))
			}
			return os.WriteFile(filepath.Join(opts.Dir, "cct.db"), b, 0o644)
		})
	eng.AddSink(packer)
	eng.AddSink(writer)

	if err := eng.Bind(model.ClassAll); err != nil {
		return xerrors.Fatalf("profbuild: bind: %w", err)
	}

	start := time.Now()
	if err := eng.Run(ctx); err != nil {
		return xerrors.Fatalf("profbuild: run: %w", err)
	}
	elapsed := time.Since(start)

	printSummary(dm, opts, elapsed, map[string]int{
		"profile.db": profileBytes,
		"cct.db":     cctBytes,
		"id.db":      idBytes,
	})
	return nil
}

// printSummary renders a go-pretty table of the run's shape, colored via
// fatih/color and with byte counts formatted through dustin/go-humanize —
// grounded on Sumatoshi-tech-codefang's formatter.go/validate.go console
// output style.
func printSummary(dm *model.DataModel, opts config.Options, elapsed time.Duration, written map[string]int) {
	heading := color.New(color.FgGreen, color.Bold)
	heading.Fprintln(os.Stdout, "profbuild run complete")

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.Style().Options.SeparateRows = false
	t.AppendHeader(table.Row{"entity", "count"})
	t.AppendRow(table.Row{"modules", dm.Modules.Len()})
	t.AppendRow(table.Row{"files", dm.Files.Len()})
	t.AppendRow(table.Row{"functions", dm.Functions.Len()})
	t.AppendRow(table.Row{"metrics", dm.Metrics.Len()})
	t.AppendRow(table.Row{"threads", dm.Threads.Len()})
	t.AppendFooter(table.Row{"elapsed", elapsed.Round(time.Millisecond)})
	t.Render()

	files := table.NewWriter()
	files.SetOutputMirror(os.Stdout)
	files.SetStyle(table.StyleLight)
	files.AppendHeader(table.Row{"file", "size"})
	for _, name := range []string{"profile.db", "cct.db", "id.db"} {
		files.AppendRow(table.Row{filepath.Join(opts.Dir, name), humanize.Bytes(uint64(written[name]))})
	}
	files.Render()

	if cpus := runtime.NumCPU(); cpus < opts.TeamSize {
		color.New(color.FgYellow).Fprintf(os.Stdout, "warning: team_size %d exceeds %d available CPUs\n", opts.TeamSize, cpus)
	}
}
