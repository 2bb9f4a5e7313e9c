// Command profbuild is the CLI entry point for building profile.db and
// cct.db from HPCToolkit-style measurement files (spec §1). It follows the
// cobra root-command-plus-subcommand shape of
// Sumatoshi-tech-codefang/cmd/codefang/main.go: a bare root command with
// "run" (doing the actual work), "init-config" and "version" subcommands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ccprof/profbuild/xerrors"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "profbuild",
		Short: "Build HPCToolkit sparse profile databases from measurement files",
		Long: `profbuild parses HPCToolkit measurement files, constructs the shared
calling-context tree, and writes profile.db and cct.db.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newInitConfigCommand())
	rootCmd.AddCommand(versionCommand())

	if err := rootCmd.Execute(); err != nil {
		sev := xerrors.Classify(err)
		fmt.Fprintf(os.Stderr, "%s: %v\n", sev, err)
		if sev == xerrors.Fatal {
			os.Exit(1)
		}
		os.Exit(2)
	}
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the profbuild version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "profbuild (development build)")
		},
	}
}
