package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ccs-labs/runmaker/internal/config"
	"github.com/ccs-labs/runmaker/internal/log"
)

var (
	cfg config.Config // site defaults, loaded before every command

	flagConfigPath string // value of --config
	flagVerbose    bool   // value of --verbose
)

func main() {
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "",
		"config file to load - default is "+config.DefaultFile+" in the current directory")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	// never print messages twice
	rootCmd.SilenceErrors = true

	// load the config, set up logging
	rootCmd.PersistentPreRunE = initRunmaker

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(localWorkerCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workCmd)
	rootCmd.AddCommand(netWorkerCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(waitCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("runmaker failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "runmaker",
	Short:        "Distribute a file of shell commands across worker processes",
	Long: "Runmaker reads a text file with jobs and executes them, synchronizing " +
		"multiple workers (potentially on different machines) either through byte-range " +
		"locks on the shared job file or through a coordinator reachable over TCP. " +
		"Each line beginning with a dot and a space (. ) will be executed; the file is " +
		"modified to reflect the execution state of each job " +
		"(r-running, d-done, !-failed, e-error).",
	SilenceUsage: true,
}

func initRunmaker(cmd *cobra.Command, _ []string) error {
	path := flagConfigPath
	if path == "" {
		path = config.DefaultFile
	}
	var err error
	cfg, err = config.Load(path)
	if err != nil {
		return err
	}

	log.Setup(flagVerbose)
	return nil
}
