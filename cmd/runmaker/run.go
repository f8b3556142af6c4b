package main

import (
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ccs-labs/runmaker/internal/execute"
	"github.com/ccs-labs/runmaker/internal/jobfile"
	"github.com/ccs-labs/runmaker/internal/log"
	"github.com/ccs-labs/runmaker/internal/pool"
	"github.com/ccs-labs/runmaker/internal/runlog"
	"github.com/ccs-labs/runmaker/internal/worker"
)

var (
	flagJobs     int
	flagRetry    bool
	flagLogfile  string
	flagLoglines int
	flagOneOnly  bool
	flagWorkerID string
)

var runCmd = &cobra.Command{
	Use:   "run <jobfile>",
	Short: "execute jobs from a shared job file",
	Args:  cobra.ExactArgs(1),
	RunE:  doRun,
}

var localWorkerCmd = &cobra.Command{
	Use:    "_run <jobfile>",
	Short:  "internal command",
	Hidden: true,
	Args:   cobra.ExactArgs(1),
	RunE:   doLocalWorker,
}

func init() {
	for _, c := range []*cobra.Command{runCmd, localWorkerCmd} {
		c.Flags().BoolVarP(&flagRetry, "retry", "r", false, "retry failed jobs")
		c.Flags().StringVarP(&flagLogfile, "logfile", "l", "", "log output to FILENAME")
		c.Flags().IntVarP(&flagLoglines, "loglines", "n", 0,
			"if logging, log the last NUMBER lines of output (default from config)")
		c.Flags().BoolVarP(&flagOneOnly, "one-only", "1", false,
			"run no more than a single job before exiting")
	}
	runCmd.Flags().IntVarP(&flagJobs, "jobs", "j", 1,
		"start NUMBER jobs in parallel, 0 meaning autodetect")
	localWorkerCmd.Flags().StringVar(&flagWorkerID, "worker-id", "", "")
	_ = localWorkerCmd.Flags().MarkHidden("worker-id")
}

// doRun spawns the local worker pool. Each worker is its own OS process
// running the hidden _run subcommand; the byte-range locks that arbitrate
// claims are held per process.
func doRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return pool.Run(ctx, pool.Options{
		Workers: flagJobs,
		Command: "_run",
		Args:    passThroughArgs(args[0]),
	})
}

func doLocalWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.ContextAttrs(ctx,
		slog.String("worker_id", flagWorkerID),
		slog.Int("pid", os.Getpid()),
	)

	f, err := jobfile.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	return worker.RunLocal(ctx, f, worker.LocalOptions{
		Retry:   flagRetry,
		OneOnly: flagOneOnly,
		Exec:    execOptions(),
	})
}

// passThroughArgs rebuilds the child worker's argument list from the
// parent's flags.
func passThroughArgs(target string) []string {
	args := []string{target}
	if flagRetry {
		args = append(args, "--retry")
	}
	if flagLogfile != "" {
		args = append(args, "--logfile", flagLogfile)
	}
	if flagLoglines > 0 {
		args = append(args, "--loglines", strconv.Itoa(flagLoglines))
	}
	if flagOneOnly {
		args = append(args, "--one-only")
	}
	if flagConfigPath != "" {
		args = append(args, "--config", flagConfigPath)
	}
	if flagVerbose {
		args = append(args, "--verbose")
	}
	return args
}

func execOptions() execute.Options {
	lines := flagLoglines
	if lines == 0 {
		lines = cfg.LogLines
	}
	return execute.Options{
		LogPath: flagLogfile,
		Log: runlog.Options{
			Width:    cfg.LogWidth,
			Lines:    lines,
			Interval: time.Duration(cfg.FlushSeconds) * time.Second,
		},
	}
}
