package main

import (
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ccs-labs/runmaker/internal/job"
	"github.com/ccs-labs/runmaker/internal/jobfile"
)

var (
	flagExitStatus bool
	flagProgress   bool
)

var waitCmd = &cobra.Command{
	Use:   "wait <jobfile>",
	Short: "wait until every job in a job file has been processed",
	Args:  cobra.ExactArgs(1),
	RunE:  doWait,
}

func init() {
	waitCmd.Flags().BoolVarP(&flagExitStatus, "use-exit-status", "e", false,
		"exit non-zero unless every job finished successfully")
	waitCmd.Flags().BoolVarP(&flagProgress, "progress", "p", false,
		"print a progress line whenever a job changes state")
}

func doWait(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	f, err := jobfile.OpenRead(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	jobs, err := f.Jobs()
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return nil
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var prev []job.State
	for {
		states := make([]job.State, len(jobs))
		for i, j := range jobs {
			states[i] = j.State
		}
		c := jobfile.Count(jobs)
		if flagProgress && !slices.Equal(states, prev) {
			printProgress(c)
		}
		prev = states

		if c.Quiescent() {
			if flagExitStatus && c.Done != c.Total {
				return fmt.Errorf("%d of %d jobs did not complete successfully",
					c.Total-c.Done, c.Total)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		jobs, err = f.Refresh(jobs)
		if err != nil {
			return err
		}
	}
}

// printProgress draws one progress line with a 16-character bar:
// '=' done, 'e' errored, '!' failed, '>' running.
func printProgress(c jobfile.Counts) {
	const barLen = 16
	done := c.Done * barLen / c.Total
	errored := c.Error * barLen / c.Total
	failed := c.Failed * barLen / c.Total
	running := c.Running * barLen / c.Total
	bar := strings.Repeat("=", done) +
		strings.Repeat("e", errored) +
		strings.Repeat("!", failed) +
		strings.Repeat(">", running)
	bar += strings.Repeat(" ", barLen-len(bar))

	fmt.Printf("progress: %3d of %3d jobs processed, %d errors [%s]\n",
		c.Processed(), c.Total, c.Failed+c.Error, bar)
}
