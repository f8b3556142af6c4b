package worker

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ccs-labs/runmaker/internal/execute"
	"github.com/ccs-labs/runmaker/internal/job"
)

// RunNetwork is the network dispatch loop: GET a job, mark it running,
// execute, report the outcome; loop until the coordinator reports no job
// remains. A supervisory error during execution (including cancellation)
// records the job as 'e' and stops this worker.
func RunNetwork(ctx context.Context, c *Client, opts execute.Options) error {
	for {
		j, err := c.Get(ctx)
		if errors.Is(err, ErrNoJob) {
			return nil
		}
		if err != nil {
			return err
		}

		if err := c.Set(ctx, j.Number, job.Running); err != nil {
			return err
		}

		code, runErr := execute.Run(ctx, j, opts)
		if runErr != nil {
			// Record the error even when ctx is already cancelled.
			if err := c.Set(context.WithoutCancel(ctx), j.Number, job.Error); err != nil {
				slog.Warn("could not report job error state",
					"job", j.Number, "error", err)
			}
			return runErr
		}

		next := job.Failed
		if code == 0 {
			next = job.Done
		}
		if err := c.Set(ctx, j.Number, next); err != nil {
			return err
		}
	}
}
