// Package worker implements the dispatch loops: claim a job, run it,
// record the outcome, repeat until nothing is left. The local variant
// claims by byte-range locks on the shared job file; the network variant
// asks a coordinator over TCP. Correctness relies entirely on the claim
// mechanism — workers in a pool never coordinate with each other.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ccs-labs/runmaker/internal/execute"
	"github.com/ccs-labs/runmaker/internal/job"
	"github.com/ccs-labs/runmaker/internal/jobfile"
)

// LocalOptions configures one local dispatch loop.
type LocalOptions struct {
	// Retry makes failed ('!') and errored ('e') jobs eligible again.
	Retry bool

	// OneOnly stops the loop after the first successfully completed job.
	OneOnly bool

	Exec execute.Options
}

// RunLocal scans the job file once and claims and executes every eligible
// job it can win. Jobs lost to other workers are skipped silently. A
// supervisory error (including cancellation) marks the current job 'e'
// and stops this worker; it does not touch other jobs or workers.
func RunLocal(ctx context.Context, f *jobfile.File, opts LocalOptions) error {
	jobs, err := f.Jobs()
	if err != nil {
		return err
	}
	for _, j := range jobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !j.Eligible(opts.Retry) {
			continue
		}
		claimed, ok, err := f.SetState(j, job.Claimed)
		if err != nil {
			return err
		}
		if !ok {
			// Another worker won the race; move on.
			continue
		}
		done, err := runClaimed(ctx, f, claimed, opts)
		if err != nil {
			return err
		}
		if done && opts.OneOnly {
			break
		}
	}
	return nil
}

// runClaimed owns the job from the moment the '?' claim succeeded. It
// reports done == true when the command exited 0.
func runClaimed(ctx context.Context, f *jobfile.File, j job.Job, opts LocalOptions) (done bool, err error) {
	defer func() {
		if err != nil {
			// Record the supervisory failure before stopping.
			if _, ok, serr := f.SetState(j, job.Error); serr != nil || !ok {
				slog.Warn("could not record job error state",
					"offset", j.Offset, "error", serr)
			}
		}
	}()

	running, ok, err := f.SetState(j, job.Running)
	if err != nil {
		return false, err
	}
	if !ok {
		// Nobody else may transition a job we hold at '?'.
		return false, fmt.Errorf("job at offset %d changed under our claim", j.Offset)
	}
	j = running

	code, err := execute.Run(ctx, j, opts.Exec)
	if err != nil {
		return false, err
	}

	next := job.Failed
	if code == 0 {
		next = job.Done
	}
	updated, ok, err := f.SetState(j, next)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, fmt.Errorf("job at offset %d changed while running", j.Offset)
	}
	j = updated
	return next == job.Done, nil
}
