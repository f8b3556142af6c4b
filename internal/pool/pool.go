// Package pool runs N dispatch loops as separate OS processes by
// re-executing the current binary with a hidden subcommand. Workers must
// be processes, not goroutines: POSIX record locks are held per process,
// so two local dispatch loops inside one process could not exclude each
// other on the job file.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Options configures a worker pool.
type Options struct {
	// Workers is the pool size; 0 means autodetect available parallelism.
	Workers int

	// Command is the hidden subcommand each child runs ("_run" or
	// "_work").
	Command string

	// Args follow the subcommand: the target (job file or host) plus
	// pass-through flags.
	Args []string
}

// Run spawns the workers and waits for all of them to exit. Workers run
// independently; one worker failing does not stop the others. The first
// failure is reported after every child has exited. Cancelling ctx
// interrupts the children.
func Run(ctx context.Context, opts Options) error {
	n := opts.Workers
	if n == 0 {
		n = runtime.NumCPU()
	}
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locating own binary: %w", err)
	}

	var g errgroup.Group
	for i := 0; i < n; i++ {
		id := uuid.NewString()[:8]
		args := append([]string{opts.Command}, opts.Args...)
		args = append(args, "--worker-id", id)

		cmd := exec.CommandContext(ctx, exe, args...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		cmd.Cancel = func() error {
			return cmd.Process.Signal(os.Interrupt)
		}

		g.Go(func() error {
			slog.Debug("starting worker process", "worker_id", id, "command", opts.Command)
			if err := cmd.Run(); err != nil {
				return fmt.Errorf("worker %s: %w", id, err)
			}
			slog.Debug("worker process finished", "worker_id", id)
			return nil
		})
	}
	return g.Wait()
}
