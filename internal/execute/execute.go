// Package execute runs one job's command and supervises its output: the
// command runs through the shell in its own process group, stdout and
// stderr are multiplexed by a readiness-polling loop (no goroutine per
// stream), and every line is tagged with the run identity before being
// printed or folded into the job's rotating log slot.
package execute

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ccs-labs/runmaker/internal/job"
	"github.com/ccs-labs/runmaker/internal/runlog"
)

// pollTimeout bounds the readiness wait when no log flush is pending, so
// cancellation is observed between poll iterations.
const pollTimeout = time.Second

// Options configures a run.
type Options struct {
	// LogPath is the shared log file holding one slot per job. Empty
	// means tagged output lines are printed to Stdout instead.
	LogPath string
	Log     runlog.Options

	// Shell runs the command via Shell -c. Default /bin/sh.
	Shell string

	// Stdout receives status lines and, when no log file is configured,
	// the tagged output lines. Default os.Stdout.
	Stdout io.Writer
}

// Run executes the job's command and returns its exit code. A job is
// successful iff the code is exactly 0. On cancellation or any error
// after the spawn, the whole process group receives SIGINT before Run
// returns, so no orphaned children survive a failed run.
func Run(ctx context.Context, j job.Job, opts Options) (int, error) {
	out := opts.Stdout
	if out == nil {
		out = os.Stdout
	}
	shell := opts.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	fmt.Fprintf(out, "executing `%s'\n", j.Cmd)

	var slot *runlog.Slot
	if opts.LogPath != "" {
		var err error
		slot, err = runlog.Open(opts.LogPath, j.Number, j.Cmd, opts.Log)
		if err != nil {
			return 0, err
		}
		defer slot.Close()
	}

	stdout, stderr, cmd, err := spawn(shell, j.Cmd)
	if err != nil {
		return 0, err
	}

	hostname, _ := os.Hostname()
	ident := fmt.Sprintf("%s,%d", hostname, cmd.Process.Pid)

	status := fmt.Sprintf("status (%s): forked %q", ident, j.Cmd)
	fmt.Fprintln(out, status)
	if slot != nil {
		slot.Append("+ " + status)
		if err := slot.Flush(); err != nil {
			return abort(cmd, err)
		}
	}

	streams := []*stream{
		{f: stdout, name: "stdout", mark: ": "},
		{f: stderr, name: "stderr", mark: "! "},
	}
	defer func() {
		for _, s := range streams {
			if !s.closed {
				s.f.Close()
			}
		}
	}()

	if err := supervise(ctx, streams, ident, slot, out); err != nil {
		return abort(cmd, err)
	}

	code, err := wait(cmd)
	if err != nil {
		return abort(cmd, err)
	}

	status = fmt.Sprintf("status (%s): exit %d %q", ident, code, j.Cmd)
	fmt.Fprintln(out, status)
	if slot != nil {
		slot.Append("+ " + status)
		if err := slot.Flush(); err != nil {
			return 0, err
		}
	}
	return code, nil
}

// spawn starts the command in its own process group with pipes on stdout
// and stderr. Stdin reads EOF immediately; jobs are non-interactive.
func spawn(shell, command string) (*os.File, *os.File, *exec.Cmd, error) {
	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, nil, nil, err
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		return nil, nil, nil, err
	}

	cmd := exec.Command(shell, "-c", command)
	cmd.Stdin = nil
	cmd.Stdout = outW
	cmd.Stderr = errW
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		outR.Close()
		outW.Close()
		errR.Close()
		errW.Close()
		return nil, nil, nil, fmt.Errorf("starting %q: %w", command, err)
	}
	// The child holds the write ends now.
	outW.Close()
	errW.Close()
	return outR, errR, cmd, nil
}

// stream is one of the child's output pipes together with its partial
// line buffer.
type stream struct {
	f      *os.File
	name   string // "stdout" or "stderr"
	mark   string // slot line prefix
	buf    []byte
	closed bool
}

// supervise multiplexes the two pipes until both hang up. It waits for
// readiness with unix.Poll, bounded by the time until the next log flush
// is due, reads whatever is available, and emits complete lines. The
// context is checked between iterations.
func supervise(ctx context.Context, streams []*stream, ident string, slot *runlog.Slot, out io.Writer) error {
	for {
		open := 0
		for _, s := range streams {
			if !s.closed {
				open++
			}
		}
		if open == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		fds := make([]unix.PollFd, 0, open)
		polled := make([]*stream, 0, open)
		for _, s := range streams {
			if s.closed {
				continue
			}
			fds = append(fds, unix.PollFd{Fd: int32(s.f.Fd()), Events: unix.POLLIN | unix.POLLHUP})
			polled = append(polled, s)
		}

		timeout := pollTimeout
		if slot != nil {
			timeout = slot.NextFlushDue()
		}
		n, err := unix.Poll(fds, int(timeout.Milliseconds()))
		if err != nil && err != unix.EINTR {
			return fmt.Errorf("polling job output: %w", err)
		}
		if n > 0 {
			for i, fd := range fds {
				if fd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) == 0 {
					continue
				}
				if err := polled[i].drainOnce(ident, slot, out); err != nil {
					return err
				}
			}
		}
		if slot != nil {
			if err := slot.MaybeFlush(); err != nil {
				return err
			}
		}
	}
}

// drainOnce reads the bytes currently available on the pipe and emits any
// complete lines. A zero-length read means the writer hung up; whatever
// remains in the partial-line buffer is emitted as a final line.
func (s *stream) drainOnce(ident string, slot *runlog.Slot, out io.Writer) error {
	var chunk [4096]byte
	n, err := s.f.Read(chunk[:])
	if n > 0 {
		s.buf = append(s.buf, chunk[:n]...)
		for {
			i := bytes.IndexByte(s.buf, '\n')
			if i < 0 {
				break
			}
			s.emit(string(s.buf[:i]), ident, slot, out)
			s.buf = s.buf[i+1:]
		}
	}
	if err != nil || n == 0 {
		if err != nil && err != io.EOF {
			return fmt.Errorf("reading job %s: %w", s.name, err)
		}
		if len(s.buf) > 0 {
			s.emit(string(s.buf), ident, slot, out)
			s.buf = nil
		}
		s.closed = true
		s.f.Close()
	}
	return nil
}

func (s *stream) emit(line, ident string, slot *runlog.Slot, out io.Writer) {
	tagged := fmt.Sprintf("%s (%s): %s", s.name, ident, line)
	if slot != nil {
		slot.Append(s.mark + tagged)
		return
	}
	fmt.Fprintln(out, tagged)
}

// wait reaps the child and extracts its real exit code.
func wait(cmd *exec.Cmd) (int, error) {
	err := cmd.Wait()
	if err == nil {
		return 0, nil
	}
	if _, ok := err.(*exec.ExitError); ok {
		return cmd.ProcessState.ExitCode(), nil
	}
	return 0, err
}

// abort interrupts the child's entire process group, reaps it, and
// propagates the supervisory error.
func abort(cmd *exec.Cmd, cause error) (int, error) {
	interruptGroup(cmd.Process.Pid)
	_ = cmd.Wait()
	return 0, cause
}

func interruptGroup(pid int) {
	pgid, err := unix.Getpgid(pid)
	if err != nil {
		return
	}
	_ = unix.Kill(-pgid, unix.SIGINT)
}
