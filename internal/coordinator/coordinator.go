// Package coordinator implements the network-mediated claim protocol: a
// single-process TCP service that owns one job file and serves claim and
// update requests strictly one client at a time. The sequential accept
// loop alone provides mutual exclusion — there is no in-process locking,
// and no other process may touch the job file while the coordinator runs.
package coordinator

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/ccs-labs/runmaker/internal/job"
	"github.com/ccs-labs/runmaker/internal/jobfile"
	"github.com/ccs-labs/runmaker/internal/metrics"
	"github.com/ccs-labs/runmaker/internal/protocol"
)

const (
	requestBufferSize = 2048
	connDeadline      = 10 * time.Second
)

// Options configures a coordinator.
type Options struct {
	// Token authenticates every request, compared verbatim.
	Token string

	// Retry makes failed and errored jobs eligible for GET again.
	Retry bool

	// Metrics is optional; nil disables recording.
	Metrics *metrics.Collector
}

// Coordinator serializes all access to one job file. The file is parsed
// exactly once at construction; edits made by other processes afterwards
// are not observed, because there must not be any.
type Coordinator struct {
	file *jobfile.File
	ln   net.Listener
	opts Options

	// mu guards jobs against concurrent Jobs() inspection; requests
	// themselves are handled strictly one at a time.
	mu   sync.Mutex
	jobs []job.Job
}

func New(f *jobfile.File, ln net.Listener, opts Options) (*Coordinator, error) {
	jobs, err := f.Jobs()
	if err != nil {
		return nil, err
	}
	c := &Coordinator{file: f, jobs: jobs, ln: ln, opts: opts}
	c.opts.Metrics.SetJobs(jobfile.Count(c.jobs))
	return c, nil
}

// Addr returns the listening address.
func (c *Coordinator) Addr() net.Addr {
	return c.ln.Addr()
}

// Serve accepts and handles connections until ctx is cancelled, then
// returns nil. Handling is strictly sequential by design.
func (c *Coordinator) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		c.ln.Close()
	}()

	for {
		conn, err := c.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		c.handle(conn)
	}
}

func (c *Coordinator) handle(conn net.Conn) {
	defer conn.Close()
	c.mu.Lock()
	defer c.mu.Unlock()
	remote := conn.RemoteAddr().String()
	_ = conn.SetDeadline(time.Now().Add(connDeadline))

	buf := make([]byte, requestBufferSize)
	n, err := conn.Read(buf)
	if err != nil && n == 0 {
		slog.Debug("dropping unreadable connection", "remote", remote, "error", err)
		return
	}
	raw := string(buf[:n])

	req, err := protocol.ParseRequest(raw)
	if err != nil {
		slog.Error("received invalid command", "remote", remote, "request", raw)
		c.reply(conn, protocol.InvalidCmd)
		c.opts.Metrics.RecordRequest("?", metrics.ResultInvalidCmd)
		return
	}
	if req.RequestToken() != c.opts.Token {
		slog.Error("received invalid token, ignoring request", "remote", remote)
		c.reply(conn, protocol.InvalidToken)
		c.opts.Metrics.RecordRequest(req.Command(), metrics.ResultInvalidToken)
		return
	}

	switch r := req.(type) {
	case protocol.GetRequest:
		c.handleGet(conn, remote)
	case protocol.SetRequest:
		c.handleSet(conn, remote, r)
	}
	c.opts.Metrics.SetJobs(jobfile.Count(c.jobs))
}

// handleGet claims the first eligible job and sends it, then waits for
// the client's acknowledgment. If the ACK never arrives the job stays at
// '?' with no timeout or reclaim mechanism; that gap is inherited from
// the protocol and deliberately not papered over here.
func (c *Coordinator) handleGet(conn net.Conn, remote string) {
	j, ok := c.nextJob()
	number, cmd := protocol.NoJobNumber, ""
	result := metrics.ResultNoJob
	if ok {
		number, cmd = j.Number, j.Cmd
		result = metrics.ResultOK
	}
	slog.Debug("returning job", "remote", remote, "number", number, "cmd", cmd)

	if !c.reply(conn, protocol.FormatJobReply(number, cmd)) {
		c.opts.Metrics.RecordRequest("GET", result)
		return
	}
	ack := make([]byte, len(protocol.Ack))
	if _, err := conn.Read(ack); err != nil && ok {
		slog.Warn("client did not acknowledge claimed job",
			"remote", remote, "number", number, "error", err)
	}
	c.opts.Metrics.RecordRequest("GET", result)
}

// nextJob claims the first eligible job, transitioning it to '?'.
func (c *Coordinator) nextJob() (job.Job, bool) {
	for i, j := range c.jobs {
		if !j.Eligible(c.opts.Retry) {
			continue
		}
		claimed, ok, err := c.file.SetState(j, job.Claimed)
		if err != nil {
			slog.Error("claiming job failed", "number", j.Number, "error", err)
			continue
		}
		if !ok {
			// The file diverged from our snapshot; someone else wrote
			// to it, which the deployment contract forbids.
			slog.Warn("job state byte changed out of band", "number", j.Number)
			continue
		}
		c.jobs[i] = claimed
		return claimed, true
	}
	return job.Job{}, false
}

// handleSet updates one job's state. The state is validated here, after
// authentication, so a bad token always wins over a bad state. For a
// settable state the update is unconditional at this layer: the
// coordinator is the file's only writer, so the underlying
// compare-and-swap always matches.
func (c *Coordinator) handleSet(conn net.Conn, remote string, r protocol.SetRequest) {
	if !protocol.Settable(r.State) {
		slog.Error("received invalid state", "remote", remote, "number", r.Number)
		c.reply(conn, protocol.InvalidCmd)
		c.opts.Metrics.RecordRequest("SET", metrics.ResultInvalidCmd)
		return
	}
	for i, j := range c.jobs {
		if j.Number != r.Number {
			continue
		}
		slog.Debug("setting job state", "remote", remote, "number", r.Number, "state", r.State)
		updated, ok, err := c.file.SetState(j, r.State)
		if err != nil {
			slog.Error("writing job state failed", "number", r.Number, "error", err)
		} else if !ok {
			slog.Warn("job state byte changed out of band", "number", r.Number)
		} else {
			c.jobs[i] = updated
		}
		break
	}
	c.reply(conn, protocol.Ack)
	c.opts.Metrics.RecordRequest("SET", metrics.ResultOK)
}

func (c *Coordinator) reply(conn net.Conn, msg string) bool {
	if _, err := conn.Write([]byte(msg)); err != nil {
		slog.Warn("writing response failed", "remote", conn.RemoteAddr().String(), "error", err)
		return false
	}
	return true
}

// Jobs returns a copy of the coordinator's current view of the job list.
func (c *Coordinator) Jobs() []job.Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]job.Job, len(c.jobs))
	copy(out, c.jobs)
	return out
}
