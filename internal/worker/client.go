package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/ccs-labs/runmaker/internal/job"
	"github.com/ccs-labs/runmaker/internal/protocol"
)

// ErrNoJob reports that the coordinator has no eligible job left.
var ErrNoJob = errors.New("no eligible job remains")

const replyBufferSize = 2048

// Client issues single-shot requests to the coordinator: one connection
// per request, closed after the exchange. Transient failures (dial
// errors, empty responses) are retried per the policy with randomized
// backoff; INVALID_CMD and INVALID_TOKEN are terminal — retrying cannot
// change the outcome.
type Client struct {
	Addr  string
	Token string
	Retry RetryPolicy

	// Dial overrides the TCP dialer in tests.
	Dial func(ctx context.Context) (net.Conn, error)
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	if c.Dial != nil {
		return c.Dial(ctx)
	}
	var d net.Dialer
	return d.DialContext(ctx, "tcp", c.Addr)
}

// Get asks for the next job and acknowledges receipt. It returns ErrNoJob
// when the list is drained.
func (c *Client) Get(ctx context.Context) (job.Job, error) {
	var j job.Job
	err := c.withRetries(ctx, func() error {
		var err error
		j, err = c.getOnce(ctx)
		return err
	})
	return j, err
}

func (c *Client) getOnce(ctx context.Context) (job.Job, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return job.Job{}, fmt.Errorf("connecting to coordinator: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(protocol.FormatGet(c.Token))); err != nil {
		return job.Job{}, fmt.Errorf("sending GET: %w", err)
	}
	reply, err := readReply(conn)
	if err != nil {
		return job.Job{}, err
	}

	switch reply {
	case "":
		return job.Job{}, errors.New("empty coordinator response")
	case protocol.InvalidCmd:
		return job.Job{}, protocol.ErrInvalidCmd
	case protocol.InvalidToken:
		return job.Job{}, protocol.ErrInvalidToken
	}

	// The coordinator holds the claim until this acknowledgment lands.
	if _, err := conn.Write([]byte(protocol.Ack)); err != nil {
		return job.Job{}, fmt.Errorf("sending ACK: %w", err)
	}

	number, cmd, err := protocol.ParseJobReply(reply)
	if err != nil {
		return job.Job{}, err
	}
	if number == protocol.NoJobNumber {
		return job.Job{}, ErrNoJob
	}
	return job.Job{Number: number, State: job.Claimed, Cmd: cmd}, nil
}

// Set reports a job's new state and waits for the coordinator's ACK.
func (c *Client) Set(ctx context.Context, number int, s job.State) error {
	return c.withRetries(ctx, func() error {
		return c.setOnce(ctx, number, s)
	})
}

func (c *Client) setOnce(ctx context.Context, number int, s job.State) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("connecting to coordinator: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(protocol.FormatSet(c.Token, number, s))); err != nil {
		return fmt.Errorf("sending SET: %w", err)
	}
	reply, err := readReply(conn)
	if err != nil {
		return err
	}
	switch reply {
	case protocol.Ack:
		return nil
	case protocol.InvalidCmd:
		return protocol.ErrInvalidCmd
	case protocol.InvalidToken:
		return protocol.ErrInvalidToken
	}
	return fmt.Errorf("unexpected coordinator response %q", reply)
}

// withRetries runs one request attempt up to Retry.Attempts times.
// Protocol errors, ErrNoJob and cancellation pass through immediately.
func (c *Client) withRetries(ctx context.Context, attempt func() error) error {
	retry := c.Retry.withDefaults()
	var lastErr error
	for i := 0; i < retry.Attempts; i++ {
		err := attempt()
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrNoJob),
			errors.Is(err, protocol.ErrInvalidCmd),
			errors.Is(err, protocol.ErrInvalidToken):
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		}
		lastErr = err
		slog.Warn("coordinator request failed, retrying",
			"attempt", i+1, "of", retry.Attempts, "error", err)
		retry.sleep(ctx)
	}
	return fmt.Errorf("giving up after %d attempts: %w", retry.Attempts, lastErr)
}

func readReply(conn net.Conn) (string, error) {
	// Single-shot exchange: one read covers the whole reply.
	if err := conn.SetReadDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return "", err
	}
	buf := make([]byte, replyBufferSize)
	n, err := conn.Read(buf)
	if err != nil && n == 0 {
		return "", fmt.Errorf("reading coordinator response: %w", err)
	}
	return string(buf[:n]), nil
}
