package worker_test

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ccs-labs/runmaker/internal/job"
	"github.com/ccs-labs/runmaker/internal/protocol"
	"github.com/ccs-labs/runmaker/internal/worker"

	"github.com/stretchr/testify/require"
)

// fakeCoordinator answers every dialed connection with one canned reply
// and records what the client sent.
type fakeCoordinator struct {
	reply     string
	expectAck bool

	dials    atomic.Int32
	requests chan string
	acks     chan string
}

func newFakeCoordinator(reply string, expectAck bool) *fakeCoordinator {
	return &fakeCoordinator{
		reply:     reply,
		expectAck: expectAck,
		requests:  make(chan string, 16),
		acks:      make(chan string, 16),
	}
}

func (f *fakeCoordinator) dial(_ context.Context) (net.Conn, error) {
	f.dials.Add(1)
	client, server := net.Pipe()
	go func() {
		defer server.Close()
		buf := make([]byte, 256)
		n, err := server.Read(buf)
		if err != nil {
			return
		}
		f.requests <- string(buf[:n])
		if _, err := server.Write([]byte(f.reply)); err != nil {
			return
		}
		if f.expectAck {
			n, err = server.Read(buf)
			if err != nil {
				return
			}
			f.acks <- string(buf[:n])
		}
	}()
	return client, nil
}

func newClient(f *fakeCoordinator) *worker.Client {
	return &worker.Client{
		Token: "ABC123",
		Retry: worker.RetryPolicy{Attempts: 2, Backoff: time.Millisecond},
		Dial:  f.dial,
	}
}

func TestClientGet(t *testing.T) {
	t.Parallel()
	fake := newFakeCoordinator("2 echo hi there", true)
	c := newClient(fake)

	j, err := c.Get(testContext(t))
	require.NoError(t, err)
	require.Equal(t, job.Job{Number: 2, State: job.Claimed, Cmd: "echo hi there"}, j)
	require.Equal(t, "GET ABC123", <-fake.requests)
	require.Equal(t, "ACK", <-fake.acks)
	require.Equal(t, int32(1), fake.dials.Load())
}

func TestClientGetNoJob(t *testing.T) {
	t.Parallel()
	fake := newFakeCoordinator("-1 ", true)
	c := newClient(fake)

	_, err := c.Get(testContext(t))
	require.ErrorIs(t, err, worker.ErrNoJob)
	// a drained list is still acknowledged, and never retried
	require.Equal(t, "ACK", <-fake.acks)
	require.Equal(t, int32(1), fake.dials.Load())
}

func TestClientInvalidToken(t *testing.T) {
	t.Parallel()
	fake := newFakeCoordinator(protocol.InvalidToken, false)
	c := newClient(fake)

	_, err := c.Get(testContext(t))
	require.ErrorIs(t, err, protocol.ErrInvalidToken)
	require.Equal(t, int32(1), fake.dials.Load(), "protocol errors must not be retried")

	err = c.Set(testContext(t), 1, job.Done)
	require.ErrorIs(t, err, protocol.ErrInvalidToken)
}

func TestClientSet(t *testing.T) {
	t.Parallel()
	fake := newFakeCoordinator(protocol.Ack, false)
	c := newClient(fake)

	require.NoError(t, c.Set(testContext(t), 7, job.Done))
	require.Equal(t, "SET ABC123 7 d", <-fake.requests)
}

func TestClientRetriesDialFailure(t *testing.T) {
	t.Parallel()
	var dials atomic.Int32
	c := &worker.Client{
		Token: "ABC123",
		Retry: worker.RetryPolicy{Attempts: 3, Backoff: time.Millisecond},
		Dial: func(_ context.Context) (net.Conn, error) {
			dials.Add(1)
			return nil, errors.New("connection refused")
		},
	}

	_, err := c.Get(testContext(t))
	require.Error(t, err)
	require.Contains(t, err.Error(), "giving up after 3 attempts")
	require.Equal(t, int32(3), dials.Load())
}

func TestClientRetriesEmptyReply(t *testing.T) {
	t.Parallel()
	var dials atomic.Int32
	c := &worker.Client{
		Token: "ABC123",
		Retry: worker.RetryPolicy{Attempts: 2, Backoff: time.Millisecond},
		Dial: func(_ context.Context) (net.Conn, error) {
			dials.Add(1)
			client, server := net.Pipe()
			go func() {
				// hang up without answering
				buf := make([]byte, 256)
				_, _ = server.Read(buf)
				server.Close()
			}()
			return client, nil
		},
	}

	_, err := c.Get(testContext(t))
	require.Error(t, err)
	require.Equal(t, int32(2), dials.Load())
}
