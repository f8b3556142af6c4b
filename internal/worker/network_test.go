package worker_test

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/ccs-labs/runmaker/internal/coordinator"
	"github.com/ccs-labs/runmaker/internal/execute"
	"github.com/ccs-labs/runmaker/internal/job"
	"github.com/ccs-labs/runmaker/internal/jobfile"
	"github.com/ccs-labs/runmaker/internal/worker"

	"github.com/stretchr/testify/require"
)

// startCoordinator serves content on a loopback port and tears the accept
// loop down when the test ends.
func startCoordinator(t *testing.T, content string) (*coordinator.Coordinator, *worker.Client) {
	t.Helper()
	path := writeJobFile(t, content)
	f, err := jobfile.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	coord, err := coordinator.New(f, ln, coordinator.Options{Token: "ABC123"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- coord.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	c := &worker.Client{
		Addr:  coord.Addr().String(),
		Token: "ABC123",
		Retry: worker.RetryPolicy{Attempts: 2, Backoff: time.Millisecond},
	}
	return coord, c
}

// TestRunNetwork drives the full network path: a real coordinator on a
// loopback port, a client dispatch loop, real shell commands.
func TestRunNetwork(t *testing.T) {
	t.Parallel()
	requireShell(t)

	coord, c := startCoordinator(t, "# demo\n. true\n. false\n. true\n")
	require.NoError(t, worker.RunNetwork(testContext(t), c, quietExec()))

	var got []job.State
	for _, j := range coord.Jobs() {
		got = append(got, j.State)
	}
	require.Equal(t, []job.State{job.Done, job.Failed, job.Done}, got)
}

// A spawn failure must be reported back as 'e' and stop the worker; the
// remaining jobs stay with the coordinator.
func TestRunNetworkSpawnErrorRecordsError(t *testing.T) {
	t.Parallel()

	coord, c := startCoordinator(t, ". true\n. true\n")
	err := worker.RunNetwork(testContext(t), c, execute.Options{
		Shell:  "/does/not/exist",
		Stdout: new(bytes.Buffer),
	})
	require.Error(t, err)

	jobs := coord.Jobs()
	require.Equal(t, job.Error, jobs[0].State)
	require.Equal(t, job.Pending, jobs[1].State)
}
