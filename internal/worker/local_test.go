package worker_test

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/ccs-labs/runmaker/internal/execute"
	"github.com/ccs-labs/runmaker/internal/job"
	"github.com/ccs-labs/runmaker/internal/jobfile"
	"github.com/ccs-labs/runmaker/internal/worker"

	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}
}

func writeJobFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobs.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func quietExec() execute.Options {
	return execute.Options{Stdout: new(bytes.Buffer)}
}

func states(t *testing.T, path string) []job.State {
	t.Helper()
	f, err := jobfile.OpenRead(path)
	require.NoError(t, err)
	defer f.Close()
	jobs, err := f.Jobs()
	require.NoError(t, err)
	out := make([]job.State, len(jobs))
	for i, j := range jobs {
		out[i] = j.State
	}
	return out
}

func TestRunLocal(t *testing.T) {
	t.Parallel()
	requireShell(t)
	path := writeJobFile(t, "# demo\n. true\n. false\n")

	f, err := jobfile.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })

	err = worker.RunLocal(testContext(t), f, worker.LocalOptions{Exec: quietExec()})
	require.NoError(t, err)
	require.Equal(t, []job.State{job.Done, job.Failed}, states(t, path))
}

func TestRunLocalRetry(t *testing.T) {
	t.Parallel()
	requireShell(t)
	path := writeJobFile(t, "! false\ne true\nd true\n. true\n")

	f, err := jobfile.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })

	t.Run("without retry only pending runs", func(t *testing.T) {
		err := worker.RunLocal(testContext(t), f, worker.LocalOptions{Exec: quietExec()})
		require.NoError(t, err)
		require.Equal(t,
			[]job.State{job.Failed, job.Error, job.Done, job.Done},
			states(t, path))
	})

	t.Run("with retry failed and errored run again", func(t *testing.T) {
		err := worker.RunLocal(testContext(t), f,
			worker.LocalOptions{Retry: true, Exec: quietExec()})
		require.NoError(t, err)
		require.Equal(t,
			[]job.State{job.Failed, job.Done, job.Done, job.Done},
			states(t, path))
	})
}

func TestRunLocalOneOnly(t *testing.T) {
	t.Parallel()
	requireShell(t)
	path := writeJobFile(t, ". false\n. true\n. true\n")

	f, err := jobfile.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })

	// a failed job does not count as the one completed job
	err = worker.RunLocal(testContext(t), f,
		worker.LocalOptions{OneOnly: true, Exec: quietExec()})
	require.NoError(t, err)
	require.Equal(t, []job.State{job.Failed, job.Done, job.Pending}, states(t, path))
}

// A spawn failure is a supervisory error: the claimed job must end 'e'
// and the worker must stop with the error, leaving later jobs untouched.
func TestRunLocalSpawnErrorRecordsError(t *testing.T) {
	t.Parallel()
	path := writeJobFile(t, ". true\n. true\n")

	f, err := jobfile.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })

	err = worker.RunLocal(testContext(t), f, worker.LocalOptions{
		Exec: execute.Options{Shell: "/does/not/exist", Stdout: new(bytes.Buffer)},
	})
	require.Error(t, err)
	require.Equal(t, []job.State{job.Error, job.Pending}, states(t, path))
}

func TestRunLocalSkipsForeignClaims(t *testing.T) {
	t.Parallel()
	requireShell(t)
	path := writeJobFile(t, "? sleep 60\nr sleep 60\n. true\n")

	f, err := jobfile.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })

	err = worker.RunLocal(testContext(t), f, worker.LocalOptions{Exec: quietExec()})
	require.NoError(t, err)
	require.Equal(t, []job.State{job.Claimed, job.Running, job.Done}, states(t, path))
}
