package protocol_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ccs-labs/runmaker/internal/job"
	"github.com/ccs-labs/runmaker/internal/protocol"

	"github.com/stretchr/testify/require"
)

func TestParseRequest(t *testing.T) {
	t.Parallel()

	t.Run("get", func(t *testing.T) {
		req, err := protocol.ParseRequest("GET ABC123")
		require.NoError(t, err)
		require.Equal(t, protocol.GetRequest{Token: "ABC123"}, req)
		require.Equal(t, "GET", req.Command())
		require.Equal(t, "ABC123", req.RequestToken())
	})

	t.Run("set", func(t *testing.T) {
		for _, s := range []job.State{job.Running, job.Done, job.Failed, job.Error} {
			req, err := protocol.ParseRequest("SET ABC123 7 " + s.String())
			require.NoError(t, err)
			require.Equal(t, protocol.SetRequest{Token: "ABC123", Number: 7, State: s}, req)
			require.Equal(t, "SET", req.Command())
		}
	})

	t.Run("invalid", func(t *testing.T) {
		for _, raw := range []string{
			"",
			"HELLO",
			"GET",
			"GET ABC123 extra",
			"SET ABC123 7",
			"SET ABC123 seven d",
			"get ABC123",
		} {
			_, err := protocol.ParseRequest(raw)
			require.ErrorIs(t, err, protocol.ErrInvalidCmd, "raw=%q", raw)
		}
	})

	// a bad state still parses, so the caller can answer INVALID_TOKEN
	// for an unauthenticated request before looking at the state at all
	t.Run("bad state is the caller's decision", func(t *testing.T) {
		req, err := protocol.ParseRequest("SET ABC123 7 ?")
		require.NoError(t, err)
		set := req.(protocol.SetRequest)
		require.False(t, protocol.Settable(set.State))

		req, err = protocol.ParseRequest("SET ABC123 7 dd")
		require.NoError(t, err)
		set = req.(protocol.SetRequest)
		require.Equal(t, job.State(0), set.State)
		require.False(t, protocol.Settable(set.State))
	})
}

func TestSettable(t *testing.T) {
	t.Parallel()
	for _, s := range []job.State{job.Running, job.Done, job.Failed, job.Error} {
		require.True(t, protocol.Settable(s))
	}
	for _, s := range []job.State{job.Pending, job.Claimed, job.State('x'), job.State(0)} {
		require.False(t, protocol.Settable(s))
	}
}

func TestJobReply(t *testing.T) {
	t.Parallel()
	require.Equal(t, "-1 ", protocol.FormatJobReply(protocol.NoJobNumber, ""))

	number, cmd, err := protocol.ParseJobReply(protocol.FormatJobReply(3, "echo a b"))
	require.NoError(t, err)
	require.Equal(t, 3, number)
	require.Equal(t, "echo a b", cmd)

	number, cmd, err = protocol.ParseJobReply("-1 ")
	require.NoError(t, err)
	require.Equal(t, protocol.NoJobNumber, number)
	require.Empty(t, cmd)

	_, _, err = protocol.ParseJobReply("garbage")
	require.Error(t, err)
}

func TestNewToken(t *testing.T) {
	t.Parallel()
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	seen := make(map[rune]int)
	for i := 0; i < 1000; i++ {
		token, err := protocol.NewToken()
		require.NoError(t, err)
		require.Len(t, token, 6)
		for _, r := range token {
			require.Contains(t, alphabet, string(r))
			seen[r]++
		}
	}
	// 6000 uniform draws cover all 36 characters
	require.Len(t, seen, len(alphabet))
}

func TestLoadToken(t *testing.T) {
	t.Parallel()

	t.Run("literal", func(t *testing.T) {
		token, err := protocol.LoadToken("ABC123")
		require.NoError(t, err)
		require.Equal(t, "ABC123", token)
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "runmaker.token")
		require.NoError(t, protocol.WriteTokenFile(path, "ABC123"))

		fi, err := os.Stat(path)
		require.NoError(t, err)
		require.Equal(t, os.FileMode(0o600), fi.Mode().Perm())

		token, err := protocol.LoadToken(path)
		require.NoError(t, err)
		require.Equal(t, "ABC123", token)
	})

	t.Run("file with trailing newline", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "runmaker.token")
		require.NoError(t, os.WriteFile(path, []byte("ABC123\n"), 0o600))
		token, err := protocol.LoadToken(path)
		require.NoError(t, err)
		require.Equal(t, "ABC123", token)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := protocol.LoadToken(filepath.Join(t.TempDir(), "gone.token"))
		require.Error(t, err)
		require.True(t, strings.Contains(err.Error(), "token file"))
	})
}

func TestRemoveTokenFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "runmaker.token")
	require.NoError(t, protocol.WriteTokenFile(path, "ABC123"))
	require.NoError(t, protocol.RemoveTokenFile(path))
	// removing twice must not fail
	require.NoError(t, protocol.RemoveTokenFile(path))
}
