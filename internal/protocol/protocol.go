// Package protocol defines the coordinator's wire protocol: plain-text,
// newline-free, single-shot requests with one response per connection.
//
//	GET <token>                    -> "<number> <command>" then client ACK
//	SET <token> <number> <state>   -> "ACK"
//
// Anything that does not match the grammar is answered INVALID_CMD, a
// wrong token INVALID_TOKEN. Both are terminal for the issuing client.
package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ccs-labs/runmaker/internal/job"
)

// Responses shared by both ends of the wire.
const (
	Ack          = "ACK"
	InvalidCmd   = "INVALID_CMD"
	InvalidToken = "INVALID_TOKEN"
)

// NoJobNumber is the job number sent when no eligible job remains.
const NoJobNumber = -1

var (
	ErrInvalidCmd   = errors.New("invalid command")
	ErrInvalidToken = errors.New("invalid token")
)

// Request is one parsed client request.
type Request interface {
	// RequestToken returns the shared secret the client presented.
	RequestToken() string
	// Command names the request for logs and metrics.
	Command() string
}

// GetRequest asks for the next eligible job.
type GetRequest struct {
	Token string
}

func (r GetRequest) RequestToken() string { return r.Token }
func (r GetRequest) Command() string      { return "GET" }

// SetRequest updates one job's state.
type SetRequest struct {
	Token  string
	Number int
	State  job.State
}

func (r SetRequest) RequestToken() string { return r.Token }
func (r SetRequest) Command() string      { return "SET" }

// Settable reports whether a SET request may carry the state. Claiming
// ('?') is the coordinator's own move and never arrives over the wire.
func Settable(s job.State) bool {
	switch s {
	case job.Running, job.Done, job.Error, job.Failed:
		return true
	}
	return false
}

// ParseRequest parses a raw request into its tagged form, rejecting with
// ErrInvalidCmd anything that does not match the grammar. Token validity
// is the caller's concern, and so is the settability of a SET state: a
// request with a bad token and a bad state is answered INVALID_TOKEN,
// because authentication is checked first. An unusable state field parses
// to the zero State, which is never settable.
func ParseRequest(raw string) (Request, error) {
	parts := strings.Split(strings.TrimRight(raw, "\r\n"), " ")
	switch parts[0] {
	case "GET":
		if len(parts) != 2 {
			return nil, ErrInvalidCmd
		}
		return GetRequest{Token: strings.TrimSpace(parts[1])}, nil
	case "SET":
		if len(parts) != 4 {
			return nil, ErrInvalidCmd
		}
		number, err := strconv.Atoi(parts[2])
		if err != nil {
			return nil, ErrInvalidCmd
		}
		var s job.State
		if len(parts[3]) == 1 {
			s = job.State(parts[3][0])
		}
		return SetRequest{
			Token:  strings.TrimSpace(parts[1]),
			Number: number,
			State:  s,
		}, nil
	}
	return nil, ErrInvalidCmd
}

// FormatGet renders a GET request.
func FormatGet(token string) string {
	return "GET " + token
}

// FormatSet renders a SET request.
func FormatSet(token string, number int, s job.State) string {
	return fmt.Sprintf("SET %s %d %s", token, number, s)
}

// FormatJobReply renders the coordinator's reply to a successful GET. For
// "no job" the command is empty and the number is NoJobNumber, yielding
// the literal "-1 ".
func FormatJobReply(number int, cmd string) string {
	return fmt.Sprintf("%d %s", number, cmd)
}

// ParseJobReply splits a GET reply into job number and command.
func ParseJobReply(reply string) (int, string, error) {
	numberField, cmd, _ := strings.Cut(reply, " ")
	number, err := strconv.Atoi(numberField)
	if err != nil {
		return 0, "", fmt.Errorf("malformed job reply %q: %w", reply, err)
	}
	return number, cmd, nil
}
