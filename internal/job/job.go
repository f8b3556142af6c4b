// Package job defines the job model shared by every tool: one schedulable
// shell command per line of a job file, with its execution state recorded
// as a single byte at a fixed position in that file.
package job

// State is the single character recording a job's position in its
// lifecycle. It occupies the first byte of the job's line and is the only
// byte of the line ever mutated.
type State byte

const (
	Pending State = '.' // not yet picked up
	Claimed State = '?' // reserved by a worker, transiently
	Running State = 'r'
	Done    State = 'd' // exited 0
	Failed  State = '!' // exited nonzero
	Error   State = 'e' // supervisory error during dispatch or execution
)

// Valid reports whether s is one of the known state characters.
func (s State) Valid() bool {
	switch s {
	case Pending, Claimed, Running, Done, Failed, Error:
		return true
	}
	return false
}

func (s State) String() string {
	return string(rune(s))
}

// Job is one parsed line of a job file. It is a value: a fresh snapshot is
// produced by every parse pass, and state transitions yield updated copies
// rather than mutating shared records.
type Job struct {
	// Number is the 1-based position among the parsed jobs of one pass.
	// It is stable only within that pass.
	Number int

	// Offset and Length delimit the line's byte range in the file. The
	// state byte lives at Offset for the lifetime of the file.
	Offset int64
	Length int64

	State State

	// Cmd is the shell command, immutable once parsed.
	Cmd string
}

// Eligible reports whether the job may be claimed: pending always, failed
// and errored jobs additionally when retry mode is on.
func (j Job) Eligible(retry bool) bool {
	if j.State == Pending {
		return true
	}
	return retry && (j.State == Failed || j.State == Error)
}

// WithState returns a copy of the job carrying the new state.
func (j Job) WithState(s State) Job {
	j.State = s
	return j
}
