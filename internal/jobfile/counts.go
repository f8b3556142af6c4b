package jobfile

import "github.com/ccs-labs/runmaker/internal/job"

// Counts is a per-state tally of one job snapshot.
type Counts struct {
	Pending int
	Claimed int
	Running int
	Done    int
	Failed  int
	Error   int
	Total   int
}

// Count tallies the snapshot by state.
func Count(jobs []job.Job) Counts {
	var c Counts
	c.Total = len(jobs)
	for _, j := range jobs {
		switch j.State {
		case job.Pending:
			c.Pending++
		case job.Claimed:
			c.Claimed++
		case job.Running:
			c.Running++
		case job.Done:
			c.Done++
		case job.Failed:
			c.Failed++
		case job.Error:
			c.Error++
		}
	}
	return c
}

// Processed is the number of jobs that reached a terminal state.
func (c Counts) Processed() int {
	return c.Done + c.Failed + c.Error
}

// Quiescent reports whether no job remains pending or running.
func (c Counts) Quiescent() bool {
	return c.Pending+c.Running == 0
}
