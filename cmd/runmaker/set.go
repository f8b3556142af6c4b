package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ccs-labs/runmaker/internal/job"
	"github.com/ccs-labs/runmaker/internal/jobfile"
)

var (
	flagSetState string
	flagList     bool
	flagAll      bool
)

var setCmd = &cobra.Command{
	Use:   "set <jobfile> [offset ...]",
	Short: "list jobs and manipulate their states",
	Long: "Set addresses jobs by the byte offset of their state character, as " +
		"printed by --list. With --state it rewrites the state of the selected " +
		"jobs; with --all it selects every job in the file.",
	Args: cobra.MinimumNArgs(1),
	RunE: doSet,
}

func init() {
	setCmd.Flags().StringVarP(&flagSetState, "set", "s", "",
		"set the selected jobs to this state character")
	setCmd.Flags().BoolVarP(&flagList, "list", "l", false,
		"list the selected jobs as <offset>: <state> - <command>")
	setCmd.Flags().BoolVarP(&flagAll, "all", "a", false,
		"select all jobs in the file")
}

func doSet(cmd *cobra.Command, args []string) error {
	var next job.State
	if flagSetState != "" {
		if len(flagSetState) != 1 || !job.State(flagSetState[0]).Valid() {
			return fmt.Errorf("invalid state %q", flagSetState)
		}
		next = job.State(flagSetState[0])
	}

	f, err := jobfile.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	jobs, err := f.Jobs()
	if err != nil {
		return err
	}

	selected := make(map[int64]bool, len(args)-1)
	for _, a := range args[1:] {
		off, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid offset %q: %w", a, err)
		}
		selected[off] = true
	}

	// offsets that match no job are silently ignored
	for _, j := range jobs {
		if !flagAll && !selected[j.Offset] {
			continue
		}
		if next != 0 {
			updated, ok, err := f.SetState(j, next)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("job at offset %d changed while updating it", j.Offset)
			}
			j = updated
		}
		if flagList {
			fmt.Printf("%d: %s - %s\n", j.Offset, j.State, j.Cmd)
		}
	}
	return nil
}
