package job

import (
	"bufio"
	"io"
	"strings"
)

// Parse scans r from its current position (callers seek to 0 first) and
// returns the jobs in file order. A line is a job iff it is at least three
// bytes long, does not begin with '#' or '/', and its second byte is a
// space or tab separating state from command. Everything else — blanks,
// comments, malformed lines — is skipped silently but still advances the
// byte offset, so Offset/Length stay accurate for in-place state writes.
//
// Parse is restartable: the states it reports are whatever the file held
// at scan time, and may be changed out-of-band by other processes.
func Parse(r io.Reader) ([]Job, error) {
	br := bufio.NewReader(r)
	var jobs []Job
	var offset int64
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			length := int64(len(line))
			if j, ok := parseLine(line, len(jobs)+1, offset, length); ok {
				jobs = append(jobs, j)
			}
			offset += length
		}
		if err == io.EOF {
			return jobs, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func parseLine(line string, number int, offset, length int64) (Job, bool) {
	if len(line) < 3 {
		return Job{}, false
	}
	if line[0] == '#' || line[0] == '/' {
		return Job{}, false
	}
	if line[1] != ' ' && line[1] != '\t' {
		return Job{}, false
	}
	trimmed := strings.TrimRight(line, " \t\r\n")
	cmd := ""
	if len(trimmed) > 2 {
		cmd = trimmed[2:]
	}
	return Job{
		Number: number,
		Offset: offset,
		Length: length,
		State:  State(line[0]),
		Cmd:    cmd,
	}, true
}
