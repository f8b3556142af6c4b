// Package jobfile implements the shared-file job store: a plain text file
// on (possibly networked) shared storage, read under a whole-file shared
// lock and mutated one state byte at a time under an exclusive byte-range
// lock. POSIX record locks are held per process, which is why workers run
// as separate OS processes rather than goroutines.
package jobfile

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"

	"github.com/ccs-labs/runmaker/internal/job"
)

// File is an open job file. One File belongs to exactly one process; the
// cross-process coordination happens through record locks on the
// underlying file, never through in-process synchronization.
type File struct {
	f *os.File
}

// Open opens the job file for reading and state updates.
func Open(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	return &File{f: f}, nil
}

// OpenRead opens the job file for reading only. SetState will fail.
func OpenRead(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &File{f: f}, nil
}

func (f *File) Close() error {
	return f.f.Close()
}

func (f *File) Name() string {
	return f.f.Name()
}

// Jobs returns a fresh snapshot of the file's jobs. The whole file is held
// under a shared lock for the duration of the scan, so the snapshot is
// consistent against concurrent single-byte exclusive writers.
func (f *File) Jobs() ([]job.Job, error) {
	if err := f.lock(unix.F_RDLCK, 0, 0); err != nil {
		return nil, fmt.Errorf("locking %s: %w", f.f.Name(), err)
	}
	defer f.unlock(0, 0)

	if _, err := f.f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return job.Parse(f.f)
}

// SetState transitions the job's on-disk state byte from j.State to next.
// Under an exclusive lock on that single byte it re-reads the byte; if it
// no longer matches j.State another process won the race and SetState
// returns ok == false without modifying anything. On success the write is
// synced before the lock is released and the updated job is returned.
func (f *File) SetState(j job.Job, next job.State) (job.Job, bool, error) {
	if j.Length <= 0 {
		return j, false, fmt.Errorf("job at offset %d has no extent", j.Offset)
	}
	if err := f.lock(unix.F_WRLCK, j.Offset, 1); err != nil {
		return j, false, fmt.Errorf("locking state byte at %d: %w", j.Offset, err)
	}
	defer f.unlock(j.Offset, 1)

	var cur [1]byte
	if _, err := f.f.ReadAt(cur[:], j.Offset); err != nil {
		return j, false, err
	}
	if job.State(cur[0]) != j.State {
		return j, false, nil
	}
	if _, err := f.f.WriteAt([]byte{byte(next)}, j.Offset); err != nil {
		return j, false, err
	}
	if err := f.f.Sync(); err != nil {
		return j, false, err
	}
	return j.WithState(next), true, nil
}

// Refresh re-reads the state byte of every job under a shared whole-file
// lock and returns the updated snapshot. Offsets and commands are carried
// over unchanged; the command text is immutable once parsed.
func (f *File) Refresh(jobs []job.Job) ([]job.Job, error) {
	if err := f.lock(unix.F_RDLCK, 0, 0); err != nil {
		return nil, fmt.Errorf("locking %s: %w", f.f.Name(), err)
	}
	defer f.unlock(0, 0)

	out := make([]job.Job, len(jobs))
	for i, j := range jobs {
		var cur [1]byte
		if _, err := f.f.ReadAt(cur[:], j.Offset); err != nil {
			return nil, err
		}
		out[i] = j.WithState(job.State(cur[0]))
	}
	return out, nil
}

func (f *File) lock(typ int16, start, length int64) error {
	lk := unix.Flock_t{
		Type:   typ,
		Whence: io.SeekStart,
		Start:  start,
		Len:    length,
	}
	return unix.FcntlFlock(f.f.Fd(), unix.F_SETLKW, &lk)
}

func (f *File) unlock(start, length int64) {
	lk := unix.Flock_t{
		Type:   unix.F_UNLCK,
		Whence: io.SeekStart,
		Start:  start,
		Len:    length,
	}
	// Unlock failures leave the lock to die with the process.
	_ = unix.FcntlFlock(f.f.Fd(), unix.F_SETLK, &lk)
}
