// Package runlog maintains per-job rotating log slots inside one shared
// log file. Every slot is a fixed-size byte region — one header line plus
// a fixed number of body lines, each padded or truncated to exactly the
// same width — so rewriting a slot never changes its length and workers
// can update their own slots with plain seek-based writes, no locking.
package runlog

import (
	"bytes"
	"fmt"
	"os"
	"time"
)

// Defaults mirror the classic tool: 160-character lines, three rotating
// body lines, at most one body flush per minute for chatty jobs.
const (
	DefaultWidth    = 160
	DefaultLines    = 3
	DefaultInterval = 60 * time.Second
)

// Options sizes a slot. Zero fields take the defaults.
type Options struct {
	Width    int
	Lines    int
	Interval time.Duration
}

func (o Options) withDefaults() Options {
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Lines <= 0 {
		o.Lines = DefaultLines
	}
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	return o
}

// Slot is the log region owned by a single job. It buffers the most
// recent body lines in memory; Flush and MaybeFlush rewrite the on-disk
// body in place.
type Slot struct {
	f         *os.File
	number    int // 1-based job number, fixes the region offset
	width     int
	interval  time.Duration
	lines     []string
	dirty     bool
	lastWrite time.Time

	now func() time.Time // test hook
}

// Open opens the slot for job number in the (pre-created) log file and
// immediately writes its header line and blank body lines. The header
// records the command and the working directory it runs in.
func Open(path string, number int, cmd string, opts Options) (*Slot, error) {
	opts = opts.withDefaults()
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	s := &Slot{
		f:        f,
		number:   number,
		width:    opts.Width,
		interval: opts.Interval,
		lines:    make([]string, opts.Lines),
		now:      time.Now,
	}
	for i := range s.lines {
		s.lines[i] = s.pad(":")
	}

	cwd, _ := os.Getwd()
	var buf bytes.Buffer
	buf.WriteString(s.pad(fmt.Sprintf(".-> %s (in %s)", cmd, cwd)))
	buf.WriteByte('\n')
	for _, l := range s.lines {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}
	if _, err := f.WriteAt(buf.Bytes(), s.regionOffset()); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing log header: %w", err)
	}
	return s, nil
}

func (s *Slot) Close() error {
	return s.f.Close()
}

// Append pushes a line into the slot, dropping the oldest body line. The
// change reaches disk on the next Flush or MaybeFlush.
func (s *Slot) Append(line string) {
	s.lines = append(s.lines[1:], s.pad(line))
	s.dirty = true
}

// MaybeFlush writes the body only when it changed and the minimum flush
// interval has elapsed, bounding disk traffic for chatty jobs.
func (s *Slot) MaybeFlush() error {
	if !s.dirty || s.now().Sub(s.lastWrite) < s.interval {
		return nil
	}
	return s.Flush()
}

// Flush rewrites the body lines unconditionally. Used for the "forked"
// and "exit" status lines so a slot never looks stale after the job's
// true completion.
func (s *Slot) Flush() error {
	var buf bytes.Buffer
	for _, l := range s.lines {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}
	off := s.regionOffset() + int64(s.width+1) // skip the header line
	if _, err := s.f.WriteAt(buf.Bytes(), off); err != nil {
		return fmt.Errorf("writing log slot: %w", err)
	}
	s.lastWrite = s.now()
	s.dirty = false
	return nil
}

// NextFlushDue returns the time until a dirty body may be flushed again,
// floored at one millisecond. Callers use it to bound their poll timeout.
func (s *Slot) NextFlushDue() time.Duration {
	d := s.lastWrite.Add(s.interval).Sub(s.now())
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}

// pad truncates or space-pads the line to exactly the slot width, which
// is what keeps neighbouring slots from ever overlapping.
func (s *Slot) pad(line string) string {
	if len(line) > s.width {
		return line[:s.width]
	}
	return line + string(bytes.Repeat([]byte{' '}, s.width-len(line)))
}

func (s *Slot) regionOffset() int64 {
	return int64(s.number-1) * int64(s.width+1) * int64(len(s.lines)+1)
}
