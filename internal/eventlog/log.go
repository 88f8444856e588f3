// Package eventlog appends audit events to a newline-delimited JSON file.
// The log is the replay source for rebuilding a database, so an append that
// fails must fail the operation that produced it.
package eventlog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// Recorder is what the services depend on.
type Recorder interface {
	Append(ev Event) error
}

// Log is a file-backed Recorder. Appends are serialized in-process by a
// mutex and across processes by an advisory lock on "<path>.lock".
type Log struct {
	path string
	mu   sync.Mutex
	lock *flock.Flock
}

func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create event log dir: %w", err)
	}
	return &Log{
		path: path,
		lock: flock.New(path + ".lock"),
	}, nil
}

func (l *Log) Path() string { return l.path }

func (l *Log) Append(ev Event) error {
	line, err := Encode(ev)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.lock.Lock(); err != nil {
		return fmt.Errorf("lock event log: %w", err)
	}
	defer l.lock.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("write event log: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close event log: %w", err)
	}
	return nil
}

// maxLine bounds one encoded event; truncated message content keeps real
// events far below it.
const maxLine = 1 << 20

// Replay decodes every line of r in order and hands it to fn. Blank lines
// are skipped; the first decode or callback error stops the replay.
func Replay(r io.Reader, fn func(Event) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLine)

	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		ev, err := Decode(line)
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		if err := fn(ev); err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read event log: %w", err)
	}
	return nil
}

// ReplayFile is Replay over the file at path.
func ReplayFile(path string, fn func(Event) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()
	return Replay(f, fn)
}
