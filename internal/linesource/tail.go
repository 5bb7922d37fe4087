package linesource

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Tailer follows a file and delivers every complete line appended to it.
// Truncation restarts reading from the top; a partial last line is held back
// until its newline arrives.
type Tailer struct {
	path      string
	fromStart bool

	watcher *fsnotify.Watcher
	file    *os.File
	offset  int64
	pending []byte

	// OnError receives watcher errors that do not stop the tail.
	OnError func(err error)
}

// NewTailer prepares to follow path. With fromStart the existing content is
// delivered first; otherwise only lines written after Run starts are.
func NewTailer(path string, fromStart bool) (*Tailer, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("linesource: resolve %s: %w", path, err)
	}
	if _, err := os.Stat(absPath); err != nil {
		return nil, fmt.Errorf("linesource: stat %s: %w", path, err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("linesource: create watcher: %w", err)
	}
	// The directory is watched so that a re-created file is picked up.
	if err := w.Add(filepath.Dir(absPath)); err != nil {
		w.Close()
		return nil, fmt.Errorf("linesource: watch %s: %w", filepath.Dir(absPath), err)
	}
	return &Tailer{path: absPath, fromStart: fromStart, watcher: w}, nil
}

// Path returns the absolute path being followed.
func (t *Tailer) Path() string { return t.path }

// Run delivers lines to fn until ctx is done or fn fails. It closes the
// watcher on return.
func (t *Tailer) Run(ctx context.Context, fn func([]byte) error) error {
	defer t.close()

	if err := t.open(!t.fromStart); err != nil {
		return err
	}
	if err := t.drain(fn); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-t.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != t.path {
				continue
			}
			switch {
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				t.reset()
			case ev.Op&fsnotify.Create != 0:
				t.reset()
				if err := t.open(false); err != nil {
					return err
				}
				if err := t.drain(fn); err != nil {
					return err
				}
			case ev.Op&fsnotify.Write != 0:
				if err := t.drain(fn); err != nil {
					return err
				}
			}

		case err, ok := <-t.watcher.Errors:
			if !ok {
				return nil
			}
			if t.OnError != nil {
				t.OnError(err)
			}
		}
	}
}

func (t *Tailer) open(atEnd bool) error {
	f, err := os.Open(t.path)
	if err != nil {
		return fmt.Errorf("linesource: open %s: %w", t.path, err)
	}
	t.file = f
	t.offset = 0
	if atEnd {
		if t.offset, err = f.Seek(0, io.SeekEnd); err != nil {
			return fmt.Errorf("linesource: seek %s: %w", t.path, err)
		}
	}
	return nil
}

func (t *Tailer) reset() {
	if t.file != nil {
		t.file.Close()
		t.file = nil
	}
	t.offset = 0
	t.pending = nil
}

// drain reads everything past the current offset and emits complete lines.
func (t *Tailer) drain(fn func([]byte) error) error {
	if t.file == nil {
		if err := t.open(false); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
	}

	info, err := t.file.Stat()
	if err != nil {
		return fmt.Errorf("linesource: stat %s: %w", t.path, err)
	}
	if info.Size() < t.offset {
		t.offset = 0
		t.pending = nil
	}
	if info.Size() == t.offset {
		return nil
	}

	buf := make([]byte, info.Size()-t.offset)
	n, err := t.file.ReadAt(buf, t.offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("linesource: read %s: %w", t.path, err)
	}
	t.offset += int64(n)

	data := append(t.pending, buf[:n]...)
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		line := data[:i]
		data = data[i+1:]
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	if len(data) > MaxLineSize {
		data = nil
	}
	t.pending = append([]byte(nil), data...)
	return nil
}

func (t *Tailer) close() {
	t.reset()
	t.watcher.Close()
}
