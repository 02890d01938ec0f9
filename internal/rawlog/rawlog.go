// Package rawlog is the append-only reading stream backing a recording
// session: one JSON line per sensor reading, including fixes the distance
// filter rejected. The finalized artifact references this file.
package rawlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/deancochran/gradientpeak-sub005/internal/reading"
)

// Log appends readings to a JSONL file. Single-writer; the recorder owns it.
type Log struct {
	path  string
	f     *os.File
	w     *bufio.Writer
	count int64
}

// Open creates or reopens the log at path. A torn trailing line from a
// crash is truncated away so the next append starts on a clean boundary;
// complete lines are counted to restore the cursor.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create raw log dir: %w", err)
	}
	count, end, err := scanComplete(path)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open raw log: %w", err)
	}
	if err := f.Truncate(end); err != nil {
		f.Close()
		return nil, fmt.Errorf("trim torn raw log tail: %w", err)
	}
	if _, err := f.Seek(end, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("seek raw log: %w", err)
	}
	return &Log{path: path, f: f, w: bufio.NewWriter(f), count: count}, nil
}

// scanComplete counts newline-terminated lines and returns the offset just
// past the last one.
func scanComplete(path string) (count, end int64, err error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("scan raw log: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		line, err := r.ReadBytes('\n')
		if err == io.EOF {
			// Anything here is a torn tail: uncounted, truncated away.
			return count, end, nil
		}
		if err != nil {
			return 0, 0, fmt.Errorf("scan raw log: %w", err)
		}
		end += int64(len(line))
		count++
	}
}

// Path returns the file location, referenced by the finalized artifact.
func (l *Log) Path() string { return l.path }

// Count is the number of readings durably appended (after Sync) or
// buffered so far.
func (l *Log) Count() int64 { return l.count }

// Append writes one reading as a JSON line.
func (l *Log) Append(r reading.Reading) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal reading: %w", err)
	}
	if _, err := l.w.Write(data); err != nil {
		return fmt.Errorf("append reading: %w", err)
	}
	if err := l.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("append reading: %w", err)
	}
	l.count++
	return nil
}

// Sync flushes buffered lines to disk. Called before every checkpoint so
// the checkpoint's reading cursor never points past durable data.
func (l *Log) Sync() error {
	if err := l.w.Flush(); err != nil {
		return fmt.Errorf("flush raw log: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("sync raw log: %w", err)
	}
	return nil
}

// Close flushes and closes the file.
func (l *Log) Close() error {
	if err := l.Sync(); err != nil {
		l.f.Close()
		return err
	}
	return l.f.Close()
}

// ReadAll loads every reading in append order, for exporters and replay.
func ReadAll(path string) ([]reading.Reading, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open raw log: %w", err)
	}
	defer f.Close()

	var out []reading.Reading
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var r reading.Reading
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			return nil, fmt.Errorf("parse raw log line %d: %w", len(out)+1, err)
		}
		out = append(out, r)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read raw log: %w", err)
	}
	return out, nil
}
