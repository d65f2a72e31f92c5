// Package record persists the run's outward-facing bookkeeping: the
// append-only record.log consumed by pipeline tooling, and the structured
// state.yaml carrying run state between invocations in the same working
// directory.
package record

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

// Field is one key=value pair of a record line. Records preserve the order
// fields are supplied in.
type Field struct {
	Key   string
	Value string
}

// Log writes line-oriented, pipe-delimited records:
//
//	type|key1=value1|key2=value2|
//
// Values must not contain line feeds; embedded newlines are escaped to
// " ;;; " so the file stays trivially parseable. Writes are serialized by a
// dedicated lock so concurrent component work never interleaves lines.
type Log struct {
	mu   sync.Mutex
	file *os.File
}

// Open opens (appending) the record log at path.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening record log: %w", err)
	}
	return &Log{file: f}, nil
}

// Add appends one record and flushes it.
func (l *Log) Add(recordType string, fields ...Field) error {
	var b strings.Builder
	b.WriteString(recordType)
	b.WriteString("|")
	for _, f := range fields {
		v := strings.ReplaceAll(f.Value, "\n", " ;;; ")
		v = strings.ReplaceAll(v, "\r", "")
		b.WriteString(f.Key)
		b.WriteString("=")
		b.WriteString(v)
		b.WriteString("|")
	}
	b.WriteString("\n")

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.WriteString(b.String()); err != nil {
		return err
	}
	return l.file.Sync()
}

// Close closes the underlying file. Registered to run at process exit
// regardless of how exit occurs.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// SortFields returns fields sorted by key, for callers assembling records
// from maps that need deterministic output.
func SortFields(kv map[string]string) []Field {
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fields := make([]Field, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, Field{Key: k, Value: kv[k]})
	}
	return fields
}
