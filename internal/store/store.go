// Package store provides load/save of a single versioned record to a local
// file with pluggable encoding.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNotFound indicates the record file does not exist yet.
var ErrNotFound = errors.New("store: record not found")

// DecodeError wraps a failure to decode a record file.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("store: decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeError wraps a failure to encode a record for saving.
type EncodeError struct {
	Path string
	Err  error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("store: encode %s: %v", e.Path, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// WriteError wraps a failure to write the record file.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("store: write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Codec encodes and decodes record bytes and names the file extension
// associated with the encoding.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Extension() string
}

// JSONCodec is the default codec.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

func (JSONCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (JSONCodec) Extension() string { return "json" }

// Store reads and writes exactly one record file under a container
// directory. The previous fully-written file stays valid until the rename
// that replaces it.
type Store[T any] struct {
	dir   string
	name  string
	codec Codec
}

// New creates a store for the record named name inside dir. A nil codec
// defaults to JSONCodec.
func New[T any](dir, name string, codec Codec) *Store[T] {
	if codec == nil {
		codec = JSONCodec{}
	}
	return &Store[T]{dir: dir, name: name, codec: codec}
}

// Path returns the full path of the record file.
func (s *Store[T]) Path() string {
	return filepath.Join(s.dir, s.name+"."+s.codec.Extension())
}

// Exists reports whether the record file is present.
func (s *Store[T]) Exists() bool {
	info, err := os.Stat(s.Path())
	return err == nil && !info.IsDir()
}

// Load reads and decodes the record.
func (s *Store[T]) Load() (T, error) {
	var record T
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return record, ErrNotFound
		}
		return record, fmt.Errorf("store: read %s: %w", s.Path(), err)
	}
	if err := s.codec.Unmarshal(data, &record); err != nil {
		return record, &DecodeError{Path: s.Path(), Err: err}
	}
	return record, nil
}

// Save encodes the record and replaces the file contents via a temp file
// and rename, so concurrent save attempts cannot leave a torn file.
func (s *Store[T]) Save(record T) error {
	data, err := s.codec.Marshal(record)
	if err != nil {
		return &EncodeError{Path: s.Path(), Err: err}
	}
	tmp, err := os.CreateTemp(s.dir, s.name+"-*.tmp")
	if err != nil {
		return &WriteError{Path: s.Path(), Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &WriteError{Path: s.Path(), Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &WriteError{Path: s.Path(), Err: err}
	}
	if err := os.Rename(tmpName, s.Path()); err != nil {
		os.Remove(tmpName)
		return &WriteError{Path: s.Path(), Err: err}
	}
	return nil
}

// EnsureContainer creates the container directory if needed, failing if a
// regular file occupies the path.
func EnsureContainer(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("store: create container %s: %w", dir, err)
			}
			return nil
		}
		return fmt.Errorf("store: stat container %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("store: container path %s is not a directory", dir)
	}
	return nil
}
