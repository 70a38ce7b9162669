package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleRecord struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestSaveLoadRoundtrip(t *testing.T) {
	dir := t.TempDir()
	s := New[sampleRecord](dir, "conversation", nil)

	assert.False(t, s.Exists())

	want := sampleRecord{Name: "installation", Count: 3}
	require.NoError(t, s.Save(want))
	assert.True(t, s.Exists())

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoadMissingReturnsNotFound(t *testing.T) {
	s := New[sampleRecord](t.TempDir(), "conversation", nil)
	_, err := s.Load()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadCorruptFile(t *testing.T) {
	dir := t.TempDir()
	s := New[sampleRecord](dir, "conversation", nil)
	require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0o644))

	_, err := s.Load()
	var decodeErr *DecodeError
	require.True(t, errors.As(err, &decodeErr))
	assert.Equal(t, s.Path(), decodeErr.Path)
}

func TestSaveReplacesWholeFile(t *testing.T) {
	dir := t.TempDir()
	s := New[sampleRecord](dir, "queue", nil)

	require.NoError(t, s.Save(sampleRecord{Name: "first", Count: 1}))
	require.NoError(t, s.Save(sampleRecord{Name: "second", Count: 2}))

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "second", got.Name)

	// No temp files left behind after the rename.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPathUsesCodecExtension(t *testing.T) {
	s := New[sampleRecord]("/data", "conversation", nil)
	assert.Equal(t, filepath.Join("/data", "conversation.json"), s.Path())
}

func TestEnsureContainer(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sdk", "nested")
	require.NoError(t, EnsureContainer(dir))
	require.NoError(t, EnsureContainer(dir)) // idempotent

	file := filepath.Join(t.TempDir(), "occupied")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	assert.Error(t, EnsureContainer(file))
}
