package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournalRoundTrip(t *testing.T) {
	dir := t.TempDir()

	j, err := OpenJournal(dir)
	require.NoError(t, err)
	assert.Equal(t, 0, j.Len())

	require.NoError(t, j.Add("first"))
	require.NoError(t, j.Add("second"))
	assert.Equal(t, []string{"second", "first"}, j.Recent(10))

	data, err := os.ReadFile(filepath.Join(dir, journalFile))
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(data))

	reopened, err := OpenJournal(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"second", "first"}, reopened.Recent(10))
}

func TestJournalRecentLimit(t *testing.T) {
	j, err := OpenJournal(t.TempDir())
	require.NoError(t, err)
	for i := range 5 {
		require.NoError(t, j.Add(fmt.Sprintf("entry %d", i)))
	}
	assert.Equal(t, []string{"entry 4", "entry 3"}, j.Recent(2))
}

func TestJournalMaxEntries(t *testing.T) {
	dir := t.TempDir()
	var lines string
	for i := range maxEntries + 20 {
		lines += fmt.Sprintf("old %d\n", i)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, journalFile), []byte(lines), 0644))

	j, err := OpenJournal(dir)
	require.NoError(t, err)
	assert.Equal(t, maxEntries, j.Len())
	assert.Equal(t, []string{fmt.Sprintf("old %d", maxEntries+19)}, j.Recent(1))

	require.NoError(t, j.Add("new"))
	assert.Equal(t, maxEntries, j.Len())
	assert.Equal(t, "new", j.Recent(1)[0])
}

func TestJournalSkipsBlankLines(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, journalFile), []byte("a\n\nb\n"), 0644))

	j, err := OpenJournal(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, j.Recent(5))
}
