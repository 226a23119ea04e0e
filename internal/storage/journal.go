package storage

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

const (
	maxEntries  = 500
	journalFile = "commands.txt"
)

// Journal is a capped, file-backed list of one-line entries. The file
// stores oldest first; in memory the newest entry comes first.
type Journal struct {
	mu      sync.Mutex
	path    string
	entries []string
}

// OpenJournal loads the journal kept in dataDir, creating the directory
// when needed. A missing file is an empty journal.
func OpenJournal(dataDir string) (*Journal, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	j := &Journal{path: filepath.Join(dataDir, journalFile)}

	lines, err := readLines(j.path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	slices.Reverse(lines)
	if len(lines) > maxEntries {
		lines = lines[:maxEntries]
	}
	j.entries = lines
	return j, nil
}

// Add records entry as the newest line and rewrites the file.
func (j *Journal) Add(entry string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.entries = append([]string{entry}, j.entries...)
	if len(j.entries) > maxEntries {
		j.entries = j.entries[:maxEntries]
	}

	onDisk := slices.Clone(j.entries)
	slices.Reverse(onDisk)
	return writeLines(j.path, onDisk)
}

// Recent returns up to n entries, newest first.
func (j *Journal) Recent(n int) []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	n = min(n, len(j.entries))
	return slices.Clone(j.entries[:n])
}

// Len returns the number of entries held.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

func readLines(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

// writeLines replaces path atomically.
func writeLines(path string, lines []string) error {
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(file)
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			file.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
