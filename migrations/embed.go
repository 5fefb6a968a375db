package main

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

//go:embed *.sql
var embeddedMigrations embed.FS

// Migration filename standard: 001_name.up.sql / 001_name.down.sql.
var migrationFilenameRegex = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

var (
	errNoMigrations      = errors.New("no embedded migration files found")
	errUnpairedMigration = errors.New("migration missing up/down pair")
	errSequenceGap       = errors.New("migration sequence has a gap")
)

// EmbeddedMigration wraps the go:embed filesystem with validation: filename
// format, up/down pairing, gapless sequence, and content checksums. Validation
// runs at migrator startup so a malformed image never reaches the database.
type EmbeddedMigration struct {
	fs        fs.FS
	checksums map[string]string // filename -> sha256
}

// NewEmbeddedMigration creates a migration source. Pass nil to use the
// default embedded files; tests inject an fstest.MapFS.
func NewEmbeddedMigration(filesystem fs.FS) *EmbeddedMigration {
	if filesystem == nil {
		filesystem = embeddedMigrations
	}

	return &EmbeddedMigration{
		fs:        filesystem,
		checksums: make(map[string]string),
	}
}

// Filesystem returns the underlying migration filesystem for the iofs source driver.
func (e *EmbeddedMigration) Filesystem() fs.FS {
	return e.fs
}

// List returns all embedded migration files conforming to the naming
// standard, sorted lexicographically. Nonconforming filenames are ignored.
func (e *EmbeddedMigration) List() ([]string, error) {
	entries, err := fs.ReadDir(e.fs, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded migrations directory: %w", err)
	}

	var files []string

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if filepath.Ext(name) == ".sql" && migrationFilenameRegex.MatchString(name) {
			files = append(files, name)
		}
	}

	sort.Strings(files)

	return files, nil
}

// Validate checks the full migration set: at least one migration, every
// sequence paired up/down, no sequence gaps. It also records content
// checksums for later integrity comparison.
func (e *EmbeddedMigration) Validate() error {
	files, err := e.List()
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return errNoMigrations
	}

	directions := make(map[int]map[string]bool)

	for _, name := range files {
		parts := migrationFilenameRegex.FindStringSubmatch(name)

		seq, err := strconv.Atoi(parts[1])
		if err != nil {
			return fmt.Errorf("invalid sequence in %q: %w", name, err)
		}

		if directions[seq] == nil {
			directions[seq] = make(map[string]bool)
		}

		directions[seq][parts[3]] = true

		content, err := fs.ReadFile(e.fs, name)
		if err != nil {
			return fmt.Errorf("failed to read %q: %w", name, err)
		}

		sum := sha256.Sum256(content)
		e.checksums[name] = hex.EncodeToString(sum[:])
	}

	sequences := make([]int, 0, len(directions))
	for seq := range directions {
		sequences = append(sequences, seq)
	}

	sort.Ints(sequences)

	for i, seq := range sequences {
		if !directions[seq]["up"] || !directions[seq]["down"] {
			return fmt.Errorf("%w: sequence %03d", errUnpairedMigration, seq)
		}

		if seq != i+1 {
			return fmt.Errorf("%w: expected %03d, found %03d", errSequenceGap, i+1, seq)
		}
	}

	return nil
}

// Checksum returns the recorded sha256 for a migration file, available after
// Validate has run.
func (e *EmbeddedMigration) Checksum(filename string) (string, bool) {
	sum, ok := e.checksums[filename]

	return sum, ok
}
