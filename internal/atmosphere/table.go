// Package atmosphere loads the per-realisation seed and seeing table.
//
// The file holds one whitespace-delimited "<seed> <seeing>" row per
// realisation, in order. Columns beyond the second are ignored. Tokens are
// kept verbatim so the derived catalogues carry exactly what the file says.
//
// Indexing: realisation i reads row i, counting rows from 0. A sweep over
// realisations [1, n) therefore never consumes row 0, and a table of n rows
// is the smallest one that covers it.
package atmosphere

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Entry is one atmospheric realisation.
type Entry struct {
	Seed   string `json:"seed"`
	Seeing string `json:"seeing"`
}

// Table is an immutable, ordered list of realisations.
type Table struct {
	source  string
	entries []Entry
}

// MalformedRecordError reports a row with fewer than two columns.
type MalformedRecordError struct {
	Source string
	Line   int
	Text   string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed atmosphere record at %s:%d: want \"<seed> <seeing>\", got %q", e.Source, e.Line, e.Text)
}

// Load reads a table from a file.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening atmosphere file: %w", err)
	}
	defer f.Close()

	return Parse(path, f)
}

// Parse reads a table from r. source names the input in error messages.
func Parse(source string, r io.Reader) (*Table, error) {
	t := &Table{source: source}

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		text := scanner.Text()
		cols := strings.Fields(text)
		if len(cols) < 2 {
			return nil, &MalformedRecordError{Source: source, Line: lineNo, Text: text}
		}
		t.entries = append(t.entries, Entry{Seed: cols[0], Seeing: cols[1]})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading atmosphere file %s: %w", source, err)
	}

	return t, nil
}

// Source returns the path or name the table was loaded from.
func (t *Table) Source() string {
	return t.source
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.entries)
}

// At returns the entry for realisation i.
func (t *Table) At(i int) (Entry, error) {
	if i < 0 || i >= len(t.entries) {
		return Entry{}, fmt.Errorf("realisation %d out of range: %s has %d rows (0..%d)", i, t.source, len(t.entries), len(t.entries)-1)
	}
	return t.entries[i], nil
}

// Covers reports whether every realisation in [first, count) has a row.
func (t *Table) Covers(first, count int) error {
	if first < 0 {
		return fmt.Errorf("realisation %d out of range", first)
	}
	if count > len(t.entries) {
		return fmt.Errorf("%s has %d rows but realisations up to %d are requested", t.source, len(t.entries), count-1)
	}
	return nil
}

// Unused returns the half-open row ranges a sweep over [first, count) never reads.
func (t *Table) Unused(first, count int) [][2]int {
	var out [][2]int
	if first > 0 {
		out = append(out, [2]int{0, min(first, len(t.entries))})
	}
	if count < len(t.entries) {
		out = append(out, [2]int{max(count, 0), len(t.entries)})
	}
	return out
}
