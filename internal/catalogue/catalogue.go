// Package catalogue reads simulator catalogue templates and writes the
// per-realisation copies with their seed and seeing directives replaced.
package catalogue

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/nvandessel/stargal/internal/constants"
)

// maxLineSize bounds a single catalogue line.
const maxLineSize = 1 << 20

// IOError reports a template that cannot be read or a derived catalogue
// that cannot be written.
type IOError struct {
	Op   string // "read" or "write"
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("catalogue %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// Template is the ordered line content of one catalogue type's input file.
// Line terminators are stripped; "\r\n" input is normalized to "\n" on output.
type Template struct {
	Type   string
	Source string
	lines  []string
}

// LoadTemplate reads the template for a catalogue type.
func LoadTemplate(catalogueType, path string) (*Template, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &IOError{Op: "read", Path: path, Err: err}
	}
	defer f.Close()

	lines, err := readLines(f)
	if err != nil {
		return nil, &IOError{Op: "read", Path: path, Err: err}
	}

	return &Template{Type: catalogueType, Source: path, lines: lines}, nil
}

// NewTemplate builds a template from in-memory lines.
func NewTemplate(catalogueType string, lines []string) *Template {
	cp := make([]string, len(lines))
	copy(cp, lines)
	return &Template{Type: catalogueType, Source: "<memory>", lines: cp}
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// Lines returns a copy of the template lines.
func (t *Template) Lines() []string {
	out := make([]string, len(t.lines))
	copy(out, t.lines)
	return out
}

// Count returns how many lines carry the given directive.
func (t *Template) Count(directive string) int {
	n := 0
	for _, line := range t.lines {
		if leadingToken(line) == directive {
			n++
		}
	}
	return n
}

// Derive returns the template with the seed and seeing directives rewritten.
func (t *Template) Derive(seed, seeing string) []string {
	return Rewrite(t.lines, seed, seeing)
}

// Rewrite replaces every line whose first token is SIM_SEED with
// "SIM_SEED <seed>" and every line whose first token is Opsim_rawseeing with
// "Opsim_rawseeing <seeing>". All other lines are copied verbatim, in order.
func Rewrite(lines []string, seed, seeing string) []string {
	out := make([]string, len(lines))
	for i, line := range lines {
		switch leadingToken(line) {
		case constants.SeedDirective:
			out[i] = constants.SeedDirective + " " + seed
		case constants.SeeingDirective:
			out[i] = constants.SeeingDirective + " " + seeing
		default:
			out[i] = line
		}
	}
	return out
}

// leadingToken returns the first whitespace-delimited token of line.
func leadingToken(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// DerivedName is the file name of the catalogue for one realisation.
func DerivedName(catalogueType string, realisation int) string {
	return "cat-" + catalogueType + "-atm" + strconv.Itoa(realisation) + ".dat"
}

// WriteLines writes lines to path, each terminated by exactly one "\n".
func WriteLines(path string, lines []string) error {
	f, err := os.Create(path)
	if err != nil {
		return &IOError{Op: "write", Path: path, Err: err}
	}

	w := bufio.NewWriter(f)
	for _, line := range lines {
		if _, err := w.WriteString(line); err != nil {
			f.Close()
			return &IOError{Op: "write", Path: path, Err: err}
		}
		if err := w.WriteByte('\n'); err != nil {
			f.Close()
			return &IOError{Op: "write", Path: path, Err: err}
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return &IOError{Op: "write", Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		return &IOError{Op: "write", Path: path, Err: err}
	}
	return nil
}
