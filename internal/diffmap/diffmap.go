// Package diffmap maps a unified diff to the declared symbols whose line
// spans it touches.
package diffmap

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	godiff "github.com/sourcegraph/go-diff/diff"

	"github.com/jward/blastradius/internal/store"
	"github.com/jward/blastradius/internal/syntax"
)

// ErrMalformedHunk is reported for an "@@" line that is not a valid hunk
// header. The hunk is skipped and parsing continues.
var ErrMalformedHunk = errors.New("diffmap: malformed hunk header")

const devNull = "/dev/null"

var hunkHeader = regexp.MustCompile(`^@@ -\d+(?:,\d+)? \+(\d+)(?:,(\d+))? @@`)

// Changes holds the changed added-side line ranges per file, keyed by
// path relative to the repository root.
type Changes map[string][]syntax.LineRange

// Files returns the changed files in sorted order.
func (c Changes) Files() []string {
	files := make([]string, 0, len(c))
	for f := range c {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// addRange records [start, start+count-1]. A pure deletion (count 0) adds
// nothing.
func (c Changes) addRange(file string, start, count int64) {
	if count <= 0 {
		return
	}
	end := start + count - 1
	if start < 1 {
		start = 1
	}
	if end < start {
		return
	}
	if end > math.MaxInt32 {
		end = math.MaxInt32
	}
	c[file] = append(c[file], syntax.LineRange{Start: int(start), End: int(end)})
}

// Parse extracts changed lines from diffText. It tries go-diff first and
// falls back to a line scanner when go-diff rejects the input, so partial
// or hand-written diffs still map. The returned errors describe skipped
// hunks and each wraps ErrMalformedHunk.
func Parse(diffText string) (Changes, []error) {
	if fds, err := godiff.ParseMultiFileDiff([]byte(diffText)); err == nil && hasHunks(fds) {
		return fromFileDiffs(fds), nil
	}
	return scan(diffText)
}

func hasHunks(fds []*godiff.FileDiff) bool {
	for _, fd := range fds {
		if len(fd.Hunks) > 0 {
			return true
		}
	}
	return false
}

func fromFileDiffs(fds []*godiff.FileDiff) Changes {
	c := make(Changes)
	for _, fd := range fds {
		file, ok := targetPath(fd.NewName)
		if !ok {
			continue
		}
		for _, h := range fd.Hunks {
			c.addRange(file, int64(h.NewStartLine), int64(h.NewLines))
		}
	}
	return c
}

// scan reads only "+++" and "@@" lines.
func scan(diffText string) (Changes, []error) {
	c := make(Changes)
	var errs []error
	var file string

	sc := bufio.NewScanner(strings.NewReader(diffText))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "+++ "):
			name := strings.TrimPrefix(line, "+++ ")
			if i := strings.IndexByte(name, '\t'); i >= 0 {
				name = name[:i]
			}
			f, ok := targetPath(name)
			if !ok {
				file = ""
				continue
			}
			file = f
		case strings.HasPrefix(line, "@@"):
			if file == "" {
				continue
			}
			m := hunkHeader.FindStringSubmatch(line)
			if m == nil {
				errs = append(errs, fmt.Errorf("%w: line %d: %q", ErrMalformedHunk, lineNo, line))
				continue
			}
			start, err := strconv.ParseInt(m[1], 10, 32)
			count := int64(1)
			if err == nil && m[2] != "" {
				count, err = strconv.ParseInt(m[2], 10, 32)
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: line %d: %q", ErrMalformedHunk, lineNo, line))
				continue
			}
			c.addRange(file, start, count)
		}
	}
	return c, errs
}

// targetPath strips the "b/" prefix from an added-side file name. Deleted
// files (/dev/null) have no target, and neither do paths that escape the
// repository root.
func targetPath(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" || name == devNull {
		return "", false
	}
	name = path.Clean(strings.TrimPrefix(name, "b/"))
	if name == "." || name == ".." || path.IsAbs(name) || strings.HasPrefix(name, "../") {
		return "", false
	}
	return name, true
}

// Mapper maps diffs against the files under a repository root.
type Mapper struct {
	root   string
	logger *slog.Logger
}

// Option configures a Mapper.
type Option func(*Mapper)

// WithLogger sets the logger for skipped hunks and files.
func WithLogger(l *slog.Logger) Option {
	return func(m *Mapper) {
		m.logger = l
	}
}

// New returns a Mapper for the repository at root.
func New(root string, opts ...Option) *Mapper {
	m := &Mapper{root: root, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Map returns the sorted identifiers of every symbol whose span contains a
// changed line. Files are parsed from disk as they are now. Missing,
// unparseable, and non-Python files contribute nothing.
func (m *Mapper) Map(ctx context.Context, diffText string) ([]string, error) {
	changes, errs := Parse(diffText)
	for _, err := range errs {
		m.logger.Warn("skipping hunk", "err", err)
	}

	seen := make(map[string]bool)
	var ids []string
	for _, file := range changes.Files() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, ok := syntax.LanguageForFile(file); !ok {
			m.logger.Debug("skipping non-python file", "path", file)
			continue
		}
		tbl, err := syntax.IndexFile(ctx, m.root, file)
		if err != nil {
			m.logger.Warn("skipping changed file", "path", file, "err", err)
			continue
		}
		for _, s := range tbl.SpansOverlapping(changes[file]) {
			id := store.MakeIdentifier(file, s.QualifiedName)
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// MapDiff is a convenience wrapper around New(root).Map.
func MapDiff(ctx context.Context, diffText, root string) ([]string, error) {
	return New(root).Map(ctx, diffText)
}
