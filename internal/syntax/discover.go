package syntax

import (
	"bytes"
	"fmt"
	"io/fs"
	"os/exec"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// skipDirs are excluded from the filesystem walk.
var skipDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
}

// ListFiles returns the Python source files under root as sorted,
// slash-separated relative paths. Inside a git work tree it uses git
// ls-files so .gitignore is respected; otherwise, or when git lists
// nothing (root is itself ignored), it walks the filesystem, skipping
// hidden directories, node_modules, vendor and __pycache__.
// Files whose base name starts with "test" are excluded.
func ListFiles(root string) ([]string, error) {
	paths, err := gitListFiles(root)
	if err != nil || len(paths) == 0 {
		paths, err = walkListFiles(root)
		if err != nil {
			return nil, err
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Indexable reports whether a relative path names a source file the index
// accepts.
func Indexable(rel string) bool {
	if _, ok := LanguageForFile(rel); !ok {
		return false
	}
	return !strings.HasPrefix(path.Base(filepath.ToSlash(rel)), "test")
}

func gitListFiles(root string) ([]string, error) {
	// --cached: tracked files, --others: untracked files,
	// --exclude-standard: respect .gitignore, .git/info/exclude, global excludes.
	cmd := exec.Command("git", "ls-files", "--cached", "--others", "--exclude-standard")
	cmd.Dir = root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git ls-files: %w", err)
	}

	var paths []string
	for _, line := range strings.Split(stdout.String(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !Indexable(line) {
			continue
		}
		paths = append(paths, line)
	}
	return paths, nil
}

func walkListFiles(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if p != root && (strings.HasPrefix(name, ".") || skipDirs[name]) {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if Indexable(rel) {
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory: %w", err)
	}
	return paths, nil
}
