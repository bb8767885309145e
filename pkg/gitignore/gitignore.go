// Package gitignore resolves chains of ignore files.
//
// Rules from a directory's ignore file apply to paths below that directory and
// take precedence over rules inherited from its parents. Pattern syntax and
// matching come from go-git's gitignore implementation.
package gitignore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	gogitignore "github.com/go-git/go-git/v5/plumbing/format/gitignore"

	"github.com/paulschiretz/pgl-workingcopy/pkg/repopath"
)

// FileName is the name of the per-directory ignore file.
const FileName = ".gitignore"

// File is an immutable chain of ignore rules.
type File struct {
	patterns []gogitignore.Pattern
	matcher  gogitignore.Matcher
}

// Empty returns a chain without rules.
func Empty() *File {
	return &File{matcher: gogitignore.NewMatcher(nil)}
}

// Chain returns a new chain with the rules in content appended. The rules
// apply to paths below dir.
func (f *File) Chain(dir repopath.Path, content []byte) *File {
	domain := dir.Components()
	var added []gogitignore.Pattern
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		added = append(added, gogitignore.ParsePattern(line, domain))
	}
	if len(added) == 0 {
		return f
	}
	patterns := make([]gogitignore.Pattern, 0, len(f.patterns)+len(added))
	patterns = append(patterns, f.patterns...)
	patterns = append(patterns, added...)
	return &File{patterns: patterns, matcher: gogitignore.NewMatcher(patterns)}
}

// ChainWithFile reads the ignore file at fsPath, if any, and chains its rules
// for paths below dir.
func (f *File) ChainWithFile(dir repopath.Path, fsPath string) (*File, error) {
	content, err := os.ReadFile(fsPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrInvalid) {
			return f, nil
		}
		// A directory named like an ignore file is not an ignore file.
		if info, statErr := os.Stat(fsPath); statErr == nil && info.IsDir() {
			return f, nil
		}
		return nil, fmt.Errorf("failed to read ignore file %s: %w", fsPath, err)
	}
	return f.Chain(dir, content), nil
}

// Matches reports whether p is ignored. Rules naming a directory also ignore
// everything below it.
func (f *File) Matches(p repopath.Path, isDir bool) bool {
	if len(f.patterns) == 0 || p.IsRoot() {
		return false
	}
	return f.matcher.Match(p.Components(), isDir)
}

// IsEmpty reports whether the chain has no rules.
func (f *File) IsEmpty() bool { return len(f.patterns) == 0 }
