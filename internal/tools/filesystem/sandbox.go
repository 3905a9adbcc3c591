package filesystem

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EscapeError reports a path argument whose canonical form leaves the
// workspace root.
type EscapeError struct {
	Path string
}

func (e *EscapeError) Error() string {
	return fmt.Sprintf("path %q resolves outside the workspace", e.Path)
}

// Sandbox confines file-tool path arguments to a workspace root.
// Relative arguments resolve against the root; absolute arguments must
// already lie under it.
type Sandbox struct {
	root string
}

// NewSandbox creates a sandbox rooted at dir, creating it if absent.
func NewSandbox(dir string) (*Sandbox, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("creating workspace root: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root: %w", err)
	}
	return &Sandbox{root: resolved}, nil
}

// Root returns the canonical workspace root.
func (s *Sandbox) Root() string { return s.root }

// Resolve canonicalises a path argument, following symlinks, and
// rejects anything whose canonical form escapes the root. The returned
// path is the canonical one, so tools never operate through a symlink
// that points elsewhere.
func (s *Sandbox) Resolve(path string) (string, error) {
	p := path
	if !filepath.IsAbs(p) {
		p = filepath.Join(s.root, p)
	}
	p = filepath.Clean(p)

	resolved, err := canonicalise(p)
	if err != nil {
		return "", &EscapeError{Path: path}
	}

	rel, err := filepath.Rel(s.root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &EscapeError{Path: path}
	}
	return resolved, nil
}

// maxLinkHops bounds manual symlink traversal in canonicalise.
const maxLinkHops = 40

// canonicalise resolves every symlink in p. Components that do not
// exist yet (a file about to be written) are tolerated by resolving
// the nearest existing ancestor and re-appending the remainder. A
// dangling symlink still redirects writes, so it is followed manually
// rather than treated as a missing file.
func canonicalise(p string) (string, error) {
	var suffix string
	cur := p
	for hops := 0; hops < maxLinkHops; hops++ {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			return filepath.Join(resolved, suffix), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}

		if fi, lerr := os.Lstat(cur); lerr == nil && fi.Mode()&os.ModeSymlink != 0 {
			target, rerr := os.Readlink(cur)
			if rerr != nil {
				return "", rerr
			}
			if !filepath.IsAbs(target) {
				target = filepath.Join(filepath.Dir(cur), target)
			}
			cur = filepath.Clean(target)
			continue
		}

		parent := filepath.Dir(cur)
		if parent == cur {
			return "", err
		}
		suffix = filepath.Join(filepath.Base(cur), suffix)
		cur = parent
	}
	return "", fmt.Errorf("too many symlinks resolving %q", p)
}

// FS abstracts the filesystem operations the tools perform, so tests
// can substitute failures.
type FS interface {
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data []byte, perm os.FileMode) error
	MkdirAll(path string, perm os.FileMode) error
	Remove(name string) error
	ReadDir(name string) ([]os.DirEntry, error)
	Stat(name string) (os.FileInfo, error)
}

type osFS struct{}

func (osFS) ReadFile(name string) ([]byte, error) { return os.ReadFile(name) }
func (osFS) WriteFile(name string, data []byte, perm os.FileMode) error {
	return os.WriteFile(name, data, perm)
}
func (osFS) MkdirAll(path string, perm os.FileMode) error { return os.MkdirAll(path, perm) }
func (osFS) Remove(name string) error                     { return os.Remove(name) }
func (osFS) ReadDir(name string) ([]os.DirEntry, error)   { return os.ReadDir(name) }
func (osFS) Stat(name string) (os.FileInfo, error)        { return os.Stat(name) }
