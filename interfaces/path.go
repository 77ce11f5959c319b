package interfaces

import (
	"sort"
	"strings"
)

// PathSeparator is the canonical separator of StoragePath on every backend.
const PathSeparator = "/"

// StoragePath is a backend-agnostic, repository-relative location. It is kept in
// canonical form (forward slashes, no empty, "." or ".." segments), so two paths
// are equal with == exactly when their segment sequences are equal.
// The zero value is the repository root.
type StoragePath struct {
	p string
}

// RootPath is the repository root.
var RootPath = StoragePath{}

// ParsePath converts a raw path into canonical form. Backslashes are treated as
// separators, empty and "." segments are dropped. Any ".." segment is rejected
// with ErrInvalidPath instead of being resolved, so a parsed path can never
// point outside the repository root.
func ParsePath(raw string) (StoragePath, error) {
	raw = strings.ReplaceAll(raw, "\\", PathSeparator)
	segments := make([]string, 0, strings.Count(raw, PathSeparator)+1)
	for _, segment := range strings.Split(raw, PathSeparator) {
		switch segment {
		case "", ".":
			continue
		case "..":
			return StoragePath{}, InvalidPath("path traversal is not allowed: %q", raw)
		}
		if strings.ContainsRune(segment, 0) {
			return StoragePath{}, InvalidPath("path contains a NUL byte")
		}
		segments = append(segments, segment)
	}
	return StoragePath{p: strings.Join(segments, PathSeparator)}, nil
}

// MustParsePath is ParsePath for constants and tests. It panics on invalid input.
func MustParsePath(raw string) StoragePath {
	p, err := ParsePath(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// PathFromSegments builds a path from already split segments, validating each of them.
func PathFromSegments(segments ...string) (StoragePath, error) {
	for _, segment := range segments {
		if segment == "" || segment == "." || segment == ".." || strings.ContainsAny(segment, "/\\") {
			return StoragePath{}, InvalidPath("invalid path segment %q", segment)
		}
	}
	return StoragePath{p: strings.Join(segments, PathSeparator)}, nil
}

// String returns the canonical forward-slash form. The root is "".
func (p StoragePath) String() string {
	return p.p
}

// IsRoot reports whether p is the repository root.
func (p StoragePath) IsRoot() bool {
	return p.p == ""
}

// Segments returns the path segments. The root has none.
func (p StoragePath) Segments() []string {
	if p.IsRoot() {
		return nil
	}
	return strings.Split(p.p, PathSeparator)
}

// Len returns the number of segments.
func (p StoragePath) Len() int {
	if p.IsRoot() {
		return 0
	}
	return strings.Count(p.p, PathSeparator) + 1
}

// Name returns the last segment, or "" for the root.
func (p StoragePath) Name() string {
	i := strings.LastIndex(p.p, PathSeparator)
	return p.p[i+1:]
}

// Parent returns the enclosing directory. The parent of the root is the root.
func (p StoragePath) Parent() StoragePath {
	i := strings.LastIndex(p.p, PathSeparator)
	if i < 0 {
		return RootPath
	}
	return StoragePath{p: p.p[:i]}
}

// Join appends child to p. The child is parsed with ParsePath, so traversal
// segments are rejected.
func (p StoragePath) Join(child string) (StoragePath, error) {
	c, err := ParsePath(child)
	if err != nil {
		return StoragePath{}, err
	}
	return p.Resolve(c), nil
}

// Resolve appends an already canonical path to p.
func (p StoragePath) Resolve(child StoragePath) StoragePath {
	switch {
	case child.IsRoot():
		return p
	case p.IsRoot():
		return child
	}
	return StoragePath{p: p.p + PathSeparator + child.p}
}

// Sibling returns the path named name in the same directory as p.
func (p StoragePath) Sibling(name string) (StoragePath, error) {
	return p.Parent().Join(name)
}

// HasPrefix reports whether p equals dir or lies below it.
func (p StoragePath) HasPrefix(dir StoragePath) bool {
	if dir.IsRoot() || p == dir {
		return true
	}
	return strings.HasPrefix(p.p, dir.p+PathSeparator)
}

// Rel returns p relative to dir. ok is false when p is not below dir.
func (p StoragePath) Rel(dir StoragePath) (rel StoragePath, ok bool) {
	if !p.HasPrefix(dir) {
		return StoragePath{}, false
	}
	if dir.IsRoot() {
		return p, true
	}
	if p == dir {
		return RootPath, true
	}
	return StoragePath{p: p.p[len(dir.p)+1:]}, true
}

// First returns the first segment as a single-segment path.
func (p StoragePath) First() StoragePath {
	if i := strings.Index(p.p, PathSeparator); i >= 0 {
		return StoragePath{p: p.p[:i]}
	}
	return p
}

// ImmediateChildren reduces a listing that may contain deeper descendants (as
// returned by flat object stores) to the distinct first segments, sorted.
func ImmediateChildren(entries []StoragePath) []StoragePath {
	seen := make(map[StoragePath]struct{}, len(entries))
	children := make([]StoragePath, 0, len(entries))
	for _, entry := range entries {
		if entry.IsRoot() {
			continue
		}
		first := entry.First()
		if _, ok := seen[first]; ok {
			continue
		}
		seen[first] = struct{}{}
		children = append(children, first)
	}
	SortPaths(children)
	return children
}

// SortPaths sorts paths by their canonical form.
func SortPaths(paths []StoragePath) {
	sort.Slice(paths, func(i, j int) bool { return paths[i].p < paths[j].p })
}

// MarshalText implements encoding.TextMarshaler.
func (p StoragePath) MarshalText() ([]byte, error) {
	return []byte(p.p), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *StoragePath) UnmarshalText(text []byte) error {
	parsed, err := ParsePath(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
