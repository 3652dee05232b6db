// Package pathutil provides POSIX path helpers shared by both execution
// backends. The remote sandbox always uses forward slashes regardless of the
// host OS, so these functions never consult path/filepath.
package pathutil

import (
	"path"
	"strings"
)

// Clean normalizes p lexically. An empty path becomes ".".
func Clean(p string) string {
	return path.Clean(p)
}

// Join joins elements with "/" and cleans the result.
func Join(elem ...string) string {
	return path.Join(elem...)
}

// Dirname returns all but the last element of p. Dirname("a") is ".",
// Dirname("/a") is "/".
func Dirname(p string) string {
	return path.Dir(p)
}

// Basename returns the last element of p, optionally stripping ext when p
// ends with it.
func Basename(p string, ext ...string) string {
	base := path.Base(p)
	if len(ext) > 0 && ext[0] != "" && base != ext[0] {
		base = strings.TrimSuffix(base, ext[0])
	}
	return base
}

// Ext returns the extension of the last element, including the dot.
func Ext(p string) string {
	return path.Ext(p)
}

// IsAbs reports whether p is absolute.
func IsAbs(p string) bool {
	return strings.HasPrefix(p, "/")
}

// Resolve resolves p against base. Absolute p is returned cleaned.
func Resolve(base, p string) string {
	if IsAbs(p) {
		return path.Clean(p)
	}
	return path.Join(base, p)
}

// Relative returns the path of to relative to from, both interpreted
// against the same root. Relative(x, x) is ".". Mixed absolute/relative
// inputs are resolved against "/" first.
func Relative(from, to string) string {
	from = Resolve("/", from)
	to = Resolve("/", to)
	if from == to {
		return "."
	}

	fromParts := split(from)
	toParts := split(to)

	common := 0
	for common < len(fromParts) && common < len(toParts) && fromParts[common] == toParts[common] {
		common++
	}

	parts := make([]string, 0, len(fromParts)-common+len(toParts)-common)
	for i := common; i < len(fromParts); i++ {
		parts = append(parts, "..")
	}
	parts = append(parts, toParts[common:]...)

	return strings.Join(parts, "/")
}

// IsWithin reports whether target is root itself or lies beneath it.
func IsWithin(root, target string) bool {
	rel := Relative(root, target)
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, "../"))
}

// Within resolves p against root and reports whether the result stays inside
// root. The resolved absolute path is returned either way.
func Within(root, p string) (string, bool) {
	resolved := Resolve(root, p)
	return resolved, IsWithin(root, resolved)
}

func split(p string) []string {
	trimmed := strings.Trim(p, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
