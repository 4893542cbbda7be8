package hdf5

import (
	"fmt"
	"strings"
)

// ParseAttrPath splits a path whose last component names an attribute.
// The attribute component starts with '@':
//
//   - "/@title" -> objectPath="/", attrName="title"
//   - "/gt1l/h_li/@units" -> objectPath="/gt1l/h_li", attrName="units"
//
// ok is false when the last component is not an attribute.
func ParseAttrPath(p string) (objectPath, attrName string, ok bool, err error) {
	p = CleanPath(p)
	i := strings.LastIndexByte(p, '/')
	last := p[i+1:]
	if !strings.HasPrefix(last, "@") {
		return p, "", false, nil
	}
	attrName = last[1:]
	if attrName == "" {
		return "", "", false, fmt.Errorf("empty attribute name in %q: %w", p, ErrPathNotFound)
	}
	objectPath = CleanPath(p[:i])
	if strings.Contains(objectPath, "/@") {
		return "", "", false, fmt.Errorf("attribute of attribute in %q: %w", p, ErrPathNotFound)
	}
	return objectPath, attrName, true, nil
}

// JoinAttrPath creates an attribute path from object path and attribute name.
func JoinAttrPath(objectPath, attrName string) string {
	objectPath = CleanPath(objectPath)
	if objectPath == "/" {
		return "/@" + attrName
	}
	return objectPath + "/@" + attrName
}

// SplitPath splits a path into its components.
// Leading and trailing slashes are handled, empty components are removed.
//
// Examples:
//   - "/" -> []string{}
//   - "/foo" -> []string{"foo"}
//   - "/foo//bar/" -> []string{"foo", "bar"}
func SplitPath(p string) []string {
	out := []string{}
	for _, part := range strings.Split(p, "/") {
		if part != "" && part != "." {
			out = append(out, part)
		}
	}
	return out
}

// CleanPath normalizes a path so that it starts with "/" and has no empty
// components or trailing slash.
func CleanPath(p string) string {
	return "/" + strings.Join(SplitPath(p), "/")
}
