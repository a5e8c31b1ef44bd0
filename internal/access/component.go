package access

import "strings"

// Component names a listener as package plus class.
type Component struct {
	Package string
	Class   string
}

// ParseComponent parses the flattened "pkg/cls" form. A class starting with
// "." is relative to the package.
func ParseComponent(s string) (Component, bool) {
	s = strings.TrimSpace(s)
	pkg, cls, ok := strings.Cut(s, "/")
	if !ok || pkg == "" || cls == "" {
		return Component{}, false
	}
	if strings.HasPrefix(cls, ".") {
		cls = pkg + cls
	}
	return Component{Package: pkg, Class: cls}, true
}

func (c Component) Flatten() string { return c.Package + "/" + c.Class }

// JoinListeners renders components in the store's colon-separated form.
// Blank entries are skipped.
func JoinListeners(list []string) string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, ":")
}
