package security

import "sort"

// DefaultForbiddenModules are top-level modules whose import rejects a snippet.
var DefaultForbiddenModules = []string{
	"os", "sys", "subprocess", "shutil", "socket", "requests", "urllib", "http",
}

// DefaultForbiddenCallables are builtins whose direct call rejects a snippet.
var DefaultForbiddenCallables = []string{
	"eval", "exec", "open", "input", "__import__",
}

// Denylist is an immutable set of names. The zero value denies nothing.
type Denylist struct {
	names map[string]struct{}
}

// NewDenylist copies names into a new set. Empty names are ignored.
func NewDenylist(names []string) Denylist {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		if name == "" {
			continue
		}
		set[name] = struct{}{}
	}
	return Denylist{names: set}
}

// Contains reports whether name is denied.
func (d Denylist) Contains(name string) bool {
	_, ok := d.names[name]
	return ok
}

// Len returns the number of denied names.
func (d Denylist) Len() int {
	return len(d.names)
}

// Names returns a sorted copy of the denied names.
func (d Denylist) Names() []string {
	out := make([]string, 0, len(d.names))
	for name := range d.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
