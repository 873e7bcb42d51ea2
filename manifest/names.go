package manifest

import (
	"fmt"
	"strings"
)

// reservedNames cannot be used as executor names: they would read as
// manifest sections or CLI subcommands in logs.
var reservedNames = map[string]bool{
	"swarm":     true,
	"defaults":  true,
	"executors": true,
	"runtime":   true,
}

// CheckName reports whether name is usable as an executor name: non-empty,
// lower case letters, digits, '-' and '_', starting with a letter.
func CheckName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty executor name", ErrInvalid)
	}
	if reservedNames[strings.ToLower(name)] {
		return fmt.Errorf("%w: executor name %q is reserved", ErrInvalid, name)
	}
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case i > 0 && (r >= '0' && r <= '9' || r == '-' || r == '_'):
		default:
			return fmt.Errorf("%w: executor name %q: unexpected %q", ErrInvalid, name, r)
		}
	}
	return nil
}
