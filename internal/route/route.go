package route

import (
	"fmt"
	"strings"
)

// Wildcard is the trailing marker meaning "this prefix and everything after".
const Wildcard = "*"

type Kind int

const (
	Forward Kind = iota
	Static
)

func (k Kind) String() string {
	switch k {
	case Forward:
		return "dynamic"
	case Static:
		return "static"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind maps a configured route type to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "dynamic":
		return Forward, nil
	case "static":
		return Static, nil
	default:
		return Forward, fmt.Errorf("unknown route type: %q", s)
	}
}

// RouteConfig is a single configured route. It is never mutated after the
// table is built.
type RouteConfig struct {
	From   string
	To     string
	Kind   Kind
	Secure bool
}

// Prefix returns From with the trailing wildcard marker removed.
func (rc *RouteConfig) Prefix() string {
	return strings.TrimSuffix(rc.From, Wildcard)
}

// Matches reports whether path is routed by rc. Plain and wildcard patterns
// both match any path starting with the literal prefix, which is exactly the
// part LocalTarget strips.
func (rc *RouteConfig) Matches(path string) bool {
	return strings.HasPrefix(path, rc.Prefix())
}

// LocalTarget strips exactly len(Prefix()) bytes from the front of path.
// Plain patterns strip the same way, so they route subpaths too.
func (rc *RouteConfig) LocalTarget(path string) string {
	prefix := rc.Prefix()
	if len(path) < len(prefix) {
		return ""
	}
	return path[len(prefix):]
}

func (rc *RouteConfig) String() string {
	return fmt.Sprintf("%s %s -> %s (secure=%t)", rc.Kind, rc.From, rc.To, rc.Secure)
}
