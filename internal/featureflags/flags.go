package featureflags

import (
	"os"
	"strings"
)

// ForceSignOffDay treats every day as the sign-off day. Used by end-to-end tests.
const ForceSignOffDay = "force_signoff_day"

// Lookup reports whether a named flag is on
type Lookup func(name string) bool

// Enabled returns true if a flag is enabled via environment variable.
// Flags are read from env as FLAG_<NAME>=true/1/yes (case-insensitive)
func Enabled(name string) bool {
	v := os.Getenv("FLAG_" + strings.ToUpper(name))
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Static returns a Lookup with the given flags switched on
func Static(names ...string) Lookup {
	on := make(map[string]bool, len(names))
	for _, n := range names {
		on[n] = true
	}
	return func(name string) bool { return on[name] }
}
