package config

import (
	"os"
	"sort"
	"strings"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/logger"
)

// EnvironmentExpander expands environment placeholders in raw configuration bytes.
type EnvironmentExpander interface {
	// Expand replaces ${VAR}, $VAR and ${VAR:-default} placeholders in input.
	Expand(input []byte) ([]byte, error)
}

// OsEnvironmentExpander resolves placeholders from the process environment.
// An unset variable without a default expands to the empty string and is logged.
type OsEnvironmentExpander struct {
	lookup func(string) (string, bool)
}

// NewOsEnvironmentExpander creates an expander backed by os.LookupEnv.
func NewOsEnvironmentExpander() *OsEnvironmentExpander {
	return &OsEnvironmentExpander{lookup: os.LookupEnv}
}

// Expand implements EnvironmentExpander.
func (e *OsEnvironmentExpander) Expand(input []byte) ([]byte, error) {
	missing := map[string]struct{}{}
	out := os.Expand(string(input), func(key string) string {
		name, def, hasDefault := strings.Cut(key, ":-")
		if v, ok := e.lookup(name); ok && v != "" {
			return v
		}
		if hasDefault {
			return def
		}
		missing[name] = struct{}{}
		return ""
	})
	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for name := range missing {
			names = append(names, name)
		}
		sort.Strings(names)
		logger.Warnf("Configuration references unset environment variables: %s", strings.Join(names, ", "))
	}
	return []byte(out), nil
}
