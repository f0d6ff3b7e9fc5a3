// Package options defines the generic options interface and common utilities.
package options

import (
	"strings"

	"github.com/spf13/pflag"
)

// Join concatenates prefixes with "." separator.
// A non-empty result carries a trailing ".", so Join("kb")+"mongodb.uri" reads "kb.mongodb.uri".
func Join(prefixes ...string) string {
	joined := strings.Join(prefixes, ".")
	if joined != "" {
		joined += "."
	}
	return joined
}

// IOptions is implemented by every option group bound to the command line.
type IOptions interface {
	// Validate checks the options and may fill derived defaults.
	Validate() []error

	// AddFlags binds the options to fs, namespaced by prefixes.
	AddFlags(fs *pflag.FlagSet, prefixes ...string)
}

// Redact masks a secret for logs; empty stays empty.
func Redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "[REDACTED]"
}
