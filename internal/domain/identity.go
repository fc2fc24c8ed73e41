package domain

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeIdentity canonicalises an identity key (an email address). An empty result means anonymous.
func NormalizeIdentity(identity string) string {
	identity = strings.TrimSpace(norm.NFKC.String(identity))
	return strings.ToLower(identity)
}
