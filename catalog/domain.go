package catalog

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"netmonitor/errkind"
)

// Normalize canonicalizes a hostname: lowercase, surrounding whitespace
// trimmed, at most one trailing dot removed. Normalize is idempotent:
// Normalize(Normalize(x)) == Normalize(x) for every accepted x.
func Normalize(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	s = strings.ToLower(s)
	s = strings.TrimSuffix(s, ".")

	if s == "" {
		return "", fmt.Errorf("%w: empty domain", errkind.ErrValidation)
	}
	for _, r := range s {
		if r == '/' || r == ':' || unicode.IsSpace(r) || unicode.IsControl(r) {
			return "", fmt.Errorf("%w: domain %q contains forbidden character", errkind.ErrValidation, raw)
		}
	}
	return s, nil
}

// Parent derives the registrable parent of a normalized fqdn by keeping its
// last two labels. Hosts with two or fewer labels, and IPv4 literals, are
// their own parent. The two-label heuristic misfiles multi-label public
// suffixes (bbc.co.uk files under co.uk); grouping stays consistent because
// the same rule is applied everywhere.
func Parent(fqdn string) string {
	if isIPv4(fqdn) {
		return fqdn
	}
	labels := strings.Split(fqdn, ".")
	if len(labels) <= 2 {
		return fqdn
	}
	return strings.Join(labels[len(labels)-2:], ".")
}

func isIPv4(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 || (len(p) > 1 && p[0] == '0') {
			return false
		}
	}
	return true
}
