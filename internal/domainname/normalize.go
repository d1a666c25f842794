// Package domainname canonicalizes user-supplied URLs and domains into the key
// used to deduplicate sites and queue items. Normalize is pure: the same input
// always yields the same output.
package domainname

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/idna"
)

const (
	maxDomainLength = 253
	maxLabelLength  = 63
	wwwPrefix       = "www."
)

var (
	ErrEmpty        = errors.New("domain is empty")
	ErrTooLong      = errors.New("domain exceeds 253 characters")
	ErrNoDot        = errors.New("domain must contain at least one dot")
	ErrEmptyLabel   = errors.New("domain contains an empty label")
	ErrLabelTooLong = errors.New("domain label exceeds 63 characters")
	ErrLabelHyphen  = errors.New("domain label starts or ends with a hyphen")
	ErrInvalidChar  = errors.New("domain contains invalid characters")
	ErrIDNA         = errors.New("domain could not be converted to ASCII")
)

// Normalize strips scheme, userinfo, port, path, query and fragment, lowercases
// the host, converts internationalized names to ASCII, removes leading "www."
// and trailing dots, and validates the result.
func Normalize(raw string) (string, error) {
	host := hostSegment(raw)
	host = strings.ToLower(host)
	host = strings.TrimRight(host, ".")

	if host == "" {
		return "", ErrEmpty
	}

	if !isASCII(host) {
		ascii, err := idna.Lookup.ToASCII(host)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrIDNA, err)
		}
		host = strings.ToLower(ascii)
	}

	host = stripWWW(host)
	host = strings.TrimRight(host, ".")

	if err := Validate(host); err != nil {
		return "", err
	}

	return host, nil
}

// Validate checks an already-normalized domain against the hostname rules.
func Validate(domain string) error {
	if domain == "" {
		return ErrEmpty
	}
	if len(domain) > maxDomainLength {
		return ErrTooLong
	}
	if !strings.Contains(domain, ".") {
		return ErrNoDot
	}

	for _, label := range strings.Split(domain, ".") {
		if err := validateLabel(label); err != nil {
			return fmt.Errorf("%w: %q", err, label)
		}
	}

	return nil
}

func validateLabel(label string) error {
	if label == "" {
		return ErrEmptyLabel
	}
	if len(label) > maxLabelLength {
		return ErrLabelTooLong
	}
	if label[0] == '-' || label[len(label)-1] == '-' {
		return ErrLabelHyphen
	}

	for i := 0; i < len(label); i++ {
		c := label[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-':
		default:
			return ErrInvalidChar
		}
	}

	return nil
}

// hostSegment extracts the host portion of a URL-ish string without going
// through net/url, which rejects many inputs users actually paste (bare
// domains with paths, stray spaces, missing schemes).
func hostSegment(raw string) string {
	s := strings.TrimSpace(raw)

	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	} else {
		s = strings.TrimPrefix(s, "//")
	}

	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, "@"); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.LastIndex(s, ":"); i >= 0 {
		s = s[:i]
	}

	return strings.TrimSpace(s)
}

// stripWWW removes "www." prefixes for as long as what remains is still a
// multi-label name, so "www.www.example.com" and "example.com" share a key
// while "www.com" is left alone.
func stripWWW(host string) string {
	for strings.HasPrefix(host, wwwPrefix) && strings.Contains(host[len(wwwPrefix):], ".") {
		host = host[len(wwwPrefix):]
	}
	return host
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
